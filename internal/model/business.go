package model

import "time"

// BusinessRecord is the canonical output entity for one discovered business.
//
// A record is created once, when a detail page yields extractable content.
// After that only Emails, PhonesFromWebsite and SocialLinks change, and only
// by union; they never shrink.
type BusinessRecord struct {
	// ID is derived from SourceURL by NewBusinessID. Required and unique.
	ID string `json:"id"`

	// SourceURL is the detail-page URL the record was extracted from.
	SourceURL string `json:"sourceUrl"`

	Name       *string `json:"name,omitempty"`
	Address    *string `json:"address,omitempty"`
	City       *string `json:"city,omitempty"`
	Region     *string `json:"region,omitempty"`
	PostalCode *string `json:"postalCode,omitempty"`
	Country    *string `json:"country,omitempty"`

	// Rating is within [0,5] when present.
	Rating *float64 `json:"rating,omitempty"`

	// ReviewCount is non-negative when present.
	ReviewCount *int `json:"reviewCount,omitempty"`

	PriceLevel *string `json:"priceLevel,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Website    *string `json:"website,omitempty"`

	Categories StringSet `json:"categories"`

	// Enrichment sets, populated by the enrichment phase.
	Emails            StringSet `json:"emails"`
	PhonesFromWebsite StringSet `json:"phonesFromWebsite"`
	SocialLinks       StringSet `json:"socialLinks"`

	ScrapedAt time.Time `json:"scrapedAt"`
}

// DisplayName returns the record name or "" when unset.
func (r *BusinessRecord) DisplayName() string {
	return deref(r.Name)
}

// WebsiteURL returns the record website or "" when unset.
func (r *BusinessRecord) WebsiteURL() string {
	return deref(r.Website)
}

// HasWebsite reports whether the record has a non-empty website.
func (r *BusinessRecord) HasWebsite() bool {
	return r.WebsiteURL() != ""
}

// InitContactSets makes sure every set field is non-nil.
func (r *BusinessRecord) InitContactSets() {
	if r.Categories == nil {
		r.Categories = NewStringSet()
	}
	if r.Emails == nil {
		r.Emails = NewStringSet()
	}
	if r.PhonesFromWebsite == nil {
		r.PhonesFromWebsite = NewStringSet()
	}
	if r.SocialLinks == nil {
		r.SocialLinks = NewStringSet()
	}
}

// Finalize turns an extracted partial record into a record ready for insertion:
// it assigns the id derived from sourceURL, stamps ScrapedAt and initializes
// empty contact sets. Any contact values set by the extractor are discarded.
func (r *BusinessRecord) Finalize(sourceURL string, now time.Time) {
	r.SourceURL = sourceURL
	r.ID = NewBusinessID(sourceURL)
	r.ScrapedAt = now.UTC()
	r.Emails = NewStringSet()
	r.PhonesFromWebsite = NewStringSet()
	r.SocialLinks = NewStringSet()
	r.InitContactSets()
}

// Clone returns a deep copy of the record.
func (r *BusinessRecord) Clone() *BusinessRecord {
	c := *r
	c.Name = cloneString(r.Name)
	c.Address = cloneString(r.Address)
	c.City = cloneString(r.City)
	c.Region = cloneString(r.Region)
	c.PostalCode = cloneString(r.PostalCode)
	c.Country = cloneString(r.Country)
	c.PriceLevel = cloneString(r.PriceLevel)
	c.Phone = cloneString(r.Phone)
	c.Website = cloneString(r.Website)
	if r.Rating != nil {
		v := *r.Rating
		c.Rating = &v
	}
	if r.ReviewCount != nil {
		v := *r.ReviewCount
		c.ReviewCount = &v
	}
	c.Categories = r.Categories.Clone()
	c.Emails = r.Emails.Clone()
	c.PhonesFromWebsite = r.PhonesFromWebsite.Clone()
	c.SocialLinks = r.SocialLinks.Clone()
	return &c
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ContactFragment is the contact information harvested from one enrichment page.
// It is never persisted on its own; the merger folds it into a record.
type ContactFragment struct {
	Emails      StringSet `json:"emails"`
	Phones      StringSet `json:"phones"`
	SocialLinks StringSet `json:"socialLinks"`
}

// NewContactFragment creates an empty fragment.
func NewContactFragment() ContactFragment {
	return ContactFragment{
		Emails:      NewStringSet(),
		Phones:      NewStringSet(),
		SocialLinks: NewStringSet(),
	}
}

// IsEmpty reports whether the fragment carries no contacts.
func (f ContactFragment) IsEmpty() bool {
	return f.Emails.Len() == 0 && f.Phones.Len() == 0 && f.SocialLinks.Len() == 0
}
