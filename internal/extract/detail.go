package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/nao1215/bizcrawl/internal/model"
)

// Detail page selectors.
const (
	detailNameSelector       = "h1"
	detailRatingSelector     = `[aria-label*="star rating"]`
	detailReviewsSelector    = `a[href*="#reviews"] span, a[href*="#reviews"]`
	detailPriceSelector      = `[aria-label*="Price range"]`
	detailCategoriesSelector = `[aria-label*="Categories"] a, .categories a`
	detailPhoneSelector      = `a[href^="tel:"]`
	detailAddressSelector    = "address"
	detailWebsiteSelector    = `a[href*="biz_redir"], a:contains("Business website")`
)

// defaultCountry is assumed when a business address is found.
const defaultCountry = "US"

var (
	numberPattern      = regexp.MustCompile(`(\d+\.?\d*)`)
	integerPattern     = regexp.MustCompile(`(\d+)`)
	cityStateZipLine   = regexp.MustCompile(`^(.+?),\s*([A-Z]{2})\s*(\d{5}(?:-\d{4})?)$`)
	cityStateLine      = regexp.MustCompile(`^(.+?),\s*([A-Z]{2})$`)
	redirectURLPattern = regexp.MustCompile(`url=([^&]+)`)
)

// DetailExtractor extracts a business record from a detail page.
type DetailExtractor struct{}

// NewDetailExtractor creates a DetailExtractor.
func NewDetailExtractor() *DetailExtractor {
	return &DetailExtractor{}
}

// ExtractDetail returns the partial record found on a detail page.
// ok is false when the page yields no business name; the page is then
// considered to carry nothing usable.
// The returned record has no id, timestamp or contact sets yet.
func (e *DetailExtractor) ExtractDetail(pageURL string, content []byte) (*model.BusinessRecord, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, false
	}

	name := collapseSpace(doc.Find(detailNameSelector).First().Text())
	if name == "" {
		return nil, false
	}

	rec := &model.BusinessRecord{
		Name:       model.StringPtr(name),
		Categories: model.NewStringSet(),
	}

	if label, ok := doc.Find(detailRatingSelector).First().Attr("aria-label"); ok {
		if m := numberPattern.FindStringSubmatch(label); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 5 {
				rec.Rating = &v
			}
		}
	}

	if text := doc.Find(detailReviewsSelector).First().Text(); text != "" {
		if m := integerPattern.FindStringSubmatch(strings.ReplaceAll(text, ",", "")); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 0 {
				rec.ReviewCount = &v
			}
		}
	}

	rec.PriceLevel = model.StringPtr(collapseSpace(doc.Find(detailPriceSelector).First().Text()))

	doc.Find(detailCategoriesSelector).Each(func(_ int, s *goquery.Selection) {
		rec.Categories.Add(collapseSpace(s.Text()))
	})

	phoneEl := doc.Find(detailPhoneSelector).First()
	phone := collapseSpace(phoneEl.Text())
	if phone == "" {
		if href, ok := phoneEl.Attr("href"); ok {
			phone = strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
		}
	}
	rec.Phone = model.StringPtr(phone)

	if addr := doc.Find(detailAddressSelector).First(); addr.Length() > 0 {
		applyAddress(rec, addressLines(addr))
	}

	if href, ok := doc.Find(detailWebsiteSelector).First().Attr("href"); ok {
		rec.Website = model.StringPtr(websiteFromHref(pageURL, href))
	}

	return rec, true
}

// addressLines splits an <address> element into trimmed, non-empty lines.
// Line breaks come from <br> elements, block children and raw newlines.
func addressLines(addr *goquery.Selection) []string {
	addr = addr.Clone()
	addr.Find("br").Each(func(_ int, br *goquery.Selection) {
		br.ReplaceWithNodes(newline())
	})
	addr.Find("p, div, span").Each(func(_ int, block *goquery.Selection) {
		block.AppendNodes(newline())
	})

	var lines []string
	for _, line := range strings.Split(addr.Text(), "\n") {
		if line = collapseSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func newline() *html.Node {
	return &html.Node{Type: html.TextNode, Data: "\n"}
}

// applyAddress sets the street from the first line and city, region and
// postal code from the last line.
func applyAddress(rec *model.BusinessRecord, lines []string) {
	if len(lines) == 0 {
		return
	}
	rec.Address = model.StringPtr(lines[0])
	rec.Country = model.StringPtr(defaultCountry)

	last := lines[len(lines)-1]
	if m := cityStateZipLine.FindStringSubmatch(last); m != nil {
		rec.City = model.StringPtr(m[1])
		rec.Region = model.StringPtr(m[2])
		rec.PostalCode = model.StringPtr(m[3])
		return
	}
	if m := cityStateLine.FindStringSubmatch(last); m != nil {
		rec.City = model.StringPtr(m[1])
		rec.Region = model.StringPtr(m[2])
	}
}

// websiteFromHref decodes the target of a directory redirect link.
// Links without a url= parameter are used as they are.
func websiteFromHref(pageURL, href string) string {
	target := ""
	if m := redirectURLPattern.FindStringSubmatch(href); m != nil {
		if decoded, err := url.QueryUnescape(m[1]); err == nil {
			target = decoded
		}
	} else if base, err := url.Parse(pageURL); err == nil {
		target = resolve(base, href)
	}

	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	if !strings.HasPrefix(target, "http") {
		target = "https://" + target
	}
	return target
}
