package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/net/html"

	"github.com/nao1215/bizcrawl/internal/model"
)

// DefaultPhoneRegion is used to parse numbers written without a country code.
const DefaultPhoneRegion = "US"

// minPhoneDigits drops matches too short to be a full number.
const minPhoneDigits = 10

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)

	// socialPatterns match profile links of the supported networks.
	socialPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?\bfacebook\.com/[A-Za-z0-9.]+`),
		regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?\binstagram\.com/[A-Za-z0-9._]+`),
		regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?\b(?:twitter|x)\.com/[A-Za-z0-9_]+`),
		regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?\blinkedin\.com/(?:company|in)/[A-Za-z0-9-]+`),
		regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?\byoutube\.com/(?:channel|user|c)/[A-Za-z0-9_-]+`),
		regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?\btiktok\.com/@[A-Za-z0-9._]+`),
	}

	// assetSuffixes mark email-looking matches that are really file names,
	// such as logo@2x.png.
	assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}
)

// ContactExtractor harvests emails, phones and social links from web pages.
type ContactExtractor struct {
	region string
}

// NewContactExtractor creates a ContactExtractor parsing local phone numbers
// in region. An empty region means DefaultPhoneRegion.
func NewContactExtractor(region string) *ContactExtractor {
	if region == "" {
		region = DefaultPhoneRegion
	}
	return &ContactExtractor{region: strings.ToUpper(region)}
}

// ExtractContacts returns the contacts found in content.
func (e *ContactExtractor) ExtractContacts(content []byte) model.ContactFragment {
	fragment := model.NewContactFragment()
	clean := stripNonContent(content)

	for _, m := range emailPattern.FindAllString(clean, -1) {
		if isAssetName(m) {
			continue
		}
		fragment.Emails.Add(strings.ToLower(m))
	}

	for _, m := range phonePattern.FindAllString(clean, -1) {
		if phone := e.normalizePhone(m); phone != "" {
			fragment.Phones.Add(phone)
		}
	}

	for _, pattern := range socialPatterns {
		for _, m := range pattern.FindAllString(clean, -1) {
			if !strings.HasPrefix(strings.ToLower(m), "http") {
				m = "https://" + m
			}
			fragment.SocialLinks.Add(m)
		}
	}
	return fragment
}

// normalizePhone formats a matched number as E.164.
// Numbers the phone library cannot place fall back to digits with a +1
// prefix for leading 1s; anything shorter than ten digits is dropped.
func (e *ContactExtractor) normalizePhone(raw string) string {
	if num, err := phonenumbers.Parse(raw, e.region); err == nil && phonenumbers.IsPossibleNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164)
	}

	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "1") {
		digits = "+" + digits
	}
	if len(digits) < minPhoneDigits {
		return ""
	}
	return digits
}

func isAssetName(s string) bool {
	lower := strings.ToLower(s)
	if strings.Contains(lower, "@2x") || strings.Contains(lower, "@3x") {
		return true
	}
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// stripNonContent renders content back to HTML without script, style,
// noscript and comment nodes. Attribute values such as hrefs are kept, so
// mailto: and profile links remain matchable.
func stripNonContent(content []byte) string {
	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return string(content)
	}
	removeNonContent(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return string(content)
	}
	return html.UnescapeString(buf.String())
}

func removeNonContent(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.CommentNode:
			n.RemoveChild(c)
		case c.Type == html.ElementNode && (c.Data == "script" || c.Data == "style" || c.Data == "noscript"):
			n.RemoveChild(c)
		default:
			removeNonContent(c)
		}
		c = next
	}
}
