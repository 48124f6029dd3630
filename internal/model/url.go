package model

import (
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// businessIDPrefix marks ids derived from detail URLs.
const businessIDPrefix = "biz_"

// trackingParams are query parameters dropped during normalization.
// They carry analytics state and never change page content.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"msclkid":      {},
}

// NormalizeURL returns the deduplication key of a URL.
// The key is case-insensitive and trailing-slash-insensitive: the whole URL
// is lower-cased, the fragment and tracking parameters are removed, the query
// is sorted and any trailing slash on the path is trimmed.
// Unparseable input is lower-cased and trimmed so it still dedups against itself.
func NormalizeURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil {
		return strings.TrimRight(strings.ToLower(trimmed), "/")
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(strings.ToLower(u.Path), "/")
	u.RawPath = ""

	if u.RawQuery != "" {
		u.RawQuery = cleanQuery(u.Query())
	}

	return strings.ToLower(u.String())
}

// cleanQuery drops tracking parameters and encodes the rest in sorted order.
func cleanQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if _, tracked := trackingParams[strings.ToLower(k)]; tracked {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	clean := make(url.Values, len(keys))
	for _, k := range keys {
		values := append([]string(nil), q[k]...)
		sort.Strings(values)
		clean[k] = values
	}
	return clean.Encode()
}

// NewBusinessID derives the stable record id from a detail-page URL.
// It is a pure function of NormalizeURL(detailURL), so the same URL always
// yields the same id and re-runs update rather than duplicate records.
func NewBusinessID(detailURL string) string {
	sum := sha3.Sum256([]byte(NormalizeURL(detailURL)))
	return businessIDPrefix + hex.EncodeToString(sum[:16])
}

// Origin returns scheme://host of rawURL.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", &url.Error{Op: "origin", URL: rawURL, Err: ErrNotAbsoluteURL}
	}
	return u.Scheme + "://" + u.Host, nil
}
