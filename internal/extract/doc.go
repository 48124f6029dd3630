// Package extract turns fetched pages into candidates, records and contacts.
//
// ListingExtractor and DetailExtractor read business-directory pages with
// goquery selectors. ContactExtractor reads any web page: it strips scripts,
// styles and comments with golang.org/x/net/html and then matches email,
// phone and social-profile patterns against what is left.
//
// Extractors are synchronous and never fetch anything themselves.
package extract
