// Package main provides the entry point for the bizcrawl CLI.
//
// bizcrawl discovers businesses on a paginated directory site, stores one
// record per business and enriches the records with contact details found
// on each business website.
//
// Usage:
//
//	bizcrawl crawl --search "coffee" --location "Austin, TX"
//	bizcrawl crawl https://www.yelp.com/search?find_desc=plumber&find_loc=Denver
//	bizcrawl enrich
//	bizcrawl export --json
//
// See --help for all available options.
package main

// main is the entry point for bizcrawl.
func main() {
	Execute()
}
