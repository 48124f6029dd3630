// Package fetcher loads pages for the crawl engine.
//
// PageFetcher is the contract the engine depends on. HTTPFetcher is the
// bundled implementation: a net/http client with a navigation timeout (time
// to response headers), an overall request timeout, a politeness rate limit
// and the stealth parameters of a NavPolicy applied to every request.
//
// The engine never inspects a NavPolicy; it only passes it through.
package fetcher
