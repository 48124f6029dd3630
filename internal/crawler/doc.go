// Package crawler drives the two crawl phases over a frontier.
//
// # Architecture
//
// The Engine runs a fixed pool of workers against one frontier per phase.
// Each worker dequeues a WorkItem, fetches it with the configured NavPolicy,
// classifies the outcome and then either hands the page to the phase, drops
// it, or schedules a retry with backoff through the frontier.
//
// # Phases
//
//   - Discovery: SEARCH pages yield DETAIL items and the next search page;
//     DETAIL pages yield BusinessRecords inserted into the Sink.
//   - Enrichment: every stored record with a website gets an ENRICH_HOME
//     item; homepages spawn ENRICH_PATH items for the configured contact
//     paths; contacts found on either are merged into the record.
//
// # Failure containment
//
// Fetch, classification and extraction failures stay within their item and
// end as a counted terminal failure or an extraction miss. Only a FatalError
// returned by a phase (for instance an unavailable Sink) stops the run.
//
// # Usage
//
//	engine := crawler.NewEngine(httpFetcher, crawler.WithConcurrency(3))
//	discovery := crawler.NewDiscovery(sink)
//	err := engine.Run(ctx, frontier.New(), discovery, discovery.Seeds(urls))
package crawler
