// Package frontier provides the deduplicated, kind-tagged work queue that
// drives traversal in each crawl phase.
//
// A Frontier hands items out FIFO per Kind and interleaves kinds by weight
// (SEARCH and DETAIL share workers according to the configured ratio).
// It owns the seen-URL set and the DETAIL counter of a run; both are updated
// under a single mutex so concurrent workers can neither double-enqueue a URL
// nor overshoot the result cap.
package frontier
