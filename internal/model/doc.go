// Package model defines the core data structures shared by the crawl pipeline.
//
// This package contains the following main types:
//   - WorkItem: one queued fetch target tagged with its Kind
//   - BusinessRecord: the canonical persisted entity for one business
//   - ContactFragment: the contacts harvested from one enrichment page
//   - Classification: the taxonomy assigned to one fetch outcome
//   - RunReport: counters and terminal failures for a whole run
//
// The frontier, engine, extractors, merger and sinks all import these types,
// so they live in their own package to avoid import cycles.
package model
