// Package pipeline runs the phases of a bizcrawl run in order.
//
// A Pipeline executes Steps sequentially over one model.RunReport. The
// crawl command wires a DiscoveryStep followed by an EnrichmentStep; the
// enrich command wires the EnrichmentStep alone. Each step builds its own
// frontier and crawler.Engine, so the phases never share queued work.
//
// A step error halts the pipeline. Stop halts the running step gracefully
// and skips the remaining ones; the report keeps everything recorded so far.
package pipeline
