// Package database provides the record stores of bizcrawl.
//
// Three stores satisfy the crawler's Sink contract:
//   - BusinessDB keeps records in a SQLite file (modernc.org/sqlite, no cgo)
//     and also stores the report of every run
//   - RedisSink keeps records as JSON values in Redis
//   - MemorySink keeps records in a map, for tests and throwaway runs
//
// Every store treats the record id as the key: UpsertNew refuses an id that
// already exists, and Save overwrites the record with the same id.
package database
