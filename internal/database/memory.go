package database

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nao1215/bizcrawl/internal/model"
)

// MemorySink keeps records in memory. Records are copied on the way in and
// out, so callers never share state with the store.
type MemorySink struct {
	mu      sync.RWMutex
	records map[string]*model.BusinessRecord

	// writes counts UpsertNew and Save calls that changed the store.
	writes int
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string]*model.BusinessRecord)}
}

// UpsertNew implements crawler.Sink.
func (s *MemorySink) UpsertNew(_ context.Context, rec *model.BusinessRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("business %s: %w", rec.ID, model.ErrRecordExists)
	}
	s.records[rec.ID] = rec.Clone()
	s.writes++
	return nil
}

// LoadForMerge implements crawler.Sink.
func (s *MemorySink) LoadForMerge(_ context.Context, id string) (*model.BusinessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("business %s: %w", id, model.ErrRecordNotFound)
	}
	return rec.Clone(), nil
}

// Save implements crawler.Sink.
func (s *MemorySink) Save(_ context.Context, rec *model.BusinessRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return fmt.Errorf("business %s: %w", rec.ID, model.ErrRecordNotFound)
	}
	s.records[rec.ID] = rec.Clone()
	s.writes++
	return nil
}

// ListWithWebsite implements crawler.Sink.
func (s *MemorySink) ListWithWebsite(ctx context.Context) ([]*model.BusinessRecord, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(rec *model.BusinessRecord) bool {
		return !rec.HasWebsite()
	}), nil
}

// List returns every record ordered by scrape time, then id.
func (s *MemorySink) List(_ context.Context) ([]*model.BusinessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.BusinessRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sortRecords(out)
	return out, nil
}

// KnownSourceURLs implements crawler.SourceURLLister.
func (s *MemorySink) KnownSourceURLs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	urls := make([]string, 0, len(s.records))
	for _, rec := range s.records {
		urls = append(urls, rec.SourceURL)
	}
	slices.Sort(urls)
	return urls, nil
}

// Len returns the number of stored records.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Writes returns how many writes changed the store.
func (s *MemorySink) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Close implements io.Closer.
func (s *MemorySink) Close() error {
	return nil
}

// sortRecords orders records by scrape time, then id.
func sortRecords(records []*model.BusinessRecord) {
	slices.SortFunc(records, func(a, b *model.BusinessRecord) int {
		if c := a.ScrapedAt.Compare(b.ScrapedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
