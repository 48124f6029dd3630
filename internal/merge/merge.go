// Package merge folds enrichment contact fragments into stored records.
//
// Merging is a set union on the three contact sets, so it is commutative
// and idempotent. The read-modify-write against the store is serialized per
// record id; merges of different ids run in parallel.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nao1215/bizcrawl/internal/model"
)

// Store is the part of a record sink the merger needs.
type Store interface {
	// LoadForMerge returns the record stored under id or model.ErrRecordNotFound.
	LoadForMerge(ctx context.Context, id string) (*model.BusinessRecord, error)

	// Save overwrites the stored record with the same id.
	Save(ctx context.Context, rec *model.BusinessRecord) error
}

// Merger applies contact fragments to stored records.
type Merger struct {
	store  Store
	locks  *keyedMutex
	logger *slog.Logger
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Merger) {
		m.logger = logger
	}
}

// New creates a Merger writing to store.
func New(store Store, opts ...Option) *Merger {
	m := &Merger{
		store:  store,
		locks:  newKeyedMutex(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge unions fragment into the record stored under id.
// It returns an error wrapping model.ErrRecordNotFound when no record exists.
func (m *Merger) Merge(ctx context.Context, id string, fragment model.ContactFragment) error {
	_, _, err := m.Apply(ctx, id, fragment)
	return err
}

// Apply is Merge that also returns the resulting record and whether the
// store was written. A fragment adding nothing new causes no write.
func (m *Merger) Apply(ctx context.Context, id string, fragment model.ContactFragment) (*model.BusinessRecord, bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	current, err := m.store.LoadForMerge(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("load record %s for merge: %w", id, err)
	}

	merged, changed := Union(current, fragment)
	if !changed {
		return merged, false, nil
	}
	if err := m.store.Save(ctx, merged); err != nil {
		return nil, false, fmt.Errorf("save merged record %s: %w", id, err)
	}

	m.logger.Debug("merged contacts",
		"id", id,
		"emails", merged.Emails.Len(),
		"phones", merged.PhonesFromWebsite.Len(),
		"social_links", merged.SocialLinks.Len(),
	)
	return merged, true, nil
}

// Union returns a copy of rec whose contact sets also hold the values of
// fragment, and whether any set grew. rec is not modified.
func Union(rec *model.BusinessRecord, fragment model.ContactFragment) (*model.BusinessRecord, bool) {
	out := rec.Clone()
	out.InitContactSets()

	added := out.Emails.Add(fragment.Emails.Sorted()...)
	added += out.PhonesFromWebsite.Add(fragment.Phones.Sorted()...)
	added += out.SocialLinks.Add(fragment.SocialLinks.Sorted()...)
	return out, added > 0
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex of key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size returns the number of keys currently tracked.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
