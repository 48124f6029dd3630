package crawler

import (
	"context"

	"github.com/nao1215/bizcrawl/internal/model"
)

// Sink persists business records keyed by id.
type Sink interface {
	// UpsertNew inserts a record that must not exist yet. It returns an
	// error wrapping model.ErrRecordExists when the id is already stored.
	UpsertNew(ctx context.Context, rec *model.BusinessRecord) error

	// LoadForMerge returns the stored record or an error wrapping
	// model.ErrRecordNotFound.
	LoadForMerge(ctx context.Context, id string) (*model.BusinessRecord, error)

	// Save overwrites the record with the same id.
	Save(ctx context.Context, rec *model.BusinessRecord) error

	// ListWithWebsite returns every stored record with a non-empty website.
	ListWithWebsite(ctx context.Context) ([]*model.BusinessRecord, error)
}

// SourceURLLister is implemented by sinks that can list the detail URLs of
// stored records. The discovery phase marks them seen so re-runs skip
// businesses already collected.
type SourceURLLister interface {
	KnownSourceURLs(ctx context.Context) ([]string, error)
}

// Lister is implemented by sinks that can list every stored record.
type Lister interface {
	List(ctx context.Context) ([]*model.BusinessRecord, error)
}

// Queue is the view of the frontier a phase gets while handling an item.
type Queue interface {
	// Enqueue adds an item; it returns false for duplicates, for DETAIL
	// items beyond the cap and once the phase is stopping.
	Enqueue(item model.WorkItem) bool

	// CapReached reports whether the DETAIL cap has been reached.
	CapReached() bool
}
