package storage

import (
	"context"

	"webcrawler/pkg/models"
)

// ResultStore is the durable record sink. Upsert is keyed by unique
// URL: a second upsert for the same URL overwrites the mutable fields
// instead of inserting a new row, which keeps replays after a resume
// idempotent.
type ResultStore interface {
	// Upsert inserts a new row for rec.URL or overwrites the existing
	// row's mutable fields (status, size, title, statistics).
	Upsert(ctx context.Context, rec *models.CrawlRecord) error

	// QueryAll returns all stored records in insertion order.
	QueryAll(ctx context.Context) ([]*models.CrawlRecord, error)

	// Clear removes every stored record. A fresh crawl starts from an
	// empty sink so reports never mix runs.
	Clear(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Factory opens a fresh ResultStore connection. The engine opens the
// sink lazily on start/resume and closes it on pause, stop, or
// completion, so it needs the opener rather than a live connection.
type Factory func() (ResultStore, error)
