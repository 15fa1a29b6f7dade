// Package pagestore persists knowledge page records and their indexing state.
package pagestore

import (
	"context"
	"errors"
	"time"
)

// Indexing status lifecycle for a page.
const (
	StatusIndexing = "indexing"
	StatusIndexed  = "indexed"
	StatusError    = "error"
)

var (
	// ErrNotFound indicates the requested page does not exist.
	ErrNotFound = errors.New("page not found")

	// ErrDuplicateID indicates a create with an ID that already exists.
	ErrDuplicateID = errors.New("page ID already exists")
)

// Page is the persisted record for one knowledge page. Chunk-level data lives
// in the vector index; this record is the source of truth for page metadata
// and the indexing status.
type Page struct {
	ID         string
	Title      string
	Text       string
	Category   string
	Country    string
	Tags       []string
	Visibility string
	Author     string
	MissionID  string
	Status     string
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ListFilter narrows List results. Zero fields match everything.
type ListFilter struct {
	Category string
	Status   string
	Limit    int
	Offset   int
}

// Store is the page repository contract.
type Store interface {
	// Create inserts a new page. The ID must be unique.
	Create(ctx context.Context, page *Page) error

	// Get returns a page by ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Page, error)

	// Update overwrites a page's mutable fields by ID.
	Update(ctx context.Context, page *Page) error

	// Delete removes a page by ID or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// List returns pages matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Page, error)

	// SetStatus updates a page's indexing status and live chunk count.
	SetStatus(ctx context.Context, id, status string, chunkCount int) error

	// Count returns the number of stored pages, optionally per category.
	Count(ctx context.Context, category string) (int, error)

	// Close releases the underlying storage.
	Close() error
}
