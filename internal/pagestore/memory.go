package pagestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	pages map[string]*Page
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pages: make(map[string]*Page)}
}

func clonePage(p *Page) *Page {
	c := *p
	c.Tags = append([]string(nil), p.Tags...)
	return &c
}

func (s *MemoryStore) Create(_ context.Context, page *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[page.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, page.ID)
	}
	now := time.Now().UTC()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = now
	}
	page.UpdatedAt = now
	s.pages[page.ID] = clonePage(page)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page, ok := s.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clonePage(page), nil
}

func (s *MemoryStore) Update(_ context.Context, page *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.pages[page.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, page.ID)
	}
	page.CreatedAt = existing.CreatedAt
	page.UpdatedAt = time.Now().UTC()
	s.pages[page.ID] = clonePage(page)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.pages, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pages []*Page
	for _, p := range s.pages {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		pages = append(pages, clonePage(p))
	}
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].UpdatedAt.After(pages[j].UpdatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(pages) {
			return nil, nil
		}
		pages = pages[filter.Offset:]
	}
	if filter.Limit > 0 && len(pages) > filter.Limit {
		pages = pages[:filter.Limit]
	}
	return pages, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id, status string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, ok := s.pages[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	page.Status = status
	page.ChunkCount = chunkCount
	page.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Count(_ context.Context, category string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if category == "" {
		return len(s.pages), nil
	}
	n := 0
	for _, p := range s.pages {
		if p.Category == category {
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
