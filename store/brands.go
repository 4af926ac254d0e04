package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/google/uuid"
)

// Brands is a concurrent-safe brand table keyed by id with a unique name index.
type Brands struct {
	now func() time.Time

	mu     sync.RWMutex
	byID   map[string]models.Brand
	byName map[string]string
}

// NewBrands returns an empty brand store.
func NewBrands(now func() time.Time) *Brands {
	if now == nil {
		now = time.Now
	}
	return &Brands{
		now:    now,
		byID:   make(map[string]models.Brand),
		byName: make(map[string]string),
	}
}

// Create assigns an id and timestamps and stores the brand.
func (s *Brands) Create(b models.Brand) (models.Brand, error) {
	name := strings.TrimSpace(b.Name)
	if name == "" {
		return models.Brand{}, fmt.Errorf("create brand: name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(name)
	if _, ok := s.byName[key]; ok {
		return models.Brand{}, fmt.Errorf("create brand %q: %w", name, ErrExists)
	}

	now := s.now()
	b.Name = name
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if _, ok := s.byID[b.ID]; ok {
		return models.Brand{}, fmt.Errorf("create brand %q: %w", b.ID, ErrExists)
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	s.byID[b.ID] = b
	s.byName[key] = b.ID
	return b, nil
}

// Get returns the brand with id.
func (s *Brands) Get(id string) (models.Brand, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[id]
	return b, ok
}

// GetByName looks a brand up by its case-insensitive name.
func (s *Brands) GetByName(name string) (models.Brand, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return models.Brand{}, false
	}
	return s.byID[id], true
}

// List returns all brands ordered by name.
func (s *Brands) List() []models.Brand {
	s.mu.RLock()
	out := make([]models.Brand, 0, len(s.byID))
	for _, b := range s.byID {
		out = append(out, b)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Update replaces the mutable fields of a brand. Id and name are immutable.
func (s *Brands) Update(b models.Brand) (models.Brand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[b.ID]
	if !ok {
		return models.Brand{}, fmt.Errorf("update brand %q: %w", b.ID, ErrNotFound)
	}
	current.Website = b.Website
	current.BaseURL = b.BaseURL
	current.Active = b.Active
	current.UpdatedAt = s.now()
	s.byID[b.ID] = current
	return current, nil
}

// Delete removes a brand.
func (s *Brands) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("delete brand %q: %w", id, ErrNotFound)
	}
	delete(s.byID, id)
	delete(s.byName, strings.ToLower(b.Name))
	return nil
}
