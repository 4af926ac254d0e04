package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ProductFilter narrows List results. Zero values match everything.
type ProductFilter struct {
	BrandID string
	Type    string
	Query   string
	IDs     []string
}

// Products is a concurrent-safe product table keyed by the derived product id.
type Products struct {
	now func() time.Time

	mu   sync.RWMutex
	byID map[string]models.Product
}

// NewProducts returns an empty product store.
func NewProducts(now func() time.Time) *Products {
	if now == nil {
		now = time.Now
	}
	return &Products{
		now:  now,
		byID: make(map[string]models.Product),
	}
}

// Upsert inserts or overwrites a product. An existing record keeps its
// creation time and its detail layer unless the incoming record carries one.
func (s *Products) Upsert(p models.Product) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(p)
}

// UpsertMany applies Upsert to each product under a single lock.
func (s *Products) UpsertMany(products []models.Product) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.upsertLocked(p)
	}
	return len(products)
}

func (s *Products) upsertLocked(p models.Product) models.Product {
	now := s.now()
	p = p.Clone()
	if existing, ok := s.byID[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
		if p.Details == nil && existing.Details != nil {
			p.Details = existing.Clone().Details
		}
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.byID[p.ID] = p
	return p.Clone()
}

// Get returns the product with id.
func (s *Products) Get(id string) (models.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return models.Product{}, false
	}
	return p.Clone(), true
}

// GetMany resolves ids in order and reports the ids that were not found.
func (s *Products) GetMany(ids []string) ([]models.Product, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make([]models.Product, 0, len(ids))
	var missing []string
	for _, id := range ids {
		p, ok := s.byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		found = append(found, p.Clone())
	}
	return found, missing
}

// SetDetails merges details into the stored product's detail layer.
func (s *Products) SetDetails(id string, details *models.ProductDetails) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return models.Product{}, fmt.Errorf("set details %q: %w", id, ErrNotFound)
	}
	p.Details = p.Details.Merge(details)
	p.UpdatedAt = s.now()
	s.byID[id] = p
	return p.Clone(), nil
}

// List returns products matching filter, newest first with name and id tiebreaks.
func (s *Products) List(filter ProductFilter) []models.Product {
	var ids map[string]struct{}
	if len(filter.IDs) > 0 {
		ids = make(map[string]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = struct{}{}
		}
	}
	query := strings.ToLower(strings.TrimSpace(filter.Query))

	s.mu.RLock()
	out := make([]models.Product, 0, len(s.byID))
	for _, p := range s.byID {
		if filter.BrandID != "" && p.BrandID != filter.BrandID {
			continue
		}
		if filter.Type != "" && !strings.EqualFold(p.Type, filter.Type) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) {
			continue
		}
		if ids != nil {
			if _, ok := ids[p.ID]; !ok {
				continue
			}
		}
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CountByBrand returns how many products belong to brandID.
func (s *Products) CountByBrand(brandID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.byID {
		if p.BrandID == brandID {
			n++
		}
	}
	return n
}

// Len returns the number of stored products.
func (s *Products) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
