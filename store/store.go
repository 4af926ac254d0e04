// Package store holds the in-memory entity stores for brands, products and jobs.
package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrExists is returned when creating a record whose key is taken.
	ErrExists = errors.New("store: already exists")
)

// Stores bundles the entity stores owned by one process.
type Stores struct {
	Brands   *Brands
	Products *Products
	Jobs     *Jobs
}

// New constructs empty stores sharing a clock.
func New() *Stores {
	return NewWithClock(time.Now)
}

// NewWithClock constructs empty stores that stamp records using now.
func NewWithClock(now func() time.Time) *Stores {
	return &Stores{
		Brands:   NewBrands(now),
		Products: NewProducts(now),
		Jobs:     NewJobs(now),
	}
}
