package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SitesFile is the brand seed and strategy file.
type SitesFile struct {
	Brands []BrandSite `yaml:"brands" validate:"dive"`
}

// BrandSite seeds one brand and, optionally, its scraper strategy.
type BrandSite struct {
	Name     string       `yaml:"name" validate:"required"`
	Website  string       `yaml:"website" validate:"required,url"`
	BaseURL  string       `yaml:"base_url" validate:"omitempty,url"`
	Active   *bool        `yaml:"active"`
	Schedule string       `yaml:"schedule"`
	Scraper  *ScraperSpec `yaml:"scraper"`
}

// IsActive defaults to true when the field is omitted.
func (b BrandSite) IsActive() bool {
	return b.Active == nil || *b.Active
}

// ScraperSpec describes a strategy as data.
type ScraperSpec struct {
	Pagination  PaginationSpec `yaml:"pagination"`
	Container   string         `yaml:"container"`
	Selectors   SelectorSpec   `yaml:"selectors"`
	Extractor   string         `yaml:"extractor"`
	DefaultType string         `yaml:"default_type"`
	Include     *IncludeSpec   `yaml:"include"`
	Detail      *DetailSpec    `yaml:"detail"`
}

// PaginationSpec selects a pagination kind and carries its parameters.
type PaginationSpec struct {
	Kind         string `yaml:"kind" validate:"omitempty,oneof=query path links custom none"`
	Param        string `yaml:"param"`
	PathPattern  string `yaml:"path_pattern" validate:"required_if=Kind path"`
	LinkSelector string `yaml:"link_selector" validate:"required_if=Kind links"`
	StartPage    *int   `yaml:"start_page" validate:"omitempty,gte=0"`
	Builder      string `yaml:"builder" validate:"required_if=Kind custom"`
}

// SelectorSpec lists the per-field CSS selectors of a listing container.
type SelectorSpec struct {
	Name        string `yaml:"name"`
	Image       string `yaml:"image"`
	Price       string `yaml:"price"`
	Description string `yaml:"description"`
	URL         string `yaml:"url"`
	Type        string `yaml:"type"`
}

// IncludeSpec is a declarative inclusion predicate.
type IncludeSpec struct {
	RequireImage    bool     `yaml:"require_image"`
	RequirePrice    bool     `yaml:"require_price"`
	RequireURL      bool     `yaml:"require_url"`
	URLContains     string   `yaml:"url_contains"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// DetailSpec lists selectors used on a product's own page.
type DetailSpec struct {
	Disabled       bool     `yaml:"disabled"`
	SKU            string   `yaml:"sku"`
	Barcode        string   `yaml:"barcode"`
	Description    string   `yaml:"description"`
	Price          string   `yaml:"price"`
	CompareAtPrice string   `yaml:"compare_at_price"`
	Images         string   `yaml:"images"`
	Tags           string   `yaml:"tags"`
	Weight         string   `yaml:"weight"`
	Inventory      string   `yaml:"inventory"`
	Category       string   `yaml:"category"`
	Options        []string `yaml:"options" validate:"max=3"`
}

var validate = validator.New()

// LoadSites reads and validates a sites file.
func LoadSites(path string) (*SitesFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sites file: %w", err)
	}
	defer f.Close()

	return DecodeSites(f)
}

// DecodeSites parses a sites document from r.
func DecodeSites(r io.Reader) (*SitesFile, error) {
	var sites SitesFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&sites); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode sites file: %w", err)
	}
	if err := validate.Struct(&sites); err != nil {
		return nil, fmt.Errorf("validate sites file: %w", err)
	}

	seen := make(map[string]struct{}, len(sites.Brands))
	for _, b := range sites.Brands {
		if _, ok := seen[b.Name]; ok {
			return nil, fmt.Errorf("validate sites file: duplicate brand %q", b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	return &sites, nil
}
