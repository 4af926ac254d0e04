package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Registry binds brand names to strategies. Registering a name twice replaces
// the earlier strategy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	builders   map[string]URLBuilder
	extractors map[string]ProductExtractor
}

// NewRegistry returns a registry with the built-in URL builders.
func NewRegistry() *Registry {
	r := &Registry{
		strategies: make(map[string]Strategy),
		builders:   make(map[string]URLBuilder),
		extractors: make(map[string]ProductExtractor),
	}
	r.RegisterURLBuilder("htm-suffix", HTMSuffixBuilder)
	return r
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register binds s to brandName.
func (r *Registry) Register(brandName string, s Strategy) {
	r.mu.Lock()
	r.strategies[registryKey(brandName)] = s
	r.mu.Unlock()
}

// RegisterURLBuilder makes a custom URL builder available to sites files.
func (r *Registry) RegisterURLBuilder(name string, b URLBuilder) {
	r.mu.Lock()
	r.builders[name] = b
	r.mu.Unlock()
}

// RegisterExtractor makes a bespoke extractor available to sites files.
func (r *Registry) RegisterExtractor(name string, e ProductExtractor) {
	r.mu.Lock()
	r.extractors[name] = e
	r.mu.Unlock()
}

// Registered reports whether brandName has its own strategy.
func (r *Registry) Registered(brandName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[registryKey(brandName)]
	return ok
}

// Lookup returns the strategy bound to brand, or the generic default, with
// BaseURL taken from the brand.
func (r *Registry) Lookup(brand models.Brand) Strategy {
	r.mu.RLock()
	s, ok := r.strategies[registryKey(brand.Name)]
	r.mu.RUnlock()
	if !ok {
		s = DefaultStrategy()
	}
	s.BaseURL = brand.ResolveBase()
	return s
}

// FromSpec builds a strategy from a sites file entry. Fields left empty fall
// back to the generic default.
func (r *Registry) FromSpec(spec config.ScraperSpec) (Strategy, error) {
	s := DefaultStrategy()

	if spec.Pagination.Kind != "" {
		s.Pagination = Pagination{Kind: PaginationKind(spec.Pagination.Kind)}
	}
	if spec.Pagination.Param != "" {
		s.Pagination.Param = spec.Pagination.Param
	}
	if s.Pagination.Kind == PaginationQuery && s.Pagination.Param == "" {
		s.Pagination.Param = "page"
	}
	s.Pagination.PathPattern = spec.Pagination.PathPattern
	s.Pagination.LinkSelector = spec.Pagination.LinkSelector
	s.Pagination.StartPage = 1
	if spec.Pagination.StartPage != nil {
		s.Pagination.StartPage = *spec.Pagination.StartPage
	}
	if spec.Pagination.Builder != "" {
		r.mu.RLock()
		builder, ok := r.builders[spec.Pagination.Builder]
		r.mu.RUnlock()
		if !ok {
			return Strategy{}, fmt.Errorf("unknown url builder %q", spec.Pagination.Builder)
		}
		s.Pagination.Builder = builder
	}

	if spec.Container != "" {
		s.Container = spec.Container
	}
	mergeSelector(&s.Selectors.Name, spec.Selectors.Name)
	mergeSelector(&s.Selectors.Image, spec.Selectors.Image)
	mergeSelector(&s.Selectors.Price, spec.Selectors.Price)
	mergeSelector(&s.Selectors.Description, spec.Selectors.Description)
	mergeSelector(&s.Selectors.URL, spec.Selectors.URL)
	mergeSelector(&s.Selectors.Type, spec.Selectors.Type)
	s.DefaultType = spec.DefaultType

	if spec.Extractor != "" {
		r.mu.RLock()
		extractor, ok := r.extractors[spec.Extractor]
		r.mu.RUnlock()
		if !ok {
			return Strategy{}, fmt.Errorf("unknown extractor %q", spec.Extractor)
		}
		s.Extractor = extractor
	}

	if inc := spec.Include; inc != nil {
		s.Include = FilterRule{
			RequireImage:    inc.RequireImage,
			RequirePrice:    inc.RequirePrice,
			RequireURL:      inc.RequireURL,
			URLContains:     inc.URLContains,
			ExcludeKeywords: inc.ExcludeKeywords,
		}
	}

	if d := spec.Detail; d != nil {
		if d.Disabled {
			s.Detail = nil
		} else {
			s.Detail = &SelectorDetailExtractor{Selectors: DetailSelectors{
				SKU:            d.SKU,
				Barcode:        d.Barcode,
				Description:    d.Description,
				Price:          d.Price,
				CompareAtPrice: d.CompareAtPrice,
				Images:         d.Images,
				Tags:           d.Tags,
				Weight:         d.Weight,
				Inventory:      d.Inventory,
				Category:       d.Category,
				Options:        d.Options,
			}}
		}
	}

	if err := s.Pagination.validate(); err != nil {
		return Strategy{}, err
	}
	return s, nil
}

func mergeSelector(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func (p Pagination) validate() error {
	switch p.Kind {
	case PaginationQuery:
		if p.Param == "" {
			return fmt.Errorf("query pagination requires a parameter name")
		}
	case PaginationPath:
		if !strings.Contains(p.PathPattern, "{page}") {
			return fmt.Errorf("path pagination requires a {page} token")
		}
	case PaginationLinks:
		if p.LinkSelector == "" {
			return fmt.Errorf("link pagination requires a link selector")
		}
	case PaginationCustom:
		if p.Builder == nil {
			return fmt.Errorf("custom pagination requires a url builder")
		}
	case PaginationNone:
	default:
		return fmt.Errorf("unknown pagination kind %q", p.Kind)
	}
	return nil
}

var (
	htmPageSuffix = regexp.MustCompile(`_\d+(\.html?)$`)
	htmExtension  = regexp.MustCompile(`(\.html?)$`)
)

// HTMSuffixBuilder inserts _N before a .htm/.html extension
// (catalogo-A1.htm -> catalogo-A1_2.htm). Page 1 strips any existing suffix.
func HTMSuffixBuilder(seed string, page int) (string, error) {
	u, err := url.Parse(seed)
	if err != nil {
		return "", fmt.Errorf("parse seed url: %w", err)
	}
	if !htmExtension.MatchString(u.Path) {
		return "", fmt.Errorf("seed url %q has no .htm extension", seed)
	}

	path := htmPageSuffix.ReplaceAllString(u.Path, "$1")
	if page > 1 {
		path = htmExtension.ReplaceAllString(path, "_"+strconv.Itoa(page)+"$1")
	}
	u.Path = path
	u.RawPath = ""
	return u.String(), nil
}
