package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

// PaginationKind selects how listing page URLs are built.
type PaginationKind string

const (
	PaginationQuery  PaginationKind = "query"
	PaginationPath   PaginationKind = "path"
	PaginationLinks  PaginationKind = "links"
	PaginationCustom PaginationKind = "custom"
	PaginationNone   PaginationKind = "none"
)

// URLBuilder returns the URL of page for a seed URL.
type URLBuilder func(seed string, page int) (string, error)

// Pagination carries only the parameters its Kind needs.
type Pagination struct {
	Kind PaginationKind
	// Param is the query parameter for PaginationQuery.
	Param string
	// PathPattern holds a {page} token for PaginationPath.
	PathPattern string
	// LinkSelector locates pagination links for PaginationLinks and discovery.
	LinkSelector string
	// StartPage is the site's number for the first page, usually 1 or 0.
	StartPage int
	Builder   URLBuilder
}

// Selectors are the per-field CSS selectors applied inside a container.
type Selectors struct {
	Name        string
	Image       string
	Price       string
	Description string
	URL         string
	Type        string
}

// ProductExtractor is a bespoke listing rule for one container.
// Returning nil skips the container.
type ProductExtractor interface {
	ExtractProduct(doc *goquery.Document, sel *goquery.Selection, base *url.URL) *models.Product
}

// ExtractorFunc adapts a function to ProductExtractor.
type ExtractorFunc func(doc *goquery.Document, sel *goquery.Selection, base *url.URL) *models.Product

// ExtractProduct calls f.
func (f ExtractorFunc) ExtractProduct(doc *goquery.Document, sel *goquery.Selection, base *url.URL) *models.Product {
	return f(doc, sel, base)
}

// Predicate vetoes extracted candidates.
type Predicate interface {
	Include(p *models.Product) bool
}

// DetailExtractor reads a product's own page. A nil result means nothing was found.
type DetailExtractor interface {
	ExtractDetails(doc *goquery.Document, pageURL string, product models.Product) (*models.ProductDetails, error)
}

// Strategy is the extraction and pagination configuration bound to a brand.
type Strategy struct {
	Pagination  Pagination
	Container   string
	Selectors   Selectors
	Extractor   ProductExtractor
	DefaultType string
	Include     Predicate
	Detail      DetailExtractor
	BaseURL     string
}

// FilterRule is a declarative Predicate.
type FilterRule struct {
	RequireImage    bool
	RequirePrice    bool
	RequireURL      bool
	URLContains     string
	ExcludeKeywords []string
}

// Include reports whether p passes every configured condition.
func (r FilterRule) Include(p *models.Product) bool {
	if r.RequireImage && p.ImageURL == "" {
		return false
	}
	if r.RequirePrice && strings.TrimSpace(p.Price) == "" {
		return false
	}
	if r.RequireURL && p.Metadata[metaSyntheticURL] == "true" {
		return false
	}
	if r.URLContains != "" && !strings.Contains(p.URL, r.URLContains) {
		return false
	}
	name := strings.ToLower(p.Name)
	for _, keyword := range r.ExcludeKeywords {
		if keyword != "" && strings.Contains(name, strings.ToLower(keyword)) {
			return false
		}
	}
	return true
}

// DefaultStrategy is used for brands without a registered strategy.
func DefaultStrategy() Strategy {
	return Strategy{
		Pagination: Pagination{
			Kind:      PaginationQuery,
			Param:     "page",
			StartPage: 1,
		},
		Container: `.product, [class*="product"], [data-product]`,
		Selectors: Selectors{
			Name:        `h1, h2, h3, .name, [class*="name"]`,
			Image:       "img",
			Price:       `.price, [class*="price"]`,
			Description: `.description, [class*="description"]`,
			URL:         "a",
		},
		Detail: &SelectorDetailExtractor{},
	}
}
