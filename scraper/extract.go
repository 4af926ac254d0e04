package scraper

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

const (
	metaSyntheticURL = "synthetic_url"
	metaSourcePage   = "source_page"
)

// Drop reasons reported by Extract.
const (
	DropSkipped   = "skipped"
	DropNoName    = "no_name"
	DropExcluded  = "excluded"
	DropPanic     = "extractor_error"
	DropDuplicate = "duplicate_on_page"
)

// Extraction is the outcome of extracting one listing page.
type Extraction struct {
	Products  []models.Product
	Dropped   map[string]int
	Imageless int
}

func (e *Extraction) drop(reason string) {
	if e.Dropped == nil {
		e.Dropped = make(map[string]int)
	}
	e.Dropped[reason]++
}

// Extract turns one listing page into products for brand using s.
// Failures are isolated per container. A container matched inside another
// container is a fragment of that tile: it is ignored when it yields no name,
// and when it yields the same product the innermost container wins.
func Extract(doc *goquery.Document, s Strategy, brand models.Brand, pageURL string, logger *slog.Logger) Extraction {
	var result Extraction
	if doc == nil || s.Container == "" {
		return result
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("brand", brand.Name))

	baseRaw := s.BaseURL
	if baseRaw == "" {
		baseRaw = brand.ResolveBase()
	}
	base, err := url.Parse(baseRaw)
	if err != nil {
		base = nil
	}

	type kept struct {
		index int
		sel   *goquery.Selection
	}
	byID := make(map[string]kept)

	doc.Find(s.Container).Each(func(i int, sel *goquery.Selection) {
		nested := sel.ParentsFiltered(s.Container).Length() > 0

		candidate, err := extractContainer(doc, sel, s, base)
		if err != nil {
			result.drop(DropPanic)
			logger.Warn("container extraction failed", slog.Int("index", i), slog.Any("error", err))
			return
		}
		if candidate == nil {
			if !nested {
				result.drop(DropSkipped)
			}
			return
		}

		candidate.Name = parser.CleanText(candidate.Name)
		if candidate.Name == "" {
			if !nested {
				result.drop(DropNoName)
				logger.Debug("dropped container without name", slog.Int("index", i))
			}
			return
		}

		finalizeProduct(candidate, s, brand, base, pageURL)

		if s.Include != nil && !s.Include.Include(candidate) {
			result.drop(DropExcluded)
			logger.Debug("container excluded by predicate", slog.String("name", candidate.Name))
			return
		}

		if prev, ok := byID[candidate.ID]; ok {
			if prev.sel.Contains(sel.Get(0)) {
				result.Products[prev.index] = *candidate
				byID[candidate.ID] = kept{index: prev.index, sel: sel}
				return
			}
			result.drop(DropDuplicate)
			return
		}
		byID[candidate.ID] = kept{index: len(result.Products), sel: sel}
		result.Products = append(result.Products, *candidate)
	})

	for _, p := range result.Products {
		if p.ImageURL == "" {
			result.Imageless++
			logger.Debug("product without image", slog.String("name", p.Name))
		}
	}
	return result
}

func extractContainer(doc *goquery.Document, sel *goquery.Selection, s Strategy, base *url.URL) (p *models.Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()

	if s.Extractor != nil {
		return s.Extractor.ExtractProduct(doc, sel, base), nil
	}
	return extractFields(sel, s.Selectors, base), nil
}

func extractFields(sel *goquery.Selection, fields Selectors, base *url.URL) *models.Product {
	p := &models.Product{
		Name:        FirstText(sel, fields.Name),
		Price:       FirstText(sel, fields.Price),
		Description: FirstText(sel, fields.Description),
		ImageURL:    ResolveImage(sel, fields.Image, base),
		URL:         ResolveURL(base, firstHref(sel, fields.URL)),
	}
	if fields.Type != "" {
		p.Type = FirstText(sel, fields.Type)
	}
	return p
}

func finalizeProduct(p *models.Product, s Strategy, brand models.Brand, base *url.URL, pageURL string) {
	p.BrandID = brand.ID
	p.Price = strings.TrimSpace(p.Price)
	p.Description = parser.CleanText(p.Description)
	p.ImageURL = ResolveURL(base, p.ImageURL)
	p.URL = ResolveURL(base, p.URL)

	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	if pageURL != "" {
		p.Metadata[metaSourcePage] = pageURL
	}
	if p.URL == "" {
		// Listing has no product link: key the record by name under the brand site.
		p.URL = strings.TrimRight(brand.Website, "#") + "#" + parser.Handleize(p.Name)
		p.Metadata[metaSyntheticURL] = "true"
	}

	p.Type = parser.CleanText(p.Type)
	if p.Type == "" {
		p.Type = parser.InferType(p.Name, s.DefaultType)
	}
	p.ID = models.ProductID(brand.ID, p.URL)
}

// FirstText returns the first non-empty cleaned text among the descendants of
// sel matching selector.
func FirstText(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	var text string
	sel.Find(selector).EachWithBreak(func(_ int, match *goquery.Selection) bool {
		text = parser.CleanText(match.Text())
		return text == ""
	})
	return text
}

func firstHref(sel *goquery.Selection, selector string) string {
	if selector == "" {
		selector = "a"
	}
	var href string
	withSelf(sel, selector).EachWithBreak(func(_ int, match *goquery.Selection) bool {
		if v, ok := match.Attr("href"); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(strings.TrimSpace(v), "#") {
			href = v
			return false
		}
		if v := match.Find("a[href]").First().AttrOr("href", ""); v != "" {
			href = v
			return false
		}
		return true
	})
	return href
}
