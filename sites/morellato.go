package sites

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

// MorellatoStrategy pages catalogo-prodotti-A1.htm as catalogo-prodotti-A1_N.htm.
func MorellatoStrategy() scraper.Strategy {
	return scraper.Strategy{
		Pagination: scraper.Pagination{
			Kind:      scraper.PaginationCustom,
			Builder:   scraper.HTMSuffixBuilder,
			StartPage: 1,
		},
		Container:   `article, .product-item, li[class*="product"], div[class*="product"]`,
		Extractor:   scraper.ExtractorFunc(extractMorellato),
		DefaultType: "Jewelry",
		Detail: &scraper.SelectorDetailExtractor{Selectors: scraper.DetailSelectors{
			SKU:         `.product-code, .sku, [class*="codice"]`,
			Description: `.product-description, [class*="description"]`,
			Price:       `.product-price, .price`,
			Images:      `.product-gallery img, .gallery img`,
			Tags:        `.breadcrumb li a`,
			Weight:      `[class*="peso"], [class*="weight"]`,
			Options:     []string{`select[name*="misura"], select[name*="size"]`, `select[name*="colore"], select[name*="color"]`},
		}},
	}
}

var (
	buyNowLabel  = regexp.MustCompile(`(?i)acquista ora`)
	euroAmount   = regexp.MustCompile(`(\d+[.,]\d+\s*€)`)
	imageQueryRe = regexp.MustCompile(`[?#].*$`)
)

// extractMorellato reads one Morellato listing tile. Tiles without a name are
// skipped.
func extractMorellato(_ *goquery.Document, sel *goquery.Selection, base *url.URL) *models.Product {
	name := scraper.FirstText(sel, "h2, h3, h4")
	if name == "" {
		name = parser.CleanText(sel.Find(`a[href*="/"]`).First().Text())
	}
	name = strings.TrimSpace(buyNowLabel.ReplaceAllString(name, ""))
	if name == "" {
		return nil
	}

	price := scraper.FirstText(sel, `.price, [class*="price"]`)
	if price == "" {
		if match := euroAmount.FindStringSubmatch(sel.Text()); match != nil {
			price = match[1]
		}
	}

	image := scraper.ResolveImage(sel, "img", base)
	// Resized variants differ only by query string; keep the canonical asset.
	image = imageQueryRe.ReplaceAllString(image, "")

	return &models.Product{
		Name:        name,
		Price:       price,
		ImageURL:    image,
		URL:         scraper.ResolveURL(base, sel.Find(`a[href*="/"]`).First().AttrOr("href", "")),
		Description: scraper.FirstText(sel, `.description, [class*="desc"]`),
		Type:        parser.InferType(name, "Jewelry"),
	}
}
