// Package sites holds per-site strategies that need code rather than selectors.
package sites

import (
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

// Extractor names usable from a sites file.
const (
	MorellatoExtractor = "morellato"
)

// Register installs the bespoke extractors and the built-in brand strategies.
// Strategies loaded later from a sites file replace these.
func Register(reg *scraper.Registry) {
	reg.RegisterExtractor(MorellatoExtractor, scraper.ExtractorFunc(extractMorellato))
	reg.Register("Morellato", MorellatoStrategy())
	reg.Register("S'Agapõ", SagapoStrategy())
}

// SagapoStrategy reads a Magento listing paginated with ?p=N.
func SagapoStrategy() scraper.Strategy {
	return scraper.Strategy{
		Pagination: scraper.Pagination{
			Kind:      scraper.PaginationQuery,
			Param:     "p",
			StartPage: 1,
		},
		Container: "li.product-item, .product-item",
		Selectors: scraper.Selectors{
			Name:        ".product-item-name, a.product-item-link",
			Image:       ".product-image-photo",
			Price:       ".price",
			Description: ".product-item-sku, [class*=\"sku\"]",
			URL:         "a.product-item-link, .product-item-photo",
		},
		DefaultType: "Jewelry",
		Detail: &scraper.SelectorDetailExtractor{Selectors: scraper.DetailSelectors{
			SKU:         `.product.attribute.sku .value`,
			Description: `.product.attribute.description .value`,
			Price:       `.product-info-price .price`,
			Images:      `.gallery-placeholder img, .fotorama__img`,
			Options:     []string{`select.super-attribute-select`},
		}},
	}
}
