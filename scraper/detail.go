package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// ErrNoDetails is reported when a detail page yields nothing to merge.
var ErrNoDetails = errors.New("scraper: no details extracted")

// maxVariants caps the option cartesian product of one product.
const maxVariants = 100

// DetailResult is the outcome of a detail crawl.
type DetailResult struct {
	Products  []models.Product
	Succeeded int
	Failed    int
	// Failures maps product id to a short reason.
	Failures map[string]string
}

// ScrapeDetails re-fetches each product's own page in fixed-size concurrent
// batches and merges the extracted details. Per-product failures are counted,
// never returned. The error is non-nil only when ctx ends between batches.
func (s *Scraper) ScrapeDetails(ctx context.Context, products []models.Product, strat Strategy, progress ProgressFunc) (DetailResult, error) {
	result := DetailResult{
		Products: make([]models.Product, len(products)),
		Failures: make(map[string]string),
	}
	copy(result.Products, products)

	if strat.Detail == nil {
		s.logger.Info("no detail extractor configured, skipping detail crawl", slog.Int("products", len(products)))
		return result, nil
	}

	batchSize := s.cfg.DetailBatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	total := len(products)
	errs := make([]error, total)

	for start := 0; start < total; start += batchSize {
		if start > 0 && s.cfg.DetailBatchDelay > 0 {
			timer := time.NewTimer(s.cfg.DetailBatchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := start + batchSize
		if end > total {
			end = total
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				details, err := s.fetchDetails(ctx, result.Products[i], strat)
				if err != nil {
					errs[i] = err
					return
				}
				result.Products[i].Details = result.Products[i].Details.Merge(details)
			}(i)
		}
		wg.Wait()

		progress.report(end, total)
	}

	for i, err := range errs {
		p := result.Products[i]
		if err == nil {
			result.Succeeded++
			s.Metrics.IncDetail("success")
			continue
		}
		result.Failed++
		result.Failures[p.ID] = err.Error()
		s.Metrics.IncDetail("failed")
		s.logger.Warn("detail enrichment failed",
			slog.String("product_id", p.ID),
			slog.String("name", p.Name),
			slog.Any("error", err),
		)
	}
	return result, nil
}

func (s *Scraper) fetchDetails(ctx context.Context, p models.Product, strat Strategy) (details *models.ProductDetails, err error) {
	if p.URL == "" || p.Metadata[metaSyntheticURL] == "true" {
		return nil, fmt.Errorf("product has no page url")
	}

	body, err := s.fetcher.Fetch(ctx, p.URL, "detail")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			details, err = nil, fmt.Errorf("detail extractor panic: %v", r)
		}
	}()
	details, err = strat.Detail.ExtractDetails(doc, p.URL, p)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, ErrNoDetails
	}
	return details, nil
}

// DetailSelectors configures SelectorDetailExtractor. Empty selectors fall
// back to structured data and meta tags.
type DetailSelectors struct {
	SKU            string
	Barcode        string
	Description    string
	Price          string
	CompareAtPrice string
	Images         string
	Tags           string
	Weight         string
	Inventory      string
	Category       string
	Options        []string
}

// SelectorDetailExtractor reads product pages using CSS selectors.
type SelectorDetailExtractor struct {
	Selectors DetailSelectors
}

var integerPattern = regexp.MustCompile(`\d+`)

// ExtractDetails implements DetailExtractor.
func (e *SelectorDetailExtractor) ExtractDetails(doc *goquery.Document, pageURL string, product models.Product) (*models.ProductDetails, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	root := doc.Selection
	sel := e.Selectors
	d := &models.ProductDetails{}

	d.SKU = firstNonEmpty(FirstText(root, sel.SKU), itemprop(root, "sku"))
	d.Barcode = firstNonEmpty(FirstText(root, sel.Barcode), itemprop(root, "gtin13"), itemprop(root, "gtin"))
	d.DetailedDescription = firstNonEmpty(FirstText(root, sel.Description), itemprop(root, "description"))
	d.SEOTitle = firstNonEmpty(metaContent(root, `meta[property="og:title"]`), parser.CleanText(root.Find("title").First().Text()))
	d.SEODescription = firstNonEmpty(metaContent(root, `meta[name="description"]`), metaContent(root, `meta[property="og:description"]`))
	d.CompareAtPrice = parser.FormatPrice(FirstText(root, sel.CompareAtPrice))
	d.ProductCategory = FirstText(root, sel.Category)
	d.Handle = handleFromURL(base)

	if sel.Weight != "" {
		if grams, ok := parser.ParseWeightGrams(FirstText(root, sel.Weight)); ok {
			d.WeightGrams = &grams
		}
	}
	if sel.Inventory != "" {
		if n, err := strconv.Atoi(integerPattern.FindString(FirstText(root, sel.Inventory))); err == nil {
			d.InventoryQuantity = &n
		}
	}

	d.AdditionalImages = collectImages(root, sel.Images, base, product.ImageURL)

	if sel.Tags != "" {
		seen := make(map[string]struct{})
		root.Find(sel.Tags).Each(func(_ int, tag *goquery.Selection) {
			text := parser.CleanText(tag.Text())
			if text == "" {
				return
			}
			if _, ok := seen[text]; ok {
				return
			}
			seen[text] = struct{}{}
			d.Tags = append(d.Tags, text)
		})
	}

	d.Variants = buildVariants(root, sel.Options, d.SKU, parser.FormatPrice(FirstText(root, sel.Price)))

	if isEmptyDetails(d) {
		return nil, nil
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func metaContent(root *goquery.Selection, selector string) string {
	return parser.CleanText(root.Find(selector).First().AttrOr("content", ""))
}

func itemprop(root *goquery.Selection, name string) string {
	el := root.Find(`[itemprop="` + name + `"]`).First()
	if el.Length() == 0 {
		return ""
	}
	if content, ok := el.Attr("content"); ok {
		return parser.CleanText(content)
	}
	return parser.CleanText(el.Text())
}

func handleFromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	last := path.Base(strings.TrimRight(u.Path, "/"))
	if last == "." || last == "/" {
		return ""
	}
	return parser.Handleize(strings.TrimSuffix(last, path.Ext(last)))
}

func collectImages(root *goquery.Selection, selector string, base *url.URL, primary string) []string {
	seen := map[string]struct{}{}
	if primary != "" {
		seen[primary] = struct{}{}
	}
	var out []string
	add := func(raw string) {
		resolved := ResolveURL(base, raw)
		if resolved == "" || !usableImage(resolved) {
			return
		}
		if _, ok := seen[resolved]; ok {
			return
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	}

	if selector != "" {
		root.Find(selector).Each(func(_ int, el *goquery.Selection) {
			if raw := firstImageAttr(el.Filter("img").AddSelection(el.Find("img"))); raw != "" {
				add(raw)
				return
			}
			if href, ok := el.Attr("href"); ok {
				add(href)
			}
		})
	}
	root.Find(`meta[property="og:image"]`).Each(func(_ int, el *goquery.Selection) {
		add(el.AttrOr("content", ""))
	})
	return out
}

type optionDimension struct {
	name   string
	values []string
}

// buildVariants expands up to three option selects into their cartesian
// product so every variant carries a value for every dimension.
func buildVariants(root *goquery.Selection, selectors []string, baseSKU, price string) []models.ProductVariant {
	var dims []optionDimension
	for _, selector := range selectors {
		if len(dims) == 3 {
			break
		}
		if selector == "" {
			continue
		}
		if dim, ok := readOption(root, root.Find(selector).First()); ok {
			dims = append(dims, dim)
		}
	}
	if len(dims) == 0 {
		return nil
	}

	combos := [][]string{{}}
	for _, dim := range dims {
		var next [][]string
		for _, combo := range combos {
			for _, value := range dim.values {
				if len(next) >= maxVariants {
					break
				}
				extended := append(append([]string(nil), combo...), value)
				next = append(next, extended)
			}
		}
		combos = next
	}

	variants := make([]models.ProductVariant, 0, len(combos))
	for _, combo := range combos {
		v := models.ProductVariant{Price: price}
		for i, value := range combo {
			switch i {
			case 0:
				v.Option1Name, v.Option1Value = dims[0].name, value
			case 1:
				v.Option2Name, v.Option2Value = dims[1].name, value
			case 2:
				v.Option3Name, v.Option3Value = dims[2].name, value
			}
		}
		if baseSKU != "" {
			parts := []string{baseSKU}
			for _, value := range combo {
				parts = append(parts, strings.ToUpper(parser.Handleize(value)))
			}
			v.SKU = strings.Join(parts, "-")
		}
		variants = append(variants, v)
	}
	return variants
}

func readOption(root, sel *goquery.Selection) (optionDimension, bool) {
	if sel.Length() == 0 {
		return optionDimension{}, false
	}

	name := ""
	if id, ok := sel.Attr("id"); ok && id != "" {
		name = parser.CleanText(root.Find(`label[for="` + id + `"]`).First().Text())
	}
	name = firstNonEmpty(name, sel.AttrOr("data-attribute-name", ""), sel.AttrOr("aria-label", ""), sel.AttrOr("name", ""))
	name = strings.TrimSuffix(name, ":")

	var values []string
	seen := make(map[string]struct{})
	sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
		if _, disabled := opt.Attr("disabled"); disabled {
			return
		}
		if v, ok := opt.Attr("value"); ok && strings.TrimSpace(v) == "" {
			return
		}
		text := parser.CleanText(opt.Text())
		if text == "" {
			return
		}
		if _, ok := seen[text]; ok {
			return
		}
		seen[text] = struct{}{}
		values = append(values, text)
	})
	if len(values) == 0 {
		return optionDimension{}, false
	}
	if name == "" {
		name = "Option"
	}
	return optionDimension{name: name, values: values}, true
}

func isEmptyDetails(d *models.ProductDetails) bool {
	return d.SKU == "" && d.Barcode == "" && d.DetailedDescription == "" &&
		d.SEOTitle == "" && d.SEODescription == "" && d.CompareAtPrice == "" &&
		d.ProductCategory == "" && d.WeightGrams == nil && d.InventoryQuantity == nil &&
		len(d.AdditionalImages) == 0 && len(d.Tags) == 0 && len(d.Variants) == 0
}
