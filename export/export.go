// Package export renders products as a Shopify product import CSV.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// Columns is the fixed header row.
var Columns = []string{
	"Handle",
	"Title",
	"Body (HTML)",
	"Vendor",
	"Type",
	"Tags",
	"Published",
	"Option1 Name",
	"Option1 Value",
	"Option2 Name",
	"Option2 Value",
	"Option3 Name",
	"Option3 Value",
	"Variant SKU",
	"Variant Grams",
	"Variant Inventory Tracker",
	"Variant Inventory Qty",
	"Variant Inventory Policy",
	"Variant Fulfillment Service",
	"Variant Price",
	"Variant Compare-at Price",
	"Variant Requires Shipping",
	"Variant Taxable",
	"Variant Barcode",
	"Image Src",
	"Image Alt Text",
}

const (
	bom              = "\uFEFF"
	placeholderPrice = "0.01"
	unknownVendor    = "Unknown"
)

// Summary describes one generated file.
type Summary struct {
	Products int
	Rows     int
	Skipped  int
}

// Generator renders products. Vendor resolves a brand id to a display name.
// A nil Logger falls back to slog.Default().
type Generator struct {
	Vendor func(brandID string) string
	Logger *slog.Logger
}

// Generate returns the CSV bytes for products in input order. Products
// without a usable name are skipped.
func (g Generator) Generate(products []models.Product) ([]byte, Summary, error) {
	var (
		buf     bytes.Buffer
		summary Summary
	)
	buf.WriteString(bom)

	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, summary, fmt.Errorf("write csv header: %w", err)
	}

	for _, p := range products {
		if strings.TrimSpace(p.Name) == "" {
			summary.Skipped++
			logger.Warn("export skipped product without name", slog.String("product_id", p.ID))
			continue
		}
		rows := g.rows(p)
		for _, row := range rows {
			if err := w.Write(row); err != nil {
				return nil, summary, fmt.Errorf("write csv record: %w", err)
			}
		}
		summary.Products++
		summary.Rows += len(rows)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, summary, fmt.Errorf("flush csv records: %w", err)
	}
	return buf.Bytes(), summary, nil
}

// row indexes into Columns.
const (
	colHandle = iota
	colTitle
	colBody
	colVendor
	colType
	colTags
	colPublished
	colOption1Name
	colOption1Value
	colOption2Name
	colOption2Value
	colOption3Name
	colOption3Value
	colSKU
	colGrams
	colTracker
	colQty
	colPolicy
	colFulfillment
	colPrice
	colCompareAt
	colShipping
	colTaxable
	colBarcode
	colImageSrc
	colImageAlt
	numColumns
)

func (g Generator) rows(p models.Product) [][]string {
	d := p.Details
	if d == nil {
		d = &models.ProductDetails{}
	}

	base := make([]string, numColumns)
	base[colHandle] = d.Handle
	if base[colHandle] == "" {
		base[colHandle] = parser.Handleize(p.Name)
	}
	base[colTitle] = strings.TrimSpace(p.Name)
	base[colBody] = cleanText(firstNonEmpty(d.DetailedDescription, p.Description))
	base[colVendor] = g.vendor(p.BrandID)
	base[colType] = firstNonEmpty(p.Type, parser.DefaultType)
	base[colTags] = strings.Join(d.Tags, ", ")
	base[colPublished] = "TRUE"
	base[colTracker] = "shopify"
	base[colPolicy] = "deny"
	if d.ContinueSellingWhenOutOfStock {
		base[colPolicy] = "continue"
	}
	base[colFulfillment] = firstNonEmpty(d.FulfillmentService, "manual")
	base[colShipping] = flag(d.RequiresShipping)
	base[colTaxable] = flag(d.ChargeTax)
	base[colImageAlt] = cleanText(p.Name)

	if len(d.Variants) > 0 {
		rows := make([][]string, 0, len(d.Variants))
		for _, v := range d.Variants {
			row := append([]string(nil), base...)
			row[colOption1Name], row[colOption1Value] = v.Option1Name, v.Option1Value
			row[colOption2Name], row[colOption2Value] = v.Option2Name, v.Option2Value
			row[colOption3Name], row[colOption3Value] = v.Option3Name, v.Option3Value
			row[colSKU] = firstNonEmpty(v.SKU, d.SKU)
			row[colGrams] = grams(v.WeightGrams, d.WeightGrams)
			row[colQty] = quantity(v.InventoryQuantity, d.InventoryQuantity)
			row[colPrice] = price(firstNonEmpty(v.Price, p.Price))
			row[colCompareAt] = compareAt(firstNonEmpty(v.CompareAtPrice, d.CompareAtPrice))
			row[colBarcode] = firstNonEmpty(v.Barcode, d.Barcode)
			row[colImageSrc] = firstNonEmpty(v.ImageURL, p.ImageURL)
			rows = append(rows, row)
		}
		return rows
	}

	row := base
	row[colSKU] = d.SKU
	row[colGrams] = grams(nil, d.WeightGrams)
	row[colQty] = quantity(nil, d.InventoryQuantity)
	row[colPrice] = price(p.Price)
	row[colCompareAt] = compareAt(d.CompareAtPrice)
	row[colBarcode] = d.Barcode
	row[colImageSrc] = p.ImageURL

	rows := [][]string{row}
	for _, image := range d.AdditionalImages {
		extra := append([]string(nil), row...)
		extra[colTitle] = ""
		extra[colImageSrc] = image
		rows = append(rows, extra)
	}
	return rows
}

func (g Generator) vendor(brandID string) string {
	if g.Vendor == nil {
		return unknownVendor
	}
	if name := strings.TrimSpace(g.Vendor(brandID)); name != "" {
		return name
	}
	return unknownVendor
}

// price never renders zero or negative; the import rejects those.
func price(raw string) string {
	value, ok := parser.ParsePrice(raw)
	if !ok || value <= 0 {
		return placeholderPrice
	}
	return parser.FormatPrice(raw)
}

func compareAt(raw string) string {
	value, ok := parser.ParsePrice(raw)
	if !ok || value <= 0 {
		return ""
	}
	return parser.FormatPrice(raw)
}

func grams(values ...*int) string {
	for _, v := range values {
		if v != nil && *v > 0 {
			return strconv.Itoa(*v)
		}
	}
	return "0"
}

func quantity(values ...*int) string {
	for _, v := range values {
		if v != nil {
			return strconv.Itoa(*v)
		}
	}
	return "0"
}

func flag(v *bool) string {
	if v != nil && !*v {
		return "FALSE"
	}
	return "TRUE"
}

var lineBreaks = regexp.MustCompile(`\r\n|\n|\r`)

func cleanText(text string) string {
	return strings.TrimSpace(lineBreaks.ReplaceAllString(text, " "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename reduces name to a safe base name ending in .csv.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = unsafeFilename.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		return ""
	}
	if !strings.HasSuffix(strings.ToLower(name), ".csv") {
		name += ".csv"
	}
	return name
}

// DefaultFilename is used when an export job names no file.
func DefaultFilename(jobID string) string {
	return "products-export-" + jobID + ".csv"
}

// WriteFile writes data to dir/filename and returns the full path.
func WriteFile(dir, filename string, data []byte) (string, error) {
	safe := SanitizeFilename(filename)
	if safe == "" {
		return "", fmt.Errorf("invalid export filename %q", filename)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir %q: %w", dir, err)
	}
	path := filepath.Join(dir, safe)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}
