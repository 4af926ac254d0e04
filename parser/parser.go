// Package parser normalizes raw values scraped from catalog pages.
package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultType is used when no keyword matches a product name.
const DefaultType = "General"

// ValidateProduct ensures the extractor captured the required fields.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product missing name")
	}
	if strings.TrimSpace(p.BrandID) == "" {
		return fmt.Errorf("product missing brand for %s", p.Name)
	}
	return nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanText collapses whitespace runs, including newlines, to single spaces.
func CleanText(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

var priceChars = regexp.MustCompile(`[^\d.,-]`)

// ParsePrice reads a site-native price string ("€ 1.234,50", "$12.00", "11,70 €").
// The last separator followed by one or two digits is taken as the decimal mark.
func ParsePrice(raw string) (float64, bool) {
	cleaned := priceChars.ReplaceAllString(raw, "")
	cleaned = strings.Trim(cleaned, ".,")
	if cleaned == "" {
		return 0, false
	}

	negative := strings.HasPrefix(cleaned, "-")
	cleaned = strings.ReplaceAll(cleaned, "-", "")

	decimal := strings.LastIndexAny(cleaned, ".,")
	var intPart, fracPart string
	switch {
	case decimal < 0:
		intPart = cleaned
	case len(cleaned)-decimal-1 <= 2:
		intPart, fracPart = cleaned[:decimal], cleaned[decimal+1:]
	default:
		// "1.234" or "1,234": grouping only.
		intPart = cleaned
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}

	value, err := strconv.ParseFloat(intPart+"."+fracPart+"0", 64)
	if err != nil {
		return 0, false
	}
	if negative {
		value = -value
	}
	return value, true
}

// FormatPrice renders a price with two decimals, or "" when it cannot be parsed.
func FormatPrice(raw string) string {
	value, ok := ParsePrice(raw)
	if !ok {
		return ""
	}
	return strconv.FormatFloat(math.Round(value*100)/100, 'f', 2, 64)
}

var typeKeywords = []struct {
	category string
	tokens   []string
}{
	{"Charm", []string{"charm", "charms"}},
	{"Bracelet", []string{"bracelet", "bracelets", "bracciale", "bracciali", "bangle"}},
	{"Necklace", []string{"necklace", "necklaces", "collana", "collane", "pendant", "ciondolo"}},
	{"Earring", []string{"earring", "earrings", "orecchino", "orecchini"}},
	{"Ring", []string{"ring", "rings", "anello", "anelli"}},
	{"Watch", []string{"watch", "watches", "orologio", "orologi"}},
}

// InferType matches whole-word keywords in name against known categories.
// fallback is returned when nothing matches, DefaultType when fallback is empty.
func InferType(name, fallback string) string {
	tokens := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		seen[token] = struct{}{}
	}
	for _, entry := range typeKeywords {
		for _, keyword := range entry.tokens {
			if _, ok := seen[keyword]; ok {
				return entry.category
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return DefaultType
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Handleize derives a URL handle: lowercase ASCII-folded words joined by "-".
func Handleize(name string) string {
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

var weightPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(kg|g|gr|lb|lbs|oz)\b`)

// ParseWeightGrams extracts a weight like "12 g", "0,5 kg" or "3 oz" in grams.
func ParseWeightGrams(text string) (int, bool) {
	match := weightPattern.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(match[2]) {
	case "kg":
		value *= 1000
	case "lb", "lbs":
		value *= 453.59237
	case "oz":
		value *= 28.349523125
	}
	return int(math.Round(value)), true
}
