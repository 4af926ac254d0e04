package export

import (
	"bytes"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRows(t *testing.T, data []byte) [][]string {
	t.Helper()
	require.True(t, bytes.HasPrefix(data, []byte(bom)), "missing byte order mark")
	records, err := csv.NewReader(bytes.NewReader(data[len(bom):])).ReadAll()
	require.NoError(t, err)
	return records
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func sampleProducts() []models.Product {
	return []models.Product{
		{
			ID:      "p1",
			BrandID: "b1",
			Name:    "Anello Love",
			Type:    "Ring",
			Price:   "59,00 €",
			URL:     "https://m.test/anello-love.htm",
			Details: &models.ProductDetails{
				SKU:  "SAUA01",
				Tags: []string{"Anelli", "Love"},
				Variants: []models.ProductVariant{
					{Option1Name: "Misura", Option1Value: "12", SKU: "SAUA01-12"},
					{Option1Name: "Misura", Option1Value: "14", SKU: "SAUA01-14", Price: "64,00"},
				},
			},
		},
		{
			ID:          "p2",
			BrandID:     "b1",
			Name:        "Bracciale Drops",
			Price:       "",
			Description: "Acciaio\nlucido",
			ImageURL:    "https://m.test/img/main.jpg",
			Details: &models.ProductDetails{
				AdditionalImages: []string{"https://m.test/img/alt.jpg"},
				WeightGrams:      intPtr(12),
				RequiresShipping: boolPtr(false),
			},
		},
	}
}

func vendorFor(brandID string) string {
	if brandID == "b1" {
		return "Morellato"
	}
	return ""
}

func TestGenerateRowLayout(t *testing.T) {
	data, summary, err := Generator{Vendor: vendorFor}.Generate(sampleProducts())
	require.NoError(t, err)

	records := readRows(t, data)
	require.Len(t, records, 5, "header plus 2 variant rows, 1 product row and 1 image row")
	assert.Equal(t, Columns, records[0])
	assert.Equal(t, Summary{Products: 2, Rows: 4}, summary)

	first := records[1]
	assert.Equal(t, "anello-love", first[colHandle])
	assert.Equal(t, "Morellato", first[colVendor])
	assert.Equal(t, "Anelli, Love", first[colTags])
	assert.Equal(t, "12", first[colOption1Value])
	assert.Equal(t, "59.00", first[colPrice])
	assert.Equal(t, "64.00", records[2][colPrice])
	assert.Equal(t, "SAUA01-14", records[2][colSKU])
	assert.Equal(t, "shopify", first[colTracker])
	assert.Equal(t, "deny", first[colPolicy])
	assert.Equal(t, "manual", first[colFulfillment])

	plain := records[3]
	assert.Equal(t, "Bracciale Drops", plain[colTitle])
	assert.Equal(t, "Acciaio lucido", plain[colBody])
	assert.Equal(t, "General", plain[colType])
	assert.Equal(t, "0.01", plain[colPrice], "missing price uses the placeholder")
	assert.Equal(t, "12", plain[colGrams])
	assert.Equal(t, "FALSE", plain[colShipping])
	assert.Equal(t, "TRUE", plain[colTaxable])

	image := records[4]
	assert.Equal(t, "", image[colTitle])
	assert.Equal(t, "bracciale-drops", image[colHandle])
	assert.Equal(t, "https://m.test/img/alt.jpg", image[colImageSrc])
}

func TestGenerateIsDeterministic(t *testing.T) {
	g := Generator{Vendor: vendorFor}
	first, _, err := g.Generate(sampleProducts())
	require.NoError(t, err)
	second, _, err := g.Generate(sampleProducts())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
}

func TestGeneratePlaceholderPrice(t *testing.T) {
	for _, raw := range []string{"0", "0,00 €", "-5", "gratis", ""} {
		data, _, err := Generator{}.Generate([]models.Product{{ID: "x", Name: "Charm", Price: raw}})
		require.NoError(t, err)
		records := readRows(t, data)
		assert.Equal(t, "0.01", records[1][colPrice], "price %q", raw)
		assert.Equal(t, "Unknown", records[1][colVendor])
	}
}

func TestGenerateSkipsNameless(t *testing.T) {
	data, summary, err := Generator{}.Generate([]models.Product{{ID: "x", Name: "  "}, {ID: "y", Name: "Ring"}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, readRows(t, data), 2)
}

func TestGenerateLogsSkipsToInjectedLogger(t *testing.T) {
	var logs bytes.Buffer
	g := Generator{Logger: slog.New(slog.NewTextHandler(&logs, nil))}

	_, summary, err := g.Generate([]models.Product{{ID: "nameless", Name: ""}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Contains(t, logs.String(), "export skipped product without name")
	assert.Contains(t, logs.String(), "product_id=nameless")
}

func TestWriteFileSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteFile(dir, "../../etc/my export", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "my-export.csv"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x", string(content))

	_, err = WriteFile(dir, "   ", nil)
	assert.Error(t, err)
	assert.True(t, strings.HasSuffix(DefaultFilename("job-1"), "job-1.csv"))
}
