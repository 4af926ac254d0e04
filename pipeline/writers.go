package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/store"
)

// StoreWriter upserts batches into the product store.
type StoreWriter struct {
	products *store.Products
	written  atomic.Int64
}

// NewStoreWriter returns a writer backed by products.
func NewStoreWriter(products *store.Products) *StoreWriter {
	return &StoreWriter{products: products}
}

// Write upserts products.
func (sw *StoreWriter) Write(products []*models.Product) error {
	batch := make([]models.Product, 0, len(products))
	for _, p := range products {
		batch = append(batch, *p)
	}
	sw.written.Add(int64(sw.products.UpsertMany(batch)))
	return nil
}

// Close is a no-op; the store outlives the pipeline.
func (sw *StoreWriter) Close() error {
	return nil
}

// Validate is a no-op; an empty listing is a legitimate outcome.
func (sw *StoreWriter) Validate() error {
	return nil
}

// Written returns the number of products upserted so far.
func (sw *StoreWriter) Written() int {
	return int(sw.written.Load())
}

// JSONWriter writes newline-delimited JSON records, used for crawl snapshots.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends products in JSONL format.
func (jw *JSONWriter) Write(products []*models.Product) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, p := range products {
		if err := jw.encoder.Encode(p); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
