package upcast

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// SkuLookup resolves the catalog code of a historical product with a
// three-tier fallback: CSV mapping, then a name-derived code, then an
// id-derived code. Every tier is deterministic, so upcasting the same
// payload always yields the same SKU.
type SkuLookup struct {
	mappings map[string]string
}

// NewSkuLookup builds a lookup from an explicit product id -> sku table.
func NewSkuLookup(mappings map[string]string) *SkuLookup {
	m := make(map[string]string, len(mappings))
	for k, v := range mappings {
		m[k] = v
	}
	return &SkuLookup{mappings: m}
}

// LoadSkuLookup reads the CSV mapping file at path. A missing file yields an
// empty table; the lookup then relies on the generated tiers.
func LoadSkuLookup(path string) (*SkuLookup, error) {
	if path == "" {
		return NewSkuLookup(nil), nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("No SKU mapping file found, using generated SKUs", zap.String("path", path))
		return NewSkuLookup(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open sku mappings: %w", err)
	}
	defer f.Close()

	mappings, err := ParseSkuMappings(f)
	if err != nil {
		return nil, fmt.Errorf("parse sku mappings %s: %w", path, err)
	}
	logger.Info("Loaded SKU mappings", zap.String("path", path), zap.Int("count", len(mappings)))
	return &SkuLookup{mappings: mappings}, nil
}

// ParseSkuMappings reads "product_id,sku" rows. The header row, blank lines,
// '#' comments and rows with an empty column are skipped.
func ParseSkuMappings(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	mappings := make(map[string]string)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return mappings, nil
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 2 {
			logger.Warn("Skipping malformed SKU mapping row", zap.Int("line", line))
			continue
		}
		id, sku := strings.TrimSpace(record[0]), strings.TrimSpace(record[1])
		if line == 1 && strings.EqualFold(id, "product_id") {
			continue
		}
		if id == "" || sku == "" {
			continue
		}
		mappings[id] = sku
	}
}

// SKUFor never fails.
func (l *SkuLookup) SKUFor(productID, productName string) string {
	if l != nil {
		if sku, ok := l.mappings[productID]; ok {
			return sku
		}
	}
	if strings.TrimSpace(productName) != "" {
		return domain.NameBasedSKU(productName)
	}
	return "PROD-" + productID
}

// Len returns the number of CSV mappings loaded.
func (l *SkuLookup) Len() int {
	if l == nil {
		return 0
	}
	return len(l.mappings)
}
