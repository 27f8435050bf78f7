package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a catalog from a JSON file and validates it. Fields absent
// from the file stay at their zero values, so a file is expected to be a
// complete catalog, not a patch over Default.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return &c, nil
}
