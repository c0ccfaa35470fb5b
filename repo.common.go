package main

import (
	"encoding/json"
	"fmt"
)

// DecodeCatalog parses a stored catalog document and validates it. An empty
// document decodes into an empty catalog.
func DecodeCatalog(data []byte) (*Catalog, error) {
	catalog := NewCatalog()
	if len(data) == 0 {
		return catalog, nil
	}
	if err := json.Unmarshal(data, catalog); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	catalog.normalize()
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return catalog, nil
}

// EncodeCatalog validates then serializes the catalog document.
func EncodeCatalog(catalog *Catalog) ([]byte, error) {
	catalog.normalize()
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return json.Marshal(catalog)
}
