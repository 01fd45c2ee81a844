package inject

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hjson/hjson-go"
)

//go:embed default_catalog.hjson
var defaultCatalog []byte

var ErrEmptyCatalog = errors.New("inject: cell broadcast catalog is empty")

// CBEntry is one broadcast message of the catalog.
type CBEntry struct {
	MessageID uint16 `json:"message-id"`
	Serial    uint16 `json:"serial"`
	Text      string `json:"text"`
}

type Catalog []CBEntry

// LoadCatalog reads an hjson catalog file. An empty path loads the built-in
// catalog.
func LoadCatalog(path string) (Catalog, error) {
	input := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		input = b
	}
	return ParseCatalog(input)
}

func ParseCatalog(input []byte) (Catalog, error) {
	var raw []interface{}
	if err := hjson.Unmarshal(input, &raw); err != nil {
		return nil, fmt.Errorf("inject: parse catalog: %w", err)
	}
	out := make(Catalog, 0, len(raw))
	for i, re := range raw {
		if _, ok := re.(map[string]interface{}); !ok {
			return nil, fmt.Errorf("inject: catalog entry %d is not an object", i)
		}
		b, err := json.Marshal(re)
		if err != nil {
			return nil, err
		}
		var e CBEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("inject: catalog entry %d: %w", i, err)
		}
		if e.Text == "" {
			return nil, fmt.Errorf("inject: catalog entry %d has no text", i)
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, ErrEmptyCatalog
	}
	return out, nil
}
