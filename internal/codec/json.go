package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"ipamclient/internal/repository"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// jsonSnapshot is the JSON document layout
type jsonSnapshot struct {
	Records []repository.Record `json:"records"`
}

// Parse imports records from JSON
func (c *JSONCodec) Parse(r io.Reader) ([]repository.Record, error) {
	var snap jsonSnapshot
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return snap.Records, nil
}

// Export exports records to JSON
func (c *JSONCodec) Export(records []repository.Record, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if records == nil {
		records = []repository.Record{}
	}
	if err := encoder.Encode(jsonSnapshot{Records: records}); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
