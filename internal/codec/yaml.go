package codec

import (
	"fmt"
	"io"
	"time"

	"ipamclient/internal/repository"
	"ipamclient/internal/schema"

	"gopkg.in/yaml.v3"
)

// YAMLCodec handles YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// yamlSnapshot represents the YAML structure of a snapshot
type yamlSnapshot struct {
	Records []yamlRecord `yaml:"records"`
}

type yamlRecord struct {
	OID          string    `yaml:"oid"`
	Type         string    `yaml:"type"`
	Parent       string    `yaml:"parent,omitempty"`
	Data         []any     `yaml:"data,flow"`
	Associations []string  `yaml:"associations,omitempty,flow"`
	References   []string  `yaml:"references,omitempty,flow"`
	CreatedAt    time.Time `yaml:"created_at,omitempty"`
}

// Parse imports records from YAML
func (c *YAMLCodec) Parse(r io.Reader) ([]repository.Record, error) {
	var ys yamlSnapshot
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&ys); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	records := make([]repository.Record, 0, len(ys.Records))
	for _, yr := range ys.Records {
		rec := repository.Record{
			OID:          yr.OID,
			TypeID:       schema.TypeID(yr.Type),
			ParentOID:    yr.Parent,
			Data:         yr.Data,
			Associations: yr.Associations,
			References:   yr.References,
			CreatedAt:    yr.CreatedAt,
		}
		if rec.Data == nil {
			rec.Data = []any{}
		}
		records = append(records, rec)
	}

	return records, nil
}

// Export exports records to YAML
func (c *YAMLCodec) Export(records []repository.Record, w io.Writer) error {
	ys := yamlSnapshot{
		Records: make([]yamlRecord, 0, len(records)),
	}

	for _, rec := range records {
		ys.Records = append(ys.Records, yamlRecord{
			OID:          rec.OID,
			Type:         string(rec.TypeID),
			Parent:       rec.ParentOID,
			Data:         rec.Data,
			Associations: rec.Associations,
			References:   rec.References,
			CreatedAt:    rec.CreatedAt,
		})
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&ys); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return nil
}
