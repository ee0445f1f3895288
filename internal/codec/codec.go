package codec

import (
	"encoding/base64"
	"fmt"
	"io"
	"slices"

	"ipamclient/internal/repository"
	"ipamclient/internal/store"
)

// Importer parses a snapshot into repository records
type Importer interface {
	Parse(r io.Reader) ([]repository.Record, error)
	Format() string
}

// Exporter writes repository records as a snapshot
type Exporter interface {
	Export(records []repository.Record, w io.Writer) error
	Format() string
}

// Codec both imports and exports one format
type Codec interface {
	Importer
	Exporter
}

// ForFormat returns the codec for "yaml" or "json"
func ForFormat(format string) (Codec, error) {
	switch format {
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	case "json":
		return NewJSONCodec(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot format %q", format)
	}
}

// Snapshot collects the records of the mirrored subtree below n, n
// included, parents before children. n is at depth 0 and maxDepth limits
// the depth of the records; -1 means unlimited. Byte values are base64
// encoded so both formats carry them the same way.
func Snapshot(n *store.Node, maxDepth int) []repository.Record {
	var records []repository.Record
	for m := range n.Traverse(store.MaxDepth(maxDepth)) {
		rec := m.Record()
		rec.Data = portable(rec.Data)
		records = append(records, rec)
	}
	return records
}

// Import mirrors records into s and returns how many were loaded
func Import(s *store.Store, records []repository.Record, force bool) int {
	return s.LoadBatch(records, force)
}

func portable(data []any) []any {
	out := slices.Clone(data)
	for i, v := range out {
		switch b := v.(type) {
		case []byte:
			out[i] = base64.StdEncoding.EncodeToString(b)
		case []any:
			out[i] = portable(b)
		}
	}
	return out
}
