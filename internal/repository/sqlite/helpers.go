package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ipamclient/internal/repository"
	"ipamclient/internal/schema"
)

// queryer is satisfied by both *sql.DB and *sql.Tx. The database has a
// single connection, so code running inside a transaction must query
// through the transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ============================================================================
// OID Conversion Helpers
// ============================================================================

// parseOID converts a client OID to a row id
func parseOID(oid string) (int64, error) {
	id, err := strconv.ParseInt(oid, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("oid %q: %w", oid, repository.ErrNotFound)
	}
	return id, nil
}

// formatOID converts a row id to a client OID
func formatOID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// nullToOID converts a nullable parent column, empty for the root
func nullToOID(n sql.NullInt64) string {
	if n.Valid {
		return formatOID(n.Int64)
	}
	return ""
}

// placeholders returns "?, ?, ..." for n arguments
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// marshalData encodes positional data, never as null
func marshalData(fields []any) (string, error) {
	if fields == nil {
		fields = []any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalData decodes positional data. Numbers come back as float64.
func unmarshalData(raw string) ([]any, error) {
	fields := []any{}
	if raw == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// ============================================================================
// Node Row Scanner
// ============================================================================

// nodeRow holds all columns from a node query for scanning
type nodeRow struct {
	OID       int64
	TypeID    string
	ParentOID sql.NullInt64
	Data      string
	CreatedAt int64
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match nodeColumns order exactly:
// oid, type_id, parent_oid, data, created_at
func (r *nodeRow) scanArgs() []any {
	return []any{
		&r.OID,       // 1
		&r.TypeID,    // 2
		&r.ParentOID, // 3
		&r.Data,      // 4
		&r.CreatedAt, // 5
	}
}

// toRecord converts the scanned row to a record without links
func (r *nodeRow) toRecord() (repository.Record, error) {
	data, err := unmarshalData(r.Data)
	if err != nil {
		return repository.Record{}, fmt.Errorf("unmarshal data of %d: %w", r.OID, err)
	}
	return repository.Record{
		OID:       formatOID(r.OID),
		TypeID:    schema.TypeID(r.TypeID),
		ParentOID: nullToOID(r.ParentOID),
		Data:      data,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}

// nodeColumns returns the SELECT column list for node queries
const nodeColumns = `oid, type_id, parent_oid, data, created_at`

// ============================================================================
// Tree Queries
// ============================================================================

// typeOf returns the type of a node, ErrNotFound if it does not exist
func typeOf(ctx context.Context, q queryer, id int64) (schema.TypeID, error) {
	var typeID string
	err := q.QueryRowContext(ctx, `SELECT type_id FROM nodes WHERE oid = ?`, id).Scan(&typeID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("oid %d: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query node: %w", err)
	}
	return schema.TypeID(typeID), nil
}

// subtreeResult is a node and its descendants ordered by depth
type subtreeResult struct {
	oids []int64
	set  map[int64]struct{}
}

func (s *subtreeResult) contains(id int64) bool {
	_, ok := s.set[id]
	return ok
}

// subtree returns id and its descendants down to maxDepth levels below
// it. A missing node yields an empty result.
func subtree(ctx context.Context, q queryer, id int64, maxDepth int) (*subtreeResult, error) {
	rows, err := q.QueryContext(ctx, `
		WITH RECURSIVE sub(oid, depth) AS (
			SELECT oid, 0 FROM nodes WHERE oid = ?
			UNION ALL
			SELECT n.oid, sub.depth + 1 FROM nodes n JOIN sub ON n.parent_oid = sub.oid
			WHERE ? < 0 OR sub.depth < ?
		)
		SELECT oid FROM sub ORDER BY depth, oid
	`, id, maxDepth, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtree: %w", err)
	}
	defer rows.Close()

	res := &subtreeResult{set: make(map[int64]struct{})}
	for rows.Next() {
		var oid int64
		if err := rows.Scan(&oid); err != nil {
			return nil, fmt.Errorf("failed to scan subtree: %w", err)
		}
		res.oids = append(res.oids, oid)
		res.set[oid] = struct{}{}
	}
	return res, rows.Err()
}

// ancestors returns the chain from the root down to and including id
func ancestors(ctx context.Context, q queryer, id int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		WITH RECURSIVE anc(oid, parent_oid, depth) AS (
			SELECT oid, parent_oid, 0 FROM nodes WHERE oid = ?
			UNION ALL
			SELECT n.oid, n.parent_oid, anc.depth + 1 FROM nodes n JOIN anc ON n.oid = anc.parent_oid
		)
		SELECT oid FROM anc ORDER BY depth DESC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query ancestors: %w", err)
	}
	defer rows.Close()

	var chain []int64
	for rows.Next() {
		var oid int64
		if err := rows.Scan(&oid); err != nil {
			return nil, fmt.Errorf("failed to scan ancestors: %w", err)
		}
		chain = append(chain, oid)
	}
	return chain, rows.Err()
}

// linksOf returns the far ends of links touching ids
func linksOf(ctx context.Context, q queryer, ids []int64, outgoing, incoming bool) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in := placeholders(len(ids))
	var parts []string
	var args []any
	if outgoing {
		parts = append(parts, `SELECT to_oid FROM links WHERE from_oid IN (`+in+`)`)
		args = append(args, int64Args(ids)...)
	}
	if incoming {
		parts = append(parts, `SELECT from_oid FROM links WHERE to_oid IN (`+in+`)`)
		args = append(args, int64Args(ids)...)
	}

	rows, err := q.QueryContext(ctx, strings.Join(parts, " UNION ")+" ORDER BY 1", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var oid int64
		if err := rows.Scan(&oid); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		out = append(out, oid)
	}
	return out, rows.Err()
}

// linkedOutside returns nodes linked to ids that are not in ids
func linkedOutside(ctx context.Context, q queryer, ids []int64) ([]int64, error) {
	linked, err := linksOf(ctx, q, ids, true, true)
	if err != nil {
		return nil, err
	}
	inside := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		inside[id] = struct{}{}
	}
	var out []int64
	for _, id := range linked {
		if _, ok := inside[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// deleteNodes removes nodes and every link touching them
func deleteNodes(ctx context.Context, q queryer, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	in := placeholders(len(ids))
	args := int64Args(ids)

	if _, err := q.ExecContext(ctx,
		`DELETE FROM links WHERE from_oid IN (`+in+`) OR to_oid IN (`+in+`)`,
		append(args, args...)...); err != nil {
		return fmt.Errorf("failed to delete links: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM nodes WHERE oid IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}
	return nil
}

// loadRecords reads the records of ids, with their links, in the order
// of ids. Missing ids are skipped.
func loadRecords(ctx context.Context, q queryer, ids []int64) ([]repository.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in := placeholders(len(ids))
	args := int64Args(ids)

	rows, err := q.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE oid IN (`+in+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	byOID := make(map[string]*repository.Record, len(ids))
	for rows.Next() {
		var row nodeRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		byOID[rec.OID] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	linkRows, err := q.QueryContext(ctx, `
		SELECT from_oid, to_oid FROM links
		WHERE from_oid IN (`+in+`) OR to_oid IN (`+in+`)
		ORDER BY from_oid, to_oid
	`, append(args, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var from, to int64
		if err := linkRows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		if rec := byOID[formatOID(from)]; rec != nil {
			rec.Associations = append(rec.Associations, formatOID(to))
		}
		if rec := byOID[formatOID(to)]; rec != nil {
			rec.References = append(rec.References, formatOID(from))
		}
	}
	if err := linkRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}

	records := make([]repository.Record, 0, len(byOID))
	for _, id := range ids {
		if rec := byOID[formatOID(id)]; rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// parentFirst reorders records so that every record whose parent is in
// the set comes after its parent. Otherwise the input order is kept.
func parentFirst(records []repository.Record) []repository.Record {
	index := make(map[string]int, len(records))
	for i, rec := range records {
		index[rec.OID] = i
	}

	out := make([]repository.Record, 0, len(records))
	emitted := make(map[string]bool, len(records))
	var emit func(i int)
	emit = func(i int) {
		rec := records[i]
		if emitted[rec.OID] {
			return
		}
		emitted[rec.OID] = true
		if p, ok := index[rec.ParentOID]; ok {
			emit(p)
		}
		out = append(out, rec)
	}
	for i := range records {
		emit(i)
	}
	return out
}

// ============================================================================
// OID Sets
// ============================================================================

// oidSet is an insertion ordered set of row ids
type oidSet struct {
	order []int64
	seen  map[int64]struct{}
}

func newOIDSet() *oidSet {
	return &oidSet{seen: make(map[int64]struct{})}
}

func (s *oidSet) add(ids ...int64) {
	for _, id := range ids {
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.order = append(s.order, id)
	}
}

func (s *oidSet) has(id int64) bool {
	_, ok := s.seen[id]
	return ok
}

func (s *oidSet) list() []int64 {
	return s.order
}
