package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"ipamclient/internal/repository"
	"ipamclient/internal/schema"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultPageSize is the number of records per fetch page
const DefaultPageSize = 100

// RootOID is the OID of the synthetic root row
const RootOID = "0"

// Repository implements repository.Repository on top of SQLite. It plays
// the part of the remote server: it mints OIDs and enforces containment
// and arity through the schema registry.
type Repository struct {
	db       *sql.DB
	reg      *schema.Registry
	pageSize int
	// attribute types have their matches attributed to the nearest
	// non-attribute ancestor during search
	attrTypes map[schema.TypeID]struct{}
	now       func() time.Time

	mu      sync.Mutex
	cursors map[string]*cursor
}

// cursor holds the remaining pages of a paged response
type cursor struct {
	fetch  []repository.Page
	search []repository.SearchPage
}

// Option configures a Repository
type Option func(*Repository)

// WithPageSize sets the number of records (fetch) or matches (search)
// returned per page
func WithPageSize(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithAttributeTypes marks node types whose first field is an attribute
// name; search hits on them are reported as their owning node
func WithAttributeTypes(ids ...schema.TypeID) Option {
	return func(r *Repository) {
		for _, id := range ids {
			r.attrTypes[id] = struct{}{}
		}
	}
}

// WithClock overrides the creation time source
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// New opens (or creates) a sandbox database. The registry must have a
// root type; the root row is created with OID 0.
func New(dbPath string, reg *schema.Registry, opts ...Option) (*Repository, error) {
	if reg.Root() == "" {
		return nil, fmt.Errorf("registry has no root type")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	repo := &Repository{
		db:        db,
		reg:       reg,
		pageSize:  DefaultPageSize,
		attrTypes: make(map[schema.TypeID]struct{}),
		now:       time.Now,
		cursors:   make(map[string]*cursor),
	}
	for _, opt := range opts {
		opt(repo)
	}

	if err := repo.migrate(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate(dbPath string) error {
	if dbPath != ":memory:" {
		if _, err := r.db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
			return err
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		oid INTEGER PRIMARY KEY AUTOINCREMENT,
		type_id TEXT NOT NULL,
		parent_oid INTEGER,
		data JSON NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS links (
		from_oid INTEGER NOT NULL,
		to_oid INTEGER NOT NULL,
		PRIMARY KEY (from_oid, to_oid)
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_oid);
	CREATE INDEX IF NOT EXISTS idx_links_to ON links(to_oid);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return err
	}

	// the root row carries the default fields of the root type
	root, err := r.reg.New(r.reg.Root())
	if err != nil {
		return err
	}
	data, err := marshalData(root.Fields())
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		INSERT OR IGNORE INTO nodes (oid, type_id, parent_oid, data, created_at)
		VALUES (0, ?, NULL, ?, ?)
	`, string(r.reg.Root()), data, r.now().UnixNano())
	return err
}

// Create inserts a node under parentOID and returns its new OID
func (r *Repository) Create(ctx context.Context, parentOID string, typeID schema.TypeID, fields []any) (string, error) {
	parent, err := parseOID(parentOID)
	if err != nil {
		return "", err
	}

	desc, ok := r.reg.Lookup(typeID)
	if !ok {
		return "", schema.UnknownTypeError(typeID)
	}
	if len(fields) != desc.Arity {
		return "", fmt.Errorf("create %s: %w: expected %d fields, got %d",
			desc.Name, repository.ErrInvalidData, desc.Arity, len(fields))
	}
	data, err := marshalData(fields)
	if err != nil {
		return "", fmt.Errorf("create %s: %w: %v", desc.Name, repository.ErrInvalidData, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	parentType, err := typeOf(ctx, tx, parent)
	if err != nil {
		return "", err
	}
	if !r.reg.IsValidChild(parentType, typeID) {
		return "", schema.InvalidChildError(parentType, typeID)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (type_id, parent_oid, data, created_at)
		VALUES (?, ?, ?, ?)
	`, string(typeID), parent, data, r.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert node: %w", err)
	}
	oid, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to read new oid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return formatOID(oid), nil
}

// Delete removes a node. Without Recursive the node must be a leaf.
func (r *Repository) Delete(ctx context.Context, oid string, opts repository.DeleteOptions) error {
	id, err := parseOID(oid)
	if err != nil {
		return err
	}
	if id == 0 {
		return fmt.Errorf("delete %s: %w", oid, repository.ErrRootNode)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := typeOf(ctx, tx, id); err != nil {
		return err
	}

	victims := []int64{id}
	if opts.Recursive {
		sub, err := subtree(ctx, tx, id, repository.Unlimited)
		if err != nil {
			return err
		}
		victims = sub.oids
	} else {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM nodes WHERE parent_oid = ?`, id).Scan(&n); err != nil {
			return fmt.Errorf("failed to count children: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("delete %s: %w", oid, repository.ErrHasChildren)
		}
	}

	var linked []int64
	if opts.PruneLinked {
		linked, err = linkedOutside(ctx, tx, victims)
		if err != nil {
			return err
		}
	}

	if err := deleteNodes(ctx, tx, victims); err != nil {
		return err
	}

	for _, other := range linked {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM links WHERE from_oid = ? OR to_oid = ?`, other, other).Scan(&n); err != nil {
			return fmt.Errorf("failed to count links: %w", err)
		}
		if n > 0 || other == 0 {
			continue
		}
		sub, err := subtree(ctx, tx, other, repository.Unlimited)
		if err != nil {
			return err
		}
		if err := deleteNodes(ctx, tx, sub.oids); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Relocate moves a node under a new parent
func (r *Repository) Relocate(ctx context.Context, oid, newParentOID string) error {
	id, err := parseOID(oid)
	if err != nil {
		return err
	}
	parent, err := parseOID(newParentOID)
	if err != nil {
		return err
	}
	if id == 0 {
		return fmt.Errorf("relocate %s: %w", oid, repository.ErrRootNode)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	childType, err := typeOf(ctx, tx, id)
	if err != nil {
		return err
	}
	parentType, err := typeOf(ctx, tx, parent)
	if err != nil {
		return err
	}
	if !r.reg.IsValidChild(parentType, childType) {
		return schema.InvalidChildError(parentType, childType)
	}

	sub, err := subtree(ctx, tx, id, repository.Unlimited)
	if err != nil {
		return err
	}
	if sub.contains(parent) {
		return fmt.Errorf("relocate %s under %s: %w", oid, newParentOID, repository.ErrCycle)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE nodes SET parent_oid = ? WHERE oid = ?`, parent, id); err != nil {
		return fmt.Errorf("failed to move node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateField replaces one positional field of a node
func (r *Repository) UpdateField(ctx context.Context, oid string, index int, value any) error {
	id, err := parseOID(oid)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT data FROM nodes WHERE oid = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("oid %s: %w", oid, repository.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query node: %w", err)
	}

	fields, err := unmarshalData(raw)
	if err != nil {
		return fmt.Errorf("failed to unmarshal node data: %w", err)
	}
	if index < 0 || index >= len(fields) {
		return fmt.Errorf("update %s field %d: %w: index out of range", oid, index, repository.ErrInvalidData)
	}
	fields[index] = value

	data, err := marshalData(fields)
	if err != nil {
		return fmt.Errorf("update %s: %w: %v", oid, repository.ErrInvalidData, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE nodes SET data = ? WHERE oid = ?`, data, id); err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Link creates an association from one node to another
func (r *Repository) Link(ctx context.Context, fromOID, toOID string) error {
	from, to, err := r.linkEnds(ctx, fromOID, toOID)
	if err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("link %s to itself: %w", fromOID, repository.ErrInvalidData)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO links (from_oid, to_oid) VALUES (?, ?)`, from, to)
	if err != nil {
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

// Unlink removes an association
func (r *Repository) Unlink(ctx context.Context, fromOID, toOID string) error {
	from, to, err := r.linkEnds(ctx, fromOID, toOID)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM links WHERE from_oid = ? AND to_oid = ?`, from, to)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("link %s -> %s: %w", fromOID, toOID, repository.ErrNotFound)
	}
	return nil
}

func (r *Repository) linkEnds(ctx context.Context, fromOID, toOID string) (int64, int64, error) {
	from, err := parseOID(fromOID)
	if err != nil {
		return 0, 0, err
	}
	to, err := parseOID(toOID)
	if err != nil {
		return 0, 0, err
	}
	for _, id := range []int64{from, to} {
		if _, err := typeOf(ctx, r.db, id); err != nil {
			return 0, 0, err
		}
	}
	return from, to, nil
}

// Fetch returns the requested nodes, their descendants down to MaxDepth
// and optionally their ancestors and linked nodes. Parents always come
// before their children in the result. Unknown OIDs are ignored.
func (r *Repository) Fetch(ctx context.Context, req repository.FetchRequest) (repository.Page, error) {
	set := newOIDSet()

	for _, oid := range req.OIDs {
		id, err := parseOID(oid)
		if err != nil {
			continue
		}
		if req.IncludeParents {
			anc, err := ancestors(ctx, r.db, id)
			if err != nil {
				return repository.Page{}, err
			}
			set.add(anc...)
		}
		sub, err := subtree(ctx, r.db, id, req.MaxDepth)
		if err != nil {
			return repository.Page{}, err
		}
		set.add(sub.oids...)
	}

	if req.IncludeAssociations || req.IncludeReferences {
		linked, err := linksOf(ctx, r.db, set.list(), req.IncludeAssociations, req.IncludeReferences)
		if err != nil {
			return repository.Page{}, err
		}
		for _, id := range linked {
			if set.has(id) {
				continue
			}
			if req.IncludeParents {
				anc, err := ancestors(ctx, r.db, id)
				if err != nil {
					return repository.Page{}, err
				}
				set.add(anc...)
			}
			set.add(id)
		}
	}

	records, err := loadRecords(ctx, r.db, set.list())
	if err != nil {
		return repository.Page{}, err
	}

	pages := paginate(parentFirst(records), r.pageSize)
	first := pages[0]
	if len(pages) > 1 {
		first.Next = r.saveCursor(&cursor{fetch: pages[1:]})
	}
	return first, nil
}

// FetchNext returns the next page of a fetch
func (r *Repository) FetchNext(ctx context.Context, token string) (repository.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cursors[token]
	if !ok || len(c.fetch) == 0 {
		return repository.Page{}, fmt.Errorf("fetch cursor %q: %w", token, repository.ErrCursorExpired)
	}
	page := c.fetch[0]
	c.fetch = c.fetch[1:]
	if len(c.fetch) == 0 {
		delete(r.cursors, token)
	} else {
		page.Next = token
	}
	return page, nil
}

// SearchNext returns the next page of a search
func (r *Repository) SearchNext(ctx context.Context, token string) (repository.SearchPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cursors[token]
	if !ok || len(c.search) == 0 {
		return repository.SearchPage{}, fmt.Errorf("search cursor %q: %w", token, repository.ErrCursorExpired)
	}
	page := c.search[0]
	c.search = c.search[1:]
	if len(c.search) == 0 {
		delete(r.cursors, token)
	} else {
		page.Next = token
	}
	return page, nil
}

func (r *Repository) saveCursor(c *cursor) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := uuid.NewString()
	r.cursors[token] = c
	return token
}

// Close releases resources
func (r *Repository) Close() error {
	return r.db.Close()
}

// paginate splits records into pages; there is always at least one page
func paginate(records []repository.Record, size int) []repository.Page {
	var pages []repository.Page
	for len(records) > size {
		pages = append(pages, repository.Page{Records: records[:size]})
		records = records[size:]
	}
	return append(pages, repository.Page{Records: records})
}
