package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"

	"ipamclient/internal/repository"
	"ipamclient/internal/repository/sqlite"
	"ipamclient/internal/schema"
)

// ============================================================================
// Test Payloads
// ============================================================================

type folder struct{}

func newFolder(args ...any) (schema.Payload, error) { return &folder{}, nil }

func (f *folder) Fields() []any                         { return []any{} }
func (f *folder) Load(_ []any, _ schema.Resolver) error { return nil }
func (f *folder) CopyArgs() []any                       { return nil }

// item carries a label and orders by it
type item struct {
	label string
}

func newItem(args ...any) (schema.Payload, error) {
	it := &item{}
	if len(args) > 0 {
		label, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("label must be a string, got %T", args[0])
		}
		it.label = label
	}
	return it, nil
}

func (i *item) Fields() []any { return []any{i.label} }

func (i *item) Load(fields []any, _ schema.Resolver) error {
	label, ok := fields[0].(string)
	if !ok {
		return fmt.Errorf("label must be a string, got %T", fields[0])
	}
	i.label = label
	return nil
}

func (i *item) Validate() error {
	if i.label == "" {
		return errors.New("empty label")
	}
	return nil
}

func (i *item) Compare(other schema.Payload) (int, bool) {
	o, ok := other.(*item)
	if !ok {
		return 0, false
	}
	return cmp.Compare(i.label, o.label), true
}

func (i *item) CopyArgs() []any { return []any{i.label} }

// attr is a name/type/value attribute
type attr struct {
	name  string
	typ   string
	value any
}

func newAttr(args ...any) (schema.Payload, error) {
	a := &attr{}
	if len(args) == 3 {
		a.name, _ = args[0].(string)
		a.typ, _ = args[1].(string)
		a.value = args[2]
	}
	return a, nil
}

func (a *attr) Fields() []any { return []any{a.name, a.typ, a.value} }

func (a *attr) Load(fields []any, _ schema.Resolver) error {
	a.name, _ = fields[0].(string)
	a.typ, _ = fields[1].(string)
	a.value = fields[2]
	return nil
}

func (a *attr) AttributeName() string { return a.name }
func (a *attr) AttributeType() string { return a.typ }
func (a *attr) AttributeValue() any   { return a.value }
func (a *attr) CopyArgs() []any       { return []any{a.name, a.typ, a.value} }

func (a *attr) Compare(other schema.Payload) (int, bool) {
	o, ok := other.(*attr)
	if !ok {
		return 0, false
	}
	return cmp.Compare(a.name, o.name), true
}

// ref holds an OID and records whether it resolved while loading
type ref struct {
	target   string
	resolved bool
}

func newRef(args ...any) (schema.Payload, error) {
	r := &ref{}
	if len(args) > 0 {
		r.target, _ = args[0].(string)
	}
	return r, nil
}

func (r *ref) Fields() []any { return []any{r.target} }

func (r *ref) Load(fields []any, res schema.Resolver) error {
	r.target, _ = fields[0].(string)
	_, r.resolved = res.Resolve(r.target)
	return nil
}

// ============================================================================
// Test Helpers
// ============================================================================

// newTestRegistry declares Root -> {Folder}, Folder -> {Folder, Item,
// Attribute, Ref}, Item -> {Attribute}, Attribute -> {Attribute}
func newTestRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	reg.MustRegister(schema.Descriptor{ID: "R", Name: "Root", New: newFolder}).AllowChild("F")
	reg.MustRegister(schema.Descriptor{ID: "F", Name: "Folder", New: newFolder}).AllowChild("F", "I", "A", "L")
	reg.MustRegister(schema.Descriptor{ID: "I", Name: "Item", Arity: 1, SortClass: "item", New: newItem}).AllowChild("A")
	reg.MustRegister(schema.Descriptor{ID: "A", Name: "Attribute", Arity: 3, SortClass: "attribute", New: newAttr}).AllowChild("A")
	reg.MustRegister(schema.Descriptor{ID: "L", Name: "Ref", Arity: 1, New: newRef})
	if err := reg.SetRoot("R"); err != nil {
		t.Fatalf("set root: %v", err)
	}
	return reg
}

// faultyRepo wraps a repository, counts calls and fails the ones listed
// in failOn
type faultyRepo struct {
	repository.Repository
	failOn map[string]error
	calls  map[string]int
}

func (f *faultyRepo) call(op string) error {
	f.calls[op]++
	return f.failOn[op]
}

func (f *faultyRepo) Create(ctx context.Context, parentOID string, typeID schema.TypeID, fields []any) (string, error) {
	if err := f.call("create"); err != nil {
		return "", err
	}
	return f.Repository.Create(ctx, parentOID, typeID, fields)
}

func (f *faultyRepo) Delete(ctx context.Context, oid string, opts repository.DeleteOptions) error {
	if err := f.call("delete"); err != nil {
		return err
	}
	return f.Repository.Delete(ctx, oid, opts)
}

func (f *faultyRepo) Relocate(ctx context.Context, oid, newParentOID string) error {
	if err := f.call("relocate"); err != nil {
		return err
	}
	return f.Repository.Relocate(ctx, oid, newParentOID)
}

func (f *faultyRepo) UpdateField(ctx context.Context, oid string, index int, value any) error {
	if err := f.call("update"); err != nil {
		return err
	}
	return f.Repository.UpdateField(ctx, oid, index, value)
}

func (f *faultyRepo) Link(ctx context.Context, fromOID, toOID string) error {
	if err := f.call("link"); err != nil {
		return err
	}
	return f.Repository.Link(ctx, fromOID, toOID)
}

func (f *faultyRepo) Unlink(ctx context.Context, fromOID, toOID string) error {
	if err := f.call("unlink"); err != nil {
		return err
	}
	return f.Repository.Unlink(ctx, fromOID, toOID)
}

func (f *faultyRepo) Fetch(ctx context.Context, req repository.FetchRequest) (repository.Page, error) {
	if err := f.call("fetch"); err != nil {
		return repository.Page{}, err
	}
	return f.Repository.Fetch(ctx, req)
}

var errBoom = errors.New("boom")

// newTestRepo creates an in-memory sandbox wrapped for fault injection
func newTestRepo(t *testing.T, reg *schema.Registry) *faultyRepo {
	t.Helper()
	repo, err := sqlite.New(":memory:", reg, sqlite.WithAttributeTypes("A"))
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return &faultyRepo{Repository: repo, failOn: map[string]error{}, calls: map[string]int{}}
}

// newTestStoreOn creates a fresh store (a new session) on repo
func newTestStoreOn(t *testing.T, repo repository.Repository, reg *schema.Registry) *Store {
	t.Helper()
	s, err := New(repo, reg, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func newTestStore(t *testing.T) (*Store, *faultyRepo) {
	t.Helper()
	reg := newTestRegistry(t)
	repo := newTestRepo(t, reg)
	return newTestStoreOn(t, repo, reg), repo
}

func mustCommit(t *testing.T, parent *Node, id schema.TypeID, args ...any) *Node {
	t.Helper()
	n, err := parent.CommitChild(context.Background(), id, args...)
	if err != nil {
		t.Fatalf("commit %s under %s: %v", id, parent, err)
	}
	return n
}

// assertNoError fails the test if err is not nil
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// assertErrorIs fails the test if err does not wrap target
func assertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v, got %v", target, err)
	}
}

// assertNodes fails the test unless got holds exactly want, in order
func assertNodes(t *testing.T, want, got []*Node) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func contains(nodes []*Node, n *Node) bool {
	for _, m := range nodes {
		if m == n {
			return true
		}
	}
	return false
}
