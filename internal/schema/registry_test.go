package schema

import (
	"errors"
	"testing"
)

type stubPayload struct {
	fields []any
}

func (p *stubPayload) Fields() []any { return p.fields }

func (p *stubPayload) Load(fields []any, _ Resolver) error {
	p.fields = fields
	return nil
}

func newStub(args ...any) (Payload, error) {
	return &stubPayload{fields: args}, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(Descriptor{ID: "R", Name: "root", New: newStub}).AllowChild("F")
	reg.MustRegister(Descriptor{ID: "F", Name: "folder", New: newStub}).AllowChild("F", "I")
	reg.MustRegister(Descriptor{ID: "I", Name: "item", Arity: 1, SortClass: "item", New: newStub})
	if err := reg.SetRoot("R"); err != nil {
		t.Fatalf("set root: %v", err)
	}
	return reg
}

func TestRegister(t *testing.T) {
	t.Run("defaults sort class", func(t *testing.T) {
		reg := newTestRegistry(t)
		desc, ok := reg.Lookup("F")
		if !ok {
			t.Fatal("expected folder to be registered")
		}
		if desc.SortClass != DefaultSortClass {
			t.Errorf("expected sort class %s, got %s", DefaultSortClass, desc.SortClass)
		}
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		reg := newTestRegistry(t)
		if _, err := reg.Register(Descriptor{ID: "F", Name: "other", New: newStub}); err == nil {
			t.Error("expected error for duplicate id")
		}
	})

	t.Run("rejects duplicate name", func(t *testing.T) {
		reg := newTestRegistry(t)
		if _, err := reg.Register(Descriptor{ID: "X", Name: "folder", New: newStub}); err == nil {
			t.Error("expected error for duplicate name")
		}
	})

	t.Run("rejects missing constructor", func(t *testing.T) {
		reg := NewRegistry()
		if _, err := reg.Register(Descriptor{ID: "X", Name: "x"}); err == nil {
			t.Error("expected error for missing constructor")
		}
	})

	t.Run("rejects registration after freeze", func(t *testing.T) {
		reg := newTestRegistry(t)
		reg.Freeze()
		_, err := reg.Register(Descriptor{ID: "X", Name: "x", New: newStub})
		if !errors.Is(err, ErrFrozen) {
			t.Errorf("expected ErrFrozen, got %v", err)
		}
		if err := reg.AllowChild("R", "I"); !errors.Is(err, ErrFrozen) {
			t.Errorf("expected ErrFrozen from AllowChild, got %v", err)
		}
		if err := reg.SetRoot("F"); !errors.Is(err, ErrFrozen) {
			t.Errorf("expected ErrFrozen from SetRoot, got %v", err)
		}
	})
}

func TestIsValidChild(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		name   string
		parent TypeID
		child  TypeID
		want   bool
	}{
		{"root accepts folder", "R", "F", true},
		{"root rejects item", "R", "I", false},
		{"folder accepts folder", "F", "F", true},
		{"folder accepts item", "F", "I", true},
		{"item accepts nothing", "I", "F", false},
		{"unregistered parent fails closed", "X", "F", false},
		{"unregistered child", "F", "X", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.IsValidChild(tt.parent, tt.child); got != tt.want {
				t.Errorf("IsValidChild(%s, %s) = %v, want %v", tt.parent, tt.child, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	reg := newTestRegistry(t)

	t.Run("dispatches to constructor", func(t *testing.T) {
		p, err := reg.New("I", "value")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(p.Fields()) != 1 || p.Fields()[0] != "value" {
			t.Errorf("expected fields [value], got %v", p.Fields())
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := reg.New("X")
		if !errors.Is(err, ErrUnknownType) {
			t.Errorf("expected ErrUnknownType, got %v", err)
		}
	})
}

func TestIDForName(t *testing.T) {
	reg := newTestRegistry(t)

	if id, ok := reg.IDForName("item"); !ok || id != "I" {
		t.Errorf("expected I, got %q (%v)", id, ok)
	}
	if _, ok := reg.IDForName("nothing"); ok {
		t.Error("expected unknown name to miss")
	}
}

func TestRootAndListing(t *testing.T) {
	reg := newTestRegistry(t)

	if reg.Root() != "R" {
		t.Errorf("expected root R, got %s", reg.Root())
	}
	if err := reg.SetRoot("X"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}

	types := reg.Types()
	if len(types) != 3 || types[0] != "F" || types[1] != "I" || types[2] != "R" {
		t.Errorf("unexpected types %v", types)
	}
	children := reg.Children("F")
	if len(children) != 2 || children[0] != "F" || children[1] != "I" {
		t.Errorf("unexpected children %v", children)
	}
}
