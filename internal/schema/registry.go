package schema

import (
	"fmt"
	"sort"
	"sync"
)

// TypeID is the short stable identifier of a node type (e.g. "D", "IP4N")
type TypeID string

// DefaultSortClass groups types that do not declare their own sort class
const DefaultSortClass = "default"

// Constructor builds a fresh payload from type-specific arguments.
// Called with no arguments when a node is hydrated from a record.
type Constructor func(args ...any) (Payload, error)

// Descriptor describes a registered node type
type Descriptor struct {
	ID        TypeID
	Name      string
	Arity     int    // number of positional data fields in a record
	SortClass string // siblings are only ordered within the same class
	New       Constructor
}

// Handle is returned by Register and declares permitted children
type Handle struct {
	reg *Registry
	id  TypeID
}

type entry struct {
	desc     *Descriptor
	children map[TypeID]struct{}
}

// Registry maps type-ids to descriptors and permitted children
type Registry struct {
	mu     sync.RWMutex
	types  map[TypeID]*entry
	names  map[string]TypeID
	root   TypeID
	frozen bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[TypeID]*entry),
		names: make(map[string]TypeID),
	}
}

// Register adds a node type and returns a handle for declaring its children
func (r *Registry) Register(desc Descriptor) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil, fmt.Errorf("register %q: %w", desc.ID, ErrFrozen)
	}
	if desc.ID == "" || desc.Name == "" {
		return nil, fmt.Errorf("register: type id and name are required")
	}
	if desc.New == nil {
		return nil, fmt.Errorf("register %q: constructor is required", desc.ID)
	}
	if desc.Arity < 0 {
		return nil, fmt.Errorf("register %q: negative arity %d", desc.ID, desc.Arity)
	}
	if _, exists := r.types[desc.ID]; exists {
		return nil, fmt.Errorf("type %q already registered", desc.ID)
	}
	if _, exists := r.names[desc.Name]; exists {
		return nil, fmt.Errorf("type name %q already registered", desc.Name)
	}
	if desc.SortClass == "" {
		desc.SortClass = DefaultSortClass
	}

	d := desc
	r.types[d.ID] = &entry{desc: &d, children: make(map[TypeID]struct{})}
	r.names[d.Name] = d.ID

	return &Handle{reg: r, id: d.ID}, nil
}

// MustRegister is like Register but panics on error. Meant for init code
// that registers a fixed, known-good set of types.
func (r *Registry) MustRegister(desc Descriptor) *Handle {
	h, err := r.Register(desc)
	if err != nil {
		panic(err)
	}
	return h
}

// AllowChild declares child types permitted directly under the handle's type.
// The child types do not need to be registered yet.
func (h *Handle) AllowChild(ids ...TypeID) *Handle {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()

	if h.reg.frozen {
		panic(fmt.Sprintf("allow child on %q: %v", h.id, ErrFrozen))
	}
	e := h.reg.types[h.id]
	for _, id := range ids {
		e.children[id] = struct{}{}
	}
	return h
}

// ID returns the type-id the handle refers to
func (h *Handle) ID() TypeID {
	return h.id
}

// AllowChild declares permitted children for an already registered type
func (r *Registry) AllowChild(parent TypeID, ids ...TypeID) error {
	r.mu.RLock()
	_, ok := r.types[parent]
	r.mu.RUnlock()
	if !ok {
		return UnknownTypeError(parent)
	}
	if r.Frozen() {
		return fmt.Errorf("allow child on %q: %w", parent, ErrFrozen)
	}
	(&Handle{reg: r, id: parent}).AllowChild(ids...)
	return nil
}

// SetRoot designates the type of the store's synthetic root node
func (r *Registry) SetRoot(id TypeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("set root %q: %w", id, ErrFrozen)
	}
	if _, ok := r.types[id]; !ok {
		return UnknownTypeError(id)
	}
	r.root = id
	return nil
}

// Root returns the root type-id, empty if none was set
func (r *Registry) Root() TypeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root
}

// Freeze makes the registry immutable
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether the registry has been frozen
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// IsValidChild reports whether child may appear directly under parent.
// Unregistered parents never accept children.
func (r *Registry) IsValidChild(parent, child TypeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.types[parent]
	if !ok {
		return false
	}
	_, ok = e.children[child]
	return ok
}

// Lookup returns the descriptor of a type
func (r *Registry) Lookup(id TypeID) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.types[id]
	if !ok {
		return nil, false
	}
	return e.desc, true
}

// IDForName returns the type-id registered under a human readable name
func (r *Registry) IDForName(name string) (TypeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.names[name]
	return id, ok
}

// New dispatches to the constructor of the given type
func (r *Registry) New(id TypeID, args ...any) (Payload, error) {
	desc, ok := r.Lookup(id)
	if !ok {
		return nil, UnknownTypeError(id)
	}
	p, err := desc.New(args...)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", desc.Name, err)
	}
	return p, nil
}

// Types returns all registered type-ids in sorted order
func (r *Registry) Types() []TypeID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]TypeID, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Children returns the permitted child type-ids of a type in sorted order
func (r *Registry) Children(id TypeID) []TypeID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.types[id]
	if !ok {
		return nil
	}
	ids := make([]TypeID, 0, len(e.children))
	for child := range e.children {
		ids = append(ids, child)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
