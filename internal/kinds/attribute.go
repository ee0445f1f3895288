package kinds

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"ipamclient/internal/schema"
	"ipamclient/internal/store"
)

// Attribute value types
const (
	TypeText   = "text"
	TypeInt    = "int"
	TypeBool   = "bool"
	TypeBinary = "binary"
)

// AttributePayload is a name, type and value triple attached to another node
type AttributePayload struct {
	Name  string
	Type  string
	Value any
}

func newAttribute(args ...any) (schema.Payload, error) {
	a := &AttributePayload{}
	switch len(args) {
	case 0:
		return a, nil
	case 3:
		return a, a.Load(args, nil)
	default:
		return nil, errArgs(3, len(args))
	}
}

func (a *AttributePayload) Fields() []any { return []any{a.Name, a.Type, a.Value} }

func (a *AttributePayload) Load(fields []any, _ schema.Resolver) error {
	name, err := stringArg(fields[0], "attribute name")
	if err != nil {
		return err
	}
	typ, err := stringArg(fields[1], "attribute type")
	if err != nil {
		return err
	}
	value, err := normalizeValue(typ, fields[2])
	if err != nil {
		return fmt.Errorf("attribute %s: %w", name, err)
	}
	a.Name, a.Type, a.Value = name, typ, value
	return nil
}

func (a *AttributePayload) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: attribute without name", ErrBadValue)
	}
	return nil
}

func (a *AttributePayload) AttributeName() string { return a.Name }
func (a *AttributePayload) AttributeType() string { return a.Type }
func (a *AttributePayload) AttributeValue() any   { return a.Value }
func (a *AttributePayload) CopyArgs() []any       { return a.Fields() }

func (a *AttributePayload) Compare(other schema.Payload) (int, bool) {
	return compareAttributes(a, other)
}

// VersionedAttributePayload keeps up to Max values, newest last
type VersionedAttributePayload struct {
	Name   string
	Type   string
	Values []any
	Max    int64
}

func newVersionedAttribute(args ...any) (schema.Payload, error) {
	va := &VersionedAttributePayload{Max: 1}
	switch len(args) {
	case 0:
		return va, nil
	case 3, 4:
		name, err := stringArg(args[0], "attribute name")
		if err != nil {
			return nil, err
		}
		typ, err := stringArg(args[1], "attribute type")
		if err != nil {
			return nil, err
		}
		va.Name, va.Type = name, typ
		if len(args) == 4 {
			if va.Max, err = intArg(args[3], "max versions"); err != nil {
				return nil, err
			}
		}
		if args[2] != nil {
			value, err := normalizeValue(typ, args[2])
			if err != nil {
				return nil, err
			}
			va.Values = []any{value}
		}
		return va, nil
	default:
		return nil, errArgs(4, len(args))
	}
}

func (v *VersionedAttributePayload) Fields() []any {
	values := v.Values
	if values == nil {
		values = []any{}
	}
	return []any{v.Name, v.Type, values, v.Max}
}

func (v *VersionedAttributePayload) Load(fields []any, _ schema.Resolver) error {
	name, err := stringArg(fields[0], "attribute name")
	if err != nil {
		return err
	}
	typ, err := stringArg(fields[1], "attribute type")
	if err != nil {
		return err
	}
	raw, ok := fields[2].([]any)
	if !ok && fields[2] != nil {
		return fmt.Errorf("%w: versioned attribute %s values must be a list, got %T", ErrBadValue, name, fields[2])
	}
	values := make([]any, 0, len(raw))
	for _, r := range raw {
		value, err := normalizeValue(typ, r)
		if err != nil {
			return fmt.Errorf("versioned attribute %s: %w", name, err)
		}
		values = append(values, value)
	}
	maxVersions, err := intArg(fields[3], "max versions")
	if err != nil {
		return err
	}
	v.Name, v.Type, v.Values, v.Max = name, typ, values, maxVersions
	return nil
}

func (v *VersionedAttributePayload) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("%w: attribute without name", ErrBadValue)
	}
	if v.Max < 1 {
		return fmt.Errorf("%w: max versions must be at least 1, got %d", ErrBadValue, v.Max)
	}
	return nil
}

func (v *VersionedAttributePayload) AttributeName() string { return v.Name }
func (v *VersionedAttributePayload) AttributeType() string { return v.Type }

// AttributeValue returns the newest value, or nil
func (v *VersionedAttributePayload) AttributeValue() any {
	if len(v.Values) == 0 {
		return nil
	}
	return v.Values[len(v.Values)-1]
}

func (v *VersionedAttributePayload) CopyArgs() []any {
	return []any{v.Name, v.Type, v.AttributeValue(), v.Max}
}

func (v *VersionedAttributePayload) Compare(other schema.Payload) (int, bool) {
	return compareAttributes(v, other)
}

// push appends value and drops the oldest values beyond Max
func (v *VersionedAttributePayload) push(value any) []any {
	values := append(slices.Clone(v.Values), value)
	if over := len(values) - int(v.Max); over > 0 {
		values = values[over:]
	}
	return values
}

func compareAttributes(a schema.Attribute, other schema.Payload) (int, bool) {
	o, ok := other.(schema.Attribute)
	if !ok {
		return 0, false
	}
	return cmp.Compare(a.AttributeName(), o.AttributeName()), true
}

// SetAttribute sets the attribute called name on n, creating a plain
// attribute when there is none. Children of n are fetched first if they
// never were.
func SetAttribute(ctx context.Context, n *store.Node, name, typ string, value any) (*store.Node, error) {
	if _, err := n.ListChildren(ctx, store.Include(string(Attribute), string(VersionedAttribute))); err != nil {
		return nil, err
	}
	if existing := n.AttributeNode(name); existing != nil {
		return existing, SetValue(ctx, existing, value)
	}
	return n.CommitChild(ctx, Attribute, name, typ, value)
}

// GetAttribute returns the value of the attribute called name on n, or
// def when there is none. Only mirrored attributes are considered.
func GetAttribute(n *store.Node, name string, def any) any {
	if v, ok := n.Attribute(name); ok {
		return v
	}
	return def
}

// SetValue updates the value of an attribute, a versioned attribute or a
// counter
func SetValue(ctx context.Context, n *store.Node, value any) error {
	switch p := n.Payload().(type) {
	case *AttributePayload:
		return n.SetField(ctx, 2, value)
	case *VersionedAttributePayload:
		return n.SetField(ctx, 2, p.push(value))
	case *CounterPayload:
		return n.SetField(ctx, 0, value)
	case *CounterLoopPayload:
		return n.SetField(ctx, 0, value)
	default:
		return fmt.Errorf("set value of %s: %w", n.TypeName(), ErrBadValue)
	}
}
