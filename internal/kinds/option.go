package kinds

import (
	"context"
	"fmt"

	"ipamclient/internal/schema"
	"ipamclient/internal/store"
)

// OptionValuePayload is one selectable value of an option category.
// Values may nest to form dependent choices.
type OptionValuePayload struct {
	Value string
}

func newOptionValue(args ...any) (schema.Payload, error) {
	o := &OptionValuePayload{}
	switch len(args) {
	case 0:
		return o, nil
	case 1:
		return o, o.Load(args, nil)
	default:
		return nil, errArgs(1, len(args))
	}
}

func (o *OptionValuePayload) Fields() []any { return []any{o.Value} }

func (o *OptionValuePayload) Load(fields []any, _ schema.Resolver) error {
	v, err := stringArg(fields[0], "option value")
	if err != nil {
		return err
	}
	o.Value = v
	return nil
}

func (o *OptionValuePayload) CopyArgs() []any { return o.Fields() }

// Options returns the values directly below an option category or value
func Options(ctx context.Context, n *store.Node) ([]string, error) {
	if n.TypeID() != OptionCategory && n.TypeID() != OptionValue {
		return nil, fmt.Errorf("%w: %s holds no options", ErrBadValue, n.Describe())
	}
	children, err := n.ListChildren(ctx, store.Include(string(OptionValue)), store.Sorted(false))
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(children))
	for _, c := range children {
		values = append(values, c.Payload().(*OptionValuePayload).Value)
	}
	return values, nil
}
