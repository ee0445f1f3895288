package kinds

import (
	"fmt"
	"slices"

	"ipamclient/internal/schema"
)

// CounterPayload is a plain integer counter
type CounterPayload struct {
	Value int64
}

func newCounter(args ...any) (schema.Payload, error) {
	c := &CounterPayload{}
	if len(args) > 0 {
		v, err := intArg(args[0], "counter value")
		if err != nil {
			return nil, err
		}
		c.Value = v
	}
	return c, nil
}

func (c *CounterPayload) Fields() []any { return []any{c.Value} }

func (c *CounterPayload) Load(fields []any, _ schema.Resolver) error {
	v, err := intArg(fields[0], "counter value")
	if err != nil {
		return err
	}
	c.Value = v
	return nil
}

func (c *CounterPayload) CopyArgs() []any { return []any{c.Value} }

// CounterLoopPayload cycles through a fixed list of values. Value is the
// current one.
type CounterLoopPayload struct {
	Value  string
	Values []string
}

func newCounterLoop(args ...any) (schema.Payload, error) {
	c := &CounterLoopPayload{}
	if len(args) == 0 {
		return c, nil
	}
	values, err := stringList(args[0])
	if err != nil {
		return nil, err
	}
	c.Values = values
	if len(values) > 0 {
		c.Value = values[0]
	}
	return c, nil
}

func (c *CounterLoopPayload) Fields() []any {
	values := make([]any, len(c.Values))
	for i, v := range c.Values {
		values[i] = v
	}
	return []any{c.Value, values}
}

func (c *CounterLoopPayload) Load(fields []any, _ schema.Resolver) error {
	value, err := stringArg(fields[0], "counter loop value")
	if err != nil {
		return err
	}
	values, err := stringList(fields[1])
	if err != nil {
		return err
	}
	c.Value, c.Values = value, values
	return nil
}

func (c *CounterLoopPayload) Validate() error {
	if len(c.Values) == 0 {
		return fmt.Errorf("%w: counter loop without values", ErrBadValue)
	}
	if !slices.Contains(c.Values, c.Value) {
		return fmt.Errorf("%w: %q is not one of the loop values", ErrBadValue, c.Value)
	}
	return nil
}

func (c *CounterLoopPayload) CopyArgs() []any { return []any{slices.Clone(c.Values)} }

// Next returns the value following the current one, wrapping around
func (c *CounterLoopPayload) Next() string {
	if len(c.Values) == 0 {
		return ""
	}
	i := slices.Index(c.Values, c.Value)
	return c.Values[(i+1)%len(c.Values)]
}

func stringList(v any) ([]string, error) {
	switch l := v.(type) {
	case []string:
		return slices.Clone(l), nil
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: list item must be a string, got %T", ErrBadValue, item)
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: expected a list of strings, got %T", ErrBadValue, v)
	}
}
