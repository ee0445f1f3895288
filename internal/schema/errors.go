package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned for type-ids or names missing from the registry.
	ErrUnknownType = errors.New("unknown type")
	// ErrInvalidChild is returned when a type may not contain another.
	ErrInvalidChild = errors.New("invalid child type")
	// ErrFrozen is returned when registering into a frozen registry.
	ErrFrozen = errors.New("registry is frozen")
)

// UnknownTypeError wraps ErrUnknownType with the offending type-id.
func UnknownTypeError(id TypeID) error {
	return fmt.Errorf("%w: %q", ErrUnknownType, id)
}

// InvalidChildError wraps ErrInvalidChild with both type-ids.
func InvalidChildError(parent, child TypeID) error {
	return fmt.Errorf("%w: %q may not contain %q", ErrInvalidChild, parent, child)
}
