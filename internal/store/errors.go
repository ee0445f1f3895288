package store

import (
	"errors"
	"fmt"

	"ipamclient/internal/schema"
)

// Registry errors, re-exported so callers only need this package
var (
	ErrUnknownType  = schema.ErrUnknownType
	ErrInvalidChild = schema.ErrInvalidChild
)

var (
	// ErrRemoteCall matches every *RemoteError
	ErrRemoteCall = errors.New("remote call failed")
	// ErrMalformedRecord matches every *MalformedRecordError
	ErrMalformedRecord = errors.New("malformed record")

	ErrPurged            = errors.New("node has been purged")
	ErrNotCommitted      = errors.New("node is not committed")
	ErrDuplicateOID      = errors.New("oid is already mapped")
	ErrNotLinked         = errors.New("nodes are not linked")
	ErrInvalidRelocation = errors.New("invalid relocation target")
	ErrUnsafeCopy        = errors.New("unsafe copy target")
	ErrNotCopyable       = errors.New("node type cannot be copied")
	ErrRootOperation     = errors.New("operation not permitted on the root node")
)

// RemoteError is returned when the repository rejects or fails a call.
// It always carries the underlying cause.
type RemoteError struct {
	Op  string
	OID string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.OID, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteCall
}

func remoteError(op, oid string, err error) error {
	return &RemoteError{Op: op, OID: oid, Err: err}
}

// MalformedRecordError reports positional data that does not match the
// arity of its type
type MalformedRecordError struct {
	OID    string
	TypeID schema.TypeID
	Want   int
	Got    int
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %s (%s): expected %d fields, got %d",
		e.OID, e.TypeID, e.Want, e.Got)
}

func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}
