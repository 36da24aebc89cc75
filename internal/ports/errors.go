package ports

import (
	"errors"
	"fmt"

	"github.com/caltek/urbanova-gcp-client/internal/domain"
)

// Failure kinds. Match them with errors.Is.
var (
	ErrMalformedMetadata = domain.ErrMalformedMetadata
	ErrStoreAuth         = errors.New("store: access denied")
	ErrStoreNotFound     = errors.New("store: database does not exist")
	ErrStoreConnection   = errors.New("store: connection failed")
	ErrStoreQuery        = errors.New("store: query failed")
	ErrBusConnection     = errors.New("bus: connection failed")
	ErrCallTimeout       = errors.New("bus: call timed out")
	ErrNoSample          = errors.New("sampler: no sample available")
)

// OpError records the operation that failed, the failure kind and the
// underlying cause.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewOpError builds an OpError.
func NewOpError(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}

type fatalError struct{ error }

func (f fatalError) Unwrap() error { return f.error }

// Fatal marks err as unrecoverable: the relay stops instead of retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err}
}

// IsFatal reports whether err, or anything it wraps, was marked Fatal.
func IsFatal(err error) bool {
	var f fatalError
	return errors.As(err, &f)
}
