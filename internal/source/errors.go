package source

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotOpened is returned by ReadFrame on a source that is closed.
	ErrNotOpened = errors.New("source is not opened")
	// ErrUnknownSourceType is returned for an unrecognised source type name.
	ErrUnknownSourceType = errors.New("unknown source type")
)

// OpenError reports that a backend could not be acquired.
type OpenError struct {
	Kind   Kind
	Target string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s source %s: %v", e.Kind, e.Target, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ReadError reports that a frame could not be read after all reopen attempts.
type ReadError struct {
	Kind     Kind
	Target   string
	Attempts int
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s source %s: giving up after %d attempts: %v", e.Kind, e.Target, e.Attempts, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
