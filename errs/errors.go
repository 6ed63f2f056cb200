package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrModeNotImplemented is returned by a kernel calculator for a mode it
	// does not support.
	ErrModeNotImplemented = errors.New("kernel mode not implemented")

	// ErrNotFound is returned by storage lookups for a missing key.
	ErrNotFound = errors.New("not found")
)

// ConfigError reports an invalid request: bad band index, percentile out of
// range, a statistic asked for without its prerequisite. Always raised
// before any pixel or attribute I/O.
type ConfigError struct {
	Op  string
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: invalid configuration: %s", e.Op, e.Msg)
}

// GeometryError reports rasters that cannot be swept together.
type GeometryError struct {
	Op  string
	Msg string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%s: geometry mismatch: %s", e.Op, e.Msg)
}

// DataError reports pixel or graph state that contradicts an earlier pass.
type DataError struct {
	Op  string
	Msg string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s: data error: %s", e.Op, e.Msg)
}

// IOError wraps a failure of the underlying raster or table storage.
//
// The original error can be accessed via errors.Unwrap.
type IOError struct {
	Op    string
	cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: io: %v", e.Op, e.cause)
}

func (e *IOError) Unwrap() error { return e.cause }

func Config(op, format string, args ...interface{}) error {
	return &ConfigError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Geometry(op, format string, args ...interface{}) error {
	return &GeometryError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Data(op, format string, args ...interface{}) error {
	return &DataError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IO wraps err as an IOError. Errors that already carry one of the typed
// kinds, context errors and nil pass through unchanged.
func IO(op string, err error) error {
	if err == nil || IsTyped(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &IOError{Op: op, cause: err}
}

// IsTyped reports whether err already belongs to the taxonomy.
func IsTyped(err error) bool {
	var ce *ConfigError
	var ge *GeometryError
	var de *DataError
	var ie *IOError
	return errors.As(err, &ce) || errors.As(err, &ge) || errors.As(err, &de) || errors.As(err, &ie)
}

func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func IsGeometry(err error) bool {
	var ge *GeometryError
	return errors.As(err, &ge)
}

func IsData(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}

func IsIO(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}
