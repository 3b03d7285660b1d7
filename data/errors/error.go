package errors

import (
	"errors"
	"fmt"
)

// wrap builds a contextual error around one of the data package sentinels.
// The sentinel stays reachable through errors.Is.
func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Errors collects errors from multi-step operations, teardown in particular.
type Errors struct {
	errors []error
}

func (e *Errors) Add(err error) {
	if err != nil {
		e.errors = append(e.errors, err)
	}
}

func (e *Errors) Errors() error {
	if len(e.errors) == 0 {
		return nil
	}

	return errors.Join(e.errors...)
}
