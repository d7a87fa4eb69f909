package storage

import (
	"fmt"
	"strings"
	"time"
)

// LayerOutcome records what one layer did during a chain operation.
type LayerOutcome struct {
	Layer    string
	Locator  string
	Err      error
	Duration time.Duration
}

// OK reports whether the layer succeeded.
func (o LayerOutcome) OK() bool { return o.Err == nil }

// StoreResult is the outcome of Chain.Store.
type StoreResult struct {
	// Locator comes from the highest-priority layer that succeeded.
	Locator string
	// Layer names that layer.
	Layer    string
	Outcomes []LayerOutcome
}

// Failed returns the outcomes of the layers that failed.
func (r StoreResult) Failed() []LayerOutcome {
	return failed(r.Outcomes)
}

// RemoveResult is the outcome of Chain.Remove.
type RemoveResult struct {
	Outcomes []LayerOutcome
}

// Failed returns the outcomes of the layers that could not delete.
func (r RemoveResult) Failed() []LayerOutcome {
	return failed(r.Outcomes)
}

func failed(outcomes []LayerOutcome) []LayerOutcome {
	var out []LayerOutcome
	for _, o := range outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// PersistenceError is returned by Chain.Store when no layer accepted the blob.
type PersistenceError struct {
	ID       string
	Outcomes []LayerOutcome
}

func (e *PersistenceError) Error() string {
	parts := make([]string, 0, len(e.Outcomes))
	for _, o := range e.Outcomes {
		parts = append(parts, fmt.Sprintf("%s: %v", o.Layer, o.Err))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("storage: no layers configured for %q", e.ID)
	}
	return fmt.Sprintf("storage: every layer failed for %q (%s)", e.ID, strings.Join(parts, "; "))
}

// Unwrap exposes ErrPersistence and each layer error to errors.Is and errors.As.
func (e *PersistenceError) Unwrap() []error {
	errs := []error{ErrPersistence}
	for _, o := range e.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}
