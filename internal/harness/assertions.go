package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/record"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

func assertMirrorCount(h *Harness, a Assertion) error {
	if n := h.store.Len(); n != a.Count {
		return &AssertionError{
			Type:     AssertMirrorCount,
			Expected: fmt.Sprintf("%d mirrored records", a.Count),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertMirrorContains(h *Harness, a Assertion) error {
	key, err := record.KeyOf(a.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", AssertMirrorContains, err)
	}
	rec, ok := h.store.Lookup(key)
	if !ok {
		return &AssertionError{
			Type:     AssertMirrorContains,
			Expected: fmt.Sprintf("mirror entry %s", key),
			Actual:   "not found in mirror",
		}
	}
	if a.Record == nil {
		return nil
	}
	if diff := cmp.Diff(normalize(a.Record), normalize(rec)); diff != "" {
		return &AssertionError{
			Type:     AssertMirrorContains,
			Expected: fmt.Sprintf("mirror entry %s to equal %v", key, a.Record),
			Actual:   fmt.Sprintf("diff (-want +got):\n%s", diff),
		}
	}
	return nil
}

func assertMirrorAbsent(h *Harness, a Assertion) error {
	key, err := record.KeyOf(a.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", AssertMirrorAbsent, err)
	}
	if rec, ok := h.store.Lookup(key); ok {
		return &AssertionError{
			Type:     AssertMirrorAbsent,
			Expected: fmt.Sprintf("no mirror entry %s", key),
			Actual:   fmt.Sprintf("found %v", rec),
		}
	}
	return nil
}

// assertStoreCount counts records directly through the factory rather than
// the accessor.
func assertStoreCount(ctx context.Context, h *Harness, a Assertion) error {
	db, err := h.factory.Open(ctx, h.cfg.Database, 0, nil)
	if err != nil {
		return fmt.Errorf("%s: open: %w", AssertStoreCount, err)
	}
	defer db.Close()

	tx, err := db.Begin(ctx, backend.ReadOnly, h.cfg.Collection)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", AssertStoreCount, err)
	}
	defer tx.Rollback()

	n, err := tx.Count(ctx)
	if err != nil {
		return fmt.Errorf("%s: count: %w", AssertStoreCount, err)
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertStoreCount,
			Expected: fmt.Sprintf("%d stored records", a.Count),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertErrorState(h *Harness, a Assertion) error {
	if got := errorKind(h.store.Err()); got != a.Error {
		actual := got
		if err := h.store.Err(); err != nil {
			actual = fmt.Sprintf("%s (%v)", got, err)
		}
		return &AssertionError{
			Type:     AssertErrorState,
			Expected: a.Error,
			Actual:   actual,
		}
	}
	return nil
}

// EvaluateAssertions checks every assertion and returns the failure
// messages.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	var errors []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertMirrorCount:
			err = assertMirrorCount(h, a)
		case AssertMirrorContains:
			err = assertMirrorContains(h, a)
		case AssertMirrorAbsent:
			err = assertMirrorAbsent(h, a)
		case AssertStoreCount:
			err = assertStoreCount(ctx, h, a)
		case AssertErrorState:
			err = assertErrorState(h, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errors = append(errors, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errors
}
