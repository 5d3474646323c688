package linglong

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func ExampleError() {
	fmt.Println(&Error{
		Inner:   nil,
		Kind:    ErrInternal,
		Message: "test",
		Op:      "ExampleError",
	})

	fmt.Println(&Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrNotFound,
		Message: "no such installed ref",
		Op:      "Lookup",
	})
	err := &Error{
		Inner: &Error{
			Inner:   sql.ErrNoRows,
			Kind:    ErrNotFound,
			Message: "no such installed ref",
			Op:      "Lookup",
		},
		Kind: ErrTransient,
	}
	fmt.Println(err)
	fmt.Println(fmt.Errorf("installer: oops: %w", &Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrNotFound,
		Message: "no such installed ref",
		Op:      "Lookup",
	}))

	// Output:
	// ExampleError [internal]: test
	// Lookup [not found]: no such installed ref: sql: no rows in result set
	// Lookup [not found]: no such installed ref: sql: no rows in result set
	// installer: oops: Lookup [not found]: no such installed ref: sql: no rows in result set
}

func TestErrorIsKind(t *testing.T) {
	inner := &Error{Kind: ErrNotFound, Message: "missing"}
	wrapped := fmt.Errorf("wrap: %w", inner)

	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("expected wrapped error to match ErrNotFound")
	}
	if errors.Is(wrapped, ErrConflict) {
		t.Error("did not expect wrapped error to match ErrConflict")
	}

	var asErr *Error
	if !errors.As(wrapped, &asErr) {
		t.Fatal("expected errors.As to find *Error in chain")
	}
	if asErr.Kind != ErrNotFound {
		t.Errorf("got %v, want %v", asErr.Kind, ErrNotFound)
	}
}
