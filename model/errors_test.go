package model

import "testing"

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "Approval not found"}
	want := "NOT_FOUND: Approval not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestNewConflictError(t *testing.T) {
	e := NewConflictError("This step has already been acted upon")
	if e.Code != ErrConflict {
		t.Errorf("Code = %q, want %q", e.Code, ErrConflict)
	}
	if e.Message != "This step has already been acted upon" {
		t.Errorf("Message = %q", e.Message)
	}
}

func TestNewInvalidStateError(t *testing.T) {
	e := NewInvalidStateError("No more approval steps")
	if e.Code != ErrInvalidState {
		t.Errorf("Code = %q, want %q", e.Code, ErrInvalidState)
	}
}

func TestNewInvalidReferenceError(t *testing.T) {
	e := NewInvalidReferenceError("Invalid finance record ID")
	if e.Code != ErrInvalidReference {
		t.Errorf("Code = %q, want %q", e.Code, ErrInvalidReference)
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "steps", Code: "REQUIRED", Message: "At least one step is required"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "steps" {
		t.Errorf("Details[0].Field = %q, want %q", e.Details[0].Field, "steps")
	}
}
