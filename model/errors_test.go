package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "Template not found"}
	want := "NOT_FOUND: Template not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestNewNotFoundError(t *testing.T) {
	e := NewNotFoundError("resource missing")
	if e.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", e.Code, ErrNotFound)
	}
	if e.Message != "resource missing" {
		t.Errorf("Message = %q, want %q", e.Message, "resource missing")
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "door-width", Code: FieldRequired, Message: "Door width is required"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if ids := e.FieldIDs(); len(ids) != 1 || ids[0] != "door-width" {
		t.Errorf("FieldIDs() = %v, want [door-width]", ids)
	}
}

func TestNewStaleStepError(t *testing.T) {
	e := NewStaleStepError("door-info", "entry")
	if e.Code != ErrStaleStep {
		t.Errorf("Code = %q, want %q", e.Code, ErrStaleStep)
	}
	if e.Context["current_step_id"] != "entry" {
		t.Errorf("Context[current_step_id] = %v, want entry", e.Context["current_step_id"])
	}
}

func TestNewPersistenceError_unwraps(t *testing.T) {
	cause := errors.New("disk full")
	e := NewPersistenceError("mirror write failed", cause)
	if !errors.Is(e, cause) {
		t.Error("errors.Is(e, cause) = false, want true")
	}
	if e.Error() != "PERSISTENCE_ERROR: mirror write failed: disk full" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestIsDivergence(t *testing.T) {
	div := NewDivergenceError("abc", errors.New("connection reset"))
	wrapped := NewPersistenceError("mirror write failed", div)

	if !IsDivergence(wrapped) {
		t.Error("IsDivergence(persistence wrapping divergence) = false, want true")
	}
	if IsDivergence(NewPersistenceError("insert failed", errors.New("timeout"))) {
		t.Error("IsDivergence(clean persistence error) = true, want false")
	}
	if !HasCode(fmt.Errorf("submit: %w", wrapped), ErrPersistence) {
		t.Error("HasCode(fmt wrapped, PERSISTENCE_ERROR) = false, want true")
	}
	if HasCode(errors.New("plain"), ErrPersistence) {
		t.Error("HasCode(plain error) = true, want false")
	}
	if got := FindCode(wrapped, ErrDivergence); got != div {
		t.Errorf("FindCode(wrapped, DIVERGENCE) = %v, want the divergence envelope", got)
	}
	if FindCode(wrapped, ErrNotFound) != nil {
		t.Error("FindCode(wrapped, NOT_FOUND) != nil")
	}
}
