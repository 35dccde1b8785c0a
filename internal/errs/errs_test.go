package errs

import (
	"errors"
	"testing"
)

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(nil, Database, "op") != nil {
		t.Fatal("Wrap(nil, ...) should return nil")
	}
}

func TestWrapPreservesCauseAndKind(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(cause, FileSystem, "write_env_file")
	if e.Kind != FileSystem {
		t.Errorf("Kind = %v, want %v", e.Kind, FileSystem)
	}
	if !errors.Is(e, cause) {
		t.Errorf("wrapped error should unwrap to cause")
	}
	if e.Context["operation"] != "write_env_file" {
		t.Errorf("Context[operation] = %q", e.Context["operation"])
	}
}

func TestWithDoesNotMutateOriginal(t *testing.T) {
	base := New(Validation, "bad_field", "importance out of range", "fix it")
	withField := base.With("field", "importance")
	if _, ok := base.Context["field"]; ok {
		t.Error("With mutated the original error's context")
	}
	if withField.Context["field"] != "importance" {
		t.Errorf("With did not set context on the copy")
	}
}

func TestKindOf(t *testing.T) {
	tagged := New(Cache, "miss", "not found", "")
	if KindOf(tagged) != Cache {
		t.Errorf("KindOf(tagged) = %v, want Cache", KindOf(tagged))
	}
	if KindOf(errors.New("plain")) != Unknown {
		t.Errorf("KindOf(plain error) should be Unknown")
	}
}

func TestValidationfSetsFieldAndValue(t *testing.T) {
	e := Validationf("importance", "1.5", "importance must be between 0 and 1, got %v", 1.5)
	if e.Kind != Validation {
		t.Errorf("Kind = %v, want Validation", e.Kind)
	}
	if e.Context["field"] != "importance" || e.Context["value"] != "1.5" {
		t.Errorf("context = %+v", e.Context)
	}
}

func TestAsRoundTrip(t *testing.T) {
	var target *Error
	original := New(Resource, "limit", "too many", "raise the limit")
	if !As(original, &target) {
		t.Fatal("As should find the tagged error")
	}
	if target.Code != "limit" {
		t.Errorf("Code = %q, want limit", target.Code)
	}
}
