package rosebuild

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a stage wraps exactly one of these so
// callers can branch with errors.Is.
var (
	ErrMissingDependency = errors.New("missing dependency")
	ErrNoSource          = errors.New("no source")
	ErrAcquireFailed     = errors.New("acquire failed")
	ErrConfigureFailed   = errors.New("configure failed")
	ErrBuildReported     = errors.New("build failed")
	ErrInstallFailed     = errors.New("install failed")
	ErrInvalidSelection  = errors.New("invalid selection")
)

// StageError carries the stage that failed, the error kind and an optional
// hint shown to the operator under the error line.
type StageError struct {
	Stage string
	Kind  error
	Err   error
	Hint  string
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage string, kind, err error, hint string) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err, Hint: hint}
}

// isFatal reports whether err must abort the run. Build failures are only
// fatal when strict is set.
func isFatal(err error, strict bool) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBuildReported) {
		return strict
	}
	return true
}

// hintOf returns the operator hint attached to err, if any.
func hintOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Hint
	}
	return ""
}
