package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTemplate   = errors.New("invalid template")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrTemplateInUse     = errors.New("template is referenced by instances")
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrStepMismatch      = errors.New("step mismatch")
	ErrConflict          = errors.New("concurrent modification")
	ErrEntityNotFound    = errors.New("entity not found")
	ErrActorNotFound     = errors.New("actor not found")
	ErrInvalidRequest    = errors.New("invalid request")
)

// ValidationError describes why a template was rejected at registration.
type ValidationError struct {
	Path    string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidTemplate, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidTemplate, e.Path, e.Message)
}

// Is lets callers match any validation failure with ErrInvalidTemplate.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidTemplate
}

// AsValidationError extracts a ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var target *ValidationError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func invalid(path, rule, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Rule: rule, Message: fmt.Sprintf(format, args...)}
}
