package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the core packages. Every OperationError unwraps to
// exactly one of these so callers can branch with errors.Is.
var (
	ErrInvalidDirectory  = errors.New("invalid directory")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrPathNotFound      = errors.New("path not found in tree bookkeeping")
	ErrIgnoreRuleBuild   = errors.New("building ignore rules failed")
	ErrWatchRegistration = errors.New("watch registration failed")
	ErrNonUTF8Content    = errors.New("non-utf8 content")
	ErrSectionNotFound   = errors.New("section not found in document")
	ErrAtomicWrite       = errors.New("atomic write failed")
	ErrPathOutsideRoot   = errors.New("path is outside the project root")
	ErrIO                = errors.New("i/o failure")
)

// OperationError carries the operation and path that failed together with the
// error kind and the underlying cause.
type OperationError struct {
	Operation string
	Path      string
	Kind      error
	Err       error
}

// NewOperationError builds an OperationError.
func NewOperationError(operation string, path string, kind error, cause error) *OperationError {
	return &OperationError{Operation: operation, Path: path, Kind: kind, Err: cause}
}

// Error renders the error as a single line.
func (operationError *OperationError) Error() string {
	message := operationError.Operation
	if operationError.Path != "" {
		message += " " + operationError.Path
	}
	if operationError.Kind != nil {
		message = fmt.Sprintf("%s: %v", message, operationError.Kind)
	}
	if operationError.Err != nil {
		message = fmt.Sprintf("%s: %v", message, operationError.Err)
	}
	return message
}

// Unwrap exposes both the kind sentinel and the cause.
func (operationError *OperationError) Unwrap() []error {
	var wrapped []error
	if operationError.Kind != nil {
		wrapped = append(wrapped, operationError.Kind)
	}
	if operationError.Err != nil {
		wrapped = append(wrapped, operationError.Err)
	}
	return wrapped
}
