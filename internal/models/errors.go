package models

import (
	"errors"
	"fmt"
)

// ErrStopped signals that a worker noticed a cooperative stop request
// between two chunks or pages. Everything written before the stop stays
// written; there is no rollback.
var ErrStopped = errors.New("job stopped")

// ValidationError represents a malformed input or schema violation
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// AuthError represents a missing or invalid bearer claim. Never retried.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ForbiddenError represents a failed access check. Never retried.
type ForbiddenError struct {
	ObjectID    string
	PrincipalID string
	Required    string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("principal '%s' lacks '%s' on object '%s'", e.PrincipalID, e.Required, e.ObjectID)
}

// NotFoundError represents an unknown document, chunk, job or status record
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.ID)
}

// UpstreamError represents a failed object store, embedding or queue call.
// Retried with backoff at the lane boundary by returning the message to
// visibility.
type UpstreamError struct {
	System    string
	Operation string
	Err       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failed during %s: %v", e.System, e.Operation, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// CorruptionError represents inconsistent index rows, e.g. a chunk without a
// BM25 row. Surfaced to the operator; never crashes a worker.
type CorruptionError struct {
	DocumentID string
	Detail     string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("index corruption for document '%s': %s", e.DocumentID, e.Detail)
}

// FatalError is unrecoverable for a single document. The document transitions
// to failed with the stage recorded and the batch continues.
type FatalError struct {
	DocumentID string
	Stage      string
	Err        error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error for document '%s' at stage '%s': %v", e.DocumentID, e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Constructors
// ============================================================================

func NewAuthError(reason string, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}

func NewForbiddenError(objectID, principalID, required string) *ForbiddenError {
	return &ForbiddenError{ObjectID: objectID, PrincipalID: principalID, Required: required}
}

func NewDocumentNotFoundError(id string) *NotFoundError {
	return &NotFoundError{Kind: "document", ID: id}
}

func NewChunkNotFoundError(id string) *NotFoundError {
	return &NotFoundError{Kind: "chunk", ID: id}
}

func NewJobNotFoundError(id string) *NotFoundError {
	return &NotFoundError{Kind: "job", ID: id}
}

func NewSecretNotFoundError(docKey string) *NotFoundError {
	return &NotFoundError{Kind: "secret parcel", ID: docKey}
}

func NewUpstreamError(system, operation string, err error) *UpstreamError {
	return &UpstreamError{System: system, Operation: operation, Err: err}
}

func NewCorruptionError(documentID, detail string) *CorruptionError {
	return &CorruptionError{DocumentID: documentID, Detail: detail}
}

func NewFatalError(documentID, stage string, err error) *FatalError {
	return &FatalError{DocumentID: documentID, Stage: stage, Err: err}
}

// ============================================================================
// Classification helpers
// ============================================================================

func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsForbidden(err error) bool {
	var target *ForbiddenError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsUpstream(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}
