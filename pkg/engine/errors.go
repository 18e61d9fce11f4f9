package engine

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/taskcue/cuebridge/pkg/loader"
)

// ErrorCode is the closed set of failure codes reported across the
// boundary.
type ErrorCode string

const (
	// CodeInvalidInput indicates a malformed or incomplete request. It is the
	// only code a caller should not retry.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeLoadFailure indicates instance discovery failed as a whole.
	CodeLoadFailure ErrorCode = "LOAD_FAILURE"

	// CodeBuildFailure indicates no instance could be built.
	CodeBuildFailure ErrorCode = "BUILD_FAILURE"

	// CodeProjectionFailure indicates instances built but none could be
	// projected.
	CodeProjectionFailure ErrorCode = "PROJECTION_FAILURE"

	// CodePanicRecovered indicates a panic was caught at a recovery
	// boundary.
	CodePanicRecovered ErrorCode = "PANIC_RECOVERED"

	// CodeSerializationFailure indicates the result could not be encoded.
	CodeSerializationFailure ErrorCode = "SERIALIZATION_FAILURE"

	// CodeRegistryInitFailure indicates the module registry could not be
	// created.
	CodeRegistryInitFailure ErrorCode = "REGISTRY_INIT_FAILURE"
)

// Retryable reports whether a caller may retry a request that failed with
// this code.
func (c ErrorCode) Retryable() bool {
	return c != CodeInvalidInput
}

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Code is the boundary error code.
	Code ErrorCode `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Instance is the instance path that caused the error, if applicable.
	Instance string `json:"instance,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Description())
}

// Description is the error message without the code prefix.
func (e *EngineError) Description() string {
	msg := e.Message
	if e.Instance != "" {
		msg = fmt.Sprintf("%s (instance=%s)", msg, e.Instance)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new classified error.
func NewError(code ErrorCode, message string, err error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithInstance adds instance context to an error.
func (e *EngineError) WithInstance(path string) *EngineError {
	e.Instance = path
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithHint attaches a user-facing hint to the error chain.
func (e *EngineError) WithHint(hint string) *EngineError {
	e.Err = errors.WithHint(e.errOrMessage(), hint)
	return e
}

func (e *EngineError) errOrMessage() error {
	if e.Err != nil {
		return e.Err
	}
	return errors.New(e.Message)
}

// Hint returns the hints attached anywhere in the chain, one per line.
func (e *EngineError) Hint() string {
	if e.Err == nil {
		return ""
	}
	return errors.FlattenHints(e.Err)
}

// CodeOf classifies err. Loader sentinels map to their codes; anything
// unclassified is reported as a build failure.
func CodeOf(err error) ErrorCode {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, loader.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, loader.ErrRegistryInit):
		return CodeRegistryInitFailure
	case errors.Is(err, loader.ErrLoad):
		return CodeLoadFailure
	}
	return CodeBuildFailure
}

// Classify converts err to an EngineError, keeping an existing
// classification.
func Classify(err error) *EngineError {
	if err == nil {
		return nil
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e
	}
	return NewError(CodeOf(err), err.Error(), err)
}

// IsInvalidInput returns true if the error is classified as invalid input.
func IsInvalidInput(err error) bool {
	return CodeOf(err) == CodeInvalidInput
}

// IsPanic returns true if the error came from a recovered panic.
func IsPanic(err error) bool {
	return CodeOf(err) == CodePanicRecovered
}

// IsRetryable returns true if the request that produced err may be retried.
func IsRetryable(err error) bool {
	return CodeOf(err).Retryable()
}

// PanicError converts a recovered panic value into a classified error.
func PanicError(site string, recovered interface{}) *EngineError {
	err, ok := recovered.(error)
	if !ok {
		err = errors.Newf("%v", recovered)
	}
	return NewError(CodePanicRecovered, fmt.Sprintf("panic recovered in %s", site), err).
		WithDetail("site", site)
}
