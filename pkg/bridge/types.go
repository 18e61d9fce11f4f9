package bridge

import (
	"github.com/taskcue/cuebridge/pkg/engine"
)

// Version identifies the envelope format.
const Version = "bridge/1"

// ErrorCode is the closed set of failure codes of the envelope.
type ErrorCode = engine.ErrorCode

// Error codes.
const (
	CodeInvalidInput         = engine.CodeInvalidInput
	CodeLoadFailure          = engine.CodeLoadFailure
	CodeBuildFailure         = engine.CodeBuildFailure
	CodeProjectionFailure    = engine.CodeProjectionFailure
	CodePanicRecovered       = engine.CodePanicRecovered
	CodeSerializationFailure = engine.CodeSerializationFailure
	CodeRegistryInitFailure  = engine.CodeRegistryInitFailure
)

// Result types shared with the engine.
type (
	Options      = engine.Options
	ModuleResult = engine.ModuleResult
	MetaEntry    = engine.MetaEntry
	Diagnostic   = engine.Diagnostic
)

// Request is one evaluation call as it arrives over the boundary.
type Request struct {
	// ModuleRoot is a directory inside the module to evaluate.
	ModuleRoot string `json:"moduleRoot" validate:"required"`

	// PackageName is the legacy location of Options.PackageName. The
	// options value wins when both are set.
	PackageName string `json:"packageName,omitempty"`

	Options Options `json:"options"`
}

// engineRequest resolves the legacy fields.
func (r Request) engineRequest() engine.Request {
	opts := r.Options
	if opts.PackageName == "" {
		opts.PackageName = r.PackageName
	}
	return engine.Request{ModuleRoot: r.ModuleRoot, Options: opts}
}

// ErrorBody describes a failed call.
type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Hint    string    `json:"hint,omitempty"`
}

// Retryable reports whether the caller may retry the request.
func (e *ErrorBody) Retryable() bool {
	return e.Code.Retryable()
}

// Response is the envelope returned for every call. Exactly one of OK and
// Error is set; the other key is omitted from the JSON.
type Response struct {
	Version string        `json:"version"`
	OK      *ModuleResult `json:"ok,omitempty"`
	Error   *ErrorBody    `json:"error,omitempty"`
}

// Success wraps a result in an envelope.
func Success(res *ModuleResult) Response {
	return Response{Version: Version, OK: res}
}

// Failure builds an error envelope.
func Failure(code ErrorCode, message, hint string) Response {
	return Response{
		Version: Version,
		Error:   &ErrorBody{Code: code, Message: message, Hint: hint},
	}
}

// FromError builds an error envelope from a classified or unclassified
// error. Hints attached anywhere in the chain are carried over.
func FromError(err error) Response {
	ee := engine.Classify(err)
	return Failure(ee.Code, ee.Description(), ee.Hint())
}
