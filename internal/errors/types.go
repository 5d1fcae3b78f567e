// Package errors defines the error taxonomy of the bundle server.
//
// Every failure that crosses a component boundary is a *PackagerError carrying
// a category (Type), a stable Code, a human readable Message and an optional
// Cause. Request handlers map categories onto HTTP responses; none of them is
// fatal to the process.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeMalformedRequest ErrorType = "malformed_request"
	ErrorTypeBuild            ErrorType = "build"
	ErrorTypeSymbolication    ErrorType = "symbolication"
	ErrorTypeAssetNotFound    ErrorType = "asset_not_found"
	ErrorTypeConfig           ErrorType = "config"
	ErrorTypeWatcher          ErrorType = "watcher"
	ErrorTypeInternal         ErrorType = "internal"
)

// Stable error codes.
const (
	CodeMalformedRequest = "MALFORMED_REQUEST"
	CodeBuildFailure     = "BUILD_FAILURE"
	CodeSymbolication    = "SYMBOLICATION_FAILED"
	CodeAssetNotFound    = "ASSET_NOT_FOUND"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeSubscribe        = "WATCH_SUBSCRIBE"
	CodeInternal         = "INTERNAL"
)

// Sentinels usable with errors.Is; matching compares Type and Code only.
var (
	ErrMalformedRequest = &PackagerError{Type: ErrorTypeMalformedRequest, Code: CodeMalformedRequest}
	ErrBuildFailure     = &PackagerError{Type: ErrorTypeBuild, Code: CodeBuildFailure}
	ErrSymbolication    = &PackagerError{Type: ErrorTypeSymbolication, Code: CodeSymbolication}
	ErrAssetNotFound    = &PackagerError{Type: ErrorTypeAssetNotFound, Code: CodeAssetNotFound}
)

// PackagerError is a structured error type with context.
type PackagerError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *PackagerError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PackagerError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PackagerError) Is(target error) bool {
	var t *PackagerError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PackagerError) WithContext(key string, value interface{}) *PackagerError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// NewMalformedRequestError reports a request path that is not a bundle or map path.
func NewMalformedRequestError(path, reason string) *PackagerError {
	return (&PackagerError{
		Type:    ErrorTypeMalformedRequest,
		Code:    CodeMalformedRequest,
		Message: fmt.Sprintf("malformed bundle request %q: %s", path, reason),
	}).WithContext("path", path)
}

// NewBuildFailure wraps a rejected build.
func NewBuildFailure(entryFile string, cause error) *PackagerError {
	return (&PackagerError{
		Type:    ErrorTypeBuild,
		Code:    CodeBuildFailure,
		Message: fmt.Sprintf("building %s failed", entryFile),
		Cause:   cause,
	}).WithContext("entry_file", entryFile)
}

// NewSymbolicationError reports an unusable symbolication request.
func NewSymbolicationError(message string, cause error) *PackagerError {
	return &PackagerError{
		Type:    ErrorTypeSymbolication,
		Code:    CodeSymbolication,
		Message: message,
		Cause:   cause,
	}
}

// NewAssetNotFound reports that an asset could not be resolved.
func NewAssetNotFound(path, platform string, cause error) *PackagerError {
	return (&PackagerError{
		Type:    ErrorTypeAssetNotFound,
		Code:    CodeAssetNotFound,
		Message: fmt.Sprintf("asset %q not found", path),
		Cause:   cause,
	}).WithContext("path", path).WithContext("platform", platform)
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, cause error) *PackagerError {
	return &PackagerError{
		Type:    ErrorTypeConfig,
		Code:    CodeInvalidConfig,
		Message: message,
		Cause:   cause,
	}
}

// NewWatcherError reports a failure of the change subscription.
func NewWatcherError(message string, cause error) *PackagerError {
	return &PackagerError{
		Type:    ErrorTypeWatcher,
		Code:    CodeSubscribe,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *PackagerError {
	return &PackagerError{
		Type:    ErrorTypeInternal,
		Code:    CodeInternal,
		Message: message,
		Cause:   cause,
	}
}

// IsMalformedRequest checks if an error is a malformed bundle request.
func IsMalformedRequest(err error) bool {
	return isType(err, ErrorTypeMalformedRequest)
}

// IsBuildFailure checks if an error is build-related.
func IsBuildFailure(err error) bool {
	return isType(err, ErrorTypeBuild)
}

// IsSymbolicationError checks if an error came from symbolication.
func IsSymbolicationError(err error) bool {
	return isType(err, ErrorTypeSymbolication)
}

// IsAssetNotFound checks if an error is an unresolved asset.
func IsAssetNotFound(err error) bool {
	return isType(err, ErrorTypeAssetNotFound)
}

// As extracts the first *PackagerError in the chain.
func As(err error) (*PackagerError, bool) {
	var pe *PackagerError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func isType(err error, t ErrorType) bool {
	pe, ok := As(err)
	return ok && pe.Type == t
}
