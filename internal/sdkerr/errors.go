// Package sdkerr defines the error taxonomy shared by the embedding client.
//
// Every error surfaced to host code carries a Type (what kind of failure) and
// a stable Code (which failure). errors.Is matches on Code, so callers can
// compare against the exported sentinels regardless of wrapping or the
// concrete message.
package sdkerr

import (
	"errors"
	"fmt"
)

// Type classifies an error.
type Type string

const (
	TypeValidation Type = "VALIDATION_ERROR"
	TypeAPI        Type = "API"
	TypeNetwork    Type = "NETWORK"
	TypeAuth       Type = "AUTH_FAILURE"
)

// Code identifies a specific failure.
type Code string

const (
	CodeInitRequired        Code = "INIT_ERROR"
	CodeMissingTokenSource  Code = "MISSING_TOKEN_SOURCE"
	CodeDuplicateToken      Code = "DUPLICATE_TOKEN"
	CodeConflictingActions  Code = "CONFLICTING_ACTIONS_CONFIG"
	CodeConflictingTabs     Code = "CONFLICTING_TABS_CONFIG"
	CodeInvalidHost         Code = "INVALID_HOST"
	CodeInvalidAuthType     Code = "INVALID_AUTH_TYPE"
	CodeInvalidConfig       Code = "INVALID_CONFIG"
	CodeNotRendered         Code = "NOT_RENDERED"
	CodeDestroyed           Code = "DESTROYED"
	CodeLoginFailed         Code = "LOGIN_FAILED"
	CodeUpdateParamsFailed  Code = "UPDATE_PARAMS_FAILED"
	CodeTriggerTimeout      Code = "TRIGGER_TIMEOUT"
	CodeTriggerFailed       Code = "TRIGGER_FAILED"
	CodeFrameLoadFailed     Code = "FRAME_LOAD_FAILED"
	CodeOffline             Code = "OFFLINE"
	CodeTokenFetchFailed    Code = "TOKEN_FETCH_FAILED"
	CodeTokenVerifyFailed   Code = "TOKEN_VERIFY_FAILED"
	CodePreRenderIDRequired Code = "PRERENDER_ID_REQUIRED"
)

const (
	MsgInitRequired       = "You need to init the ThoughtSpot SDK module first"
	MsgMissingTokenSource = "Either auth endpoint or getAuthToken function must be provided."
	MsgDuplicateToken     = "Duplicate token, please issue a new token every time getAuthToken callback is called."
	MsgConflictingActions = "You cannot have both hidden actions and visible actions"
	MsgConflictingTabs    = "You cannot have both hidden Tabs and visible Tabs"
	MsgOffline            = "Network not Detected. Embed is offline. Please reconnect and refresh"
	MsgNotRendered        = "Please call render before triggering events"
	MsgLoginFailed        = "Login failed"
	MsgUpdateParamsFailed = "Failed to update embed parameters"
)

// Error is the structured error type used across the client.
type Error struct {
	Type    Type
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Payload is the shape delivered to Error event handlers.
func (e *Error) Payload() map[string]any {
	return map[string]any{
		"errorType": string(e.Type),
		"code":      string(e.Code),
		"message":   e.Error(),
	}
}

// New builds an error without a cause.
func New(t Type, code Code, msg string) *Error {
	return &Error{Type: t, Code: code, Message: msg}
}

// Wrap builds an error around cause.
func Wrap(t Type, code Code, msg string, cause error) *Error {
	return &Error{Type: t, Code: code, Message: msg, Err: cause}
}

// Validation is shorthand for a TypeValidation error.
func Validation(code Code, msg string) *Error {
	return New(TypeValidation, code, msg)
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsFatal reports whether err is a configuration/validation failure that must
// not be retried.
func IsFatal(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	return e.Type == TypeValidation
}

// Sentinels for errors.Is comparisons.
var (
	ErrInitRequired       = Validation(CodeInitRequired, MsgInitRequired)
	ErrMissingTokenSource = Validation(CodeMissingTokenSource, MsgMissingTokenSource)
	ErrDuplicateToken     = Validation(CodeDuplicateToken, MsgDuplicateToken)
	ErrConflictingActions = Validation(CodeConflictingActions, MsgConflictingActions)
	ErrConflictingTabs    = Validation(CodeConflictingTabs, MsgConflictingTabs)
	ErrInvalidHost        = Validation(CodeInvalidHost, "invalid thoughtSpotHost")
	ErrInvalidAuthType    = Validation(CodeInvalidAuthType, "invalid authType")
	ErrInvalidConfig      = Validation(CodeInvalidConfig, "invalid configuration")
	ErrPreRenderIDMissing = Validation(CodePreRenderIDRequired, "preRenderId is required to prerender")
	ErrNotRendered        = Validation(CodeNotRendered, MsgNotRendered)
	ErrDestroyed          = Validation(CodeDestroyed, "embed has been destroyed")
	ErrLoginFailed        = New(TypeAPI, CodeLoginFailed, MsgLoginFailed)
	ErrUpdateParamsFailed = New(TypeAPI, CodeUpdateParamsFailed, MsgUpdateParamsFailed)
	ErrTriggerTimeout     = New(TypeAPI, CodeTriggerTimeout, "timed out waiting for host event reply")
	ErrOffline            = New(TypeNetwork, CodeOffline, MsgOffline)
)
