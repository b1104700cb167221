package errors

import (
	"errors"
	"fmt"
)

// Code is a machine-checkable identifier carried by every error that crosses
// the engine boundary.
type Code string

// Error codes surfaced to callers of the boundary operations.
const (
	CodePortInUse         Code = "PORT_IN_USE"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeNetworkError      Code = "NETWORK_ERROR"
	CodeInvalidPort       Code = "INVALID_PORT"
	CodeInvalidConfig     Code = "INVALID_CONFIG"
	CodeEndpointNotFound  Code = "ENDPOINT_NOT_FOUND"
	CodeAlreadyActive     Code = "ALREADY_ACTIVE"
	CodePortConflict      Code = "PORT_CONFLICT"
	CodeInvalidOSCMessage Code = "INVALID_OSC_MESSAGE"
	CodeInternalError     Code = "INTERNAL_ERROR"
)

// Remediation carries actionable data a caller can use to recover from a failure.
type Remediation struct {
	SuggestedPorts []int  `json:"suggestedPorts,omitempty"`
	Hint           string `json:"hint,omitempty"`
}

// IsZero reports whether the remediation carries no data.
func (r Remediation) IsZero() bool {
	return len(r.SuggestedPorts) == 0 && r.Hint == ""
}

// CodedError is a classified error with a stable code and optional remediation.
type CodedError struct {
	Code        Code
	Class       ErrorClass
	Message     string
	Err         error
	Remediation Remediation
}

// Error implements the error interface
func (e *CodedError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return string(e.Code)
	}
}

// Unwrap returns the underlying error
func (e *CodedError) Unwrap() error {
	return e.Err
}

// NewCoded creates a coded error. The class is derived from the code.
func NewCoded(code Code, message string, err error) *CodedError {
	return &CodedError{
		Code:    code,
		Class:   classForCode(code),
		Message: message,
		Err:     err,
	}
}

// WithRemediation attaches remediation data and returns the same error.
func (e *CodedError) WithRemediation(r Remediation) *CodedError {
	e.Remediation = r
	return e
}

// CodeOf returns the code of the outermost CodedError in err's chain,
// or CodeInternalError when none is present.
func CodeOf(err error) Code {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternalError
}

// RemediationOf returns the remediation of the outermost CodedError in err's chain.
func RemediationOf(err error) Remediation {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Remediation
	}
	return Remediation{}
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var ce *CodedError
	return errors.As(err, &ce) && ce.Code == code
}

func classForCode(code Code) ErrorClass {
	switch code {
	case CodeInvalidPort, CodeInvalidConfig, CodeEndpointNotFound,
		CodeAlreadyActive, CodePortConflict, CodeInvalidOSCMessage:
		return ErrorInvalid
	case CodePermissionDenied, CodeInternalError:
		return ErrorFatal
	default:
		return ErrorTransient
	}
}
