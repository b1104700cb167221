// Package errors provides standardized error handling for oscbridge components.
//
// # Error Classification
//
// Errors fall into three classes that drive handling decisions:
//
//   - Transient: timeouts, lost connections, generic socket failures (retry may help)
//   - Invalid: malformed packets, bad configuration, conflicts (do not retry)
//   - Fatal: permission problems and unexpected internal failures
//
// Wrap third-party errors with component context:
//
//	if err := conn.Close(); err != nil {
//	    return errors.WrapTransient(err, "Endpoint", "Stop", "socket close")
//	}
//
// All wrapping follows the format "component.method: action failed: cause".
//
// # Error Codes
//
// Every failure that crosses the engine boundary carries a Code so that callers can
// branch on it without string matching. Network failures additionally carry
// Remediation data:
//
//	err := errors.NewCoded(errors.CodePortInUse, "port 9000 is in use", cause).
//	    WithRemediation(errors.Remediation{SuggestedPorts: []int{9001, 9002, 9003}})
//
//	switch errors.CodeOf(err) {
//	case errors.CodePortInUse:
//	    ports := errors.RemediationOf(err).SuggestedPorts
//	    ...
//	}
//
// CodedError participates in classification: IsTransient, IsInvalid and IsFatal
// consult the class derived from its code.
package errors
