package endpoint

import (
	stderrors "errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/c360/oscbridge/errors"
)

// maxSuggestedPorts is how many alternatives a port-in-use error offers.
const maxSuggestedPorts = 3

// ClassifyBindError maps a socket error on port to PORT_IN_USE,
// PERMISSION_DENIED or NETWORK_ERROR. The errno is checked first and the OS
// error text is used as a fallback.
func ClassifyBindError(err error, port int) *errors.CodedError {
	text := ""
	if err != nil {
		text = strings.ToLower(err.Error())
	}

	switch {
	case stderrors.Is(err, syscall.EADDRINUSE),
		strings.Contains(text, "address already in use"),
		strings.Contains(text, "only one usage of each socket address"):
		return errors.NewCoded(errors.CodePortInUse,
			fmt.Sprintf("port %d is already in use", port),
			wrapSentinel(errors.ErrPortInUse, err)).
			WithRemediation(errors.Remediation{
				SuggestedPorts: SuggestPorts(port),
				Hint:           "choose one of the suggested ports or stop the process holding this port",
			})

	case stderrors.Is(err, syscall.EACCES),
		stderrors.Is(err, syscall.EPERM),
		strings.Contains(text, "permission denied"),
		strings.Contains(text, "access permissions"):
		return errors.NewCoded(errors.CodePermissionDenied,
			fmt.Sprintf("permission denied binding port %d", port),
			wrapSentinel(errors.ErrPermissionDenied, err)).
			WithRemediation(errors.Remediation{
				Hint: fmt.Sprintf("use a port >= %d or run with sufficient privileges", MinPort),
			})

	default:
		return errors.NewCoded(errors.CodeNetworkError,
			fmt.Sprintf("network error on port %d", port), err)
	}
}

// SuggestPorts returns up to three ports after port, clipped to MaxPort.
func SuggestPorts(port int) []int {
	ports := make([]int, 0, maxSuggestedPorts)
	for p := port + 1; p <= port+maxSuggestedPorts && p <= MaxPort; p++ {
		ports = append(ports, p)
	}
	return ports
}

// wrapSentinel keeps both the sentinel and the OS error reachable through errors.Is.
func wrapSentinel(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
