package a2a

import (
	"errors"
	"fmt"
)

// ============================================================================
// ERROR TAXONOMY
// Discovery and messaging raise typed errors so callers can route on kind
// without string matching. Auth tokens never appear in error text.
// ============================================================================

// DiscoveryErrorKind classifies agent-card discovery failures.
type DiscoveryErrorKind string

const (
	DiscoveryUnreachable DiscoveryErrorKind = "unreachable"
	DiscoveryHTTPStatus  DiscoveryErrorKind = "http_status"
	DiscoveryMalformed   DiscoveryErrorKind = "malformed"
)

// DiscoveryError is returned by Client.Discover.
type DiscoveryError struct {
	Kind       DiscoveryErrorKind
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *DiscoveryError) Error() string {
	switch e.Kind {
	case DiscoveryHTTPStatus:
		return fmt.Sprintf("agent card discovery at %s failed with status %d", e.Endpoint, e.StatusCode)
	case DiscoveryMalformed:
		if e.Err != nil {
			return fmt.Sprintf("agent card from %s is malformed: %v", e.Endpoint, e.Err)
		}
		return fmt.Sprintf("agent card from %s is malformed", e.Endpoint)
	default:
		if e.Err != nil {
			return fmt.Sprintf("agent at %s is unreachable: %v", e.Endpoint, e.Err)
		}
		return fmt.Sprintf("agent at %s is unreachable", e.Endpoint)
	}
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ProtocolErrorKind classifies message/send failures.
type ProtocolErrorKind string

const (
	ProtocolTimeout      ProtocolErrorKind = "timeout"
	ProtocolUnreachable  ProtocolErrorKind = "unreachable"
	ProtocolUnauthorized ProtocolErrorKind = "unauthorized"
	ProtocolBadStatus    ProtocolErrorKind = "bad_status"
	ProtocolMalformed    ProtocolErrorKind = "malformed"
	ProtocolRPCError     ProtocolErrorKind = "rpc_error"
)

// ProtocolError is returned by Client.Send.
type ProtocolError struct {
	Kind       ProtocolErrorKind
	Detail     string
	StatusCode int // HTTP status, when one was received
	RPCCode    int // JSON-RPC error code, for ProtocolRPCError
	Err        error
}

func (e *ProtocolError) Error() string {
	switch e.Kind {
	case ProtocolTimeout:
		return fmt.Sprintf("agent request timed out: %s", e.Detail)
	case ProtocolUnauthorized:
		return fmt.Sprintf("agent rejected credentials (status %d)", e.StatusCode)
	case ProtocolBadStatus:
		return fmt.Sprintf("agent returned status %d: %s", e.StatusCode, e.Detail)
	case ProtocolRPCError:
		return fmt.Sprintf("agent returned error %d: %s", e.RPCCode, e.Detail)
	case ProtocolMalformed:
		return fmt.Sprintf("agent reply is malformed: %s", e.Detail)
	default:
		if e.Err != nil {
			return fmt.Sprintf("agent is unreachable: %v", e.Err)
		}
		return fmt.Sprintf("agent is unreachable: %s", e.Detail)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolKind reports whether err is a ProtocolError of the given kind.
func IsProtocolKind(err error, kind ProtocolErrorKind) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Kind == kind
}

// IsDiscoveryKind reports whether err is a DiscoveryError of the given kind.
func IsDiscoveryKind(err error, kind DiscoveryErrorKind) bool {
	var de *DiscoveryError
	return errors.As(err, &de) && de.Kind == kind
}

// truncate bounds error/log payload excerpts.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
