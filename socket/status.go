package socket

import "fmt"

// Domain says which layer a close status comes from.
type Domain int

const (
	// DomainEngine codes are engine error codes; code 0 is success.
	DomainEngine Domain = iota
	// DomainNetwork codes are NetworkError values.
	DomainNetwork
	// DomainRemoteProtocol codes are WebSocket close codes or HTTP statuses.
	DomainRemoteProtocol
)

func (d Domain) String() string {
	switch d {
	case DomainEngine:
		return "engine"
	case DomainNetwork:
		return "network"
	case DomainRemoteProtocol:
		return "remote"
	default:
		return "unknown"
	}
}

// EngineDomain returns the engine's numeric error domain for d.
func (d Domain) EngineDomain() int {
	switch d {
	case DomainEngine:
		return ErrorDomainLiteCore
	case DomainNetwork:
		return ErrorDomainNetwork
	default:
		return ErrorDomainWebSocket
	}
}

// Engine error domains.
const (
	ErrorDomainLiteCore  = 1
	ErrorDomainPOSIX     = 2
	ErrorDomainSQLite    = 3
	ErrorDomainFleece    = 4
	ErrorDomainNetwork   = 5
	ErrorDomainWebSocket = 6
)

// Engine error codes used by the bridge.
const (
	EngineSuccess         = 0
	EngineUnexpectedError = 10
)

// Network error codes.
const (
	NetworkUnknownHost        = 2
	NetworkTLSHandshakeFailed = 6
	NetworkTLSCertUntrusted   = 8
	NetworkTLSCertRevoked     = 14
	NetworkNotConnected       = 22
	NetworkHostUnreachable    = 24
)

// WebSocket close codes.
const (
	CloseNormal      = 1000
	CloseGoingAway   = 1001
	CloseAbnormal    = 1006
	ClosePolicyError = 1008
	CloseTLSFailure  = 1015
)

// HTTP status bounds. Codes strictly inside are HTTP statuses, which the
// remote cannot interpret as close codes.
const (
	HTTPStatusMin = 100
	HTTPStatusMax = 600
)

// CloseStatus describes why a connection ended.
type CloseStatus struct {
	Domain  Domain
	Code    int
	Message string
}

// Success is the status of a normal close.
var Success = CloseStatus{Domain: DomainEngine, Code: EngineSuccess}

// IsSuccess reports whether s describes a normal close.
func (s CloseStatus) IsSuccess() bool {
	return s.Domain == DomainEngine && s.Code == EngineSuccess
}

func (s CloseStatus) String() string {
	if s.Message == "" {
		return fmt.Sprintf("%s/%d", s.Domain, s.Code)
	}
	return fmt.Sprintf("%s/%d: %s", s.Domain, s.Code, s.Message)
}

// StatusFromCloseCode maps a close code received from the remote: a normal
// close is success, anything else is a remote protocol status.
func StatusFromCloseCode(code int, reason string) CloseStatus {
	if code == CloseNormal {
		return Success
	}
	return CloseStatus{Domain: DomainRemoteProtocol, Code: code, Message: reason}
}

// RemoteCloseCode converts a code the engine asked to close with into one
// the remote understands.
func RemoteCloseCode(code int) int {
	if code > HTTPStatusMin && code < HTTPStatusMax {
		return ClosePolicyError
	}
	return code
}
