package socket

import (
	"net/http"
	"net/url"
)

// ResponseMetadata is what the remote sent back when the connection opened.
type ResponseMetadata struct {
	StatusCode int
	Header     http.Header
}

// Engine receives notifications for one socket. Calls for a socket are
// never concurrent and arrive in the order the bridge accepted the events
// that caused them.
type Engine interface {
	Opened(meta ResponseMetadata)
	Received(data []byte)
	CompletedWrite(n int)
	CloseRequested(code int, reason string)
	Closed(status CloseStatus)
}

// RemoteListener is the bridge side seen by a transport.
type RemoteListener interface {
	OnRemoteOpened(meta ResponseMetadata)
	OnRemoteMessage(data []byte)
	OnRemoteClosing(code int, reason string)
	OnRemoteClosed(code int, reason string)
	OnRemoteFailed(err error, resp *ResponseMetadata)
}

// Request describes the connection the engine asked for.
type Request struct {
	URL     *url.URL
	Options Options
}

// Transport performs the network conversation for one bridge.
//
// The bridge calls these methods while holding its lock, so they must not
// block and must not call back into the RemoteListener synchronously.
type Transport interface {
	// OpenRemote starts connecting. The outcome is reported later through
	// OnRemoteOpened or OnRemoteFailed.
	OpenRemote(req Request)
	// SendToRemote queues data and reports whether it was accepted.
	SendToRemote(data []byte) bool
	// CloseRemote starts the close handshake and reports whether it could.
	CloseRemote(code int, reason string) bool
	// Cancel abandons the transport without a handshake.
	Cancel()
}

// ErrorClassifier is implemented by transports that can turn their failures
// into close statuses.
type ErrorClassifier interface {
	ClassifyError(err error) CloseStatus
}

// TransportFactory creates the transport for a new bridge.
type TransportFactory interface {
	NewTransport(listener RemoteListener) Transport
}

// TransportFactoryFunc adapts a function to TransportFactory.
type TransportFactoryFunc func(listener RemoteListener) Transport

// NewTransport calls f(listener).
func (f TransportFactoryFunc) NewTransport(listener RemoteListener) Transport { return f(listener) }
