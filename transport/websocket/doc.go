// Package websocket is the socket.Transport used for replication: a
// gorilla/websocket client speaking to a Sync Gateway style endpoint.
//
// Engine URLs use the blip and blips schemes; they are dialed as ws and
// wss. Basic credentials are only sent in answer to a Basic challenge, and
// a server that keeps challenging is given up on after a fixed number of
// retries. Cookies from the socket options and from a cookiestore.Store
// are sent on every handshake; cookies the server sets are written back to
// the store.
//
// The close handshake is driven by the engine. A close frame from the
// server is reported with OnRemoteClosing and is not answered until the
// engine asks for the socket to be closed, or until the close timeout
// passes.
package websocket
