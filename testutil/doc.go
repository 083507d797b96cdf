// Package testutil provides fakes for the collaborators litesync talks to:
// a recording engine, a scripted transport, an in-memory key-value bucket,
// and a websocket server with configurable authentication and close
// behavior. Everything here is safe for concurrent use.
package testutil
