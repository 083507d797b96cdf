// Package litesync is the connection side of a document replicator.
//
// The replication engine speaks its protocol over an abstract socket. This
// module supplies everything around it:
//
//   - socket: the bridge that binds an engine socket handle to a remote
//     transport, serializes events toward the engine and maps every
//     failure onto a close status.
//   - transport/websocket: a gorilla/websocket transport with Basic auth
//     challenge handling, cookies, heartbeats, client certificates and
//     pinned or self-signed server trust.
//   - replicator: the status coordinator that withholds status changes
//     while conflicts are being resolved, and the replicator wrapper that
//     drives an engine.
//   - cookiestore: in-memory and NATS KV backed cookie jars.
//   - config: file and environment configuration via viper.
//
// The litesync command in cmd/litesync probes an endpoint with the same
// stack.
package litesync
