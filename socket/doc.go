// Package socket bridges the replication engine's abstract sockets onto
// concrete network transports.
//
// Each logical connection is a Bridge. The engine drives it through Open,
// Write, AcknowledgeReceive and RequestClose; the transport drives it through
// the RemoteListener callbacks. Both sides may call concurrently and may race
// teardown. The bridge reconciles them with one lock and a five state
// machine:
//
//	UNOPENED -> OPENING -> OPEN -> CLOSING -> CLOSED
//	UNOPENED -> CLOSING, OPENING -> CLOSING
//
// Illegal transitions are logged and ignored. Every notification bound for
// the engine is delivered through a per-bridge serial queue, so the engine is
// never called while the bridge lock is held and sees events in the order the
// bridge accepted them. A bridge delivers exactly one Closed to its engine.
//
// Engines that address sockets by opaque handle use a Registry, which maps
// handles to bridges for the bridge's lifetime and drops callbacks for
// handles it does not know.
package socket
