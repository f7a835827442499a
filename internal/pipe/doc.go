// Package pipe owns the logical connection between two contexts that can only
// exchange serialized, unordered, best-effort messages.
//
// Ownership boundary:
// - handshake state machine (:>hello / :>hi probing, shared-key check)
// - pending request table keyed by correlation id
// - outbound sender and inbound dispatcher
// - timeout reaper
//
// Lifecycle order:
// - Disconnected -> Connecting -> Connected -> Disposed
//
// - Connecting fails into Disposed when no valid handshake arrives in time.
//
// - requests sent while Connecting are flushed in insertion order once the
// handshake completes.
//
// Transport, timers and log sinks are consumed through the channel and clock
// packages and the Handlers callbacks; this package never touches a socket.
package pipe
