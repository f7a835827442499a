// Package channel owns the transport contract between two pipe endpoints.
//
// Ownership boundary:
// - endpoint identity parsing
// - best-effort delivery of whole text payloads with sender identity
// - subscription lifetime
//
// Adapters:
// - Bus: in-process address space, one Port per identity
// - WebSocket: gorilla websocket connection, dialed or accepted
package channel
