// Package realtime implements the live-update channel to the tracker server.
//
// The Manager:
//   - Owns a single WebSocket connection per process
//   - Reconnects after abnormal closes with exponential backoff (5s, 10s, 20s, ...)
//     up to a fixed number of attempts
//   - Sends a "ping" heartbeat every 30s while open
//   - Decodes inbound JSON frames and dispatches them to handlers keyed by type
//   - Publishes every connection State transition, in order, to subscribers
//
// All socket and timer callbacks are serialized by the manager. Each connect
// attempt gets a new generation number; callbacks carrying an older generation
// are ignored, so a slow close from a replaced socket or a timer that raced
// with Disconnect has no effect.
package realtime
