// Package notify holds the user-facing toast queue and adapts realtime
// channel events into toasts.
package notify
