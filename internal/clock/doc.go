// Package clock abstracts timers so that reconnect, heartbeat and toast
// expiry schedules can be driven deterministically in tests.
//
// Production code uses Real(). Tests use NewFake and move time forward
// with Advance; AfterFunc callbacks run synchronously inside Advance in
// deadline order.
package clock
