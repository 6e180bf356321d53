// Package poller keeps dashboard data fresh.
//
// The poller refreshes on a fixed interval and whenever Trigger is called.
// Triggers are debounced: bursts of realtime issue events collapse into one
// refresh. Each refresh fetches the issue list and the dashboard statistics
// concurrently.
package poller
