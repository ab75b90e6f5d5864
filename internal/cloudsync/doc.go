// Package cloudsync keeps the local study plan and its remote document in
// step for an authenticated identity.
//
// # Overview
//
// The Coordinator listens to the state store and to the remote document:
//
//	local change  --debounce-->  upload whole document (lastUpdated = T)
//	remote change --compare--->  adopt when strictly newer than the baseline
//
// The baseline is the lastUpdated of the last document this device uploaded
// or adopted. A pushed document at or below the baseline is this device's
// own write echoing back, or a stale read, and is ignored.
//
// # Timing
//
// A burst of local changes collapses into one upload once DebounceInterval
// passes without another change. After adopting a remote document the
// coordinator holds debounced uploads for IgnoreWindow so the adopted data
// is not immediately written back. Both timers use the injected clock.
//
// # Failures
//
// Network errors never reach the state store. They move Status to error or
// disconnected and are reported through the Notifier. A failed upload stays
// pending: the next local change or Flush retries it. A dropped stream is
// reopened after ReconnectDelay.
//
// # Usage
//
//	c := cloudsync.New(store, cloudsync.DefaultConfig())
//	if err := c.Bind(ctx, userID, client); err != nil {
//		// still bound; status shows the failure and a retry is scheduled
//	}
//	defer c.Close()
//	...
//	c.Flush(ctx) // before exiting
package cloudsync
