// Package scheduler provides the single cooperative event loop a session runs
// on. Handlers posted to a Scheduler never run concurrently with each other.
package scheduler

import "time"

// Scheduler runs closures one at a time, in posting order.
type Scheduler interface {
	// Post queues fn to run on the loop.
	Post(fn func())
	// AfterFunc posts fn once d has elapsed. The returned stop prevents fn from
	// running if it has not run yet.
	AfterFunc(d time.Duration, fn func()) (stop func())
	// Go runs work off the loop and posts then(err) back onto it.
	Go(work func() error, then func(error))
	// Now is the scheduler's clock.
	Now() time.Time
}
