// Package clock abstracts the time source of polling loops so that they
// can be driven by hand in tests.
package clock

import "time"

// Clock provides the current time and periodic ticks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// NewTicker returns a Ticker that delivers the current time every d.
	NewTicker(d time.Duration) Ticker

	// After delivers the current time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Ticker delivers ticks until stopped. Like time.Ticker, it drops ticks
// for slow receivers.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time {
	return r.t.C
}

func (r realTicker) Stop() {
	r.t.Stop()
}
