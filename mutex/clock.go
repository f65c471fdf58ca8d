package mutex

import "time"

// Clock abstracts the time source so tests can control request timestamps and retry timers.
type Clock interface {
	// Now returns the current local time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// NewTimer creates a Timer that fires once after d.
	NewTimer(d time.Duration) Timer
}

// Timer is an interface wrapper around time.Timer for mocking.
type Timer interface {
	// Chan returns the channel on which the time will be delivered.
	Chan() <-chan time.Time

	// Stop prevents the Timer from firing.
	// It returns true if the call stops the timer, false if the timer has already
	// expired or been stopped.
	Stop() bool

	// Reset changes the timer to expire after duration d.
	// It returns true if the timer had been active.
	Reset(d time.Duration) bool
}

// Seconds converts t to the float seconds carried in request timestamps.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// standardClock implements Clock using the standard time package.
type standardClock struct{}

// NewStandardClock returns a Clock backed by the standard time package.
func NewStandardClock() Clock {
	return &standardClock{}
}

func (sc *standardClock) Now() time.Time {
	return time.Now()
}

func (sc *standardClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (sc *standardClock) NewTimer(d time.Duration) Timer {
	return &standardTimer{timer: time.NewTimer(d)}
}

// standardTimer wraps time.Timer to satisfy the Timer interface.
type standardTimer struct {
	timer *time.Timer
}

func (st *standardTimer) Chan() <-chan time.Time {
	return st.timer.C
}

func (st *standardTimer) Stop() bool {
	return st.timer.Stop()
}

func (st *standardTimer) Reset(d time.Duration) bool {
	return st.timer.Reset(d)
}
