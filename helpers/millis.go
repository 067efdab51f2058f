package helpers

import (
	"time"
)

// Millis is monotonic milliseconds counter, like Arduino millis().
// It wraps around every ~49.7 days. Never compare two Millis with < or >,
// use Since() which stays correct across one wrap.
type Millis uint32

// Since returns m-begin, correct across counter overflow
// as long as real elapsed time is below 2^32 ms.
func (m Millis) Since(begin Millis) time.Duration {
	return time.Duration(uint32(m)-uint32(begin)) * time.Millisecond
}

func (m Millis) Add(d time.Duration) Millis {
	return m + Millis(d/time.Millisecond)
}

// MillisClock source of monotonic ticks. Production uses NewMonoClock(),
// tests drive time manually.
type MillisClock interface {
	Millis() Millis
}

type monoClock struct{ start time.Time }

// NewMonoClock starts counting from zero now.
func NewMonoClock() MillisClock { return monoClock{start: time.Now()} }

func (c monoClock) Millis() Millis {
	return Millis(uint64(time.Since(c.start) / time.Millisecond))
}
