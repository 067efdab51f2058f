package helpers

import "time"

// Limited exponential backoff for reconnect delays.
// Zero value is not usable, set Min and Max.
// After N consecutive Failure() calls Current() is min(Max, Min*K^N),
// Reset() brings it back to Min. K defaults to 2.
// Not safe for concurrent use, owner goroutine only.
type Backoff struct {
	Min time.Duration
	Max time.Duration
	K   int64

	next     time.Duration
	failures int
}

func (b *Backoff) Current() time.Duration {
	if b.next == 0 {
		return b.limit(b.Min)
	}
	return b.next
}

// Consecutive failures since last Reset().
func (b *Backoff) Failures() int { return b.failures }

// Increase next delay.
func (b *Backoff) Failure() time.Duration {
	k := b.K
	if k <= 1 {
		k = 2
	}
	cur := b.Current()
	next := cur * time.Duration(k)
	if next/time.Duration(k) != cur { // overflow
		next = b.Max
	}
	b.next = b.limit(next)
	b.failures++
	return b.next
}

func (b *Backoff) Reset() {
	b.next = b.limit(b.Min)
	b.failures = 0
}

func (b *Backoff) Update(success bool) time.Duration {
	if success {
		b.Reset()
	} else {
		b.Failure()
	}
	return b.Current()
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max != 0 && d > b.Max {
		d = b.Max
	}
	return d
}
