package helpers

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	type Case struct {
		b      Backoff
		expect []time.Duration
	}
	cases := []Case{
		{Backoff{Min: 5 * time.Second, Max: 30 * time.Second},
			[]time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second}},
		{Backoff{Min: 30 * time.Second, Max: 5 * time.Minute},
			[]time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 5 * time.Minute}},
		{Backoff{Min: time.Second, Max: time.Hour, K: 3},
			[]time.Duration{3 * time.Second, 9 * time.Second, 27 * time.Second}},
		{Backoff{Min: time.Duration(math.MaxInt64 / 2), Max: time.Duration(math.MaxInt64)},
			[]time.Duration{time.Duration(math.MaxInt64 - 1), time.Duration(math.MaxInt64)}},
	}
	for i, c := range cases {
		c := c
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			assert.Equal(t, c.b.Min, c.b.Current())
			for n, e := range c.expect {
				assert.Equal(t, e, c.b.Failure(), "failure=%d", n+1)
				assert.Equal(t, n+1, c.b.Failures())
			}
			c.b.Reset()
			assert.Equal(t, c.b.Min, c.b.Current())
			assert.Equal(t, 0, c.b.Failures())
			assert.Equal(t, c.expect[0], c.b.Update(false))
			assert.Equal(t, c.b.Min, c.b.Update(true))
		})
	}
}

func TestMillisSince(t *testing.T) {
	t.Parallel()

	cases := []struct {
		begin, now Millis
		expect     time.Duration
	}{
		{0, 0, 0},
		{100, 1100, time.Second},
		{math.MaxUint32 - 499, 500, time.Second},
		{math.MaxUint32, 0, time.Millisecond},
	}
	for _, c := range cases {
		assert.Equal(t, c.expect, c.now.Since(c.begin), "begin=%d now=%d", c.begin, c.now)
	}
	assert.Equal(t, Millis(499), Millis(math.MaxUint32-500).Add(time.Second))
}
