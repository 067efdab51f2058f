package helpers

import "time"

func IntSecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Second
}

func IntMillisecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Millisecond
}

// IntSecondRange returns x seconds, or def when x is outside [min,max].
func IntSecondRange(x int, min, max, def time.Duration) (time.Duration, bool) {
	d := time.Duration(x) * time.Second
	if d < min || d > max {
		return def, false
	}
	return d, true
}
