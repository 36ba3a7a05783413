package client

import "time"

// backoffDelay returns the reconnect delay after the given number of
// previous failed attempts (zero-based). The schedule is exponential from
// base, capped at max: base, 2*base, 4*base, ... max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
