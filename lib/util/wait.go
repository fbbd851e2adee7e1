package util

import "time"

// WaitForCondition polls cond every interval until it returns true or the
// timeout expires. It reports whether the condition was met.
func WaitForCondition(cond func() bool, timeout, interval time.Duration) bool {
	if interval <= 0 {
		interval = time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			// one last look, the condition may have flipped while sleeping
			return cond()
		}
		time.Sleep(interval)
	}
}
