package retry

import "time"

const (
	DefaultBaseDelay = time.Second

	maxBackoffShift = 30
)

// Backoff returns base * 2^(attempt-1). Attempts below 1 are treated as 1.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return base << shift
}
