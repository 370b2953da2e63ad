package transport

import "time"

// Backoff bounds auto-reconnect: the n-th retry (0-based) waits
// min(Base*2^n, Cap), and no retry is scheduled once MaxAttempts is reached.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		Cap:         30 * time.Second,
		MaxAttempts: 10,
	}
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	wait := b.Base
	for i := 0; i < attempt; i++ {
		if wait >= b.Cap || wait > b.Cap/2 {
			return b.Cap
		}
		wait *= 2
	}
	if wait > b.Cap {
		return b.Cap
	}
	return wait
}
