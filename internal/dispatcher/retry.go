package dispatcher

import "time"

// RetryPolicy decides what happens to a job whose delivery failed. The zero
// value retries forever on every pass without moving send_at.
type RetryPolicy struct {
	MaxAttempts int           // 0 = unlimited
	BackoffBase time.Duration // 0 = retry on the next pass
	BackoffMax  time.Duration // 0 = no cap
}

// decide returns when to retry after the given number of consecutive
// failures. A zero retryAt leaves send_at unchanged.
func (p RetryPolicy) decide(failures int, now time.Time) (retryAt time.Time, terminal bool) {
	if p.MaxAttempts > 0 && failures >= p.MaxAttempts {
		return time.Time{}, true
	}
	if p.BackoffBase <= 0 {
		return time.Time{}, false
	}
	return now.Add(p.backoff(failures)), false
}

// backoff doubles from BackoffBase: base, 2*base, 4*base, ...
func (p RetryPolicy) backoff(failures int) time.Duration {
	if failures <= 1 {
		return p.clamp(p.BackoffBase)
	}
	d := p.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			return p.BackoffMax
		}
		if d <= 0 { // overflow
			return p.clamp(time.Duration(1<<63 - 1))
		}
	}
	return p.clamp(d)
}

func (p RetryPolicy) clamp(d time.Duration) time.Duration {
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}
