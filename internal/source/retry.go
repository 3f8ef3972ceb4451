package source

import "time"

// RetryPolicy bounds how often a failing backend is closed and reopened
// before a read is reported as failed.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is three reopen attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Backoff:  1 * time.Second,
	}
}

func (p RetryPolicy) wait() {
	if p.Backoff > 0 {
		time.Sleep(p.Backoff)
	}
}
