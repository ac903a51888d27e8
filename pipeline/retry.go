package pipeline

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryAttempts and newTransientBackoff's 1.5s interval implement spec §7's Transient I/O policy:
// "up to a retry policy supplied by the host (typical: 3 attempts,
// 1.5s base)".
const retryAttempts = 3

func retryBackoff[T any](f func() (T, error)) (T, error) {
	policy := backoff.WithMaxRetries(newTransientBackoff(), retryAttempts-1)

	var result T
	err := backoff.Retry(func() error {
		r, err := f()
		if err != nil {
			return err
		}
		result = r
		return nil
	}, policy)
	return result, err
}

func newTransientBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1500 * time.Millisecond
	b.Multiplier = 1
	return b
}
