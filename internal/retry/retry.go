// Package retry implements bounded retries with exponential backoff. It is
// used for the best-effort side channels (mail delivery, ledger mirroring)
// where a transient failure should not surface to the caller immediately.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks an error that retrying cannot fix, such as a
// validation failure. Do unwraps and returns it without further attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops retrying.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do runs fn until it succeeds, up to maxAttempts times. The delay between
// attempts starts at baseDelay, doubles each time, and carries +-25% jitter
// so concurrent retriers do not fall into lockstep. Context cancellation
// during a backoff sleep aborts with ctx.Err. The last attempt's error is
// returned when all attempts fail.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}

		delay *= 2
	}

	return err
}

// jittered spreads d over [0.75d, 1.25d].
func jittered(d time.Duration) time.Duration {
	quarter := d / 4
	return d - quarter + time.Duration(randInt64n(int64(2*quarter+1)))
}

// randInt64n draws a uniform-ish int64 in [0, n) from crypto/rand, which the
// rest of the codebase already uses for token generation.
func randInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0 so v%n < n
}
