package fault

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Backoff bounds a retry loop. Delays double after every attempt, with a
// uniform random jitter added so parallel workers do not stampede.
type Backoff struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Base is the delay before the second attempt.
	Base time.Duration
	// Jitter is the maximum random add-on per delay. Zero disables it.
	Jitter time.Duration
}

// Retry runs fn until it succeeds, returns a permanent error, exhausts
// the attempt budget, or the context ends. The last error is returned
// wrapped with the attempt count; its classification is preserved.
func Retry(ctx context.Context, b Backoff, op string, fn func() error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := b.Base

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		wait := delay
		if b.Jitter > 0 {
			wait += rand.N(b.Jitter)
		}
		select {
		case <-ctx.Done():
			return Transient(op, fmt.Errorf("aborted after %d attempts: %w (%v)", attempt, ctx.Err(), err))
		case <-time.After(wait):
		}
		delay *= 2
	}
	return Transient(op, fmt.Errorf("gave up after %d attempts: %w", attempts, err))
}
