package firewall

import (
	"context"
	"errors"
	"math/rand"
	"syscall"
	"time"
)

// ErrTemporary matches netlink failures worth retrying. The kernel answers
// EBUSY while another process holds the ruleset generation; that clears
// within milliseconds.
var ErrTemporary = errors.New("temporary netlink error")

type temporary struct{ error }

func (e temporary) Unwrap() error        { return e.error }
func (e temporary) Is(target error) bool { return target == ErrTemporary }

// Temporary marks err as retryable.
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return temporary{err}
}

var transientErrnos = []syscall.Errno{syscall.EBUSY, syscall.EAGAIN, syscall.ENOBUFS, syscall.EINTR}

// classifyNetlink marks transient errnos as temporary.
func classifyNetlink(err error) error {
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return Temporary(err)
		}
	}
	return err
}

// Backoff is the retry policy for netlink transactions.
type Backoff struct {
	Attempts int // total tries, including the first
	Base     time.Duration
	Max      time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Attempts: 4, Base: 20 * time.Millisecond, Max: 500 * time.Millisecond}
}

// delay is Base doubled per previous attempt, capped at Max, plus up to 25%
// jitter.
func (b Backoff) delay(attempt int) time.Duration {
	d := b.Max
	if attempt < 16 {
		if exp := b.Base << attempt; exp > 0 && exp < b.Max {
			d = exp
		}
	}
	if j := int64(d) / 4; j > 0 {
		d += time.Duration(rand.Int63n(j))
	}
	return d
}

// Retry calls fn until it succeeds, returns an error that is not
// ErrTemporary, or uses up the attempts.
func Retry(ctx context.Context, b Backoff, fn func() error) error {
	_, err := RetryValue(ctx, b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryValue is Retry for functions that produce a value.
func RetryValue[T any](ctx context.Context, b Backoff, fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn()
		if err == nil || !errors.Is(err, ErrTemporary) || attempt+1 >= b.Attempts {
			return v, err
		}

		t := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}
