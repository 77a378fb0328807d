package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Policy bounds the attempts made against an external service. After failed
// attempt n (0-based) the caller sleeps Base^n * Unit.
type Policy struct {
	MaxAttempts int
	Base        float64
	Unit        time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Base: 2, Unit: time.Second}
}

func (p Policy) Delay(n int) time.Duration {
	return time.Duration(math.Pow(p.Base, float64(n)) * float64(p.Unit))
}

// powerBackOff yields Base^0, Base^1, ... units and stops after
// MaxAttempts-1 delays.
type powerBackOff struct {
	policy Policy
	n      int
}

func (b *powerBackOff) NextBackOff() time.Duration {
	if b.n >= b.policy.MaxAttempts-1 {
		return backoff.Stop
	}
	d := b.policy.Delay(b.n)
	b.n++
	return d
}

func (b *powerBackOff) Reset() { b.n = 0 }

// Error is the terminal failure of a retried call.
type Error struct {
	Attempts  int
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s failure after %d attempt(s): %v", kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Attempts extracts the attempt count from a retry failure, or 0.
func Attempts(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 0
}

// Do runs op until it succeeds, returns a permanent error, the policy is
// exhausted or ctx is done. It returns the number of attempts made.
func Do(ctx context.Context, p Policy, log *logrus.Entry, op func(ctx context.Context) error) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	attempts := 0
	var permanent bool
	operation := func() error {
		attempts++
		err := op(ctx)
		if err != nil && IsPermanent(err) {
			permanent = true
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if log != nil {
			log.WithFields(logrus.Fields{
				"attempt": attempts,
				"wait":    wait.String(),
			}).WithError(err).Warn("retrying after failure")
		}
	}

	b := backoff.WithContext(&powerBackOff{policy: p}, ctx)
	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return attempts, nil
	}
	return attempts, &Error{Attempts: attempts, Permanent: permanent, Err: err}
}
