// Package retry re-runs database operations that fail for transient reasons
// such as a dropped connection, a deadlock or a server restart.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Classifier decides whether an error is worth another attempt.
type Classifier interface {
	IsTransient(err error) bool
}

// Backoff computes the wait before retry number attempt (zero-based).
type Backoff interface {
	NextDelay(attempt int) time.Duration
	MaxAttempts() int
}

// ExponentialBackoff doubles the delay per attempt up to a cap, with jitter.
type ExponentialBackoff struct {
	initial     time.Duration
	max         time.Duration
	multiplier  float64
	maxAttempts int
	jitter      float64
	rand        func() float64
}

type BackoffOption func(*ExponentialBackoff)

func WithInitialDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) { b.initial = d }
}

func WithMaxDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) { b.max = d }
}

// WithJitter sets the +/- fraction applied to each delay (0 disables it).
func WithJitter(j float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.jitter = j }
}

func WithRandom(f func() float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.rand = f }
}

// NewExponentialBackoff allows maxAttempts retries after the first try;
// a negative value retries until the context ends.
func NewExponentialBackoff(maxAttempts int, opts ...BackoffOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initial:     200 * time.Millisecond,
		max:         10 * time.Second,
		multiplier:  2,
		maxAttempts: maxAttempts,
		jitter:      0.1,
		rand:        rand.Float64,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	d := float64(b.initial) * math.Pow(b.multiplier, float64(attempt))
	if d > float64(b.max) {
		d = float64(b.max)
	}
	if b.jitter > 0 {
		d *= 1 + b.jitter*(b.rand()-0.5)*2
	}
	return time.Duration(d)
}

func (b *ExponentialBackoff) MaxAttempts() int { return b.maxAttempts }

// PostgresClassifier treats connection, resource, rollback and shutdown
// conditions as transient. Everything else, including SQL errors, is fatal.
type PostgresClassifier struct{}

func (PostgresClassifier) IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) >= 2 {
			switch pgErr.Code[:2] {
			case "08", "53", "57":
				return true
			}
		}
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return true
		}
		for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ENETUNREACH, syscall.EHOSTUNREACH} {
			if errors.Is(opErr.Err, errno) {
				return true
			}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"server closed the connection",
		"unexpected eof",
		"too many connections",
		"the database system is starting up",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Executor runs an operation, retrying transient failures per its Backoff.
type Executor struct {
	classifier Classifier
	backoff    Backoff
	onRetry    func(attempt int, err error, delay time.Duration)
}

func NewExecutor(c Classifier, b Backoff) *Executor {
	if c == nil || b == nil {
		panic("retry: classifier and backoff are required")
	}
	return &Executor{classifier: c, backoff: b}
}

// Default is the executor used for pool startup and catalog writes.
func Default() *Executor {
	return NewExecutor(PostgresClassifier{}, NewExponentialBackoff(5))
}

// WithOnRetry returns a copy that calls fn before each wait.
func (e *Executor) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) *Executor {
	c := *e
	c.onRetry = fn
	return &c
}

func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	max := e.backoff.MaxAttempts()
	for attempt := 0; err != nil && e.classifier.IsTransient(err) && (max < 0 || attempt < max); attempt++ {
		delay := e.backoff.NextDelay(attempt)
		if e.onRetry != nil {
			e.onRetry(attempt, err, delay)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		err = op(ctx)
	}
	return err
}
