package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrThrottled is returned by collaborators that want to signal a rate-limit
// condition explicitly. It is always retryable.
var ErrThrottled = errors.New("throttled")

// ErrRetriesExhausted wraps the last error once a Policy's retry budget is spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Policy describes exponential backoff with jitter.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64
}

// DefaultPolicy mirrors the tuning used against the vision service.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     10,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     60 * time.Second,
		JitterFraction: 0.1,
	}
}

// Validate rejects policies that would spin without waiting or grow without a cap.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if p.InitialBackoff <= 0 {
		return fmt.Errorf("initial backoff must be positive, got %s", p.InitialBackoff)
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("max backoff (%s) must not be below initial backoff (%s)", p.MaxBackoff, p.InitialBackoff)
	}
	if p.JitterFraction < 0 {
		return fmt.Errorf("jitter fraction must not be negative")
	}
	return nil
}

// Backoff returns the deterministic part of the wait before retry number
// attempt (zero based): min(InitialBackoff * 2^attempt, MaxBackoff).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Delay returns Backoff(attempt) plus a jitter drawn from [0, JitterFraction*Backoff).
// rnd must return a value in [0, 1).
func (p Policy) Delay(attempt int, rnd func() float64) time.Duration {
	base := p.Backoff(attempt)
	if p.JitterFraction <= 0 || rnd == nil {
		return base
	}
	return base + time.Duration(rnd()*p.JitterFraction*float64(base))
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retrier runs an operation under a Policy.
type Retrier struct {
	Policy    Policy
	Sleep     Sleeper
	Rand      func() float64
	Retryable func(error) bool
	Logger    *slog.Logger
}

// New returns a Retrier using real sleeps, math/rand jitter and the default classifier.
func New(p Policy, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{
		Policy:    p,
		Sleep:     SleepContext,
		Rand:      rand.Float64,
		Retryable: Retryable,
		Logger:    logger,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the retry
// budget is exhausted. fn is invoked at most MaxRetries+1 times.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	classify := r.Retryable
	if classify == nil {
		classify = Retryable
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 0; attempt <= r.Policy.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !classify(err) {
			return err
		}
		if attempt == r.Policy.MaxRetries {
			break
		}

		wait := r.Policy.Delay(attempt, r.Rand)
		r.Logger.Warn(
			"Retryable failure, backing off.",
			"operation", op,
			"attempt", attempt+1,
			"maxRetries", r.Policy.MaxRetries,
			"backoff", wait.String(),
			"error", err,
		)
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s: backoff interrupted: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrRetriesExhausted, r.Policy.MaxRetries+1, lastErr)
}

var throttleFragments = []string{
	"throttl",
	"too many requests",
	"limit exceeded",
	"rate limit",
	"resource exhausted",
	"resource_exhausted",
	"service unavailable",
}

// Retryable reports whether err belongs to the rate-limit / transient-service family.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrThrottled) {
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.Internal, codes.Aborted, codes.DeadlineExceeded:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range throttleFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
