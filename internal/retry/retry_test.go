package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func (s *recordingSleeper) total() time.Duration {
	var sum time.Duration
	for _, w := range s.waits {
		sum += w
	}
	return sum
}

func newTestRetrier(p Policy, s *recordingSleeper, rnd func() float64) *Retrier {
	r := New(p, nil)
	r.Sleep = s.sleep
	r.Rand = rnd
	return r
}

func TestPolicyBackoff(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 1*time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 32*time.Second, p.Backoff(5))
	assert.Equal(t, 60*time.Second, p.Backoff(6))
	assert.Equal(t, 60*time.Second, p.Backoff(40))
}

func TestPolicyDelayJitterBounds(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 4*time.Second, p.Delay(2, func() float64 { return 0 }))

	upper := p.Delay(2, func() float64 { return 0.999999 })
	assert.GreaterOrEqual(t, upper, 4*time.Second)
	assert.Less(t, upper, 4*time.Second+400*time.Millisecond)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"negative retries", func(p *Policy) { p.MaxRetries = -1 }},
		{"zero initial backoff", func(p *Policy) { p.InitialBackoff = 0 }},
		{"negative initial backoff", func(p *Policy) { p.InitialBackoff = -time.Second }},
		{"zero max backoff", func(p *Policy) { p.MaxBackoff = 0 }},
		{"max below initial", func(p *Policy) { p.InitialBackoff = 2 * time.Second; p.MaxBackoff = time.Second }},
		{"negative jitter", func(p *Policy) { p.JitterFraction = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestDoSucceedsAfterKThrottles(t *testing.T) {
	const k = 4
	p := DefaultPolicy()
	s := &recordingSleeper{}
	r := newTestRetrier(p, s, func() float64 { return 0.5 })

	calls := 0
	err := r.Do(context.Background(), "describe", func(context.Context) error {
		calls++
		if calls <= k {
			return ErrThrottled
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, k+1, calls)
	require.Len(t, s.waits, k)

	var lowerBound time.Duration
	for i := 0; i < k; i++ {
		lowerBound += p.Backoff(i)
	}
	assert.GreaterOrEqual(t, s.total(), lowerBound)
}

func TestDoExhaustsRetries(t *testing.T) {
	p := DefaultPolicy()
	s := &recordingSleeper{}
	r := newTestRetrier(p, s, func() float64 { return 0 })

	calls := 0
	err := r.Do(context.Background(), "describe", func(context.Context) error {
		calls++
		return ErrThrottled
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, p.MaxRetries+1, calls)
	assert.Len(t, s.waits, p.MaxRetries)
}

func TestDoStopsOnTerminalError(t *testing.T) {
	s := &recordingSleeper{}
	r := newTestRetrier(DefaultPolicy(), s, nil)
	terminal := errors.New("invalid argument: bad image")

	calls := 0
	err := r.Do(context.Background(), "describe", func(context.Context) error {
		calls++
		return terminal
	})

	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.waits)
}

func TestDoStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	r := New(Policy{MaxRetries: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Do(ctx, "describe", func(context.Context) error {
		calls++
		return ErrThrottled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrThrottled, true},
		{"wrapped sentinel", fmt.Errorf("call: %w", ErrThrottled), true},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, "quota"), true},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
		{"googleapi 429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"googleapi 503", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"googleapi 400", &googleapi.Error{Code: http.StatusBadRequest, Message: "bad request"}, false},
		{"message throttling", errors.New("ThrottlingException: slow down"), true},
		{"message too many requests", errors.New("Too Many Requests"), true},
		{"plain", errors.New("boom"), false},
		{"cancelled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
