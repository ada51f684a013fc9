package enhance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/docimageenhancer/internal/models"
	"github.com/Lllllllleong/docimageenhancer/internal/retry"
)

func TestParseDescriptions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want DescriptionResult
	}{
		{
			name: "plain object",
			raw:  `{"image1": "a bar chart", "image2": "a photo"}`,
			want: DescriptionResult{"image1": "a bar chart", "image2": "a photo"},
		},
		{
			name: "fenced",
			raw:  "```json\n{\"image1\": \"a diagram\"}\n```",
			want: DescriptionResult{"image1": "a diagram"},
		},
		{
			name: "continuation of primed brace",
			raw:  `"image1": "a table"}`,
			want: DescriptionResult{"image1": "a table"},
		},
		{
			name: "embedded in prose",
			raw:  `Here you go: {"image1": "a {curly} logo"} hope that helps`,
			want: DescriptionResult{"image1": "a {curly} logo"},
		},
		{
			name: "null means no description",
			raw:  `{"image1": null, "image2": ""}`,
			want: DescriptionResult{"image1": "", "image2": ""},
		},
		{
			name: "empty object",
			raw:  `{}`,
			want: DescriptionResult{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDescriptions(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDescriptionsRejectsMalformedOutput(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"I cannot describe these images.",
		`{"image1": 42}`,
		`{"image1": {"nested": "x"}}`,
		`["image1"]`,
	} {
		_, err := ParseDescriptions(raw)
		assert.ErrorIs(t, err, ErrMalformedResponse, "input %q", raw)
	}
}

// recordingSleeper records requested waits without sleeping.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func newTestDescriber(model VisionModel, policy retry.Policy) (*Describer, *recordingSleeper) {
	cfg := testConfig()
	cfg.Retry = policy
	d := NewDescriber(model, cfg, quietLogger())
	s := &recordingSleeper{}
	d.retrier.Sleep = s.sleep
	return d, s
}

var oneImage = []models.VisionImage{{Key: "image1", MIMEType: "image/png", Data: []byte{1}}}

func TestDescribeSucceedsAfterThrottling(t *testing.T) {
	const throttles = 3
	vision := &fakeVision{respond: func(call int, _ models.VisionRequest) (string, error) {
		if call <= throttles {
			return "", fmt.Errorf("call %d: %w", call, retry.ErrThrottled)
		}
		return `{"image1": "a sankey diagram"}`, nil
	}}
	policy := retry.DefaultPolicy()
	d, sleeper := newTestDescriber(vision, policy)

	got := d.Describe(context.Background(), nil, "# S\n[image1]", oneImage)

	assert.Equal(t, DescriptionResult{"image1": "a sankey diagram"}, got)
	assert.Equal(t, throttles+1, vision.calls())
	require.Len(t, sleeper.waits, throttles)

	var total, lowerBound time.Duration
	for i, w := range sleeper.waits {
		assert.GreaterOrEqual(t, w, policy.Backoff(i))
		total += w
		lowerBound += policy.Backoff(i)
	}
	assert.GreaterOrEqual(t, total, lowerBound)
	assert.Equal(t, 7*time.Second, lowerBound)
}

func TestDescribeGivesUpAfterRetryBudget(t *testing.T) {
	vision := &fakeVision{respond: func(int, models.VisionRequest) (string, error) {
		return "", errors.New("429 Too Many Requests")
	}}
	policy := retry.DefaultPolicy()
	d, sleeper := newTestDescriber(vision, policy)

	got := d.Describe(context.Background(), nil, "ctx", oneImage)

	assert.Empty(t, got)
	assert.Equal(t, policy.MaxRetries+1, vision.calls())
	require.Len(t, sleeper.waits, policy.MaxRetries)
	for _, w := range sleeper.waits {
		assert.LessOrEqual(t, w, policy.MaxBackoff+time.Duration(policy.JitterFraction*float64(policy.MaxBackoff)))
	}
}

func TestDescribeDoesNotRetryMalformedResponses(t *testing.T) {
	vision := &fakeVision{respond: func(int, models.VisionRequest) (string, error) {
		return "Sorry, these images are unclear.", nil
	}}
	d, sleeper := newTestDescriber(vision, retry.DefaultPolicy())

	got := d.Describe(context.Background(), nil, "ctx", oneImage)

	assert.Empty(t, got)
	assert.Equal(t, 1, vision.calls())
	assert.Empty(t, sleeper.waits)
}

func TestDescribeDoesNotRetryOtherErrors(t *testing.T) {
	vision := &fakeVision{respond: func(int, models.VisionRequest) (string, error) {
		return "", errors.New("invalid argument: image too large")
	}}
	d, _ := newTestDescriber(vision, retry.DefaultPolicy())

	assert.Empty(t, d.Describe(context.Background(), nil, "ctx", oneImage))
	assert.Equal(t, 1, vision.calls())
}

func TestDescribeWithoutImagesSkipsTheModel(t *testing.T) {
	vision := echoVision()
	d, _ := newTestDescriber(vision, retry.DefaultPolicy())

	assert.Empty(t, d.Describe(context.Background(), nil, "ctx", nil))
	assert.Zero(t, vision.calls())
}

func TestDescribeStopsWhenContextIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	vision := &fakeVision{respond: func(int, models.VisionRequest) (string, error) {
		cancel()
		return "", retry.ErrThrottled
	}}
	cfg := testConfig()
	d := NewDescriber(vision, cfg, quietLogger())

	assert.Empty(t, d.Describe(ctx, nil, "ctx", oneImage))
	assert.Equal(t, 1, vision.calls())
}

func TestResolverTiers(t *testing.T) {
	store := newFakeStore()
	store.put(imageKey("small.png"), 5*1024-1, nil)
	store.put(imageKey("keep.png"), 5*1024, nil)
	store.put(imageKey("edge.png"), 10*1024, nil)
	store.put(imageKey("with space.png"), 20*1024, nil)

	r := NewResolver(store, testDoc, testConfig(), quietLogger())
	ctx := context.Background()

	assert.Equal(t, TierIneligibleSmall, r.Resolve(ctx, "small.png").Tier)
	assert.Equal(t, TierIneligibleSmall, r.Resolve(ctx, "missing.png").Tier)
	assert.Equal(t, TierNonDescribable, r.Resolve(ctx, "keep.png").Tier)
	assert.Equal(t, TierDescribable, r.Resolve(ctx, "./images/edge.png").Tier)
	assert.Equal(t, TierAlreadyExternal, r.Resolve(ctx, "http://elsewhere.test/a.png").Tier)

	res := r.Resolve(ctx, "with space.png")
	assert.Equal(t, TierDescribable, res.Tier)
	assert.Equal(t, testBaseURL+"/ProcessingFile/report/images/with%20space.png", res.CanonicalURL)

	back := r.Resolve(ctx, res.CanonicalURL)
	assert.Equal(t, TierDescribable, back.Tier)
	assert.Equal(t, models.Location{Bucket: "docs", Key: imageKey("with space.png")}, back.Location)
}
