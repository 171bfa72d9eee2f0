package modelclient

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullstackai/conductor/model"
)

// fakeClient is a hand-written model.Client fake; Complete is a
// single-method interface, matching the rest of the pack's treatment of
// this seam rather than reaching for a mocking library.
type fakeClient struct {
	err error
}

func (c *fakeClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &model.Response{Message: model.NewText(model.RoleAssistant, "ok")}, nil
}

func textRequest(text string) *model.Request {
	return &model.Request{Messages: []*model.Message{model.NewText(model.RoleUser, text)}}
}

func TestEstimateTokensFloorWhenNoContent(t *testing.T) {
	require.Equal(t, 500, estimateTokens(&model.Request{}))
}

func TestEstimateTokensCountsTextAndToolResultParts(t *testing.T) {
	req := &model.Request{Messages: []*model.Message{
		model.NewText(model.RoleUser, "123456789"),
		model.NewToolResult("tc-1", "0123456789012345", false),
	}}
	// charCount = 9 + 16 = 25, tokens = 25/3 = 8, plus the fixed 500 buffer.
	require.Equal(t, 508, estimateTokens(req))
}

func TestAdaptiveRateLimiterMiddlewareDelegatesToNext(t *testing.T) {
	l := newAdaptiveRateLimiter(60000, 60000)
	client := l.Middleware()(&fakeClient{})

	resp, err := client.Complete(context.Background(), textRequest("hello"))
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Message.Text())
}

func TestAdaptiveRateLimiterMiddlewareNilNextReturnsNil(t *testing.T) {
	l := newAdaptiveRateLimiter(60000, 60000)
	require.Nil(t, l.Middleware()(nil))
}

func TestAdaptiveRateLimiterBacksOffOnRateLimitedError(t *testing.T) {
	l := newAdaptiveRateLimiter(1000, 1000)
	client := l.Middleware()(&fakeClient{err: fmt.Errorf("wrapped: %w", model.ErrRateLimited)})

	before := l.currentTPM
	_, err := client.Complete(context.Background(), textRequest("hello"))
	require.ErrorIs(t, err, model.ErrRateLimited)
	require.Less(t, l.currentTPM, before)
}

func TestAdaptiveRateLimiterBackoffFloorsAtMinTPM(t *testing.T) {
	l := newAdaptiveRateLimiter(10, 10)
	for i := 0; i < 20; i++ {
		l.backoff()
	}
	require.Equal(t, l.minTPM, l.currentTPM)
}

func TestAdaptiveRateLimiterProbesUpOnSuccess(t *testing.T) {
	l := newAdaptiveRateLimiter(1000, 2000)
	l.backoff()
	afterBackoff := l.currentTPM

	client := l.Middleware()(&fakeClient{})
	_, err := client.Complete(context.Background(), textRequest("hello"))
	require.NoError(t, err)
	require.Greater(t, l.currentTPM, afterBackoff)
}

func TestAdaptiveRateLimiterProbeCapsAtMaxTPM(t *testing.T) {
	l := newAdaptiveRateLimiter(1000, 1010)
	for i := 0; i < 20; i++ {
		l.probe()
	}
	require.Equal(t, l.maxTPM, l.currentTPM)
}

func TestAdaptiveRateLimiterIgnoresNonRateLimitErrors(t *testing.T) {
	l := newAdaptiveRateLimiter(1000, 1000)
	before := l.currentTPM
	client := l.Middleware()(&fakeClient{err: errors.New("boom")})

	_, err := client.Complete(context.Background(), textRequest("hello"))
	require.Error(t, err)
	require.Equal(t, before, l.currentTPM)
}

func TestAdaptiveRateLimiterWaitRespectsCancelledContext(t *testing.T) {
	l := newAdaptiveRateLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.wait(ctx, textRequest("this request easily exceeds a 1 token-per-minute budget"))
	require.Error(t, err)
}
