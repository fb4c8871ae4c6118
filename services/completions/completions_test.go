package completions

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gptbridge/clients"
	"gptbridge/core"
	"gptbridge/models"
)

func newTestRequest() models.CompletionRequest {
	return models.CompletionRequest{
		Prompt:    "Hello",
		Model:     "gpt-4o-mini",
		MaxTokens: 256,
	}
}

func newMockClient() *clients.MockCompletionClient {
	client := &clients.MockCompletionClient{}
	client.On("Provider").Return("openai").Maybe()
	return client
}

// captureStreamCtx wires the service's completion context into the
// scripted stream when the mock client is invoked
func captureStreamCtx(stream *clients.StaticCompletionStream) func(mock.Arguments) {
	return func(args mock.Arguments) {
		stream.Ctx = args.Get(0).(context.Context)
	}
}

func TestCompletionsService_Complete_Success(t *testing.T) {
	stream := &clients.StaticCompletionStream{
		Chunks: []models.CompletionChunk{
			{Text: "Hel"},
			{Text: "lo"},
			{Usage: &models.CompletionUsage{PromptTokens: 12, CompletionTokens: 4}},
		},
		FinalErr: io.EOF,
	}

	client := newMockClient()
	client.On("StreamCompletion", mock.Anything, mock.Anything).Return(stream, nil).Once()

	service := NewCompletionsService(client, 5*time.Second, 3, 4)
	result := service.Complete(context.Background(), newTestRequest())

	require.NotNil(t, result)
	assert.Equal(t, models.CompletionResultSuccess, result.Kind)
	assert.Equal(t, "Hello", result.Text)
	assert.Equal(t, 1, result.Attempts)

	require.NotNil(t, result.Usage)
	assert.False(t, result.Usage.Estimated)
	assert.Equal(t, 12, result.Usage.PromptTokens)
	assert.Equal(t, 4, result.Usage.CompletionTokens)

	assert.True(t, stream.Closed(), "Stream should be closed after draining")
	client.AssertExpectations(t)
}

func TestCompletionsService_Complete_DeadlineMidStreamYieldsPartial(t *testing.T) {
	// The stream produces "He" and then stalls forever
	stream := &clients.StaticCompletionStream{
		Chunks: []models.CompletionChunk{{Text: "He"}},
	}

	client := newMockClient()
	client.On("StreamCompletion", mock.Anything, mock.Anything).
		Run(captureStreamCtx(stream)).
		Return(stream, nil).Once()

	service := NewCompletionsService(client, 80*time.Millisecond, 3, 4)

	started := time.Now()
	result := service.Complete(context.Background(), newTestRequest())
	elapsed := time.Since(started)

	require.NotNil(t, result)
	assert.Equal(t, models.CompletionResultPartial, result.Kind)
	assert.Equal(t, "He", result.Text)
	assert.Equal(t, core.BackendErrorTimeout, result.FailureKind)
	assert.Contains(t, result.Reason, "deadline")

	require.NotNil(t, result.Usage)
	assert.True(t, result.Usage.Estimated, "Usage should be estimated when the stream died before its usage frame")

	// The deadline must actually bound the call, no hanging
	assert.Less(t, elapsed, 3*time.Second)
	client.AssertNumberOfCalls(t, "StreamCompletion", 1)
}

func TestCompletionsService_Complete_DeadlineBeforeAnyTextIsFailure(t *testing.T) {
	stream := &clients.StaticCompletionStream{}

	client := newMockClient()
	client.On("StreamCompletion", mock.Anything, mock.Anything).
		Run(captureStreamCtx(stream)).
		Return(stream, nil).Once()

	service := NewCompletionsService(client, 60*time.Millisecond, 3, 4)
	result := service.Complete(context.Background(), newTestRequest())

	require.NotNil(t, result)
	assert.Equal(t, models.CompletionResultFailure, result.Kind)
	assert.Equal(t, core.BackendErrorTimeout, result.FailureKind)
	assert.Empty(t, result.Text)
}

func TestCompletionsService_Complete_TransientErrorRetries(t *testing.T) {
	transientErr := core.NewBackendError(core.BackendErrorUnavailable, "backend down")
	successStream := &clients.StaticCompletionStream{
		Chunks:   []models.CompletionChunk{{Text: "Hello"}},
		FinalErr: io.EOF,
	}

	client := newMockClient()
	client.On("StreamCompletion", mock.Anything, mock.Anything).Return(nil, transientErr).Once()
	client.On("StreamCompletion", mock.Anything, mock.Anything).Return(successStream, nil).Once()

	service := NewCompletionsService(client, 5*time.Second, 3, 4)
	service.backoffUnit = time.Millisecond

	result := service.Complete(context.Background(), newTestRequest())

	require.NotNil(t, result)
	assert.Equal(t, models.CompletionResultSuccess, result.Kind)
	assert.Equal(t, "Hello", result.Text)
	assert.Equal(t, 2, result.Attempts)
	client.AssertNumberOfCalls(t, "StreamCompletion", 2)
}

func TestCompletionsService_Complete_PermanentErrorFailsImmediately(t *testing.T) {
	testCases := []struct {
		name string
		kind core.BackendErrorKind
	}{
		{
			name: "invalid request",
			kind: core.BackendErrorInvalidRequest,
		},
		{
			name: "quota exhausted",
			kind: core.BackendErrorQuotaExhausted,
		},
		{
			name: "auth failure",
			kind: core.BackendErrorAuthFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := newMockClient()
			client.On("StreamCompletion", mock.Anything, mock.Anything).
				Return(nil, core.NewBackendError(tc.kind, "rejected")).Once()

			service := NewCompletionsService(client, 5*time.Second, 3, 4)
			service.backoffUnit = time.Millisecond

			result := service.Complete(context.Background(), newTestRequest())

			require.NotNil(t, result)
			assert.Equal(t, models.CompletionResultFailure, result.Kind)
			assert.Equal(t, tc.kind, result.FailureKind)
			client.AssertNumberOfCalls(t, "StreamCompletion", 1)
		})
	}
}

func TestCompletionsService_Complete_ExhaustsAttempts(t *testing.T) {
	transientErr := core.NewBackendError(core.BackendErrorUnavailable, "backend down")

	client := newMockClient()
	client.On("StreamCompletion", mock.Anything, mock.Anything).Return(nil, transientErr)

	service := NewCompletionsService(client, 5*time.Second, 3, 4)
	service.backoffUnit = time.Millisecond

	result := service.Complete(context.Background(), newTestRequest())

	require.NotNil(t, result)
	assert.Equal(t, models.CompletionResultFailure, result.Kind)
	assert.Equal(t, core.BackendErrorUnavailable, result.FailureKind)
	assert.Equal(t, 3, result.Attempts)
	client.AssertNumberOfCalls(t, "StreamCompletion", 3)
}

func TestCompletionsService_Complete_MidStreamErrorYieldsPartial(t *testing.T) {
	stream := &clients.StaticCompletionStream{
		Chunks:   []models.CompletionChunk{{Text: "He"}},
		FinalErr: core.NewBackendError(core.BackendErrorUnavailable, "connection reset"),
	}

	client := newMockClient()
	client.On("StreamCompletion", mock.Anything, mock.Anything).Return(stream, nil).Once()

	service := NewCompletionsService(client, 5*time.Second, 3, 4)
	result := service.Complete(context.Background(), newTestRequest())

	require.NotNil(t, result)
	assert.Equal(t, models.CompletionResultPartial, result.Kind)
	assert.Equal(t, "He", result.Text)
	assert.Equal(t, core.BackendErrorUnavailable, result.FailureKind)

	// A broken stream is not restartable, no second attempt
	client.AssertNumberOfCalls(t, "StreamCompletion", 1)
}

func TestCompletionsService_Complete_HonorsServerRetryAfter(t *testing.T) {
	rateLimitErr := &core.BackendError{
		Kind:       core.BackendErrorRateLimited,
		Message:    "too many requests",
		RetryAfter: 40 * time.Millisecond,
	}
	successStream := &clients.StaticCompletionStream{
		Chunks:   []models.CompletionChunk{{Text: "Hello"}},
		FinalErr: io.EOF,
	}

	client := newMockClient()
	client.On("StreamCompletion", mock.Anything, mock.Anything).Return(nil, rateLimitErr).Once()
	client.On("StreamCompletion", mock.Anything, mock.Anything).Return(successStream, nil).Once()

	service := NewCompletionsService(client, 5*time.Second, 3, 4)
	service.backoffUnit = time.Millisecond

	started := time.Now()
	result := service.Complete(context.Background(), newTestRequest())
	elapsed := time.Since(started)

	require.NotNil(t, result)
	assert.Equal(t, models.CompletionResultSuccess, result.Kind)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond,
		"Retry should wait at least the server-requested delay")
}

func TestCompletionsService_Complete_CancelledContext(t *testing.T) {
	client := newMockClient()

	service := NewCompletionsService(client, 5*time.Second, 3, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := service.Complete(ctx, newTestRequest())

	require.NotNil(t, result)
	assert.Equal(t, models.CompletionResultFailure, result.Kind)
	assert.Equal(t, core.BackendErrorTimeout, result.FailureKind)
	client.AssertNumberOfCalls(t, "StreamCompletion", 0)
}

// gaugeClient reports the peak number of concurrent StreamCompletion
// calls, which is how the budget cap is observable
type gaugeClient struct {
	active atomic.Int64
	peak   atomic.Int64
	hold   time.Duration
}

func (c *gaugeClient) StreamCompletion(
	ctx context.Context,
	req models.CompletionRequest,
) (clients.CompletionStream, error) {
	current := c.active.Add(1)
	for {
		peak := c.peak.Load()
		if current <= peak || c.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	time.Sleep(c.hold)
	c.active.Add(-1)

	return &clients.StaticCompletionStream{
		Chunks:   []models.CompletionChunk{{Text: "ok"}},
		FinalErr: io.EOF,
	}, nil
}

func (c *gaugeClient) Provider() string {
	return "gauge"
}

func TestCompletionsService_Complete_BudgetCapsConcurrency(t *testing.T) {
	client := &gaugeClient{hold: 20 * time.Millisecond}
	service := NewCompletionsService(client, 5*time.Second, 1, 1)

	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := service.Complete(context.Background(), newTestRequest())
			assert.Equal(t, models.CompletionResultSuccess, result.Kind)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), client.peak.Load(),
		"A budget of one slot should fully serialize backend attempts")
}
