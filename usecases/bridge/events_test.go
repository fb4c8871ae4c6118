package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gptbridge/clients"
	"gptbridge/models"
	"gptbridge/services"
	"gptbridge/services/dedup"
)

type bridgeMocks struct {
	dedup       *services.MockDedupService
	completions *services.MockCompletionsService
	dispatch    *services.MockDispatchService
	usage       *services.MockUsageService
	slackChat   *clients.MockSlackChatClient
}

func setupBridgeUseCase() (*BridgeUseCase, *bridgeMocks) {
	mocks := &bridgeMocks{
		dedup:       new(services.MockDedupService),
		completions: new(services.MockCompletionsService),
		dispatch:    new(services.MockDispatchService),
		usage:       new(services.MockUsageService),
		slackChat:   new(clients.MockSlackChatClient),
	}

	useCase := NewBridgeUseCase(
		mocks.dedup,
		mocks.completions,
		mocks.dispatch,
		mocks.usage,
		mocks.slackChat,
		nil,
		CompletionDefaults{Model: "gpt-4o-mini", MaxTokens: 256, SystemPrompt: "You are a helpful assistant."},
	)
	return useCase, mocks
}

func createTestEvent(eventKey string) *models.MessageEvent {
	return &models.MessageEvent{
		Platform:   models.PlatformSlack,
		EventKey:   eventKey,
		ChannelID:  "C1",
		ThreadID:   "1700000000.000100",
		MessageTS:  "1700000000.000100",
		SenderID:   "U1",
		Text:       "hello",
		ReceivedAt: time.Now(),
	}
}

// drainUseCase waits for detached processing so mock assertions see the
// full pipeline
func drainUseCase(t *testing.T, useCase *BridgeUseCase) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, useCase.Drain(ctx))
}

func expectReactions(mocks *bridgeMocks, outcomeEmoji string) {
	mocks.slackChat.On("AddReaction", mock.Anything, "eyes", "C1", "1700000000.000100").Return(nil)
	mocks.slackChat.On("RemoveReaction", mock.Anything, "eyes", "C1", "1700000000.000100").Return(nil)
	mocks.slackChat.On("AddReaction", mock.Anything, outcomeEmoji, "C1", "1700000000.000100").Return(nil)
}

func TestProcessMessageEvent(t *testing.T) {
	t.Run("NilEvent_Rejected", func(t *testing.T) {
		useCase, _ := setupBridgeUseCase()

		err := useCase.ProcessMessageEvent(context.Background(), nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not be nil")
	})

	t.Run("AdmissionError_Propagated", func(t *testing.T) {
		useCase, mocks := setupBridgeUseCase()
		event := createTestEvent("Ev1")

		mocks.dedup.On("Admit", mock.Anything, event).
			Return(services.AdmitDecision(""), fmt.Errorf("store unavailable"))

		err := useCase.ProcessMessageEvent(context.Background(), event)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to admit event")
		mocks.completions.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	})

	t.Run("Duplicate_AcknowledgedWithoutProcessing", func(t *testing.T) {
		useCase, mocks := setupBridgeUseCase()
		event := createTestEvent("Ev2")

		mocks.dedup.On("Admit", mock.Anything, event).
			Return(services.AdmitDecisionDuplicate, nil)

		err := useCase.ProcessMessageEvent(context.Background(), event)

		require.NoError(t, err)
		drainUseCase(t, useCase)
		mocks.completions.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
		mocks.dispatch.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)

		stats := useCase.Stats()
		assert.Equal(t, int64(1), stats.EventsReceived)
		assert.Equal(t, int64(1), stats.EventsDuplicate)
		assert.Equal(t, int64(0), stats.EventsAdmitted)
	})

	t.Run("Admitted_FullPipeline_Success", func(t *testing.T) {
		useCase, mocks := setupBridgeUseCase()
		event := createTestEvent("Ev3")
		usage := &models.CompletionUsage{PromptTokens: 12, CompletionTokens: 30}
		result := &models.CompletionResult{
			Kind:     models.CompletionResultSuccess,
			Text:     "Hi there!",
			Model:    "gpt-4o-mini",
			Usage:    usage,
			Attempts: 1,
		}

		mocks.dedup.On("Admit", mock.Anything, event).
			Return(services.AdmitDecisionAdmitted, nil)
		expectReactions(mocks, "white_check_mark")
		mocks.completions.On("Complete", mock.Anything, mock.MatchedBy(func(req models.CompletionRequest) bool {
			return req.Prompt == "hello" && req.Model == "gpt-4o-mini" && req.MaxTokens == 256
		})).Return(result)
		mocks.usage.On("RecordUsage", mock.Anything, "gpt-4o-mini", usage).Return(nil)
		mocks.dispatch.On("Dispatch", mock.Anything, mock.MatchedBy(func(ref *models.ReplyRef) bool {
			return ref.Platform == models.PlatformSlack &&
				ref.EventKey == "Ev3" &&
				ref.ChannelID == "C1" &&
				ref.ThreadID == "1700000000.000100"
		}), result).Return(nil)
		mocks.dedup.On("MarkOutcome", mock.Anything, models.PlatformSlack, "Ev3", models.ProcessedEventStatusCompleted, "success").
			Return(nil)

		err := useCase.ProcessMessageEvent(context.Background(), event)

		require.NoError(t, err)
		drainUseCase(t, useCase)

		mocks.dedup.AssertExpectations(t)
		mocks.completions.AssertExpectations(t)
		mocks.usage.AssertExpectations(t)
		mocks.dispatch.AssertExpectations(t)
		mocks.slackChat.AssertExpectations(t)

		stats := useCase.Stats()
		assert.Equal(t, int64(1), stats.EventsAdmitted)
		assert.Equal(t, int64(1), stats.EventsCompleted)
		assert.Equal(t, int64(0), stats.EventsFailed)
		assert.Equal(t, int64(0), stats.InFlight)
	})

	t.Run("CompletionFailure_DispatchedAndMarkedFailed", func(t *testing.T) {
		useCase, mocks := setupBridgeUseCase()
		event := createTestEvent("Ev4")
		result := &models.CompletionResult{
			Kind:     models.CompletionResultFailure,
			Reason:   "request was rejected by the backend",
			Model:    "gpt-4o-mini",
			Attempts: 1,
		}

		mocks.dedup.On("Admit", mock.Anything, event).
			Return(services.AdmitDecisionAdmitted, nil)
		expectReactions(mocks, "x")
		mocks.completions.On("Complete", mock.Anything, mock.Anything).Return(result)
		mocks.dispatch.On("Dispatch", mock.Anything, mock.Anything, result).Return(nil)
		mocks.dedup.On("MarkOutcome", mock.Anything, models.PlatformSlack, "Ev4", models.ProcessedEventStatusFailed, "failure: request was rejected by the backend").
			Return(nil)

		err := useCase.ProcessMessageEvent(context.Background(), event)

		require.NoError(t, err)
		drainUseCase(t, useCase)

		mocks.dedup.AssertExpectations(t)
		mocks.usage.AssertNotCalled(t, "RecordUsage", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, int64(1), useCase.Stats().EventsFailed)
	})

	t.Run("DispatchError_EventMarkedFailed", func(t *testing.T) {
		useCase, mocks := setupBridgeUseCase()
		event := createTestEvent("Ev5")
		result := &models.CompletionResult{
			Kind:     models.CompletionResultSuccess,
			Text:     "answer",
			Model:    "gpt-4o-mini",
			Attempts: 1,
		}

		mocks.dedup.On("Admit", mock.Anything, event).
			Return(services.AdmitDecisionAdmitted, nil)
		expectReactions(mocks, "x")
		mocks.completions.On("Complete", mock.Anything, mock.Anything).Return(result)
		mocks.dispatch.On("Dispatch", mock.Anything, mock.Anything, result).
			Return(fmt.Errorf("failed to post reply: channel_not_found"))
		mocks.dedup.On("MarkOutcome", mock.Anything, models.PlatformSlack, "Ev5", models.ProcessedEventStatusFailed, mock.MatchedBy(func(outcome string) bool {
			return outcome == "dispatch failed: failed to post reply: channel_not_found"
		})).Return(nil)

		err := useCase.ProcessMessageEvent(context.Background(), event)

		require.NoError(t, err)
		drainUseCase(t, useCase)

		// Completion succeeded but the user never saw a reply
		mocks.dedup.AssertExpectations(t)
		assert.Equal(t, int64(1), useCase.Stats().EventsFailed)
		assert.Equal(t, int64(0), useCase.Stats().EventsCompleted)
	})

	t.Run("PartialResult_StillCountsAsCompleted", func(t *testing.T) {
		useCase, mocks := setupBridgeUseCase()
		event := createTestEvent("Ev6")
		result := &models.CompletionResult{
			Kind:     models.CompletionResultPartial,
			Text:     "He",
			Reason:   "response cut short by deadline",
			Model:    "gpt-4o-mini",
			Usage:    &models.CompletionUsage{PromptTokens: 3, CompletionTokens: 1, Estimated: true},
			Attempts: 1,
		}

		mocks.dedup.On("Admit", mock.Anything, event).
			Return(services.AdmitDecisionAdmitted, nil)
		expectReactions(mocks, "white_check_mark")
		mocks.completions.On("Complete", mock.Anything, mock.Anything).Return(result)
		mocks.usage.On("RecordUsage", mock.Anything, "gpt-4o-mini", result.Usage).Return(nil)
		mocks.dispatch.On("Dispatch", mock.Anything, mock.Anything, result).Return(nil)
		mocks.dedup.On("MarkOutcome", mock.Anything, models.PlatformSlack, "Ev6", models.ProcessedEventStatusCompleted, "partial: response cut short by deadline").
			Return(nil)

		err := useCase.ProcessMessageEvent(context.Background(), event)

		require.NoError(t, err)
		drainUseCase(t, useCase)
		mocks.dedup.AssertExpectations(t)
		assert.Equal(t, int64(1), useCase.Stats().EventsCompleted)
	})

	t.Run("PanicInCompletion_RecoveredAndMarkedFailed", func(t *testing.T) {
		useCase, mocks := setupBridgeUseCase()
		event := createTestEvent("Ev7")

		mocks.dedup.On("Admit", mock.Anything, event).
			Return(services.AdmitDecisionAdmitted, nil)
		mocks.slackChat.On("AddReaction", mock.Anything, "eyes", "C1", "1700000000.000100").Return(nil)
		mocks.completions.On("Complete", mock.Anything, mock.Anything).Panic("completion blew up")
		mocks.dedup.On("MarkOutcome", mock.Anything, models.PlatformSlack, "Ev7", models.ProcessedEventStatusFailed, "panic: completion blew up").
			Return(nil)

		err := useCase.ProcessMessageEvent(context.Background(), event)

		require.NoError(t, err)
		drainUseCase(t, useCase)

		mocks.dedup.AssertExpectations(t)
		mocks.dispatch.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, int64(1), useCase.Stats().EventsFailed)
	})

	t.Run("ReactionFailures_DoNotBlockPipeline", func(t *testing.T) {
		useCase, mocks := setupBridgeUseCase()
		event := createTestEvent("Ev8")
		result := &models.CompletionResult{
			Kind:     models.CompletionResultSuccess,
			Text:     "fine",
			Model:    "gpt-4o-mini",
			Attempts: 1,
		}

		mocks.dedup.On("Admit", mock.Anything, event).
			Return(services.AdmitDecisionAdmitted, nil)
		mocks.slackChat.On("AddReaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(fmt.Errorf("rate_limited"))
		mocks.slackChat.On("RemoveReaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(fmt.Errorf("rate_limited"))
		mocks.completions.On("Complete", mock.Anything, mock.Anything).Return(result)
		mocks.dispatch.On("Dispatch", mock.Anything, mock.Anything, result).Return(nil)
		mocks.dedup.On("MarkOutcome", mock.Anything, models.PlatformSlack, "Ev8", models.ProcessedEventStatusCompleted, "success").
			Return(nil)

		err := useCase.ProcessMessageEvent(context.Background(), event)

		require.NoError(t, err)
		drainUseCase(t, useCase)
		mocks.dedup.AssertExpectations(t)
		assert.Equal(t, int64(1), useCase.Stats().EventsCompleted)
	})
}

// TestProcessMessageEvent_ConcurrentSameKey exercises the full admission
// path against the real dedup service: ten concurrent deliveries of one
// event must produce exactly one completion.
func TestProcessMessageEvent_ConcurrentSameKey(t *testing.T) {
	dedupService := dedup.NewDedupService(dedup.NewMemoryProcessedEventsStore(), time.Hour)
	mockCompletions := new(services.MockCompletionsService)
	mockDispatch := new(services.MockDispatchService)
	mockUsage := new(services.MockUsageService)

	result := &models.CompletionResult{
		Kind:     models.CompletionResultSuccess,
		Text:     "only once",
		Model:    "gpt-4o-mini",
		Attempts: 1,
	}
	mockCompletions.On("Complete", mock.Anything, mock.Anything).Return(result)
	mockDispatch.On("Dispatch", mock.Anything, mock.Anything, result).Return(nil)

	useCase := NewBridgeUseCase(
		dedupService,
		mockCompletions,
		mockDispatch,
		mockUsage,
		nil,
		nil,
		CompletionDefaults{Model: "gpt-4o-mini", MaxTokens: 256},
	)

	const deliveries = 10
	errs := make(chan error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- useCase.ProcessMessageEvent(context.Background(), createTestEvent("Ev-same"))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	drainUseCase(t, useCase)

	mockCompletions.AssertNumberOfCalls(t, "Complete", 1)
	mockDispatch.AssertNumberOfCalls(t, "Dispatch", 1)

	stats := useCase.Stats()
	assert.Equal(t, int64(deliveries), stats.EventsReceived)
	assert.Equal(t, int64(1), stats.EventsAdmitted)
	assert.Equal(t, int64(deliveries-1), stats.EventsDuplicate)
}
