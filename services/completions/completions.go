package completions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"strings"
	"time"

	"gptbridge/clients"
	"gptbridge/core"
	"gptbridge/models"
)

// CompletionsServiceImpl drives a completion request to a terminal result
// within a hard deadline. Transient backend failures are retried with
// exponential backoff; permanent ones fail immediately. A stream that
// dies after producing text is never restarted, whatever accumulated is
// returned as a partial result.
type CompletionsServiceImpl struct {
	client      clients.CompletionClient
	timeout     time.Duration
	maxAttempts int

	// budget caps concurrent backend attempts process-wide. Every attempt
	// acquires a slot before opening a stream and releases it after.
	budget chan struct{}

	// backoffUnit scales retry delays, shrunk by tests
	backoffUnit time.Duration
}

func NewCompletionsService(
	client clients.CompletionClient,
	timeout time.Duration,
	maxAttempts, maxConcurrent int,
) *CompletionsServiceImpl {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &CompletionsServiceImpl{
		client:      client,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		budget:      make(chan struct{}, maxConcurrent),
		backoffUnit: time.Second,
	}
}

// Complete runs the request to a terminal result. It never returns nil:
// backend failures are folded into a FAILURE result so the caller always
// has something to dispatch.
func (s *CompletionsServiceImpl) Complete(ctx context.Context, req models.CompletionRequest) *models.CompletionResult {
	log.Printf("📋 Starting completion via %s with model: %s", s.client.Provider(), req.Model)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.acquireBudget(ctx); err != nil {
			log.Printf("❌ Completion gave up waiting for a budget slot: %v", err)
			return s.failureResult(req, attempt-1,
				core.WrapBackendError(core.BackendErrorTimeout, "timed out waiting for completion slot", err))
		}

		text, usage, err := s.attemptOnce(ctx, req)
		s.releaseBudget()

		if err == nil {
			if text == "" {
				log.Printf("❌ Completion returned an empty response")
				return s.failureResult(req, attempt,
					core.NewBackendError(core.BackendErrorUnavailable, "backend returned empty response"))
			}

			log.Printf("📋 Completed successfully - completion of %d chars in %d attempt(s)", len(text), attempt)
			return &models.CompletionResult{
				Kind:     models.CompletionResultSuccess,
				Text:     text,
				Usage:    s.usageOrEstimate(req, text, usage),
				Model:    req.Model,
				Attempts: attempt,
			}
		}

		// A stream that died after producing text cannot be restarted
		// without replaying the tokens already seen, so whatever
		// accumulated goes out as a partial result
		if text != "" {
			return s.partialResult(ctx, req, attempt, text, usage, err)
		}

		lastErr = err

		if ctx.Err() != nil {
			log.Printf("❌ Completion deadline expired before any response text arrived")
			return s.failureResult(req, attempt,
				core.WrapBackendError(core.BackendErrorTimeout, "completion deadline exceeded", ctx.Err()))
		}

		if !core.IsTransientError(err) {
			log.Printf("❌ Completion failed permanently on attempt %d: %v", attempt, err)
			return s.failureResult(req, attempt, err)
		}

		if attempt == s.maxAttempts {
			break
		}

		delay := s.backoffDelay(attempt, core.RetryAfterOf(err))
		log.Printf("⚠️ Completion attempt %d/%d failed, retrying in %s: %v", attempt, s.maxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return s.failureResult(req, attempt,
				core.WrapBackendError(core.BackendErrorTimeout, "completion deadline exceeded during backoff", ctx.Err()))
		case <-time.After(delay):
		}
	}

	log.Printf("❌ Completion exhausted all %d attempts: %v", s.maxAttempts, lastErr)
	return s.failureResult(req, s.maxAttempts, lastErr)
}

// attemptOnce opens one stream and drains it. The accumulated text is
// returned even when Recv fails partway, the caller decides what a
// partial accumulation means.
func (s *CompletionsServiceImpl) attemptOnce(
	ctx context.Context,
	req models.CompletionRequest,
) (string, *models.CompletionUsage, error) {
	stream, err := s.client.StreamCompletion(ctx, req)
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var builder strings.Builder
	var usage *models.CompletionUsage
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return builder.String(), usage, nil
		}
		if err != nil {
			return builder.String(), usage, err
		}

		builder.WriteString(chunk.Text)
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
}

func (s *CompletionsServiceImpl) acquireBudget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case s.budget <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CompletionsServiceImpl) releaseBudget() {
	<-s.budget
}

// backoffDelay grows quadratically with the attempt number plus a random
// jitter, and never undercuts a server-requested retry delay
func (s *CompletionsServiceImpl) backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	base := time.Duration(attempt*attempt) * s.backoffUnit
	jitter := time.Duration(rand.Int64N(int64(base)/2 + 1))
	delay := base + jitter

	if retryAfter > delay {
		delay = retryAfter
	}

	return delay
}

func (s *CompletionsServiceImpl) partialResult(
	ctx context.Context,
	req models.CompletionRequest,
	attempt int,
	text string,
	usage *models.CompletionUsage,
	err error,
) *models.CompletionResult {
	reason := "response stream interrupted"
	failureKind := core.BackendErrorUnavailable

	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		reason = "response cut short by deadline"
		failureKind = core.BackendErrorTimeout
	} else if backendErr, ok := core.AsBackendError(err); ok {
		failureKind = backendErr.Kind
	}

	log.Printf("⚠️ Completion stream cut short after %d chars: %v", len(text), err)
	return &models.CompletionResult{
		Kind:        models.CompletionResultPartial,
		Text:        text,
		Reason:      reason,
		FailureKind: failureKind,
		Usage:       s.usageOrEstimate(req, text, usage),
		Model:       req.Model,
		Attempts:    attempt,
	}
}

func (s *CompletionsServiceImpl) failureResult(
	req models.CompletionRequest,
	attempts int,
	err error,
) *models.CompletionResult {
	reason := "completion failed"
	failureKind := core.BackendErrorUnavailable

	if backendErr, ok := core.AsBackendError(err); ok {
		reason = backendErr.Message
		failureKind = backendErr.Kind
	} else if err != nil {
		reason = fmt.Sprintf("completion failed: %v", err)
	}

	return &models.CompletionResult{
		Kind:        models.CompletionResultFailure,
		Reason:      reason,
		FailureKind: failureKind,
		Model:       req.Model,
		Attempts:    attempts,
	}
}

// usageOrEstimate falls back to heuristic token counts when the backend
// never reported usage, which happens whenever a stream dies before its
// trailing usage frame
func (s *CompletionsServiceImpl) usageOrEstimate(
	req models.CompletionRequest,
	text string,
	usage *models.CompletionUsage,
) *models.CompletionUsage {
	if usage != nil {
		return usage
	}

	return &models.CompletionUsage{
		PromptTokens:     core.EstimateTokens(req.SystemPrompt + " " + req.Prompt),
		CompletionTokens: core.EstimateTokens(text),
		Estimated:        true,
	}
}
