package dispatch

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"gptbridge/clients"
	"gptbridge/core"
	"gptbridge/models"
	"gptbridge/utils"
)

// DispatchServiceImpl delivers completion results back to the platform a
// message came from. Slack deliveries are idempotent: every reply carries
// a token derived from the event key, and retries probe for it before
// posting again, so a redelivered dispatch never produces a second reply.
type DispatchServiceImpl struct {
	slackChat   clients.SlackChatClient
	discordChat clients.DiscordChatClient

	maxAttempts    int
	failureReplies bool

	// backoffUnit scales retry delays, shrunk by tests
	backoffUnit time.Duration
}

// NewDispatchService creates a dispatcher. Either chat client may be nil
// when the platform is not configured; dispatching to a nil platform is
// an error.
func NewDispatchService(
	slackChat clients.SlackChatClient,
	discordChat clients.DiscordChatClient,
	maxAttempts int,
	failureReplies bool,
) *DispatchServiceImpl {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &DispatchServiceImpl{
		slackChat:      slackChat,
		discordChat:    discordChat,
		maxAttempts:    maxAttempts,
		failureReplies: failureReplies,
		backoffUnit:    time.Second,
	}
}

func (s *DispatchServiceImpl) Dispatch(
	ctx context.Context,
	ref *models.ReplyRef,
	result *models.CompletionResult,
) error {
	if ref == nil {
		return fmt.Errorf("reply ref cannot be nil")
	}
	if result == nil {
		return fmt.Errorf("completion result cannot be nil")
	}

	log.Printf("📋 Starting to dispatch %s result to %s channel %s", result.Kind, ref.Platform, ref.ChannelID)

	if result.Kind == models.CompletionResultFailure && !s.failureReplies {
		log.Printf("⏭️ Failure replies are disabled, skipping dispatch for event %s", ref.EventKey)
		return nil
	}

	text := renderResult(ref.Platform, result)
	if text == "" {
		return fmt.Errorf("rendered reply is empty for event %s", ref.EventKey)
	}

	switch ref.Platform {
	case models.PlatformSlack:
		return s.dispatchSlack(ctx, ref, text)
	case models.PlatformDiscord:
		return s.dispatchDiscord(ctx, ref, text)
	default:
		return fmt.Errorf("unsupported platform: %s", ref.Platform)
	}
}

func (s *DispatchServiceImpl) dispatchSlack(ctx context.Context, ref *models.ReplyRef, text string) error {
	if s.slackChat == nil {
		return fmt.Errorf("slack dispatch is not configured")
	}

	token := core.DispatchToken(ref.EventKey)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		// A failed post may still have landed. Before retrying, look for
		// our token in the thread so network flakes never double-post.
		if attempt > 1 {
			exists, probeErr := s.slackChat.HasReplyWithToken(ctx, ref.ChannelID, ref.ThreadID, token)
			if probeErr != nil {
				log.Printf("⚠️ Could not probe for existing reply, retrying post anyway: %v", probeErr)
			} else if exists {
				log.Printf("📋 Completed successfully - reply for event %s was already delivered", ref.EventKey)
				return nil
			}
		}

		_, err := s.slackChat.PostReply(ctx, ref.ChannelID, ref.ThreadID, text, token)
		if err == nil {
			log.Printf("📤 Dispatched reply for event %s to slack channel %s", ref.EventKey, ref.ChannelID)
			return nil
		}

		if backendErr, ok := core.AsBackendError(err); ok && backendErr.Kind == core.BackendErrorConflict {
			log.Printf("📋 Completed successfully - slack reports reply for event %s already exists", ref.EventKey)
			return nil
		}

		lastErr = err

		if !core.IsTransientError(err) {
			return fmt.Errorf("failed to dispatch slack reply: %w", err)
		}
		if attempt == s.maxAttempts {
			break
		}

		delay := s.backoffDelay(attempt, core.RetryAfterOf(err))
		log.Printf("⚠️ Slack dispatch attempt %d/%d failed, retrying in %s: %v", attempt, s.maxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to dispatch slack reply: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed to dispatch slack reply after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *DispatchServiceImpl) dispatchDiscord(ctx context.Context, ref *models.ReplyRef, text string) error {
	if s.discordChat == nil {
		return fmt.Errorf("discord dispatch is not configured")
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.postDiscord(ctx, ref, text)
		if err == nil {
			log.Printf("📤 Dispatched reply for event %s to discord channel %s", ref.EventKey, ref.ChannelID)
			return nil
		}

		lastErr = err

		if !core.IsTransientError(err) {
			return fmt.Errorf("failed to dispatch discord reply: %w", err)
		}
		if attempt == s.maxAttempts {
			break
		}

		delay := s.backoffDelay(attempt, core.RetryAfterOf(err))
		log.Printf("⚠️ Discord dispatch attempt %d/%d failed, retrying in %s: %v", attempt, s.maxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to dispatch discord reply: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed to dispatch discord reply after %d attempts: %w", s.maxAttempts, lastErr)
}

// postDiscord prefers the deferred interaction followup and falls back to
// a plain channel message when the interaction token is absent or no
// longer accepted
func (s *DispatchServiceImpl) postDiscord(ctx context.Context, ref *models.ReplyRef, text string) error {
	if ref.InteractionToken == "" {
		return s.discordChat.PostMessage(ctx, ref.ChannelID, text)
	}

	err := s.discordChat.FollowUp(ctx, ref.InteractionToken, text)
	if err == nil {
		return nil
	}

	// Interaction tokens expire after 15 minutes; a rejected token still
	// leaves the channel reachable
	if backendErr, ok := core.AsBackendError(err); ok &&
		(backendErr.Kind == core.BackendErrorInvalidRequest || backendErr.Kind == core.BackendErrorAuthFailed) &&
		ref.ChannelID != "" {
		log.Printf("⚠️ Discord followup rejected, falling back to channel message: %v", err)
		return s.discordChat.PostMessage(ctx, ref.ChannelID, text)
	}

	return err
}

func (s *DispatchServiceImpl) backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	base := time.Duration(attempt*attempt) * s.backoffUnit
	jitter := time.Duration(rand.Int64N(int64(base)/2 + 1))
	delay := base + jitter

	if retryAfter > delay {
		delay = retryAfter
	}

	return delay
}

// renderResult turns a completion result into user-visible reply text.
// Partial and failure results are visibly marked so a cut-off answer is
// never mistaken for a complete one.
func renderResult(platform models.Platform, result *models.CompletionResult) string {
	var body string
	switch result.Kind {
	case models.CompletionResultSuccess:
		body = result.Text
	case models.CompletionResultPartial:
		body = result.Text + "\n\n⚠️ _Response incomplete: " + result.Reason + "_"
	case models.CompletionResultFailure:
		body = "❌ Sorry, I could not generate a response: " + result.Reason
	default:
		return ""
	}

	if platform == models.PlatformSlack {
		return utils.ConvertMarkdownToSlack(body)
	}

	return body
}
