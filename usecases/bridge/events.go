package bridge

import (
	"context"
	"fmt"
	"log"
	"time"

	"gptbridge/core"
	"gptbridge/models"
	"gptbridge/services"
)

// outcomeTimeout bounds the terminal dedup record update, which must
// succeed even when the drain context is already cancelled
const outcomeTimeout = 5 * time.Second

// ProcessMessageEvent admits the delivery and schedules background
// processing for admitted events. It returns once the admission
// decision is durable; the caller acknowledges the platform on nil.
func (u *BridgeUseCase) ProcessMessageEvent(ctx context.Context, event *models.MessageEvent) error {
	if event == nil {
		return fmt.Errorf("event must not be nil")
	}

	log.Printf("📋 Starting to process message event %s/%s from %s", event.Platform, event.EventKey, event.SenderID)
	u.eventsReceived.Add(1)

	if u.draining.Load() {
		return fmt.Errorf("bridge is draining, not accepting new events")
	}

	decision, err := u.dedupService.Admit(ctx, event)
	if err != nil {
		log.Printf("❌ Failed to admit event %s/%s: %v", event.Platform, event.EventKey, err)
		return fmt.Errorf("failed to admit event: %w", err)
	}

	if decision == services.AdmitDecisionDuplicate {
		u.eventsDuplicate.Add(1)
		log.Printf("⏭️ Duplicate delivery %s/%s - acknowledging without processing", event.Platform, event.EventKey)
		return nil
	}

	u.eventsAdmitted.Add(1)
	u.inFlight.Add(1)
	u.wg.Add(1)
	go u.processAdmittedEvent(event)

	log.Printf("📋 Completed successfully - admitted event %s/%s for background processing", event.Platform, event.EventKey)
	return nil
}

// processAdmittedEvent runs after the webhook has been acknowledged, on
// the use case root context rather than the request context
func (u *BridgeUseCase) processAdmittedEvent(event *models.MessageEvent) {
	defer u.wg.Done()
	defer u.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic while processing event %s/%s: %v", event.Platform, event.EventKey, r)
			u.eventsFailed.Add(1)
			panicErr := fmt.Errorf("panic while processing event %s/%s: %v", event.Platform, event.EventKey, r)
			u.alertError(panicErr, "background event processing")
			u.markOutcome(event, models.ProcessedEventStatusFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	ctx := u.rootCtx
	u.setThinkingReaction(ctx, event)

	result := u.completionsService.Complete(ctx, models.CompletionRequest{
		Prompt:       event.Text,
		Model:        u.defaults.Model,
		MaxTokens:    u.defaults.MaxTokens,
		SystemPrompt: u.defaults.SystemPrompt,
	})

	if result.Usage != nil {
		if err := u.usageService.RecordUsage(ctx, result.Model, result.Usage); err != nil {
			log.Printf("⚠️ Failed to record usage for event %s/%s: %v", event.Platform, event.EventKey, err)
		}
	}

	dispatchErr := u.dispatchService.Dispatch(ctx, replyRefForEvent(event), result)
	if dispatchErr != nil {
		log.Printf("❌ Failed to dispatch reply for event %s/%s: %v", event.Platform, event.EventKey, dispatchErr)
		u.alertError(dispatchErr, fmt.Sprintf("reply dispatch for %s/%s", event.Platform, event.EventKey))
	}

	// A completed completion with a failed dispatch is still an event
	// failure: the user never saw the reply
	status := models.ProcessedEventStatusCompleted
	if dispatchErr != nil || result.Kind == models.CompletionResultFailure {
		status = models.ProcessedEventStatusFailed
	}

	if status == models.ProcessedEventStatusCompleted {
		u.eventsCompleted.Add(1)
	} else {
		u.eventsFailed.Add(1)
	}

	u.setOutcomeReaction(ctx, event, status)
	u.markOutcome(event, status, outcomeDescription(result, dispatchErr))

	if status == models.ProcessedEventStatusCompleted {
		log.Printf("📋 Completed successfully - event %s/%s processed and reply dispatched", event.Platform, event.EventKey)
	} else {
		log.Printf("❌ Event %s/%s finished with status %s", event.Platform, event.EventKey, status)
	}
}

// markOutcome records the terminal dedup status on a fresh context so
// it still lands when the root context was cancelled mid-drain
func (u *BridgeUseCase) markOutcome(event *models.MessageEvent, status models.ProcessedEventStatus, outcome string) {
	ctx, cancel := context.WithTimeout(context.Background(), outcomeTimeout)
	defer cancel()

	if err := u.dedupService.MarkOutcome(ctx, event.Platform, event.EventKey, status, outcome); err != nil {
		// A record swept mid-flight means the event outlived the retention
		// window. There is nothing left to update and nothing to page about.
		if core.IsNotFoundError(err) {
			log.Printf("⚠️ Dedup record for event %s/%s expired before its outcome landed", event.Platform, event.EventKey)
			return
		}
		log.Printf("❌ Failed to record outcome for event %s/%s: %v", event.Platform, event.EventKey, err)
		u.alertError(err, fmt.Sprintf("outcome recording for %s/%s", event.Platform, event.EventKey))
	}
}

func outcomeDescription(result *models.CompletionResult, dispatchErr error) string {
	if dispatchErr != nil {
		return fmt.Sprintf("dispatch failed: %v", dispatchErr)
	}
	switch result.Kind {
	case models.CompletionResultPartial:
		return fmt.Sprintf("partial: %s", result.Reason)
	case models.CompletionResultFailure:
		return fmt.Sprintf("failure: %s", result.Reason)
	default:
		return "success"
	}
}

// setThinkingReaction marks the triggering Slack message with an eyes
// emoji while the completion runs. Reactions are best-effort.
func (u *BridgeUseCase) setThinkingReaction(ctx context.Context, event *models.MessageEvent) {
	if u.slackChatClient == nil || event.Platform != models.PlatformSlack || event.MessageTS == "" {
		return
	}

	if err := u.slackChatClient.AddReaction(ctx, "eyes", event.ChannelID, event.MessageTS); err != nil {
		log.Printf("⚠️ Failed to add eyes reaction for event %s: %v", event.EventKey, err)
		return
	}
	log.Printf("👀 Added eyes reaction for event %s", event.EventKey)
}

func (u *BridgeUseCase) setOutcomeReaction(ctx context.Context, event *models.MessageEvent, status models.ProcessedEventStatus) {
	if u.slackChatClient == nil || event.Platform != models.PlatformSlack || event.MessageTS == "" {
		return
	}

	if err := u.slackChatClient.RemoveReaction(ctx, "eyes", event.ChannelID, event.MessageTS); err != nil {
		log.Printf("⚠️ Failed to remove eyes reaction for event %s: %v", event.EventKey, err)
	}

	emoji := "white_check_mark"
	if status == models.ProcessedEventStatusFailed {
		emoji = "x"
	}
	if err := u.slackChatClient.AddReaction(ctx, emoji, event.ChannelID, event.MessageTS); err != nil {
		log.Printf("⚠️ Failed to add %s reaction for event %s: %v", emoji, event.EventKey, err)
	}
}

func replyRefForEvent(event *models.MessageEvent) *models.ReplyRef {
	ref := &models.ReplyRef{
		Platform:  event.Platform,
		EventKey:  event.EventKey,
		ChannelID: event.ChannelID,
		ThreadID:  event.ThreadID,
	}
	if event.Discord != nil {
		ref.InteractionToken = event.Discord.InteractionToken
	}
	return ref
}
