package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gptbridge/clients"
	"gptbridge/middleware"
	"gptbridge/models"
	"gptbridge/services"
)

// CompletionDefaults configures the completion request built for each
// admitted event
type CompletionDefaults struct {
	Model        string
	MaxTokens    int
	SystemPrompt string
}

// BridgeUseCase composes admission, completion, usage accounting and
// reply dispatch. Events are admitted synchronously so the webhook can
// acknowledge within the platform budget; everything after admission
// runs detached from the request.
type BridgeUseCase struct {
	dedupService       services.DedupService
	completionsService services.CompletionsService
	dispatchService    services.DispatchService
	usageService       services.UsageService
	slackChatClient    clients.SlackChatClient
	alerter            *middleware.ErrorAlertMiddleware
	defaults           CompletionDefaults

	// rootCtx owns background processing so drain can cut it short
	rootCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
	draining  atomic.Bool

	startedAt       time.Time
	eventsReceived  atomic.Int64
	eventsAdmitted  atomic.Int64
	eventsDuplicate atomic.Int64
	eventsCompleted atomic.Int64
	eventsFailed    atomic.Int64
	inFlight        atomic.Int64
}

// NewBridgeUseCase creates a new instance of BridgeUseCase. The Slack
// chat client and the alerter are optional - pass nil to disable
// message reactions or error alerting.
func NewBridgeUseCase(
	dedupService services.DedupService,
	completionsService services.CompletionsService,
	dispatchService services.DispatchService,
	usageService services.UsageService,
	slackChatClient clients.SlackChatClient,
	alerter *middleware.ErrorAlertMiddleware,
	defaults CompletionDefaults,
) *BridgeUseCase {
	rootCtx, cancelAll := context.WithCancel(context.Background())

	return &BridgeUseCase{
		dedupService:       dedupService,
		completionsService: completionsService,
		dispatchService:    dispatchService,
		usageService:       usageService,
		slackChatClient:    slackChatClient,
		alerter:            alerter,
		defaults:           defaults,
		rootCtx:            rootCtx,
		cancelAll:          cancelAll,
		startedAt:          time.Now(),
	}
}

func (u *BridgeUseCase) Stats() models.BridgeStats {
	return models.BridgeStats{
		EventsReceived:  u.eventsReceived.Load(),
		EventsAdmitted:  u.eventsAdmitted.Load(),
		EventsDuplicate: u.eventsDuplicate.Load(),
		EventsCompleted: u.eventsCompleted.Load(),
		EventsFailed:    u.eventsFailed.Load(),
		InFlight:        u.inFlight.Load(),
		StartedAt:       u.startedAt,
	}
}

func (u *BridgeUseCase) alertError(err error, errorContext string) {
	if u.alerter == nil {
		return
	}
	u.alerter.AlertError(err, errorContext)
}
