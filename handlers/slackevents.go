package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/slack-go/slack/slackevents"

	"gptbridge/models"
	"gptbridge/usecases"
	"gptbridge/utils"
)

type SlackEventsHandler struct {
	signingSecret string
	botUserID     string
	bridgeUseCase usecases.BridgeUseCaseInterface
}

func NewSlackEventsHandler(
	signingSecret string,
	botUserID string,
	bridgeUseCase usecases.BridgeUseCaseInterface,
) *SlackEventsHandler {
	return &SlackEventsHandler{
		signingSecret: signingSecret,
		botUserID:     botUserID,
		bridgeUseCase: bridgeUseCase,
	}
}

// verifySlackSignature verifies the authenticity of a Slack webhook request
func (h *SlackEventsHandler) verifySlackSignature(r *http.Request, body []byte) error {
	// Extract headers
	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")

	if timestamp == "" || signature == "" {
		return fmt.Errorf("missing required headers")
	}

	// Verify timestamp freshness (within 5 minutes)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp format: %v", err)
	}

	if time.Now().Unix()-ts > 300 { // 5 minutes
		return fmt.Errorf("request timestamp too old")
	}

	// Create signature base string: v0:timestamp:body
	baseString := fmt.Sprintf("v0:%s:%s", timestamp, string(body))

	// Compute HMAC-SHA256
	mac := hmac.New(sha256.New, []byte(h.signingSecret))
	mac.Write([]byte(baseString))
	expectedSignature := "v0=" + hex.EncodeToString(mac.Sum(nil))

	// Secure comparison
	if !hmac.Equal([]byte(expectedSignature), []byte(signature)) {
		return fmt.Errorf("signature verification failed")
	}

	return nil
}

func (h *SlackEventsHandler) HandleSlackEvent(w http.ResponseWriter, r *http.Request) {
	log.Printf("📨 Slack event received from %s", r.RemoteAddr)

	// Read raw body for signature verification
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("❌ Failed to read request body: %v", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Verify Slack signature before any other processing
	if err := h.verifySlackSignature(r, bodyBytes); err != nil {
		log.Printf("❌ Slack signature verification failed: %v", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	log.Printf("✅ Slack signature verified successfully")

	eventsAPIEvent, err := slackevents.ParseEvent(json.RawMessage(bodyBytes), slackevents.OptionNoVerifyToken())
	if err != nil {
		log.Printf("❌ Failed to parse Slack event: %v", err)
		http.Error(w, "failed to parse body", http.StatusBadRequest)
		return
	}

	switch eventsAPIEvent.Type {
	case slackevents.URLVerification:
		log.Printf("🔐 Slack URL verification challenge received")
		var challengeResp slackevents.ChallengeResponse
		if err := json.Unmarshal(bodyBytes, &challengeResp); err != nil {
			log.Printf("❌ Challenge not found in verification request")
			http.Error(w, "challenge not found", http.StatusBadRequest)
			return
		}
		log.Printf("✅ Responding to Slack URL verification challenge")
		w.Header().Set("Content-Type", "text/plain")
		if _, err := w.Write([]byte(challengeResp.Challenge)); err != nil {
			log.Printf("❌ Failed to write challenge response: %v", err)
		}
		return

	case slackevents.CallbackEvent:
		h.handleCallbackEvent(w, r, eventsAPIEvent)
		return

	default:
		log.Printf("📋 Non-event callback received: %s", eventsAPIEvent.Type)
		w.WriteHeader(http.StatusOK)
	}
}

func (h *SlackEventsHandler) handleCallbackEvent(
	w http.ResponseWriter,
	r *http.Request,
	eventsAPIEvent slackevents.EventsAPIEvent,
) {
	callback, ok := eventsAPIEvent.Data.(*slackevents.EventsAPICallbackEvent)
	if !ok || callback.EventID == "" {
		log.Printf("❌ Event callback is missing its envelope event ID")
		http.Error(w, "event_id not found", http.StatusBadRequest)
		return
	}

	log.Printf("📞 Event callback received from Slack - Event: %s, Team: %s", callback.EventID, eventsAPIEvent.TeamID)

	event, skipReason := h.normalizeInnerEvent(callback.EventID, eventsAPIEvent.InnerEvent)
	if event == nil {
		log.Printf("⏭️ Skipping Slack event %s: %s", callback.EventID, skipReason)
		w.WriteHeader(http.StatusOK)
		return
	}

	// The admission decision must be durable before we acknowledge,
	// otherwise a crash here would make Slack's redelivery undetectable
	if err := h.bridgeUseCase.ProcessMessageEvent(r.Context(), event); err != nil {
		log.Printf("❌ Failed to process Slack event %s: %v", callback.EventID, err)
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// normalizeInnerEvent converts a supported Slack inner event into a
// bridge message event. A nil result means the event should be
// acknowledged without processing, with the reason for logs.
func (h *SlackEventsHandler) normalizeInnerEvent(
	eventID string,
	innerEvent slackevents.EventsAPIInnerEvent,
) (*models.MessageEvent, string) {
	switch inner := innerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if inner.BotID != "" || inner.User == h.botUserID {
			return nil, "mention from a bot"
		}

		text := utils.StripMention(inner.Text, h.botUserID)
		if text == "" {
			return nil, "mention with no prompt text"
		}

		return &models.MessageEvent{
			Platform:   models.PlatformSlack,
			EventKey:   eventID,
			ChannelID:  inner.Channel,
			ThreadID:   threadOrSelf(inner.ThreadTimeStamp, inner.TimeStamp),
			MessageTS:  inner.TimeStamp,
			SenderID:   inner.User,
			Text:       text,
			ReceivedAt: time.Now(),
		}, ""

	case *slackevents.MessageEvent:
		// Only direct messages; channel chatter reaches us via mentions
		if inner.ChannelType != "im" {
			return nil, "channel message without a mention"
		}
		if inner.BotID != "" || inner.User == h.botUserID || inner.SubType != "" {
			return nil, "direct message from a bot or an edit"
		}

		text := utils.StripMention(inner.Text, h.botUserID)
		if text == "" {
			return nil, "direct message with no text"
		}

		return &models.MessageEvent{
			Platform:   models.PlatformSlack,
			EventKey:   eventID,
			ChannelID:  inner.Channel,
			ThreadID:   threadOrSelf(inner.ThreadTimeStamp, inner.TimeStamp),
			MessageTS:  inner.TimeStamp,
			SenderID:   inner.User,
			Text:       text,
			ReceivedAt: time.Now(),
		}, ""

	default:
		return nil, fmt.Sprintf("unsupported event type %T", innerEvent.Data)
	}
}

// threadOrSelf roots replies at the thread when the message is in one,
// otherwise at the message itself
func threadOrSelf(threadTS, messageTS string) string {
	if threadTS != "" {
		return threadTS
	}
	return messageTS
}

func (h *SlackEventsHandler) SetupEndpoints(router *mux.Router) {
	log.Printf("🚀 Registering Slack webhook endpoints")

	router.HandleFunc("/slack/events", h.HandleSlackEvent).Methods("POST")
	log.Printf("✅ POST /slack/events endpoint registered")
}
