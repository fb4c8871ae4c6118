package handlers

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/mux"

	"gptbridge/models"
	"gptbridge/usecases"
)

type DiscordEventsHandler struct {
	publicKey     ed25519.PublicKey
	applicationID string
	commandName   string
	bridgeUseCase usecases.BridgeUseCaseInterface
}

func NewDiscordEventsHandler(
	publicKeyHex string,
	applicationID string,
	commandName string,
	bridgeUseCase usecases.BridgeUseCaseInterface,
) (*DiscordEventsHandler, error) {
	rawKey, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Discord public key: %w", err)
	}
	if len(rawKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("discord public key must be %d bytes, got %d", ed25519.PublicKeySize, len(rawKey))
	}

	return &DiscordEventsHandler{
		publicKey:     ed25519.PublicKey(rawKey),
		applicationID: applicationID,
		commandName:   commandName,
		bridgeUseCase: bridgeUseCase,
	}, nil
}

func (h *DiscordEventsHandler) HandleDiscordInteraction(w http.ResponseWriter, r *http.Request) {
	log.Printf("📨 Discord interaction received from %s", r.RemoteAddr)

	// Verify the Ed25519 signature before any other processing
	if !discordgo.VerifyInteraction(r, h.publicKey) {
		log.Printf("❌ Discord signature verification failed")
		http.Error(w, "invalid request signature", http.StatusUnauthorized)
		return
	}

	log.Printf("✅ Discord signature verified successfully")

	// VerifyInteraction restores the body after reading it
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("❌ Failed to read request body: %v", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var interaction discordgo.Interaction
	if err := json.Unmarshal(bodyBytes, &interaction); err != nil {
		log.Printf("❌ Failed to parse Discord interaction: %v", err)
		http.Error(w, "failed to parse body", http.StatusBadRequest)
		return
	}

	switch interaction.Type {
	case discordgo.InteractionPing:
		log.Printf("📋 Discord ping received, responding with pong")
		h.writeInteractionResponse(w, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponsePong,
		})

	case discordgo.InteractionApplicationCommand:
		h.handleApplicationCommand(w, r, &interaction)

	default:
		log.Printf("⏭️ Ignoring unsupported Discord interaction type: %d", interaction.Type)
		w.WriteHeader(http.StatusOK)
	}
}

func (h *DiscordEventsHandler) handleApplicationCommand(
	w http.ResponseWriter,
	r *http.Request,
	interaction *discordgo.Interaction,
) {
	data := interaction.ApplicationCommandData()
	log.Printf("📞 Discord command /%s received - Interaction: %s", data.Name, interaction.ID)

	if data.Name != h.commandName {
		log.Printf("⏭️ Skipping unknown Discord command: /%s", data.Name)
		h.writeInteractionResponse(w, ephemeralMessage(fmt.Sprintf("Unknown command: /%s", data.Name)))
		return
	}

	var prompt string
	for _, option := range data.Options {
		if option.Type == discordgo.ApplicationCommandOptionString {
			prompt = strings.TrimSpace(option.StringValue())
			break
		}
	}
	if prompt == "" {
		log.Printf("⏭️ Skipping Discord command %s: no prompt text", interaction.ID)
		h.writeInteractionResponse(w, ephemeralMessage("Please provide a prompt."))
		return
	}

	senderID := discordSenderID(interaction)
	if senderID == "" {
		log.Printf("❌ Discord interaction %s has no sender", interaction.ID)
		http.Error(w, "sender not found", http.StatusBadRequest)
		return
	}

	event := &models.MessageEvent{
		Platform:   models.PlatformDiscord,
		EventKey:   interaction.ID,
		ChannelID:  interaction.ChannelID,
		SenderID:   senderID,
		Text:       prompt,
		ReceivedAt: time.Now(),
		Discord: &models.DiscordEventMeta{
			InteractionToken: interaction.Token,
			ApplicationID:    h.applicationID,
		},
	}

	// The admission decision must be durable before the deferred ack
	if err := h.bridgeUseCase.ProcessMessageEvent(r.Context(), event); err != nil {
		log.Printf("❌ Failed to process Discord interaction %s: %v", interaction.ID, err)
		http.Error(w, "failed to process interaction", http.StatusInternalServerError)
		return
	}

	// Deferred response: the reply arrives later as a follow-up message
	h.writeInteractionResponse(w, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func (h *DiscordEventsHandler) writeInteractionResponse(w http.ResponseWriter, response *discordgo.InteractionResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("❌ Failed to write Discord interaction response: %v", err)
	}
}

func ephemeralMessage(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// discordSenderID resolves the invoking user for both guild and DM
// interactions
func discordSenderID(interaction *discordgo.Interaction) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func (h *DiscordEventsHandler) SetupEndpoints(router *mux.Router) {
	log.Printf("🚀 Registering Discord webhook endpoints")

	router.HandleFunc("/discord/interactions", h.HandleDiscordInteraction).Methods("POST")
	log.Printf("✅ POST /discord/interactions endpoint registered")
}
