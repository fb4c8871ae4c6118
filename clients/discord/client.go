package discord

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/bwmarrin/discordgo"

	"gptbridge/clients"
	"gptbridge/core"
	"gptbridge/utils"
)

// Discord rejects messages over 2000 characters outright
const maxMessageLength = 2000

// DiscordClient implements the clients.DiscordChatClient interface using
// the discordgo SDK
type DiscordClient struct {
	session       *discordgo.Session
	applicationID string
}

// NewDiscordClient creates a Discord client for posting replies. The
// session is REST-only; no gateway connection is opened.
func NewDiscordClient(botToken, applicationID string) (clients.DiscordChatClient, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	return &DiscordClient{
		session:       session,
		applicationID: applicationID,
	}, nil
}

// FollowUp posts a followup message to a deferred interaction
func (c *DiscordClient) FollowUp(ctx context.Context, interactionToken, text string) error {
	_, err := c.session.WebhookExecute(
		c.applicationID,
		interactionToken,
		true,
		&discordgo.WebhookParams{
			Content: utils.TruncateMessage(text, maxMessageLength),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return classifyError(err)
	}

	return nil
}

// PostMessage posts a plain message to a channel, used when the
// interaction token has expired
func (c *DiscordClient) PostMessage(ctx context.Context, channelID, text string) error {
	_, err := c.session.ChannelMessageSend(
		channelID,
		utils.TruncateMessage(text, maxMessageLength),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return classifyError(err)
	}

	return nil
}

// classifyError maps discordgo SDK errors onto the bridge failure taxonomy
func classifyError(err error) error {
	var rateLimitErr *discordgo.RateLimitError
	if errors.As(err, &rateLimitErr) {
		backendErr := &core.BackendError{
			Kind:    core.BackendErrorRateLimited,
			Message: "discord rate limit exceeded",
			Err:     err,
		}
		if rateLimitErr.RateLimit != nil && rateLimitErr.TooManyRequests != nil {
			backendErr.RetryAfter = rateLimitErr.TooManyRequests.RetryAfter
		}
		return backendErr
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		status := restErr.Response.StatusCode
		switch {
		case status == 401 || status == 403:
			return core.WrapBackendError(core.BackendErrorAuthFailed, "discord rejected credentials", err)
		case status >= 500:
			return core.WrapBackendError(core.BackendErrorUnavailable, "discord api unavailable", err)
		case status >= 400:
			return core.WrapBackendError(core.BackendErrorInvalidRequest, "discord rejected request", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.WrapBackendError(core.BackendErrorTimeout, "discord request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.WrapBackendError(core.BackendErrorTimeout, "discord connection timed out", err)
	}

	return core.WrapBackendError(core.BackendErrorUnavailable, "discord request failed", err)
}
