package slack

import (
	"context"
	"errors"
	"net"

	"github.com/slack-go/slack"

	"gptbridge/clients"
	"gptbridge/core"
)

// replyMetadataEventType tags messages this bridge posted. The dispatch
// token rides in the metadata payload so a redelivered dispatch can find
// its own earlier reply.
const replyMetadataEventType = "assistant_reply"

const dispatchTokenPayloadKey = "dispatch_token"

// SlackClient implements the clients.SlackChatClient interface using the
// slack-go/slack SDK
type SlackClient struct {
	*slack.Client
}

// NewSlackClient creates a new Slack client with the provided bot token.
// Extra options let tests point the client at a local server.
func NewSlackClient(authToken string, options ...slack.Option) clients.SlackChatClient {
	return &SlackClient{
		Client: slack.New(authToken, options...),
	}
}

// AuthTest verifies the bot token and returns information about the bot
func (c *SlackClient) AuthTest(ctx context.Context) (*clients.SlackAuthTestResponse, error) {
	response, err := c.Client.AuthTestContext(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	return &clients.SlackAuthTestResponse{
		UserID: response.UserID,
		TeamID: response.TeamID,
	}, nil
}

// PostReply posts text into a thread, carrying the dispatch token in the
// message metadata. Returns the timestamp of the posted message.
func (c *SlackClient) PostReply(
	ctx context.Context,
	channelID, threadTS, text, dispatchToken string,
) (string, error) {
	options := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionMetadata(slack.SlackMetadata{
			EventType: replyMetadataEventType,
			EventPayload: map[string]interface{}{
				dispatchTokenPayloadKey: dispatchToken,
			},
		}),
	}
	if threadTS != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}

	_, timestamp, err := c.Client.PostMessageContext(ctx, channelID, options...)
	if err != nil {
		return "", classifyError(err)
	}

	return timestamp, nil
}

// HasReplyWithToken reports whether the thread already contains a reply
// tagged with the dispatch token
func (c *SlackClient) HasReplyWithToken(
	ctx context.Context,
	channelID, threadTS, dispatchToken string,
) (bool, error) {
	msgs, _, _, err := c.Client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID:          channelID,
		Timestamp:          threadTS,
		IncludeAllMetadata: true,
		Limit:              100,
	})
	if err != nil {
		return false, classifyError(err)
	}

	for _, msg := range msgs {
		if msg.Metadata.EventType != replyMetadataEventType {
			continue
		}
		if token, ok := msg.Metadata.EventPayload[dispatchTokenPayloadKey].(string); ok && token == dispatchToken {
			return true, nil
		}
	}

	return false, nil
}

// AddReaction adds a reaction to a message. Reacting twice with the same
// emoji is treated as success.
func (c *SlackClient) AddReaction(ctx context.Context, name, channelID, timestamp string) error {
	err := c.Client.AddReactionContext(ctx, name, slack.ItemRef{
		Channel:   channelID,
		Timestamp: timestamp,
	})
	if err != nil && err.Error() != "already_reacted" {
		return classifyError(err)
	}
	return nil
}

// RemoveReaction removes a reaction from a message. A reaction that was
// never added is treated as success.
func (c *SlackClient) RemoveReaction(ctx context.Context, name, channelID, timestamp string) error {
	err := c.Client.RemoveReactionContext(ctx, name, slack.ItemRef{
		Channel:   channelID,
		Timestamp: timestamp,
	})
	if err != nil && err.Error() != "no_reaction" {
		return classifyError(err)
	}
	return nil
}

// classifyError maps slack-go SDK errors onto the bridge failure taxonomy
func classifyError(err error) error {
	var rateLimitErr *slack.RateLimitedError
	if errors.As(err, &rateLimitErr) {
		return &core.BackendError{
			Kind:       core.BackendErrorRateLimited,
			Message:    "slack rate limit exceeded",
			RetryAfter: rateLimitErr.RetryAfter,
			Err:        err,
		}
	}

	// The SDK surfaces Slack API error codes as the error string
	switch err.Error() {
	case "invalid_auth", "not_authed", "account_inactive", "token_revoked", "token_expired":
		return core.WrapBackendError(core.BackendErrorAuthFailed, "slack rejected credentials", err)
	case "channel_not_found", "thread_not_found", "is_archived", "not_in_channel",
		"msg_too_long", "no_text", "restricted_action":
		return core.WrapBackendError(core.BackendErrorInvalidRequest, "slack rejected request", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.WrapBackendError(core.BackendErrorTimeout, "slack request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.WrapBackendError(core.BackendErrorTimeout, "slack connection timed out", err)
	}

	return core.WrapBackendError(core.BackendErrorUnavailable, "slack request failed", err)
}
