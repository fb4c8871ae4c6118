package clients

import (
	"context"

	"gptbridge/models"
)

// CompletionStream yields response text increments from a completion
// backend. Recv returns io.EOF after the final chunk of a stream that
// finished cleanly. Close releases the underlying connection and is safe
// to call after any Recv outcome.
type CompletionStream interface {
	Recv() (models.CompletionChunk, error)
	Close() error
}

// CompletionClient defines the interface for completion backend operations
type CompletionClient interface {
	// StreamCompletion opens a stream for the request. Failures are
	// classified as *core.BackendError wherever the SDK gives us enough
	// to classify them.
	StreamCompletion(ctx context.Context, req models.CompletionRequest) (CompletionStream, error)

	// Provider names the backend for logs and status reporting
	Provider() string
}

// SlackAuthTestResponse represents our custom auth test response with only needed fields
type SlackAuthTestResponse struct {
	UserID string
	TeamID string
}

// SlackChatClient defines the interface for Slack reply operations
type SlackChatClient interface {
	// PostReply posts text into a thread, tagging the message with the
	// dispatch token so a later probe can recognize it. Returns the
	// message timestamp.
	PostReply(ctx context.Context, channelID, threadTS, text, dispatchToken string) (string, error)

	// HasReplyWithToken reports whether a reply carrying the dispatch
	// token already exists in the thread
	HasReplyWithToken(ctx context.Context, channelID, threadTS, dispatchToken string) (bool, error)

	// Reaction operations
	AddReaction(ctx context.Context, name, channelID, timestamp string) error
	RemoveReaction(ctx context.Context, name, channelID, timestamp string) error

	// AuthTest verifies the bot token and returns information about the bot
	AuthTest(ctx context.Context) (*SlackAuthTestResponse, error)
}

// DiscordChatClient defines the interface for Discord reply operations
type DiscordChatClient interface {
	// FollowUp posts a followup message to a deferred interaction
	FollowUp(ctx context.Context, interactionToken, text string) error

	// PostMessage posts a plain message to a channel, used when the
	// interaction token has expired
	PostMessage(ctx context.Context, channelID, text string) error
}
