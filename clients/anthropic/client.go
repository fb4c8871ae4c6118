package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"gptbridge/clients"
	"gptbridge/core"
	"gptbridge/models"
)

// AnthropicClient implements clients.CompletionClient using the official
// anthropic-sdk-go Messages API
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a completion client for the Anthropic API.
// Extra request options let tests point the client at a local server.
func NewAnthropicClient(apiKey string, opts ...option.RequestOption) clients.CompletionClient {
	allOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(allOpts...)
	return &AnthropicClient{
		client: &client,
	}
}

func (c *AnthropicClient) Provider() string {
	return "anthropic"
}

// StreamCompletion satisfies the streaming contract with a single-chunk
// stream: the Messages call returns the whole response at once, so the
// only chunk carries the full text and the usage report together.
func (c *AnthropicClient) StreamCompletion(
	ctx context.Context,
	req models.CompletionRequest,
) (clients.CompletionStream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &singleChunkStream{
		chunk: models.CompletionChunk{
			Text: text,
			Usage: &models.CompletionUsage{
				PromptTokens:     int(msg.Usage.InputTokens),
				CompletionTokens: int(msg.Usage.OutputTokens),
			},
		},
	}, nil
}

type singleChunkStream struct {
	chunk models.CompletionChunk
	done  bool
}

func (s *singleChunkStream) Recv() (models.CompletionChunk, error) {
	if s.done {
		return models.CompletionChunk{}, io.EOF
	}
	s.done = true
	return s.chunk, nil
}

func (s *singleChunkStream) Close() error {
	return nil
}

// classifyError maps anthropic SDK errors onto the bridge failure taxonomy
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &core.BackendError{
			Kind:    kindForStatus(apiErr.StatusCode, err.Error()),
			Message: fmt.Sprintf("anthropic api error (status %d)", apiErr.StatusCode),
			Err:     err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.WrapBackendError(core.BackendErrorTimeout, "anthropic request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.WrapBackendError(core.BackendErrorTimeout, "anthropic connection timed out", err)
	}

	return core.WrapBackendError(core.BackendErrorUnavailable, "anthropic request failed", err)
}

func kindForStatus(status int, message string) core.BackendErrorKind {
	switch {
	case status == 429:
		return core.BackendErrorRateLimited
	case status == 401 || status == 403:
		return core.BackendErrorAuthFailed
	// 529 is Anthropic's dedicated overloaded status
	case status >= 500:
		return core.BackendErrorUnavailable
	case status == 400 && strings.Contains(message, "credit balance"):
		return core.BackendErrorQuotaExhausted
	case status >= 400:
		return core.BackendErrorInvalidRequest
	default:
		return core.BackendErrorUnavailable
	}
}
