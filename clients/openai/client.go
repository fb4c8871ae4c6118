package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"gptbridge/clients"
	"gptbridge/core"
	"gptbridge/models"
)

// OpenAIClient implements clients.CompletionClient using the go-openai SDK
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a completion client for the OpenAI chat API.
// baseURL overrides the API endpoint when set, which is how tests point
// the client at a local server.
func NewOpenAIClient(apiKey, baseURL string) clients.CompletionClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
	}
}

func (c *OpenAIClient) Provider() string {
	return "openai"
}

// StreamCompletion opens a streaming chat completion for the request
func (c *OpenAIClient) StreamCompletion(
	ctx context.Context,
	req models.CompletionRequest,
) (clients.CompletionStream, error) {
	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}

	return &completionStream{stream: stream}, nil
}

type completionStream struct {
	stream *openai.ChatCompletionStream
}

func (s *completionStream) Recv() (models.CompletionChunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return models.CompletionChunk{}, io.EOF
		}
		return models.CompletionChunk{}, classifyError(err)
	}

	chunk := models.CompletionChunk{}
	if len(resp.Choices) > 0 {
		chunk.Text = resp.Choices[0].Delta.Content
	}
	// The usage frame arrives as a trailing chunk with no choices
	if resp.Usage != nil {
		chunk.Usage = &models.CompletionUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}

	return chunk, nil
}

func (s *completionStream) Close() error {
	return s.stream.Close()
}

// classifyError maps go-openai SDK errors onto the bridge failure taxonomy
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &core.BackendError{
			Kind:    kindForAPIError(apiErr),
			Message: fmt.Sprintf("openai api error (status %d)", apiErr.HTTPStatusCode),
			Err:     err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		kind := core.BackendErrorUnavailable
		if reqErr.HTTPStatusCode == 401 || reqErr.HTTPStatusCode == 403 {
			kind = core.BackendErrorAuthFailed
		}
		return &core.BackendError{
			Kind:    kind,
			Message: fmt.Sprintf("openai request error (status %d)", reqErr.HTTPStatusCode),
			Err:     err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.WrapBackendError(core.BackendErrorTimeout, "openai request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.WrapBackendError(core.BackendErrorTimeout, "openai connection timed out", err)
	}

	// Connection resets, unexpected EOF mid-stream and other transport
	// failures land here
	return core.WrapBackendError(core.BackendErrorUnavailable, "openai request failed", err)
}

func kindForAPIError(apiErr *openai.APIError) core.BackendErrorKind {
	if apiErr.HTTPStatusCode == 429 {
		if isQuotaExhausted(apiErr) {
			return core.BackendErrorQuotaExhausted
		}
		return core.BackendErrorRateLimited
	}

	switch {
	case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
		return core.BackendErrorAuthFailed
	case apiErr.HTTPStatusCode >= 500:
		return core.BackendErrorUnavailable
	case apiErr.HTTPStatusCode >= 400:
		return core.BackendErrorInvalidRequest
	default:
		return core.BackendErrorUnavailable
	}
}

// isQuotaExhausted distinguishes a billing quota 429 from a rate limit
// 429. OpenAI marks the former with the insufficient_quota error type.
func isQuotaExhausted(apiErr *openai.APIError) bool {
	if strings.Contains(apiErr.Type, "insufficient_quota") {
		return true
	}
	if code, ok := apiErr.Code.(string); ok && strings.Contains(code, "insufficient_quota") {
		return true
	}
	return false
}
