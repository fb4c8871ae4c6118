package clients

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"gptbridge/models"
)

// MockCompletionClient is a mock implementation of CompletionClient
type MockCompletionClient struct {
	mock.Mock
}

func (m *MockCompletionClient) StreamCompletion(
	ctx context.Context,
	req models.CompletionRequest,
) (CompletionStream, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(CompletionStream), args.Error(1)
}

func (m *MockCompletionClient) Provider() string {
	args := m.Called()
	return args.String(0)
}

// MockSlackChatClient is a mock implementation of SlackChatClient
type MockSlackChatClient struct {
	mock.Mock
}

func (m *MockSlackChatClient) PostReply(
	ctx context.Context,
	channelID, threadTS, text, dispatchToken string,
) (string, error) {
	args := m.Called(ctx, channelID, threadTS, text, dispatchToken)
	return args.String(0), args.Error(1)
}

func (m *MockSlackChatClient) HasReplyWithToken(
	ctx context.Context,
	channelID, threadTS, dispatchToken string,
) (bool, error) {
	args := m.Called(ctx, channelID, threadTS, dispatchToken)
	return args.Bool(0), args.Error(1)
}

func (m *MockSlackChatClient) AddReaction(ctx context.Context, name, channelID, timestamp string) error {
	args := m.Called(ctx, name, channelID, timestamp)
	return args.Error(0)
}

func (m *MockSlackChatClient) RemoveReaction(ctx context.Context, name, channelID, timestamp string) error {
	args := m.Called(ctx, name, channelID, timestamp)
	return args.Error(0)
}

func (m *MockSlackChatClient) AuthTest(ctx context.Context) (*SlackAuthTestResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SlackAuthTestResponse), args.Error(1)
}

// MockDiscordChatClient is a mock implementation of DiscordChatClient
type MockDiscordChatClient struct {
	mock.Mock
}

func (m *MockDiscordChatClient) FollowUp(ctx context.Context, interactionToken, text string) error {
	args := m.Called(ctx, interactionToken, text)
	return args.Error(0)
}

func (m *MockDiscordChatClient) PostMessage(ctx context.Context, channelID, text string) error {
	args := m.Called(ctx, channelID, text)
	return args.Error(0)
}

// StaticCompletionStream is a scripted CompletionStream for tests. It
// plays back the configured chunks in order, then the terminal error
// (io.EOF for a clean finish). With no terminal error and a captured
// context it blocks like a stalled stream until the context expires,
// which is how tests exercise deadline expiry mid-stream.
type StaticCompletionStream struct {
	Chunks   []models.CompletionChunk
	FinalErr error
	Ctx      context.Context

	pos    int
	closed bool
}

func (s *StaticCompletionStream) Recv() (models.CompletionChunk, error) {
	if s.Ctx != nil {
		select {
		case <-s.Ctx.Done():
			return models.CompletionChunk{}, s.Ctx.Err()
		default:
		}
	}

	if s.pos < len(s.Chunks) {
		chunk := s.Chunks[s.pos]
		s.pos++
		return chunk, nil
	}

	if s.FinalErr != nil {
		return models.CompletionChunk{}, s.FinalErr
	}

	// No terminal error scripted: stall like a stream that stopped
	// producing until the captured context gives up
	if s.Ctx != nil {
		<-s.Ctx.Done()
		return models.CompletionChunk{}, s.Ctx.Err()
	}

	return models.CompletionChunk{}, io.EOF
}

func (s *StaticCompletionStream) Close() error {
	s.closed = true
	return nil
}

func (s *StaticCompletionStream) Closed() bool {
	return s.closed
}
