package services

import (
	"context"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"

	"gptbridge/models"
)

// MockDedupService is a mock implementation of DedupService
type MockDedupService struct {
	mock.Mock
}

func (m *MockDedupService) Admit(ctx context.Context, event *models.MessageEvent) (AdmitDecision, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(AdmitDecision), args.Error(1)
}

func (m *MockDedupService) MarkOutcome(
	ctx context.Context,
	platform models.Platform,
	eventKey string,
	status models.ProcessedEventStatus,
	outcome string,
) error {
	args := m.Called(ctx, platform, eventKey, status, outcome)
	return args.Error(0)
}

func (m *MockDedupService) GetProcessedEvent(
	ctx context.Context,
	platform models.Platform,
	eventKey string,
) (mo.Option[*models.ProcessedEvent], error) {
	args := m.Called(ctx, platform, eventKey)
	return args.Get(0).(mo.Option[*models.ProcessedEvent]), args.Error(1)
}

func (m *MockDedupService) SweepExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockCompletionsService is a mock implementation of CompletionsService
type MockCompletionsService struct {
	mock.Mock
}

func (m *MockCompletionsService) Complete(ctx context.Context, req models.CompletionRequest) *models.CompletionResult {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.CompletionResult)
}

// MockDispatchService is a mock implementation of DispatchService
type MockDispatchService struct {
	mock.Mock
}

func (m *MockDispatchService) Dispatch(
	ctx context.Context,
	ref *models.ReplyRef,
	result *models.CompletionResult,
) error {
	args := m.Called(ctx, ref, result)
	return args.Error(0)
}

// MockUsageService is a mock implementation of UsageService
type MockUsageService struct {
	mock.Mock
}

func (m *MockUsageService) RecordUsage(ctx context.Context, model string, usage *models.CompletionUsage) error {
	args := m.Called(ctx, model, usage)
	return args.Error(0)
}

func (m *MockUsageService) GetUsageTotals(ctx context.Context) (*models.UsageTotals, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UsageTotals), args.Error(1)
}
