package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gptbridge/models"
)

// MockBridgeUseCase implements usecases.BridgeUseCaseInterface for testing
type MockBridgeUseCase struct {
	mock.Mock
}

func (m *MockBridgeUseCase) ProcessMessageEvent(ctx context.Context, event *models.MessageEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockBridgeUseCase) SweepExpiredEvents(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBridgeUseCase) Drain(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBridgeUseCase) Stats() models.BridgeStats {
	args := m.Called()
	return args.Get(0).(models.BridgeStats)
}
