package testutils

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"gptbridge/config"
	"gptbridge/core"
	"gptbridge/db"
	"gptbridge/models"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

// LoadTestConfig loads configuration for database-backed tests from
// environment variables. Tests skip when it errors.
func LoadTestConfig() (*config.AppConfig, error) {
	// Try to load environment variables from various possible locations
	_ = godotenv.Load("../.env.test") // From package directories
	_ = godotenv.Load(".env.test")    // From root directory
	_ = godotenv.Load()               // Default .env file

	databaseURL := os.Getenv("DB_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DB_URL is not set")
	}

	databaseSchema := os.Getenv("DB_SCHEMA")
	if databaseSchema == "" {
		return nil, fmt.Errorf("DB_SCHEMA is not set")
	}

	return &config.AppConfig{
		DatabaseURL:    databaseURL,
		DatabaseSchema: databaseSchema,
	}, nil
}

// CreateTestMessageEvent builds an inbound event with a unique delivery
// key so test runs never collide on the dedup store
func CreateTestMessageEvent(platform models.Platform) *models.MessageEvent {
	return &models.MessageEvent{
		Platform:   platform,
		EventKey:   "Ev-test-" + uuid.New().String(),
		ChannelID:  "C-test",
		ThreadID:   "1700000000.000100",
		MessageTS:  "1700000000.000100",
		SenderID:   "U-test",
		Text:       "test prompt",
		ReceivedAt: time.Now(),
	}
}

// CreateTestProcessedEvent inserts a fresh dedup record and returns it
func CreateTestProcessedEvent(
	t *testing.T,
	repo *db.PostgresProcessedEventsRepository,
	platform models.Platform,
) *models.ProcessedEvent {
	record := &models.ProcessedEvent{
		ID:        core.NewID("pe"),
		Platform:  platform,
		EventKey:  "Ev-test-" + uuid.New().String(),
		ChannelID: "C-test",
		ThreadID:  "1700000000.000100",
		Status:    models.ProcessedEventStatusInProgress,
	}

	admitted, err := repo.InsertIfAbsent(context.Background(), record, time.Now().Add(-time.Hour))
	require.NoError(t, err, "Failed to insert test processed event")
	require.True(t, admitted, "Expected test processed event to be admitted")
	return record
}
