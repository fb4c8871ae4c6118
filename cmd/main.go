package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"gptbridge/clients"
	anthropicclient "gptbridge/clients/anthropic"
	discordclient "gptbridge/clients/discord"
	openaiclient "gptbridge/clients/openai"
	slackclient "gptbridge/clients/slack"
	"gptbridge/config"
	"gptbridge/db"
	"gptbridge/handlers"
	"gptbridge/middleware"
	"gptbridge/services/completions"
	"gptbridge/services/dedup"
	"gptbridge/services/dispatch"
	"gptbridge/services/usage"
	"gptbridge/usecases/bridge"
)

// drainTimeout bounds how long shutdown waits for in-flight events
// before cancelling them. Generous enough for a completion plus its
// dispatch to finish.
const drainTimeout = 60 * time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("❌ Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	// Initialize error alert middleware
	alertMiddleware := middleware.NewErrorAlertMiddleware(middleware.AlertConfig{
		WebhookURL:  cfg.ErrorAlertWebhookURL,
		Environment: cfg.Environment,
		AppName:     "gptbridge",
		LogsURL:     cfg.ServerLogsURL,
	})

	// Pick the dedup store: Postgres when a database is configured, the
	// in-process store otherwise
	store, closeStore, err := buildDedupStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	dedupService := dedup.NewDedupService(store, cfg.DedupConfig.Retention)

	backendClient := buildCompletionClient(cfg)
	completionsService := completions.NewCompletionsService(
		backendClient,
		cfg.CompletionConfig.Timeout,
		cfg.CompletionConfig.MaxAttempts,
		cfg.CompletionConfig.MaxConcurrent,
	)

	var slackChat clients.SlackChatClient
	if cfg.SlackConfig.IsConfigured() {
		slackChat = slackclient.NewSlackClient(cfg.SlackConfig.BotToken)
		if cfg.SlackConfig.BotUserID == "" {
			authResp, err := slackChat.AuthTest(context.Background())
			if err != nil {
				return fmt.Errorf("failed to resolve Slack bot user: %w", err)
			}
			cfg.SlackConfig.BotUserID = authResp.UserID
			log.Printf("✅ Resolved Slack bot user: %s", authResp.UserID)
		}
	}

	var discordChat clients.DiscordChatClient
	if cfg.DiscordConfig.IsConfigured() {
		discordChat, err = discordclient.NewDiscordClient(
			cfg.DiscordConfig.BotToken,
			cfg.DiscordConfig.ApplicationID,
		)
		if err != nil {
			return fmt.Errorf("failed to create Discord client: %w", err)
		}
	}

	dispatchService := dispatch.NewDispatchService(
		slackChat,
		discordChat,
		cfg.DispatchConfig.MaxAttempts,
		cfg.DispatchConfig.FailureRepliesEnabled,
	)
	usageService := usage.NewUsageService()

	bridgeUseCase := bridge.NewBridgeUseCase(
		dedupService,
		completionsService,
		dispatchService,
		usageService,
		slackChat,
		alertMiddleware,
		bridge.CompletionDefaults{
			Model:        cfg.CompletionConfig.Model,
			MaxTokens:    cfg.CompletionConfig.MaxTokens,
			SystemPrompt: cfg.CompletionConfig.SystemPrompt,
		},
	)

	// Create a new router
	router := mux.NewRouter()

	// Setup platform webhook endpoints for whichever platforms are configured
	if cfg.SlackConfig.IsConfigured() {
		slackHandler := handlers.NewSlackEventsHandler(
			cfg.SlackConfig.SigningSecret,
			cfg.SlackConfig.BotUserID,
			bridgeUseCase,
		)
		slackHandler.SetupEndpoints(router)
	}

	if cfg.DiscordConfig.IsConfigured() {
		discordHandler, err := handlers.NewDiscordEventsHandler(
			cfg.DiscordConfig.PublicKey,
			cfg.DiscordConfig.ApplicationID,
			cfg.DiscordConfig.CommandName,
			bridgeUseCase,
		)
		if err != nil {
			return err
		}
		discordHandler.SetupEndpoints(router)
	}

	statusHandler := handlers.NewStatusHandler(bridgeUseCase, usageService)
	authMiddleware := middleware.NewTokenAuthMiddleware(cfg.StatusAuthToken)
	statusHandler.SetupEndpoints(router, authMiddleware)

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			log.Printf("❌ Failed to write health check response: %v", err)
		}
	}).Methods("GET")

	// Start periodic sweep of expired dedup records
	sweepTicker := time.NewTicker(cfg.DedupConfig.SweepInterval)
	go func() {
		for range sweepTicker.C {
			_ = alertMiddleware.WrapBackgroundTask("SweepExpiredEvents", func() error {
				return bridgeUseCase.SweepExpiredEvents(context.Background())
			})()
		}
	}()
	defer sweepTicker.Stop()

	// Setup CORS middleware
	allowedOrigins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i, origin := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(origin)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Setup and handle graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           alertMiddleware.HTTPMiddleware(c.Handler(router)),
		ReadHeaderTimeout: 30 * time.Second,
	}

	return handleGracefulShutdown(server, bridgeUseCase)
}

// buildDedupStore wires the processed-events store. Returns the store and
// a close function for whatever connection backs it.
func buildDedupStore(cfg *config.AppConfig) (dedup.ProcessedEventsStore, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Printf("⚠️ No database configured, dedup records are held in process memory")
		return dedup.NewMemoryProcessedEventsStore(), func() {}, nil
	}

	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	repo := db.NewPostgresProcessedEventsRepository(dbConn, cfg.DatabaseSchema)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		dbConn.Close()
		return nil, nil, err
	}

	log.Printf("✅ Using Postgres dedup store with schema: %s", cfg.DatabaseSchema)
	return repo, func() { dbConn.Close() }, nil
}

// buildCompletionClient picks the backend client for the configured
// model. LoadConfig has already verified the matching credentials exist.
func buildCompletionClient(cfg *config.AppConfig) clients.CompletionClient {
	if cfg.CompletionConfig.UsesAnthropicBackend() {
		log.Printf("✅ Using Anthropic backend for model: %s", cfg.CompletionConfig.Model)
		return anthropicclient.NewAnthropicClient(cfg.AnthropicConfig.APIKey)
	}

	log.Printf("✅ Using OpenAI backend for model: %s", cfg.CompletionConfig.Model)
	return openaiclient.NewOpenAIClient(cfg.OpenAIConfig.APIKey, cfg.OpenAIConfig.BaseURL)
}

func handleGracefulShutdown(server *http.Server, bridgeUseCase *bridge.BridgeUseCase) error {
	// Channel to listen for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		log.Printf("✅ Listening on http://localhost%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	<-stop
	log.Printf("🛑 Shutdown signal received, cleaning up...")

	// Stop accepting webhook deliveries first. Platforms treat the
	// refused connections as failures and redeliver, and the dedup store
	// keeps the redeliveries honest after restart.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("❌ Server shutdown error: %v", err)
		return err
	}

	// Then wait for detached event processing to finish. On timeout the
	// remaining events are cancelled and marked failed.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()

	if err := bridgeUseCase.Drain(drainCtx); err != nil {
		log.Printf("⚠️ Drain timed out, remaining in-flight events were cancelled: %v", err)
	}

	log.Printf("✅ Server stopped gracefully")
	return nil
}
