package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"gptbridge/config"
	"gptbridge/db"
	"gptbridge/services/dedup"
)

// One-shot sweep of expired dedup records. The bridge server runs the
// same sweep on a timer; this tool covers deployments where the server
// is down for longer than the retention window.
func main() {
	log.Printf("🔄 Starting expired dedup record sweep...")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	if cfg.DatabaseURL == "" {
		log.Fatalf("❌ A database must be configured to sweep (set DB_URL)")
	}

	// Create database connection
	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer dbConn.Close()

	repo := db.NewPostgresProcessedEventsRepository(dbConn, cfg.DatabaseSchema)
	dedupService := dedup.NewDedupService(repo, cfg.DedupConfig.Retention)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := dedupService.SweepExpired(ctx)
	if err != nil {
		log.Fatalf("❌ Sweep failed: %v", err)
	}

	// Print summary
	log.Printf("✅ Sweep completed!")
	log.Printf("📊 Summary:")
	log.Printf("   - Retention window: %v", cfg.DedupConfig.Retention)
	log.Printf("   - Expired records removed: %d", removed)
}
