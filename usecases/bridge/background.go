package bridge

import (
	"context"
	"fmt"
	"log"
)

// SweepExpiredEvents evicts dedup records older than the retention
// window. Intended to run on a periodic ticker.
func (u *BridgeUseCase) SweepExpiredEvents(ctx context.Context) error {
	log.Printf("📋 Starting to sweep expired dedup records")

	removed, err := u.dedupService.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep expired events: %w", err)
	}

	log.Printf("📋 Completed successfully - swept %d expired dedup records", removed)
	return nil
}

// Drain stops admission of new events and waits for in-flight
// background processing. When the context expires first, remaining
// work is cancelled and the context error returned; terminal outcome
// records still land because they use their own context.
func (u *BridgeUseCase) Drain(ctx context.Context) error {
	u.draining.Store(true)
	log.Printf("🛑 Bridge draining - waiting for %d in-flight events", u.inFlight.Load())

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("✅ Bridge drained - all in-flight events finished")
		return nil
	case <-ctx.Done():
		log.Printf("⚠️ Drain deadline reached with %d events still in flight - cancelling", u.inFlight.Load())
		u.cancelAll()
		return ctx.Err()
	}
}
