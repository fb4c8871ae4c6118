package usage

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gptbridge/models"
)

// Backend API pricing per 1K tokens (approximate as of mid 2025)
const (
	GPT4oMiniInputCostPer1K     = 0.00015 // $0.15 per 1M tokens
	GPT4oMiniOutputCostPer1K    = 0.0006  // $0.60 per 1M tokens
	GPT4oInputCostPer1K         = 0.0025  // $2.50 per 1M tokens
	GPT4oOutputCostPer1K        = 0.01    // $10.00 per 1M tokens
	ClaudeHaikuInputCostPer1K   = 0.0008  // $0.80 per 1M tokens
	ClaudeHaikuOutputCostPer1K  = 0.004   // $4.00 per 1M tokens
	ClaudeSonnetInputCostPer1K  = 0.003   // $3.00 per 1M tokens
	ClaudeSonnetOutputCostPer1K = 0.015   // $15.00 per 1M tokens
	ClaudeOpusInputCostPer1K    = 0.015   // $15.00 per 1M tokens
	ClaudeOpusOutputCostPer1K   = 0.075   // $75.00 per 1M tokens
	DefaultInputCostPer1K       = 0.003   // fallback for unknown models
	DefaultOutputCostPer1K      = 0.015
)

// UsageServiceImpl accumulates per-model token counts and cost estimates
// in process memory since startup
type UsageServiceImpl struct {
	mu       sync.Mutex
	since    time.Time
	perModel map[string]*models.ModelUsage
}

func NewUsageService() *UsageServiceImpl {
	return &UsageServiceImpl{
		since:    time.Now(),
		perModel: make(map[string]*models.ModelUsage),
	}
}

func (s *UsageServiceImpl) RecordUsage(ctx context.Context, model string, usage *models.CompletionUsage) error {
	log.Printf("📋 Starting to record usage for model %s: input=%d, output=%d tokens",
		model, usage.PromptTokens, usage.CompletionTokens)

	if model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if usage == nil {
		return fmt.Errorf("usage cannot be nil")
	}
	if usage.PromptTokens < 0 || usage.CompletionTokens < 0 {
		return fmt.Errorf("token counts cannot be negative")
	}

	estimatedCost := EstimateCost(model, usage.PromptTokens, usage.CompletionTokens)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.perModel[model]
	if !ok {
		entry = &models.ModelUsage{Model: model}
		s.perModel[model] = entry
	}
	entry.Completions++
	entry.PromptTokens += int64(usage.PromptTokens)
	entry.CompletionTokens += int64(usage.CompletionTokens)
	entry.EstimatedCostUSD = entry.EstimatedCostUSD.Add(estimatedCost)

	log.Printf("📋 Completed successfully - recorded usage for model %s, cost: $%s", model, estimatedCost.String())
	return nil
}

func (s *UsageServiceImpl) GetUsageTotals(ctx context.Context) (*models.UsageTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := &models.UsageTotals{
		Since:    s.since,
		PerModel: make([]models.ModelUsage, 0, len(s.perModel)),
	}

	for _, entry := range s.perModel {
		totals.Completions += entry.Completions
		totals.PromptTokens += entry.PromptTokens
		totals.CompletionTokens += entry.CompletionTokens
		totals.EstimatedCostUSD = totals.EstimatedCostUSD.Add(entry.EstimatedCostUSD)
		totals.PerModel = append(totals.PerModel, *entry)
	}

	sort.Slice(totals.PerModel, func(i, j int) bool {
		return totals.PerModel[i].Model < totals.PerModel[j].Model
	})

	return totals, nil
}

// EstimateCost prices a completion by model family. Model names are
// matched by substring so versioned identifiers like
// claude-sonnet-4-20250514 hit the right tier.
func EstimateCost(model string, promptTokens, completionTokens int) decimal.Decimal {
	inputPer1K, outputPer1K := pricingForModel(model)

	inputCost := decimal.NewFromFloat(float64(promptTokens) * inputPer1K / 1000)
	outputCost := decimal.NewFromFloat(float64(completionTokens) * outputPer1K / 1000)
	return inputCost.Add(outputCost)
}

func pricingForModel(model string) (float64, float64) {
	name := strings.ToLower(model)
	switch {
	case strings.Contains(name, "gpt-4o-mini"):
		return GPT4oMiniInputCostPer1K, GPT4oMiniOutputCostPer1K
	case strings.Contains(name, "gpt-4o"):
		return GPT4oInputCostPer1K, GPT4oOutputCostPer1K
	case strings.Contains(name, "haiku"):
		return ClaudeHaikuInputCostPer1K, ClaudeHaikuOutputCostPer1K
	case strings.Contains(name, "sonnet"):
		return ClaudeSonnetInputCostPer1K, ClaudeSonnetOutputCostPer1K
	case strings.Contains(name, "opus"):
		return ClaudeOpusInputCostPer1K, ClaudeOpusOutputCostPer1K
	default:
		return DefaultInputCostPer1K, DefaultOutputCostPer1K
	}
}
