package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CompletionUsage is the token accounting for one completion. Estimated
// marks counts derived heuristically because the backend never reported
// usage, e.g. a stream that was cut off before its usage frame.
type CompletionUsage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	Estimated        bool `json:"estimated"`
}

// ModelUsage accumulates token counts and cost for a single model
type ModelUsage struct {
	Model            string          `json:"model"`
	Completions      int64           `json:"completions"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	EstimatedCostUSD decimal.Decimal `json:"estimated_cost_usd"`
}

// UsageTotals is a point-in-time snapshot of accumulated usage across
// all models since process start
type UsageTotals struct {
	Since            time.Time       `json:"since"`
	Completions      int64           `json:"completions"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	EstimatedCostUSD decimal.Decimal `json:"estimated_cost_usd"`
	PerModel         []ModelUsage    `json:"per_model"`
}
