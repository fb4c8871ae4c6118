package models

import (
	"gptbridge/core"
)

type CompletionResultKind string

const (
	CompletionResultSuccess CompletionResultKind = "SUCCESS"
	CompletionResultPartial CompletionResultKind = "PARTIAL"
	CompletionResultFailure CompletionResultKind = "FAILURE"
)

// CompletionRequest is a single prompt sent to the completion backend
type CompletionRequest struct {
	Prompt       string `json:"prompt"`
	Model        string `json:"model"`
	MaxTokens    int    `json:"max_tokens"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// CompletionChunk is one increment of streamed response text. Usage is
// non-nil only on the final frame of backends that report it.
type CompletionChunk struct {
	Text  string
	Usage *CompletionUsage
}

// CompletionResult is the terminal outcome of a completion attempt.
// Success carries the full text, Partial whatever accumulated before the
// stream was cut short, Failure a reason and the failure classification.
type CompletionResult struct {
	Kind        CompletionResultKind  `json:"kind"`
	Text        string                `json:"text"`
	Reason      string                `json:"reason,omitempty"`
	FailureKind core.BackendErrorKind `json:"failure_kind,omitempty"`
	Usage       *CompletionUsage      `json:"usage,omitempty"`
	Model       string                `json:"model"`
	Attempts    int                   `json:"attempts"`
}

// HasText reports whether the result carries response text worth
// delivering to the user
func (r *CompletionResult) HasText() bool {
	return r != nil && (r.Kind == CompletionResultSuccess || r.Kind == CompletionResultPartial) && r.Text != ""
}
