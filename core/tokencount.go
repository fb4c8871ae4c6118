package core

import (
	"strings"
)

// EstimateTokens provides a rough token count when the backend did not
// report usage, e.g. for a stream cut off before the final usage frame
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}

	// Improved estimation algorithm:
	// 1. Split by whitespace to count words
	words := strings.Fields(content)
	wordCount := len(words)

	// 2. Count characters (excluding whitespace for adjustment)
	charCount := len(strings.ReplaceAll(content, " ", ""))

	// 3. Use a hybrid approach:
	// - ~1.3 tokens per word for English text
	// - Adjust based on character density
	tokenEstimate := float64(wordCount) * 1.3

	// 4. For very short texts, use character-based estimation
	if wordCount < 10 {
		tokenEstimate = float64(charCount) / 3.5
	}

	// 5. Add small buffer for punctuation and formatting
	tokenEstimate *= 1.1

	return int(tokenEstimate)
}
