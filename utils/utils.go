package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

func AssertInvariant(condition bool, message string) {
	if !condition {
		panic("invariant violated - " + message)
	}
}

func ConvertMarkdownToSlack(message string) string {
	result := message

	// Step 1: Convert markdown links [text](url) to Slack format <url|text>
	// This must be done first to avoid conflicts with other formatting
	linkRegex := regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	result = linkRegex.ReplaceAllString(result, "<$2|$1>")

	// Step 2: Handle headings with embedded bold markdown by extracting and converting the content first
	headingRegex := regexp.MustCompile(`(?m)^#+\s*(.+)$`)
	result = headingRegex.ReplaceAllStringFunc(result, func(match string) string {
		// Extract the heading content after the hashtags
		content := regexp.MustCompile(`^#+\s*(.+)$`).ReplaceAllString(match, "$1")
		// Convert any **bold** to *bold* within the heading content
		boldRegex := regexp.MustCompile(`\*\*(.+?)\*\*`)
		content = boldRegex.ReplaceAllString(content, "$1")
		// Return as Slack bold format
		return "*" + content + "*"
	})

	// Step 3: Convert remaining **text** (double asterisks) to *text* (single asterisks)
	// This handles bold text that's not inside headings
	boldRegex := regexp.MustCompile(`\*\*(.+?)\*\*`)
	result = boldRegex.ReplaceAllString(result, "*$1*")

	return result
}

// TruncateMessage cuts text to fit a platform message length limit,
// appending a truncation marker when content was dropped. Discord caps
// messages at 2000 characters and rejects anything longer outright.
func TruncateMessage(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}

	const marker = "…"
	cut := limit - len(marker)
	if cut <= 0 {
		return marker
	}

	// Back up so we never split a multi-byte rune at the cut point
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}

	return text[:cut] + marker
}

// StripMention removes a leading bot mention like <@U123ABC> from a
// message so only the actual prompt text remains
func StripMention(text, botUserID string) string {
	if botUserID == "" {
		return strings.TrimSpace(text)
	}

	mention := "<@" + botUserID + ">"
	result := strings.ReplaceAll(text, mention, "")
	return strings.TrimSpace(result)
}
