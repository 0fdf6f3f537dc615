package llm

import (
	"fmt"
	"strings"

	"github.com/cwygoda/skim/internal/domain"
)

const promptTemplate = "Summarize the following content in 2-3 key sentences. Content:\n\n%s\n\nSummary:"

// BuildPrompt wraps text in the summarization instruction, truncating the
// text to maxChars runes so the prompt fits the model's context window.
func BuildPrompt(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars > 0 {
		text = domain.Truncate(text, maxChars)
	}
	return fmt.Sprintf(promptTemplate, text)
}
