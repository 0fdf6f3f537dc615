package llm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cwygoda/skim/internal/config"
	"github.com/cwygoda/skim/internal/domain"
)

// OutputParser recovers the generated completion from an engine's stdout.
type OutputParser interface {
	Parse(prompt, output string) (string, error)
}

// CleanParser expects stdout to carry only the completion, as llama-cli does
// with --no-display-prompt.
type CleanParser struct{}

func (CleanParser) Parse(_, output string) (string, error) {
	summary := cleanCompletion(output)
	if summary == "" {
		return "", fmt.Errorf("%w: engine produced no output", domain.ErrInference)
	}
	return summary, nil
}

// EchoParser handles engines that echo the prompt before the completion.
// Output without a recognizable echo is rejected.
type EchoParser struct{}

func (EchoParser) Parse(prompt, output string) (string, error) {
	rest, ok := afterEcho(prompt, output)
	if !ok {
		return "", fmt.Errorf("%w: prompt echo not found in engine output", domain.ErrInference)
	}
	summary := cleanCompletion(rest)
	if summary == "" {
		return "", fmt.Errorf("%w: engine produced no completion", domain.ErrInference)
	}
	return summary, nil
}

func afterEcho(prompt, output string) (string, bool) {
	if prompt != "" {
		if i := strings.Index(output, prompt); i >= 0 {
			return output[i+len(prompt):], true
		}
	}
	// Some engines reflow the echoed prompt; fall back to the final cue.
	if i := strings.LastIndex(output, "Summary:"); i >= 0 {
		return output[i+len("Summary:"):], true
	}
	return "", false
}

// NewParser returns the parser registered under name.
func NewParser(name string) (OutputParser, error) {
	switch name {
	case "", config.OutputClean:
		return CleanParser{}, nil
	case config.OutputEcho:
		return EchoParser{}, nil
	}
	return nil, fmt.Errorf("unknown output parser %q", name)
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

var controlTokens = []string{
	"[end of text]",
	"<|endoftext|>",
	"<|eot_id|>",
	"<|im_end|>",
	"<|im_start|>assistant",
	"<|assistant|>",
	"<|end|>",
	"</s>",
	"<s>",
}

func cleanCompletion(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	for _, tok := range controlTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	return strings.TrimSpace(s)
}
