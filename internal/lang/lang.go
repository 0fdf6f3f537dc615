// Package lang tags summaries with the language of the page they came from.
package lang

import (
	"fmt"
	"strings"

	"github.com/pemistahl/lingua-go"

	"github.com/cwygoda/skim/internal/domain"
)

// Detector names languages with ISO 639-1 codes ("en", "de").
type Detector struct {
	detector lingua.LanguageDetector
}

var _ domain.LanguageDetector = (*Detector)(nil)

// New builds a detector restricted to the named languages ("english",
// "german", ...). At least two known languages are required.
func New(names []string) (*Detector, error) {
	langs, err := parseLanguages(names)
	if err != nil {
		return nil, err
	}
	if len(langs) < 2 {
		return nil, fmt.Errorf("language detection needs at least two languages, got %d", len(langs))
	}

	d := lingua.NewLanguageDetectorBuilder().
		FromLanguages(langs...).
		WithMinimumRelativeDistance(0.1).
		Build()
	return &Detector{detector: d}, nil
}

// Detect returns the language code of text, or "" when no language is
// reliably detected.
func (d *Detector) Detect(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	l, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(l.IsoCode639_1().String())
}

func parseLanguages(names []string) ([]lingua.Language, error) {
	byName := make(map[string]lingua.Language)
	for _, l := range lingua.AllLanguages() {
		byName[strings.ToLower(l.String())] = l
	}

	seen := make(map[lingua.Language]bool)
	var out []lingua.Language
	for _, name := range names {
		l, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown language %q", name)
		}
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out, nil
}
