package domain

import "time"

// DefaultSnippetLength is the number of characters of original text kept with a summary.
const DefaultSnippetLength = 500

// SavedItem is the durable record of a completed summarization.
type SavedItem struct {
	ID                  int64
	UserID              int64
	URL                 string
	Title               string
	OriginalTextSnippet string
	ExtractedSummary    string
	Language            string
	CreatedAt           time.Time
}

// NewSavedItem builds the record for a finished job.
func NewSavedItem(job Job, summary string, snippetLength int, language string) *SavedItem {
	if snippetLength <= 0 {
		snippetLength = DefaultSnippetLength
	}
	return &SavedItem{
		UserID:              job.UserID,
		URL:                 job.URL,
		Title:               job.DisplayTitle(),
		OriginalTextSnippet: Truncate(job.Text, snippetLength),
		ExtractedSummary:    summary,
		Language:            language,
		CreatedAt:           time.Now().UTC(),
	}
}

// User is an account that owns saved items.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
