package domain

import "context"

// ProgressFunc receives coarse completion percentages (0-100) from an engine.
type ProgressFunc func(percent int)

// Summarizer is the driven port for the inference engine.
type Summarizer interface {
	Summarize(ctx context.Context, text string, progress ProgressFunc) (string, error)
}

// ItemRepository is the driven port for saved item persistence.
type ItemRepository interface {
	CreateItem(ctx context.Context, item *SavedItem) (*SavedItem, error)
	ListItems(ctx context.Context, userID int64, limit int) ([]SavedItem, error)
}

// UserRepository is the driven port for account persistence.
type UserRepository interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// Notifier delivers lifecycle events to live clients. Delivery is best effort.
type Notifier interface {
	SendToUser(userID int64, ev Event)
	Broadcast(ev Event)
}

// LanguageDetector names the language of a text, or returns "" when unsure.
type LanguageDetector interface {
	Detect(text string) string
}
