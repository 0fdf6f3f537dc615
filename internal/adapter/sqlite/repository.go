package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cwygoda/skim/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS saved_items (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id               INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    url                   TEXT NOT NULL,
    title                 TEXT NOT NULL DEFAULT '',
    original_text_snippet TEXT NOT NULL DEFAULT '',
    extracted_summary     TEXT NOT NULL,
    language              TEXT NOT NULL DEFAULT '',
    created_at            DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_saved_items_user ON saved_items(user_id, created_at);
`

const pragmas = "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

var itemColumns = []string{
	"id", "user_id", "url", "title", "original_text_snippet",
	"extracted_summary", "language", "created_at",
}

// Repository implements domain.ItemRepository and domain.UserRepository using SQLite.
type Repository struct {
	db *sql.DB
}

var (
	_ domain.ItemRepository = (*Repository)(nil)
	_ domain.UserRepository = (*Repository)(nil)
)

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+pragmas)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateItem stores a new saved item and returns it with its id.
func (r *Repository) CreateItem(ctx context.Context, item *domain.SavedItem) (*domain.SavedItem, error) {
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query, args, err := sq.Insert("saved_items").
		Columns("user_id", "url", "title", "original_text_snippet", "extracted_summary", "language", "created_at").
		Values(item.UserID, item.URL, item.Title, item.OriginalTextSnippet, item.ExtractedSummary, item.Language, createdAt).
		ToSql()
	if err != nil {
		return nil, err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	saved := *item
	saved.ID = id
	saved.CreatedAt = createdAt
	return &saved, nil
}

// ListItems returns the user's items, newest first. limit <= 0 returns all.
func (r *Repository) ListItems(ctx context.Context, userID int64, limit int) ([]domain.SavedItem, error) {
	b := sq.Select(itemColumns...).
		From("saved_items").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := []domain.SavedItem{}
	for rows.Next() {
		var it domain.SavedItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.URL, &it.Title, &it.OriginalTextSnippet,
			&it.ExtractedSummary, &it.Language, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CreateUser inserts an account. A taken username yields domain.ErrUserExists.
func (r *Repository) CreateUser(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	now := time.Now().UTC()
	query, args, err := sq.Insert("users").
		Columns("username", "password_hash", "created_at").
		Values(username, passwordHash, now).
		ToSql()
	if err != nil {
		return nil, err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &domain.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// GetUserByUsername looks up an account by name.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query, args, err := sq.Select("id", "username", "password_hash", "created_at").
		From("users").
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var u domain.User
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all accounts ordered by name.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	query, args, err := sq.Select("id", "username", "created_at").
		From("users").
		OrderBy("username").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
