package account

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig holds connection settings for the homeserver database.
type PostgresConfig struct {
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// PostgresStore implements Store against a Synapse-compatible schema:
// users, profiles, and user_threepids. Rows created here are
// passwordless; login always goes through the broker.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the homeserver database and verifies the
// connection with a bounded ping.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection, used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Exists reports whether the account row is present.
func (s *PostgresStore) Exists(ctx context.Context, accountID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM users WHERE name = $1", accountID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query users: %w", err)
	}
	return true, nil
}

// Create inserts the account, its profile row, and any verified email
// threepids in one transaction.
func (s *PostgresStore) Create(ctx context.Context, accountID, displayName string, emails []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (name, creation_ts, admin, deactivated) VALUES ($1, $2, 0, 0)",
		accountID, now)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO profiles (user_id, displayname) VALUES ($1, $2)",
		localpartOf(accountID), displayName)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	for _, email := range emails {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO user_threepids (user_id, medium, address, validated_at, added_at) VALUES ($1, 'email', $2, $3, $3)",
			accountID, strings.ToLower(email), now*1000)
		if err != nil {
			return fmt.Errorf("failed to insert threepid: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// SetDisplayName updates the profile row for an existing account.
func (s *PostgresStore) SetDisplayName(ctx context.Context, accountID, displayName string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE profiles SET displayname = $1 WHERE user_id = $2",
		displayName, localpartOf(accountID))
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// Ping checks connectivity, used by health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for health probes.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// localpartOf strips "@" and the server suffix from a full account ID.
// The profiles table keys on the bare localpart.
func localpartOf(accountID string) string {
	trimmed := strings.TrimPrefix(accountID, "@")
	if i := strings.IndexByte(trimmed, ':'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}
