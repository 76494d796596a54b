package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/loschvladislav/ai-service/internal/shared/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Conn exposes the underlying pool for migrations.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// HashKey returns the hex SHA-256 digest of a raw API key. Only the hash
// is ever persisted or compared.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

const apiKeyColumns = `id, name, key_prefix, key_hash, is_active, rate_limit_per_minute, created_at, last_used_at`

func scanAPIKey(row interface{ Scan(...any) error }) (*models.APIKey, error) {
	var key models.APIKey
	err := row.Scan(
		&key.ID,
		&key.Name,
		&key.KeyPrefix,
		&key.KeyHash,
		&key.IsActive,
		&key.RateLimitPerMinute,
		&key.CreatedAt,
		&key.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// CreateAPIKey inserts a new credential and fills in its creation time.
func (db *DB) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (id, name, key_prefix, key_hash, is_active, rate_limit_per_minute)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := db.conn.QueryRowContext(ctx, query,
		key.ID,
		key.Name,
		key.KeyPrefix,
		key.KeyHash,
		key.IsActive,
		key.RateLimitPerMinute,
	).Scan(&key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	return nil
}

// GetAPIKeyByID retrieves a credential by identifier.
func (db *DB) GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	key, err := scanAPIKey(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query api key: %w", err)
	}
	return key, nil
}

// GetAPIKeyByHash retrieves a credential by the hash of its raw key.
// Inactive keys are returned too so callers can distinguish "unknown"
// from "deactivated".
func (db *DB) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`

	key, err := scanAPIKey(db.conn.QueryRowContext(ctx, query, keyHash))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query api key: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns credentials ordered newest first.
func (db *DB) ListAPIKeys(ctx context.Context, skip, limit int, activeOnly bool) ([]models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY created_at DESC OFFSET $1 LIMIT $2`

	rows, err := db.conn.QueryContext(ctx, query, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, *key)
	}
	return keys, rows.Err()
}

// UpdateAPIKey persists the mutable credential fields.
func (db *DB) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	query := `
		UPDATE api_keys
		SET name = $2, is_active = $3, rate_limit_per_minute = $4
		WHERE id = $1
	`

	res, err := db.conn.ExecContext(ctx, query, key.ID, key.Name, key.IsActive, key.RateLimitPerMinute)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey removes a credential. Its usage rows go with it via the
// ON DELETE CASCADE foreign key.
func (db *DB) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKeyLastUsed updates the last_used_at timestamp
func (db *DB) TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}

// RecordUsage appends a usage row and fills in its creation time.
// Callers treat a failure here as a request failure: accounting is part
// of the contract, not an optimization.
func (db *DB) RecordUsage(ctx context.Context, rec *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (id, api_key_id, endpoint, prompt_tokens, completion_tokens, tokens_used)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := db.conn.QueryRowContext(ctx, query,
		rec.ID,
		rec.APIKeyID,
		rec.Endpoint,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TokensUsed,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	return nil
}

// ListUsage returns usage rows for a credential, newest first.
func (db *DB) ListUsage(ctx context.Context, apiKeyID uuid.UUID, skip, limit int, since *time.Time) ([]models.UsageRecord, error) {
	query := `
		SELECT id, api_key_id, endpoint, prompt_tokens, completion_tokens, tokens_used, created_at
		FROM usage_records
		WHERE api_key_id = $1
	`
	args := []any{apiKeyID}

	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}

	args = append(args, skip, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC OFFSET $%d LIMIT $%d`, len(args)-1, len(args))

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	defer rows.Close()

	records := make([]models.UsageRecord, 0)
	for rows.Next() {
		var rec models.UsageRecord
		err := rows.Scan(
			&rec.ID,
			&rec.APIKeyID,
			&rec.Endpoint,
			&rec.PromptTokens,
			&rec.CompletionTokens,
			&rec.TokensUsed,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UsageSummary aggregates usage over the trailing window of days.
// Windows with no rows yield zeros, not an error.
func (db *DB) UsageSummary(ctx context.Context, apiKeyID uuid.UUID, days int) (*models.UsageSummary, error) {
	now := time.Now().UTC()
	periodStart := now.AddDate(0, 0, -days)

	query := `
		SELECT COUNT(id),
		       COALESCE(SUM(tokens_used), 0),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0)
		FROM usage_records
		WHERE api_key_id = $1 AND created_at >= $2
	`

	summary := models.UsageSummary{
		PeriodStart: periodStart,
		PeriodEnd:   now,
	}
	err := db.conn.QueryRowContext(ctx, query, apiKeyID, periodStart).Scan(
		&summary.TotalRequests,
		&summary.TotalTokens,
		&summary.TotalPromptTokens,
		&summary.TotalCompletionTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}

	return &summary, nil
}

// ExplainAnalyze runs EXPLAIN ANALYZE on a query and returns the plan lines.
func (db *DB) ExplainAnalyze(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "EXPLAIN ANALYZE "+query, args...)
	if err != nil {
		return nil, fmt.Errorf("explain analyze: %w", err)
	}
	defer rows.Close()

	var plan []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan plan line: %w", err)
		}
		plan = append(plan, line)
	}
	return plan, rows.Err()
}
