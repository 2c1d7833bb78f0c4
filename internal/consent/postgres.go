package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/opsgate/opsgate/internal/capability"
)

// PostgresStore is the durable consent tier backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewPostgresStore creates a durable store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the consent table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS consent_grants (
    user_id    TEXT        NOT NULL,
    category   TEXT        NOT NULL,
    granted    BOOLEAN     NOT NULL,
    granted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, category)
)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating consent schema: %w", err)
	}
	return nil
}

// Get reads one consent row.
func (s *PostgresStore) Get(ctx context.Context, userID string, category capability.CategoryID) (Record, bool, error) {
	query := s.sb.
		Select("user_id", "category", "granted", "granted_at").
		From("consent_grants").
		Where(sq.Eq{"user_id": strings.TrimSpace(userID), "category": string(category)})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return Record{}, false, fmt.Errorf("building consent select: %w", err)
	}

	var record Record
	var rawCategory string
	var grantedAt time.Time
	row := s.db.QueryRowContext(ctx, sqlStr, args...)
	if err := row.Scan(&record.UserID, &rawCategory, &record.Granted, &grantedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("reading consent for %s/%s: %w", userID, category, err)
	}
	record.Category = capability.CategoryID(rawCategory)
	record.GrantedAt = grantedAt.UTC()
	record.Source = SourceDurable
	return record, true, nil
}

// Put upserts one consent row. Revocations update the row in place; rows are
// never deleted.
func (s *PostgresStore) Put(ctx context.Context, record Record) error {
	userID := strings.TrimSpace(record.UserID)
	if userID == "" {
		return fmt.Errorf("consent record user id is required")
	}

	query := s.sb.
		Insert("consent_grants").
		Columns("user_id", "category", "granted", "granted_at").
		Values(userID, string(record.Category), record.Granted, record.GrantedAt.UTC()).
		Suffix("ON CONFLICT (user_id, category) DO UPDATE SET granted = EXCLUDED.granted, granted_at = EXCLUDED.granted_at")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("building consent upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("writing consent for %s/%s: %w", userID, record.Category, err)
	}
	return nil
}

// ListForUser reads all consent rows for a user in category order.
func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]Record, error) {
	query := s.sb.
		Select("user_id", "category", "granted", "granted_at").
		From("consent_grants").
		Where(sq.Eq{"user_id": strings.TrimSpace(userID)}).
		OrderBy("category ASC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building consent list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("listing consent for %s: %w", userID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []Record
	for rows.Next() {
		var record Record
		var rawCategory string
		var grantedAt time.Time
		if err := rows.Scan(&record.UserID, &rawCategory, &record.Granted, &grantedAt); err != nil {
			return nil, fmt.Errorf("scanning consent row: %w", err)
		}
		record.Category = capability.CategoryID(rawCategory)
		record.GrantedAt = grantedAt.UTC()
		record.Source = SourceDurable
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating consent rows: %w", err)
	}
	return records, nil
}
