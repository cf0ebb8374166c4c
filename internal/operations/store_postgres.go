package operations

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sitehazard/internal/config"
	apperrors "sitehazard/internal/errors"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// PostgresRunStore archives runs in Postgres. The full run is kept as a
// JSONB document; status, site and creation time are columns for filtering.
type PostgresRunStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRunStore creates a connection pool and fails fast if the
// database is unreachable.
func NewPostgresRunStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresRunStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid database url", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to create database pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.NewStorageError("database unreachable", err)
	}

	return &PostgresRunStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresRunStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return apperrors.NewStorageError("failed to apply schema", err)
	}
	return nil
}

// Ping is used by the health endpoint
func (p *PostgresRunStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool
func (p *PostgresRunStore) Close() {
	p.pool.Close()
}

// CreateRun inserts a new run
func (p *PostgresRunStore) CreateRun(ctx context.Context, run *Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return apperrors.NewStorageError("failed to encode run", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO convolution_runs (id, status, site_id, created_at, document)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, string(run.Status), run.SiteID, run.CreatedAt, doc)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperrors.NewAppValidationError(fmt.Sprintf("run %s already exists", run.ID))
	}
	if err != nil {
		return apperrors.NewStorageError("failed to insert run", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (p *PostgresRunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT document FROM convolution_runs WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("failed to load run", err)
	}
	return decodeRun(doc)
}

// UpdateRun replaces the stored document of an existing run
func (p *PostgresRunStore) UpdateRun(ctx context.Context, run *Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return apperrors.NewStorageError("failed to encode run", err)
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE convolution_runs
		SET status = $2, document = $3, updated_at = now()
		WHERE id = $1
	`, run.ID, string(run.Status), doc)
	if err != nil {
		return apperrors.NewStorageError("failed to update run", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("run " + run.ID)
	}
	return nil
}

// ListRuns returns matching runs, newest first
func (p *PostgresRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query, args := buildListQuery(filter)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list runs", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, apperrors.NewStorageError("failed to scan run", err)
		}
		run, err := decodeRun(doc)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("failed to list runs", err)
	}
	return runs, nil
}

// DeleteRun removes a run
func (p *PostgresRunStore) DeleteRun(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM convolution_runs WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewStorageError("failed to delete run", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("run " + id)
	}
	return nil
}

// CleanupOldRuns deletes terminal runs created before now-olderThan
func (p *PostgresRunStore) CleanupOldRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM convolution_runs
		WHERE status = ANY($1) AND created_at < $2
	`, []string{string(RunStatusCompleted), string(RunStatusFailed), string(RunStatusCancelled)},
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, apperrors.NewStorageError("failed to clean up runs", err)
	}
	return int(tag.RowsAffected()), nil
}

// buildListQuery renders the filter as a parameterised SELECT
func buildListQuery(filter RunFilter) (string, []interface{}) {
	var where []string
	var args []interface{}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SiteID != nil {
		args = append(args, *filter.SiteID)
		where = append(where, fmt.Sprintf("site_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT document FROM convolution_runs")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func decodeRun(doc []byte) (*Run, error) {
	var run Run
	if err := json.Unmarshal(doc, &run); err != nil {
		return nil, apperrors.NewStorageError("failed to decode run", err)
	}
	return &run, nil
}
