package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

// Store persists the catalog, data_freshness rows and cooldown settings.
type Store struct {
	pool Pool
}

// NewStore wraps an existing pool.
func NewStore(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const healthColumns = `source_name, last_attempt, last_successful_fetch, fetch_status,
	records_fetched, consecutive_failures, state, last_error`

// GetHealth returns the freshness row for a source.
func (s *Store) GetHealth(ctx context.Context, sourceName string) (regulatory.HealthRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+healthColumns+` FROM data_freshness WHERE source_name = $1`, sourceName)
	rec, err := scanHealth(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return regulatory.HealthRecord{}, false, nil
		}
		return regulatory.HealthRecord{}, false, fmt.Errorf("get health %q: %w", sourceName, err)
	}
	return rec, true, nil
}

// UpsertHealth writes the row for record.SourceName.
func (s *Store) UpsertHealth(ctx context.Context, record regulatory.HealthRecord) error {
	query := `
INSERT INTO data_freshness (` + healthColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (source_name) DO UPDATE SET
	last_attempt = EXCLUDED.last_attempt,
	last_successful_fetch = EXCLUDED.last_successful_fetch,
	fetch_status = EXCLUDED.fetch_status,
	records_fetched = EXCLUDED.records_fetched,
	consecutive_failures = EXCLUDED.consecutive_failures,
	state = EXCLUDED.state,
	last_error = EXCLUDED.last_error`
	_, err := s.pool.Exec(ctx, query,
		record.SourceName,
		record.LastAttempt,
		record.LastSuccessfulFetch,
		string(record.FetchStatus),
		record.RecordsFetched,
		record.ConsecutiveFailures,
		string(record.State),
		nullable(record.LastError),
	)
	if err != nil {
		return fmt.Errorf("upsert health %q: %w", record.SourceName, err)
	}
	return nil
}

// ListHealth returns every freshness row ordered by source name.
func (s *Store) ListHealth(ctx context.Context) ([]regulatory.HealthRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+healthColumns+` FROM data_freshness ORDER BY source_name`)
	if err != nil {
		return nil, fmt.Errorf("list health: %w", err)
	}
	defer rows.Close()

	var out []regulatory.HealthRecord
	for rows.Next() {
		rec, err := scanHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("scan health: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate health: %w", err)
	}
	return out, nil
}

func scanHealth(row pgx.Row) (regulatory.HealthRecord, error) {
	var (
		rec         regulatory.HealthRecord
		lastSuccess *time.Time
		status      string
		state       string
		lastErr     *string
	)
	if err := row.Scan(
		&rec.SourceName,
		&rec.LastAttempt,
		&lastSuccess,
		&status,
		&rec.RecordsFetched,
		&rec.ConsecutiveFailures,
		&state,
		&lastErr,
	); err != nil {
		return regulatory.HealthRecord{}, err
	}
	rec.LastSuccessfulFetch = lastSuccess
	rec.FetchStatus = regulatory.FetchStatus(status)
	rec.State = regulatory.HealthState(state)
	if lastErr != nil {
		rec.LastError = *lastErr
	}
	return rec, nil
}
