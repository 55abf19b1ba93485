package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const cooldownPrefix = "cooldown:"

// LastRun reads the cooldown timestamp from pipeline_settings.
func (s *Store) LastRun(ctx context.Context, sourceID string) (time.Time, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM pipeline_settings WHERE key = $1`, cooldownPrefix+sourceID).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read cooldown %q: %w", sourceID, err)
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode cooldown %q: %w", sourceID, err)
	}
	return at.UTC(), true, nil
}

// MarkRun stores the cooldown timestamp.
func (s *Store) MarkRun(ctx context.Context, sourceID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO pipeline_settings (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		cooldownPrefix+sourceID, at.UTC().Format(time.RFC3339Nano), at.UTC())
	if err != nil {
		return fmt.Errorf("mark cooldown %q: %w", sourceID, err)
	}
	return nil
}

// Reset deletes cooldowns for the given sources, or all of them.
func (s *Store) Reset(ctx context.Context, sourceIDs ...string) error {
	var err error
	if len(sourceIDs) == 0 {
		_, err = s.pool.Exec(ctx, `DELETE FROM pipeline_settings WHERE key LIKE $1`, cooldownPrefix+"%")
	} else {
		keys := make([]string, len(sourceIDs))
		for i, id := range sourceIDs {
			keys[i] = cooldownPrefix + id
		}
		_, err = s.pool.Exec(ctx, `DELETE FROM pipeline_settings WHERE key = ANY($1)`, keys)
	}
	if err != nil {
		return fmt.Errorf("reset cooldowns: %w", err)
	}
	return nil
}
