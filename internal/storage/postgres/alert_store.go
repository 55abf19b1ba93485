package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

// AlertStore writes alerts into one table. The pipeline uses a second
// instance over the scratch table for test runs.
type AlertStore struct {
	pool  Pool
	table string
}

// NewAlertStore binds an AlertStore to table (default "alerts").
func NewAlertStore(pool Pool, table string) (*AlertStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "alerts")
	if err != nil {
		return nil, err
	}
	return &AlertStore{pool: pool, table: table}, nil
}

// Table reports the bound table name.
func (s *AlertStore) Table() string { return s.table }

// FindDuplicate matches on (title, source) within the window around the
// reference time, or on external_url within the URL window when one is set.
func (s *AlertStore) FindDuplicate(ctx context.Context, q regulatory.DuplicateQuery) (bool, error) {
	query := fmt.Sprintf(`
SELECT EXISTS (
	SELECT 1 FROM %s
	WHERE (title = $1 AND source = $2
		AND (published_date BETWEEN $3 AND $4 OR created_at BETWEEN $3 AND $4))
	   OR ($5 <> '' AND external_url = $5
		AND (published_date BETWEEN $6 AND $7 OR created_at BETWEEN $6 AND $7))
)`, s.table)

	ref := q.Reference
	var exists bool
	err := s.pool.QueryRow(ctx, query,
		q.Title,
		q.Source,
		ref.Add(-q.Window),
		ref.Add(q.Window),
		q.ExternalURL,
		ref.Add(-q.URLWindow),
		ref.Add(q.URLWindow),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("find duplicate in %s: %w", s.table, err)
	}
	return exists, nil
}

// InsertAlert inserts the row and reports false when the unique
// (source, title, published_date) index rejected it.
func (s *AlertStore) InsertAlert(ctx context.Context, alert regulatory.Alert) (bool, error) {
	if alert.ID == "" {
		return false, fmt.Errorf("alert id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	title,
	source,
	agency,
	region,
	urgency,
	urgency_score,
	signal_type,
	summary,
	published_date,
	external_url,
	full_content,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (source, title, published_date) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		alert.ID,
		alert.Title,
		alert.Source,
		alert.Agency,
		alert.Region,
		string(alert.Urgency),
		alert.UrgencyScore,
		string(alert.SignalType),
		alert.Summary,
		alert.PublishedDate,
		nullable(alert.ExternalURL),
		nullable(alert.FullContent),
		alert.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert alert into %s: %w", s.table, err)
	}
	return tag.RowsAffected() > 0, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
