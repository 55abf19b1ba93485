package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

// ListSources loads the catalog. Connector settings live in the config
// column; bookkeeping columns overlay them.
func (s *Store) ListSources(ctx context.Context) ([]regulatory.Source, error) {
	rows, err := s.pool.Query(ctx, `
SELECT config, is_active, last_successful_fetch, last_error
FROM regulatory_data_sources
ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []regulatory.Source
	for rows.Next() {
		var (
			raw         []byte
			active      bool
			lastSuccess *time.Time
			lastErr     *string
		)
		if err := rows.Scan(&raw, &active, &lastSuccess, &lastErr); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		var src regulatory.Source
		if err := json.Unmarshal(raw, &src); err != nil {
			return nil, fmt.Errorf("decode source config: %w", err)
		}
		src.Active = active
		src.LastSuccessfulFetch = lastSuccess
		if lastErr != nil {
			src.LastError = *lastErr
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// UpsertSource inserts or updates a catalog row without touching fetch
// bookkeeping.
func (s *Store) UpsertSource(ctx context.Context, src regulatory.Source) error {
	src.LastSuccessfulFetch = nil
	src.LastError = ""
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshal source %q: %w", src.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO regulatory_data_sources (
	id, name, agency, region, source_type, base_url, rss_feeds,
	polling_interval_minutes, priority, keywords, is_active, config, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	agency = EXCLUDED.agency,
	region = EXCLUDED.region,
	source_type = EXCLUDED.source_type,
	base_url = EXCLUDED.base_url,
	rss_feeds = EXCLUDED.rss_feeds,
	polling_interval_minutes = EXCLUDED.polling_interval_minutes,
	priority = EXCLUDED.priority,
	keywords = EXCLUDED.keywords,
	is_active = EXCLUDED.is_active,
	config = EXCLUDED.config,
	updated_at = now()`,
		src.ID,
		src.Name,
		src.Agency,
		src.Region,
		string(src.Type),
		nullable(src.BaseURL),
		feedURLs(src),
		src.PollIntervalMinutes,
		src.Priority,
		nonNil(src.Keywords),
		src.Active,
		raw,
	)
	if err != nil {
		return fmt.Errorf("upsert source %q: %w", src.ID, err)
	}
	return nil
}

// MarkFetched records the last attempt. A non-empty lastErr keeps the
// previous last_successful_fetch.
func (s *Store) MarkFetched(ctx context.Context, sourceID string, at time.Time, lastErr string) error {
	var err error
	if lastErr == "" {
		_, err = s.pool.Exec(ctx,
			`UPDATE regulatory_data_sources SET last_successful_fetch = $1, last_error = NULL WHERE id = $2`, at, sourceID)
	} else {
		_, err = s.pool.Exec(ctx,
			`UPDATE regulatory_data_sources SET last_error = $1 WHERE id = $2`, lastErr, sourceID)
	}
	if err != nil {
		return fmt.Errorf("mark fetched %q: %w", sourceID, err)
	}
	return nil
}

// feedURLs lists the RSS URLs a source reads, either as its endpoints or as
// fallbacks.
func feedURLs(src regulatory.Source) []string {
	out := []string{}
	for _, ep := range src.Endpoints {
		switch {
		case src.Type == regulatory.SourceTypeRSS:
			out = append(out, ep.URL)
		case ep.FallbackURL != "":
			out = append(out, ep.FallbackURL)
		}
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
