package regulatory

import (
	"context"
	"time"
)

// SourceStore lists catalog entries and records fetch bookkeeping.
type SourceStore interface {
	ListSources(ctx context.Context) ([]Source, error)
	MarkFetched(ctx context.Context, sourceID string, at time.Time, lastErr string) error
}

// AlertStore persists alerts. InsertAlert reports false when a uniqueness
// constraint rejected the row.
type AlertStore interface {
	FindDuplicate(ctx context.Context, q DuplicateQuery) (bool, error)
	InsertAlert(ctx context.Context, alert Alert) (bool, error)
}

// HealthStore persists data_freshness rows.
type HealthStore interface {
	GetHealth(ctx context.Context, sourceName string) (HealthRecord, bool, error)
	UpsertHealth(ctx context.Context, record HealthRecord) error
	ListHealth(ctx context.Context) ([]HealthRecord, error)
}

// CooldownStore keeps the last run timestamp per source outside the process.
type CooldownStore interface {
	LastRun(ctx context.Context, sourceID string) (time.Time, bool, error)
	MarkRun(ctx context.Context, sourceID string, at time.Time) error
	Reset(ctx context.Context, sourceIDs ...string) error
}

// BlobStore writes raw payload snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes inserted alerts to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Summarizer produces a short summary for an alert draft.
type Summarizer interface {
	Summarize(ctx context.Context, alert Alert) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces alert IDs.
type IDGenerator interface {
	NewID() (string, error)
}
