package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/regalert/internal/dedup"
	"github.com/JakeFAU/regalert/internal/regulatory"
)

type alertKey struct {
	source    string
	title     string
	published int64
}

// AlertStore keeps alerts in memory for development and tests.
type AlertStore struct {
	mu     sync.RWMutex
	alerts []regulatory.Alert
	keys   map[alertKey]struct{}
}

// NewAlertStore constructs an AlertStore.
func NewAlertStore() *AlertStore {
	return &AlertStore{keys: make(map[alertKey]struct{})}
}

// FindDuplicate applies the shared duplicate rule to every stored alert.
func (s *AlertStore) FindDuplicate(_ context.Context, q regulatory.DuplicateQuery) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if dedup.Matches(q, a) {
			return true, nil
		}
	}
	return false, nil
}

// InsertAlert stores the alert unless (source, title, published_date) exists.
func (s *AlertStore) InsertAlert(_ context.Context, alert regulatory.Alert) (bool, error) {
	key := alertKey{source: alert.Source, title: alert.Title, published: alert.PublishedDate.UnixNano()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key]; exists {
		return false, nil
	}
	s.keys[key] = struct{}{}
	s.alerts = append(s.alerts, alert)
	return true, nil
}

// Alerts returns a copy of stored alerts, newest published first.
func (s *AlertStore) Alerts() []regulatory.Alert {
	s.mu.RLock()
	out := append([]regulatory.Alert(nil), s.alerts...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedDate.After(out[j].PublishedDate) })
	return out
}

// HealthStore keeps data_freshness rows in memory.
type HealthStore struct {
	mu   sync.RWMutex
	rows map[string]regulatory.HealthRecord
}

// NewHealthStore constructs a HealthStore.
func NewHealthStore() *HealthStore {
	return &HealthStore{rows: make(map[string]regulatory.HealthRecord)}
}

// GetHealth returns the row for a source.
func (s *HealthStore) GetHealth(_ context.Context, sourceName string) (regulatory.HealthRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[sourceName]
	return rec, ok, nil
}

// UpsertHealth replaces the row for record.SourceName.
func (s *HealthStore) UpsertHealth(_ context.Context, record regulatory.HealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[record.SourceName] = record
	return nil
}

// ListHealth returns rows sorted by source name.
func (s *HealthStore) ListHealth(_ context.Context) ([]regulatory.HealthRecord, error) {
	s.mu.RLock()
	out := make([]regulatory.HealthRecord, 0, len(s.rows))
	for _, rec := range s.rows {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SourceName < out[j].SourceName })
	return out, nil
}

// SourceStore serves a fixed catalog and records fetch bookkeeping.
type SourceStore struct {
	mu      sync.RWMutex
	sources []regulatory.Source
}

// NewSourceStore constructs a SourceStore over sources.
func NewSourceStore(sources []regulatory.Source) *SourceStore {
	return &SourceStore{sources: append([]regulatory.Source(nil), sources...)}
}

// ListSources returns a copy of the catalog.
func (s *SourceStore) ListSources(_ context.Context) ([]regulatory.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]regulatory.Source(nil), s.sources...), nil
}

// MarkFetched records the last attempt outcome for a source. A non-empty
// lastErr leaves the last successful fetch untouched.
func (s *SourceStore) MarkFetched(_ context.Context, sourceID string, at time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sources {
		if s.sources[i].ID != sourceID {
			continue
		}
		s.sources[i].LastError = lastErr
		if lastErr == "" {
			ts := at
			s.sources[i].LastSuccessfulFetch = &ts
		}
	}
	return nil
}

// CooldownStore keeps last-run timestamps in memory.
type CooldownStore struct {
	mu   sync.RWMutex
	runs map[string]time.Time
}

// NewCooldownStore constructs a CooldownStore.
func NewCooldownStore() *CooldownStore {
	return &CooldownStore{runs: make(map[string]time.Time)}
}

// LastRun returns the last recorded run for a source.
func (s *CooldownStore) LastRun(_ context.Context, sourceID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.runs[sourceID]
	return at, ok, nil
}

// MarkRun records a run.
func (s *CooldownStore) MarkRun(_ context.Context, sourceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[sourceID] = at
	return nil
}

// Reset clears the given sources, or every source when none are named.
func (s *CooldownStore) Reset(_ context.Context, sourceIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(sourceIDs) == 0 {
		s.runs = make(map[string]time.Time)
		return nil
	}
	for _, id := range sourceIDs {
		delete(s.runs, id)
	}
	return nil
}
