// Package health tracks per-source freshness across runs and emits a notice
// whenever a source changes state.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regalert/internal/alerting"
	"github.com/JakeFAU/regalert/internal/metrics"
	"github.com/JakeFAU/regalert/internal/regulatory"
)

// Notifier delivers state-change notices.
type Notifier interface {
	Notify(ctx context.Context, n alerting.Notice) error
}

// Thresholds are consecutive-failure counts that move a source into a state.
type Thresholds struct {
	DegradedAfter  int
	UnhealthyAfter int
}

// Result is what one run observed for a source.
type Result struct {
	Status         regulatory.FetchStatus
	RecordsFetched int
	Err            string
}

// Failed reports whether the result counts toward the breaker.
func (r Result) Failed() bool {
	return r.Status == regulatory.FetchStatusFailed || r.Status == regulatory.FetchStatusParseError
}

// Tracker upserts data_freshness rows and emits transition notices.
type Tracker struct {
	store      regulatory.HealthStore
	notifier   Notifier
	thresholds Thresholds
	clock      regulatory.Clock
	logger     *zap.Logger

	mu sync.Mutex
	// staleSeen holds the last successful fetch already reported as stale,
	// so one stale episode yields one notice.
	staleSeen map[string]time.Time
}

// NewTracker builds a Tracker. Zero thresholds default to 1 and 3.
func NewTracker(store regulatory.HealthStore, notifier Notifier, th Thresholds, clock regulatory.Clock, logger *zap.Logger) *Tracker {
	if th.DegradedAfter <= 0 {
		th.DegradedAfter = 1
	}
	if th.UnhealthyAfter < th.DegradedAfter {
		th.UnhealthyAfter = max(3, th.DegradedAfter)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:      store,
		notifier:   notifier,
		thresholds: th,
		clock:      clock,
		logger:     logger,
		staleSeen:  make(map[string]time.Time),
	}
}

// State maps consecutive failures to a health state.
func (t *Tracker) State(consecutive int) regulatory.HealthState {
	switch {
	case consecutive >= t.thresholds.UnhealthyAfter:
		return regulatory.HealthUnhealthy
	case consecutive >= t.thresholds.DegradedAfter:
		return regulatory.HealthDegraded
	default:
		return regulatory.HealthHealthy
	}
}

// Record folds one run into the source's freshness row.
func (t *Tracker) Record(ctx context.Context, src regulatory.Source, res Result) (regulatory.HealthRecord, error) {
	prev, found, err := t.store.GetHealth(ctx, src.Name)
	if err != nil {
		return regulatory.HealthRecord{}, fmt.Errorf("load health for %s: %w", src.Name, err)
	}
	if !found {
		prev = regulatory.HealthRecord{State: regulatory.HealthHealthy}
	}
	if prev.State == "" {
		prev.State = regulatory.HealthHealthy
	}

	now := t.clock.Now()
	rec := regulatory.HealthRecord{
		SourceName:          src.Name,
		LastAttempt:         now,
		LastSuccessfulFetch: prev.LastSuccessfulFetch,
		FetchStatus:         res.Status,
		RecordsFetched:      res.RecordsFetched,
		LastError:           res.Err,
	}
	if res.Failed() {
		rec.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	} else {
		ts := now
		rec.LastSuccessfulFetch = &ts
	}
	rec.State = t.State(rec.ConsecutiveFailures)

	if err := t.store.UpsertHealth(ctx, rec); err != nil {
		return rec, fmt.Errorf("upsert health for %s: %w", src.Name, err)
	}
	metrics.SetHealthState(src.Name, level(rec.State))

	if rec.State != prev.State {
		t.announce(ctx, src, prev.State, rec)
	}
	return rec, nil
}

func (t *Tracker) announce(ctx context.Context, src regulatory.Source, from regulatory.HealthState, rec regulatory.HealthRecord) {
	notice := alerting.Notice{
		Source:    src.Name,
		Timestamp: rec.LastAttempt,
		Fields: map[string]string{
			"agency":               src.Agency,
			"region":               src.Region,
			"from":                 string(from),
			"to":                   string(rec.State),
			"fetch_status":         string(rec.FetchStatus),
			"consecutive_failures": fmt.Sprint(rec.ConsecutiveFailures),
		},
	}
	if rec.LastError != "" {
		notice.Fields["last_error"] = rec.LastError
	}
	switch rec.State {
	case regulatory.HealthUnhealthy:
		notice.Severity = alerting.SeverityCritical
		notice.Title = src.Name + " is unhealthy"
		notice.Message = fmt.Sprintf("%d consecutive failed runs", rec.ConsecutiveFailures)
	case regulatory.HealthDegraded:
		notice.Severity = alerting.SeverityWarning
		notice.Title = src.Name + " is degraded"
		notice.Message = fmt.Sprintf("%d consecutive failed runs", rec.ConsecutiveFailures)
	default:
		notice.Severity = alerting.SeverityInfo
		notice.Title = src.Name + " recovered"
		notice.Message = "source fetched successfully after failures"
	}
	t.logger.Info("source health changed",
		zap.String("source", src.Name),
		zap.String("from", string(from)),
		zap.String("to", string(rec.State)))
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, notice); err != nil {
		t.logger.Warn("health notice not delivered", zap.String("source", src.Name), zap.Error(err))
	}
}

func level(s regulatory.HealthState) int {
	switch s {
	case regulatory.HealthUnhealthy:
		return 2
	case regulatory.HealthDegraded:
		return 1
	default:
		return 0
	}
}

// Stale reports whether a source has gone longer than maxAge without a
// successful fetch.
func Stale(rec regulatory.HealthRecord, now time.Time, maxAge time.Duration) bool {
	if rec.LastSuccessfulFetch == nil {
		return true
	}
	return now.Sub(*rec.LastSuccessfulFetch) > maxAge
}

// SweepStale warns about sources that have gone more than stalePolls poll
// intervals without a successful fetch. Sources that were never attempted
// are ignored. It returns the number of notices emitted.
func (t *Tracker) SweepStale(ctx context.Context, sources []regulatory.Source, stalePolls int) (int, error) {
	if stalePolls <= 0 {
		return 0, nil
	}
	now := t.clock.Now()
	emitted := 0
	for _, src := range sources {
		if src.PollIntervalMinutes <= 0 {
			continue
		}
		rec, found, err := t.store.GetHealth(ctx, src.Name)
		if err != nil {
			return emitted, fmt.Errorf("load health for %s: %w", src.Name, err)
		}
		maxAge := time.Duration(src.PollIntervalMinutes*stalePolls) * time.Minute
		if !found || !Stale(rec, now, maxAge) {
			t.forgetStale(src.Name)
			continue
		}
		var since time.Time
		if rec.LastSuccessfulFetch != nil {
			since = *rec.LastSuccessfulFetch
		}
		if !t.markStale(src.Name, since) {
			continue
		}
		t.announceStale(ctx, src, rec, maxAge)
		emitted++
	}
	return emitted, nil
}

func (t *Tracker) markStale(name string, since time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.staleSeen[name]; ok && prev.Equal(since) {
		return false
	}
	t.staleSeen[name] = since
	return true
}

func (t *Tracker) forgetStale(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.staleSeen, name)
}

func (t *Tracker) announceStale(ctx context.Context, src regulatory.Source, rec regulatory.HealthRecord, maxAge time.Duration) {
	last := "never"
	if rec.LastSuccessfulFetch != nil {
		last = rec.LastSuccessfulFetch.Format(time.RFC3339)
	}
	notice := alerting.Notice{
		Severity:  alerting.SeverityWarning,
		Source:    src.Name,
		Title:     src.Name + " is stale",
		Message:   fmt.Sprintf("no successful fetch within %s", maxAge),
		Timestamp: t.clock.Now(),
		Fields: map[string]string{
			"agency":                src.Agency,
			"region":                src.Region,
			"last_successful_fetch": last,
			"state":                 string(rec.State),
		},
	}
	t.logger.Warn("source is stale", zap.String("source", src.Name), zap.String("last_successful_fetch", last))
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, notice); err != nil {
		t.logger.Warn("stale notice not delivered", zap.String("source", src.Name), zap.Error(err))
	}
}
