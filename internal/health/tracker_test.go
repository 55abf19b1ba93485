package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regalert/internal/alerting"
	"github.com/JakeFAU/regalert/internal/clock/system"
	"github.com/JakeFAU/regalert/internal/regulatory"
	"github.com/JakeFAU/regalert/internal/storage/memory"
)

type recordingNotifier struct{ notices []alerting.Notice }

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notice) error {
	r.notices = append(r.notices, n)
	return nil
}

var fda = regulatory.Source{ID: "fda", Name: "FDA Enforcement", Agency: "FDA", Region: "US"}

func fail() Result {
	return Result{Status: regulatory.FetchStatusFailed, Err: "server error 503"}
}

func TestTransitionsEmitOneNoticeEach(t *testing.T) {
	store := memory.NewHealthStore()
	notes := &recordingNotifier{}
	at := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	tr := NewTracker(store, notes, Thresholds{}, system.Fixed{At: at}, nil)
	ctx := context.Background()

	rec, err := tr.Record(ctx, fda, Result{Status: regulatory.FetchStatusSuccess, RecordsFetched: 4})
	require.NoError(t, err)
	require.Equal(t, regulatory.HealthHealthy, rec.State)
	require.Empty(t, notes.notices)

	rec, err = tr.Record(ctx, fda, fail())
	require.NoError(t, err)
	require.Equal(t, regulatory.HealthDegraded, rec.State)
	require.Equal(t, at, *rec.LastSuccessfulFetch)

	_, err = tr.Record(ctx, fda, fail())
	require.NoError(t, err)
	rec, err = tr.Record(ctx, fda, fail())
	require.NoError(t, err)
	require.Equal(t, regulatory.HealthUnhealthy, rec.State)
	require.Equal(t, 3, rec.ConsecutiveFailures)

	_, err = tr.Record(ctx, fda, fail())
	require.NoError(t, err)

	rec, err = tr.Record(ctx, fda, Result{Status: regulatory.FetchStatusFallback, RecordsFetched: 2})
	require.NoError(t, err)
	require.Equal(t, regulatory.HealthHealthy, rec.State)
	require.Zero(t, rec.ConsecutiveFailures)

	require.Len(t, notes.notices, 3)
	require.Equal(t, alerting.SeverityWarning, notes.notices[0].Severity)
	require.Equal(t, alerting.SeverityCritical, notes.notices[1].Severity)
	require.Equal(t, "server error 503", notes.notices[1].Fields["last_error"])
	require.Equal(t, alerting.SeverityInfo, notes.notices[2].Severity)
	require.Equal(t, "FDA Enforcement recovered", notes.notices[2].Title)
}

func TestNoResultsIsNotAFailure(t *testing.T) {
	store := memory.NewHealthStore()
	tr := NewTracker(store, nil, Thresholds{}, system.New(), nil)

	rec, err := tr.Record(context.Background(), fda, Result{Status: regulatory.FetchStatusNoResults})
	require.NoError(t, err)
	require.Equal(t, regulatory.HealthHealthy, rec.State)

	rec, err = tr.Record(context.Background(), fda, Result{Status: regulatory.FetchStatusParseError, Err: "bad json"})
	require.NoError(t, err)
	require.Equal(t, regulatory.HealthDegraded, rec.State)
}

func TestCustomThresholds(t *testing.T) {
	tr := NewTracker(memory.NewHealthStore(), nil, Thresholds{DegradedAfter: 2, UnhealthyAfter: 5}, system.New(), nil)
	require.Equal(t, regulatory.HealthHealthy, tr.State(1))
	require.Equal(t, regulatory.HealthDegraded, tr.State(4))
	require.Equal(t, regulatory.HealthUnhealthy, tr.State(5))
}

func TestStale(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	last := now.Add(-3 * time.Hour)
	require.True(t, Stale(regulatory.HealthRecord{}, now, time.Hour))
	require.True(t, Stale(regulatory.HealthRecord{LastSuccessfulFetch: &last}, now, time.Hour))
	require.False(t, Stale(regulatory.HealthRecord{LastSuccessfulFetch: &last}, now, 4*time.Hour))
}

func TestSweepStaleNotifiesOncePerEpisode(t *testing.T) {
	store := memory.NewHealthStore()
	notes := &recordingNotifier{}
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	tr := NewTracker(store, notes, Thresholds{}, system.Fixed{At: now}, nil)
	ctx := context.Background()

	hourly := fda
	hourly.PollIntervalMinutes = 60
	last := now.Add(-4 * time.Hour)
	require.NoError(t, store.UpsertHealth(ctx, regulatory.HealthRecord{
		SourceName: hourly.Name, LastSuccessfulFetch: &last, State: regulatory.HealthDegraded,
	}))
	neverRun := regulatory.Source{ID: "ema", Name: "EMA News", PollIntervalMinutes: 60}

	n, err := tr.SweepStale(ctx, []regulatory.Source{hourly, neverRun}, 3)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, notes.notices, 1)
	require.Equal(t, alerting.SeverityWarning, notes.notices[0].Severity)
	require.Equal(t, "FDA Enforcement is stale", notes.notices[0].Title)

	n, err = tr.SweepStale(ctx, []regulatory.Source{hourly}, 3)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = tr.SweepStale(ctx, []regulatory.Source{hourly}, 5)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = tr.SweepStale(ctx, []regulatory.Source{hourly}, 3)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSweepStaleDisabled(t *testing.T) {
	tr := NewTracker(memory.NewHealthStore(), &recordingNotifier{}, Thresholds{}, system.Fixed{At: time.Now()}, nil)
	n, err := tr.SweepStale(context.Background(), []regulatory.Source{fda}, 0)
	require.NoError(t, err)
	require.Zero(t, n)
}
