//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

func TestStoresAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("regalert_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, Migrate(dsn))
	require.NoError(t, Migrate(dsn))

	pool, err := Connect(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	alerts, err := NewAlertStore(pool, "alerts")
	require.NoError(t, err)
	pub := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	alert := regulatory.Alert{
		ID: "018f0000-0000-7000-8000-000000000001", Title: "Recall of cheese", Source: "FDA", Agency: "FDA",
		Region: "US", Urgency: regulatory.UrgencyHigh, UrgencyScore: 17, SignalType: regulatory.SignalRecall,
		PublishedDate: pub, CreatedAt: pub.Add(time.Hour), ExternalURL: "https://fda.gov/r/1",
	}
	ok, err := alerts.InsertAlert(ctx, alert)
	require.NoError(t, err)
	require.True(t, ok)

	alert.ID = "018f0000-0000-7000-8000-000000000002"
	ok, err = alerts.InsertAlert(ctx, alert)
	require.NoError(t, err)
	require.False(t, ok)

	dup, err := alerts.FindDuplicate(ctx, regulatory.DuplicateQuery{
		Title: alert.Title, Source: "FDA", Reference: pub.Add(72 * time.Hour), Window: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	require.True(t, dup)

	dup, err = alerts.FindDuplicate(ctx, regulatory.DuplicateQuery{
		Title: "Other", Source: "FDA", Reference: pub, Window: time.Hour,
		ExternalURL: "https://fda.gov/r/1", URLWindow: 30 * 24 * time.Hour,
	})
	require.NoError(t, err)
	require.True(t, dup)

	store, err := NewStore(pool)
	require.NoError(t, err)
	src := regulatory.Source{ID: "fda", Name: "FDA", Agency: "FDA", Region: "US", Type: regulatory.SourceTypeAPI,
		PollIntervalMinutes: 60, Active: true}
	require.NoError(t, store.UpsertSource(ctx, src))
	require.NoError(t, store.MarkFetched(ctx, "fda", pub, ""))
	sources, err := store.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.NotNil(t, sources[0].LastSuccessfulFetch)

	require.NoError(t, store.UpsertHealth(ctx, regulatory.HealthRecord{
		SourceName: "FDA", LastAttempt: pub, FetchStatus: regulatory.FetchStatusSuccess,
		State: regulatory.HealthHealthy, RecordsFetched: 3,
	}))
	rec, ok, err := store.GetHealth(ctx, "FDA")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, rec.RecordsFetched)

	require.NoError(t, store.MarkRun(ctx, "fda", pub))
	last, ok, err := store.LastRun(ctx, "fda")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, pub.Equal(last))
	require.NoError(t, store.Reset(ctx))
	_, ok, err = store.LastRun(ctx, "fda")
	require.NoError(t, err)
	require.False(t, ok)
}
