package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

type fakeStore struct {
	rows  []regulatory.Alert
	last  regulatory.DuplicateQuery
	fails bool
}

func (f *fakeStore) FindDuplicate(_ context.Context, q regulatory.DuplicateQuery) (bool, error) {
	f.last = q
	if f.fails {
		return false, errors.New("boom")
	}
	for _, r := range f.rows {
		if Matches(q, r) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertAlert(context.Context, regulatory.Alert) (bool, error) { return true, nil }

var day = 24 * time.Hour

func TestTitleSourceWithinWindow(t *testing.T) {
	pub := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []regulatory.Alert{{Title: "Recall", Source: "FDA", PublishedDate: pub.Add(-6 * day)}}}
	c := New(store, 0, 0)

	dup, err := c.IsDuplicate(context.Background(), regulatory.Alert{Title: "Recall", Source: "FDA", PublishedDate: pub}, regulatory.Source{})
	require.NoError(t, err)
	require.True(t, dup)
	require.Equal(t, DefaultWindow, store.last.Window)

	dup, err = c.IsDuplicate(context.Background(), regulatory.Alert{Title: "Recall", Source: "FDA", PublishedDate: pub.Add(2 * day)}, regulatory.Source{})
	require.NoError(t, err)
	require.False(t, dup)
}

func TestDifferentSourceIsNotDuplicate(t *testing.T) {
	pub := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []regulatory.Alert{{Title: "Recall", Source: "FDA", PublishedDate: pub}}}
	dup, err := New(store, 0, 0).IsDuplicate(context.Background(),
		regulatory.Alert{Title: "Recall", Source: "FDA RSS", PublishedDate: pub}, regulatory.Source{})
	require.NoError(t, err)
	require.False(t, dup)
}

func TestPerSourceWindowOverride(t *testing.T) {
	c := New(&fakeStore{}, 0, 0)
	q := c.Query(regulatory.Alert{Title: "x"}, regulatory.Source{DedupWindowDays: 2})
	require.Equal(t, 2*day, q.Window)
}

func TestURLMatchOnlyForOptedInSources(t *testing.T) {
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []regulatory.Alert{{
		Title: "Old title", Source: "EPA", ExternalURL: "https://epa.gov/n/1", CreatedAt: now.Add(-20 * day),
	}}}
	c := New(store, 0, 0)
	alert := regulatory.Alert{Title: "New title", Source: "EPA", ExternalURL: "https://epa.gov/n/1", PublishedDate: now}

	dup, err := c.IsDuplicate(context.Background(), alert, regulatory.Source{})
	require.NoError(t, err)
	require.False(t, dup)

	dup, err = c.IsDuplicate(context.Background(), alert, regulatory.Source{DedupByURL: true})
	require.NoError(t, err)
	require.True(t, dup)
}

func TestZeroPublishedDateUsesCreatedAt(t *testing.T) {
	created := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	q := New(&fakeStore{}, 0, 0).Query(regulatory.Alert{CreatedAt: created}, regulatory.Source{})
	require.Equal(t, created, q.Reference)
}

func TestLookupErrorWrapped(t *testing.T) {
	_, err := New(&fakeStore{fails: true}, 0, 0).IsDuplicate(context.Background(), regulatory.Alert{Title: "t"}, regulatory.Source{})
	require.ErrorContains(t, err, "boom")
}
