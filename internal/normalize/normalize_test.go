package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regalert/internal/clock/system"
	"github.com/JakeFAU/regalert/internal/regulatory"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestParseDateLayouts(t *testing.T) {
	t.Parallel()

	want := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{
		"2025-03-04",
		"20250304",
		"03/04/2025",
		"3/4/2025",
		"March 4, 2025",
		"Mar 4, 2025",
		"Mar. 4, 2025",
		"Tue, 04 Mar 2025 00:00:00 GMT",
		"Tue, 04 Mar 2025 00:00:00 +0000",
		"2025-03-04T00:00:00Z",
		"1741046400",
		"1741046400000",
	} {
		got, ok := ParseDate(raw)
		require.True(t, ok, raw)
		require.True(t, want.Equal(got), "%s parsed as %s", raw, got)
	}

	got, ok := ParseDate("Tue, 04 Mar 2025 09:30:00 -0500")
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC), got)

	for _, raw := range []string{"", "soon", "2025-13-45", "12345"} {
		_, ok := ParseDate(raw)
		require.False(t, ok, raw)
	}
}

func TestNormalizeBuildsDraft(t *testing.T) {
	t.Parallel()

	n := New(system.Fixed{At: now})
	src := regulatory.Source{Name: "FDA-Warnings", Agency: "FDA", Region: "US", BaseURL: "https://www.fda.gov"}
	item := regulatory.RawItem{
		Title:       "  Company X   Recalls\nProduct Y ",
		Link:        "/safety/recalls/x",
		Description: " details ",
		PubDate:     "2025-03-09",
		SourceRef:   "https://www.fda.gov/rss.xml",
		Extra:       map[string]string{"company": "Company X"},
	}

	alert := n.Normalize(item, src, false)
	require.Equal(t, "Company X Recalls Product Y", alert.Title)
	require.Equal(t, "FDA-Warnings", alert.Source)
	require.Equal(t, "FDA", alert.Agency)
	require.Equal(t, "US", alert.Region)
	require.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), alert.PublishedDate)
	require.Equal(t, "https://www.fda.gov/safety/recalls/x", alert.ExternalURL)
	require.Equal(t, "details", alert.Description)

	var snap regulatory.RawItem
	require.NoError(t, json.Unmarshal([]byte(alert.FullContent), &snap))
	require.Equal(t, item.Link, snap.Link)
	require.Equal(t, "Company X", snap.Extra["company"])
}

func TestNormalizeFallbackAndUnparseableDate(t *testing.T) {
	t.Parallel()

	n := New(system.Fixed{At: now})
	src := regulatory.Source{Name: "FDA Enforcement", Agency: "FDA", Region: "US"}
	alert := n.Normalize(regulatory.RawItem{Title: "t", PubDate: "last Tuesday"}, src, true)
	require.Equal(t, "FDA Enforcement RSS", alert.Source)
	require.Equal(t, now, alert.PublishedDate)
	require.Empty(t, alert.ExternalURL)
}

func TestResolveLink(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://a.gov/x", ResolveLink("https://a.gov/x", "", ""))
	require.Equal(t, "https://feeds.gov/news/item", ResolveLink("item", "https://feeds.gov/news/rss", ""))
	require.Equal(t, "https://base.gov/item", ResolveLink("/item", "https://feeds.gov/rss", "https://base.gov/"))
	require.Empty(t, ResolveLink("/item", "", ""))
	require.Empty(t, ResolveLink("  ", "https://a.gov", ""))
}
