package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>FDA Recalls</title>
  <item>
    <title><![CDATA[Company X Recalls Product Y &#8212; Salmonella Risk]]></title>
    <link>https://www.fda.gov/safety/recalls/company-x</link>
    <description>&lt;p&gt;Company X is recalling &lt;b&gt;Product Y&lt;/b&gt;.&lt;/p&gt;</description>
    <pubDate>Mon, 10 Mar 2025 14:00:00 GMT</pubDate>
    <guid>https://www.fda.gov/safety/recalls/company-x</guid>
    <category>Food</category>
  </item>
  <item>
    <title>   </title>
    <link>https://www.fda.gov/empty</link>
  </item>
  <item>
    <title>Second notice</title>
    <link>https://www.fda.gov/second</link>
  </item>
</channel>
</rss>`

const atomFixture = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Federal Register</title>
  <entry>
    <title>Final Rule: Food Traceability</title>
    <link href="https://www.federalregister.gov/d/2025-01234"/>
    <id>urn:fr:2025-01234</id>
    <updated>2025-03-09T08:00:00Z</updated>
    <summary type="html">Amends 21 CFR part 1.</summary>
  </entry>
</feed>`

func TestParseFeedRSS(t *testing.T) {
	t.Parallel()

	items, err := ParseFeed([]byte(rssFixture), "https://www.fda.gov/rss.xml")
	require.NoError(t, err)
	require.Len(t, items, 2, "items with blank titles are dropped; order is preserved")

	first := items[0]
	require.Equal(t, "Company X Recalls Product Y — Salmonella Risk", first.Title)
	require.Equal(t, "https://www.fda.gov/safety/recalls/company-x", first.Link)
	require.Equal(t, "Company X is recalling Product Y .", first.Description)
	require.Equal(t, "Mon, 10 Mar 2025 14:00:00 GMT", first.PubDate)
	require.Equal(t, "Food", first.Extra["categories"])
	require.Equal(t, "https://www.fda.gov/rss.xml", first.SourceRef)
	require.Equal(t, "Second notice", items[1].Title)
}

func TestParseFeedAtom(t *testing.T) {
	t.Parallel()

	items, err := ParseFeed([]byte(atomFixture), "https://www.federalregister.gov/atom")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Final Rule: Food Traceability", items[0].Title)
	require.Equal(t, "https://www.federalregister.gov/d/2025-01234", items[0].Link)
	require.Equal(t, "2025-03-09T08:00:00Z", items[0].PubDate)
	require.Equal(t, "Amends 21 CFR part 1.", items[0].Description)
}

func TestParseFeedEmptyChannel(t *testing.T) {
	t.Parallel()

	items, err := ParseFeed([]byte(`<rss version="2.0"><channel><title>x</title></channel></rss>`), "https://x/rss")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestParseFeedNotAFeed(t *testing.T) {
	t.Parallel()

	_, err := ParseFeed([]byte(`<html><body>Service unavailable</body></html>`), "https://x/rss")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestExtractBlocksToleratesBrokenMarkup(t *testing.T) {
	t.Parallel()

	// Unescaped ampersand and an unclosed tag break strict XML parsing.
	doc := `<rss><channel>
	<item><title><![CDATA[Recall & Alert]]></title><link>https://x/1</link><pubDate>2025-03-01</pubDate><description>Bad & broken <br></description></item>
	<entry><title>Atom entry</title><link href="https://x/2"/><id>e-2</id></entry>
	</channel>`
	items := extractBlocks(doc, "https://x/rss")
	require.Len(t, items, 2)
	require.Equal(t, "Recall & Alert", items[0].Title)
	require.Equal(t, "https://x/1", items[0].Link)
	require.Equal(t, "2025-03-01", items[0].PubDate)
	require.Equal(t, "Bad & broken", items[0].Description)
	require.Equal(t, "https://x/2", items[1].Link)
	require.Equal(t, "e-2", items[1].GUID)
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a b", CleanText("  <![CDATA[a]]>\n\t<b>b</b> "))
	require.Equal(t, "Tom & Jerry", CleanText("Tom &amp;amp; Jerry"))
	require.Empty(t, CleanText("<p></p>"))
}
