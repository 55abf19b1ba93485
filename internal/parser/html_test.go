package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

const warningLettersTable = `<html><body><main>
<table>
  <thead><tr><th>Posted Date</th><th>Company Name</th><th>Issuing Office</th><th>Subject</th></tr></thead>
  <tbody>
    <tr><td>03/04/2025</td><td><a href="/inspections/warning-letters/acme-foods-0304">Acme Foods LLC</a></td><td>CFSAN</td><td>CGMP/Food/Adulterated</td></tr>
    <tr><td>03/03/2025</td><td><a href="https://www.fda.gov/wl/beta">Beta Pharma</a></td><td>CDER</td><td>Drug Product Labeling</td></tr>
    <tr><td></td><td></td><td></td><td></td></tr>
  </tbody>
</table>
</main></body></html>`

func TestParseHTMLTableRows(t *testing.T) {
	t.Parallel()

	items, err := ParseHTML([]byte(warningLettersTable), "https://www.fda.gov/inspections/warning-letters", regulatory.ScraperSelectors{})
	require.NoError(t, err)
	require.Len(t, items, 2, "the blank row is skipped without failing the page")

	first := items[0]
	require.Equal(t, "Acme Foods LLC - CGMP/Food/Adulterated", first.Title)
	require.Equal(t, "https://www.fda.gov/inspections/warning-letters/acme-foods-0304", first.Link)
	require.Equal(t, "03/04/2025", first.PubDate)
	require.Equal(t, "Acme Foods LLC", first.Extra["company"])
	require.Equal(t, "CGMP/Food/Adulterated", first.Extra["subject"])
	require.Equal(t, "CGMP/Food/Adulterated", first.Description)
	require.Equal(t, "https://www.fda.gov/wl/beta", items[1].Link)
}

func TestParseHTMLViewRows(t *testing.T) {
	t.Parallel()

	page := `<div class="view-content">
	  <div class="views-row"><h3><a href="/recalls/r1">Ground beef products recalled</a></h3><time datetime="2025-03-05T10:00:00Z">March 5, 2025</time><p>Possible E. coli contamination.</p></div>
	  <div class="views-row"><span class="field-content">Notice without link, posted Feb 28, 2025</span></div>
	</div>`
	items, err := ParseHTML([]byte(page), "https://www.fsis.usda.gov/recalls", regulatory.ScraperSelectors{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Ground beef products recalled", items[0].Title)
	require.Equal(t, "https://www.fsis.usda.gov/recalls/r1", items[0].Link)
	require.Equal(t, "2025-03-05T10:00:00Z", items[0].PubDate)
	require.Equal(t, "Possible E. coli contamination.", items[0].Description)
	require.Equal(t, "Feb 28, 2025", items[1].PubDate)
	require.Empty(t, items[1].Link)
}

func TestParseHTMLListItemsAndSelectors(t *testing.T) {
	t.Parallel()

	page := `<main><ul>
	  <li><a href="/n/1">Advisory one</a> <span class="when">2025-01-02</span></li>
	  <li><a href="/n/2">Advisory two</a> <span class="when">2025-01-03</span></li>
	</ul></main>`

	items, err := ParseHTML([]byte(page), "https://agency.example/news", regulatory.ScraperSelectors{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Advisory one", items[0].Title)
	require.Equal(t, "2025-01-02", items[0].PubDate)

	custom, err := ParseHTML([]byte(page), "https://agency.example/news", regulatory.ScraperSelectors{
		Rows: []string{"ul > li"},
		Date: ".when",
	})
	require.NoError(t, err)
	require.Len(t, custom, 2)
	require.Equal(t, "2025-01-03", custom[1].PubDate)
}

func TestParseHTMLNoRowsIsEmpty(t *testing.T) {
	t.Parallel()

	items, err := ParseHTML([]byte(`<html><body><p>No recalls at this time.</p></body></html>`), "https://x", regulatory.ScraperSelectors{})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestParseHTMLAllRowsFailingIsParseError(t *testing.T) {
	t.Parallel()

	page := `<table><tr><td></td></tr><tr><td> </td></tr></table>`
	_, err := ParseHTML([]byte(page), "https://x/page", regulatory.ScraperSelectors{})
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}
