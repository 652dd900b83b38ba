package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddPageDeduplicates(t *testing.T) {
	db := newTestDB(t)

	id1, err := db.AddPage("http://example.com/page?b=2&a=1", "http://example.com/page?a=1&b=2", "", 0)
	require.NoError(t, err)

	// A different raw form with the same canonical form maps to the same row.
	id2, err := db.AddPage("http://EXAMPLE.com/page?a=1&b=2", "http://example.com/page?a=1&b=2", "", 1)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	count, err := db.CountPages("")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAddPageStoresURLParts(t *testing.T) {
	db := newTestDB(t)

	id, err := db.AddPage("https://example.com/a/b?x=1#frag", "https://example.com/a/b?x=1", "https://example.com/", 2)
	require.NoError(t, err)

	page, err := db.GetPageByID(id)
	require.NoError(t, err)
	require.NotNil(t, page)

	assert.Equal(t, "example.com", page.Domain)
	assert.Equal(t, "https", page.Scheme)
	assert.Equal(t, "/a/b", page.Path)
	assert.Equal(t, "x=1", page.QueryString)
	assert.Equal(t, "frag", page.Fragment)
	assert.Equal(t, 2, page.CrawlDepth)
	assert.Equal(t, "https://example.com/", page.ParentURL)
	assert.False(t, page.IsCrawled)
	assert.Equal(t, 0, page.CrawlCount)
}

func TestUpdatePageCrawl(t *testing.T) {
	db := newTestDB(t)

	id, err := db.AddPage("http://example.com/", "http://example.com/", "", 0)
	require.NoError(t, err)

	update := &PageUpdate{
		StatusCode:      200,
		ResponseTimeMs:  42,
		ContentType:     "text/html",
		Title:           "Home",
		MetaDescription: "front page",
		Language:        "en",
	}
	require.NoError(t, db.UpdatePageCrawl(id, update))

	page, err := db.GetPageByID(id)
	require.NoError(t, err)
	require.NotNil(t, page)

	assert.True(t, page.IsCrawled)
	assert.Equal(t, 1, page.CrawlCount)
	assert.Equal(t, 200, page.StatusCode)
	assert.Equal(t, "Home", page.Title)
	require.NotNil(t, page.FirstCrawledAt)
	first := *page.FirstCrawledAt

	// Second crawl keeps first_crawled_at and increments the counter.
	require.NoError(t, db.UpdatePageCrawl(id, update))
	page, err = db.GetPageByID(id)
	require.NoError(t, err)
	assert.Equal(t, 2, page.CrawlCount)
	require.NotNil(t, page.FirstCrawledAt)
	assert.Equal(t, first.Unix(), page.FirstCrawledAt.Unix())
}

func TestUpdatePageCrawlStoresNullStatusWithoutResponse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDatabase(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { db.Close() })

	id, err := db.AddPage("http://example.com/down", "http://example.com/down", "", 0)
	require.NoError(t, err)
	require.NoError(t, db.UpdatePageCrawl(id, &PageUpdate{ErrorMessage: "connection refused"}))

	// A failed fetch has no status; the column stays NULL rather than 0.
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()

	var isNull bool
	require.NoError(t, raw.QueryRow(`SELECT status_code IS NULL FROM pages WHERE id = ?`, id).Scan(&isNull))
	assert.True(t, isNull)

	// Reads through the store still see the zero value.
	page, err := db.GetPageByID(id)
	require.NoError(t, err)
	assert.Zero(t, page.StatusCode)
	assert.Equal(t, "connection refused", page.ErrorMessage)
}

func TestAddLinkIdempotent(t *testing.T) {
	db := newTestDB(t)

	id, err := db.AddPage("http://example.com/", "http://example.com/", "", 0)
	require.NoError(t, err)

	link := &Link{TargetURL: "http://example.com/about", Type: "anchor", IsInternal: true, IsFollow: true}
	require.NoError(t, db.AddLink(id, link))
	require.NoError(t, db.AddLink(id, link))

	links, err := db.GetLinksBySource(id)
	require.NoError(t, err)
	assert.Len(t, links, 1)
	assert.Equal(t, "http://example.com/about", links[0].TargetURL)
}

func TestNextUncrawledOrdering(t *testing.T) {
	db := newTestDB(t)

	_, err := db.AddPage("http://example.com/deep", "http://example.com/deep", "", 2)
	require.NoError(t, err)
	shallow, err := db.AddPage("http://example.com/shallow", "http://example.com/shallow", "", 0)
	require.NoError(t, err)

	item, err := db.NextUncrawled("")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, shallow, item.PageID)
	assert.Equal(t, 0, item.Depth)

	// Domain filter excludes other hosts.
	item, err = db.NextUncrawled("other.com")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestNextUncrawledSkipsCrawled(t *testing.T) {
	db := newTestDB(t)

	id, err := db.AddPage("http://example.com/", "http://example.com/", "", 0)
	require.NoError(t, err)
	require.NoError(t, db.UpdatePageCrawl(id, &PageUpdate{StatusCode: 200}))

	item, err := db.NextUncrawled("")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestUncrawledPages(t *testing.T) {
	db := newTestDB(t)

	for _, u := range []string{"http://example.com/a", "http://example.com/b", "http://other.com/c"} {
		_, err := db.AddPage(u, u, "", 1)
		require.NoError(t, err)
	}

	items, err := db.UncrawledPages("example.com")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = db.UncrawledPages("")
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestResetDomain(t *testing.T) {
	db := newTestDB(t)

	id, err := db.AddPage("http://example.com/", "http://example.com/", "", 0)
	require.NoError(t, err)
	require.NoError(t, db.UpdatePageCrawl(id, &PageUpdate{StatusCode: 200}))

	require.NoError(t, db.ResetDomain("example.com"))

	pending, err := db.CountUncrawled("example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestDeleteDomainCascades(t *testing.T) {
	db := newTestDB(t)

	id, err := db.AddPage("http://example.com/", "http://example.com/", "", 0)
	require.NoError(t, err)
	keep, err := db.AddPage("http://other.com/", "http://other.com/", "", 0)
	require.NoError(t, err)

	require.NoError(t, db.AddLink(id, &Link{TargetURL: "http://example.com/x", Type: "anchor"}))
	require.NoError(t, db.AddResource(id, &Resource{URL: "http://example.com/a.png", Type: "image"}))
	require.NoError(t, db.AddJavaScriptEvent(id, &JavaScriptEvent{EventType: "onclick", DetectedURL: "http://example.com/y"}))

	require.NoError(t, db.DeleteDomain("example.com"))

	page, err := db.GetPageByID(id)
	require.NoError(t, err)
	assert.Nil(t, page)

	links, err := db.GetLinksBySource(id)
	require.NoError(t, err)
	assert.Empty(t, links)

	resources, err := db.GetResourcesByPage(id)
	require.NoError(t, err)
	assert.Empty(t, resources)

	// Other domains are untouched.
	other, err := db.GetPageByID(keep)
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestDistinctDomainsAndCounts(t *testing.T) {
	db := newTestDB(t)

	for _, u := range []string{"http://a.com/1", "http://a.com/2", "http://b.com/1"} {
		_, err := db.AddPage(u, u, "", 0)
		require.NoError(t, err)
	}

	domains, err := db.DistinctDomains()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, domains)

	count, err := db.CountPages("a.com")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	total, err := db.CountPages("")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}
