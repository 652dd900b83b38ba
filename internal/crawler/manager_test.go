package crawler

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advanced-crawler/crawler/internal/config"
	"github.com/advanced-crawler/crawler/internal/fetcher"
	"github.com/advanced-crawler/crawler/internal/robots"
	"github.com/advanced-crawler/crawler/internal/sitemap"
	"github.com/advanced-crawler/crawler/internal/storage"
	crawltest "github.com/advanced-crawler/crawler/internal/testing"
)

func newTestStore(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { db.Close() })
	return db
}

func newScanConfig(seed string) *config.CrawlConfig {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeNewScan
	cfg.SeedURL = seed
	cfg.MaxDepth = 2
	cfg.Workers = 1
	cfg.Delay = 0
	cfg.Timeout = 5 * time.Second
	cfg.DisregardRobots = true
	return cfg
}

func TestCrawlSeedAndLinkedPage(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()
	ts.AddPage("/", `<html><body><a href="/linked_page">A Link</a></body></html>`)
	ts.AddPage("/linked_page", `<html><body>Leaf</body></html>`)

	store := newTestStore(t)
	cfg := newScanConfig(ts.URL() + "/")

	fetch := fetcher.NewStaticFetcher(cfg, nil)
	defer fetch.Close()

	m, err := NewManager(cfg, store, fetch, nil, nil, nil, nil)
	require.NoError(t, err)

	stats, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Crawled)
	assert.Zero(t, stats.Errors)

	host, _ := url.Parse(ts.URL())

	total, err := store.CountPages(host.Host)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	crawled, err := store.CountCrawled(host.Host)
	require.NoError(t, err)
	assert.Equal(t, 2, crawled)

	seed, err := store.GetPageByNormalizedURL(ts.URL() + "/")
	require.NoError(t, err)
	require.NotNil(t, seed)
	assert.True(t, seed.IsCrawled)

	links, err := store.GetLinksBySource(seed.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, ts.URL()+"/linked_page", links[0].TargetURL)
}

func TestCrawlRespectsMaxDepth(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()
	ts.AddPage("/", `<a href="/d1">1</a>`)
	ts.AddPage("/d1", `<a href="/d2">2</a>`)
	ts.AddPage("/d2", `<a href="/d3">3</a>`)
	ts.AddPage("/d3", `deep`)

	store := newTestStore(t)
	cfg := newScanConfig(ts.URL() + "/")
	cfg.MaxDepth = 1

	fetch := fetcher.NewStaticFetcher(cfg, nil)
	defer fetch.Close()

	m, err := NewManager(cfg, store, fetch, nil, nil, nil, nil)
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	require.NoError(t, err)

	// Depth 0 and 1 fetched; /d2 was never admitted.
	assert.Equal(t, 1, ts.Hits("/"))
	assert.Equal(t, 1, ts.Hits("/d1"))
	assert.Equal(t, 0, ts.Hits("/d2"))
}

func TestCrawlRobotsDenied(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()
	ts.AddPageWithType("/robots.txt", "User-agent: *\nDisallow: /\n", "text/plain")
	ts.AddPage("/", `<html>home</html>`)

	store := newTestStore(t)
	cfg := newScanConfig(ts.URL() + "/")
	cfg.DisregardRobots = false

	fetch := fetcher.NewStaticFetcher(cfg, nil)
	defer fetch.Close()

	robotsCache := robots.NewCache(ts.Server.Client(), cfg.UserAgent, nil)

	m, err := NewManager(cfg, store, fetch, robotsCache, nil, nil, nil)
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	require.NoError(t, err)

	seed, err := store.GetPageByNormalizedURL(ts.URL() + "/")
	require.NoError(t, err)
	require.NotNil(t, seed)

	assert.True(t, seed.IsCrawled)
	assert.Equal(t, 403, seed.StatusCode)
	assert.Equal(t, "Disallowed by robots.txt", seed.ErrorMessage)
	assert.Equal(t, 0, ts.Hits("/"))
}

func TestNewScanSeedsFromSitemaps(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()

	ts.AddPageWithType("/robots.txt",
		"User-agent: *\nAllow: /\nSitemap: "+ts.URL()+"/sitemap.xml\n", "text/plain")
	ts.AddPageWithType("/sitemap.xml", `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>`+ts.URL()+`/from_sitemap</loc></url>
  <url><loc>https://other.com/elsewhere</loc></url>
</urlset>`, "application/xml")
	ts.AddPage("/", `<html>home</html>`)
	ts.AddPage("/from_sitemap", `<html>listed</html>`)

	store := newTestStore(t)
	cfg := newScanConfig(ts.URL() + "/")
	cfg.DisregardRobots = false

	fetch := fetcher.NewStaticFetcher(cfg, nil)
	defer fetch.Close()

	robotsCache := robots.NewCache(ts.Server.Client(), cfg.UserAgent, nil)
	sitemapFetcher := sitemap.NewFetcher(ts.Server.Client(), cfg.UserAgent, nil)

	m, err := NewManager(cfg, store, fetch, robotsCache, sitemapFetcher, nil, nil)
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	require.NoError(t, err)

	// The internal sitemap entry is seeded at depth 0 with a "sitemap"
	// parent and crawled with everything else.
	listed, err := store.GetPageByNormalizedURL(ts.URL() + "/from_sitemap")
	require.NoError(t, err)
	require.NotNil(t, listed)
	assert.Equal(t, "sitemap", listed.ParentURL)
	assert.Equal(t, 0, listed.CrawlDepth)
	assert.True(t, listed.IsCrawled)
	assert.Equal(t, 1, ts.Hits("/from_sitemap"))

	// External locs never enter the frontier.
	external, err := store.GetPageByNormalizedURL("https://other.com/elsewhere")
	require.NoError(t, err)
	assert.Nil(t, external)
}

func TestNewScanPurgeDeclinedAborts(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()
	ts.AddPage("/", `<html>home</html>`)

	store := newTestStore(t)
	cfg := newScanConfig(ts.URL() + "/")

	host, _ := url.Parse(ts.URL())
	_, err := store.AddPage(ts.URL()+"/old", ts.URL()+"/old", "", 0)
	require.NoError(t, err)

	fetch := fetcher.NewStaticFetcher(cfg, nil)
	defer fetch.Close()

	decline := ConfirmFunc(func(string) bool { return false })
	m, err := NewManager(cfg, store, fetch, nil, nil, decline, nil)
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	assert.ErrorIs(t, err, ErrAborted)

	// Declining the purge leaves the old data alone.
	count, err := store.CountPages(host.Host)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestContinueModeDrainsPending(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()
	ts.AddPage("/pending", `<html>pending</html>`)

	store := newTestStore(t)
	_, err := store.AddPage(ts.URL()+"/pending", ts.URL()+"/pending", "", 0)
	require.NoError(t, err)

	cfg := newScanConfig(ts.URL() + "/")
	cfg.Mode = config.ModeContinue
	cfg.SeedURL = ""

	fetch := fetcher.NewStaticFetcher(cfg, nil)
	defer fetch.Close()

	m, err := NewManager(cfg, store, fetch, nil, nil, nil, nil)
	require.NoError(t, err)

	stats, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Crawled)

	pending, err := store.CountUncrawled("")
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestUpdateModeResetsAndRecrawls(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()
	ts.AddPage("/", `<html>home</html>`)

	store := newTestStore(t)
	host, _ := url.Parse(ts.URL())

	id, err := store.AddPage(ts.URL()+"/", ts.URL()+"/", "", 0)
	require.NoError(t, err)
	require.NoError(t, store.UpdatePageCrawl(id, &storage.PageUpdate{StatusCode: 200}))

	cfg := newScanConfig(ts.URL() + "/")
	cfg.Mode = config.ModeUpdate
	cfg.SeedURL = ""
	cfg.Domain = host.Host

	fetch := fetcher.NewStaticFetcher(cfg, nil)
	defer fetch.Close()

	m, err := NewManager(cfg, store, fetch, nil, nil, nil, nil)
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	require.NoError(t, err)

	page, err := store.GetPageByID(id)
	require.NoError(t, err)
	assert.True(t, page.IsCrawled)
	assert.Equal(t, 2, page.CrawlCount)
	assert.Equal(t, 1, ts.Hits("/"))
}

func TestCrawlConcurrentWorkers(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()
	ts.AddPage("/", `<a href="/p1">1</a><a href="/p2">2</a><a href="/p3">3</a><a href="/p4">4</a>`)
	for _, p := range []string{"/p1", "/p2", "/p3", "/p4"} {
		ts.AddPage(p, `<html>leaf</html>`)
	}

	store := newTestStore(t)
	cfg := newScanConfig(ts.URL() + "/")
	cfg.Workers = 4

	fetch := fetcher.NewStaticFetcher(cfg, nil)
	defer fetch.Close()

	m, err := NewManager(cfg, store, fetch, nil, nil, nil, nil)
	require.NoError(t, err)

	stats, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, stats.Crawled)

	for _, p := range []string{"/p1", "/p2", "/p3", "/p4"} {
		assert.Equal(t, 1, ts.Hits(p), "page %s fetched exactly once", p)
	}
}
