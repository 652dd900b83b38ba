package processor

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advanced-crawler/crawler/internal/fetcher"
	"github.com/advanced-crawler/crawler/internal/storage"
	"github.com/advanced-crawler/crawler/internal/urlutil"
)

const pageHTML = `<html lang="en">
<head>
<title>Test Page</title>
<meta name="description" content="A test page">
<meta name="keywords" content="test, page">
<meta name="robots" content="index, follow">
<meta property="og:title" content="OG Test">
<meta property="og:image" content="http://example.com/og.png">
<meta name="twitter:card" content="summary">
<link rel="canonical" href="http://example.com/page">
</head>
<body>
<a href="/internal">Internal</a>
<a href="https://other.com/ext">External</a>
<img src="pic.jpg" alt="pic">
</body>
</html>`

func newTestProcessor(t *testing.T) (*Processor, *storage.Database) {
	t.Helper()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { db.Close() })

	normalizer := urlutil.NewNormalizer(nil)
	traps := urlutil.NewTrapDetector(10, 3, 5, nil)
	return NewProcessor(db, normalizer, traps, "example.com", nil), db
}

func addPage(t *testing.T, db *storage.Database, url string, depth int) int64 {
	t.Helper()
	id, err := db.AddPage(url, url, "", depth)
	require.NoError(t, err)
	return id
}

func okResult(url, body string) *fetcher.Result {
	return &fetcher.Result{
		RequestURL:    url,
		FinalURL:      url,
		StatusCode:    200,
		ContentType:   "text/html",
		Encoding:      "utf-8",
		ContentLength: int64(len(body)),
		Body:          []byte(body),
		ResponseTime:  25 * time.Millisecond,
	}
}

func TestProcessHarvestsMetadata(t *testing.T) {
	p, db := newTestProcessor(t)
	id := addPage(t, db, "http://example.com/page", 0)

	update, _ := p.Process(okResult("http://example.com/page", pageHTML), id, "http://example.com/page", 0, 3)

	assert.Equal(t, 200, update.StatusCode)
	assert.Equal(t, int64(25), update.ResponseTimeMs)
	assert.Equal(t, "text/html", update.ContentType)
	assert.Equal(t, "utf-8", update.Encoding)
	assert.Equal(t, "Test Page", update.Title)
	assert.Equal(t, "A test page", update.MetaDescription)
	assert.Equal(t, "test, page", update.MetaKeywords)
	assert.Equal(t, "index, follow", update.RobotsMeta)
	assert.Equal(t, "OG Test", update.OGTitle)
	assert.Equal(t, "http://example.com/og.png", update.OGImage)
	assert.Equal(t, "summary", update.TwitterCard)
	assert.Equal(t, "http://example.com/page", update.CanonicalURL)
	assert.Equal(t, "en", update.Language)
}

func TestProcessAdmitsInternalLinks(t *testing.T) {
	p, db := newTestProcessor(t)
	id := addPage(t, db, "http://example.com/page", 0)

	_, admissions := p.Process(okResult("http://example.com/page", pageHTML), id, "http://example.com/page", 0, 3)

	// The internal anchor and the canonical link tag both point at this host.
	require.Len(t, admissions, 2)

	byRaw := make(map[string]Admission)
	for _, a := range admissions {
		byRaw[a.RawURL] = a
	}
	internal, ok := byRaw["http://example.com/internal"]
	require.True(t, ok)
	assert.Equal(t, "http://example.com/internal", internal.CanonicalURL)
	assert.Equal(t, "http://example.com/page", internal.ParentURL)
	assert.Equal(t, 1, internal.Depth)

	_, ok = byRaw["https://other.com/ext"]
	assert.False(t, ok, "external links are never admitted")
}

func TestProcessRecordsExternalPagesAtDepthZero(t *testing.T) {
	p, db := newTestProcessor(t)
	id := addPage(t, db, "http://example.com/page", 0)

	p.Process(okResult("http://example.com/page", pageHTML), id, "http://example.com/page", 0, 3)

	external, err := db.GetPageByNormalizedURL("https://other.com/ext")
	require.NoError(t, err)
	require.NotNil(t, external)
	assert.Equal(t, 0, external.CrawlDepth)
	assert.Empty(t, external.ParentURL)
	assert.False(t, external.IsCrawled)
}

func TestProcessStoresLinksAndResources(t *testing.T) {
	p, db := newTestProcessor(t)
	id := addPage(t, db, "http://example.com/page", 0)

	p.Process(okResult("http://example.com/page", pageHTML), id, "http://example.com/page", 0, 3)

	links, err := db.GetLinksBySource(id)
	require.NoError(t, err)
	// Two anchors plus the canonical link tag.
	assert.Len(t, links, 3)

	resources, err := db.GetResourcesByPage(id)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "http://example.com/pic.jpg", resources[0].URL)
	assert.Equal(t, "image", resources[0].Type)
}

func TestProcessStopsAtMaxDepth(t *testing.T) {
	p, db := newTestProcessor(t)
	id := addPage(t, db, "http://example.com/page", 3)

	_, admissions := p.Process(okResult("http://example.com/page", pageHTML), id, "http://example.com/page", 3, 3)
	assert.Empty(t, admissions)
}

func TestProcessNonHTMLBody(t *testing.T) {
	p, db := newTestProcessor(t)
	id := addPage(t, db, "http://example.com/data.json", 0)

	result := okResult("http://example.com/data.json", `{"a":1}`)
	result.ContentType = "application/json"

	update, admissions := p.Process(result, id, "http://example.com/data.json", 0, 3)
	assert.Equal(t, 200, update.StatusCode)
	assert.Empty(t, admissions)

	links, err := db.GetLinksBySource(id)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestProcessFetchError(t *testing.T) {
	p, db := newTestProcessor(t)
	id := addPage(t, db, "http://example.com/down", 0)

	result := &fetcher.Result{
		RequestURL: "http://example.com/down",
		FinalURL:   "http://example.com/down",
		Error:      errors.New("timeout: context deadline exceeded"),
	}

	update, admissions := p.Process(result, id, "http://example.com/down", 0, 3)
	assert.Equal(t, "timeout: context deadline exceeded", update.ErrorMessage)
	assert.Zero(t, update.StatusCode)
	assert.Empty(t, admissions)
}

func TestProcessRedirectInfo(t *testing.T) {
	p, db := newTestProcessor(t)
	id := addPage(t, db, "http://example.com/old", 0)

	result := okResult("http://example.com/new", "<html></html>")
	result.RequestURL = "http://example.com/old"
	result.RedirectChain = []string{"http://example.com/old"}

	update, _ := p.Process(result, id, "http://example.com/old", 0, 3)
	assert.Equal(t, "http://example.com/new", update.RedirectURL)
	assert.JSONEq(t, `["http://example.com/old"]`, update.RedirectChain)
}

func TestProcessRecordsJavaScriptEvents(t *testing.T) {
	p, db := newTestProcessor(t)
	id := addPage(t, db, "http://example.com/page", 0)

	body := `<html><body>
<button id="go" class="cta" onclick="window.location='/go'">Go</button>
<script>fetch('/api/data')</script>
</body></html>`

	p.Process(okResult("http://example.com/page", body), id, "http://example.com/page", 0, 3)

	events, err := db.GetJavaScriptEventsByPage(id)
	require.NoError(t, err)
	require.Len(t, events, 2)

	byType := make(map[string]*storage.JavaScriptEvent)
	for _, e := range events {
		byType[e.EventType] = e
	}

	onclick, ok := byType["onclick"]
	require.True(t, ok)
	assert.Equal(t, "button", onclick.ElementTag)
	assert.Equal(t, "go", onclick.ElementID)
	assert.Equal(t, "cta", onclick.ElementClass)
	assert.Equal(t, "window.location='/go'", onclick.HandlerCode)
	assert.Equal(t, "http://example.com/go", onclick.DetectedURL)

	script, ok := byType["script"]
	require.True(t, ok)
	assert.Equal(t, "http://example.com/api/data", script.DetectedURL)
}

func TestProcessDynamicElements(t *testing.T) {
	p, db := newTestProcessor(t)
	id := addPage(t, db, "http://example.com/page", 0)

	result := okResult("http://example.com/page", "<html><body></body></html>")
	result.DynamicElements = []fetcher.DynamicElement{
		{Tag: "div", Class: "btn", OnClick: "window.location='/clicked'", Text: "Click"},
		{Tag: "a", Href: "/direct", Text: "Direct"},
	}

	_, admissions := p.Process(result, id, "http://example.com/page", 0, 3)

	links, err := db.GetLinksBySource(id)
	require.NoError(t, err)

	var dynamic []*storage.Link
	for _, l := range links {
		if l.Type == "dynamic" {
			dynamic = append(dynamic, l)
		}
	}
	require.Len(t, dynamic, 2)

	targets := []string{dynamic[0].TargetURL, dynamic[1].TargetURL}
	assert.Contains(t, targets, "http://example.com/clicked")
	assert.Contains(t, targets, "http://example.com/direct")
	assert.Len(t, admissions, 2)

	// Every dynamic link gets an event row carrying the element identity.
	events, err := db.GetJavaScriptEventsByPage(id)
	require.NoError(t, err)
	require.Len(t, events, 2)

	tags := []string{events[0].ElementTag, events[1].ElementTag}
	assert.Contains(t, tags, "div")
	assert.Contains(t, tags, "a")
	for _, e := range events {
		assert.Equal(t, "onclick", e.EventType)
	}
}
