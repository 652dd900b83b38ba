package robots

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crawltest "github.com/advanced-crawler/crawler/internal/testing"
)

const testAgent = "TestBot/1.0"

func TestAllowedRespectsDisallow(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()

	ts.AddPageWithType("/robots.txt", "User-agent: *\nDisallow: /private/\n", "text/plain")

	c := NewCache(ts.Server.Client(), testAgent, nil)
	ctx := context.Background()

	assert.True(t, c.Allowed(ctx, ts.URL()+"/public/page"))
	assert.False(t, c.Allowed(ctx, ts.URL()+"/private/page"))
}

func TestAllowedCachesPerHost(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()

	ts.AddPageWithType("/robots.txt", "User-agent: *\nDisallow:\n", "text/plain")

	c := NewCache(ts.Server.Client(), testAgent, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, c.Allowed(ctx, ts.URL()+"/page"))
	}
	assert.Equal(t, 1, ts.Hits("/robots.txt"))
}

func TestMissingRobotsAllowsAll(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()
	// No robots.txt registered; the server answers 404.

	c := NewCache(ts.Server.Client(), testAgent, nil)
	assert.True(t, c.Allowed(context.Background(), ts.URL()+"/anything"))
}

func TestUnreachableHostAllowsAll(t *testing.T) {
	c := NewCache(&http.Client{}, testAgent, nil)
	assert.True(t, c.Allowed(context.Background(), "http://127.0.0.1:1/page"))
}

func TestSitemapsFromRobots(t *testing.T) {
	ts := crawltest.NewTestServer()
	defer ts.Close()

	ts.AddPageWithType("/robots.txt",
		"User-agent: *\nDisallow:\nSitemap: https://example.com/sitemap.xml\nSitemap: https://example.com/news.xml\n",
		"text/plain")

	c := NewCache(ts.Server.Client(), testAgent, nil)

	u, err := url.Parse(ts.URL())
	require.NoError(t, err)

	sitemaps := c.Sitemaps(context.Background(), u.Scheme, u.Host)
	assert.Equal(t, []string{
		"https://example.com/sitemap.xml",
		"https://example.com/news.xml",
	}, sitemaps)
}

func TestUnparseableURLAllowed(t *testing.T) {
	c := NewCache(&http.Client{}, testAgent, nil)
	assert.True(t, c.Allowed(context.Background(), "relative/path"))
}
