// Package sitemap fetches and parses XML sitemaps for seed discovery.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// XMLSitemap represents a parsed sitemap.xml
type XMLSitemap struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []SitemapURL `xml:"url"`
}

// XMLSitemapIndex represents a parsed sitemap index.
type XMLSitemapIndex struct {
	XMLName  xml.Name       `xml:"sitemapindex"`
	Sitemaps []SitemapEntry `xml:"sitemap"`
}

// SitemapURL represents a URL entry in a sitemap.
type SitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

// SitemapEntry represents a sitemap entry in a sitemap index.
type SitemapEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// maxIndexDepth bounds recursion through nested sitemap indexes.
const maxIndexDepth = 3

// Fetcher downloads sitemaps and expands indexes into page URLs.
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewFetcher creates a sitemap fetcher. A nil client gets a default with a
// 15 second timeout.
func NewFetcher(client *http.Client, userAgent string, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, userAgent: userAgent, logger: logger}
}

// URLs fetches each sitemap URL, recursing through sitemap indexes, and
// returns the page URLs listed. Unreachable or malformed sitemaps contribute
// nothing; they never fail the call.
func (f *Fetcher) URLs(ctx context.Context, sitemapURLs []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sitemapURL := range sitemapURLs {
		out = f.collect(ctx, sitemapURL, 0, seen, out)
	}
	return out
}

func (f *Fetcher) collect(ctx context.Context, sitemapURL string, depth int, seen map[string]struct{}, out []string) []string {
	if depth > maxIndexDepth {
		return out
	}

	body, err := f.download(ctx, sitemapURL)
	if err != nil {
		f.logger.Warn("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		return out
	}

	// A sitemap document is either a urlset or an index of further sitemaps.
	var urlset XMLSitemap
	if err := xml.Unmarshal(body, &urlset); err == nil && len(urlset.URLs) > 0 {
		for _, entry := range urlset.URLs {
			loc := strings.TrimSpace(entry.Loc)
			if loc == "" {
				continue
			}
			if _, dup := seen[loc]; dup {
				continue
			}
			seen[loc] = struct{}{}
			out = append(out, loc)
		}
		f.logger.Info("sitemap parsed",
			zap.String("url", sitemapURL), zap.Int("urls", len(urlset.URLs)))
		return out
	}

	var index XMLSitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		f.logger.Info("sitemap index parsed",
			zap.String("url", sitemapURL), zap.Int("children", len(index.Sitemaps)))
		for _, child := range index.Sitemaps {
			loc := strings.TrimSpace(child.Loc)
			if loc == "" {
				continue
			}
			out = f.collect(ctx, loc, depth+1, seen, out)
		}
		return out
	}

	f.logger.Warn("sitemap parse failed", zap.String("url", sitemapURL))
	return out
}

func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
}
