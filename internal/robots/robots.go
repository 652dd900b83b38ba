// Package robots caches per-host robots.txt policies.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Cache fetches robots.txt once per host and answers fetch-permission
// queries against the cached policy. A host whose robots.txt cannot be
// fetched is cached as allow-all so the failure is not retried on every URL.
type Cache struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	data     *robotstxt.RobotsData // nil when the fetch failed
	sitemaps []string
}

// NewCache creates a robots cache. A nil client gets a default with a
// 10 second timeout.
func NewCache(client *http.Client, userAgent string, logger *zap.Logger) *Cache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

// Allowed reports whether the configured user agent may fetch rawURL under
// the host's robots.txt. Unparseable URLs and unfetchable policies allow.
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	e := c.lookup(ctx, u.Scheme, u.Host)
	if e.data == nil {
		return true
	}

	group := e.data.FindGroup(c.userAgent)
	if group == nil {
		return true
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

// Sitemaps returns the sitemap URLs declared in the host's robots.txt.
func (c *Cache) Sitemaps(ctx context.Context, scheme, host string) []string {
	return c.lookup(ctx, scheme, host).sitemaps
}

func (c *Cache) lookup(ctx context.Context, scheme, host string) *entry {
	host = strings.ToLower(host)

	c.mu.Lock()
	if e, ok := c.entries[host]; ok {
		c.mu.Unlock()
		return e
	}
	c.mu.Unlock()

	e := c.fetch(ctx, scheme, host)

	c.mu.Lock()
	// A concurrent fetch may have won; keep the first result.
	if existing, ok := c.entries[host]; ok {
		c.mu.Unlock()
		return existing
	}
	c.entries[host] = e
	c.mu.Unlock()
	return e
}

func (c *Cache) fetch(ctx context.Context, scheme, host string) *entry {
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &entry{}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("robots.txt fetch failed, allowing all",
			zap.String("host", host), zap.Error(err))
		return &entry{}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		c.logger.Warn("robots.txt read failed, allowing all",
			zap.String("host", host), zap.Error(err))
		return &entry{}
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		c.logger.Warn("robots.txt parse failed, allowing all",
			zap.String("host", host), zap.Error(err))
		return &entry{}
	}

	c.logger.Debug("robots.txt loaded",
		zap.String("host", host),
		zap.Int("status", resp.StatusCode),
		zap.Int("sitemaps", len(data.Sitemaps)))

	return &entry{data: data, sitemaps: data.Sitemaps}
}
