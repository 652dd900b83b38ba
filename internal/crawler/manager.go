// Package crawler coordinates the crawl: seeding, the frontier, and the
// worker pool.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/advanced-crawler/crawler/internal/config"
	"github.com/advanced-crawler/crawler/internal/fetcher"
	"github.com/advanced-crawler/crawler/internal/processor"
	"github.com/advanced-crawler/crawler/internal/robots"
	"github.com/advanced-crawler/crawler/internal/sitemap"
	"github.com/advanced-crawler/crawler/internal/storage"
	"github.com/advanced-crawler/crawler/internal/urlutil"
)

// ErrAborted is returned when the caller declines a destructive startup
// action.
var ErrAborted = errors.New("crawl aborted")

// Confirmer answers yes/no questions about destructive actions so the
// engine itself stays headless.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(prompt string) bool

// Confirm calls f.
func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Stats carries the counters reported at the end of a run.
type Stats struct {
	Crawled  int64
	Errors   int64
	Admitted int64
	Duration time.Duration
}

// Manager owns one crawl run.
type Manager struct {
	cfg        *config.CrawlConfig
	store      *storage.Database
	fetch      fetcher.Fetcher
	proc       *processor.Processor
	robots     *robots.Cache
	sitemaps   *sitemap.Fetcher
	normalizer *urlutil.Normalizer
	traps      *urlutil.TrapDetector
	confirmer  Confirmer
	logger     *zap.Logger

	queue *workQueue

	crawled  atomic.Int64
	errored  atomic.Int64
	admitted atomic.Int64

	// Host filter applied when draining the store; empty in continue mode.
	domainFilter string
	baseHost     string
}

// NewManager wires a crawl run together. The fetcher is chosen by the
// caller (static or browser).
func NewManager(cfg *config.CrawlConfig, store *storage.Database, fetch fetcher.Fetcher,
	robotsCache *robots.Cache, sitemapFetcher *sitemap.Fetcher,
	confirmer Confirmer, logger *zap.Logger) (*Manager, error) {

	if logger == nil {
		logger = zap.NewNop()
	}
	if confirmer == nil {
		confirmer = ConfirmFunc(func(string) bool { return true })
	}

	normalizer := urlutil.NewNormalizer(cfg.TrackingParams)
	traps := urlutil.NewTrapDetector(cfg.MaxPathDepth, cfg.MaxRepeatingSegments,
		cfg.MaxQueryVariations, logger)

	m := &Manager{
		cfg:        cfg,
		store:      store,
		fetch:      fetch,
		robots:     robotsCache,
		sitemaps:   sitemapFetcher,
		normalizer: normalizer,
		traps:      traps,
		confirmer:  confirmer,
		logger:     logger,
		queue:      newWorkQueue(),
	}

	switch cfg.Mode {
	case config.ModeNewScan:
		host, err := urlutil.ExtractHost(cfg.SeedURL)
		if err != nil || host == "" {
			return nil, fmt.Errorf("invalid seed URL %q", cfg.SeedURL)
		}
		m.baseHost = host
		m.domainFilter = host
	case config.ModeUpdate:
		if cfg.Domain == "" {
			return nil, errors.New("update mode requires a domain")
		}
		m.baseHost = cfg.Domain
		m.domainFilter = cfg.Domain
	case config.ModeContinue:
		// No host filter; pages from any domain drain.
		m.baseHost = cfg.Domain
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	m.proc = processor.NewProcessor(store, normalizer, traps, m.baseHost, logger)
	return m, nil
}

// Run executes the crawl until the frontier drains or ctx is cancelled.
func (m *Manager) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()

	if err := m.prepare(ctx); err != nil {
		return nil, err
	}

	m.logSummary("crawl starting")

	items, err := m.store.UncrawledPages(m.domainFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to load frontier: %w", err)
	}
	for _, item := range items {
		m.queue.push(item)
	}

	if m.queue.pending() == 0 {
		m.logger.Info("nothing to crawl")
		return &Stats{Duration: time.Since(start)}, nil
	}

	// Close the queue on cancellation so workers stop taking new items.
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.logger.Info("shutdown requested, finishing in-flight items")
			m.queue.close()
		case <-stopWatch:
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	close(stopWatch)

	stats := &Stats{
		Crawled:  m.crawled.Load(),
		Errors:   m.errored.Load(),
		Admitted: m.admitted.Load(),
		Duration: time.Since(start),
	}

	m.logger.Info("crawl finished",
		zap.Int64("crawled", stats.Crawled),
		zap.Int64("errors", stats.Errors),
		zap.Int64("admitted", stats.Admitted),
		zap.Duration("duration", stats.Duration))

	return stats, nil
}

// prepare runs the mode-specific startup: seeding for a new scan, flag
// reset for an update, nothing for continue.
func (m *Manager) prepare(ctx context.Context) error {
	switch m.cfg.Mode {
	case config.ModeNewScan:
		return m.prepareNewScan(ctx)
	case config.ModeUpdate:
		if err := m.store.ResetDomain(m.cfg.Domain); err != nil {
			return fmt.Errorf("failed to reset domain: %w", err)
		}
		return nil
	default:
		return nil
	}
}

func (m *Manager) prepareNewScan(ctx context.Context) error {
	existing, err := m.store.CountPages(m.baseHost)
	if err != nil {
		return err
	}
	if existing > 0 {
		prompt := fmt.Sprintf("Delete %d existing pages for %s and start over?", existing, m.baseHost)
		if !m.confirmer.Confirm(prompt) {
			return ErrAborted
		}
		if err := m.store.DeleteDomain(m.baseHost); err != nil {
			return fmt.Errorf("failed to purge domain: %w", err)
		}
	}

	canonical, err := m.normalizer.Canonicalize(m.cfg.SeedURL, m.cfg.SeedURL)
	if err != nil {
		return fmt.Errorf("invalid seed URL: %w", err)
	}
	if _, err := m.store.AddPage(m.cfg.SeedURL, canonical, "", 0); err != nil {
		return fmt.Errorf("failed to insert seed: %w", err)
	}

	m.seedFromSitemaps(ctx)
	return nil
}

// seedFromSitemaps inserts every internal sitemap URL as a depth-0 page
// with parent "sitemap". Sitemap failures never fail the crawl.
func (m *Manager) seedFromSitemaps(ctx context.Context) {
	if m.sitemaps == nil {
		return
	}

	seed, err := url.Parse(m.cfg.SeedURL)
	if err != nil {
		return
	}

	var sitemapURLs []string
	if m.robots != nil {
		sitemapURLs = m.robots.Sitemaps(ctx, seed.Scheme, m.baseHost)
	}
	if len(sitemapURLs) == 0 {
		sitemapURLs = []string{fmt.Sprintf("https://%s/sitemap.xml", m.baseHost)}
	}

	seeded := 0
	for _, loc := range m.sitemaps.URLs(ctx, sitemapURLs) {
		if !urlutil.IsInternal(loc, m.baseHost) {
			continue
		}
		canonical, err := m.normalizer.Canonicalize(loc, m.cfg.SeedURL)
		if err != nil {
			continue
		}
		if m.traps.IsTrap(canonical) {
			continue
		}
		if _, err := m.store.AddPage(loc, canonical, "sitemap", 0); err != nil {
			m.logger.Warn("sitemap page insert failed", zap.String("url", loc), zap.Error(err))
			continue
		}
		seeded++
	}

	if seeded > 0 {
		m.logger.Info("seeded pages from sitemaps", zap.Int("count", seeded))
	}
}

func (m *Manager) worker(ctx context.Context, id int) {
	logger := m.logger.With(zap.Int("worker", id))
	limiter := rate.NewLimiter(rate.Every(m.cfg.Delay), 1)

	for {
		item, ok := m.queue.pop()
		if !ok {
			return
		}

		m.crawlOne(ctx, logger, limiter, item)
		m.queue.done()

		if ctx.Err() != nil {
			return
		}
	}
}

func (m *Manager) crawlOne(ctx context.Context, logger *zap.Logger, limiter *rate.Limiter, item storage.QueueItem) {
	if !m.cfg.DisregardRobots && m.robots != nil && !m.robots.Allowed(ctx, item.URL) {
		logger.Info("robots denied", zap.String("url", item.URL))
		m.finishWithError(item.PageID, 403, "Disallowed by robots.txt")
		return
	}

	if item.Depth > m.cfg.MaxDepth {
		m.finishWithError(item.PageID, 0, "Max depth reached")
		return
	}

	result := m.fetch.Fetch(ctx, item.URL)
	update, admissions := m.proc.Process(result, item.PageID, item.URL, item.Depth, m.cfg.MaxDepth)

	if err := m.store.UpdatePageCrawl(item.PageID, update); err != nil {
		logger.Error("page update failed", zap.String("url", item.URL), zap.Error(err))
	}

	if result.Error != nil {
		m.errored.Add(1)
		logger.Warn("fetch failed", zap.String("url", item.URL), zap.Error(result.Error))
	} else {
		m.crawled.Add(1)
		logger.Debug("page crawled",
			zap.String("url", item.URL),
			zap.Int("status", result.StatusCode),
			zap.Int("depth", item.Depth),
			zap.Int("new_links", len(admissions)))
	}

	for _, admission := range admissions {
		pageID, err := m.store.AddPage(admission.RawURL, admission.CanonicalURL,
			admission.ParentURL, admission.Depth)
		if err != nil {
			logger.Warn("admission insert failed",
				zap.String("url", admission.RawURL), zap.Error(err))
			continue
		}
		if m.queue.push(storage.QueueItem{PageID: pageID, URL: admission.RawURL, Depth: admission.Depth}) {
			m.admitted.Add(1)
		}
	}

	// Politeness delay between fetches on this worker
	if err := limiter.Wait(ctx); err != nil {
		return
	}
}

func (m *Manager) finishWithError(pageID int64, status int, message string) {
	update := &storage.PageUpdate{StatusCode: status, ErrorMessage: message}
	if err := m.store.UpdatePageCrawl(pageID, update); err != nil {
		m.logger.Error("page update failed", zap.Int64("page_id", pageID), zap.Error(err))
	}
	m.errored.Add(1)
}

func (m *Manager) logSummary(msg string) {
	total, _ := m.store.CountPages(m.domainFilter)
	crawled, _ := m.store.CountCrawled(m.domainFilter)
	pending, _ := m.store.CountUncrawled(m.domainFilter)

	m.logger.Info(msg,
		zap.String("mode", string(m.cfg.Mode)),
		zap.String("domain", m.domainFilter),
		zap.Int("total_pages", total),
		zap.Int("crawled", crawled),
		zap.Int("pending", pending),
		zap.Int("workers", m.cfg.Workers),
		zap.Int("max_depth", m.cfg.MaxDepth))
}
