// Package renderer fetches pages through headless Chromium so
// JavaScript-built content is visible to extraction.
package renderer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/advanced-crawler/crawler/internal/config"
	"github.com/advanced-crawler/crawler/internal/fetcher"
)

// clickableXPath selects elements the crawler treats as potential
// navigation: anything with an onclick, an href, or a link/button class.
const clickableXPath = `//*[@onclick or @href or contains(@class, 'link') or contains(@class, 'btn')]`

// maxClickables bounds the dynamic-element harvest per page.
const maxClickables = 100

// settleDelay is the fixed wait after body readiness, giving scripts time
// to build the DOM.
const settleDelay = 2 * time.Second

// Renderer is a browser-backed fetcher. A single Chromium tab serializes
// all fetches; it must not be shared without the internal lock.
type Renderer struct {
	mu sync.Mutex

	config    *config.CrawlConfig
	allocator context.Context
	cancelAll context.CancelFunc
	browser   context.Context
	cancelTab context.CancelFunc
	logger    *zap.Logger
}

// NewRenderer starts a headless Chromium instance. The returned error is the
// caller's cue to demote to static fetching.
func NewRenderer(cfg *config.CrawlConfig, logger *zap.Logger) (*Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ChromiumPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromiumPath))
	}

	allocator, cancelAll := chromedp.NewExecAllocator(context.Background(), opts...)
	browser, cancelTab := chromedp.NewContext(allocator)

	// Start the browser now so init failures surface here, not mid-crawl.
	if err := chromedp.Run(browser); err != nil {
		cancelTab()
		cancelAll()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Renderer{
		config:    cfg,
		allocator: allocator,
		cancelAll: cancelAll,
		browser:   browser,
		cancelTab: cancelTab,
		logger:    logger,
	}, nil
}

// Fetch loads the URL in the browser, waits for the body plus a settle
// delay, and returns the rendered DOM. The status code is reported as 200
// whenever the browser produced a page; the driver does not expose the
// underlying HTTP status reliably.
func (r *Renderer) Fetch(ctx context.Context, rawURL string) *fetcher.Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	startTime := time.Now()
	result := &fetcher.Result{RequestURL: rawURL}

	timeoutCtx, cancel := context.WithTimeout(r.browser, r.config.Timeout)
	defer cancel()

	// Dismiss any dialogs that would block navigation
	chromedp.ListenTarget(timeoutCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go chromedp.Run(timeoutCtx, page.HandleJavaScriptDialog(true))
		}
	})

	var html, title, finalURL string
	var nodes []*cdp.Node

	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
		chromedp.Nodes(clickableXPath, &nodes, chromedp.BySearch, chromedp.AtLeast(0)),
	)

	result.ResponseTime = time.Since(startTime)

	if err != nil {
		result.Error = fmt.Errorf("browser fetch failed: %w", err)
		result.FinalURL = rawURL
		return result
	}

	result.FinalURL = finalURL
	result.StatusCode = 200
	result.ContentType = "text/html"
	result.Title = title
	result.Body = []byte(html)
	result.ContentLength = int64(len(html))
	result.DynamicElements = harvestClickables(nodes)

	return result
}

// Close shuts down the browser.
func (r *Renderer) Close() error {
	r.cancelTab()
	r.cancelAll()
	return nil
}

func harvestClickables(nodes []*cdp.Node) []fetcher.DynamicElement {
	if len(nodes) > maxClickables {
		nodes = nodes[:maxClickables]
	}
	elements := make([]fetcher.DynamicElement, 0, len(nodes))
	for _, node := range nodes {
		element := fetcher.DynamicElement{
			Tag:     strings.ToLower(node.LocalName),
			ID:      node.AttributeValue("id"),
			Class:   node.AttributeValue("class"),
			Href:    node.AttributeValue("href"),
			OnClick: node.AttributeValue("onclick"),
			Text:    nodeText(node),
		}
		if element.Href == "" && element.OnClick == "" {
			continue
		}
		elements = append(elements, element)
	}
	return elements
}

// nodeText collects the immediate text children of a node.
func nodeText(node *cdp.Node) string {
	var parts []string
	for _, child := range node.Children {
		if child.NodeType == 3 { // text node
			if trimmed := strings.TrimSpace(child.NodeValue); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
	}
	return strings.Join(parts, " ")
}
