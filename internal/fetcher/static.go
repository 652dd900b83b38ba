package fetcher

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/advanced-crawler/crawler/internal/config"
)

// StaticFetcher performs plain HTTP GETs with manual redirect following so
// the full chain is recorded.
type StaticFetcher struct {
	client      *http.Client
	config      *config.CrawlConfig
	maxBodySize int64
	transport   *http.Transport
	logger      *zap.Logger
}

// NewStaticFetcher creates an HTTP fetcher from the crawl configuration.
func NewStaticFetcher(cfg *config.CrawlConfig, logger *zap.Logger) *StaticFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Custom transport for connection pooling and timeouts
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: false,
		},
	}

	f := &StaticFetcher{
		config:      cfg,
		maxBodySize: 10 * 1024 * 1024, // 10MB
		transport:   transport,
		logger:      logger,
	}

	f.client = &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Stop here so redirects are followed manually
			return http.ErrUseLastResponse
		},
	}

	return f
}

// Fetch retrieves a URL, following up to MaxRedirects redirects while
// recording every hop.
func (f *StaticFetcher) Fetch(ctx context.Context, rawURL string) *Result {
	startTime := time.Now()
	result := &Result{RequestURL: rawURL}

	currentURL := rawURL

	for i := 0; i <= f.config.MaxRedirects; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, nil)
		if err != nil {
			result.Error = fmt.Errorf("failed to create request: %w", err)
			result.FinalURL = currentURL
			return result
		}
		f.setRequestHeaders(req)

		resp, err := f.client.Do(req)
		if err != nil {
			result.Error = categorizeError(err)
			result.FinalURL = currentURL
			result.ResponseTime = time.Since(startTime)
			return result
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			resp.Body.Close()

			result.RedirectChain = append(result.RedirectChain, currentURL)

			if location == "" {
				result.FinalURL = currentURL
				result.StatusCode = resp.StatusCode
				result.ResponseTime = time.Since(startTime)
				return result
			}

			redirectURL, err := resolveRedirect(currentURL, location)
			if err != nil {
				result.Error = fmt.Errorf("invalid redirect location: %w", err)
				result.FinalURL = currentURL
				result.StatusCode = resp.StatusCode
				result.ResponseTime = time.Since(startTime)
				return result
			}

			currentURL = redirectURL
			continue
		}

		// Final response
		result.FinalURL = currentURL
		result.StatusCode = resp.StatusCode
		result.ContentType, result.Encoding = splitContentType(resp.Header.Get("Content-Type"))

		body, err := f.readBody(resp)
		resp.Body.Close()
		if err != nil {
			result.Error = fmt.Errorf("failed to read body: %w", err)
		} else {
			result.Body = body
			result.ContentLength = int64(len(body))
		}

		result.ResponseTime = time.Since(startTime)
		return result
	}

	result.Error = fmt.Errorf("max redirects (%d) exceeded", f.config.MaxRedirects)
	result.FinalURL = currentURL
	result.ResponseTime = time.Since(startTime)
	return result
}

// Close releases idle connections.
func (f *StaticFetcher) Close() error {
	f.transport.CloseIdleConnections()
	return nil
}

func (f *StaticFetcher) setRequestHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Connection", "keep-alive")
}

// readBody reads the response body with gzip handling and a size limit.
func (f *StaticFetcher) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode error: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}

	return io.ReadAll(io.LimitReader(reader, f.maxBodySize))
}

// categorizeError wraps network errors with a recognizable prefix.
func categorizeError(err error) error {
	if err == nil {
		return nil
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return fmt.Errorf("timeout: %w", err)
	}

	if _, ok := err.(*net.DNSError); ok {
		return fmt.Errorf("DNS error: %w", err)
	}

	if opErr, ok := err.(*net.OpError); ok && opErr.Op == "dial" {
		return fmt.Errorf("connection failed: %w", err)
	}

	if strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "certificate") {
		return fmt.Errorf("TLS error: %w", err)
	}

	return err
}

func resolveRedirect(baseURL, location string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(loc).String(), nil
}
