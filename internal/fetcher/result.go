// Package fetcher retrieves pages over HTTP with redirect tracking.
package fetcher

import (
	"context"
	"strings"
	"time"
)

// Fetcher retrieves a single page. Implementations are the plain HTTP
// fetcher and the headless-browser renderer.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) *Result
	Close() error
}

// Result represents the outcome of fetching one URL.
type Result struct {
	// Original requested URL
	RequestURL string

	// Final URL after redirects
	FinalURL string

	// HTTP status code of the final response
	StatusCode int

	// Content-Type header value, media type only
	ContentType string

	// Charset from the Content-Type header, if declared
	Encoding string

	// Actual body size in bytes
	ContentLength int64

	// Response body (HTML content)
	Body []byte

	// URLs visited before the final response, requested URL first
	RedirectChain []string

	// Total response time
	ResponseTime time.Duration

	// Document title, populated by the browser fetcher only
	Title string

	// Clickable elements harvested from the rendered DOM, browser only
	DynamicElements []DynamicElement

	// Error if the request failed
	Error error
}

// DynamicElement describes a clickable element found in a rendered page.
type DynamicElement struct {
	Tag     string
	ID      string
	Class   string
	Href    string
	OnClick string
	Text    string
}

// IsSuccess returns true if the response was successful (2xx).
func (r *Result) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsHTML reports whether the body should be parsed as an HTML document.
func (r *Result) IsHTML() bool {
	return r.ContentType == "" ||
		strings.Contains(r.ContentType, "text/html") ||
		strings.Contains(r.ContentType, "application/xhtml")
}

// splitContentType separates a Content-Type header into media type and charset.
func splitContentType(header string) (mediaType, charset string) {
	parts := strings.Split(header, ";")
	mediaType = strings.TrimSpace(strings.ToLower(parts[0]))
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "charset=") {
			charset = strings.Trim(part[len("charset="):], `"'`)
		}
	}
	return mediaType, charset
}
