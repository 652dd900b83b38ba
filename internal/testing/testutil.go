// Package testing provides test utilities for the crawler.
package testing

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// TestServer provides a configurable test HTTP server.
type TestServer struct {
	Server    *httptest.Server
	mu        sync.RWMutex
	pages     map[string]*TestPage
	delays    map[string]time.Duration
	errors    map[string]int // path -> status code
	hits      map[string]int
	redirects map[string]string
}

// TestPage represents a test page.
type TestPage struct {
	Content     string
	ContentType string
	StatusCode  int
	Headers     map[string]string
}

// NewTestServer creates a new test server.
func NewTestServer() *TestServer {
	ts := &TestServer{
		pages:     make(map[string]*TestPage),
		delays:    make(map[string]time.Duration),
		errors:    make(map[string]int),
		hits:      make(map[string]int),
		redirects: make(map[string]string),
	}

	ts.Server = httptest.NewServer(http.HandlerFunc(ts.handler))
	return ts
}

func (ts *TestServer) handler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	ts.mu.Lock()
	ts.hits[path]++
	ts.mu.Unlock()

	ts.mu.RLock()
	delay := ts.delays[path]
	errorCode := ts.errors[path]
	redirect := ts.redirects[path]
	page := ts.pages[path]
	ts.mu.RUnlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if redirect != "" {
		http.Redirect(w, r, redirect, http.StatusMovedPermanently)
		return
	}

	if errorCode > 0 {
		w.WriteHeader(errorCode)
		return
	}

	if page != nil {
		for k, v := range page.Headers {
			w.Header().Set(k, v)
		}
		if page.ContentType != "" {
			w.Header().Set("Content-Type", page.ContentType)
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		if page.StatusCode > 0 {
			w.WriteHeader(page.StatusCode)
		}
		io.WriteString(w, page.Content)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

// AddPage adds a test page served with text/html.
func (ts *TestServer) AddPage(path, content string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.pages[path] = &TestPage{
		Content:     content,
		ContentType: "text/html; charset=utf-8",
		StatusCode:  200,
	}
}

// AddPageWithType adds a page with a specific content type.
func (ts *TestServer) AddPageWithType(path, content, contentType string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.pages[path] = &TestPage{
		Content:     content,
		ContentType: contentType,
		StatusCode:  200,
	}
}

// AddRedirect redirects path to target with a 301.
func (ts *TestServer) AddRedirect(path, target string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.redirects[path] = target
}

// AddError makes path return the given status code with no body.
func (ts *TestServer) AddError(path string, statusCode int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.errors[path] = statusCode
}

// AddDelay makes path respond after the given delay.
func (ts *TestServer) AddDelay(path string, delay time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.delays[path] = delay
}

// Hits returns how many times path was requested.
func (ts *TestServer) Hits(path string) int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.hits[path]
}

// URL returns the base URL of the server.
func (ts *TestServer) URL() string {
	return ts.Server.URL
}

// Close shuts the server down.
func (ts *TestServer) Close() {
	ts.Server.Close()
}
