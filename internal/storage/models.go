// Package storage provides durable persistence for crawl state.
package storage

import "time"

// Page represents a row in the pages table.
type Page struct {
	ID                int64      `json:"id"`
	URL               string     `json:"url"`
	URLHash           string     `json:"url_hash"`
	NormalizedURL     string     `json:"normalized_url"`
	NormalizedURLHash string     `json:"normalized_url_hash"`
	Domain            string     `json:"domain"`
	Scheme            string     `json:"scheme"`
	Path              string     `json:"path"`
	QueryString       string     `json:"query_string"`
	Fragment          string     `json:"fragment"`
	DiscoveredAt      time.Time  `json:"discovered_at"`
	FirstCrawledAt    *time.Time `json:"first_crawled_at,omitempty"`
	LastCrawledAt     *time.Time `json:"last_crawled_at,omitempty"`
	CrawlCount        int        `json:"crawl_count"`
	StatusCode        int        `json:"status_code"`
	ResponseTimeMs    int64      `json:"response_time_ms"`
	ContentType       string     `json:"content_type"`
	ContentLength     int64      `json:"content_length"`
	Title             string     `json:"title"`
	MetaDescription   string     `json:"meta_description"`
	MetaKeywords      string     `json:"meta_keywords"`
	CanonicalURL      string     `json:"canonical_url"`
	RobotsMeta        string     `json:"robots_meta"`
	OGTitle           string     `json:"og_title"`
	OGDescription     string     `json:"og_description"`
	OGImage           string     `json:"og_image"`
	OGType            string     `json:"og_type"`
	TwitterCard       string     `json:"twitter_card"`
	Language          string     `json:"language"`
	Encoding          string     `json:"encoding"`
	IsCrawled         bool       `json:"is_crawled"`
	CrawlDepth        int        `json:"crawl_depth"`
	ParentURL         string     `json:"parent_url"`
	ErrorMessage      string     `json:"error_message"`
	RedirectURL       string     `json:"redirect_url"`
	RedirectChain     string     `json:"redirect_chain"`
}

// PageUpdate carries everything a completed crawl attempt writes back to a
// page row. Zero values write through as-is.
type PageUpdate struct {
	StatusCode      int    `json:"status_code"`
	ResponseTimeMs  int64  `json:"response_time_ms"`
	ContentType     string `json:"content_type"`
	ContentLength   int64  `json:"content_length"`
	Title           string `json:"title"`
	MetaDescription string `json:"meta_description"`
	MetaKeywords    string `json:"meta_keywords"`
	CanonicalURL    string `json:"canonical_url"`
	RobotsMeta      string `json:"robots_meta"`
	OGTitle         string `json:"og_title"`
	OGDescription   string `json:"og_description"`
	OGImage         string `json:"og_image"`
	OGType          string `json:"og_type"`
	TwitterCard     string `json:"twitter_card"`
	Language        string `json:"language"`
	Encoding        string `json:"encoding"`
	ErrorMessage    string `json:"error_message"`
	RedirectURL     string `json:"redirect_url"`
	RedirectChain   string `json:"redirect_chain"` // JSON array of hops
}

// Link represents a directed edge discovered on a page. TargetURL keeps the
// discovered (resolved, not canonicalized) form.
type Link struct {
	ID              int64  `json:"id"`
	SourcePageID    int64  `json:"source_page_id"`
	TargetURL       string `json:"target_url"`
	Text            string `json:"link_text"`
	Title           string `json:"link_title"`
	Type            string `json:"link_type"` // anchor, link_tag, form, iframe, onclick, javascript, dynamic
	Rel             string `json:"link_rel"`
	IsInternal      bool   `json:"is_internal"`
	IsFollow        bool   `json:"is_follow"`
	IsExternal      bool   `json:"is_external"`
	XPath           string `json:"xpath"`
	CSSSelector     string `json:"css_selector"`
	DetectedMethod  string `json:"detected_method"`
	IsJavaScript    bool   `json:"is_javascript"`
	IsDynamic       bool   `json:"is_dynamic"`
	OnclickHandler  string `json:"onclick_handler"`
	HrefAttribute   string `json:"href_attribute"`
	DataAttributes  string `json:"data_attributes"` // JSON object of data-* attributes
	AriaLabel       string `json:"aria_label"`
	SurroundingText string `json:"surrounding_text"`
	Context         string `json:"link_context"`

	// Element identity carried through to javascript_events rows. The
	// links table itself does not store these.
	ElementTag   string `json:"-"`
	ElementID    string `json:"-"`
	ElementClass string `json:"-"`
}

// Resource represents a static asset referenced by a page.
type Resource struct {
	ID              int64  `json:"id"`
	PageID          int64  `json:"page_id"`
	URL             string `json:"resource_url"`
	Type            string `json:"resource_type"` // image, video, audio, document, script, stylesheet, favicon, embedded_*
	SizeBytes       int64  `json:"size_bytes"`
	LoadTimeMs      int64  `json:"load_time_ms"`
	MimeType        string `json:"mime_type"`
	SourceTag       string `json:"source_tag"`
	SourceAttribute string `json:"source_attribute"`
	AltText         string `json:"alt_text"`
	MediaKeywords   string `json:"media_keywords"`
}

// JavaScriptEvent records a script handler or script-detected URL on a page.
type JavaScriptEvent struct {
	ID           int64  `json:"id"`
	PageID       int64  `json:"page_id"`
	EventType    string `json:"event_type"`
	ElementTag   string `json:"element_tag"`
	ElementID    string `json:"element_id"`
	ElementClass string `json:"element_class"`
	HandlerCode  string `json:"handler_code"`
	DetectedURL  string `json:"detected_url"`
}

// QueueItem is the tuple handed to workers by the frontier.
type QueueItem struct {
	PageID int64
	URL    string
	Depth  int
}
