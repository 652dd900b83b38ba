package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/advanced-crawler/crawler/internal/urlutil"
)

// Database handles all database operations. A single handle is shared across
// workers; each method is its own transaction.
type Database struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewDatabase opens (or creates) the crawl database at path.
func NewDatabase(path string, logger *zap.Logger) (*Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// SQLite connection with optimizations
	dsn := fmt.Sprintf("%s?_journal=WAL&_synchronous=NORMAL&_cache_size=10000&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &Database{db: db, logger: logger}, nil
}

// Initialize creates the tables and indexes.
func (d *Database) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	d.logger.Info("database initialized")
	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// --- Page Operations ---

// AddPage inserts a page if its normalized-URL hash is not present and
// returns the id of the new or existing row. Concurrent insertions of the
// same key are absorbed: a uniqueness violation triggers a re-lookup so the
// losing caller recovers the winner's id.
func (d *Database) AddPage(rawURL, normalizedURL, parentURL string, depth int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	normalizedHash := urlutil.HashURL(normalizedURL)

	var id int64
	err := d.db.QueryRow(`SELECT id FROM pages WHERE normalized_url_hash = ?`, normalizedHash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	var parent interface{}
	if parentURL != "" {
		parent = parentURL
	}

	result, err := d.db.Exec(`
		INSERT INTO pages
		(url, url_hash, normalized_url, normalized_url_hash, domain, scheme, path, query_string,
		 fragment, discovered_at, crawl_depth, parent_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rawURL, urlutil.HashURL(rawURL), normalizedURL, normalizedHash, parsed.Host, parsed.Scheme,
		parsed.Path, parsed.RawQuery, parsed.Fragment, time.Now(), depth, parent)

	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent insert of the same key.
			d.logger.Warn("uniqueness race on page insert, re-querying",
				zap.String("url", rawURL))
			reErr := d.db.QueryRow(`SELECT id FROM pages WHERE normalized_url_hash = ?`, normalizedHash).Scan(&id)
			if reErr != nil {
				return 0, fmt.Errorf("page vanished after uniqueness violation: %w", reErr)
			}
			return id, nil
		}
		return 0, err
	}

	return result.LastInsertId()
}

// UpdatePageCrawl writes the result of a completed crawl attempt: stamps the
// crawl times, increments crawl_count, sets is_crawled, and writes all
// fetch-derived fields.
func (d *Database) UpdatePageCrawl(id int64, update *PageUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A zero status means no HTTP response was ever received; store NULL
	// so consumers reading the table directly can tell it from a real 0.
	var status interface{}
	if update.StatusCode != 0 {
		status = update.StatusCode
	}

	now := time.Now()
	_, err := d.db.Exec(`
		UPDATE pages SET
			first_crawled_at = COALESCE(first_crawled_at, ?),
			last_crawled_at = ?,
			crawl_count = crawl_count + 1,
			is_crawled = 1,
			status_code = ?,
			response_time_ms = ?,
			content_type = ?,
			content_length = ?,
			title = ?,
			meta_description = ?,
			meta_keywords = ?,
			canonical_url = ?,
			robots_meta = ?,
			og_title = ?,
			og_description = ?,
			og_image = ?,
			og_type = ?,
			twitter_card = ?,
			language = ?,
			encoding = ?,
			error_message = ?,
			redirect_url = ?,
			redirect_chain = ?
		WHERE id = ?
	`, now, now,
		status, update.ResponseTimeMs, update.ContentType, update.ContentLength,
		update.Title, update.MetaDescription, update.MetaKeywords, update.CanonicalURL,
		update.RobotsMeta, update.OGTitle, update.OGDescription, update.OGImage,
		update.OGType, update.TwitterCard, update.Language, update.Encoding,
		update.ErrorMessage, update.RedirectURL, update.RedirectChain, id)

	return err
}

// GetPageByID retrieves a page by id, or nil if absent.
func (d *Database) GetPageByID(id int64) (*Page, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	row := d.db.QueryRow(`
		SELECT id, url, url_hash, COALESCE(normalized_url, ''), COALESCE(normalized_url_hash, ''),
			COALESCE(domain, ''), COALESCE(scheme, ''), COALESCE(path, ''), COALESCE(query_string, ''),
			COALESCE(fragment, ''), discovered_at, first_crawled_at, last_crawled_at, crawl_count,
			COALESCE(status_code, 0), COALESCE(response_time_ms, 0), COALESCE(content_type, ''),
			COALESCE(content_length, 0), COALESCE(title, ''), COALESCE(meta_description, ''),
			COALESCE(meta_keywords, ''), COALESCE(canonical_url, ''), COALESCE(robots_meta, ''),
			COALESCE(og_title, ''), COALESCE(og_description, ''), COALESCE(og_image, ''),
			COALESCE(og_type, ''), COALESCE(twitter_card, ''), COALESCE(language, ''),
			COALESCE(encoding, ''), is_crawled, crawl_depth, COALESCE(parent_url, ''),
			COALESCE(error_message, ''), COALESCE(redirect_url, ''), COALESCE(redirect_chain, '')
		FROM pages WHERE id = ?
	`, id)

	page, err := scanPage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetPageByNormalizedURL retrieves a page by its canonical form, or nil.
func (d *Database) GetPageByNormalizedURL(normalizedURL string) (*Page, error) {
	d.mu.RLock()
	var id int64
	err := d.db.QueryRow(`SELECT id FROM pages WHERE normalized_url_hash = ?`,
		urlutil.HashURL(normalizedURL)).Scan(&id)
	d.mu.RUnlock()

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.GetPageByID(id)
}

// NextUncrawled returns the next page with is_crawled=0, ordered by depth
// then discovery time, optionally filtered to one domain. Nil when drained.
func (d *Database) NextUncrawled(domain string) (*QueueItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := `SELECT id, url, crawl_depth FROM pages WHERE is_crawled = 0`
	args := make([]interface{}, 0, 1)
	if domain != "" {
		query += ` AND domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY crawl_depth ASC, discovered_at ASC LIMIT 1`

	var item QueueItem
	err := d.db.QueryRow(query, args...).Scan(&item.PageID, &item.URL, &item.Depth)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UncrawledPages returns every page with is_crawled=0 in crawl order,
// optionally filtered to one domain. Used to preload the frontier.
func (d *Database) UncrawledPages(domain string) ([]QueueItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := `SELECT id, url, crawl_depth FROM pages WHERE is_crawled = 0`
	args := make([]interface{}, 0, 1)
	if domain != "" {
		query += ` AND domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY crawl_depth ASC, discovered_at ASC`

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		var item QueueItem
		if err := rows.Scan(&item.PageID, &item.URL, &item.Depth); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// --- Link Operations ---

// AddLink inserts a link edge, idempotent on (source page, target hash).
func (d *Database) AddLink(sourcePageID int64, link *Link) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT OR IGNORE INTO links
		(source_page_id, target_url, target_url_hash, link_text, link_title,
		 link_type, link_rel, is_internal, is_follow, is_external,
		 xpath, css_selector, detected_method,
		 is_javascript, is_dynamic, onclick_handler, href_attribute,
		 data_attributes, aria_label, surrounding_text, link_context,
		 discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sourcePageID, link.TargetURL, urlutil.HashURL(link.TargetURL), link.Text, link.Title,
		link.Type, link.Rel, link.IsInternal, link.IsFollow, link.IsExternal,
		link.XPath, link.CSSSelector, link.DetectedMethod,
		link.IsJavaScript, link.IsDynamic, link.OnclickHandler, link.HrefAttribute,
		link.DataAttributes, link.AriaLabel, link.SurroundingText, link.Context,
		time.Now())

	return err
}

// GetLinksBySource retrieves the outbound links recorded for a page.
func (d *Database) GetLinksBySource(sourcePageID int64) ([]*Link, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT id, source_page_id, target_url, COALESCE(link_text, ''), COALESCE(link_title, ''),
			COALESCE(link_type, ''), COALESCE(link_rel, ''), is_internal, is_follow, is_external,
			COALESCE(detected_method, ''), is_javascript, is_dynamic,
			COALESCE(onclick_handler, ''), COALESCE(href_attribute, ''),
			COALESCE(data_attributes, ''), COALESCE(aria_label, ''),
			COALESCE(surrounding_text, ''), COALESCE(link_context, '')
		FROM links WHERE source_page_id = ?
	`, sourcePageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		var link Link
		if err := rows.Scan(&link.ID, &link.SourcePageID, &link.TargetURL, &link.Text, &link.Title,
			&link.Type, &link.Rel, &link.IsInternal, &link.IsFollow, &link.IsExternal,
			&link.DetectedMethod, &link.IsJavaScript, &link.IsDynamic,
			&link.OnclickHandler, &link.HrefAttribute,
			&link.DataAttributes, &link.AriaLabel,
			&link.SurroundingText, &link.Context); err != nil {
			return nil, err
		}
		links = append(links, &link)
	}
	return links, rows.Err()
}

// --- Resource Operations ---

// AddResource appends a resource record for a page.
func (d *Database) AddResource(pageID int64, resource *Resource) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO resources
		(page_id, resource_url, resource_type, size_bytes, load_time_ms,
		 mime_type, discovered_at, source_tag, source_attribute, alt_text, media_keywords)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pageID, resource.URL, resource.Type, resource.SizeBytes, resource.LoadTimeMs,
		resource.MimeType, time.Now(), resource.SourceTag, resource.SourceAttribute,
		resource.AltText, resource.MediaKeywords)

	return err
}

// GetResourcesByPage retrieves the resources recorded for a page.
func (d *Database) GetResourcesByPage(pageID int64) ([]*Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT id, page_id, resource_url, COALESCE(resource_type, ''), COALESCE(size_bytes, 0),
			COALESCE(load_time_ms, 0), COALESCE(mime_type, ''), COALESCE(source_tag, ''),
			COALESCE(source_attribute, ''), COALESCE(alt_text, ''), COALESCE(media_keywords, '')
		FROM resources WHERE page_id = ?
	`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []*Resource
	for rows.Next() {
		var res Resource
		if err := rows.Scan(&res.ID, &res.PageID, &res.URL, &res.Type, &res.SizeBytes,
			&res.LoadTimeMs, &res.MimeType, &res.SourceTag,
			&res.SourceAttribute, &res.AltText, &res.MediaKeywords); err != nil {
			return nil, err
		}
		resources = append(resources, &res)
	}
	return resources, rows.Err()
}

// --- JavaScript Event Operations ---

// AddJavaScriptEvent records a script handler or detected URL for a page.
func (d *Database) AddJavaScriptEvent(pageID int64, event *JavaScriptEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO javascript_events
		(page_id, event_type, element_tag, element_id, element_class,
		 handler_code, detected_url, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, pageID, event.EventType, event.ElementTag, event.ElementID, event.ElementClass,
		event.HandlerCode, event.DetectedURL, time.Now())

	return err
}

// GetJavaScriptEventsByPage retrieves the script events recorded for a page.
func (d *Database) GetJavaScriptEventsByPage(pageID int64) ([]*JavaScriptEvent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT id, page_id, COALESCE(event_type, ''), COALESCE(element_tag, ''),
			COALESCE(element_id, ''), COALESCE(element_class, ''),
			COALESCE(handler_code, ''), COALESCE(detected_url, '')
		FROM javascript_events WHERE page_id = ?
	`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*JavaScriptEvent
	for rows.Next() {
		var event JavaScriptEvent
		if err := rows.Scan(&event.ID, &event.PageID, &event.EventType, &event.ElementTag,
			&event.ElementID, &event.ElementClass,
			&event.HandlerCode, &event.DetectedURL); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// --- Domain Operations ---

// ResetDomain clears the crawl flag for every page in a domain so a
// subsequent run re-crawls it.
func (d *Database) ResetDomain(domain string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`UPDATE pages SET is_crawled = 0 WHERE domain = ?`, domain)
	if err != nil {
		return err
	}
	d.logger.Info("crawl status reset for domain", zap.String("domain", domain))
	return nil
}

// DeleteDomain cascade-deletes all links, resources, events, and pages bound
// to a domain.
func (d *Database) DeleteDomain(domain string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM links WHERE source_page_id IN (SELECT id FROM pages WHERE domain = ?)`,
		`DELETE FROM javascript_events WHERE page_id IN (SELECT id FROM pages WHERE domain = ?)`,
		`DELETE FROM resources WHERE page_id IN (SELECT id FROM pages WHERE domain = ?)`,
		`DELETE FROM pages WHERE domain = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt, domain); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	d.logger.Info("all data deleted for domain", zap.String("domain", domain))
	return nil
}

// DistinctDomains lists the domains present in the pages table.
func (d *Database) DistinctDomains() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`SELECT DISTINCT domain FROM pages WHERE domain IS NOT NULL AND domain != '' ORDER BY domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, err
		}
		domains = append(domains, domain)
	}
	return domains, rows.Err()
}

// CountPages returns the number of pages, optionally for one domain.
func (d *Database) CountPages(domain string) (int, error) {
	return d.count(`SELECT COUNT(id) FROM pages`, ``, domain)
}

// CountCrawled returns the number of crawled pages, optionally for one domain.
func (d *Database) CountCrawled(domain string) (int, error) {
	return d.count(`SELECT COUNT(id) FROM pages WHERE is_crawled = 1`, ` AND domain = ?`, domain)
}

// CountUncrawled returns the number of pending pages, optionally for one domain.
func (d *Database) CountUncrawled(domain string) (int, error) {
	return d.count(`SELECT COUNT(id) FROM pages WHERE is_crawled = 0`, ` AND domain = ?`, domain)
}

func (d *Database) count(query, domainClause, domain string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var count int
	var err error
	if domain != "" {
		if domainClause == "" {
			domainClause = ` WHERE domain = ?`
		}
		err = d.db.QueryRow(query+domainClause, domain).Scan(&count)
	} else {
		err = d.db.QueryRow(query).Scan(&count)
	}
	return count, err
}

// --- Export Queries ---

// AllPages retrieves every page row, ordered by id.
func (d *Database) AllPages() ([]*Page, error) {
	d.mu.RLock()
	ids := make([]int64, 0)
	rows, err := d.db.Query(`SELECT id FROM pages ORDER BY id`)
	if err != nil {
		d.mu.RUnlock()
		return nil, err
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			d.mu.RUnlock()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	d.mu.RUnlock()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pages := make([]*Page, 0, len(ids))
	for _, id := range ids {
		page, err := d.GetPageByID(id)
		if err != nil {
			return nil, err
		}
		if page != nil {
			pages = append(pages, page)
		}
	}
	return pages, nil
}

// AllLinks retrieves every link row, ordered by id.
func (d *Database) AllLinks() ([]*Link, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT id, source_page_id, target_url, COALESCE(link_text, ''), COALESCE(link_title, ''),
			COALESCE(link_type, ''), COALESCE(link_rel, ''), is_internal, is_follow, is_external,
			COALESCE(detected_method, ''), is_javascript, is_dynamic,
			COALESCE(onclick_handler, ''), COALESCE(href_attribute, ''),
			COALESCE(data_attributes, ''), COALESCE(aria_label, ''),
			COALESCE(surrounding_text, ''), COALESCE(link_context, '')
		FROM links ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		var link Link
		if err := rows.Scan(&link.ID, &link.SourcePageID, &link.TargetURL, &link.Text, &link.Title,
			&link.Type, &link.Rel, &link.IsInternal, &link.IsFollow, &link.IsExternal,
			&link.DetectedMethod, &link.IsJavaScript, &link.IsDynamic,
			&link.OnclickHandler, &link.HrefAttribute,
			&link.DataAttributes, &link.AriaLabel,
			&link.SurroundingText, &link.Context); err != nil {
			return nil, err
		}
		links = append(links, &link)
	}
	return links, rows.Err()
}

// AllResources retrieves every resource row, ordered by id.
func (d *Database) AllResources() ([]*Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT id, page_id, resource_url, COALESCE(resource_type, ''), COALESCE(size_bytes, 0),
			COALESCE(load_time_ms, 0), COALESCE(mime_type, ''), COALESCE(source_tag, ''),
			COALESCE(source_attribute, ''), COALESCE(alt_text, ''), COALESCE(media_keywords, '')
		FROM resources ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []*Resource
	for rows.Next() {
		var res Resource
		if err := rows.Scan(&res.ID, &res.PageID, &res.URL, &res.Type, &res.SizeBytes,
			&res.LoadTimeMs, &res.MimeType, &res.SourceTag,
			&res.SourceAttribute, &res.AltText, &res.MediaKeywords); err != nil {
			return nil, err
		}
		resources = append(resources, &res)
	}
	return resources, rows.Err()
}

// --- Helpers ---

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPage(row rowScanner) (*Page, error) {
	var page Page
	var firstCrawled, lastCrawled sql.NullTime
	err := row.Scan(
		&page.ID, &page.URL, &page.URLHash, &page.NormalizedURL, &page.NormalizedURLHash,
		&page.Domain, &page.Scheme, &page.Path, &page.QueryString,
		&page.Fragment, &page.DiscoveredAt, &firstCrawled, &lastCrawled, &page.CrawlCount,
		&page.StatusCode, &page.ResponseTimeMs, &page.ContentType,
		&page.ContentLength, &page.Title, &page.MetaDescription,
		&page.MetaKeywords, &page.CanonicalURL, &page.RobotsMeta,
		&page.OGTitle, &page.OGDescription, &page.OGImage,
		&page.OGType, &page.TwitterCard, &page.Language,
		&page.Encoding, &page.IsCrawled, &page.CrawlDepth, &page.ParentURL,
		&page.ErrorMessage, &page.RedirectURL, &page.RedirectChain,
	)
	if err != nil {
		return nil, err
	}
	if firstCrawled.Valid {
		page.FirstCrawledAt = &firstCrawled.Time
	}
	if lastCrawled.Valid {
		page.LastCrawledAt = &lastCrawled.Time
	}
	return &page, nil
}
