package storage

// Schema contains SQL statements to create database tables.
const Schema = `
-- Pages table: one row per discovered URL, keyed by its normalized hash
CREATE TABLE IF NOT EXISTS pages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT UNIQUE NOT NULL,
    url_hash TEXT UNIQUE NOT NULL,
    normalized_url TEXT,
    normalized_url_hash TEXT UNIQUE,
    domain TEXT,
    scheme TEXT,
    path TEXT,
    query_string TEXT,
    fragment TEXT,
    discovered_at TIMESTAMP,
    first_crawled_at TIMESTAMP,
    last_crawled_at TIMESTAMP,
    crawl_count INTEGER DEFAULT 0,
    status_code INTEGER,
    response_time_ms INTEGER,
    content_type TEXT,
    content_length INTEGER,
    title TEXT,
    meta_description TEXT,
    meta_keywords TEXT,
    canonical_url TEXT,
    robots_meta TEXT,
    og_title TEXT,
    og_description TEXT,
    og_image TEXT,
    og_type TEXT,
    twitter_card TEXT,
    language TEXT,
    encoding TEXT,
    is_crawled BOOLEAN DEFAULT 0,
    crawl_depth INTEGER DEFAULT 0,
    parent_url TEXT,
    error_message TEXT,
    redirect_url TEXT,
    redirect_chain TEXT
);

CREATE INDEX IF NOT EXISTS idx_url_hash ON pages(url_hash);
CREATE INDEX IF NOT EXISTS idx_normalized_url_hash ON pages(normalized_url_hash);
CREATE INDEX IF NOT EXISTS idx_is_crawled ON pages(is_crawled);
CREATE INDEX IF NOT EXISTS idx_domain ON pages(domain);

-- Links table: directed edges from a source page to a target URL
CREATE TABLE IF NOT EXISTS links (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_page_id INTEGER,
    target_url TEXT NOT NULL,
    target_url_hash TEXT NOT NULL,
    link_text TEXT,
    link_title TEXT,
    link_type TEXT,
    link_rel TEXT,
    is_internal BOOLEAN,
    is_follow BOOLEAN,
    is_external BOOLEAN,
    xpath TEXT,
    css_selector TEXT,
    detected_method TEXT,
    is_javascript BOOLEAN DEFAULT 0,
    is_dynamic BOOLEAN DEFAULT 0,
    onclick_handler TEXT,
    href_attribute TEXT,
    data_attributes TEXT,
    aria_label TEXT,
    surrounding_text TEXT,
    link_context TEXT,
    discovered_at TIMESTAMP,
    FOREIGN KEY (source_page_id) REFERENCES pages(id),
    UNIQUE(source_page_id, target_url_hash)
);

CREATE INDEX IF NOT EXISTS idx_target_hash ON links(target_url_hash);
CREATE INDEX IF NOT EXISTS idx_link_type ON links(link_type);

-- Resources table: non-navigation assets referenced by a page
CREATE TABLE IF NOT EXISTS resources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id INTEGER,
    resource_url TEXT NOT NULL,
    resource_type TEXT,
    size_bytes INTEGER,
    load_time_ms INTEGER,
    mime_type TEXT,
    discovered_at TIMESTAMP,
    source_tag TEXT,
    source_attribute TEXT,
    alt_text TEXT,
    media_keywords TEXT,
    FOREIGN KEY (page_id) REFERENCES pages(id)
);

-- JavaScript events table: handlers and script-detected URLs per page
CREATE TABLE IF NOT EXISTS javascript_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    page_id INTEGER,
    event_type TEXT,
    element_tag TEXT,
    element_id TEXT,
    element_class TEXT,
    handler_code TEXT,
    detected_url TEXT,
    discovered_at TIMESTAMP,
    FOREIGN KEY (page_id) REFERENCES pages(id)
);
`
