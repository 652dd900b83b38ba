// Package config defines crawl configuration options.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Mode selects how a crawl run starts.
type Mode string

const (
	// ModeNewScan purges any existing data for the seed's domain and starts fresh.
	ModeNewScan Mode = "new_scan"

	// ModeUpdate resets the crawl flags for a chosen domain and re-crawls it.
	ModeUpdate Mode = "update"

	// ModeContinue drains whatever uncrawled pages remain, across all domains.
	ModeContinue Mode = "continue"
)

// DefaultUserAgent is advertised verbatim by both the static and browser fetchers.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (AdvancedCrawler/1.0)"

// CrawlConfig holds all configuration for a crawl run.
type CrawlConfig struct {
	// === Run selection ===

	// Start mode: new_scan, update, continue
	Mode Mode `json:"mode"`

	// Seed URL (new_scan only)
	SeedURL string `json:"seed_url,omitempty"`

	// Domain to update (update mode; chosen interactively when empty)
	Domain string `json:"domain,omitempty"`

	// === Limits ===

	// Maximum crawl depth
	MaxDepth int `json:"max_depth"`

	// Per-request delay between fetches on one worker
	Delay time.Duration `json:"delay"`

	// Number of concurrent workers
	Workers int `json:"workers"`

	// Request timeout
	Timeout time.Duration `json:"timeout"`

	// === Fetching ===

	// Use the headless browser fetcher instead of plain HTTP
	UseBrowser bool `json:"use_browser"`

	// Skip robots.txt checks entirely
	DisregardRobots bool `json:"disregard_robots"`

	// User-Agent string
	UserAgent string `json:"user_agent"`

	// Maximum number of redirects to follow
	MaxRedirects int `json:"max_redirects"`

	// Chromium executable path (empty = discovered)
	ChromiumPath string `json:"chromium_path,omitempty"`

	// === URL normalization ===

	// Query parameters stripped during canonicalization
	TrackingParams []string `json:"tracking_params"`

	// === Trap detection ===

	// Maximum non-empty path segments before a URL counts as a trap
	MaxPathDepth int `json:"max_path_depth"`

	// Maximum times one segment may repeat within a path
	MaxRepeatingSegments int `json:"max_repeating_segments"`

	// Maximum distinct query-key signatures remembered per path
	MaxQueryVariations int `json:"max_query_variations"`

	// === Storage ===

	// SQLite database path
	DatabasePath string `json:"database_path"`

	// Export file written after the crawl (.xlsx or .csv, empty = none)
	ExportPath string `json:"export_path,omitempty"`
}

// DefaultConfig returns a CrawlConfig with the engine defaults.
func DefaultConfig() *CrawlConfig {
	return &CrawlConfig{
		Mode:     ModeContinue,
		MaxDepth: 3,
		Delay:    time.Second,
		Workers:  4,
		Timeout:  30 * time.Second,

		UseBrowser:      false,
		DisregardRobots: false,
		UserAgent:       DefaultUserAgent,
		MaxRedirects:    10,

		TrackingParams: []string{
			"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
			"gclid", "fbclid", "msclkid",
		},

		MaxPathDepth:         10,
		MaxRepeatingSegments: 3,
		MaxQueryVariations:   5,

		DatabasePath: "crawler_data.db",
	}
}

// Validate clamps out-of-range values and rejects impossible combinations.
func (c *CrawlConfig) Validate() error {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.Timeout < time.Second {
		c.Timeout = time.Second
	}
	if c.MaxRedirects < 0 {
		c.MaxRedirects = 0
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "crawler_data.db"
	}
	switch c.Mode {
	case ModeNewScan, ModeUpdate, ModeContinue:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Mode == ModeNewScan && c.SeedURL == "" {
		return fmt.Errorf("new_scan mode requires a seed URL")
	}
	return nil
}

// Save writes the configuration to a JSON file.
func (c *CrawlConfig) Save(filePath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load loads configuration from a JSON file, applying defaults for unset fields.
func Load(filePath string) (*CrawlConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}
