package urlutil

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// TrapDetector rejects URL shapes that suggest an unbounded sequence: deep
// paths, repeating segments, or query-parameter explosion under one path.
// Safe for concurrent use.
type TrapDetector struct {
	maxPathDepth         int
	maxRepeatingSegments int
	maxQueryVariations   int

	mu sync.Mutex
	// path -> set of query-key signatures seen so far
	pathSignatures map[string]map[string]struct{}

	logger *zap.Logger
}

// NewTrapDetector creates a trap detector with the given limits.
func NewTrapDetector(maxPathDepth, maxRepeatingSegments, maxQueryVariations int, logger *zap.Logger) *TrapDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrapDetector{
		maxPathDepth:         maxPathDepth,
		maxRepeatingSegments: maxRepeatingSegments,
		maxQueryVariations:   maxQueryVariations,
		pathSignatures:       make(map[string]map[string]struct{}),
		logger:               logger,
	}
}

// IsTrap reports whether the URL looks like a crawler trap. Non-trap verdicts
// remember the URL's query-key signature for its path.
func (d *TrapDetector) IsTrap(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	segments := splitPathSegments(u.Path)
	if len(segments) > d.maxPathDepth {
		d.logger.Warn("trap detected: excessive path depth", zap.String("url", rawURL))
		return true
	}

	counts := make(map[string]int, len(segments))
	for _, segment := range segments {
		counts[segment]++
		if counts[segment] > d.maxRepeatingSegments {
			d.logger.Warn("trap detected: repeating path segment",
				zap.String("url", rawURL), zap.String("segment", segment))
			return true
		}
	}

	signature := querySignature(u.RawQuery)

	d.mu.Lock()
	defer d.mu.Unlock()

	known := d.pathSignatures[u.Path]
	if _, seen := known[signature]; seen {
		return false
	}

	if len(known) >= d.maxQueryVariations {
		d.logger.Warn("trap detected: excessive query variations",
			zap.String("url", rawURL), zap.String("path", u.Path))
		return true
	}

	if known == nil {
		known = make(map[string]struct{})
		d.pathSignatures[u.Path] = known
	}
	known[signature] = struct{}{}

	return false
}

func splitPathSegments(path string) []string {
	var segments []string
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

// querySignature reduces a raw query to its set of keys, order-insensitive.
func querySignature(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return strings.Join(keys, "&")
}
