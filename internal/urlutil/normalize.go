// Package urlutil provides URL resolution, canonicalization, and hashing.
package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Normalizer canonicalizes URLs so equivalent forms collapse to one dedup key.
type Normalizer struct {
	// Query parameters removed during canonicalization (utm_*, gclid, etc.)
	trackingParams map[string]struct{}
}

// NewNormalizer creates a normalizer that strips the given query parameters.
func NewNormalizer(trackingParams []string) *Normalizer {
	params := make(map[string]struct{}, len(trackingParams))
	for _, p := range trackingParams {
		params[strings.ToLower(p)] = struct{}{}
	}
	return &Normalizer{trackingParams: params}
}

// Resolve joins a possibly relative URL against a base URL and returns the
// absolute form. Case, query order, and fragment are preserved. Empty inputs
// and fragment-only, javascript:, mailto:, and tel: references are rejected.
func (n *Normalizer) Resolve(href, base string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty URL")
	}

	lower := strings.ToLower(href)
	for _, prefix := range []string{"#", "javascript:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", fmt.Errorf("unsupported reference %q", href)
		}
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	return baseURL.ResolveReference(ref).String(), nil
}

// Canonicalize resolves href against base and reduces the result to its
// canonical form: scheme and host lowercased, default port stripped, empty
// path replaced with "/", fragment dropped, tracking parameters removed, and
// the query re-serialized with keys sorted ascending. The hash of this form
// is the page identity.
func (n *Normalizer) Canonicalize(href, base string) (string, error) {
	resolved, err := n.Resolve(href, base)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(resolved)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	} else if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.Path == "" {
		u.Path = "/"
	}

	u.Fragment = ""

	if u.RawQuery != "" {
		query, err := url.ParseQuery(u.RawQuery)
		if err == nil {
			for key := range query {
				if _, drop := n.trackingParams[strings.ToLower(key)]; drop {
					query.Del(key)
				}
			}
			// Encode sorts keys and keeps multi-value order within a key.
			u.RawQuery = query.Encode()
		}
	}

	return u.String(), nil
}

// HashURL returns the hex-encoded SHA-256 of the URL's UTF-8 bytes.
func HashURL(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// ExtractHost extracts the lowercased host from a URL.
func ExtractHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Host), nil
}

// IsInternal reports whether rawURL belongs to baseHost. Relative URLs with
// no host of their own count as internal.
func IsInternal(rawURL, baseHost string) bool {
	host, err := ExtractHost(rawURL)
	if err != nil {
		return false
	}
	return host == "" || host == strings.ToLower(baseHost)
}
