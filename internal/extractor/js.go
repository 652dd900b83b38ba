package extractor

import "regexp"

// jsURLPatterns are the heuristics for spotting URLs in script code, from
// most to least specific. The final pattern is a catch-all for any quoted
// string containing a slash; false positives are filtered downstream by
// canonicalization and trap checks.
var jsURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)["']([^"']*\.(?:html?|php|aspx?|jsp|cfm)[^"']*)["']`),
	regexp.MustCompile(`(?i)location\.href\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)window\.location\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)window\.open\(["']([^"']+)["']`),
	regexp.MustCompile(`(?i)(?:fetch|axios\.get)\(["']([^"']+)["']`),
	regexp.MustCompile(`(?i)["']([^"']*/[^"']*)["']`),
}

// ExtractJSURLs scans JavaScript code for URL-like strings, in pattern
// order, deduplicated within the call.
func ExtractJSURLs(code string) []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, pattern := range jsURLPatterns {
		for _, match := range pattern.FindAllStringSubmatch(code, -1) {
			candidate := match[1]
			if candidate == "" {
				continue
			}
			if _, dup := seen[candidate]; dup {
				continue
			}
			seen[candidate] = struct{}{}
			urls = append(urls, candidate)
		}
	}
	return urls
}
