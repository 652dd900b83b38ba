// Package extractor pulls links and static resources out of HTML documents.
package extractor

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/advanced-crawler/crawler/internal/storage"
	"github.com/advanced-crawler/crawler/internal/urlutil"
)

const (
	maxLinkText       = 500
	maxOnclickHandler = 1000
	maxScriptContext  = 500
)

// LinkExtractor enumerates outbound links from a parsed HTML document.
type LinkExtractor struct {
	normalizer *urlutil.Normalizer
	logger     *zap.Logger
}

// NewLinkExtractor creates a link extractor.
func NewLinkExtractor(normalizer *urlutil.Normalizer, logger *zap.Logger) *LinkExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkExtractor{normalizer: normalizer, logger: logger}
}

// Extract walks the document and emits one link record per navigation source:
// anchors, link tags, forms, iframes, onclick handlers, and script bodies.
// Targets keep their resolved (not canonicalized) form.
func (e *LinkExtractor) Extract(doc *goquery.Document, pageURL, baseHost string) []*storage.Link {
	var links []*storage.Link

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		target, err := e.normalizer.Resolve(href, pageURL)
		if err != nil {
			return
		}

		rel, _ := s.Attr("rel")
		link := e.newLink(target, "anchor", baseHost)
		link.Text = truncate(strings.TrimSpace(s.Text()), maxLinkText)
		link.Title, _ = s.Attr("title")
		link.Rel = normalizeRel(rel)
		link.IsFollow = !hasRelToken(rel, "nofollow")
		link.AriaLabel, _ = s.Attr("aria-label")
		link.HrefAttribute = href
		link.DataAttributes = dataAttributes(s)
		link.SurroundingText = surroundingText(s)
		links = append(links, link)
	})

	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		target, err := e.normalizer.Resolve(href, pageURL)
		if err != nil {
			return
		}
		link := e.newLink(target, "link_tag", baseHost)
		link.Rel, _ = s.Attr("rel")
		link.HrefAttribute = href
		links = append(links, link)
	})

	doc.Find("form[action]").Each(func(_ int, s *goquery.Selection) {
		action, _ := s.Attr("action")
		target, err := e.normalizer.Resolve(action, pageURL)
		if err != nil {
			return
		}
		link := e.newLink(target, "form", baseHost)
		link.HrefAttribute = action
		links = append(links, link)
	})

	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		target, err := e.normalizer.Resolve(src, pageURL)
		if err != nil {
			return
		}
		link := e.newLink(target, "iframe", baseHost)
		link.HrefAttribute = src
		links = append(links, link)
	})

	doc.Find("[onclick]").Each(func(_ int, s *goquery.Selection) {
		handler, _ := s.Attr("onclick")
		for _, raw := range ExtractJSURLs(handler) {
			target, err := e.normalizer.Resolve(raw, pageURL)
			if err != nil {
				continue
			}
			link := e.newLink(target, "onclick", baseHost)
			link.Text = truncate(strings.TrimSpace(s.Text()), maxLinkText)
			link.OnclickHandler = truncate(handler, maxOnclickHandler)
			link.IsJavaScript = true
			link.DetectedMethod = "onclick"
			link.ElementTag = goquery.NodeName(s)
			link.ElementID, _ = s.Attr("id")
			link.ElementClass, _ = s.Attr("class")
			links = append(links, link)
		}
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		body := s.Text()
		if strings.TrimSpace(body) == "" {
			return
		}
		links = append(links, e.ExtractFromScript(body, pageURL, baseHost)...)
	})

	return links
}

// ExtractFromScript runs the JavaScript URL heuristics over one script body
// and emits link records with the surrounding script as context.
func (e *LinkExtractor) ExtractFromScript(script, pageURL, baseHost string) []*storage.Link {
	var links []*storage.Link
	for _, raw := range ExtractJSURLs(script) {
		target, err := e.normalizer.Resolve(raw, pageURL)
		if err != nil {
			continue
		}
		link := e.newLink(target, "javascript", baseHost)
		link.Context = truncate(script, maxScriptContext)
		link.IsJavaScript = true
		link.DetectedMethod = "script"
		links = append(links, link)
	}
	return links
}

func (e *LinkExtractor) newLink(target, kind, baseHost string) *storage.Link {
	internal := urlutil.IsInternal(target, baseHost)
	return &storage.Link{
		TargetURL:  target,
		Type:       kind,
		IsInternal: internal,
		IsExternal: !internal,
		IsFollow:   true,
	}
}

// normalizeRel space-joins the rel tokens of a multi-valued attribute.
func normalizeRel(rel string) string {
	return strings.Join(strings.Fields(rel), " ")
}

func hasRelToken(rel, token string) bool {
	for _, t := range strings.Fields(strings.ToLower(rel)) {
		if t == token {
			return true
		}
	}
	return false
}

// dataAttributes serializes an element's data-* attributes to a JSON object.
func dataAttributes(s *goquery.Selection) string {
	if len(s.Nodes) == 0 {
		return ""
	}
	attrs := make(map[string]string)
	for _, attr := range s.Nodes[0].Attr {
		if strings.HasPrefix(attr.Key, "data-") {
			attrs[attr.Key] = attr.Val
		}
	}
	if len(attrs) == 0 {
		return ""
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// surroundingText returns the collapsed text of the element's parent node,
// giving the link its immediate context.
func surroundingText(s *goquery.Selection) string {
	const maxSurrounding = 200

	parent := s.Parent()
	if len(parent.Nodes) == 0 {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(parent.Nodes[0])

	return truncate(strings.Join(strings.Fields(sb.String()), " "), maxSurrounding)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
