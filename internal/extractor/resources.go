package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/advanced-crawler/crawler/internal/storage"
	"github.com/advanced-crawler/crawler/internal/urlutil"
)

// cssURLPattern matches url(...) references inside inline style attributes.
var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// documentExtensions are the file endings treated as downloadable documents.
var documentExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".zip", ".rar",
}

// ResourceExtractor enumerates static assets referenced by a page.
type ResourceExtractor struct {
	normalizer *urlutil.Normalizer
	logger     *zap.Logger
}

// NewResourceExtractor creates a resource extractor.
func NewResourceExtractor(normalizer *urlutil.Normalizer, logger *zap.Logger) *ResourceExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceExtractor{normalizer: normalizer, logger: logger}
}

// Extract makes one pass per resource kind over the document.
func (e *ResourceExtractor) Extract(doc *goquery.Document, pageURL string) []*storage.Resource {
	var resources []*storage.Resource

	add := func(raw, kind, tag, attr, alt string) {
		target, err := e.normalizer.Resolve(raw, pageURL)
		if err != nil {
			return
		}
		resources = append(resources, &storage.Resource{
			URL:             target,
			Type:            kind,
			SourceTag:       tag,
			SourceAttribute: attr,
			AltText:         alt,
			MediaKeywords:   mediaKeyword(kind),
		})
	}

	// Images
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		alt, _ := s.Attr("alt")
		add(src, "image", "img", "src", alt)
	})
	doc.Find("picture source[srcset]").Each(func(_ int, s *goquery.Selection) {
		srcset, _ := s.Attr("srcset")
		for _, candidate := range splitSrcset(srcset) {
			add(candidate, "image", "source", "srcset", "")
		}
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		for _, match := range cssURLPattern.FindAllStringSubmatch(style, -1) {
			add(match[1], "image", goquery.NodeName(s), "style", "")
		}
	})

	// Videos
	doc.Find("video[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "video", "video", "src", "")
	})
	doc.Find("video source[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "video", "source", "src", "")
	})

	// Audios
	doc.Find("audio[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "audio", "audio", "src", "")
	})
	doc.Find("audio source[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "audio", "source", "src", "")
	})

	// Documents
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if isDocumentHref(href) {
			add(href, "document", "a", "href", "")
		}
	})

	// Scripts
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "script", "script", "src", "")
	})

	// Stylesheets and favicons
	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		rel, _ := s.Attr("rel")
		switch {
		case hasRelToken(rel, "stylesheet"):
			add(href, "stylesheet", "link", "href", "")
		case strings.Contains(strings.ToLower(rel), "icon"):
			add(href, "favicon", "link", "href", "")
		}
	})

	// Embedded content
	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "embedded_iframe", "iframe", "src", "")
	})
	doc.Find("embed[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "embedded_embed", "embed", "src", "")
	})
	doc.Find("object[data]").Each(func(_ int, s *goquery.Selection) {
		data, _ := s.Attr("data")
		add(data, "embedded_object", "object", "data", "")
	})

	return resources
}

func isDocumentHref(href string) bool {
	lowered := strings.ToLower(strings.TrimSpace(href))
	for _, ext := range documentExtensions {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}

// splitSrcset returns the URL part of each srcset candidate.
func splitSrcset(srcset string) []string {
	var urls []string
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) > 0 {
			urls = append(urls, fields[0])
		}
	}
	return urls
}

func mediaKeyword(kind string) string {
	switch kind {
	case "image":
		return "image"
	case "video":
		return "video"
	case "audio":
		return "audio"
	case "document":
		return "document"
	case "script":
		return "script"
	case "stylesheet":
		return "stylesheet"
	case "favicon":
		return "icon"
	default:
		return "embedded"
	}
}
