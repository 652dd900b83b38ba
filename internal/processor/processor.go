// Package processor turns fetch results into page updates, stored links and
// resources, and frontier admissions.
package processor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/advanced-crawler/crawler/internal/extractor"
	"github.com/advanced-crawler/crawler/internal/fetcher"
	"github.com/advanced-crawler/crawler/internal/storage"
	"github.com/advanced-crawler/crawler/internal/urlutil"
)

// Admission is a newly discovered internal URL cleared for the frontier.
type Admission struct {
	RawURL       string
	CanonicalURL string
	ParentURL    string
	Depth        int
}

// Processor parses fetched bodies, harvests metadata, records links and
// resources, and decides which discovered URLs may join the frontier.
type Processor struct {
	store      *storage.Database
	normalizer *urlutil.Normalizer
	traps      *urlutil.TrapDetector
	links      *extractor.LinkExtractor
	resources  *extractor.ResourceExtractor
	baseHost   string
	logger     *zap.Logger
}

// NewProcessor creates a processor scoped to one crawl's base host.
func NewProcessor(store *storage.Database, normalizer *urlutil.Normalizer,
	traps *urlutil.TrapDetector, baseHost string, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:      store,
		normalizer: normalizer,
		traps:      traps,
		links:      extractor.NewLinkExtractor(normalizer, logger),
		resources:  extractor.NewResourceExtractor(normalizer, logger),
		baseHost:   baseHost,
		logger:     logger,
	}
}

// Process consumes one fetch result for the page identified by pageID.
// It returns the page update to commit and the internal URLs admitted for
// crawling at depth+1.
func (p *Processor) Process(result *fetcher.Result, pageID int64, pageURL string, depth, maxDepth int) (*storage.PageUpdate, []Admission) {
	update := &storage.PageUpdate{
		StatusCode:     result.StatusCode,
		ResponseTimeMs: result.ResponseTime.Milliseconds(),
		ContentType:    result.ContentType,
		Encoding:       result.Encoding,
		ContentLength:  result.ContentLength,
	}

	if result.Error != nil {
		update.ErrorMessage = result.Error.Error()
	}

	if len(result.RedirectChain) > 0 {
		update.RedirectURL = result.FinalURL
		if encoded, err := json.Marshal(result.RedirectChain); err == nil {
			update.RedirectChain = string(encoded)
		}
	}

	if result.StatusCode != http.StatusOK || len(result.Body) == 0 || !result.IsHTML() {
		return update, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		p.logger.Warn("HTML parse failed", zap.String("url", pageURL), zap.Error(err))
		update.ErrorMessage = err.Error()
		return update, nil
	}

	p.harvestMetadata(doc, result, update)

	links := p.links.Extract(doc, pageURL, p.baseHost)
	links = append(links, p.dynamicLinks(result, pageURL)...)

	var admissions []Admission
	for _, link := range links {
		if err := p.store.AddLink(pageID, link); err != nil {
			p.logger.Warn("link insert failed",
				zap.String("target", link.TargetURL), zap.Error(err))
		}

		if link.IsJavaScript || link.IsDynamic {
			p.recordJavaScriptEvent(pageID, link)
		}

		canonical, err := p.normalizer.Canonicalize(link.TargetURL, pageURL)
		if err != nil {
			continue
		}
		if p.traps.IsTrap(canonical) {
			continue
		}

		if link.IsInternal {
			if depth+1 > maxDepth {
				continue
			}
			admissions = append(admissions, Admission{
				RawURL:       link.TargetURL,
				CanonicalURL: canonical,
				ParentURL:    pageURL,
				Depth:        depth + 1,
			})
		} else {
			// External pages are recorded for graph completeness but
			// never enqueued.
			if _, err := p.store.AddPage(link.TargetURL, canonical, "", 0); err != nil {
				p.logger.Warn("external page insert failed",
					zap.String("url", link.TargetURL), zap.Error(err))
			}
		}
	}

	for _, resource := range p.resources.Extract(doc, pageURL) {
		if err := p.store.AddResource(pageID, resource); err != nil {
			p.logger.Warn("resource insert failed",
				zap.String("url", resource.URL), zap.Error(err))
		}
	}

	return update, admissions
}

func (p *Processor) harvestMetadata(doc *goquery.Document, result *fetcher.Result, update *storage.PageUpdate) {
	update.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if update.Title == "" {
		update.Title = result.Title
	}

	metaContent := func(selector string) string {
		content, _ := doc.Find(selector).First().Attr("content")
		return strings.TrimSpace(content)
	}

	update.MetaDescription = metaContent(`meta[name="description"]`)
	update.MetaKeywords = metaContent(`meta[name="keywords"]`)
	update.RobotsMeta = metaContent(`meta[name="robots"]`)
	update.OGTitle = metaContent(`meta[property="og:title"]`)
	update.OGDescription = metaContent(`meta[property="og:description"]`)
	update.OGImage = metaContent(`meta[property="og:image"]`)
	update.OGType = metaContent(`meta[property="og:type"]`)
	update.TwitterCard = metaContent(`meta[name="twitter:card"]`)

	if canonical, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		update.CanonicalURL = strings.TrimSpace(canonical)
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		update.Language = strings.TrimSpace(lang)
	}
}

// dynamicLinks converts clickable elements harvested from a rendered DOM
// into link records with kind "dynamic".
func (p *Processor) dynamicLinks(result *fetcher.Result, pageURL string) []*storage.Link {
	var links []*storage.Link
	for _, element := range result.DynamicElements {
		raw := element.Href
		if raw == "" && element.OnClick != "" {
			urls := extractor.ExtractJSURLs(element.OnClick)
			if len(urls) == 0 {
				continue
			}
			raw = urls[0]
		}
		if raw == "" {
			continue
		}

		target, err := p.normalizer.Resolve(raw, pageURL)
		if err != nil {
			continue
		}

		internal := urlutil.IsInternal(target, p.baseHost)
		links = append(links, &storage.Link{
			TargetURL:      target,
			Type:           "dynamic",
			Text:           truncateText(element.Text),
			IsInternal:     internal,
			IsExternal:     !internal,
			IsFollow:       true,
			IsDynamic:      true,
			OnclickHandler: element.OnClick,
			HrefAttribute:  element.Href,
			DetectedMethod: "browser",
			ElementTag:     element.Tag,
			ElementID:      element.ID,
			ElementClass:   element.Class,
		})
	}
	return links
}

func (p *Processor) recordJavaScriptEvent(pageID int64, link *storage.Link) {
	event := &storage.JavaScriptEvent{
		EventType:    link.DetectedMethod,
		ElementTag:   link.ElementTag,
		ElementID:    link.ElementID,
		ElementClass: link.ElementClass,
		HandlerCode:  link.OnclickHandler,
		DetectedURL:  link.TargetURL,
	}
	if link.Type == "onclick" || link.Type == "dynamic" {
		event.EventType = "onclick"
	}
	if err := p.store.AddJavaScriptEvent(pageID, event); err != nil {
		p.logger.Warn("javascript event insert failed",
			zap.String("url", link.TargetURL), zap.Error(err))
	}
}

func truncateText(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max]
}
