// Package report exports crawl data to spreadsheet formats.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/advanced-crawler/crawler/internal/storage"
)

var pageColumns = []string{
	"ID", "URL", "Domain", "Status", "Title", "Content Type", "Content Length",
	"Response Time (ms)", "Depth", "Parent URL", "Crawl Count", "Error",
}

var linkColumns = []string{
	"ID", "Source Page ID", "Target URL", "Type", "Text", "Rel",
	"Internal", "Follow", "JavaScript", "Dynamic",
}

var resourceColumns = []string{
	"ID", "Page ID", "URL", "Type", "Source Tag", "Source Attribute", "Alt Text",
}

// Exporter writes crawl data from the store to a file. The extension of the
// target path decides the format: .xlsx gets a workbook with one sheet per
// table, anything else gets a CSV of the pages table.
type Exporter struct {
	store  *storage.Database
	logger *zap.Logger
}

// NewExporter creates an exporter over the given store.
func NewExporter(store *storage.Database, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: store, logger: logger}
}

// Export writes the crawl data to path.
func (e *Exporter) Export(path string) error {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return e.exportXLSX(path)
	}
	return e.exportCSV(path)
}

func (e *Exporter) exportXLSX(path string) error {
	pages, err := e.store.AllPages()
	if err != nil {
		return fmt.Errorf("failed to load pages: %w", err)
	}
	links, err := e.store.AllLinks()
	if err != nil {
		return fmt.Errorf("failed to load links: %w", err)
	}
	resources, err := e.store.AllResources()
	if err != nil {
		return fmt.Errorf("failed to load resources: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"00C853"}},
	})

	writeSheet := func(name string, columns []string, rows [][]interface{}) error {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
		for i, col := range columns {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			if err := f.SetCellValue(name, cell, col); err != nil {
				return err
			}
		}
		lastCol, _ := excelize.ColumnNumberToName(len(columns))
		f.SetCellStyle(name, "A1", lastCol+"1", headerStyle)

		for rowIdx, row := range rows {
			for i, value := range row {
				cell, _ := excelize.CoordinatesToCellName(i+1, rowIdx+2)
				if err := f.SetCellValue(name, cell, value); err != nil {
					return err
				}
			}
		}
		return nil
	}

	pageRows := make([][]interface{}, 0, len(pages))
	for _, p := range pages {
		pageRows = append(pageRows, []interface{}{
			p.ID, p.URL, p.Domain, p.StatusCode, p.Title, p.ContentType, p.ContentLength,
			p.ResponseTimeMs, p.CrawlDepth, p.ParentURL, p.CrawlCount, p.ErrorMessage,
		})
	}
	linkRows := make([][]interface{}, 0, len(links))
	for _, l := range links {
		linkRows = append(linkRows, []interface{}{
			l.ID, l.SourcePageID, l.TargetURL, l.Type, l.Text, l.Rel,
			l.IsInternal, l.IsFollow, l.IsJavaScript, l.IsDynamic,
		})
	}
	resourceRows := make([][]interface{}, 0, len(resources))
	for _, r := range resources {
		resourceRows = append(resourceRows, []interface{}{
			r.ID, r.PageID, r.URL, r.Type, r.SourceTag, r.SourceAttribute, r.AltText,
		})
	}

	if err := writeSheet("Pages", pageColumns, pageRows); err != nil {
		return err
	}
	if err := writeSheet("Links", linkColumns, linkRows); err != nil {
		return err
	}
	if err := writeSheet("Resources", resourceColumns, resourceRows); err != nil {
		return err
	}

	f.DeleteSheet("Sheet1")

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}

	e.logger.Info("crawl data exported",
		zap.String("path", path),
		zap.Int("pages", len(pages)),
		zap.Int("links", len(links)),
		zap.Int("resources", len(resources)))
	return nil
}

func (e *Exporter) exportCSV(path string) error {
	pages, err := e.store.AllPages()
	if err != nil {
		return fmt.Errorf("failed to load pages: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	// UTF-8 BOM for Excel compatibility
	file.Write([]byte{0xEF, 0xBB, 0xBF})

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(pageColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, p := range pages {
		row := []string{
			strconv.FormatInt(p.ID, 10), p.URL, p.Domain,
			strconv.Itoa(p.StatusCode), p.Title, p.ContentType,
			strconv.FormatInt(p.ContentLength, 10),
			strconv.FormatInt(p.ResponseTimeMs, 10),
			strconv.Itoa(p.CrawlDepth), p.ParentURL,
			strconv.Itoa(p.CrawlCount), p.ErrorMessage,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	e.logger.Info("crawl data exported",
		zap.String("path", path), zap.Int("pages", len(pages)))
	return nil
}

// TimestampedPath inserts the current time before the extension so repeated
// exports do not overwrite each other.
func TimestampedPath(path string) string {
	dot := strings.LastIndex(path, ".")
	stamp := time.Now().Format("20060102_150405")
	if dot < 0 {
		return path + "_" + stamp
	}
	return path[:dot] + "_" + stamp + path[dot:]
}
