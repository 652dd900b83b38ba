// Package main is the entry point for the crawler CLI.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/advanced-crawler/crawler/internal/config"
	"github.com/advanced-crawler/crawler/internal/crawler"
	"github.com/advanced-crawler/crawler/internal/fetcher"
	"github.com/advanced-crawler/crawler/internal/renderer"
	"github.com/advanced-crawler/crawler/internal/report"
	"github.com/advanced-crawler/crawler/internal/robots"
	"github.com/advanced-crawler/crawler/internal/sitemap"
	"github.com/advanced-crawler/crawler/internal/storage"
)

func main() {
	var (
		newScanURL      = flag.String("new-scan", "", "start a new scan from this seed URL")
		update          = flag.Bool("update", false, "re-crawl an already scanned domain")
		resume          = flag.Bool("continue", false, "resume any pending pages")
		maxDepth        = flag.Int("max-depth", 3, "maximum crawl depth")
		delay           = flag.Float64("delay", 1.0, "delay between requests per worker, in seconds")
		workers         = flag.Int("workers", 4, "number of concurrent workers")
		useBrowser      = flag.Bool("use-browser", false, "fetch pages with headless Chromium")
		disregardRobots = flag.Bool("disregard-robots", false, "ignore robots.txt")
		dbPath          = flag.String("db", "crawler_data.db", "path to the SQLite database")
		exportPath      = flag.String("export", "", "export crawl data to this file after the run (.xlsx or .csv)")
		configPath      = flag.String("config", "", "load configuration from this JSON file")
		verbose         = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	logger := newLogger(*verbose)
	defer logger.Sync()

	modes := 0
	for _, selected := range []bool{*newScanURL != "", *update, *resume} {
		if selected {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "exactly one of --new-scan, --update, --continue is required")
		flag.Usage()
		os.Exit(2)
	}

	var cfg *config.CrawlConfig
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatal("failed to load config", zap.String("path", *configPath), zap.Error(err))
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}

	cfg.MaxDepth = *maxDepth
	cfg.Delay = time.Duration(*delay * float64(time.Second))
	cfg.Workers = *workers
	cfg.UseBrowser = *useBrowser
	cfg.DisregardRobots = *disregardRobots
	cfg.DatabasePath = *dbPath
	cfg.ExportPath = *exportPath

	switch {
	case *newScanURL != "":
		cfg.Mode = config.ModeNewScan
		cfg.SeedURL = *newScanURL
	case *update:
		cfg.Mode = config.ModeUpdate
	case *resume:
		cfg.Mode = config.ModeContinue
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	store, err := storage.NewDatabase(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()

	if err := store.Initialize(); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	if cfg.Mode == config.ModeUpdate {
		domain, err := pickDomain(store)
		if err != nil {
			logger.Fatal("domain selection failed", zap.Error(err))
		}
		cfg.Domain = domain
	}

	fetch := buildFetcher(cfg, logger)
	defer fetch.Close()

	robotsCache := robots.NewCache(nil, cfg.UserAgent, logger)
	sitemapFetcher := sitemap.NewFetcher(nil, cfg.UserAgent, logger)

	manager, err := crawler.NewManager(cfg, store, fetch, robotsCache, sitemapFetcher,
		crawler.ConfirmFunc(confirmOnStdin), logger)
	if err != nil {
		logger.Fatal("failed to create crawler", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt signal, stopping...")
		cancel()
	}()

	stats, err := manager.Run(ctx)
	if err != nil {
		if errors.Is(err, crawler.ErrAborted) {
			fmt.Println("Aborted.")
			return
		}
		logger.Fatal("crawl failed", zap.Error(err))
	}

	fmt.Printf("Crawl complete: %d pages crawled, %d errors, %d admitted, in %s\n",
		stats.Crawled, stats.Errors, stats.Admitted, stats.Duration.Round(time.Second))

	if cfg.ExportPath != "" {
		exporter := report.NewExporter(store, logger)
		if err := exporter.Export(cfg.ExportPath); err != nil {
			logger.Error("export failed", zap.Error(err))
		} else {
			fmt.Printf("Exported crawl data to %s\n", cfg.ExportPath)
		}
	}
}

func newLogger(verbose bool) *zap.Logger {
	zapCfg := zap.NewDevelopmentConfig()
	if !verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func buildFetcher(cfg *config.CrawlConfig, logger *zap.Logger) fetcher.Fetcher {
	if cfg.UseBrowser {
		browser, err := renderer.NewRenderer(cfg, logger)
		if err != nil {
			logger.Warn("browser initialization failed, falling back to static fetching", zap.Error(err))
		} else {
			return browser
		}
	}
	return fetcher.NewStaticFetcher(cfg, logger)
}

// pickDomain lists the crawled domains and asks the user to choose one.
func pickDomain(store *storage.Database) (string, error) {
	domains, err := store.DistinctDomains()
	if err != nil {
		return "", err
	}
	if len(domains) == 0 {
		return "", errors.New("no domains in the database; run --new-scan first")
	}

	fmt.Println("Domains in database:")
	for i, domain := range domains {
		count, _ := store.CountPages(domain)
		fmt.Printf("  %d) %s (%d pages)\n", i+1, domain, count)
	}
	fmt.Print("Select a domain: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || choice < 1 || choice > len(domains) {
		return "", errors.New("invalid selection")
	}
	return domains[choice-1], nil
}

func confirmOnStdin(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
