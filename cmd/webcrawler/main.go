package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/sirupsen/logrus"

	"webcrawler/pkg/config"
	"webcrawler/pkg/crawler"
	"webcrawler/pkg/models"
	"webcrawler/pkg/storage"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:], false)
	case "resume":
		runCrawl(os.Args[2:], true)
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("webcrawler %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`webcrawler - Breadth-first web crawler

Usage:
  webcrawler <command> [options]

Commands:
  crawl       Start a fresh crawl from a seed URL
  resume      Resume a paused crawl from its snapshot
  validate    Validate configuration file
  version     Show version info

Run 'webcrawler <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file.
func loadConfig(path string) (*config.AppConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(levelName string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelName, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

// runCrawl handles both crawl and resume subcommands.
func runCrawl(args []string, isResume bool) {
	cmdName := "crawl"
	if isResume {
		cmdName = "resume"
	}

	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	seedURL := fs.String("url", "", "Seed URL to crawl (crawl only)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: webcrawler %s [options]\n\nOptions:\n", cmdName)
		fs.PrintDefaults()
		if !isResume {
			fmt.Fprintf(os.Stderr, "\nExamples:\n")
			fmt.Fprintf(os.Stderr, "  webcrawler crawl -url https://example.com\n")
			fmt.Fprintf(os.Stderr, "  webcrawler crawl -url https://example.com -config crawler.yaml\n")
		}
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if !isResume && *seedURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		fs.Usage()
		os.Exit(1)
	}
	if !isResume {
		if _, err := url.ParseRequestURI(*seedURL); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid seed URL '%s': %v\n", *seedURL, err)
			os.Exit(1)
		}
	}

	os.Exit(executeCrawl(*configFile, *seedURL, *logLevel, isResume))
}

func executeCrawl(configFile, seedURL, logLevel string, isResume bool) int {
	log := setupLogger(logLevel)

	log.Infof("Loading configuration from %s", configFile)
	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		return 1
	}
	warnings, err := cfg.Validate()
	if err != nil {
		log.Errorf("Configuration error: %v", err)
		return 1
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	logAppConfig(cfg, log)

	c := crawler.New(cfg, logrus.NewEntry(log), storage.NewFactory(cfg.DatabasePath))

	// First signal pauses (so the run can be resumed later); a second
	// signal forces exit.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Pausing crawl; resume with 'webcrawler resume'.", sig)
		c.Pause()
		sig = <-sigChan
		log.Warnf("Received second signal: %v. Forcing exit.", sig)
		os.Exit(1)
	}()

	if isResume {
		err = c.Resume()
		if err != nil {
			log.Errorf("Failed to resume crawl: %v", err)
			return 1
		}
	} else {
		err = c.Start(seedURL)
		if err != nil {
			log.Errorf("Failed to start crawl: %v", err)
			return 1
		}
	}

	switch phase := c.Wait(); phase {
	case models.PhaseCompleted:
		if err := printReport(cfg, log); err != nil {
			log.Errorf("Failed to print crawl report: %v", err)
			return 1
		}
		log.Info("Crawl completed successfully.")
		return 0
	case models.PhasePaused:
		log.Infof("Crawl paused. Snapshot written to %s", cfg.StateFile)
		return 0
	default:
		log.Errorf("Crawl ended in unexpected phase: %s", phase)
		return 1
	}
}

// printReport reopens the result store and prints every stored record
// plus aggregate statistics.
func printReport(cfg *config.AppConfig, log *logrus.Logger) error {
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.QueryAll(context.Background())
	if err != nil {
		return err
	}
	printSummary(os.Stdout, records)
	return nil
}

// printSummary writes the per-URL results and crawl-wide statistics.
func printSummary(w io.Writer, records []*models.CrawlRecord) {
	fmt.Fprintf(w, "\nCrawl results (%d URLs):\n", len(records))
	for _, rec := range records {
		status := "ERR"
		if rec.StatusCode != nil {
			status = fmt.Sprintf("%d", *rec.StatusCode)
		}
		fmt.Fprintf(w, "  [%s] %s  %q  (%d bytes)\n", status, rec.URL, rec.Title, rec.ContentSize)
	}

	totalErrors := 0
	statusCounts := make(map[int]int)
	domainCounts := make(map[string]int)
	for _, rec := range records {
		if rec.IsError() {
			totalErrors++
		}
		if rec.StatusCode != nil {
			statusCounts[*rec.StatusCode]++
		}
		if u, err := url.Parse(rec.URL); err == nil && u.Hostname() != "" {
			domainCounts[u.Hostname()]++
		}
	}

	fmt.Fprintf(w, "\nStatistics:\n")
	fmt.Fprintf(w, "  Total URLs crawled: %d\n", len(records))
	fmt.Fprintf(w, "  Total errors:       %d\n", totalErrors)

	codes := make([]int, 0, len(statusCounts))
	for code := range statusCounts {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	fmt.Fprintf(w, "  Status codes:\n")
	for _, code := range codes {
		fmt.Fprintf(w, "    %d: %d\n", code, statusCounts[code])
	}

	domains := make([]string, 0, len(domainCounts))
	for d := range domainCounts {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	fmt.Fprintf(w, "  Domains:\n")
	for _, d := range domains {
		fmt.Fprintf(w, "    %s: %d\n", d, domainCounts[d])
	}
}

// runValidate handles the validate subcommand.
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: webcrawler validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to the provided
// writers. Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := cfg.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	exts, extWarnings := cfg.BlacklistedExtensions.Resolve()
	for _, w := range extWarnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	fmt.Fprintf(stdout, "OK: %d blacklisted extension(s), %d allowed domain(s)\n",
		len(exts), len(cfg.AllowedDomains))

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// logAppConfig logs the effective global configuration.
func logAppConfig(cfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: MaxDepth:%d, AllowedDomains:%v, RequestsPerSecond:%.2f",
		cfg.MaxDepth, cfg.AllowedDomains, cfg.RequestsPerSecond)
	log.Infof("Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v, MaxRedirects:%d",
		cfg.MaxRetries, cfg.InitialRetryDelay, cfg.MaxRetryDelay, cfg.MaxRedirects)
	log.Infof("Config Storage: DatabasePath:%s, StateFile:%s, RespectRobots:%t",
		cfg.DatabasePath, cfg.StateFile, cfg.RespectRobots)
	log.Infof("Config HTTP: Timeout:%v, UserAgent:%s, MaxIdle:%d, MaxIdlePerHost:%d",
		cfg.FetchTimeout, cfg.UserAgent, cfg.HTTPClientSettings.MaxIdleConns, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
}
