// Command lyricdeck generates background images for lyric slide decks.
//
// It loads lyrics from a text or PDF file, builds an image prompt, and runs
// it through the generation pipeline: prompt builder, image cache, provider
// dispatch. Batch mode processes a directory of lyric files with bounded
// concurrency.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"lyricdeck/core"
	"lyricdeck/history"
	"lyricdeck/imagecache"
	"lyricdeck/imagegen"
	"lyricdeck/logging"
	"lyricdeck/lyrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		lyricsPath  = flag.String("lyrics", "", "Path to a lyrics file (.txt or .pdf)")
		batchDir    = flag.String("batch", "", "Directory of lyric files to process as a batch")
		title       = flag.String("title", "", "Song title for cache identity and prompt context")
		artist      = flag.String("artist", "", "Song artist")
		providerArg = flag.String("provider", "", "Image provider (openai, stability); empty uses the configured default")
		template    = flag.String("template", "", "Prompt template name; empty uses the configured default")
		size        = flag.String("size", "", "Image size (WIDTHxHEIGHT, square, landscape, portrait)")
		style       = flag.String("style", "", "Style hint passed to the prompt and provider")
		checkKey    = flag.String("check-key", "", "Validate the configured API key for the named provider and exit")
		clearCache  = flag.Bool("clear-cache", false, "Remove all cached images and exit")
		showHistory = flag.Int("history", 0, "Print the N most recent generation records and exit")
	)
	flag.Parse()

	// Service control verbs (install, uninstall, start, stop) are handled
	// before anything else; no-ops off Windows.
	if HandleServiceCommand(flag.Args()) {
		return core.ExitCodeSuccess
	}

	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	isDevelopment := os.Getenv("DEV_MODE") == "true"
	logger, err := logging.NewLogger(isDevelopment, "lyricdeck.log")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	defer logger.Sync()

	cfg, err := core.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		color.Red("Configuration error: %v", err)
		return core.ExitCodeError
	}

	logger.Info("Configuration loaded",
		zap.String("default_provider", cfg.DefaultProvider),
		zap.String("cache_dir", cfg.CacheDir),
		zap.Bool("cache_disabled", cfg.CacheDisabled),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
		zap.Duration("provider_timeout", cfg.ProviderTimeout),
		zap.Bool("dev_mode", isDevelopment),
	)

	var recorder imagegen.HistoryRecorder
	var store *history.Store
	if cfg.HistoryDBPath != "" {
		store, err = history.Open(cfg.HistoryDBPath, cfg.MigrationsPath, logger)
		if err != nil {
			// History is a convenience; a broken database must not block
			// generation.
			logger.Warn("history database unavailable, continuing without it", zap.Error(err))
		} else {
			defer store.Close()
			recorder = store
		}
	}

	svc, err := imagegen.NewService(cfg, logger, recorder)
	if err != nil {
		logger.Error("Failed to build generation service", zap.Error(err))
		color.Red("Startup error: %v", err)
		return core.ExitCodeError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		color.Yellow("\nInterrupt received, cancelling...")
		svc.CancelAll()
		cancel()
	}()

	// Running as a Windows service blocks here until stopped.
	if ranAsService, err := RunAsService(); err != nil {
		logger.Error("Service run failed", zap.Error(err))
		return core.ExitCodeError
	} else if ranAsService {
		return core.ExitCodeSuccess
	}

	switch {
	case *checkKey != "":
		return runCheckKey(ctx, svc, cfg, *checkKey)
	case *clearCache:
		return runClearCache(svc)
	case *showHistory > 0:
		return runShowHistory(ctx, store, *showHistory)
	case *batchDir != "":
		return runBatch(ctx, svc, *batchDir, *providerArg, *template, *size, *style)
	case *lyricsPath != "":
		req := imagegen.Request{
			SongTitle: *title,
			Artist:    *artist,
			Provider:  *providerArg,
			Template:  *template,
			Size:      *size,
			Style:     *style,
		}
		return runSingle(ctx, svc, *lyricsPath, req)
	default:
		flag.Usage()
		return core.ExitCodeError
	}
}

// runSingle generates one image from a lyrics file, printing each pipeline
// stage as it happens.
func runSingle(ctx context.Context, svc *imagegen.Service, path string, req imagegen.Request) int {
	text, err := lyrics.LoadFile(path)
	if err != nil {
		color.Red("Failed to load lyrics: %v", err)
		return core.ExitCodeError
	}
	req.Lyrics = text
	if req.SongTitle == "" {
		req.SongTitle = titleFromFilename(path)
	}

	res := svc.GenerateImage(ctx, req, printProgress)
	return reportResult(res)
}

// runBatch processes every lyric file in a directory.
func runBatch(ctx context.Context, svc *imagegen.Service, dir, provider, template, size, style string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		color.Red("Failed to read batch directory: %v", err)
		return core.ExitCodeError
	}

	var reqs []imagegen.Request
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".txt" && ext != ".pdf" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		text, err := lyrics.LoadFile(path)
		if err != nil {
			color.Yellow("Skipping %s: %v", entry.Name(), err)
			continue
		}
		reqs = append(reqs, imagegen.Request{
			Lyrics:    text,
			SongTitle: titleFromFilename(path),
			Provider:  provider,
			Template:  template,
			Size:      size,
			Style:     style,
		})
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].SongTitle < reqs[j].SongTitle })

	if len(reqs) == 0 {
		color.Yellow("No lyric files found in %s", dir)
		return core.ExitCodeError
	}
	color.Cyan("Generating backgrounds for %d songs...", len(reqs))

	results := svc.GenerateBatch(ctx, reqs, nil, func(bp imagegen.BatchProgress) {
		fmt.Printf("\r%d/%d done (%d ok, %d failed, %d cancelled)",
			bp.Completed, bp.Total, bp.Succeeded, bp.Failed, bp.Cancelled)
	})
	fmt.Println()

	exit := core.ExitCodeSuccess
	for i, res := range results {
		label := reqs[i].SongTitle
		switch {
		case res.Success && res.FromCache:
			color.Green("  %s: cached (%s)", label, res.FilePath)
		case res.Success:
			color.Green("  %s: generated (%s)", label, res.FilePath)
		case res.Status == imagegen.StatusCancelled:
			color.Yellow("  %s: cancelled", label)
			exit = core.ExitCodeError
		default:
			color.Red("  %s: %v", label, res.Err())
			exit = core.ExitCodeError
		}
	}
	return exit
}

func runCheckKey(ctx context.Context, svc *imagegen.Service, cfg *core.Config, provider string) int {
	if err := svc.CheckAPIKey(ctx, provider, cfg.APIKeyFor(provider)); err != nil {
		color.Red("%s key check failed: %v", provider, err)
		return core.ExitCodeError
	}
	color.Green("%s API key is valid", provider)
	return core.ExitCodeSuccess
}

func runClearCache(svc *imagegen.Service) int {
	n, err := svc.ClearCache(imagecache.ClearFilter{})
	if err != nil {
		color.Red("Failed to clear cache: %v", err)
		return core.ExitCodeError
	}
	color.Green("Removed %d cached images", n)
	return core.ExitCodeSuccess
}

func runShowHistory(ctx context.Context, store *history.Store, limit int) int {
	if store == nil {
		color.Red("History database is not configured (set HISTORY_DB_PATH)")
		return core.ExitCodeError
	}
	records, err := store.Recent(ctx, limit)
	if err != nil {
		color.Red("Failed to read history: %v", err)
		return core.ExitCodeError
	}
	for _, rec := range records {
		line := fmt.Sprintf("%s  %-10s %-9s %s", rec.CreatedAt.Local().Format("2006-01-02 15:04"),
			rec.Provider, rec.Status, rec.Title)
		if rec.FromCache {
			line += " (cached)"
		}
		if rec.ErrorKind != "" {
			line += " [" + rec.ErrorKind + "]"
		}
		fmt.Println(line)
	}
	return core.ExitCodeSuccess
}

// printProgress renders pipeline stages for interactive runs.
func printProgress(ev imagegen.ProgressEvent) {
	switch ev.Status {
	case imagegen.StatusCompleted:
		color.Green("[%3.0f%%] %s", ev.Fraction*100, ev.Message)
	case imagegen.StatusFailed:
		color.Red("[%3.0f%%] %s", ev.Fraction*100, ev.Message)
	case imagegen.StatusCancelled:
		color.Yellow("[%3.0f%%] %s", ev.Fraction*100, ev.Message)
	default:
		fmt.Printf("[%3.0f%%] %s\n", ev.Fraction*100, ev.Message)
	}
}

func reportResult(res *imagegen.Result) int {
	if !res.Success {
		return core.ExitCodeError
	}
	if res.FilePath != "" {
		color.Green("Image saved to %s", res.FilePath)
	} else {
		color.Yellow("Image generated but not cached (%d bytes)", len(res.ImageBytes))
	}
	return core.ExitCodeSuccess
}

// titleFromFilename derives a song title from a lyrics filename:
// "amazing_grace.txt" becomes "amazing grace".
func titleFromFilename(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}
