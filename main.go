package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/time/rate"

	"epifetch/internal/fetch"
	"epifetch/internal/logger"
	"epifetch/internal/progress"
	"epifetch/internal/remux"
	"epifetch/internal/scheduler"
	"epifetch/internal/task"
	"epifetch/internal/transfer"
)

const minBurst = 64 * 1024

func main() {
	outputDir := flag.String("o", ".", "Output directory")
	name := flag.String("name", "", "Series name used for output file names (default: derived from the URL)")
	concurrency := flag.Int("concurrency", 2, "Maximum simultaneous downloads, 0 for unlimited")
	rateLimit := flag.Int64("rate", 0, "Total download rate limit in bytes per second, 0 for unlimited")
	retries := flag.Int("retries", 5, "Retries per failed request, negative for unlimited")
	ffmpegPath := flag.String("ffmpeg", "", "Path to ffmpeg for remuxing (default: found in PATH)")
	userAgent := flag.String("user-agent", "", "Override the User-Agent header")
	referer := flag.String("referer", "", "Referer header sent with every request")
	overwrite := flag.Bool("overwrite", false, "Overwrite existing output files")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	urls := flag.Args()
	if len(urls) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] URL...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error getting home directory: %v\n", err)
		os.Exit(1)
	}

	configDir := filepath.Join(homeDir, ".epifetch")

	err = os.MkdirAll(configDir, 0o755)
	if err != nil {
		fmt.Printf("Error creating config directory: %v\n", err)
		os.Exit(1)
	}

	err = logger.InitLogging(*debug, filepath.Join(configDir, "epifetch.log"))
	if err != nil {
		fmt.Printf("Warning: Failed to initialize logging: %v\n", err)
	}
	defer logger.Close()

	cfg := fetch.DefaultConfig()
	cfg.Retries = *retries

	if *userAgent != "" {
		cfg.UserAgent = *userAgent
	}

	var limiter *rate.Limiter
	if *rateLimit > 0 {
		burst := *rateLimit
		if burst < minBurst {
			burst = minBurst
		}

		limiter = rate.NewLimiter(rate.Limit(*rateLimit), int(burst))
	}

	binary := *ffmpegPath
	if binary == "" {
		// Missing ffmpeg only disables remuxing, downloads still work.
		binary, _ = exec.LookPath("ffmpeg")
	}

	registry := progress.NewRegistry(os.Stderr)
	transferer := transfer.New(fetch.NewClient(cfg), limiter, registry, remux.New(binary, *debug))

	sched := scheduler.New(transferer, registry, scheduler.Config{
		MaxConcurrent: *concurrency,
		OutputDir:     *outputDir,
		SeriesTitle:   seriesTitle(*name, urls[0]),
		Overwrite:     *overwrite,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Infof("Received interrupt signal, shutting down...")
		cancel()
	}()

	queue := task.NewQueue()

	for i, rawURL := range urls {
		info := task.EpisodeInfo{
			EpisodeNumber:            task.EpisodeNumber{Number: i + 1},
			MaxEpisodeNumberInSeason: len(urls),
		}
		queue.Push(task.NewDownloadTask(info, task.VideoType{}, rawURL, *referer))
	}

	queue.Close()

	failed := sched.Run(ctx, queue)
	if failed > 0 {
		logger.Warnf("%d of %d downloads failed", failed, len(urls))
	}
}

// seriesTitle picks the display name for this run: the explicit flag when
// given, otherwise the stem of the first URL's final path segment.
func seriesTitle(name, rawURL string) string {
	if name != "" {
		return name
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return u.Hostname()
	}

	return strings.TrimSuffix(base, path.Ext(base))
}
