package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"fetchd/internal/config"
	"fetchd/internal/history"
	"fetchd/internal/logging"
	"fetchd/internal/postprocess"
	"fetchd/internal/procman"
	"fetchd/internal/queue"
	"fetchd/internal/scheduler"
	"fetchd/internal/ytdlp"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var batchFile string
	var formatID string
	var maxConcurrency int

	cmd := &cobra.Command{
		Use:   "run [url...]",
		Short: "Download the given URLs through the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			urls, err := collectURLs(args, batchFile)
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				return errors.New("no URLs to download; pass them as arguments or via --batch-file")
			}

			if maxConcurrency > 0 {
				cfg.Downloader.MaxConcurrency = maxConcurrency
			}
			return runQueue(cmd, cfg, urls, formatID)
		},
	}

	cmd.Flags().StringVar(&batchFile, "batch-file", "", "File with one URL per line (# comments allowed)")
	cmd.Flags().StringVarP(&formatID, "format", "f", "", "Format id to request for every URL")
	cmd.Flags().IntVarP(&maxConcurrency, "concurrency", "n", 0, "Override downloader.max_concurrency")

	return cmd
}

func runQueue(cmd *cobra.Command, cfg *config.Config, urls []string, formatID string) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr", filepath.Join(cfg.Paths.LogDir, "fetchd.log")},
	})
	if err != nil {
		return err
	}

	runLock := flock.New(cfg.LockFilePath())
	locked, err := runLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another fetchd run holds %s", cfg.LockFilePath())
	}
	defer func() {
		_ = runLock.Unlock()
	}()

	sup := procman.New(time.Duration(cfg.Downloader.StopGraceSeconds)*time.Second, logger)
	client, err := ytdlp.New(ytdlp.Options{
		Binary:          cfg.Downloader.Binary,
		NamingTemplate:  cfg.Downloader.NamingTemplate,
		CookieSource:    cfg.Downloader.CookieSource,
		DownloadTimeout: time.Duration(cfg.Downloader.DownloadTimeout) * time.Second,
		FetchTimeout:    time.Duration(cfg.Downloader.FormatFetchTimeout) * time.Second,
	}, sup, logger)
	if err != nil {
		return err
	}

	var pipeline *postprocess.Pipeline
	if cfg.PostProcess.Enabled {
		pipeline, err = postprocess.New(cfg.PostProcess.FFmpegBinary, time.Duration(cfg.PostProcess.Timeout)*time.Second, sup, logger)
		if err != nil {
			return err
		}
	}

	recorder := history.Nop()
	if cfg.History.Enabled {
		store, err := history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		recorder = store
	}

	store := queue.NewStore()
	sched := scheduler.New(cfg, store, client, sup, pipeline, recorder, logger)

	var format *queue.Format
	if formatID != "" {
		format = &queue.Format{ID: formatID}
	}
	for _, url := range urls {
		if _, err := sched.Enqueue(url, format); err != nil {
			if errors.Is(err, queue.ErrDuplicateURL) {
				logger.Warn("skipping duplicate URL", logging.String(logging.FieldURL, url))
				continue
			}
			return err
		}
	}

	signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(signalCtx); err != nil {
		return err
	}

	interactive := isatty.IsTerminal(os.Stdout.Fd())
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	interrupted := false
loop:
	for {
		select {
		case <-signalCtx.Done():
			interrupted = true
			break loop
		case <-ticker.C:
			if interactive {
				printProgressLine(store)
			}
			if sched.Idle() {
				break loop
			}
		}
	}

	sched.Stop()
	if interactive {
		fmt.Println()
	}
	fmt.Println(renderQueueTable(store.Items()))

	if interrupted {
		return nil
	}
	if failed := store.CountByStatus(queue.StatusFailed); failed > 0 {
		return fmt.Errorf("%d download(s) failed", failed)
	}
	return nil
}

func collectURLs(args []string, batchFile string) ([]string, error) {
	urls := append([]string{}, args...)
	if batchFile == "" {
		return urls, nil
	}

	file, err := os.Open(batchFile)
	if err != nil {
		return nil, fmt.Errorf("open batch file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return urls, nil
}

// printProgressLine rewrites a single status line while downloads run.
func printProgressLine(store *queue.Store) {
	items := store.Items()
	completed, failed := 0, 0
	var parts []string
	for _, item := range items {
		switch item.Status {
		case queue.StatusCompleted:
			completed++
		case queue.StatusFailed:
			failed++
		case queue.StatusDownloading:
			label := item.Title
			if label == "" {
				label = shorten(item.URL, 32)
			}
			parts = append(parts, fmt.Sprintf("%s %.0f%%", shorten(label, 32), item.Progress*100))
		}
	}
	line := fmt.Sprintf("%d/%d done", completed, len(items))
	if failed > 0 {
		line += fmt.Sprintf(", %d failed", failed)
	}
	if len(parts) > 0 {
		line += " | " + strings.Join(parts, "  ")
	}
	fmt.Printf("\r\033[2K%s", line)
}

func renderQueueTable(items []queue.Item) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		title := item.Title
		if title == "" {
			title = item.URL
		}
		size := ""
		if item.ArtifactPath != "" {
			if info, err := os.Stat(item.ArtifactPath); err == nil {
				size = humanize.Bytes(uint64(info.Size()))
			}
		}
		detail := item.StatusText
		if item.ErrorMessage != "" {
			detail = item.ErrorMessage
		}
		rows = append(rows, []string{
			shorten(title, 48),
			string(item.Status),
			fmt.Sprintf("%.0f%%", item.Progress*100),
			size,
			shorten(detail, 60),
		})
	}
	return renderTable([]string{"Title", "Status", "Progress", "Size", "Detail"}, rows, 3, 4)
}

func shorten(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	if limit <= 1 {
		return value[:limit]
	}
	return value[:limit-1] + "…"
}
