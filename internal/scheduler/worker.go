package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fetchd/internal/artifact"
	"fetchd/internal/history"
	"fetchd/internal/logging"
	"fetchd/internal/postprocess"
	"fetchd/internal/procman"
	"fetchd/internal/queue"
	"fetchd/internal/ytdlp"
)

// runWorker drives one claimed item through download, classification, and
// the post-download steps. The worker is the only writer of the item's
// mutable fields while it holds the claim.
func (s *Scheduler) runWorker(ctx context.Context, item queue.Item) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.active--
		delete(s.cancels, item.ID)
		s.mu.Unlock()
		s.poke()
	}()

	logger := logging.WithItem(s.logger, item.ID)
	logger.Info("download starting", logging.String(logging.FieldURL, item.URL))

	meta := s.resolveTitle(ctx, &item, logger)

	result, err := s.client.Download(ctx, ytdlp.DownloadRequest{
		URL:       item.URL,
		TargetDir: item.TargetDir,
		Title:     item.Title,
		Format:    item.RequestedFormat,
	}, func(update ytdlp.ProgressUpdate) {
		statusText := update.Phase
		if statusText == "" && update.Fraction >= 0 {
			statusText = "Downloading"
		}
		if setErr := s.store.SetDownloadProgress(item.ID, update.Fraction, statusText, update.Speed, update.ETA); setErr != nil && !errors.Is(setErr, queue.ErrNotFound) {
			logger.Debug("progress update dropped", logging.Error(setErr))
		}
	}, func(procID uint64) {
		if attachErr := s.store.AttachProcess(item.ID, procID); attachErr != nil {
			logger.Debug("process attach skipped", logging.Error(attachErr))
		}
	})

	if err != nil {
		s.handleRunError(ctx, item, err, logger)
		return
	}
	if result.ExitCode != 0 {
		s.handleFailure(ctx, item, result, logger)
		return
	}
	s.handleSuccess(ctx, item, result, meta, logger)
}

// resolveTitle fetches metadata when the item has no title yet. Failure is
// non-fatal; the download proceeds untitled.
func (s *Scheduler) resolveTitle(ctx context.Context, item *queue.Item, logger *slog.Logger) *ytdlp.Metadata {
	if item.Title != "" {
		return nil
	}
	meta, err := s.client.FetchMetadata(ctx, item.URL)
	if err != nil {
		logger.Debug("title lookup failed", logging.Error(err))
		return nil
	}
	item.Title = meta.Title
	if err := s.store.SetTitle(item.ID, meta.Title); err != nil && !errors.Is(err, queue.ErrNotFound) {
		logger.Debug("title update dropped", logging.Error(err))
	}
	return meta
}

func (s *Scheduler) handleRunError(ctx context.Context, item queue.Item, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		// Pause and removal set the item's state before cancelling; anything
		// still downloading here was stopped by shutdown.
		if current, ok := s.store.Item(item.ID); ok && current.Status == queue.StatusDownloading {
			if markErr := s.store.MarkPaused(item.ID); markErr != nil {
				logger.Warn("stop transition failed", logging.Error(markErr))
			}
		}
	case procman.IsLaunch(err):
		logger.Error("downloader could not be started", logging.Error(err))
		s.fail(item.ID, fmt.Sprintf("Downloader could not be started: %v", err), logger)
	case procman.IsTimeout(err):
		logger.Error("download timed out", logging.Error(err))
		s.fail(item.ID, fmt.Sprintf("Download timed out: %v", err), logger)
	default:
		logger.Error("download failed", logging.Error(err))
		s.fail(item.ID, fmt.Sprintf("Download failed: %v", err), logger)
	}
}

// handleFailure classifies a non-zero exit. A format-unavailable diagnostic
// enters the fallback path; everything else is terminal for the item.
func (s *Scheduler) handleFailure(ctx context.Context, item queue.Item, result *ytdlp.DownloadResult, logger *slog.Logger) {
	if result.FormatUnavailable() {
		s.handleFormatUnavailable(ctx, item, logger)
		return
	}
	message := fmt.Sprintf("Download failed with exit code %d", result.ExitCode)
	if len(result.StderrTail) > 0 {
		message = fmt.Sprintf("%s: %s", message, result.StderrTail[len(result.StderrTail)-1])
	}
	logger.Error("download failed", logging.Int(logging.FieldExitCode, result.ExitCode))
	s.fail(item.ID, message, logger)
}

// handleFormatUnavailable fetches the current format list and either selects
// a substitute or stops for a manual choice. At most one automatic
// substitution happens per item per failure episode.
func (s *Scheduler) handleFormatUnavailable(ctx context.Context, item queue.Item, logger *slog.Logger) {
	formats, err := s.client.FetchFormats(ctx, item.URL)
	if err != nil {
		if ctx.Err() != nil {
			// Pause or removal already settled the item's state.
			return
		}
		logger.Error("format list fetch failed", logging.Error(err))
		s.fail(item.ID, fmt.Sprintf("Requested format unavailable and format list could not be fetched: %v", err), logger)
		return
	}

	manualOnly := !s.cfg.Fallback.Auto || s.cfg.Fallback.ManualSelection || item.FallbackAttempted
	if manualOnly {
		logger.Info("format unavailable, waiting for manual selection",
			logging.Int("candidates", len(formats)),
			logging.Bool("fallback_attempted", item.FallbackAttempted),
		)
		if markErr := s.store.MarkFailedNeedsFormat(item.ID, "Requested format unavailable; select a format to retry", formats); markErr != nil {
			logger.Warn("failure transition failed", logging.Error(markErr))
		}
		return
	}

	substitute, ok := ytdlp.ResolveFallback(item.RequestedFormat, formats, s.cfg.Fallback.MaxHeight)
	if !ok {
		s.fail(item.ID, "Requested format unavailable and no substitute format was found", logger)
		return
	}

	logger.Info("substituting format",
		logging.String("format", substitute.ID),
		logging.Int("height", substitute.Height),
		logging.Float64("bitrate", substitute.Bitrate),
	)
	if applyErr := s.store.ApplyFallbackFormat(item.ID, substitute); applyErr != nil {
		logger.Warn("fallback transition failed", logging.Error(applyErr))
		s.fail(item.ID, "Requested format unavailable", logger)
		return
	}
	s.poke()
}

func (s *Scheduler) handleSuccess(ctx context.Context, item queue.Item, result *ytdlp.DownloadResult, meta *ytdlp.Metadata, logger *slog.Logger) {
	if current, ok := s.store.Item(item.ID); ok {
		item.Title = current.Title
	}

	artifactPath, located := artifact.Locate(result.Destination, item.TargetDir, item.Title)
	if !located {
		logger.Warn("artifact not found after download", logging.String("dir", item.TargetDir))
	}

	audioPath := ""
	postNote := ""
	if s.pipeline != nil && artifactPath != "" {
		artifactPath, audioPath, postNote = s.postProcess(ctx, artifactPath, logger)
	}

	if err := s.store.MarkCompleted(item.ID, artifactPath, audioPath); err != nil {
		if !errors.Is(err, queue.ErrNotFound) {
			logger.Warn("completion transition failed", logging.Error(err))
		}
		return
	}
	if postNote != "" {
		if err := s.store.SetPostProcessNote(item.ID, postNote); err != nil && !errors.Is(err, queue.ErrNotFound) {
			logger.Debug("post-process note dropped", logging.Error(err))
		}
	}
	logger.Info("download completed", logging.String("artifact", artifactPath))

	s.recordHistory(ctx, item, artifactPath, meta, logger)
}

// postProcess runs the ffmpeg step. Failures keep the original artifact and
// surface only as a status note.
func (s *Scheduler) postProcess(ctx context.Context, inputPath string, logger *slog.Logger) (artifactPath, audioPath, note string) {
	req := postprocess.Request{
		InputPath:       inputPath,
		TargetContainer: s.cfg.PostProcess.TargetContainer,
		ExtractAudio:    s.cfg.PostProcess.ExtractAudio,
		AudioFormat:     s.cfg.PostProcess.AudioFormat,
	}
	if !postprocess.NeedsContainerChange(inputPath, req.TargetContainer) && !req.ExtractAudio {
		return inputPath, "", ""
	}

	result, err := s.pipeline.Run(ctx, req)
	if err != nil {
		logger.Warn("post-processing failed, keeping original artifact", logging.Error(err))
		return inputPath, "", fmt.Sprintf("Completed (post-processing failed: %v)", err)
	}
	return result.OutputPath, result.AudioPath, ""
}

// recordHistory delivers the completion record fire-and-forget.
func (s *Scheduler) recordHistory(ctx context.Context, item queue.Item, artifactPath string, meta *ytdlp.Metadata, logger *slog.Logger) {
	rec := history.Record{
		ItemID:      item.ID,
		URL:         item.URL,
		Title:       item.Title,
		Path:        artifactPath,
		CompletedAt: time.Now(),
	}
	if meta != nil {
		rec.Duration = meta.Duration
	}
	if artifactPath != "" {
		if info, err := os.Stat(artifactPath); err == nil {
			rec.Size = info.Size()
		}
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		logger.Warn("history record dropped", logging.Error(err))
	}
}

func (s *Scheduler) fail(id, message string, logger *slog.Logger) {
	if err := s.store.MarkFailed(id, message); err != nil && !errors.Is(err, queue.ErrNotFound) {
		logger.Warn("failure transition failed", logging.Error(err))
	}
}
