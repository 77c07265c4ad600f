package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fetchd/internal/logging"
	"fetchd/internal/procman"
	"fetchd/internal/queue"
	"fetchd/internal/textutil"
)

// ErrMetadataParse reports malformed JSON from the discovery call. It is
// fatal to that discovery request only.
var ErrMetadataParse = errors.New("metadata parse failed")

const stderrTailLines = 30

// formatUnavailableSignature is the diagnostic yt-dlp emits when the
// requested format selector matches nothing.
const formatUnavailableSignature = "Requested format is not available"

// Options configures the client.
type Options struct {
	Binary          string
	NamingTemplate  string
	CookieSource    string
	DownloadTimeout time.Duration
	FetchTimeout    time.Duration
}

// Client wraps yt-dlp CLI interactions.
type Client struct {
	opts   Options
	sup    *procman.Supervisor
	logger *slog.Logger
}

// New constructs a client.
func New(opts Options, sup *procman.Supervisor, logger *slog.Logger) (*Client, error) {
	opts.Binary = strings.TrimSpace(opts.Binary)
	if opts.Binary == "" {
		return nil, errors.New("downloader binary required")
	}
	if opts.NamingTemplate == "" {
		opts.NamingTemplate = "%(title)s.%(ext)s"
	}
	return &Client{
		opts:   opts,
		sup:    sup,
		logger: logging.WithComponent(logger, "ytdlp"),
	}, nil
}

// DownloadRequest describes one download invocation. Title, when already
// resolved, names the output file directly instead of the naming template.
type DownloadRequest struct {
	URL       string
	TargetDir string
	Title     string
	Format    *queue.Format
}

// DownloadResult captures the outcome of a download run.
type DownloadResult struct {
	ExitCode    int
	Destination string
	StderrTail  []string
}

// FormatUnavailable reports whether the run failed because the requested
// format selector matched nothing at the source.
func (r *DownloadResult) FormatUnavailable() bool {
	if r == nil || r.ExitCode == 0 {
		return false
	}
	for _, line := range r.StderrTail {
		if strings.Contains(line, formatUnavailableSignature) {
			return true
		}
	}
	return false
}

// Download runs the external tool in line-oriented mode. Progress updates
// are forwarded to onProgress as they arrive; onStart receives the
// supervisor registration so the caller can cancel the run. A non-zero exit
// code is returned in the result, not as an error.
func (c *Client) Download(ctx context.Context, req DownloadRequest, onProgress func(ProgressUpdate), onStart func(id uint64)) (*DownloadResult, error) {
	result := &DownloadResult{}
	var mu sync.Mutex

	consume := func(line string) {
		update, ok := ParseProgressLine(line)
		if !ok {
			return
		}
		if update.Destination != "" {
			mu.Lock()
			result.Destination = update.Destination
			mu.Unlock()
		}
		if onProgress != nil {
			onProgress(update)
		}
	}

	spec := procman.Spec{
		Binary:   c.opts.Binary,
		Args:     c.downloadArgs(req),
		Dir:      req.TargetDir,
		Timeout:  c.opts.DownloadTimeout,
		OnStdout: consume,
		OnStderr: func(line string) {
			mu.Lock()
			result.StderrTail = appendTail(result.StderrTail, line)
			mu.Unlock()
			consume(line)
		},
	}

	code, err := c.sup.Run(ctx, spec, onStart)
	if err != nil {
		return nil, err
	}
	result.ExitCode = code
	return result, nil
}

// Metadata is the subset of the JSON dump fetchd cares about.
type Metadata struct {
	Title    string
	Duration float64
	Formats  []queue.Format
}

// FetchMetadata runs the JSON dump mode and parses title, duration, and the
// format list.
func (c *Client) FetchMetadata(ctx context.Context, url string) (*Metadata, error) {
	var stdout strings.Builder

	spec := procman.Spec{
		Binary:  c.opts.Binary,
		Args:    c.metadataArgs(url),
		Timeout: c.opts.FetchTimeout,
		OnStdout: func(line string) {
			stdout.WriteString(line)
			stdout.WriteByte('\n')
		},
	}

	code, err := c.sup.Run(ctx, spec, nil)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("metadata fetch exited with code %d", code)
	}

	return parseMetadata(stdout.String())
}

// FetchFormats returns the format descriptors currently offered for url.
func (c *Client) FetchFormats(ctx context.Context, url string) ([]queue.Format, error) {
	meta, err := c.FetchMetadata(ctx, url)
	if err != nil {
		return nil, err
	}
	return meta.Formats, nil
}

func (c *Client) downloadArgs(req DownloadRequest) []string {
	args := []string{"--newline", "--no-colors", "--no-playlist"}
	if req.Format != nil && req.Format.ID != "" {
		args = append(args, "-f", req.Format.ID)
	}
	name := c.opts.NamingTemplate
	if title := textutil.SanitizeFileName(req.Title); title != "" {
		name = title + ".%(ext)s"
	}
	args = append(args, "-o", filepath.Join(req.TargetDir, name))
	if c.opts.CookieSource != "" {
		args = append(args, "--cookies-from-browser", c.opts.CookieSource)
	}
	args = append(args, req.URL)
	return args
}

func (c *Client) metadataArgs(url string) []string {
	args := []string{"-J", "--no-warnings", "--no-playlist"}
	if c.opts.CookieSource != "" {
		args = append(args, "--cookies-from-browser", c.opts.CookieSource)
	}
	args = append(args, url)
	return args
}

type rawFormat struct {
	FormatID string  `json:"format_id"`
	Ext      string  `json:"ext"`
	VCodec   string  `json:"vcodec"`
	ACodec   string  `json:"acodec"`
	Height   int     `json:"height"`
	TBR      float64 `json:"tbr"`
	ABR      float64 `json:"abr"`
	Filesize int64   `json:"filesize"`
}

type rawMetadata struct {
	Title    string      `json:"title"`
	Duration float64     `json:"duration"`
	Formats  []rawFormat `json:"formats"`
}

func parseMetadata(payload string) (*Metadata, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty output", ErrMetadataParse)
	}
	var raw rawMetadata
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}

	meta := &Metadata{
		Title:    raw.Title,
		Duration: raw.Duration,
		Formats:  make([]queue.Format, 0, len(raw.Formats)),
	}
	for _, rf := range raw.Formats {
		if rf.FormatID == "" {
			continue
		}
		bitrate := rf.TBR
		if bitrate == 0 {
			bitrate = rf.ABR
		}
		meta.Formats = append(meta.Formats, queue.Format{
			ID:         rf.FormatID,
			Extension:  rf.Ext,
			VideoCodec: normalizeCodec(rf.VCodec),
			AudioCodec: normalizeCodec(rf.ACodec),
			Height:     rf.Height,
			Bitrate:    bitrate,
			FileSize:   rf.Filesize,
		})
	}
	return meta, nil
}

func normalizeCodec(codec string) string {
	codec = strings.TrimSpace(codec)
	if codec == "none" {
		return ""
	}
	return codec
}

func appendTail(tail []string, line string) []string {
	tail = append(tail, line)
	if len(tail) > stderrTailLines {
		tail = tail[len(tail)-stderrTailLines:]
	}
	return tail
}
