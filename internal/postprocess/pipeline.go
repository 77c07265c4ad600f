// Package postprocess runs the optional ffmpeg step after a successful
// download: remuxing into a different container, transcoding when the
// container demands it, and audio extraction. Post-processing is best
// effort; failures keep the original artifact and never downgrade the
// item's completed state.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fetchd/internal/logging"
	"fetchd/internal/procman"
)

// containerCodecs maps a target container to its fixed codec argument pair.
var containerCodecs = map[string][]string{
	"mp4":  {"-c:v", "libx264", "-c:a", "aac"},
	"mkv":  {"-c", "copy"},
	"mov":  {"-c", "copy"},
	"webm": {"-c:v", "libvpx-vp9", "-c:a", "libopus"},
	"avi":  {"-c:v", "mpeg4", "-c:a", "libmp3lame"},
}

// audioCodecs maps an extraction format to its ffmpeg codec arguments.
var audioCodecs = map[string][]string{
	"mp3":  {"-vn", "-c:a", "libmp3lame", "-q:a", "2"},
	"m4a":  {"-vn", "-c:a", "aac"},
	"opus": {"-vn", "-c:a", "libopus"},
	"flac": {"-vn", "-c:a", "flac"},
	"wav":  {"-vn", "-c:a", "pcm_s16le"},
}

// Request describes the desired post-processing for one artifact.
type Request struct {
	InputPath       string
	TargetContainer string
	ExtractAudio    bool
	AudioFormat     string
}

// Result reports the produced files. OutputPath equals the input when no
// container change was needed.
type Result struct {
	OutputPath string
	AudioPath  string
}

// Pipeline invokes the external transcode tool.
type Pipeline struct {
	binary  string
	timeout time.Duration
	sup     *procman.Supervisor
	logger  *slog.Logger
}

// New constructs a pipeline.
func New(binary string, timeout time.Duration, sup *procman.Supervisor, logger *slog.Logger) (*Pipeline, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("transcode binary required")
	}
	return &Pipeline{
		binary:  binary,
		timeout: timeout,
		sup:     sup,
		logger:  logging.WithComponent(logger, "postprocess"),
	}, nil
}

// NeedsContainerChange reports whether the artifact's extension differs from
// the requested target container.
func NeedsContainerChange(inputPath, targetContainer string) bool {
	targetContainer = strings.ToLower(strings.TrimSpace(targetContainer))
	if targetContainer == "" {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(extOf(inputPath), "."))
	return ext != targetContainer
}

// Run executes the requested steps. The container change runs first, audio
// extraction second (from the original input, so a failed remux does not
// block it).
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	result := &Result{OutputPath: req.InputPath}

	if NeedsContainerChange(req.InputPath, req.TargetContainer) {
		output := replaceExt(req.InputPath, req.TargetContainer)
		codecArgs, ok := containerCodecs[strings.ToLower(req.TargetContainer)]
		if !ok {
			return result, fmt.Errorf("no codec mapping for container %q", req.TargetContainer)
		}
		if err := p.invoke(ctx, req.InputPath, codecArgs, output); err != nil {
			return result, fmt.Errorf("convert to %s: %w", req.TargetContainer, err)
		}
		result.OutputPath = output
	}

	if req.ExtractAudio {
		format := strings.ToLower(strings.TrimSpace(req.AudioFormat))
		codecArgs, ok := audioCodecs[format]
		if !ok {
			return result, fmt.Errorf("no codec mapping for audio format %q", req.AudioFormat)
		}
		audioPath := replaceExt(req.InputPath, format)
		if err := p.invoke(ctx, req.InputPath, codecArgs, audioPath); err != nil {
			return result, fmt.Errorf("extract audio: %w", err)
		}
		result.AudioPath = audioPath
	}

	return result, nil
}

func (p *Pipeline) invoke(ctx context.Context, input string, codecArgs []string, output string) error {
	args := []string{"-y", "-nostdin", "-i", input}
	args = append(args, codecArgs...)
	args = append(args, output)

	var tail []string
	spec := procman.Spec{
		Binary:  p.binary,
		Args:    args,
		Timeout: p.timeout,
		OnStderr: func(line string) {
			tail = append(tail, line)
			if len(tail) > 10 {
				tail = tail[1:]
			}
		},
	}

	code, err := p.sup.Run(ctx, spec, nil)
	if err != nil {
		return err
	}
	if code != 0 {
		p.logger.Warn("transcode failed",
			logging.Int(logging.FieldExitCode, code),
			logging.String("output", output),
		)
		return fmt.Errorf("%s exited with code %d: %s", p.binary, code, lastLine(tail))
	}
	return nil
}

func extOf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i:]
	}
	return ""
}

func replaceExt(path, newExt string) string {
	if ext := extOf(path); ext != "" {
		path = path[:len(path)-len(ext)]
	}
	return path + "." + strings.TrimPrefix(newExt, ".")
}

func lastLine(tail []string) string {
	if len(tail) == 0 {
		return "no diagnostic output"
	}
	return tail[len(tail)-1]
}
