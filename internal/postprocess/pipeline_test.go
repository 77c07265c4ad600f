package postprocess_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fetchd/internal/logging"
	"fetchd/internal/postprocess"
	"fetchd/internal/procman"
	"fetchd/internal/testsupport"
)

// stubTranscoder touches the output file (the last argument) and exits 0.
const stubTranscoder = `
for last in "$@"; do :; done
: > "$last"
`

func newPipeline(t *testing.T, binary string) *postprocess.Pipeline {
	t.Helper()
	sup := procman.New(100*time.Millisecond, logging.NewNop())
	pipeline, err := postprocess.New(binary, 10*time.Second, sup, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return pipeline
}

func TestNeedsContainerChange(t *testing.T) {
	cases := []struct {
		path      string
		container string
		want      bool
	}{
		{"/tmp/clip.webm", "mp4", true},
		{"/tmp/clip.mp4", "mp4", false},
		{"/tmp/clip.MP4", "mp4", false},
		{"/tmp/clip.mp4", "", false},
	}
	for _, tc := range cases {
		if got := postprocess.NeedsContainerChange(tc.path, tc.container); got != tc.want {
			t.Fatalf("NeedsContainerChange(%q, %q) = %v, want %v", tc.path, tc.container, got, tc.want)
		}
	}
}

func TestRunConvertsAndExtracts(t *testing.T) {
	script := testsupport.Script(t, "ffmpeg", stubTranscoder)
	input := filepath.Join(t.TempDir(), "clip.webm")
	testsupport.WriteFile(t, input, "video")

	pipeline := newPipeline(t, script)
	result, err := pipeline.Run(context.Background(), postprocess.Request{
		InputPath:       input,
		TargetContainer: "mp4",
		ExtractAudio:    true,
		AudioFormat:     "mp3",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantOutput := strings.TrimSuffix(input, ".webm") + ".mp4"
	if result.OutputPath != wantOutput {
		t.Fatalf("unexpected output path: %q", result.OutputPath)
	}
	if _, err := os.Stat(result.OutputPath); err != nil {
		t.Fatalf("expected converted file to exist: %v", err)
	}

	wantAudio := strings.TrimSuffix(input, ".webm") + ".mp3"
	if result.AudioPath != wantAudio {
		t.Fatalf("unexpected audio path: %q", result.AudioPath)
	}
	if _, err := os.Stat(result.AudioPath); err != nil {
		t.Fatalf("expected extracted audio to exist: %v", err)
	}
}

func TestRunSkipsConversionForMatchingContainer(t *testing.T) {
	script := testsupport.Script(t, "ffmpeg", stubTranscoder)
	input := filepath.Join(t.TempDir(), "clip.mp4")
	testsupport.WriteFile(t, input, "video")

	pipeline := newPipeline(t, script)
	result, err := pipeline.Run(context.Background(), postprocess.Request{
		InputPath:       input,
		TargetContainer: "mp4",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.OutputPath != input {
		t.Fatalf("expected untouched input, got %q", result.OutputPath)
	}
	if result.AudioPath != "" {
		t.Fatalf("expected no audio extraction, got %q", result.AudioPath)
	}
}

func TestRunSurfacesTranscodeFailure(t *testing.T) {
	script := testsupport.Script(t, "ffmpeg", `
echo "Error while opening encoder" >&2
exit 1
`)
	input := filepath.Join(t.TempDir(), "clip.webm")
	testsupport.WriteFile(t, input, "video")

	pipeline := newPipeline(t, script)
	result, err := pipeline.Run(context.Background(), postprocess.Request{
		InputPath:       input,
		TargetContainer: "mp4",
	})
	if err == nil {
		t.Fatal("expected conversion error")
	}
	if !strings.Contains(err.Error(), "Error while opening encoder") {
		t.Fatalf("expected diagnostic in error, got %v", err)
	}
	if result.OutputPath != input {
		t.Fatalf("failed conversion must keep the original path, got %q", result.OutputPath)
	}
}

func TestRunRejectsUnknownTargets(t *testing.T) {
	script := testsupport.Script(t, "ffmpeg", stubTranscoder)
	pipeline := newPipeline(t, script)

	if _, err := pipeline.Run(context.Background(), postprocess.Request{
		InputPath:       "/tmp/clip.webm",
		TargetContainer: "wmv",
	}); err == nil {
		t.Fatal("expected error for unknown container")
	}
	if _, err := pipeline.Run(context.Background(), postprocess.Request{
		InputPath:    "/tmp/clip.webm",
		ExtractAudio: true,
		AudioFormat:  "aiff",
	}); err == nil {
		t.Fatal("expected error for unknown audio format")
	}
}
