package scheduler_test

import (
	"context"
	"testing"
	"time"

	"fetchd/internal/config"
	"fetchd/internal/logging"
	"fetchd/internal/procman"
	"fetchd/internal/queue"
	"fetchd/internal/scheduler"
	"fetchd/internal/testsupport"
	"fetchd/internal/ytdlp"
)

// metadataJSON is the stub downloader's -J response: one 720p and one 480p
// candidate.
const metadataJSON = `{"title":"Test Clip","duration":12,"formats":[{"format_id":"136","ext":"mp4","vcodec":"avc1.4d401f","acodec":"mp4a.40.2","height":720,"tbr":1200},{"format_id":"135","ext":"mp4","vcodec":"avc1.4d401e","acodec":"mp4a.40.2","height":480,"tbr":700}]}`

const scriptPrelude = `
if [ "$1" = "-J" ]; then
	printf '%s\n' '` + metadataJSON + `'
	exit 0
fi
fmt=""
out=""
prev=""
for arg in "$@"; do
	[ "$prev" = "-f" ] && fmt="$arg"
	[ "$prev" = "-o" ] && out="$arg"
	prev="$arg"
done
`

// succeedingDownload emits a destination announcement, a progress line, and
// creates the artifact.
const succeedingDownload = `
dest="$(dirname "$out")/Test Clip.mp4"
printf '[download] Destination: %s\n' "$dest"
echo '[download]  50.0% of 10.00MiB at 1.00MiB/s ETA 00:05'
sleep 0.2
echo '[download] 100% of 10.00MiB in 00:10'
: > "$dest"
exit 0
`

const formatUnavailableStderr = `echo 'ERROR: [youtube] abc: Requested format is not available. Use --list-formats for a list of available formats' >&2
exit 1
`

func newScheduler(t *testing.T, script string, opts ...testsupport.ConfigOption) (*scheduler.Scheduler, *queue.Store, *config.Config) {
	t.Helper()

	allOpts := append([]testsupport.ConfigOption{testsupport.WithDownloaderBinary(script)}, opts...)
	cfg := testsupport.NewConfig(t, allOpts...)

	logger := logging.NewNop()
	sup := procman.New(time.Second, logger)
	client, err := ytdlp.New(ytdlp.Options{
		Binary:         cfg.Downloader.Binary,
		NamingTemplate: cfg.Downloader.NamingTemplate,
		FetchTimeout:   10 * time.Second,
	}, sup, logger)
	if err != nil {
		t.Fatalf("ytdlp.New failed: %v", err)
	}

	store := queue.NewStore()
	return scheduler.New(cfg, store, client, sup, nil, nil, logger), store, cfg
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSchedulerDrainsQueue(t *testing.T) {
	script := testsupport.Script(t, "yt-dlp", scriptPrelude+succeedingDownload)
	sched, store, _ := newScheduler(t, script, testsupport.WithMaxConcurrency(2))

	urls := []string{
		"https://example.com/v/1",
		"https://example.com/v/2",
		"https://example.com/v/3",
		"https://example.com/v/4",
		"https://example.com/v/5",
	}
	for _, url := range urls {
		if _, err := sched.Enqueue(url, nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop()

	maxActive := 0
	waitFor(t, 20*time.Second, "queue to drain", func() bool {
		if n := store.CountByStatus(queue.StatusDownloading); n > maxActive {
			maxActive = n
		}
		return sched.Idle()
	})

	if maxActive > 2 {
		t.Fatalf("concurrency bound violated: %d simultaneous downloads", maxActive)
	}
	for _, item := range store.Items() {
		if item.Status != queue.StatusCompleted {
			t.Fatalf("item %s ended as %s: %s", item.URL, item.Status, item.ErrorMessage)
		}
		if item.Title != "Test Clip" {
			t.Fatalf("expected resolved title, got %q", item.Title)
		}
		if item.ArtifactPath == "" {
			t.Fatalf("item %s has no artifact path", item.URL)
		}
		if item.Progress != 1 {
			t.Fatalf("item %s ended with progress %v", item.URL, item.Progress)
		}
	}
}

func TestSchedulerPauseAndResume(t *testing.T) {
	script := testsupport.Script(t, "yt-dlp", `
if [ "$1" = "-J" ]; then
	printf '%s\n' '`+metadataJSON+`'
	exit 0
fi
exec sleep 30
`)
	sched, store, _ := newScheduler(t, script, testsupport.WithMaxConcurrency(1))

	item, err := sched.Enqueue("https://example.com/v/slow", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop()

	waitFor(t, 10*time.Second, "download to start", func() bool {
		current, _ := store.Item(item.ID)
		return current.Status == queue.StatusDownloading && current.ProcessID != 0
	})

	sched.Pause()
	current, _ := store.Item(item.ID)
	if current.Status != queue.StatusPaused {
		t.Fatalf("expected paused immediately, got %s", current.Status)
	}
	if current.ProcessID != 0 {
		t.Fatal("paused item must not hold a process handle")
	}
	if !sched.Paused() {
		t.Fatal("scheduler should report paused")
	}

	sched.Resume()
	waitFor(t, 10*time.Second, "download to restart", func() bool {
		current, _ := store.Item(item.ID)
		return current.Status == queue.StatusDownloading
	})
}

func TestSchedulerPauseBlocksNewClaims(t *testing.T) {
	script := testsupport.Script(t, "yt-dlp", scriptPrelude+succeedingDownload)
	sched, store, _ := newScheduler(t, script)

	sched.Pause()
	if _, err := sched.Enqueue("https://example.com/v/1", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop()

	time.Sleep(300 * time.Millisecond)
	items := store.Items()
	if items[0].Status != queue.StatusWaiting {
		t.Fatalf("paused scheduler must not claim, got %s", items[0].Status)
	}

	sched.Resume()
	waitFor(t, 20*time.Second, "queue to drain", sched.Idle)
	item, _ := store.Item(items[0].ID)
	if item.Status != queue.StatusCompleted {
		t.Fatalf("expected completion after resume, got %s", item.Status)
	}
}

func TestSchedulerFormatFallbackRetriesOnce(t *testing.T) {
	script := testsupport.Script(t, "yt-dlp", scriptPrelude+`
if [ "$fmt" = "137" ]; then
	`+formatUnavailableStderr+`
fi
`+succeedingDownload)
	sched, store, _ := newScheduler(t, script)

	item, err := sched.Enqueue("https://example.com/v/1", &queue.Format{ID: "137", VideoCodec: "avc1", Height: 1080})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop()

	waitFor(t, 20*time.Second, "queue to drain", sched.Idle)

	got, _ := store.Item(item.ID)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("expected completion via fallback, got %s: %s", got.Status, got.ErrorMessage)
	}
	if !got.FallbackAttempted {
		t.Fatal("expected fallback budget consumed")
	}
	if got.RequestedFormat == nil || got.RequestedFormat.ID != "136" {
		t.Fatalf("expected closest-height substitute 136, got %#v", got.RequestedFormat)
	}
}

func TestSchedulerSecondFormatFailureStopsForSelection(t *testing.T) {
	script := testsupport.Script(t, "yt-dlp", scriptPrelude+`
if [ -n "$fmt" ]; then
	`+formatUnavailableStderr+`
fi
`+succeedingDownload)
	sched, store, _ := newScheduler(t, script)

	item, err := sched.Enqueue("https://example.com/v/1", &queue.Format{ID: "137", VideoCodec: "avc1", Height: 1080})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop()

	waitFor(t, 20*time.Second, "queue to drain", sched.Idle)

	got, _ := store.Item(item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected failure after exhausted fallback, got %s", got.Status)
	}
	if !got.FallbackAttempted {
		t.Fatal("expected one automatic substitution before stopping")
	}
	if !got.NeedsFormatSelection {
		t.Fatal("expected manual-selection stop")
	}
	if len(got.AvailableFormats) == 0 {
		t.Fatal("expected candidate formats attached")
	}
}

func TestSchedulerManualSelectionSkipsAutoFallback(t *testing.T) {
	script := testsupport.Script(t, "yt-dlp", scriptPrelude+`
if [ -n "$fmt" ]; then
	`+formatUnavailableStderr+`
fi
`+succeedingDownload)
	sched, store, _ := newScheduler(t, script, func(cfg *config.Config) {
		cfg.Fallback.ManualSelection = true
	})

	item, err := sched.Enqueue("https://example.com/v/1", &queue.Format{ID: "137", VideoCodec: "avc1", Height: 1080})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop()

	waitFor(t, 20*time.Second, "queue to drain", sched.Idle)

	got, _ := store.Item(item.ID)
	if got.Status != queue.StatusFailed || !got.NeedsFormatSelection {
		t.Fatalf("expected manual-selection stop, got %s needsSelection=%v", got.Status, got.NeedsFormatSelection)
	}
	if got.FallbackAttempted {
		t.Fatal("manual-selection policy must not consume the fallback budget")
	}

	// A retry with an explicit choice runs to completion.
	if err := sched.RetryWithFormat(item.ID, queue.Format{ID: ""}); err != nil {
		t.Fatalf("RetryWithFormat failed: %v", err)
	}
	waitFor(t, 20*time.Second, "retry to drain", sched.Idle)
	got, _ = store.Item(item.ID)
	if got.Status != queue.StatusCompleted {
		t.Fatalf("expected completion after manual retry, got %s: %s", got.Status, got.ErrorMessage)
	}
}

func TestSchedulerNonFormatFailureIsTerminal(t *testing.T) {
	script := testsupport.Script(t, "yt-dlp", scriptPrelude+`
echo 'ERROR: network unreachable' >&2
exit 1
`)
	sched, store, _ := newScheduler(t, script)

	item, err := sched.Enqueue("https://example.com/v/1", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop()

	waitFor(t, 20*time.Second, "queue to drain", sched.Idle)

	got, _ := store.Item(item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected failure, got %s", got.Status)
	}
	if got.NeedsFormatSelection {
		t.Fatal("a network failure must not stop for format selection")
	}
	if got.ErrorMessage == "" {
		t.Fatal("expected a failure message")
	}
}

func TestSchedulerRemoveCancelsRunningDownload(t *testing.T) {
	script := testsupport.Script(t, "yt-dlp", `
if [ "$1" = "-J" ]; then
	printf '%s\n' '`+metadataJSON+`'
	exit 0
fi
exec sleep 30
`)
	sched, store, _ := newScheduler(t, script)

	item, err := sched.Enqueue("https://example.com/v/slow", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop()

	waitFor(t, 10*time.Second, "download to start", func() bool {
		current, _ := store.Item(item.ID)
		return current.Status == queue.StatusDownloading
	})

	if err := sched.Remove(item.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := store.Item(item.ID); ok {
		t.Fatal("expected item gone after remove")
	}
	waitFor(t, 10*time.Second, "scheduler to go idle", sched.Idle)
}

func TestSchedulerStopTerminatesWorkers(t *testing.T) {
	script := testsupport.Script(t, "yt-dlp", `
if [ "$1" = "-J" ]; then
	printf '%s\n' '`+metadataJSON+`'
	exit 0
fi
exec sleep 30
`)
	sched, store, _ := newScheduler(t, script)

	item, err := sched.Enqueue("https://example.com/v/slow", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 10*time.Second, "download to start", func() bool {
		current, _ := store.Item(item.ID)
		return current.Status == queue.StatusDownloading
	})

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("Stop did not return")
	}

	got, _ := store.Item(item.ID)
	if got.Status != queue.StatusPaused {
		t.Fatalf("interrupted download should park as paused, got %s", got.Status)
	}
}
