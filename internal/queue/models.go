package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var allStatuses = []Status{
	StatusWaiting,
	StatusDownloading,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Format describes one selectable format offered by a media source. It is
// used both as the user's request and as a candidate during fallback.
// Unknown numeric fields stay zero.
type Format struct {
	ID         string
	Extension  string
	VideoCodec string
	AudioCodec string
	Height     int
	Bitrate    float64
	FileSize   int64
}

// IsAudioOnly reports whether the format carries no video stream.
func (f Format) IsAudioOnly() bool {
	codec := strings.ToLower(strings.TrimSpace(f.VideoCodec))
	return codec == "" || codec == "none"
}

// HasVideo reports whether the format carries a video stream.
func (f Format) HasVideo() bool {
	return !f.IsAudioOnly()
}

// Item represents one queued download request and its run-time state.
type Item struct {
	ID              string
	URL             string
	Title           string
	RequestedFormat *Format
	TargetDir       string

	Status       Status
	Progress     float64
	StatusText   string
	Speed        string
	ETA          string
	ErrorMessage string

	ArtifactPath string
	AudioPath    string

	// FallbackAttempted bounds automatic format substitution to one episode
	// per item; a second format failure requires a manual choice.
	FallbackAttempted bool
	// NeedsFormatSelection marks a failure that stopped for a user decision.
	NeedsFormatSelection bool
	// AvailableFormats carries the fetched format list when the item stopped
	// for manual selection.
	AvailableFormats []Format

	// ProcessID is the supervisor registration of the live child process.
	// Non-zero exactly while the item is Downloading.
	ProcessID uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether the item finished its lifecycle.
func (i Item) IsTerminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed
}

// blocksEnqueue reports whether an existing item for the same URL rejects a
// new enqueue. Only failed items may be enqueued again.
func (i Item) blocksEnqueue() bool {
	return i.Status != StatusFailed
}
