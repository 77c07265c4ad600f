package ytdlp

import (
	"regexp"
	"strconv"
	"strings"
)

// ProgressUpdate is a partial update extracted from one output line. Fields
// left at their zero value (Fraction: -1) carried no information; the caller
// applies last-write-wins per field.
type ProgressUpdate struct {
	Fraction    float64
	Speed       string
	ETA         string
	Phase       string
	Destination string
}

var (
	percentPattern     = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)
	speedPattern       = regexp.MustCompile(`\bat\s+(~?[0-9.]+\s*[KMGT]?i?B)/s`)
	etaPattern         = regexp.MustCompile(`\bETA\s+([0-9:]+)`)
	destinationPattern = regexp.MustCompile(`Destination:\s+(.+)$`)
	mergingPattern     = regexp.MustCompile(`Merging formats into "(.+)"`)
)

var phaseMarkers = []struct {
	marker string
	phase  string
}{
	{"[Merger]", "Merging"},
	{"[ExtractAudio]", "Extracting audio"},
	{"[VideoConvertor]", "Converting"},
	{"[VideoRemuxer]", "Remuxing"},
	{"[FixupM3u8]", "Fixing container"},
}

// ParseProgressLine extracts progress fields from one line of downloader
// output. Lines that carry nothing of interest return ok=false; they are
// normal diagnostics, not errors.
func ParseProgressLine(line string) (ProgressUpdate, bool) {
	update := ProgressUpdate{Fraction: -1}
	matched := false

	if m := percentPattern.FindStringSubmatch(line); m != nil {
		if value, err := strconv.ParseFloat(m[1], 64); err == nil {
			if value < 0 {
				value = 0
			}
			if value > 100 {
				value = 100
			}
			update.Fraction = value / 100
			matched = true
		}
	}
	if m := speedPattern.FindStringSubmatch(line); m != nil {
		update.Speed = strings.TrimSpace(m[1]) + "/s"
		matched = true
	}
	if m := etaPattern.FindStringSubmatch(line); m != nil {
		update.ETA = m[1]
		matched = true
	}
	for _, marker := range phaseMarkers {
		if strings.Contains(line, marker.marker) {
			update.Phase = marker.phase
			matched = true
			break
		}
	}
	if m := mergingPattern.FindStringSubmatch(line); m != nil {
		update.Destination = strings.TrimSpace(m[1])
		matched = true
	} else if m := destinationPattern.FindStringSubmatch(line); m != nil {
		update.Destination = strings.TrimSpace(m[1])
		matched = true
	}

	return update, matched
}
