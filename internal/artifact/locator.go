// Package artifact resolves the file a finished download actually produced.
package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"fetchd/internal/textutil"
)

var mediaExtensions = map[string]struct{}{
	".mp4": {}, ".mkv": {}, ".webm": {}, ".mov": {}, ".avi": {}, ".flv": {},
	".mp3": {}, ".m4a": {}, ".opus": {}, ".flac": {}, ".wav": {}, ".ogg": {},
}

// minTitleOverlap is the fraction of title tokens that must appear in a
// scanned filename before it counts as a match.
const minTitleOverlap = 0.5

// Locate resolves the output file for a successful run. A destination
// announcement captured from the tool's output wins outright and skips the
// directory scan. Otherwise the target directory is scanned for the newest
// media file whose name overlaps the item title. Returns ok=false when
// nothing plausible is found; callers treat that as a degraded result, not a
// failure.
func Locate(destination, targetDir, title string) (string, bool) {
	if destination = strings.TrimSpace(destination); destination != "" {
		return destination, true
	}
	return scanDir(targetDir, title)
}

func scanDir(dir, title string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var bestPath string
	var bestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := mediaExtensions[ext]; !ok {
			continue
		}
		if title != "" && textutil.TokenOverlap(title, name) < minTitleOverlap {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if bestPath == "" || info.ModTime().After(bestTime) {
			bestPath = filepath.Join(dir, name)
			bestTime = info.ModTime()
		}
	}
	return bestPath, bestPath != ""
}
