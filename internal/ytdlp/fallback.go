package ytdlp

import (
	"math"

	"fetchd/internal/queue"
)

// ResolveFallback selects the substitute format closest to the rejected
// request. Audio-only requests match against audio-only candidates by
// bitrate distance; everything else matches against video candidates by
// height distance. maxHeight, when positive, excludes taller video
// candidates. Returns ok=false when no candidate qualifies.
func ResolveFallback(requested *queue.Format, candidates []queue.Format, maxHeight int) (queue.Format, bool) {
	if requested != nil && requested.IsAudioOnly() {
		return closestAudio(requested.Bitrate, candidates)
	}

	targetHeight := 0
	if requested != nil {
		targetHeight = requested.Height
	}
	return closestVideo(targetHeight, candidates, maxHeight)
}

func closestAudio(targetBitrate float64, candidates []queue.Format) (queue.Format, bool) {
	var best queue.Format
	bestDistance := math.Inf(1)
	found := false
	for _, candidate := range candidates {
		if !candidate.IsAudioOnly() || candidate.AudioCodec == "" {
			continue
		}
		distance := math.Abs(targetBitrate - candidate.Bitrate)
		if !found || distance < bestDistance {
			best = candidate
			bestDistance = distance
			found = true
		}
	}
	return best, found
}

func closestVideo(targetHeight int, candidates []queue.Format, maxHeight int) (queue.Format, bool) {
	var best queue.Format
	bestDistance := math.MaxInt
	found := false
	for _, candidate := range candidates {
		if !candidate.HasVideo() {
			continue
		}
		if maxHeight > 0 && candidate.Height > maxHeight {
			continue
		}
		distance := targetHeight - candidate.Height
		if distance < 0 {
			distance = -distance
		}
		// With no target height, prefer the tallest allowed candidate.
		if targetHeight == 0 {
			distance = -candidate.Height
		}
		if !found || distance < bestDistance {
			best = candidate
			bestDistance = distance
			found = true
		}
	}
	return best, found
}
