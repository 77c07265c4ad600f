package queue

import (
	"fmt"
	"time"
)

// AttachProcess records the supervisor registration for a downloading item.
// An item holds a process id exactly while it is downloading.
func (s *Store) AttachProcess(id string, processID uint64) error {
	return s.update(id, func(item *Item) error {
		if item.Status != StatusDownloading {
			return fmt.Errorf("%w: process attach requires a downloading item, got %s", ErrInvalidTransition, item.Status)
		}
		item.ProcessID = processID
		return nil
	})
}

// SetTitle records the resolved media title.
func (s *Store) SetTitle(id, title string) error {
	return s.update(id, func(item *Item) error {
		item.Title = title
		return nil
	})
}

// SetDownloadProgress applies a partial progress update from the stream
// parser. Empty strings leave the previous value in place (last write wins
// per field); the fraction is clamped to [0,1] and negative values are
// ignored.
func (s *Store) SetDownloadProgress(id string, fraction float64, statusText, speed, eta string) error {
	return s.update(id, func(item *Item) error {
		if fraction >= 0 {
			if fraction > 1 {
				fraction = 1
			}
			item.Progress = fraction
		}
		if statusText != "" {
			item.StatusText = statusText
		}
		if speed != "" {
			item.Speed = speed
		}
		if eta != "" {
			item.ETA = eta
		}
		return nil
	})
}

// MarkPaused moves a downloading item to paused and releases its process
// handle. The supervisor cleanup may still be in flight; the state changes
// first so pausing feels immediate.
func (s *Store) MarkPaused(id string) error {
	return s.update(id, func(item *Item) error {
		if item.Status != StatusDownloading {
			return fmt.Errorf("%w: pause requires a downloading item, got %s", ErrInvalidTransition, item.Status)
		}
		item.Status = StatusPaused
		item.ProcessID = 0
		item.StatusText = "Paused"
		item.Speed = ""
		item.ETA = ""
		return nil
	})
}

// MarkCompleted finishes a downloading item successfully.
func (s *Store) MarkCompleted(id, artifactPath, audioPath string) error {
	return s.update(id, func(item *Item) error {
		if item.Status != StatusDownloading {
			return fmt.Errorf("%w: completion requires a downloading item, got %s", ErrInvalidTransition, item.Status)
		}
		item.Status = StatusCompleted
		item.ProcessID = 0
		item.Progress = 1
		item.StatusText = "Completed"
		item.Speed = ""
		item.ETA = ""
		item.ErrorMessage = ""
		item.ArtifactPath = artifactPath
		item.AudioPath = audioPath
		return nil
	})
}

// SetPostProcessNote records a best-effort post-processing outcome without
// touching the completed state.
func (s *Store) SetPostProcessNote(id, note string) error {
	return s.update(id, func(item *Item) error {
		item.StatusText = note
		return nil
	})
}

// MarkFailed moves an item to failed with a human-readable message.
func (s *Store) MarkFailed(id, message string) error {
	return s.update(id, func(item *Item) error {
		item.Status = StatusFailed
		item.ProcessID = 0
		item.StatusText = "Failed"
		item.Speed = ""
		item.ETA = ""
		item.ErrorMessage = message
		return nil
	})
}

// MarkFailedNeedsFormat fails an item that stopped for a manual format
// choice, attaching the fetched candidate list.
func (s *Store) MarkFailedNeedsFormat(id, message string, formats []Format) error {
	return s.update(id, func(item *Item) error {
		item.Status = StatusFailed
		item.ProcessID = 0
		item.StatusText = "Failed"
		item.Speed = ""
		item.ETA = ""
		item.ErrorMessage = message
		item.NeedsFormatSelection = true
		item.AvailableFormats = append([]Format(nil), formats...)
		return nil
	})
}

// ApplyFallbackFormat swaps in the substitute format selected by the
// fallback resolver and returns the item to waiting for its single bounded
// retry.
func (s *Store) ApplyFallbackFormat(id string, format Format) error {
	return s.update(id, func(item *Item) error {
		if item.FallbackAttempted {
			return fmt.Errorf("%w: fallback already attempted", ErrInvalidTransition)
		}
		item.RequestedFormat = cloneFormat(&format)
		item.FallbackAttempted = true
		item.Status = StatusWaiting
		item.ProcessID = 0
		item.Progress = 0
		item.StatusText = fmt.Sprintf("Retrying with format %s", format.ID)
		item.Speed = ""
		item.ETA = ""
		item.ErrorMessage = ""
		return nil
	})
}

func (s *Store) update(id string, mutate func(*Item) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.find(id)
	if item == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := mutate(item); err != nil {
		return err
	}
	item.UpdatedAt = time.Now()
	return nil
}
