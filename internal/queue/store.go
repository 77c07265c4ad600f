package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the mutex-guarded owner of the queue. All mutation happens inside
// Store methods; accessors return copies.
type Store struct {
	mu    sync.Mutex
	items []*Item
}

// NewStore creates an empty queue store.
func NewStore() *Store {
	return &Store{}
}

// Enqueue appends a waiting item for url. It fails with ErrDuplicateURL when
// another item for the same URL exists in any state other than failed.
func (s *Store) Enqueue(url, targetDir string, format *Format) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing.URL == url && existing.blocksEnqueue() {
			return Item{}, fmt.Errorf("%w: %s", ErrDuplicateURL, url)
		}
	}

	now := time.Now()
	item := &Item{
		ID:              uuid.NewString(),
		URL:             url,
		TargetDir:       targetDir,
		RequestedFormat: cloneFormat(format),
		Status:          StatusWaiting,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.items = append(s.items, item)
	return *item, nil
}

// Item returns a copy of the item with the given id.
func (s *Store) Item(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item := s.find(id); item != nil {
		return *item, true
	}
	return Item{}, false
}

// Items returns copies of all items in queue order.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	return out
}

// CountByStatus returns the number of items currently in the given status.
func (s *Store) CountByStatus(status Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, item := range s.items {
		if item.Status == status {
			count++
		}
	}
	return count
}

// Claim atomically transitions the earliest waiting item to downloading and
// returns a copy of it. The single lock-held scan is what prevents two
// concurrent scheduling passes from claiming the same item.
func (s *Store) Claim() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.Status != StatusWaiting {
			continue
		}
		item.Status = StatusDownloading
		item.StatusText = "Starting"
		item.Speed = ""
		item.ETA = ""
		item.UpdatedAt = time.Now()
		return *item, true
	}
	return Item{}, false
}

// Remove deletes the item with the given id and returns a copy of it.
// Cancelling any live process is the caller's responsibility.
func (s *Store) Remove(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID == id {
			removed := *item
			s.items = append(s.items[:i], s.items[i+1:]...)
			return removed, true
		}
	}
	return Item{}, false
}

// Reorder moves a waiting item to newIndex within the queue. Items in other
// states keep their positions; the index is clamped to the queue bounds.
func (s *Store) Reorder(id string, newIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldIndex := -1
	for i, item := range s.items {
		if item.ID == id {
			oldIndex = i
			break
		}
	}
	if oldIndex == -1 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.items[oldIndex].Status != StatusWaiting {
		return fmt.Errorf("%w: only waiting items can be reordered", ErrInvalidTransition)
	}
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex >= len(s.items) {
		newIndex = len(s.items) - 1
	}
	if newIndex == oldIndex {
		return nil
	}

	item := s.items[oldIndex]
	s.items = append(s.items[:oldIndex], s.items[oldIndex+1:]...)
	rest := make([]*Item, 0, len(s.items)+1)
	rest = append(rest, s.items[:newIndex]...)
	rest = append(rest, item)
	rest = append(rest, s.items[newIndex:]...)
	s.items = rest
	item.UpdatedAt = time.Now()
	return nil
}

// Prioritize swaps a waiting item with the previous waiting item.
func (s *Store) Prioritize(id string) error {
	return s.shift(id, -1)
}

// Deprioritize swaps a waiting item with the next waiting item.
func (s *Store) Deprioritize(id string) error {
	return s.shift(id, +1)
}

func (s *Store) shift(id string, direction int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := -1
	for i, item := range s.items {
		if item.ID == id {
			index = i
			break
		}
	}
	if index == -1 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.items[index].Status != StatusWaiting {
		return fmt.Errorf("%w: only waiting items can be reordered", ErrInvalidTransition)
	}

	for neighbor := index + direction; neighbor >= 0 && neighbor < len(s.items); neighbor += direction {
		if s.items[neighbor].Status != StatusWaiting {
			continue
		}
		s.items[index], s.items[neighbor] = s.items[neighbor], s.items[index]
		s.items[neighbor].UpdatedAt = time.Now()
		return nil
	}
	return nil
}

// Retry resets a failed item back to waiting, clearing progress and error
// state. Only failed items can be retried.
func (s *Store) Retry(id string) error {
	return s.retry(id, nil)
}

// RetryWithFormat resets a failed item back to waiting with a new requested
// format, clearing the manual-selection stop.
func (s *Store) RetryWithFormat(id string, format Format) error {
	return s.retry(id, &format)
}

func (s *Store) retry(id string, format *Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.find(id)
	if item == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.Status != StatusFailed {
		return fmt.Errorf("%w: retry requires a failed item, got %s", ErrInvalidTransition, item.Status)
	}

	if format != nil {
		item.RequestedFormat = cloneFormat(format)
		item.FallbackAttempted = false
	}
	item.Status = StatusWaiting
	item.Progress = 0
	item.StatusText = ""
	item.Speed = ""
	item.ETA = ""
	item.ErrorMessage = ""
	item.NeedsFormatSelection = false
	item.AvailableFormats = nil
	item.UpdatedAt = time.Now()
	return nil
}

// ClearCompleted removes every completed and failed item and reports how many
// were dropped.
func (s *Store) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	removed := 0
	for _, item := range s.items {
		if item.IsTerminal() {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	return removed
}

// ResumePaused moves every paused item back to waiting and reports how many
// moved.
func (s *Store) ResumePaused() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	for _, item := range s.items {
		if item.Status != StatusPaused {
			continue
		}
		item.Status = StatusWaiting
		item.StatusText = ""
		item.Speed = ""
		item.ETA = ""
		item.UpdatedAt = time.Now()
		moved++
	}
	return moved
}

func (s *Store) find(id string) *Item {
	for _, item := range s.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func cloneFormat(format *Format) *Format {
	if format == nil {
		return nil
	}
	cp := *format
	return &cp
}
