package queue_test

import (
	"errors"
	"sync"
	"testing"

	"fetchd/internal/queue"
)

func TestEnqueueAssignsIDAndDefaults(t *testing.T) {
	store := queue.NewStore()

	item, err := store.Enqueue("https://example.com/v/1", "/tmp/downloads", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if item.ID == "" {
		t.Fatal("expected item ID to be assigned")
	}
	if item.Status != queue.StatusWaiting {
		t.Fatalf("expected waiting status, got %s", item.Status)
	}
	if item.TargetDir != "/tmp/downloads" {
		t.Fatalf("unexpected target dir: %s", item.TargetDir)
	}
}

func TestEnqueueRejectsDuplicateURL(t *testing.T) {
	store := queue.NewStore()
	url := "https://example.com/v/dup"

	if _, err := store.Enqueue(url, "/tmp", nil); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}
	if _, err := store.Enqueue(url, "/tmp", nil); !errors.Is(err, queue.ErrDuplicateURL) {
		t.Fatalf("expected ErrDuplicateURL, got %v", err)
	}
}

func TestEnqueueAllowsDuplicateAfterFailure(t *testing.T) {
	store := queue.NewStore()
	url := "https://example.com/v/retryable"

	item, err := store.Enqueue(url, "/tmp", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, ok := store.Claim(); !ok {
		t.Fatal("expected a claimable item")
	}
	if err := store.MarkFailed(item.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	if _, err := store.Enqueue(url, "/tmp", nil); err != nil {
		t.Fatalf("expected enqueue after failure to succeed, got %v", err)
	}
}

func TestClaimTakesEarliestWaiting(t *testing.T) {
	store := queue.NewStore()
	first, _ := store.Enqueue("https://example.com/v/a", "/tmp", nil)
	store.Enqueue("https://example.com/v/b", "/tmp", nil)

	claimed, ok := store.Claim()
	if !ok {
		t.Fatal("expected a claimable item")
	}
	if claimed.ID != first.ID {
		t.Fatalf("expected earliest item %s, got %s", first.ID, claimed.ID)
	}
	if claimed.Status != queue.StatusDownloading {
		t.Fatalf("expected downloading status, got %s", claimed.Status)
	}
}

func TestClaimNeverHandsOutSameItemTwice(t *testing.T) {
	store := queue.NewStore()
	const items = 8
	for i := 0; i < items; i++ {
		url := "https://example.com/v/race-" + string(rune('a'+i))
		if _, err := store.Enqueue(url, "/tmp", nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := store.Claim()
				if !ok {
					return
				}
				mu.Lock()
				seen[item.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != items {
		t.Fatalf("expected %d claimed items, got %d", items, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("item %s claimed %d times", id, count)
		}
	}
}

func TestReorderMovesWaitingItem(t *testing.T) {
	store := queue.NewStore()
	a, _ := store.Enqueue("https://example.com/v/1", "/tmp", nil)
	b, _ := store.Enqueue("https://example.com/v/2", "/tmp", nil)
	c, _ := store.Enqueue("https://example.com/v/3", "/tmp", nil)

	if err := store.Reorder(c.ID, 0); err != nil {
		t.Fatalf("Reorder failed: %v", err)
	}

	items := store.Items()
	got := []string{items[0].ID, items[1].ID, items[2].ID}
	want := []string{c.ID, a.ID, b.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order at %d: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestReorderClampsIndex(t *testing.T) {
	store := queue.NewStore()
	a, _ := store.Enqueue("https://example.com/v/1", "/tmp", nil)
	store.Enqueue("https://example.com/v/2", "/tmp", nil)

	if err := store.Reorder(a.ID, 99); err != nil {
		t.Fatalf("Reorder failed: %v", err)
	}
	items := store.Items()
	if items[len(items)-1].ID != a.ID {
		t.Fatal("expected item moved to the end")
	}
}

func TestReorderRejectsNonWaiting(t *testing.T) {
	store := queue.NewStore()
	item, _ := store.Enqueue("https://example.com/v/1", "/tmp", nil)
	store.Claim()

	if err := store.Reorder(item.ID, 0); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPrioritizeSkipsNonWaitingNeighbors(t *testing.T) {
	store := queue.NewStore()
	store.Enqueue("https://example.com/v/1", "/tmp", nil)
	b, _ := store.Enqueue("https://example.com/v/2", "/tmp", nil)
	c, _ := store.Enqueue("https://example.com/v/3", "/tmp", nil)

	// First item becomes downloading; it must keep its slot.
	store.Claim()

	if err := store.Prioritize(c.ID); err != nil {
		t.Fatalf("Prioritize failed: %v", err)
	}
	items := store.Items()
	if items[1].ID != c.ID || items[2].ID != b.ID {
		t.Fatalf("unexpected order: %s then %s", items[1].ID, items[2].ID)
	}
	if items[0].Status != queue.StatusDownloading {
		t.Fatal("downloading item should not have moved")
	}
}

func TestRetryResetsFailedItem(t *testing.T) {
	store := queue.NewStore()
	item, _ := store.Enqueue("https://example.com/v/1", "/tmp", nil)
	store.Claim()
	if err := store.MarkFailed(item.ID, "network gone"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	if err := store.Retry(item.ID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	got, _ := store.Item(item.ID)
	if got.Status != queue.StatusWaiting {
		t.Fatalf("expected waiting status, got %s", got.Status)
	}
	if got.ErrorMessage != "" || got.Progress != 0 {
		t.Fatalf("expected cleared run state, got %#v", got)
	}
}

func TestRetryRejectsNonFailed(t *testing.T) {
	store := queue.NewStore()
	item, _ := store.Enqueue("https://example.com/v/1", "/tmp", nil)

	if err := store.Retry(item.ID); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRetryWithFormatResetsFallbackBudget(t *testing.T) {
	store := queue.NewStore()
	item, _ := store.Enqueue("https://example.com/v/1", "/tmp", &queue.Format{ID: "137"})
	store.Claim()
	if err := store.ApplyFallbackFormat(item.ID, queue.Format{ID: "136"}); err != nil {
		t.Fatalf("ApplyFallbackFormat failed: %v", err)
	}
	store.Claim()
	if err := store.MarkFailed(item.ID, "still unavailable"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	if err := store.RetryWithFormat(item.ID, queue.Format{ID: "135"}); err != nil {
		t.Fatalf("RetryWithFormat failed: %v", err)
	}
	got, _ := store.Item(item.ID)
	if got.RequestedFormat == nil || got.RequestedFormat.ID != "135" {
		t.Fatalf("expected requested format 135, got %#v", got.RequestedFormat)
	}
	if got.FallbackAttempted {
		t.Fatal("manual format choice should reset the fallback budget")
	}
	if got.NeedsFormatSelection {
		t.Fatal("expected manual-selection flag cleared")
	}
}

func TestClearCompletedDropsTerminalItems(t *testing.T) {
	store := queue.NewStore()
	done, _ := store.Enqueue("https://example.com/v/1", "/tmp", nil)
	failed, _ := store.Enqueue("https://example.com/v/2", "/tmp", nil)
	waiting, _ := store.Enqueue("https://example.com/v/3", "/tmp", nil)

	store.Claim()
	if err := store.MarkCompleted(done.ID, "/tmp/a.mp4", ""); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	store.Claim()
	if err := store.MarkFailed(failed.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	if removed := store.ClearCompleted(); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	items := store.Items()
	if len(items) != 1 || items[0].ID != waiting.ID {
		t.Fatalf("expected only the waiting item to remain, got %d items", len(items))
	}
}

func TestRemoveReturnsRemovedItem(t *testing.T) {
	store := queue.NewStore()
	item, _ := store.Enqueue("https://example.com/v/1", "/tmp", nil)

	removed, ok := store.Remove(item.ID)
	if !ok || removed.ID != item.ID {
		t.Fatalf("expected removed item %s, got %#v ok=%v", item.ID, removed, ok)
	}
	if _, ok := store.Remove(item.ID); ok {
		t.Fatal("second remove should report missing")
	}
}

func TestResumePausedReturnsItemsToWaiting(t *testing.T) {
	store := queue.NewStore()
	item, _ := store.Enqueue("https://example.com/v/1", "/tmp", nil)
	store.Claim()
	if err := store.MarkPaused(item.ID); err != nil {
		t.Fatalf("MarkPaused failed: %v", err)
	}

	if moved := store.ResumePaused(); moved != 1 {
		t.Fatalf("expected 1 moved, got %d", moved)
	}
	got, _ := store.Item(item.ID)
	if got.Status != queue.StatusWaiting {
		t.Fatalf("expected waiting status, got %s", got.Status)
	}
}
