package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"fetchd/internal/config"
	"fetchd/internal/history"
	"fetchd/internal/logging"
	"fetchd/internal/postprocess"
	"fetchd/internal/procman"
	"fetchd/internal/queue"
	"fetchd/internal/ytdlp"
)

// Scheduler coordinates the queue, the process supervisor, and the
// post-download steps.
type Scheduler struct {
	cfg      *config.Config
	store    *queue.Store
	client   *ytdlp.Client
	sup      *procman.Supervisor
	pipeline *postprocess.Pipeline
	recorder history.Recorder
	logger   *slog.Logger

	wake chan struct{}

	mu             sync.Mutex
	running        bool
	paused         bool
	maxConcurrency int
	active         int
	cancels        map[string]context.CancelFunc
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// New constructs a scheduler. pipeline may be nil when post-processing is
// disabled; recorder must not be nil (use history.Nop()).
func New(cfg *config.Config, store *queue.Store, client *ytdlp.Client, sup *procman.Supervisor, pipeline *postprocess.Pipeline, recorder history.Recorder, logger *slog.Logger) *Scheduler {
	if recorder == nil {
		recorder = history.Nop()
	}
	return &Scheduler{
		cfg:            cfg,
		store:          store,
		client:         client,
		sup:            sup,
		pipeline:       pipeline,
		recorder:       recorder,
		logger:         logging.WithComponent(logger, "scheduler"),
		wake:           make(chan struct{}, 1),
		maxConcurrency: cfg.Downloader.MaxConcurrency,
		cancels:        make(map[string]context.CancelFunc),
	}
}

// Start begins claiming queued items.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.claimLoop(runCtx)
	s.poke()
	return nil
}

// Stop halts claiming, terminates all live downloads, and waits for workers
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.sup.StopAll()
}

// Enqueue adds a URL to the queue and wakes the claim loop.
func (s *Scheduler) Enqueue(url string, format *queue.Format) (queue.Item, error) {
	item, err := s.store.Enqueue(url, s.cfg.Paths.DownloadDir, format)
	if err != nil {
		return queue.Item{}, err
	}
	s.logger.Info("enqueued", logging.String(logging.FieldItemID, item.ID), logging.String(logging.FieldURL, url))
	s.poke()
	return item, nil
}

// Pause cancels every live download and halts new claims. Items move to
// paused before their processes finish dying so the pause feels immediate.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	cancels := make(map[string]context.CancelFunc, len(s.cancels))
	for id, cancel := range s.cancels {
		cancels[id] = cancel
	}
	s.mu.Unlock()

	for id, cancel := range cancels {
		if err := s.store.MarkPaused(id); err != nil && !errors.Is(err, queue.ErrNotFound) {
			s.logger.Warn("pause transition failed", logging.String(logging.FieldItemID, id), logging.Error(err))
		}
		cancel()
	}
	s.logger.Info("queue paused", logging.Int("cancelled", len(cancels)))
}

// Resume returns paused items to waiting and restarts claiming.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()

	moved := s.store.ResumePaused()
	s.logger.Info("queue resumed", logging.Int("requeued", moved))
	s.poke()
}

// Paused reports whether claiming is currently halted.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Retry returns a failed item to waiting.
func (s *Scheduler) Retry(id string) error {
	if err := s.store.Retry(id); err != nil {
		return err
	}
	s.poke()
	return nil
}

// RetryWithFormat returns a failed item to waiting with a new format.
func (s *Scheduler) RetryWithFormat(id string, format queue.Format) error {
	if err := s.store.RetryWithFormat(id, format); err != nil {
		return err
	}
	s.poke()
	return nil
}

// Remove cancels the item's download if one is running, then deletes it.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	cancel := s.cancels[id]
	s.mu.Unlock()

	if _, ok := s.store.Remove(id); !ok {
		return queue.ErrNotFound
	}
	if cancel != nil {
		cancel()
	}
	s.poke()
	return nil
}

// Reorder moves a waiting item to a new queue position.
func (s *Scheduler) Reorder(id string, newIndex int) error {
	return s.store.Reorder(id, newIndex)
}

// Prioritize moves a waiting item ahead of the previous waiting item.
func (s *Scheduler) Prioritize(id string) error {
	return s.store.Prioritize(id)
}

// Deprioritize moves a waiting item behind the next waiting item.
func (s *Scheduler) Deprioritize(id string) error {
	return s.store.Deprioritize(id)
}

// ClearCompleted drops all completed and failed items.
func (s *Scheduler) ClearCompleted() int {
	return s.store.ClearCompleted()
}

// SetMaxConcurrency adjusts the claim bound. Raising it wakes the claim
// loop; running downloads are never interrupted by lowering it.
func (s *Scheduler) SetMaxConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.maxConcurrency = n
	s.mu.Unlock()
	s.poke()
}

// Idle reports whether no work remains claimable or running.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	active := s.active
	paused := s.paused
	s.mu.Unlock()
	if active > 0 {
		return false
	}
	if paused {
		return true
	}
	return s.store.CountByStatus(queue.StatusWaiting) == 0
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) claimLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		s.claimPass(ctx)
	}
}

// claimPass claims waiting items until the concurrency bound is reached.
// Only the claim loop goroutine runs it.
func (s *Scheduler) claimPass(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.paused || s.active >= s.maxConcurrency {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		item, ok := s.store.Claim()
		if !ok {
			return
		}

		workerCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		if s.paused {
			// A pause landed between the bound check and the claim; undo it.
			s.mu.Unlock()
			cancel()
			if err := s.store.MarkPaused(item.ID); err != nil {
				s.logger.Warn("pause rollback failed", logging.String(logging.FieldItemID, item.ID), logging.Error(err))
			}
			return
		}
		s.active++
		s.cancels[item.ID] = cancel
		s.mu.Unlock()

		s.wg.Add(1)
		go s.runWorker(workerCtx, item)
	}
}
