package procman

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"fetchd/internal/logging"
)

// Spec describes one external tool invocation.
type Spec struct {
	Binary   string
	Args     []string
	Env      []string
	Dir      string
	Timeout  time.Duration
	OnStdout func(string)
	OnStderr func(string)
}

// Supervisor runs external tool processes and tracks every live child.
type Supervisor struct {
	grace  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	procs  map[uint64]*process
}

type process struct {
	cmd    *exec.Cmd
	binary string
	start  time.Time

	exited   chan struct{}
	termOnce sync.Once
}

// New constructs a supervisor. grace is the wait between termination ladder
// steps.
func New(grace time.Duration, logger *slog.Logger) *Supervisor {
	if grace <= 0 {
		grace = 3 * time.Second
	}
	return &Supervisor{
		grace:  grace,
		logger: logging.WithComponent(logger, "procman"),
		procs:  make(map[uint64]*process),
	}
}

// Running returns the number of live child processes.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Cancel interrupts the process registered under id. Calling it twice, or
// for a process that already exited, is a no-op.
func (s *Supervisor) Cancel(id uint64) {
	s.mu.Lock()
	proc := s.procs[id]
	s.mu.Unlock()
	if proc == nil {
		return
	}
	go proc.terminate(s.grace)
}

// StopAll terminates every live child and waits for the ladders to finish.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	procs := make([]*process, 0, len(s.procs))
	for _, proc := range s.procs {
		procs = append(procs, proc)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, proc := range procs {
		wg.Add(1)
		go func(p *process) {
			defer wg.Done()
			p.terminate(s.grace)
		}(proc)
	}
	wg.Wait()
}

// Run starts the process described by spec and blocks until it exits. The
// returned int is the child's exit code; a non-zero code is not itself an
// error. Run fails with a LaunchError when the binary cannot be started,
// a TimeoutError when spec.Timeout elapses first, or the context error when
// the caller cancels. The registered id is delivered on onStart (if non-nil)
// as soon as the child is running so callers can Cancel it.
func (s *Supervisor) Run(ctx context.Context, spec Spec, onStart func(id uint64)) (int, error) {
	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, &LaunchError{Binary: spec.Binary, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, &LaunchError{Binary: spec.Binary, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return -1, &LaunchError{Binary: spec.Binary, Err: err}
	}

	proc := &process{
		cmd:    cmd,
		binary: spec.Binary,
		start:  time.Now(),
		exited: make(chan struct{}),
	}
	id := s.register(proc)
	defer s.release(id)

	if onStart != nil {
		onStart(id)
	}

	// Pipes must be drained while the child runs; a full pipe buffer blocks
	// the child on write and a naive read-after-exit deadlocks.
	var scanners sync.WaitGroup
	scanners.Add(2)
	go scanLines(&scanners, stdout, spec.OnStdout)
	go scanLines(&scanners, stderr, spec.OnStderr)

	done := make(chan error, 1)
	go func() {
		scanners.Wait()
		err := cmd.Wait()
		close(proc.exited)
		done <- err
	}()

	var timeoutC <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case waitErr := <-done:
		return exitCode(waitErr)
	case <-timeoutC:
		s.logger.Warn("process exceeded budget, terminating",
			logging.String("binary", spec.Binary),
			logging.Duration("budget", spec.Timeout),
		)
		proc.terminate(s.grace)
		<-done
		return -1, &TimeoutError{Binary: spec.Binary, Budget: spec.Timeout}
	case <-ctx.Done():
		proc.terminate(s.grace)
		<-done
		return -1, ctx.Err()
	}
}

func (s *Supervisor) register(proc *process) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.procs[id] = proc
	return id
}

func (s *Supervisor) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, id)
}

// terminate walks the signal ladder until the process exits. Each step is
// best-effort; the ladder runs at most once.
func (p *process) terminate(grace time.Duration) {
	p.termOnce.Do(func() {
		for _, sig := range []unix.Signal{unix.SIGTERM, unix.SIGINT} {
			select {
			case <-p.exited:
				return
			default:
			}
			_ = p.cmd.Process.Signal(sig)
			select {
			case <-p.exited:
				return
			case <-time.After(grace):
			}
		}
		_ = p.cmd.Process.Kill()
	})
	// Later calls wait for the first ladder's outcome rather than starting
	// another one.
}

func scanLines(wg *sync.WaitGroup, r io.Reader, forward func(string)) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if forward != nil {
			forward(scanner.Text())
		}
	}
}

func exitCode(waitErr error) (int, error) {
	if waitErr == nil {
		return 0, nil
	}
	var exit *exec.ExitError
	if errors.As(waitErr, &exit) {
		return exit.ExitCode(), nil
	}
	return -1, waitErr
}
