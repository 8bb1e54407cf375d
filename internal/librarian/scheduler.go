// Package librarian runs debounced background analysis of recent writing.
// Each save nudges the scheduler; after a quiet period it snapshots the prose
// chain, asks the analyst for a summary, directions, knowledge suggestions and
// per-passage annotations, and persists the result.
package librarian

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyloom/internal/fault"
	"storyloom/internal/logging"
	"storyloom/internal/observability"
	"storyloom/internal/store"
	"storyloom/internal/types"
)

// Analyst produces the content of one analysis. The scheduler fills in the
// id, timestamps and chain snapshot.
type Analyst interface {
	Analyze(ctx context.Context, storyID string) (*types.Analysis, error)
}

// Options tunes the scheduler.
type Options struct {
	// Debounce is the quiet period after a trigger before a run starts.
	Debounce time.Duration

	// RunTimeout bounds one analysis run.
	RunTimeout time.Duration

	// Metrics may be nil.
	Metrics *observability.Recorder
}

const (
	defaultDebounce   = 5 * time.Second
	defaultRunTimeout = 2 * time.Minute
)

type storyState struct {
	timer   *time.Timer
	running bool
	pending bool
}

// Scheduler is the per-story debounce state machine: idle → queued → running
// → idle (or error). One run per story at a time; triggers during a run set a
// pending flag that re-queues on completion.
type Scheduler struct {
	store   *store.Store
	analyst Analyst
	opts    Options

	mu      sync.Mutex
	stories map[string]*storyState
	closed  bool
	wg      sync.WaitGroup
}

// NewScheduler builds a scheduler.
func NewScheduler(st *store.Store, analyst Analyst, opts Options) *Scheduler {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	return &Scheduler{
		store:   st,
		analyst: analyst,
		opts:    opts,
		stories: make(map[string]*storyState),
	}
}

// Trigger records a save and (re)starts the story's debounce timer. Rapid
// saves coalesce into one run. Safe to call from any goroutine.
func (s *Scheduler) Trigger(storyID string, _ *types.Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	st := s.stories[storyID]
	if st == nil {
		st = &storyState{}
		s.stories[storyID] = st
	}

	if st.running {
		st.pending = true
		logging.LibrarianDebug("Trigger during run for %s; re-queued", storyID)
		return
	}

	s.markQueued(storyID)
	if st.timer != nil {
		st.timer.Reset(s.opts.Debounce)
		return
	}
	st.timer = time.AfterFunc(s.opts.Debounce, func() { s.fire(storyID) })
	logging.LibrarianDebug("Queued librarian run for %s (debounce %s)", storyID, s.opts.Debounce)
}

// fire transitions queued → running and launches the run.
func (s *Scheduler) fire(storyID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	st := s.stories[storyID]
	if st == nil || st.running {
		s.mu.Unlock()
		return
	}
	st.timer = nil
	st.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runOnce(storyID)

		s.mu.Lock()
		st.running = false
		requeue := st.pending && !s.closed
		st.pending = false
		s.mu.Unlock()

		if requeue {
			s.Trigger(storyID, nil)
		}
	}()
}

// RunNow runs an analysis synchronously, bypassing the debounce. Used by the
// CLI and tests.
func (s *Scheduler) RunNow(ctx context.Context, storyID string) (*types.Analysis, error) {
	return s.analyze(ctx, storyID)
}

// runOnce executes one scheduled run, recording state transitions.
func (s *Scheduler) runOnce(storyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RunTimeout)
	defer cancel()

	audit := logging.AuditFor(storyID, "")
	audit.Ok(logging.AuditLibrarianRun, storyID)
	start := time.Now()

	s.setState(storyID, func(st *types.LibrarianState) {
		st.RunStatus = types.RunRunning
		st.QueuedSince = nil
	})

	analysis, err := s.analyze(ctx, storyID)
	elapsed := time.Since(start)

	if err != nil {
		logging.LibrarianError("Analysis failed for %s: %v", storyID, err)
		audit.Fail(logging.AuditLibrarianError, storyID, err)
		s.opts.Metrics.LibrarianRun(ctx, "error", elapsed)
		s.setState(storyID, func(st *types.LibrarianState) {
			st.RunStatus = types.RunError
			st.LastError = err.Error()
			st.LastDurationMs = elapsed.Milliseconds()
		})
		return
	}

	audit.Ok(logging.AuditLibrarianComplete, analysis.ID)
	s.opts.Metrics.LibrarianRun(ctx, "ok", elapsed)
	now := time.Now().UTC()
	s.setState(storyID, func(st *types.LibrarianState) {
		st.RunStatus = types.RunIdle
		st.LastError = ""
		st.LastRunAt = &now
		st.LastDurationMs = elapsed.Milliseconds()
	})
	logging.Librarian("Analysis %s complete for %s in %s (%d suggestions, %d annotations)",
		analysis.ID, storyID, elapsed, len(analysis.KnowledgeSuggestions), len(analysis.Annotations))
}

// analyze snapshots the chain, runs the analyst, persists the analysis and
// writes annotations back onto the prose fragments.
func (s *Scheduler) analyze(ctx context.Context, storyID string) (*types.Analysis, error) {
	chain, err := s.store.GetChain(storyID)
	if err != nil {
		return nil, err
	}
	lastFragment := ""
	if ids := types.ActiveIDs(chain); len(ids) > 0 {
		lastFragment = ids[len(ids)-1]
	}

	analysis, err := s.analyst.Analyze(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		return nil, fault.Internalf("librarian.analyze", "analyst returned no analysis")
	}

	analysis.ID = uuid.NewString()
	analysis.CreatedAt = time.Now().UTC()
	analysis.ChainLength = len(chain)
	analysis.LastFragmentID = lastFragment

	if err := s.store.SaveAnalysis(storyID, analysis); err != nil {
		return nil, err
	}
	s.writeAnnotations(storyID, analysis.Annotations)
	return analysis, nil
}

// writeAnnotations attaches librarian notes to prose fragments through a raw
// update so no version snapshot is taken. Failures are logged per fragment.
func (s *Scheduler) writeAnnotations(storyID string, annotations []types.Annotation) {
	for _, a := range annotations {
		f, err := s.store.GetFragment(storyID, a.FragmentID)
		if err != nil {
			logging.LibrarianDebug("Annotation target %s missing: %v", a.FragmentID, err)
			continue
		}
		notes, _ := types.GetStringSlice(f.Meta, types.MetaAnnotations)
		f.Meta[types.MetaAnnotations] = append(notes, a.Note)
		if _, err := s.store.UpdateFragment(storyID, f); err != nil {
			logging.LibrarianError("Annotation write failed for %s: %v", a.FragmentID, err)
		}
	}
}

// setState mutates and persists the story's librarian state.
func (s *Scheduler) setState(storyID string, mutate func(*types.LibrarianState)) {
	st, err := s.store.LoadLibrarianState(storyID)
	if err != nil {
		logging.LibrarianError("Load librarian state failed for %s: %v", storyID, err)
		return
	}
	mutate(st)
	if err := s.store.SaveLibrarianState(storyID, st); err != nil {
		logging.LibrarianError("Save librarian state failed for %s: %v", storyID, err)
	}
}

func (s *Scheduler) markQueued(storyID string) {
	now := time.Now().UTC()
	s.setState(storyID, func(st *types.LibrarianState) {
		if st.QueuedSince == nil {
			st.QueuedSince = &now
		}
	})
	logging.AuditFor(storyID, "").Ok(logging.AuditLibrarianQueued, storyID)
}

// Close cancels pending timers and waits for running analyses to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, st := range s.stories {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}
