// Package autosave coalesces rapid project edits into a single write.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/store"
	"github.com/benvon/visionpath/internal/telemetry"
)

const (
	// DefaultDelay is the quiet period after the last edit before a save
	DefaultDelay = 2 * time.Second
	// DefaultSaveTimeout bounds a single scheduled save
	DefaultSaveTimeout = 10 * time.Second
)

// Writer is the part of a ProjectStore the saver needs
type Writer interface {
	UpdateProject(ctx context.Context, id string, update store.ProjectUpdate) error
}

type timer interface {
	Stop() bool
}

type entry struct {
	snapshot *models.Project
	timer    timer
	gen      uint64
}

// Saver holds a dirty flag per project and writes the latest snapshot once
// edits go quiet. Each MarkDirty cancels the pending save for that project and
// schedules a new one. Failed saves are logged and reported, never retried.
type Saver struct {
	writer      Writer
	delay       time.Duration
	saveTimeout time.Duration
	logger      *zap.Logger
	onError     func(projectID string, err error)
	afterFunc   func(d time.Duration, f func()) timer

	mu       sync.Mutex
	pending  map[string]*entry
	inflight map[string]*entry // taken for saving, not yet written
	gen      uint64

	writeMu sync.Mutex
	writing map[string]*sync.Mutex // one writer per project at a time
	written map[string]uint64      // newest generation committed per project
}

// Option configures a Saver
type Option func(*Saver)

// WithDelay sets the debounce delay
func WithDelay(d time.Duration) Option {
	return func(s *Saver) { s.delay = d }
}

// WithSaveTimeout sets the timeout for each scheduled save
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Saver) { s.saveTimeout = d }
}

// WithErrorHandler registers a callback for failed saves
func WithErrorHandler(fn func(projectID string, err error)) Option {
	return func(s *Saver) { s.onError = fn }
}

// NewSaver creates a Saver writing through w
func NewSaver(w Writer, logger *zap.Logger, opts ...Option) *Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Saver{
		writer:      w,
		delay:       DefaultDelay,
		saveTimeout: DefaultSaveTimeout,
		logger:      logger,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		pending:  make(map[string]*entry),
		inflight: make(map[string]*entry),
		writing:  make(map[string]*sync.Mutex),
		written:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkDirty records project as the latest state to save and restarts its timer
func (s *Saver) MarkDirty(project *models.Project) {
	if project == nil || project.ID == "" {
		return
	}
	snapshot := project.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.pending[project.ID]; ok && e.timer != nil {
		e.timer.Stop()
	}
	s.gen++
	gen := s.gen
	id := project.ID
	s.pending[id] = &entry{
		snapshot: snapshot,
		gen:      gen,
		timer: s.afterFunc(s.delay, func() {
			s.flushScheduled(id, gen)
		}),
	}
}

// Pending returns the number of projects with unsaved changes
func (s *Saver) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// IsDirty reports whether projectID has unsaved changes
func (s *Saver) IsDirty(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[projectID]
	return ok
}

// Snapshot returns a copy of the unsaved state of projectID, if any
func (s *Saver) Snapshot(projectID string) (*models.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[projectID]
	if !ok {
		e, ok = s.inflight[projectID]
	}
	if !ok {
		return nil, false
	}
	return e.snapshot.Clone(), true
}

// Discard drops unsaved changes for projectID, e.g. after it is deleted
func (s *Saver) Discard(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pending[projectID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.pending, projectID)
	}
	delete(s.inflight, projectID)
}

// take removes and returns the entry for id if it is still generation gen
func (s *Saver) take(id string, gen uint64) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[id]
	if !ok || e.gen != gen {
		return nil
	}
	delete(s.pending, id)
	s.inflight[id] = e
	return e
}

// done clears the in-flight marker for e unless a newer save replaced it
func (s *Saver) done(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.inflight[e.snapshot.ID]; ok && cur == e {
		delete(s.inflight, e.snapshot.ID)
	}
}

func (s *Saver) flushScheduled(id string, gen uint64) {
	e := s.take(id, gen)
	if e == nil {
		return
	}
	defer s.done(e)
	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()
	_ = s.write(ctx, e)
}

// projectLock returns the mutex serializing writes for id
func (s *Saver) projectLock(id string) *sync.Mutex {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	m, ok := s.writing[id]
	if !ok {
		m = &sync.Mutex{}
		s.writing[id] = m
	}
	return m
}

// write saves e once any earlier write for the same project has finished.
// A snapshot older than one already committed is skipped.
func (s *Saver) write(ctx context.Context, e *entry) error {
	id := e.snapshot.ID
	lock := s.projectLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.writeMu.Lock()
	stale := s.written[id] >= e.gen
	s.writeMu.Unlock()
	if stale {
		s.logger.Debug("autosave_skipped_stale",
			zap.String("project_id", id),
			zap.Uint64("generation", e.gen),
		)
		return nil
	}

	if err := s.save(ctx, e.snapshot); err != nil {
		return err
	}
	s.writeMu.Lock()
	s.written[id] = e.gen
	s.writeMu.Unlock()
	return nil
}

func (s *Saver) save(ctx context.Context, p *models.Project) error {
	err := s.writer.UpdateProject(ctx, p.ID, store.FullUpdate(p))
	telemetry.RecordAutosave(err)
	if err != nil {
		err = fmt.Errorf("failed to autosave project %s: %w", p.ID, err)
		s.logger.Error("autosave_failed",
			zap.String("project_id", p.ID),
			zap.Error(err),
		)
		if s.onError != nil {
			s.onError(p.ID, err)
		}
		return err
	}
	s.logger.Debug("autosave_completed", zap.String("project_id", p.ID))
	return nil
}

// FlushNow cancels every pending timer and saves all dirty projects immediately.
// It returns the joined errors of any failed saves.
func (s *Saver) FlushNow(ctx context.Context) error {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.pending))
	for id, e := range s.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		entries = append(entries, e)
		delete(s.pending, id)
		s.inflight[id] = e
	}
	s.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := s.write(ctx, e); err != nil {
			errs = append(errs, err)
		}
		s.done(e)
	}
	return errors.Join(errs...)
}
