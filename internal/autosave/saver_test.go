package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/store"
)

type recordingWriter struct {
	mu      sync.Mutex
	writes  map[string][]string // project id -> saved titles
	failFor map[string]error
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{writes: map[string][]string{}, failFor: map[string]error{}}
}

func (w *recordingWriter) UpdateProject(_ context.Context, id string, u store.ProjectUpdate) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.failFor[id]; err != nil {
		return err
	}
	w.writes[id] = append(w.writes[id], *u.Title)
	return nil
}

func (w *recordingWriter) saved(id string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.writes[id]...)
}

// manualTimer lets tests fire scheduled saves deterministically
type manualTimer struct {
	fn      func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	was := !m.stopped
	m.stopped = true
	return was
}

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) afterFunc(_ time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{fn: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every live timer, or every timer ever scheduled when force is set
func (c *manualClock) fire(force bool) {
	c.mu.Lock()
	timers := append([]*manualTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range timers {
		if force || !t.stopped {
			t.fn()
		}
	}
}

func newTestSaver(w Writer, opts ...Option) (*Saver, *manualClock) {
	clock := &manualClock{}
	s := NewSaver(w, nil, opts...)
	s.afterFunc = clock.afterFunc
	return s, clock
}

func project(id, title string) *models.Project {
	return &models.Project{ID: id, Title: title}
}

func TestSaver_CoalescesRapidEdits(t *testing.T) {
	t.Parallel()

	w := newRecordingWriter()
	s, clock := newTestSaver(w)

	s.MarkDirty(project("p1", "one"))
	s.MarkDirty(project("p1", "two"))
	s.MarkDirty(project("p1", "three"))
	assert.Equal(t, 1, s.Pending())
	assert.True(t, s.IsDirty("p1"))

	clock.fire(false)

	assert.Equal(t, []string{"three"}, w.saved("p1"))
	assert.Equal(t, 0, s.Pending())
}

func TestSaver_SupersededTimerIsIgnored(t *testing.T) {
	t.Parallel()

	w := newRecordingWriter()
	s, clock := newTestSaver(w)

	s.MarkDirty(project("p1", "first"))
	s.MarkDirty(project("p1", "second"))

	// a superseded timer that fires anyway must not save
	clock.fire(true)
	assert.Equal(t, []string{"second"}, w.saved("p1"))
}

func TestSaver_SnapshotIsolatedFromLaterMutation(t *testing.T) {
	t.Parallel()

	w := newRecordingWriter()
	s, clock := newTestSaver(w)

	p := project("p1", "saved title")
	s.MarkDirty(p)
	p.Title = "mutated after mark"

	clock.fire(false)
	assert.Equal(t, []string{"saved title"}, w.saved("p1"))
}

func TestSaver_FlushNow(t *testing.T) {
	t.Parallel()

	w := newRecordingWriter()
	s, clock := newTestSaver(w)

	s.MarkDirty(project("p1", "a"))
	s.MarkDirty(project("p2", "b"))
	require.NoError(t, s.FlushNow(context.Background()))

	assert.Equal(t, []string{"a"}, w.saved("p1"))
	assert.Equal(t, []string{"b"}, w.saved("p2"))
	assert.Equal(t, 0, s.Pending())

	// timers were cancelled by the flush
	clock.fire(true)
	assert.Len(t, w.saved("p1"), 1)
}

func TestSaver_ErrorsReportedNotRetried(t *testing.T) {
	t.Parallel()

	w := newRecordingWriter()
	w.failFor["p1"] = errors.New("db down")

	var mu sync.Mutex
	var reported []string
	s, clock := newTestSaver(w, WithErrorHandler(func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, id)
	}))

	s.MarkDirty(project("p1", "x"))
	clock.fire(false)

	assert.Equal(t, []string{"p1"}, reported)
	assert.Equal(t, 0, s.Pending(), "failed saves are not kept for retry")

	s.MarkDirty(project("p1", "y"))
	err := s.FlushNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestSaver_Discard(t *testing.T) {
	t.Parallel()

	w := newRecordingWriter()
	s, clock := newTestSaver(w)

	s.MarkDirty(project("p1", "x"))
	s.Discard("p1")
	clock.fire(true)

	assert.Empty(t, w.saved("p1"))
	assert.False(t, s.IsDirty("p1"))
}

func TestSaver_RealTimer(t *testing.T) {
	t.Parallel()

	w := newRecordingWriter()
	s := NewSaver(w, nil, WithDelay(10*time.Millisecond))

	s.MarkDirty(project("p1", "real"))
	require.Eventually(t, func() bool {
		return len(w.saved("p1")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSaver_IgnoresInvalidProjects(t *testing.T) {
	t.Parallel()

	s, _ := newTestSaver(newRecordingWriter())
	s.MarkDirty(nil)
	s.MarkDirty(&models.Project{})
	assert.Equal(t, 0, s.Pending())
}

func TestSaver_Snapshot(t *testing.T) {
	t.Parallel()

	s, clock := newTestSaver(newRecordingWriter())

	_, ok := s.Snapshot("p1")
	assert.False(t, ok)

	s.MarkDirty(project("p1", "draft"))
	snap, ok := s.Snapshot("p1")
	require.True(t, ok)
	assert.Equal(t, "draft", snap.Title)

	snap.Title = "changed copy"
	again, _ := s.Snapshot("p1")
	assert.Equal(t, "draft", again.Title)

	clock.fire(false)
	_, ok = s.Snapshot("p1")
	assert.False(t, ok)
}

// blockingWriter holds the first write open until release is closed
type blockingWriter struct {
	*recordingWriter
	started chan struct{}
	release chan struct{}

	mu      sync.Mutex
	calls   int
	active  int
	overlap bool
}

func (w *blockingWriter) UpdateProject(ctx context.Context, id string, u store.ProjectUpdate) error {
	w.mu.Lock()
	w.calls++
	first := w.calls == 1
	w.active++
	if w.active > 1 {
		w.overlap = true
	}
	w.mu.Unlock()

	if first {
		close(w.started)
		<-w.release
	}
	err := w.recordingWriter.UpdateProject(ctx, id, u)

	w.mu.Lock()
	w.active--
	w.mu.Unlock()
	return err
}

func TestSaver_SlowSaveDoesNotOverlapNewerSave(t *testing.T) {
	t.Parallel()

	w := &blockingWriter{
		recordingWriter: newRecordingWriter(),
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	s, clock := newTestSaver(w)

	s.MarkDirty(project("p1", "old"))
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		clock.fire(false)
	}()
	<-w.started

	// a newer edit lands while the old save is still writing
	s.MarkDirty(project("p1", "new"))
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		clock.fire(false)
	}()

	close(w.release)
	<-firstDone
	<-secondDone

	w.mu.Lock()
	overlap := w.overlap
	w.mu.Unlock()
	assert.False(t, overlap)
	assert.Equal(t, []string{"old", "new"}, w.saved("p1"))
}

func TestSaver_StaleSnapshotSkipped(t *testing.T) {
	t.Parallel()

	w := newRecordingWriter()
	s, _ := newTestSaver(w)

	older := &entry{snapshot: project("p1", "older"), gen: 1}
	newer := &entry{snapshot: project("p1", "newer"), gen: 2}

	require.NoError(t, s.write(context.Background(), newer))
	require.NoError(t, s.write(context.Background(), older))
	assert.Equal(t, []string{"newer"}, w.saved("p1"))
}
