package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/autosave"
	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/queue"
	"github.com/benvon/visionpath/internal/services/projects"
	"github.com/benvon/visionpath/internal/store"
	"github.com/benvon/visionpath/internal/tracker"
)

type fakeTracker struct {
	mu      sync.Mutex
	nextID  int
	created map[string]tracker.Issue
	updated map[string]tracker.Issue
	missing map[string]bool // external ids the tracker has deleted
	failFor map[string]bool // issue titles that fail
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		created: map[string]tracker.Issue{},
		updated: map[string]tracker.Issue{},
		missing: map[string]bool{},
		failFor: map[string]bool{},
	}
}

func (f *fakeTracker) CreateIssue(_ context.Context, issue tracker.Issue) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[issue.Title] {
		return "", &tracker.StatusError{StatusCode: 502, Body: "bad gateway"}
	}
	f.nextID++
	id := fmt.Sprintf("ISSUE-%d", f.nextID)
	f.created[id] = issue
	return id, nil
}

func (f *fakeTracker) UpdateIssue(_ context.Context, externalID string, issue tracker.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[externalID] {
		return tracker.ErrIssueNotFound
	}
	if f.failFor[issue.Title] {
		return &tracker.StatusError{StatusCode: 502, Body: "bad gateway"}
	}
	f.updated[externalID] = issue
	return nil
}

type fakeMessage struct {
	job     *queue.Job
	acked   bool
	nacked  bool
	requeue bool
}

func (m *fakeMessage) Ack() error {
	m.acked = true
	return nil
}

func (m *fakeMessage) Nack(requeue bool) error {
	m.nacked = true
	m.requeue = requeue
	return nil
}

func (m *fakeMessage) GetJob() *queue.Job { return m.job }

func newSyncFixture(t *testing.T) (*projects.Service, *store.LocalStore) {
	t.Helper()
	st, err := store.OpenLocal(store.InMemoryLocalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	saver := autosave.NewSaver(st, nil, autosave.WithDelay(time.Hour))
	svc := projects.NewService(st, saver, nil)

	p := &models.Project{
		ID:      "p1",
		OwnerID: "owner",
		Title:   "Launch",
		Phase:   models.ProjectPhaseActive,
		Nodes: []models.PlanNode{
			{ID: "g1", Type: models.NodeTypeGoal, Title: "Goal", Status: models.NodeStatusNotStarted},
			{ID: "f1", Type: models.NodeTypeFeature, Title: "Feature", ParentID: models.StringPtr("g1"), Status: models.NodeStatusInProgress},
			{ID: "t1", Type: models.NodeTypeTask, Title: "Task", ParentID: models.StringPtr("f1"), Status: models.NodeStatusNotStarted},
		},
	}
	require.NoError(t, svc.Create(context.Background(), p))
	return svc, st
}

func newTestSyncer(svc SyncProjects, client tracker.Client, jobs queue.JobQueue) *TrackerSyncer {
	s := NewTrackerSyncer(svc, client, jobs, "generic", zap.NewNop())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestTrackerSyncer_CreatesThenUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st := newSyncFixture(t)
	client := newFakeTracker()
	syncer := newTestSyncer(svc, client, queue.NewMemoryQueue())

	result, err := syncer.Sync(ctx, queue.NewTrackerSyncJob("p1", "owner"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Updated)

	stored, err := st.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, stored.Tracker)
	assert.Equal(t, "generic", stored.Tracker.Provider)
	assert.Len(t, stored.Tracker.ExternalRefs, 2)
	assert.NotContains(t, stored.Tracker.ExternalRefs, "g1")
	require.NotNil(t, stored.Tracker.LastSyncedAt)

	result, err = syncer.Sync(ctx, queue.NewTrackerSyncJob("p1", "owner"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 2, result.Updated)
	assert.Contains(t, client.updated, stored.Tracker.ExternalRefs["f1"])
}

func TestTrackerSyncer_RecreatesMissingAndDropsDeleted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newSyncFixture(t)
	client := newFakeTracker()
	syncer := newTestSyncer(svc, client, queue.NewMemoryQueue())

	_, err := syncer.Sync(ctx, queue.NewTrackerSyncJob("p1", "owner"))
	require.NoError(t, err)
	before, err := svc.Get(ctx, "p1")
	require.NoError(t, err)
	client.missing[before.Tracker.ExternalRefs["f1"]] = true

	_, err = svc.MutateNow(ctx, "p1", func(p *models.Project) error {
		p.Nodes = p.Nodes[:2] // drop t1
		return nil
	})
	require.NoError(t, err)

	result, err := syncer.Sync(ctx, queue.NewTrackerSyncJob("p1", "owner"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Dropped)

	after, err := svc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, after.Tracker.ExternalRefs, 1)
	assert.NotEqual(t, before.Tracker.ExternalRefs["f1"], after.Tracker.ExternalRefs["f1"])
}

func TestTrackerSyncer_PartialFailureKeepsSuccessfulRefs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newSyncFixture(t)
	client := newFakeTracker()
	client.failFor["Task"] = true
	syncer := newTestSyncer(svc, client, queue.NewMemoryQueue())

	result, err := syncer.Sync(ctx, queue.NewTrackerSyncJob("p1", "owner"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errPartialSync))
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Failed)

	got, err := svc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Contains(t, got.Tracker.ExternalRefs, "f1")
	assert.NotContains(t, got.Tracker.ExternalRefs, "t1")
}

func TestTrackerSyncer_ProcessMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		job         func() *queue.Job
		failTitle   string
		wantAck     bool
		wantNack    bool
		wantQueued  int
		wantRetries int
	}{
		{
			name:    "success acks",
			job:     func() *queue.Job { return queue.NewTrackerSyncJob("p1", "owner") },
			wantAck: true,
		},
		{
			name:    "unknown project is dropped",
			job:     func() *queue.Job { return queue.NewTrackerSyncJob("missing", "owner") },
			wantAck: true,
		},
		{
			name:    "owner mismatch is dropped",
			job:     func() *queue.Job { return queue.NewTrackerSyncJob("p1", "intruder") },
			wantAck: true,
		},
		{
			name:        "transient failure is re-enqueued",
			job:         func() *queue.Job { return queue.NewTrackerSyncJob("p1", "owner") },
			failTitle:   "Task",
			wantAck:     true,
			wantQueued:  1,
			wantRetries: 1,
		},
		{
			name: "exhausted retries dead-letter",
			job: func() *queue.Job {
				j := queue.NewTrackerSyncJob("p1", "owner")
				j.RetryCount = j.MaxRetries
				return j
			},
			failTitle: "Task",
			wantNack:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, _ := newSyncFixture(t)
			client := newFakeTracker()
			if tt.failTitle != "" {
				client.failFor[tt.failTitle] = true
			}
			jobs := queue.NewMemoryQueue()
			syncer := newTestSyncer(svc, client, jobs)

			msg := &fakeMessage{job: tt.job()}
			syncer.ProcessMessage(context.Background(), msg)

			assert.Equal(t, tt.wantAck, msg.acked, "acked")
			assert.Equal(t, tt.wantNack, msg.nacked, "nacked")
			assert.False(t, msg.requeue)
			assert.Equal(t, tt.wantQueued, jobs.Len())
			if tt.wantRetries > 0 {
				assert.Equal(t, tt.wantRetries, msg.job.RetryCount)
				require.NotNil(t, msg.job.NotBefore)
				assert.True(t, msg.job.NotBefore.After(syncer.now()))
			}
		})
	}
}

func TestTrackerSyncer_RunConsumesQueue(t *testing.T) {
	t.Parallel()
	svc, _ := newSyncFixture(t)
	client := newFakeTracker()
	jobs := queue.NewMemoryQueue()
	syncer := newTestSyncer(svc, client, jobs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, jobs.Enqueue(ctx, queue.NewTrackerSyncJob("p1", "owner")))

	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx, 1) }()

	require.Eventually(t, func() bool {
		p, err := svc.Get(context.Background(), "p1")
		return err == nil && p.Tracker != nil && len(p.Tracker.ExternalRefs) == 2
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
