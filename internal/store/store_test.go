package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benvon/visionpath/internal/models"
)

func newProject(id, owner string) *models.Project {
	return &models.Project{
		ID:        id,
		OwnerID:   owner,
		Title:     "Project " + id,
		Phase:     models.ProjectPhaseActive,
		Nodes:     []models.PlanNode{{ID: "goal-1", Type: models.NodeTypeGoal, Title: "Goal", Status: models.NodeStatusNotStarted}},
		Edges:     []models.ProjectEdge{},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func openMemory(t *testing.T) *LocalStore {
	t.Helper()
	s, err := OpenLocal(InMemoryLocalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProjectUpdate_Apply(t *testing.T) {
	t.Parallel()

	p := newProject("p1", "u1")
	share := "s1"
	p.ShareID = &share

	title := "Renamed"
	public := true
	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	u := ProjectUpdate{Title: &title, IsPublic: &public}
	assert.False(t, u.IsEmpty())
	u.Apply(p, now)

	assert.Equal(t, "Renamed", p.Title)
	assert.True(t, p.IsPublic)
	assert.Equal(t, "s1", *p.ShareID)
	assert.Len(t, p.Nodes, 1)
	assert.Equal(t, now, p.UpdatedAt)

	ProjectUpdate{ClearShare: true}.Apply(p, now)
	assert.Nil(t, p.ShareID)
	assert.True(t, ProjectUpdate{}.IsEmpty())
}

func TestFullUpdate(t *testing.T) {
	t.Parallel()

	src := newProject("p1", "u1")
	src.Title = "Full"
	dst := newProject("p1", "u1")
	share := "old"
	dst.ShareID = &share

	link := &models.TrackerLink{Provider: "generic", ExternalRefs: map[string]string{"n1": "ISS-1"}}
	dst.Tracker = link

	FullUpdate(src).Apply(dst, src.UpdatedAt)
	assert.Equal(t, link, dst.Tracker, "tracker link is owned by the sync worker")
	dst.Tracker = nil
	assert.Equal(t, src, dst)
}

func TestLocalStore_CRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openMemory(t)

	p1 := newProject("p1", "alice")
	p2 := newProject("p2", "alice")
	p2.UpdatedAt = p1.UpdatedAt.Add(time.Hour)
	require.NoError(t, s.CreateProject(ctx, p1))
	require.NoError(t, s.CreateProject(ctx, p2))
	require.NoError(t, s.CreateProject(ctx, newProject("p3", "bob")))
	assert.Error(t, s.CreateProject(ctx, p1), "duplicate create should fail")

	got, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, p1, got)

	list, err := s.GetProjects(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p2", list[0].ID)

	title := "Updated"
	require.NoError(t, s.UpdateProject(ctx, "p1", ProjectUpdate{Title: &title}))
	got, err = s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Updated", got.Title)
	assert.Len(t, got.Nodes, 1)

	require.NoError(t, s.DeleteProject(ctx, "p1"))
	_, err = s.GetProject(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteProject(ctx, "p1"), ErrNotFound)
	assert.ErrorIs(t, s.UpdateProject(ctx, "missing", ProjectUpdate{Title: &title}), ErrNotFound)

	empty, err := s.GetProjects(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestLocalStore_ShareIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openMemory(t)

	require.NoError(t, s.CreateProject(ctx, newProject("p1", "alice")))

	share := "share-1"
	public := true
	require.NoError(t, s.UpdateProject(ctx, "p1", ProjectUpdate{ShareID: &share, IsPublic: &public}))

	got, err := s.GetProjectByShareID(ctx, "share-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)

	private := false
	require.NoError(t, s.UpdateProject(ctx, "p1", ProjectUpdate{IsPublic: &private}))
	_, err = s.GetProjectByShareID(ctx, "share-1")
	assert.ErrorIs(t, err, ErrNotFound, "private projects are not served by share id")

	require.NoError(t, s.UpdateProject(ctx, "p1", ProjectUpdate{IsPublic: &public, ClearShare: true}))
	_, err = s.GetProjectByShareID(ctx, "share-1")
	assert.ErrorIs(t, err, ErrNotFound, "cleared share id must be unindexed")
}

func TestLocalStore_CancelledContext(t *testing.T) {
	t.Parallel()
	s := openMemory(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetProject(ctx, "p1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenLocal_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := OpenLocal(LocalConfig{})
	assert.Error(t, err)
}

// failingStore fails GetProject and CreateProject with err while it is set
type failingStore struct {
	ProjectStore
	mu    sync.Mutex
	err   error
	calls int
}

func (f *failingStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.ProjectStore.GetProject(ctx, id)
}

func (f *failingStore) CreateProject(ctx context.Context, p *models.Project) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return f.ProjectStore.CreateProject(ctx, p)
}

func TestFallbackStore_StickyAfterFirstFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	local := openMemory(t)
	primary := &failingStore{ProjectStore: openMemory(t), err: errors.New("connection refused")}
	fs := NewFallbackStore(primary, local, nil)

	require.NoError(t, fs.CreateProject(ctx, newProject("p1", "alice")))
	assert.True(t, fs.Degraded())
	assert.Equal(t, 1, primary.calls)

	// the primary recovering does not matter for the rest of the process
	primary.err = nil
	got, err := fs.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, 1, primary.calls, "primary must not be retried once degraded")
}

func TestFallbackStore_NotFoundIsNotFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary := &failingStore{ProjectStore: openMemory(t), err: fmt.Errorf("lookup: %w", ErrNotFound)}
	fs := NewFallbackStore(primary, openMemory(t), nil)

	_, err := fs.GetProject(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, fs.Degraded())

	primary.err = context.DeadlineExceeded
	_, err = fs.GetProject(ctx, "p1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, fs.Degraded())
}

func TestFallbackStore_HealthyPrimary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary := openMemory(t)
	local := openMemory(t)
	fs := NewFallbackStore(primary, local, nil)

	require.NoError(t, fs.CreateProject(ctx, newProject("p1", "alice")))
	_, err := primary.GetProject(ctx, "p1")
	require.NoError(t, err)
	_, err = local.GetProject(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, fs.Degraded())
}

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	failGet error
	gets    int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	default:
		f.data[key] = fmt.Sprint(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

// countingStore counts share lookups reaching the backing store
type countingStore struct {
	ProjectStore
	mu         sync.Mutex
	shareLoads int
}

func (c *countingStore) GetProjectByShareID(ctx context.Context, shareID string) (*models.Project, error) {
	c.mu.Lock()
	c.shareLoads++
	c.mu.Unlock()
	return c.ProjectStore.GetProjectByShareID(ctx, shareID)
}

func sharedProject(t *testing.T, s ProjectStore) {
	t.Helper()
	p := newProject("p1", "alice")
	share := "share-1"
	p.ShareID = &share
	p.IsPublic = true
	require.NoError(t, s.CreateProject(context.Background(), p))
}

func TestShareCache_ReadThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inner := &countingStore{ProjectStore: openMemory(t)}
	sharedProject(t, inner)
	rdb := newFakeRedis()
	cache := NewShareCache(inner, rdb, time.Minute, nil)

	for i := 0; i < 3; i++ {
		p, err := cache.GetProjectByShareID(ctx, "share-1")
		require.NoError(t, err)
		assert.Equal(t, "p1", p.ID)
	}
	assert.Equal(t, 1, inner.shareLoads)

	title := "Changed"
	require.NoError(t, cache.UpdateProject(ctx, "p1", ProjectUpdate{Title: &title}))
	p, err := cache.GetProjectByShareID(ctx, "share-1")
	require.NoError(t, err)
	assert.Equal(t, "Changed", p.Title)
	assert.Equal(t, 2, inner.shareLoads)

	require.NoError(t, cache.DeleteProject(ctx, "p1"))
	_, err = cache.GetProjectByShareID(ctx, "share-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShareCache_RedisDown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inner := &countingStore{ProjectStore: openMemory(t)}
	sharedProject(t, inner)
	rdb := newFakeRedis()
	rdb.failGet = errors.New("dial tcp: connection refused")
	cache := NewShareCache(inner, rdb, 0, nil)

	p, err := cache.GetProjectByShareID(ctx, "share-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)

	title := "Still works"
	assert.NoError(t, cache.UpdateProject(ctx, "p1", ProjectUpdate{Title: &title}))
}
