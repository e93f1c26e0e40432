package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/telemetry"
)

// FallbackStore routes calls to a primary store until the primary first fails,
// then to a local store for the rest of the process lifetime. The failed call is
// retried once against the local store. ErrNotFound, ErrConflict and context errors are not
// failures.
type FallbackStore struct {
	primary  ProjectStore
	local    ProjectStore
	logger   *zap.Logger
	degraded atomic.Bool
	once     sync.Once
}

// NewFallbackStore creates a FallbackStore
func NewFallbackStore(primary, local ProjectStore, logger *zap.Logger) *FallbackStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackStore{primary: primary, local: local, logger: logger}
}

// Degraded reports whether the store has switched to the local backend
func (s *FallbackStore) Degraded() bool {
	return s.degraded.Load()
}

// active returns the backend to use and whether it is the primary
func (s *FallbackStore) active() (ProjectStore, bool) {
	if s.degraded.Load() {
		return s.local, false
	}
	return s.primary, true
}

func isBackendFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrConflict) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// trip switches to local if a primary call failed. It returns true if the call should be retried locally.
func (s *FallbackStore) trip(op string, primary bool, err error) bool {
	if !primary || !isBackendFailure(err) {
		return false
	}
	s.once.Do(func() {
		s.degraded.Store(true)
		telemetry.RecordStoreFallback()
		s.logger.Warn("primary_store_failed_switching_to_local",
			zap.String("operation", op),
			zap.Error(err),
		)
	})
	return true
}

func (s *FallbackStore) GetProjects(ctx context.Context, ownerID string) ([]*models.Project, error) {
	st, primary := s.active()
	out, err := st.GetProjects(ctx, ownerID)
	if s.trip("get_projects", primary, err) {
		return s.local.GetProjects(ctx, ownerID)
	}
	return out, err
}

func (s *FallbackStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	st, primary := s.active()
	out, err := st.GetProject(ctx, id)
	if s.trip("get_project", primary, err) {
		return s.local.GetProject(ctx, id)
	}
	return out, err
}

func (s *FallbackStore) CreateProject(ctx context.Context, project *models.Project) error {
	st, primary := s.active()
	err := st.CreateProject(ctx, project)
	if s.trip("create_project", primary, err) {
		return s.local.CreateProject(ctx, project)
	}
	return err
}

func (s *FallbackStore) UpdateProject(ctx context.Context, id string, update ProjectUpdate) error {
	st, primary := s.active()
	err := st.UpdateProject(ctx, id, update)
	if s.trip("update_project", primary, err) {
		return s.local.UpdateProject(ctx, id, update)
	}
	return err
}

func (s *FallbackStore) DeleteProject(ctx context.Context, id string) error {
	st, primary := s.active()
	err := st.DeleteProject(ctx, id)
	if s.trip("delete_project", primary, err) {
		return s.local.DeleteProject(ctx, id)
	}
	return err
}

func (s *FallbackStore) GetProjectByShareID(ctx context.Context, shareID string) (*models.Project, error) {
	st, primary := s.active()
	out, err := st.GetProjectByShareID(ctx, shareID)
	if s.trip("get_project_by_share_id", primary, err) {
		return s.local.GetProjectByShareID(ctx, shareID)
	}
	return out, err
}

var _ ProjectStore = (*FallbackStore)(nil)
