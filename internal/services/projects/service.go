// Package projects is the single path through which handlers and the planner
// read and mutate projects. Unsaved edits held by the autosaver are visible to
// reads, so a debounced write is never lost to a stale load.
package projects

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/store"
)

// DirtyTracker is the autosave surface the service relies on
type DirtyTracker interface {
	MarkDirty(project *models.Project)
	Snapshot(projectID string) (*models.Project, bool)
	Discard(projectID string)
}

// Service coordinates the project store and the autosaver
type Service struct {
	store  store.ProjectStore
	saver  DirtyTracker
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a Service
func NewService(st store.ProjectStore, saver DirtyTracker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		saver:  saver,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// List returns the owner's projects with unsaved edits applied
func (s *Service) List(ctx context.Context, ownerID string) ([]*models.Project, error) {
	list, err := s.store.GetProjects(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	for i, p := range list {
		if snap, ok := s.saver.Snapshot(p.ID); ok {
			list[i] = snap
		}
	}
	return list, nil
}

// Get returns the latest state of a project
func (s *Service) Get(ctx context.Context, id string) (*models.Project, error) {
	if snap, ok := s.saver.Snapshot(id); ok {
		return snap, nil
	}
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	p.EnsureDefaults()
	return p, nil
}

// Create persists a new project immediately
func (s *Service) Create(ctx context.Context, p *models.Project) error {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.EnsureDefaults()
	if err := s.store.CreateProject(ctx, p); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	s.logger.Info("project_created", zap.String("project_id", p.ID), zap.String("owner_id", p.OwnerID))
	return nil
}

// Mutate applies fn to the latest project state and schedules a debounced save.
// If fn returns an error nothing changes. Mutations to one project are serialized.
func (s *Service) Mutate(ctx context.Context, id string, fn func(*models.Project) error) (*models.Project, error) {
	unlock := s.lock(id)
	defer unlock()

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now()
	s.saver.MarkDirty(p)
	return p, nil
}

// MutateNow applies fn and writes the full project state before returning.
// Any pending debounced save for the project is folded into this write.
func (s *Service) MutateNow(ctx context.Context, id string, fn func(*models.Project) error) (*models.Project, error) {
	unlock := s.lock(id)
	defer unlock()

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now()
	if err := s.store.UpdateProject(ctx, id, store.FullUpdate(p)); err != nil {
		return nil, fmt.Errorf("failed to update project %s: %w", id, err)
	}
	s.saver.Discard(id)
	return p, nil
}

// Delete removes a project and drops any unsaved edits
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	s.saver.Discard(id)
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", id, err)
	}
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	s.logger.Info("project_deleted", zap.String("project_id", id))
	return nil
}

// GetShared returns a public project by share id
func (s *Service) GetShared(ctx context.Context, shareID string) (*models.Project, error) {
	p, err := s.store.GetProjectByShareID(ctx, shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared project: %w", err)
	}
	p.EnsureDefaults()
	return p, nil
}

// RecordTracker writes the tracker link straight to the store. A pending
// debounced snapshot is patched too so reads see the new external ids.
func (s *Service) RecordTracker(ctx context.Context, id string, link *models.TrackerLink) error {
	unlock := s.lock(id)
	defer unlock()

	if err := s.store.UpdateProject(ctx, id, store.ProjectUpdate{Tracker: link}); err != nil {
		return fmt.Errorf("failed to record tracker link for %s: %w", id, err)
	}
	if snap, ok := s.saver.Snapshot(id); ok {
		t := *link
		snap.Tracker = &t
		s.saver.MarkDirty(snap)
	}
	return nil
}
