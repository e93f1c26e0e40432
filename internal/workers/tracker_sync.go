// Package workers holds the background job processors run by cmd/worker.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/queue"
	"github.com/benvon/visionpath/internal/store"
	"github.com/benvon/visionpath/internal/telemetry"
	"github.com/benvon/visionpath/internal/tracker"
)

const (
	defaultIssueConcurrency = 4
	baseRetryDelay          = 30 * time.Second
)

// SyncProjects is the project access a tracker sync needs
type SyncProjects interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	RecordTracker(ctx context.Context, id string, link *models.TrackerLink) error
}

// SyncResult summarizes one project sync
type SyncResult struct {
	Created int
	Updated int
	Failed  int
	Dropped int // refs whose node no longer exists
}

// TrackerSyncer consumes tracker_sync jobs and mirrors feature and task nodes as issues
type TrackerSyncer struct {
	projects    SyncProjects
	client      tracker.Client
	jobs        queue.JobQueue
	provider    string
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
}

// NewTrackerSyncer creates a syncer for the named tracker provider
func NewTrackerSyncer(projects SyncProjects, client tracker.Client, jobs queue.JobQueue, provider string, logger *zap.Logger) *TrackerSyncer {
	return &TrackerSyncer{
		projects:    projects,
		client:      client,
		jobs:        jobs,
		provider:    provider,
		logger:      logger,
		concurrency: defaultIssueConcurrency,
		now:         time.Now,
	}
}

// Run consumes jobs until ctx is cancelled or the queue fails
func (s *TrackerSyncer) Run(ctx context.Context, prefetch int) error {
	msgs, errs, err := s.jobs.Consume(ctx, prefetch)
	if err != nil {
		return fmt.Errorf("failed to start consuming jobs: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-msgs:
				if !ok {
					return nil
				}
				s.ProcessMessage(ctx, msg)
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-errs:
				if !ok {
					return nil
				}
				s.logger.Error("queue_error", zap.Error(err))
				return err
			}
		}
	})
	return g.Wait()
}

// ProcessMessage syncs one delivered job and settles the delivery. Transient
// failures are re-enqueued with backoff until the job's retries run out,
// after which it is dead-lettered.
func (s *TrackerSyncer) ProcessMessage(ctx context.Context, msg queue.MessageInterface) {
	job := msg.GetJob()
	log := s.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("project_id", job.ProjectID),
	)

	result, err := s.Sync(ctx, job)
	switch {
	case err == nil:
		log.Info("tracker_sync_completed",
			zap.Int("created", result.Created),
			zap.Int("updated", result.Updated),
			zap.Int("dropped", result.Dropped),
		)
		s.settle(log, msg.Ack())
	case isPermanent(err):
		log.Warn("tracker_sync_dropped", zap.Error(err))
		s.settle(log, msg.Ack())
	case job.CanRetry():
		job.IncrementRetry()
		notBefore := s.now().Add(baseRetryDelay * time.Duration(1<<(job.RetryCount-1)))
		job.NotBefore = &notBefore
		if enqErr := s.jobs.Enqueue(ctx, job); enqErr != nil {
			log.Error("tracker_sync_requeue_failed", zap.Error(enqErr))
			s.settle(log, msg.Nack(true))
			return
		}
		log.Warn("tracker_sync_retry_scheduled",
			zap.Error(err),
			zap.Int("retry_count", job.RetryCount),
			zap.Time("not_before", notBefore),
		)
		s.settle(log, msg.Ack())
	default:
		log.Error("tracker_sync_failed", zap.Error(err), zap.Int("retry_count", job.RetryCount))
		s.settle(log, msg.Nack(false))
	}
}

func (s *TrackerSyncer) settle(log *zap.Logger, err error) {
	if err != nil {
		log.Error("failed_to_settle_delivery", zap.Error(err))
	}
}

var (
	errInvalidJob  = errors.New("invalid job")
	errWrongOwner  = errors.New("job owner does not own project")
	errPartialSync = errors.New("some issues failed to sync")
)

// isPermanent reports whether retrying the job cannot succeed
func isPermanent(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, errWrongOwner) || errors.Is(err, errInvalidJob)
}

// Sync mirrors the project's syncable nodes into the tracker and records
// the external ids. Nodes that fail are left out of this round and the
// returned error asks for a retry; ids already obtained are kept.
func (s *TrackerSyncer) Sync(ctx context.Context, job *queue.Job) (SyncResult, error) {
	var result SyncResult
	if err := job.Validate(); err != nil {
		return result, fmt.Errorf("%w: %v", errInvalidJob, err)
	}

	p, err := s.projects.Get(ctx, job.ProjectID)
	if err != nil {
		return result, err
	}
	if job.OwnerID != "" && p.OwnerID != job.OwnerID {
		return result, errWrongOwner
	}

	refs := make(map[string]string)
	if p.Tracker != nil && p.Tracker.Provider == s.provider {
		for k, v := range p.Tracker.ExternalRefs {
			refs[k] = v
		}
	}
	for nodeID := range refs {
		if n := p.NodeByID(nodeID); n == nil || !tracker.Syncable(n) {
			delete(refs, nodeID)
			result.Dropped++
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range p.Nodes {
		n := &p.Nodes[i]
		if !tracker.Syncable(n) {
			continue
		}
		issue := tracker.IssueFromNode(p, n)
		existing := refs[n.ID]
		g.Go(func() error {
			id, action, err := s.syncIssue(gctx, existing, issue)
			telemetry.RecordTrackerIssue(action)
			mu.Lock()
			defer mu.Unlock()
			switch action {
			case "created":
				result.Created++
				refs[n.ID] = id
			case "updated":
				result.Updated++
			default:
				result.Failed++
				s.logger.Warn("tracker_issue_failed",
					zap.String("project_id", p.ID),
					zap.String("node_id", n.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return result, err
	}

	synced := s.now()
	link := &models.TrackerLink{Provider: s.provider, ExternalRefs: refs, LastSyncedAt: &synced}
	if err := s.projects.RecordTracker(ctx, p.ID, link); err != nil {
		return result, err
	}
	if result.Failed > 0 {
		return result, fmt.Errorf("%w: %d of %d", errPartialSync, result.Failed, result.Created+result.Updated+result.Failed)
	}
	return result, nil
}

// syncIssue updates the issue when it exists and creates it otherwise,
// recreating issues deleted on the tracker side
func (s *TrackerSyncer) syncIssue(ctx context.Context, externalID string, issue tracker.Issue) (string, string, error) {
	if externalID != "" {
		err := s.client.UpdateIssue(ctx, externalID, issue)
		if err == nil {
			return externalID, "updated", nil
		}
		if !errors.Is(err, tracker.ErrIssueNotFound) {
			return "", "failed", err
		}
	}
	id, err := s.client.CreateIssue(ctx, issue)
	if err != nil {
		return "", "failed", err
	}
	return id, "created", nil
}
