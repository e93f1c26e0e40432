package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/graph"
	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/planmerge"
	"github.com/benvon/visionpath/internal/services/projects"
	"github.com/benvon/visionpath/internal/telemetry"
)

const (
	// DefaultMaxHistory caps the messages sent to the provider per turn
	DefaultMaxHistory = 40
	// DefaultProjectTitle names a draft saved before it got a title
	DefaultProjectTitle = "Untitled Project"
)

var (
	// ErrNotOwner is returned when a user acts on another user's project
	ErrNotOwner = errors.New("project belongs to another user")
	// ErrEmptyMessage is returned for a blank chat message
	ErrEmptyMessage = errors.New("message is required")
)

// ProjectAccess is the project read/mutate surface the planner needs
type ProjectAccess interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	Create(ctx context.Context, p *models.Project) error
	Mutate(ctx context.Context, id string, fn func(*models.Project) error) (*models.Project, error)
}

var _ ProjectAccess = (*projects.Service)(nil)

// PlanningSession is the conversation state of one project
type PlanningSession struct {
	ProjectID    string
	Phase        planmerge.Phase
	Messages     []ChatMessage
	CreatedAt    time.Time
	LastActivity time.Time

	mu sync.Mutex // serializes turns
}

// TurnResult is the outcome of a planning turn
type TurnResult struct {
	Message string           `json:"message"`
	Phase   planmerge.Phase  `json:"phase"`
	Done    bool             `json:"done"`
	Merge   planmerge.Result `json:"merge"`
	Project *models.Project  `json:"project"`
}

// PlanningService runs AI planning conversations and merges their output into
// projects. Drafts live in memory until saved.
type PlanningService struct {
	provider   AIProvider
	projects   ProjectAccess
	logger     *zap.Logger
	now        func() time.Time
	maxHistory int

	mu       sync.Mutex
	sessions map[string]*PlanningSession
	drafts   map[string]*models.Project
}

// NewPlanningService creates a planning service
func NewPlanningService(provider AIProvider, access ProjectAccess, logger *zap.Logger) *PlanningService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanningService{
		provider:   provider,
		projects:   access,
		logger:     logger,
		now:        time.Now,
		maxHistory: DefaultMaxHistory,
		sessions:   make(map[string]*PlanningSession),
		drafts:     make(map[string]*models.Project),
	}
}

// Session returns the session for a project, creating it if needed
func (s *PlanningService) Session(projectID string) *PlanningSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[projectID]; ok {
		return sess
	}
	now := s.now()
	sess := &PlanningSession{
		ProjectID:    projectID,
		Phase:        planmerge.PhaseOnboarding,
		Messages:     make([]ChatMessage, 0),
		CreatedAt:    now,
		LastActivity: now,
	}
	s.sessions[projectID] = sess
	return sess
}

// History returns a copy of the session messages and its phase
func (s *PlanningService) History(projectID string) ([]ChatMessage, planmerge.Phase) {
	sess := s.Session(projectID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return append([]ChatMessage{}, sess.Messages...), sess.Phase
}

// EndSession drops a project's conversation
func (s *PlanningService) EndSession(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, projectID)
}

// StartDraft creates an unsaved planning project
func (s *PlanningService) StartDraft(ownerID, title, description string) *models.Project {
	now := s.now()
	p := &models.Project{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Phase:       models.ProjectPhasePlanning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.EnsureDefaults()

	s.mu.Lock()
	s.drafts[p.ID] = p
	s.mu.Unlock()

	s.logger.Info("planning_draft_started", zap.String("project_id", p.ID), zap.String("owner_id", ownerID))
	return p.Clone()
}

// Draft returns a copy of an unsaved draft
func (s *PlanningService) Draft(id string) (*models.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// SaveDraft persists a draft as an active project. The conversation carries over.
func (s *PlanningService) SaveDraft(ctx context.Context, id, ownerID string) (*models.Project, error) {
	s.mu.Lock()
	d, ok := s.drafts[id]
	if ok && d.OwnerID != ownerID {
		s.mu.Unlock()
		return nil, ErrNotOwner
	}
	var p *models.Project
	if ok {
		p = d.Clone()
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, projects.ErrDraftNotFound)
	}

	p.Phase = models.ProjectPhaseActive
	if strings.TrimSpace(p.Title) == "" {
		p.Title = DefaultProjectTitle
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}

	s.mu.Lock()
	delete(s.drafts, id)
	s.mu.Unlock()

	s.logger.Info("planning_draft_saved", zap.String("project_id", id), zap.Int("nodes", len(p.Nodes)))
	return p, nil
}

// load returns the current project state and whether it is a draft
func (s *PlanningService) load(ctx context.Context, id, ownerID string) (*models.Project, bool, error) {
	if d, ok := s.Draft(id); ok {
		if d.OwnerID != ownerID {
			return nil, true, ErrNotOwner
		}
		return d, true, nil
	}
	p, err := s.projects.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if p.OwnerID != ownerID {
		return nil, false, ErrNotOwner
	}
	return p, false, nil
}

// mutate applies fn to a draft in place or to a stored project through the
// project service
func (s *PlanningService) mutate(ctx context.Context, id string, draft bool, fn func(*models.Project) error) (*models.Project, error) {
	if !draft {
		return s.projects.Mutate(ctx, id, fn)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, projects.ErrDraftNotFound)
	}
	work := d.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	s.drafts[id] = work
	return work.Clone(), nil
}

// Turn sends one user message to the planner and merges the proposed nodes.
// If the provider fails or its reply does not parse, nothing is merged and the
// conversation is left as it was.
func (s *PlanningService) Turn(ctx context.Context, projectID, ownerID, message string) (*TurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	sess := s.Session(projectID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	current, draft, err := s.load(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}

	phase := sess.Phase.Greet()
	history := append(append([]ChatMessage{}, sess.Messages...), ChatMessage{Role: RoleUser, Content: message})
	if len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}

	ctx = WithProjectID(ctx, projectID)
	ctx = WithUserID(ctx, ownerID)
	resp, err := s.provider.GeneratePlan(ctx, history, BuildPlanningInstruction(current, phase))
	if err != nil {
		telemetry.RecordPlanningTurn("error")
		s.logger.Warn("planning_turn_failed",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	var res planmerge.Result
	updated, err := s.mutate(ctx, projectID, draft, func(p *models.Project) error {
		var applyErr error
		res, applyErr = planmerge.Apply(p, resp, s.now())
		return applyErr
	})
	if err != nil {
		telemetry.RecordPlanningTurn("error")
		return nil, fmt.Errorf("failed to apply plan: %w", err)
	}

	sess.Messages = append(history, ChatMessage{Role: RoleAssistant, Content: resp.Message})
	sess.Phase = phase.Advance(res.Changed(), resp.Done)
	sess.LastActivity = s.now()

	telemetry.RecordMerge(len(res.Inserted), len(res.Updated), len(res.Rejected))
	if res.Changed() {
		telemetry.RecordPlanningTurn("merged")
	} else {
		telemetry.RecordPlanningTurn("no_change")
	}
	s.logger.Info("planning_turn_applied",
		zap.String("project_id", projectID),
		zap.String("phase", string(sess.Phase)),
		zap.Int("inserted", len(res.Inserted)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("rejected", len(res.Rejected)),
		zap.Int("orphans", len(res.Orphans)),
	)
	for _, r := range res.Rejected {
		s.logger.Debug("plan_fragment_rejected",
			zap.String("project_id", projectID),
			zap.Int("index", r.Index),
			zap.String("node_id", r.ID),
			zap.String("reason", r.Reason),
		)
	}

	return &TurnResult{
		Message: resp.Message,
		Phase:   sess.Phase,
		Done:    resp.Done,
		Merge:   res,
		Project: updated,
	}, nil
}

// GenerateAttachment asks the provider for a PRD or implementation prompt for
// a node and attaches the result to it
func (s *PlanningService) GenerateAttachment(ctx context.Context, projectID, nodeID, ownerID string, kind models.AttachmentKind) (*models.Attachment, error) {
	if _, err := DocumentInstruction(kind); err != nil {
		return nil, err
	}
	current, draft, err := s.load(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	node := current.NodeByID(nodeID)
	if node == nil {
		return nil, fmt.Errorf("%w: %s", projects.ErrNodeNotFound, nodeID)
	}

	content, err := s.provider.GenerateDocument(WithProjectID(ctx, projectID), kind, graph.BuildNodeContext(nodeID, current))
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s: %w", kind, err)
	}

	att := models.Attachment{
		ID:        uuid.NewString(),
		Kind:      kind,
		Title:     attachmentTitle(kind, node.Title),
		Content:   content,
		CreatedAt: s.now(),
	}
	if _, err := s.mutate(ctx, projectID, draft, func(p *models.Project) error {
		_, addErr := projects.AddAttachment(p, nodeID, att)
		return addErr
	}); err != nil {
		return nil, err
	}
	s.logger.Info("attachment_generated",
		zap.String("project_id", projectID),
		zap.String("node_id", nodeID),
		zap.String("kind", string(kind)),
	)
	return &att, nil
}

func attachmentTitle(kind models.AttachmentKind, nodeTitle string) string {
	switch kind {
	case models.AttachmentPRD:
		return "PRD: " + nodeTitle
	case models.AttachmentPrompt:
		return "Prompt: " + nodeTitle
	default:
		return nodeTitle
	}
}

// PruneIdle drops sessions and drafts idle for longer than maxIdle and returns
// how many sessions were removed
func (s *PlanningService) PruneIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		idle := sess.LastActivity.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			removed++
		}
	}
	for id, d := range s.drafts {
		if d.UpdatedAt.Before(cutoff) {
			if _, active := s.sessions[id]; !active {
				delete(s.drafts, id)
			}
		}
	}
	return removed
}
