package projects

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/benvon/visionpath/internal/graph"
	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/validation"
)

var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrDraftNotFound   = errors.New("draft not found")
	ErrEdgeNotFound    = errors.New("edge not found")
	ErrDuplicateNode   = errors.New("node id already exists")
	ErrDuplicateEdge   = errors.New("edge already exists")
	ErrInvalidParent   = errors.New("invalid parent")
	ErrInvalidEdge     = errors.New("invalid edge")
	ErrUnknownAssignee = errors.New("assignee is not a team member")
)

// NodeInput describes a node created directly by a user
type NodeInput struct {
	ID          string            `json:"id,omitempty" validate:"omitempty,max=200"`
	Type        models.NodeType   `json:"type" validate:"required,node_type"`
	Title       string            `json:"title" validate:"required,max=500"`
	Description string            `json:"description" validate:"max=20000"`
	ParentID    *string           `json:"parentId"`
	Status      models.NodeStatus `json:"status,omitempty" validate:"omitempty,node_status"`
	AssigneeID  *string           `json:"assigneeId,omitempty"`
	Priority    models.Priority   `json:"priority,omitempty" validate:"priority"`
	DueDate     *time.Time        `json:"dueDate,omitempty"`
	Estimate    *float64          `json:"estimate,omitempty" validate:"omitempty,gte=0"`
	Tags        []string          `json:"tags,omitempty" validate:"omitempty,dive,max=64"`
}

// NodePatch is a partial node update. Nil fields are unchanged; an empty
// AssigneeID unassigns.
type NodePatch struct {
	Title        *string            `json:"title,omitempty" validate:"omitempty,min=1,max=500"`
	Description  *string            `json:"description,omitempty" validate:"omitempty,max=20000"`
	Status       *models.NodeStatus `json:"status,omitempty" validate:"omitempty,node_status"`
	ParentID     *string            `json:"parentId,omitempty"`
	Collapsed    *bool              `json:"collapsed,omitempty"`
	AssigneeID   *string            `json:"assigneeId,omitempty"`
	Priority     *models.Priority   `json:"priority,omitempty" validate:"omitempty,priority"`
	DueDate      *time.Time         `json:"dueDate,omitempty"`
	ClearDueDate bool               `json:"clearDueDate,omitempty"`
	Estimate     *float64           `json:"estimate,omitempty" validate:"omitempty,gte=0"`
	Tags         *[]string          `json:"tags,omitempty"`
	Questions    *[]models.QAItem   `json:"questions,omitempty"`
}

// EdgeInput describes a typed relationship created by a user
type EdgeInput struct {
	Source   string          `json:"source" validate:"required"`
	Target   string          `json:"target" validate:"required"`
	EdgeType models.EdgeType `json:"edgeType" validate:"required,edge_type"`
	Label    string          `json:"label,omitempty" validate:"max=200"`
}

func checkAssignee(p *models.Project, assignee *string) error {
	if assignee == nil || *assignee == "" {
		return nil
	}
	if !p.HasMember(*assignee) {
		return fmt.Errorf("%w: %s", ErrUnknownAssignee, *assignee)
	}
	return nil
}

// AddNode appends a node. Non-goal nodes need an existing parent.
func AddNode(p *models.Project, in NodeInput) (*models.PlanNode, error) {
	in.Title = validation.SanitizeText(in.Title)
	in.Description = validation.SanitizeText(in.Description)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if p.NodeByID(in.ID) != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, in.ID)
	}
	if in.ParentID != nil && *in.ParentID == "" {
		in.ParentID = nil
	}
	switch {
	case in.ParentID == nil && in.Type != models.NodeTypeGoal:
		return nil, fmt.Errorf("%w: %s nodes require a parent", ErrInvalidParent, in.Type)
	case in.ParentID != nil && p.NodeByID(*in.ParentID) == nil:
		return nil, fmt.Errorf("%w: parent %s does not exist", ErrInvalidParent, *in.ParentID)
	}
	if err := checkAssignee(p, in.AssigneeID); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = models.NodeStatusNotStarted
	}

	p.Nodes = append(p.Nodes, models.PlanNode{
		ID:          in.ID,
		Type:        in.Type,
		Title:       in.Title,
		Description: in.Description,
		Status:      status,
		ParentID:    in.ParentID,
		Questions:   []models.QAItem{},
		Attachments: []models.Attachment{},
		AssigneeID:  in.AssigneeID,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		Estimate:    in.Estimate,
		Tags:        in.Tags,
	})
	return &p.Nodes[len(p.Nodes)-1], nil
}

// UpdateNode applies a patch to a node
func UpdateNode(p *models.Project, nodeID string, patch NodePatch) (*models.PlanNode, error) {
	if err := validation.Struct(patch); err != nil {
		return nil, err
	}
	n := p.NodeByID(nodeID)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	if patch.ParentID != nil {
		if err := checkReparent(p, n, *patch.ParentID); err != nil {
			return nil, err
		}
	}
	if err := checkAssignee(p, patch.AssigneeID); err != nil {
		return nil, err
	}

	if patch.Title != nil {
		n.Title = validation.SanitizeText(*patch.Title)
	}
	if patch.Description != nil {
		n.Description = validation.SanitizeText(*patch.Description)
	}
	if patch.Status != nil {
		n.Status = *patch.Status
	}
	if patch.ParentID != nil {
		parent := *patch.ParentID
		n.ParentID = &parent
	}
	if patch.Collapsed != nil {
		n.Collapsed = *patch.Collapsed
	}
	if patch.AssigneeID != nil {
		if *patch.AssigneeID == "" {
			n.AssigneeID = nil
		} else {
			a := *patch.AssigneeID
			n.AssigneeID = &a
		}
	}
	if patch.Priority != nil {
		n.Priority = *patch.Priority
	}
	if patch.ClearDueDate {
		n.DueDate = nil
	}
	if patch.DueDate != nil {
		d := *patch.DueDate
		n.DueDate = &d
	}
	if patch.Estimate != nil {
		e := *patch.Estimate
		n.Estimate = &e
	}
	if patch.Tags != nil {
		n.Tags = append([]string{}, (*patch.Tags)...)
	}
	if patch.Questions != nil {
		n.Questions = append([]models.QAItem{}, (*patch.Questions)...)
	}
	return n, nil
}

func checkReparent(p *models.Project, n *models.PlanNode, parentID string) error {
	if parentID == n.ID {
		return fmt.Errorf("%w: a node cannot be its own parent", ErrInvalidParent)
	}
	if p.NodeByID(parentID) == nil {
		return fmt.Errorf("%w: parent %s does not exist", ErrInvalidParent, parentID)
	}
	for _, d := range graph.Descendants(n.ID, p.Nodes) {
		if d.ID == parentID {
			return fmt.Errorf("%w: %s is a descendant of %s", ErrInvalidParent, parentID, n.ID)
		}
	}
	return nil
}

// DeleteNode removes a node together with its descendants and every edge
// touching a removed node. It returns the removed ids.
func DeleteNode(p *models.Project, nodeID string) ([]string, error) {
	if p.NodeByID(nodeID) == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	removed := map[string]bool{nodeID: true}
	ids := []string{nodeID}
	for _, d := range graph.Descendants(nodeID, p.Nodes) {
		removed[d.ID] = true
		ids = append(ids, d.ID)
	}

	nodes := p.Nodes[:0]
	for _, n := range p.Nodes {
		if !removed[n.ID] {
			nodes = append(nodes, n)
		}
	}
	p.Nodes = nodes

	edges := make([]models.ProjectEdge, 0, len(p.Edges))
	for _, e := range p.Edges {
		if !removed[e.Source] && !removed[e.Target] {
			edges = append(edges, e)
		}
	}
	p.Edges = edges
	return ids, nil
}

// AddEdge links two existing, distinct nodes
func AddEdge(p *models.Project, in EdgeInput) (*models.ProjectEdge, error) {
	if err := validation.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEdge, err)
	}
	if in.Source == in.Target {
		return nil, fmt.Errorf("%w: self-edges are not allowed", ErrInvalidEdge)
	}
	if p.NodeByID(in.Source) == nil || p.NodeByID(in.Target) == nil {
		return nil, fmt.Errorf("%w: source and target must exist", ErrInvalidEdge)
	}
	for _, e := range p.Edges {
		if e.Source == in.Source && e.Target == in.Target && e.EdgeType == in.EdgeType {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEdge, e.ID)
		}
	}
	p.Edges = append(p.Edges, models.ProjectEdge{
		ID:       uuid.NewString(),
		Source:   in.Source,
		Target:   in.Target,
		EdgeType: in.EdgeType,
		Label:    strings.TrimSpace(in.Label),
	})
	return &p.Edges[len(p.Edges)-1], nil
}

// DeleteEdge removes an edge by id
func DeleteEdge(p *models.Project, edgeID string) error {
	for i, e := range p.Edges {
		if e.ID == edgeID {
			p.Edges = append(p.Edges[:i], p.Edges[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEdgeNotFound, edgeID)
}

// AddComment appends a comment to a node
func AddComment(p *models.Project, nodeID, authorID, body string, now time.Time) (*models.Comment, error) {
	n := p.NodeByID(nodeID)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	body = validation.SanitizeText(body)
	if body == "" {
		return nil, fmt.Errorf("%w: comment body is required", validation.ErrInvalid)
	}
	n.Comments = append(n.Comments, models.Comment{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: now,
	})
	return &n.Comments[len(n.Comments)-1], nil
}

// AddAttachment appends an attachment to a node
func AddAttachment(p *models.Project, nodeID string, att models.Attachment) (*models.Attachment, error) {
	n := p.NodeByID(nodeID)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	n.Attachments = append(n.Attachments, att)
	return &n.Attachments[len(n.Attachments)-1], nil
}

// SetTeam replaces the team and unassigns nodes whose assignee left it
func SetTeam(p *models.Project, team []models.TeamMember) {
	p.Team = append([]models.TeamMember{}, team...)
	for i := range p.Nodes {
		if a := p.Nodes[i].AssigneeID; a != nil && !p.HasMember(*a) {
			p.Nodes[i].AssigneeID = nil
		}
	}
}
