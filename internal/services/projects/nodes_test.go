package projects

import (
	"errors"
	"testing"
	"time"

	"github.com/benvon/visionpath/internal/models"
)

func sampleProject() *models.Project {
	return &models.Project{
		ID:    "p1",
		Title: "Sample",
		Nodes: []models.PlanNode{
			{ID: "goal-1", Type: models.NodeTypeGoal, Title: "Goal", Status: models.NodeStatusNotStarted},
			{ID: "sub-1", Type: models.NodeTypeSubgoal, Title: "Sub", Status: models.NodeStatusNotStarted, ParentID: models.StringPtr("goal-1")},
			{ID: "task-1", Type: models.NodeTypeTask, Title: "Task", Status: models.NodeStatusNotStarted, ParentID: models.StringPtr("sub-1")},
			{ID: "goal-2", Type: models.NodeTypeGoal, Title: "Other", Status: models.NodeStatusNotStarted},
		},
		Edges: []models.ProjectEdge{
			{ID: "e1", Source: "task-1", Target: "goal-2", EdgeType: models.EdgeBlocks},
			{ID: "e2", Source: "goal-2", Target: "goal-1", EdgeType: models.EdgeInforms},
		},
		Team: []models.TeamMember{{ID: "m1", Name: "Ana"}},
	}
}

func TestAddNode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   NodeInput
		wantErr error
	}{
		{
			name:  "goal without parent",
			input: NodeInput{Type: models.NodeTypeGoal, Title: "New goal"},
		},
		{
			name:  "task under subgoal",
			input: NodeInput{ID: "task-2", Type: models.NodeTypeTask, Title: "T2", ParentID: models.StringPtr("sub-1")},
		},
		{
			name:    "task without parent",
			input:   NodeInput{Type: models.NodeTypeTask, Title: "Loose"},
			wantErr: ErrInvalidParent,
		},
		{
			name:    "unknown parent",
			input:   NodeInput{Type: models.NodeTypeTask, Title: "T", ParentID: models.StringPtr("nope")},
			wantErr: ErrInvalidParent,
		},
		{
			name:    "duplicate id",
			input:   NodeInput{ID: "goal-1", Type: models.NodeTypeGoal, Title: "Dup"},
			wantErr: ErrDuplicateNode,
		},
		{
			name:    "assignee outside team",
			input:   NodeInput{Type: models.NodeTypeGoal, Title: "G", AssigneeID: models.StringPtr("stranger")},
			wantErr: ErrUnknownAssignee,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := sampleProject()
			n, err := AddNode(p, tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("AddNode() error = %v, want %v", err, tt.wantErr)
				}
				if len(p.Nodes) != 4 {
					t.Errorf("expected no node to be added, got %d nodes", len(p.Nodes))
				}
				return
			}
			if err != nil {
				t.Fatalf("AddNode() unexpected error = %v", err)
			}
			if n.ID == "" {
				t.Error("expected an id to be assigned")
			}
			if n.Status != models.NodeStatusNotStarted {
				t.Errorf("expected status not_started, got %q", n.Status)
			}
			if n.Questions == nil || n.Attachments == nil {
				t.Error("expected empty questions and attachments")
			}
		})
	}
}

func TestAddNode_RejectsInvalidType(t *testing.T) {
	t.Parallel()
	p := sampleProject()
	if _, err := AddNode(p, NodeInput{Type: "epic", Title: "X"}); err == nil {
		t.Fatal("expected validation error for unknown type")
	}
}

func TestUpdateNode(t *testing.T) {
	t.Parallel()
	p := sampleProject()
	status := models.NodeStatusInProgress
	title := "Renamed"
	assignee := "m1"

	n, err := UpdateNode(p, "task-1", NodePatch{Status: &status, Title: &title, AssigneeID: &assignee})
	if err != nil {
		t.Fatalf("UpdateNode() error = %v", err)
	}
	if n.Status != status || n.Title != title {
		t.Errorf("unexpected node after update: %+v", n)
	}
	if n.AssigneeID == nil || *n.AssigneeID != "m1" {
		t.Errorf("expected assignee m1, got %v", n.AssigneeID)
	}
	if n.Description != "" || !n.HasParent("sub-1") {
		t.Error("expected unsent fields to be untouched")
	}

	unassign := ""
	n, err = UpdateNode(p, "task-1", NodePatch{AssigneeID: &unassign})
	if err != nil {
		t.Fatalf("UpdateNode() unassign error = %v", err)
	}
	if n.AssigneeID != nil {
		t.Errorf("expected assignee cleared, got %v", *n.AssigneeID)
	}
}

func TestUpdateNode_Reparent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		nodeID  string
		parent  string
		wantErr error
	}{
		{name: "move task to other goal", nodeID: "task-1", parent: "goal-2"},
		{name: "self parent", nodeID: "sub-1", parent: "sub-1", wantErr: ErrInvalidParent},
		{name: "under own descendant", nodeID: "goal-1", parent: "task-1", wantErr: ErrInvalidParent},
		{name: "missing parent", nodeID: "task-1", parent: "ghost", wantErr: ErrInvalidParent},
		{name: "missing node", nodeID: "ghost", parent: "goal-1", wantErr: ErrNodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := sampleProject()
			parent := tt.parent
			_, err := UpdateNode(p, tt.nodeID, NodePatch{ParentID: &parent})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("UpdateNode() unexpected error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("UpdateNode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeleteNode_RemovesSubtreeAndEdges(t *testing.T) {
	t.Parallel()
	p := sampleProject()
	removed, err := DeleteNode(p, "goal-1")
	if err != nil {
		t.Fatalf("DeleteNode() error = %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("expected 3 removed ids, got %v", removed)
	}
	if len(p.Nodes) != 1 || p.Nodes[0].ID != "goal-2" {
		t.Errorf("expected only goal-2 to remain, got %+v", p.Nodes)
	}
	if len(p.Edges) != 0 {
		t.Errorf("expected edges touching removed nodes to be dropped, got %+v", p.Edges)
	}

	if _, err := DeleteNode(p, "goal-1"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound on second delete, got %v", err)
	}
}

func TestAddEdge(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   EdgeInput
		wantErr error
	}{
		{name: "valid", input: EdgeInput{Source: "sub-1", Target: "goal-2", EdgeType: models.EdgeDependsOn}},
		{name: "self edge", input: EdgeInput{Source: "sub-1", Target: "sub-1", EdgeType: models.EdgeBlocks}, wantErr: ErrInvalidEdge},
		{name: "unknown end", input: EdgeInput{Source: "sub-1", Target: "ghost", EdgeType: models.EdgeBlocks}, wantErr: ErrInvalidEdge},
		{name: "bad type", input: EdgeInput{Source: "sub-1", Target: "goal-2", EdgeType: "likes"}, wantErr: ErrInvalidEdge},
		{name: "duplicate", input: EdgeInput{Source: "task-1", Target: "goal-2", EdgeType: models.EdgeBlocks}, wantErr: ErrDuplicateEdge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := sampleProject()
			e, err := AddEdge(p, tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("AddEdge() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AddEdge() unexpected error = %v", err)
			}
			if e.ID == "" || len(p.Edges) != 3 {
				t.Errorf("expected edge appended with id, got %+v", p.Edges)
			}
		})
	}
}

func TestDeleteEdge(t *testing.T) {
	t.Parallel()
	p := sampleProject()
	if err := DeleteEdge(p, "e1"); err != nil {
		t.Fatalf("DeleteEdge() error = %v", err)
	}
	if p.EdgeByID("e1") != nil {
		t.Error("expected e1 removed")
	}
	if err := DeleteEdge(p, "e1"); !errors.Is(err, ErrEdgeNotFound) {
		t.Errorf("expected ErrEdgeNotFound, got %v", err)
	}
}

func TestAddComment(t *testing.T) {
	t.Parallel()
	p := sampleProject()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	c, err := AddComment(p, "task-1", "user-1", "  looks good  ", now)
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if c.Body != "looks good" || c.AuthorID != "user-1" || !c.CreatedAt.Equal(now) {
		t.Errorf("unexpected comment %+v", c)
	}
	if _, err := AddComment(p, "task-1", "user-1", "   ", now); err == nil {
		t.Error("expected error for empty body")
	}
	if _, err := AddComment(p, "ghost", "user-1", "hi", now); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestSetTeam_UnassignsRemovedMembers(t *testing.T) {
	t.Parallel()
	p := sampleProject()
	p.Nodes[2].AssigneeID = models.StringPtr("m1")

	SetTeam(p, []models.TeamMember{{ID: "m2", Name: "Bo"}})

	if p.Nodes[2].AssigneeID != nil {
		t.Errorf("expected assignee cleared, got %v", *p.Nodes[2].AssigneeID)
	}
	if len(p.Team) != 1 || p.Team[0].ID != "m2" {
		t.Errorf("unexpected team %+v", p.Team)
	}
}
