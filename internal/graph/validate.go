package graph

import (
	"fmt"

	"github.com/benvon/visionpath/internal/models"
)

// IssueKind classifies a structural problem in a project graph
type IssueKind string

const (
	IssueMissingParent IssueKind = "missing_parent" // non-goal node with no parent
	IssueOrphanParent  IssueKind = "orphan_parent"  // parentId that does not resolve
	IssueParentCycle   IssueKind = "parent_cycle"
	IssueDanglingEdge  IssueKind = "dangling_edge"
	IssueSelfEdge      IssueKind = "self_edge"
)

// Issue is one structural problem
type Issue struct {
	Kind    IssueKind `json:"kind"`
	NodeID  string    `json:"nodeId,omitempty"`
	EdgeID  string    `json:"edgeId,omitempty"`
	Message string    `json:"message"`
}

// ValidateHierarchy reports broken parent references, parent cycles and edges
// whose ends do not resolve. Issues are ordered by node order, then edge order.
func ValidateHierarchy(p *models.Project) []Issue {
	issues := []Issue{}
	if p == nil {
		return issues
	}
	idx := newIndex(p)

	for _, n := range p.Nodes {
		switch {
		case n.ParentID == nil:
			if n.Type != models.NodeTypeGoal {
				issues = append(issues, Issue{
					Kind:    IssueMissingParent,
					NodeID:  n.ID,
					Message: fmt.Sprintf("%s %q has no parent", n.Type, n.ID),
				})
			}
		case idx.nodes[*n.ParentID] == nil:
			issues = append(issues, Issue{
				Kind:    IssueOrphanParent,
				NodeID:  n.ID,
				Message: fmt.Sprintf("parent %q of %q does not exist", *n.ParentID, n.ID),
			})
		case inParentCycle(n.ID, idx):
			issues = append(issues, Issue{
				Kind:    IssueParentCycle,
				NodeID:  n.ID,
				Message: fmt.Sprintf("%q is part of a parent cycle", n.ID),
			})
		}
	}

	for _, e := range p.Edges {
		if e.Source == e.Target {
			issues = append(issues, Issue{
				Kind:    IssueSelfEdge,
				EdgeID:  e.ID,
				Message: fmt.Sprintf("edge %q connects %q to itself", e.ID, e.Source),
			})
			continue
		}
		if idx.nodes[e.Source] == nil || idx.nodes[e.Target] == nil {
			issues = append(issues, Issue{
				Kind:    IssueDanglingEdge,
				EdgeID:  e.ID,
				Message: fmt.Sprintf("edge %q references a missing node", e.ID),
			})
		}
	}
	return issues
}

// OrphanIDs returns the ids of nodes whose parentId does not resolve
func OrphanIDs(p *models.Project) []string {
	out := []string{}
	for _, issue := range ValidateHierarchy(p) {
		if issue.Kind == IssueOrphanParent {
			out = append(out, issue.NodeID)
		}
	}
	return out
}

func inParentCycle(id string, idx *index) bool {
	seen := map[string]bool{}
	cur := idx.nodes[id]
	for cur != nil && cur.ParentID != nil {
		if *cur.ParentID == id {
			return true
		}
		if seen[cur.ID] {
			return false
		}
		seen[cur.ID] = true
		cur = idx.nodes[*cur.ParentID]
	}
	return false
}
