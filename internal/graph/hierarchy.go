package graph

import (
	"fmt"
	"math"

	"github.com/benvon/visionpath/internal/models"
)

// Children returns the direct children of nodeID in node order
func Children(nodeID string, nodes []models.PlanNode) []models.PlanNode {
	var out []models.PlanNode
	for _, n := range nodes {
		if n.HasParent(nodeID) {
			out = append(out, n)
		}
	}
	return out
}

// Descendants returns every node whose parent chain reaches nodeID, in depth-first pre-order
func Descendants(nodeID string, nodes []models.PlanNode) []models.PlanNode {
	children := make(map[string][]int)
	for i, n := range nodes {
		if n.ParentID != nil {
			children[*n.ParentID] = append(children[*n.ParentID], i)
		}
	}

	var out []models.PlanNode
	seen := map[string]bool{nodeID: true}
	stack := pushChildren(nil, children[nodeID], nodes, seen)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, nodes[i])
		stack = pushChildren(stack, children[nodes[i].ID], nodes, seen)
	}
	return out
}

// pushChildren pushes unseen children in reverse so they pop in their original order
func pushChildren(stack, kids []int, nodes []models.PlanNode, seen map[string]bool) []int {
	for k := len(kids) - 1; k >= 0; k-- {
		id := nodes[kids[k]].ID
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, kids[k])
	}
	return stack
}

// AncestorChain returns the ancestors of nodeID ordered from the root down to
// the direct parent. Unresolved parents end the chain.
func AncestorChain(nodeID string, nodes []models.PlanNode) []models.PlanNode {
	byID := make(map[string]models.PlanNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	cur, ok := byID[nodeID]
	if !ok {
		return nil
	}

	var chain []models.PlanNode
	seen := map[string]bool{nodeID: true}
	for cur.ParentID != nil {
		parent, ok := byID[*cur.ParentID]
		if !ok || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		chain = append(chain, parent)
		cur = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// GoalProgress returns the percentage of a goal's descendants that are completed,
// rounded to the nearest integer. A goal with no descendants is at 0.
func GoalProgress(goal models.PlanNode, nodes []models.PlanNode) int {
	desc := Descendants(goal.ID, nodes)
	if len(desc) == 0 {
		return 0
	}
	completed := 0
	for _, n := range desc {
		if n.Status == models.NodeStatusCompleted {
			completed++
		}
	}
	return int(math.Round(float64(completed) / float64(len(desc)) * 100))
}

// GoalProgressEntry is the progress of one goal
type GoalProgressEntry struct {
	GoalID  string `json:"goalId"`
	Title   string `json:"title"`
	Percent int    `json:"percent"`
	Total   int    `json:"total"`
}

// ProjectProgress computes GoalProgress for every goal in the project, in node order
func ProjectProgress(p *models.Project) []GoalProgressEntry {
	out := []GoalProgressEntry{}
	for _, n := range p.Nodes {
		if n.Type != models.NodeTypeGoal {
			continue
		}
		out = append(out, GoalProgressEntry{
			GoalID:  n.ID,
			Title:   n.Title,
			Percent: GoalProgress(n, p.Nodes),
			Total:   len(Descendants(n.ID, p.Nodes)),
		})
	}
	return out
}

// HierarchyEdges derives an explicit hierarchy edge for every node whose parent resolves
func HierarchyEdges(nodes []models.PlanNode) []models.ProjectEdge {
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
	}
	out := []models.ProjectEdge{}
	for _, n := range nodes {
		if n.ParentID == nil || !ids[*n.ParentID] || *n.ParentID == n.ID {
			continue
		}
		out = append(out, models.ProjectEdge{
			ID:       fmt.Sprintf("hierarchy-%s-%s", *n.ParentID, n.ID),
			Source:   *n.ParentID,
			Target:   n.ID,
			EdgeType: models.EdgeHierarchy,
		})
	}
	return out
}

type edgeKey struct {
	source, target string
	typ            models.EdgeType
}

// RenderEdges returns the derived hierarchy edges followed by the project's
// explicit edges, with one edge per (source, target, type). An explicit edge
// replaces the derived edge it repeats.
func RenderEdges(p *models.Project) []models.ProjectEdge {
	if p == nil {
		return []models.ProjectEdge{}
	}
	explicit := make(map[edgeKey]bool, len(p.Edges))
	for _, e := range p.Edges {
		explicit[edgeKey{e.Source, e.Target, e.EdgeType}] = true
	}

	out := make([]models.ProjectEdge, 0, len(p.Nodes)+len(p.Edges))
	for _, e := range HierarchyEdges(p.Nodes) {
		if !explicit[edgeKey{e.Source, e.Target, e.EdgeType}] {
			out = append(out, e)
		}
	}
	seen := make(map[edgeKey]bool, len(p.Edges))
	for _, e := range p.Edges {
		k := edgeKey{e.Source, e.Target, e.EdgeType}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
