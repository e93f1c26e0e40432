// Package graph implements read-only queries over a project's plan graph:
// blast radius, ancestry, progress and hierarchy validation. Every function
// is total over its input; unknown ids produce empty results.
package graph

import (
	"sort"

	"github.com/benvon/visionpath/internal/models"
)

// Set is an unordered collection of node ids
type Set map[string]struct{}

// Has reports whether id is in the set
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in lexical order
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s Set) add(id string) {
	s[id] = struct{}{}
}

// forwardEdgeTypes propagate impact from source to target and are followed recursively
var forwardEdgeTypes = map[models.EdgeType]bool{
	models.EdgeBlocks:     true,
	models.EdgeDependsOn:  true,
	models.EdgeInforms:    true,
	models.EdgeDefines:    true,
	models.EdgeImplements: true,
	models.EdgeReferences: true,
}

// reverseEdgeTypes pull in the edge source when the target changes, one hop only
var reverseEdgeTypes = map[models.EdgeType]bool{
	models.EdgeDependsOn:  true,
	models.EdgeSupersedes: true,
}

// index holds adjacency lists keyed by node id, preserving input order
type index struct {
	nodes    map[string]*models.PlanNode
	children map[string][]string
	outgoing map[string][]models.ProjectEdge
	incoming map[string][]models.ProjectEdge
}

func newIndex(p *models.Project) *index {
	idx := &index{
		nodes:    make(map[string]*models.PlanNode, len(p.Nodes)),
		children: make(map[string][]string),
		outgoing: make(map[string][]models.ProjectEdge),
		incoming: make(map[string][]models.ProjectEdge),
	}
	for i := range p.Nodes {
		n := &p.Nodes[i]
		idx.nodes[n.ID] = n
		if n.ParentID != nil {
			idx.children[*n.ParentID] = append(idx.children[*n.ParentID], n.ID)
		}
	}
	for _, e := range p.Edges {
		idx.outgoing[e.Source] = append(idx.outgoing[e.Source], e)
		idx.incoming[e.Target] = append(idx.incoming[e.Target], e)
	}
	return idx
}

// BlastRadius returns every node affected by a change to nodeID: all hierarchy
// descendants, targets of forward relationship edges (followed transitively) and
// sources of depends_on/supersedes edges pointing at any visited node (not followed).
// The start node is never part of the result.
func BlastRadius(nodeID string, p *models.Project) Set {
	affected := Set{}
	if p == nil {
		return affected
	}
	idx := newIndex(p)

	visited := Set{}
	stack := []string{nodeID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited.Has(cur) {
			continue
		}
		visited.add(cur)

		for _, child := range idx.children[cur] {
			affected.add(child)
			if !visited.Has(child) {
				stack = append(stack, child)
			}
		}
		for _, e := range idx.outgoing[cur] {
			if !forwardEdgeTypes[e.EdgeType] {
				continue
			}
			affected.add(e.Target)
			if !visited.Has(e.Target) {
				stack = append(stack, e.Target)
			}
		}
		for _, e := range idx.incoming[cur] {
			if reverseEdgeTypes[e.EdgeType] {
				affected.add(e.Source)
			}
		}
	}

	delete(affected, nodeID)
	return affected
}

// BlastRadiusSummary tallies a blast radius by node type
type BlastRadiusSummary struct {
	Total   int                     `json:"total"`
	ByType  map[models.NodeType]int `json:"byType"`
	NodeIDs []string                `json:"nodeIds"`
}

// Summarize computes the blast radius of nodeID and counts affected nodes by type.
// Ids that do not resolve to a node (stale edge ends) are skipped.
func Summarize(nodeID string, p *models.Project) BlastRadiusSummary {
	summary := BlastRadiusSummary{
		ByType:  map[models.NodeType]int{},
		NodeIDs: []string{},
	}
	if p == nil {
		return summary
	}
	idx := newIndex(p)
	for _, id := range BlastRadius(nodeID, p).Sorted() {
		n, ok := idx.nodes[id]
		if !ok {
			continue
		}
		summary.Total++
		summary.ByType[n.Type]++
		summary.NodeIDs = append(summary.NodeIDs, id)
	}
	return summary
}
