package graph

import (
	"fmt"
	"strings"

	"github.com/benvon/visionpath/internal/models"
)

// BuildNodeContext renders a plain-text summary of a node and its surroundings:
// the parent chain from the root down, the node itself with its answered questions,
// sibling titles, children and grandchildren, and typed relationship edges in both
// directions. An unknown nodeID yields "".
func BuildNodeContext(nodeID string, p *models.Project) string {
	if p == nil {
		return ""
	}
	idx := newIndex(p)
	node, ok := idx.nodes[nodeID]
	if !ok {
		return ""
	}

	var b strings.Builder
	if p.Title != "" {
		fmt.Fprintf(&b, "Project: %s\n", p.Title)
		if p.Description != "" {
			fmt.Fprintf(&b, "Project description: %s\n", p.Description)
		}
		b.WriteString("\n")
	}

	chain := AncestorChain(nodeID, p.Nodes)
	if len(chain) > 0 {
		b.WriteString("Parent chain:\n")
		for depth, anc := range chain {
			fmt.Fprintf(&b, "%s- %s\n", strings.Repeat("  ", depth), describe(&anc))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Current node: %s\n", describe(node))
	fmt.Fprintf(&b, "Status: %s\n", node.Status)
	if node.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", node.Description)
	}

	var answered []models.QAItem
	for _, q := range node.Questions {
		if q.Answered() {
			answered = append(answered, q)
		}
	}
	if len(answered) > 0 {
		b.WriteString("\nAnswered questions:\n")
		for _, q := range answered {
			fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", q.Question, q.Answer)
		}
	}

	if node.ParentID != nil {
		var siblings []string
		for _, id := range idx.children[*node.ParentID] {
			if id != nodeID {
				siblings = append(siblings, idx.nodes[id].Title)
			}
		}
		if len(siblings) > 0 {
			fmt.Fprintf(&b, "\nSiblings: %s\n", strings.Join(siblings, ", "))
		}
	}

	if kids := idx.children[nodeID]; len(kids) > 0 {
		b.WriteString("\nChildren:\n")
		for _, id := range kids {
			fmt.Fprintf(&b, "- %s\n", describe(idx.nodes[id]))
			for _, gid := range idx.children[id] {
				fmt.Fprintf(&b, "  - %s\n", describe(idx.nodes[gid]))
			}
		}
	}

	var rels []string
	for _, e := range idx.outgoing[nodeID] {
		if e.EdgeType == models.EdgeHierarchy {
			continue
		}
		if other, ok := idx.nodes[e.Target]; ok {
			rels = append(rels, fmt.Sprintf("- %s -> %s", e.EdgeType, describe(other)))
		}
	}
	for _, e := range idx.incoming[nodeID] {
		if e.EdgeType == models.EdgeHierarchy {
			continue
		}
		if other, ok := idx.nodes[e.Source]; ok {
			rels = append(rels, fmt.Sprintf("- %s <- %s", e.EdgeType, describe(other)))
		}
	}
	if len(rels) > 0 {
		b.WriteString("\nRelationships:\n")
		b.WriteString(strings.Join(rels, "\n"))
		b.WriteString("\n")
	}

	return b.String()
}

func describe(n *models.PlanNode) string {
	return fmt.Sprintf("[%s] %s", n.Type, n.Title)
}
