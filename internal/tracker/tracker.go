// Package tracker mirrors plan nodes into an external issue tracker.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/benvon/visionpath/internal/graph"
	"github.com/benvon/visionpath/internal/models"
)

// ErrIssueNotFound is returned when an external issue no longer exists
var ErrIssueNotFound = errors.New("issue not found")

// Issue is the tracker-side representation of a plan node
type Issue struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	State       string   `json:"state"`
	Labels      []string `json:"labels"`
	Assignee    string   `json:"assignee,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	Estimate    *float64 `json:"estimate_hours,omitempty"`
}

// Client creates and updates issues in an external tracker
type Client interface {
	CreateIssue(ctx context.Context, issue Issue) (string, error)
	UpdateIssue(ctx context.Context, externalID string, issue Issue) error
}

// StatusError is a non-success response from the tracker
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracker returned status %d: %s", e.StatusCode, e.Body)
}

// Syncable reports whether a node is mirrored as an issue. Goals and
// subgoals become labels on their descendants instead.
func Syncable(n *models.PlanNode) bool {
	return n.Type == models.NodeTypeFeature || n.Type == models.NodeTypeTask
}

// State maps a node status to a tracker state
func State(s models.NodeStatus) string {
	switch s {
	case models.NodeStatusInProgress:
		return "in_progress"
	case models.NodeStatusCompleted:
		return "closed"
	case models.NodeStatusBlocked:
		return "blocked"
	default:
		return "open"
	}
}

// IssueFromNode renders node n of project p as an issue
func IssueFromNode(p *models.Project, n *models.PlanNode) Issue {
	issue := Issue{
		Title:    n.Title,
		State:    State(n.Status),
		Estimate: n.Estimate,
	}

	var b strings.Builder
	if chain := graph.AncestorChain(n.ID, p.Nodes); len(chain) > 0 {
		titles := make([]string, len(chain))
		for i, a := range chain {
			titles[i] = a.Title
		}
		fmt.Fprintf(&b, "Path: %s\n\n", strings.Join(titles, " > "))
	}
	b.WriteString(n.Description)
	if answered := answeredQuestions(n); answered != "" {
		b.WriteString("\n\n")
		b.WriteString(answered)
	}
	issue.Description = strings.TrimSpace(b.String())

	labels := map[string]bool{"visionpath": true, "type:" + string(n.Type): true}
	if n.Priority != "" {
		labels["priority:"+string(n.Priority)] = true
	}
	for _, t := range n.Tags {
		if t = strings.TrimSpace(t); t != "" {
			labels[t] = true
		}
	}
	for l := range labels {
		issue.Labels = append(issue.Labels, l)
	}
	sort.Strings(issue.Labels)

	if n.AssigneeID != nil {
		for _, m := range p.Team {
			if m.ID == *n.AssigneeID {
				issue.Assignee = m.Email
				if issue.Assignee == "" {
					issue.Assignee = m.Name
				}
			}
		}
	}
	if n.DueDate != nil {
		issue.DueDate = n.DueDate.Format("2006-01-02")
	}
	return issue
}

func answeredQuestions(n *models.PlanNode) string {
	var b strings.Builder
	for _, q := range n.Questions {
		if q.Answered() {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", q.Question, q.Answer)
		}
	}
	return strings.TrimSpace(b.String())
}
