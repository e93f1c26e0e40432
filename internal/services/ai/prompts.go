package ai

import (
	"fmt"
	"strings"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/planmerge"
)

const planSchema = `Respond with a single JSON object and nothing else:
{
  "message": string,            // what you say to the user
  "nodes": [                    // nodes to add or update; may be empty
    {
      "id": string,             // stable id; reuse an existing id to update that node
      "type": "goal" | "subgoal" | "feature" | "task",
      "title": string,
      "description": string,
      "parentId": string | null, // null only for goals
      "questions": [string]      // optional clarifying questions
    }
  ],
  "suggestedTitle": string | null,
  "done": boolean               // true once the plan is comprehensive
}
Send parents before their children. Never delete nodes; omit nodes you are not changing.`

// BuildPlanningInstruction builds the system instruction for a planning turn,
// including an outline of the current plan so the model can reuse ids.
func BuildPlanningInstruction(project *models.Project, phase planmerge.Phase) string {
	var b strings.Builder
	b.WriteString("You are a project planning assistant. You turn a user's idea into a hierarchy of goals, subgoals, features and tasks.\n\n")

	switch phase {
	case planmerge.PhaseOnboarding, planmerge.PhaseGreeting:
		b.WriteString("The conversation is just starting. Greet the user briefly, restate the idea, and propose the top-level goals.\n\n")
	case planmerge.PhasePlanning:
		b.WriteString("Keep refining the plan. Break goals into subgoals, features and tasks, a few nodes per turn.\n\n")
	case planmerge.PhaseDone:
		b.WriteString("The plan is complete. Apply the user's requested edits and keep done set to true.\n\n")
	}

	if project != nil {
		if project.Title != "" && !planmerge.IsPlaceholderTitle(project.Title) {
			fmt.Fprintf(&b, "Project title: %s\n", project.Title)
		} else {
			b.WriteString("The project has no title yet; include a suggestedTitle.\n")
		}
		if project.Description != "" {
			fmt.Fprintf(&b, "Project description: %s\n", project.Description)
		}
		if outline := Outline(project.Nodes); outline != "" {
			b.WriteString("\nCurrent plan:\n")
			b.WriteString(outline)
		}
		b.WriteString("\n")
	}

	b.WriteString(planSchema)
	return b.String()
}

// Outline renders nodes as an indented tree of "[type] id: title (status)" lines
func Outline(nodes []models.PlanNode) string {
	ids := make(map[string]bool, len(nodes))
	children := make(map[string][]int)
	var roots []int
	for _, n := range nodes {
		ids[n.ID] = true
	}
	for i, n := range nodes {
		if n.ParentID == nil || !ids[*n.ParentID] {
			roots = append(roots, i)
			continue
		}
		children[*n.ParentID] = append(children[*n.ParentID], i)
	}

	type frame struct {
		idx   int
		depth int
	}
	var b strings.Builder
	seen := make(map[string]bool, len(nodes))
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{idx: roots[i]})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := nodes[f.idx]
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		fmt.Fprintf(&b, "%s- [%s] %s: %s (%s)\n", strings.Repeat("  ", f.depth), n.Type, n.ID, n.Title, n.Status)
		kids := children[n.ID]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{idx: kids[i], depth: f.depth + 1})
		}
	}
	return b.String()
}

// DocumentInstruction returns the system instruction for generating an attachment of kind
func DocumentInstruction(kind models.AttachmentKind) (string, error) {
	switch kind {
	case models.AttachmentPRD:
		return "You write concise product requirement documents in Markdown. " +
			"Use the sections Overview, Goals, User Stories, Requirements, Out of Scope and Open Questions. " +
			"Base everything on the node context provided; do not invent unrelated scope.", nil
	case models.AttachmentPrompt:
		return "You write implementation prompts for a coding assistant. " +
			"Describe the task, its constraints, acceptance criteria and relevant context from the plan in plain Markdown.", nil
	default:
		return "", fmt.Errorf("cannot generate a document of kind %q", kind)
	}
}
