// Package planmerge folds AI-proposed node fragments into a project's node list.
package planmerge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/benvon/visionpath/internal/graph"
	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/validation"
)

// Fragment is a node as proposed by the planner
type Fragment struct {
	ID          string          `json:"id" validate:"required,max=200"`
	Type        models.NodeType `json:"type" validate:"required,plan_node_type"`
	Title       string          `json:"title" validate:"required,max=500"`
	Description string          `json:"description" validate:"max=20000"`
	ParentID    *string         `json:"parentId"`
	Questions   []string        `json:"questions,omitempty" validate:"omitempty,dive,max=2000"`
}

// Response is one parsed planner turn
type Response struct {
	Message        string     `json:"message"`
	Nodes          []Fragment `json:"nodes"`
	SuggestedTitle *string    `json:"suggestedTitle"`
	Done           bool       `json:"done"`

	// positions maps Nodes back to the decoded array; malformed holds the
	// elements that did not decode as a Fragment
	positions []int
	malformed []Rejection
}

// UnmarshalJSON decodes the envelope strictly and each node on its own. A node
// that does not decode as a Fragment is kept as a rejection at its array index
// and the other fragments still merge.
func (r *Response) UnmarshalJSON(data []byte) error {
	var env struct {
		Message        string            `json:"message"`
		Nodes          []json.RawMessage `json:"nodes"`
		SuggestedTitle *string           `json:"suggestedTitle"`
		Done           bool              `json:"done"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	*r = Response{Message: env.Message, SuggestedTitle: env.SuggestedTitle, Done: env.Done}
	if env.Nodes == nil {
		return nil
	}
	r.Nodes = make([]Fragment, 0, len(env.Nodes))
	r.positions = make([]int, 0, len(env.Nodes))
	for i, raw := range env.Nodes {
		var f Fragment
		if err := json.Unmarshal(raw, &f); err != nil {
			r.malformed = append(r.malformed, Rejection{Index: i, ID: rawFragmentID(raw), Reason: "malformed node: " + err.Error()})
			continue
		}
		r.Nodes = append(r.Nodes, f)
		r.positions = append(r.positions, i)
	}
	return nil
}

// rawFragmentID returns the string id of an undecodable node, if it has one
func rawFragmentID(raw json.RawMessage) string {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	var id string
	if json.Unmarshal(raw, &head) != nil || json.Unmarshal(head.ID, &id) != nil {
		return ""
	}
	return strings.TrimSpace(id)
}

// withDecodeRejections reports merge rejections at their positions in the
// decoded array, together with the nodes that failed to decode
func (r *Response) withDecodeRejections(merged []Rejection) []Rejection {
	out := make([]Rejection, 0, len(merged)+len(r.malformed))
	remap := len(r.positions) == len(r.Nodes)
	for _, rej := range merged {
		if remap && rej.Index >= 0 && rej.Index < len(r.positions) {
			rej.Index = r.positions[rej.Index]
		}
		out = append(out, rej)
	}
	out = append(out, r.malformed...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Rejection explains why a fragment was not merged
type Rejection struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// Result is the outcome of a merge
type Result struct {
	Nodes    []models.PlanNode `json:"-"`
	Inserted []string          `json:"inserted"`
	Updated  []string          `json:"updated"`
	Rejected []Rejection       `json:"rejected"`
	// Orphans are nodes whose parentId does not resolve after the whole batch is applied
	Orphans []string `json:"orphans"`
}

// Changed reports whether the merge inserted or updated anything
func (r Result) Changed() bool {
	return len(r.Inserted) > 0 || len(r.Updated) > 0
}

// Merge applies batch to a copy of nodes. Existing ids are updated in place,
// keeping fields the planner does not send (status, attachments, assignee and
// the rest); new ids are appended as not_started. Nothing is deleted. A fragment
// that fails validation is rejected on its own and the rest still apply.
// Parents may be forward-referenced within the batch. A fragment whose parent
// chain leads back to itself is rejected.
func Merge(nodes []models.PlanNode, batch []Fragment) Result {
	res := Result{
		Nodes:    make([]models.PlanNode, 0, len(nodes)+len(batch)),
		Inserted: []string{},
		Updated:  []string{},
		Rejected: []Rejection{},
		Orphans:  []string{},
	}
	for _, n := range nodes {
		res.Nodes = append(res.Nodes, n.Clone())
	}

	pos := make(map[string]int, len(res.Nodes))
	for i, n := range res.Nodes {
		pos[n.ID] = i
	}
	inserted := map[string]bool{}

	for i, frag := range batch {
		frag = normalize(frag)
		if err := check(frag); err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, ID: frag.ID, Reason: err.Error()})
			continue
		}
		if frag.ParentID != nil && reachesSelf(res.Nodes, pos, *frag.ParentID, frag.ID) {
			res.Rejected = append(res.Rejected, Rejection{
				Index:  i,
				ID:     frag.ID,
				Reason: fmt.Sprintf("parent %q is a descendant of %q", *frag.ParentID, frag.ID),
			})
			continue
		}

		if at, ok := pos[frag.ID]; ok {
			update(&res.Nodes[at], frag)
			if !inserted[frag.ID] && !contains(res.Updated, frag.ID) {
				res.Updated = append(res.Updated, frag.ID)
			}
			continue
		}

		pos[frag.ID] = len(res.Nodes)
		res.Nodes = append(res.Nodes, insert(frag))
		res.Inserted = append(res.Inserted, frag.ID)
		inserted[frag.ID] = true
	}

	res.Orphans = graph.OrphanIDs(&models.Project{Nodes: res.Nodes})
	return res
}

func normalize(f Fragment) Fragment {
	f.ID = strings.TrimSpace(f.ID)
	f.Title = validation.SanitizeText(f.Title)
	f.Description = validation.SanitizeText(f.Description)
	if f.ParentID != nil {
		p := strings.TrimSpace(*f.ParentID)
		if p == "" {
			f.ParentID = nil
		} else {
			f.ParentID = &p
		}
	}
	return f
}

func check(f Fragment) error {
	if err := validation.Struct(f); err != nil {
		return err
	}
	if f.ParentID != nil && *f.ParentID == f.ID {
		return fmt.Errorf("node %q cannot be its own parent", f.ID)
	}
	if f.ParentID == nil && f.Type != models.NodeTypeGoal {
		return fmt.Errorf("%s %q requires a parentId", f.Type, f.ID)
	}
	return nil
}

// reachesSelf walks the parent chain starting at parentID and reports whether it reaches id
func reachesSelf(nodes []models.PlanNode, pos map[string]int, parentID, id string) bool {
	seen := map[string]bool{}
	for cur := parentID; !seen[cur]; {
		if cur == id {
			return true
		}
		seen[cur] = true
		at, ok := pos[cur]
		if !ok || nodes[at].ParentID == nil {
			return false
		}
		cur = *nodes[at].ParentID
	}
	return false
}

func update(n *models.PlanNode, f Fragment) {
	n.Type = f.Type
	n.Title = f.Title
	n.Description = f.Description
	n.ParentID = f.ParentID
	if f.Questions != nil {
		n.Questions = mergeQuestions(n.Questions, f.Questions)
	}
}

func insert(f Fragment) models.PlanNode {
	n := models.PlanNode{
		ID:          f.ID,
		Type:        f.Type,
		Title:       f.Title,
		Description: f.Description,
		Status:      models.NodeStatusNotStarted,
		ParentID:    f.ParentID,
		Questions:   mergeQuestions(nil, f.Questions),
		Attachments: []models.Attachment{},
	}
	return n
}

// mergeQuestions replaces the question list, carrying over answers to questions whose text is unchanged
func mergeQuestions(existing []models.QAItem, questions []string) []models.QAItem {
	answers := make(map[string]string, len(existing))
	for _, q := range existing {
		if q.Answered() {
			answers[q.Question] = q.Answer
		}
	}
	out := make([]models.QAItem, 0, len(questions))
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, models.QAItem{Question: q, Answer: answers[q]})
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var placeholderTitles = map[string]bool{
	"":                true,
	"untitled project": true,
	"new project":      true,
	"untitled":         true,
}

// IsPlaceholderTitle reports whether title is empty or a default name
func IsPlaceholderTitle(title string) bool {
	return placeholderTitles[strings.ToLower(strings.TrimSpace(title))]
}

// ResolveTitle returns suggested when current is a placeholder and suggested is non-empty
func ResolveTitle(current string, suggested *string) string {
	if suggested == nil {
		return current
	}
	s := validation.SanitizeText(*suggested)
	if s == "" || !IsPlaceholderTitle(current) {
		return current
	}
	return s
}

// Apply merges a parsed planner response into project. This is the only path
// by which planner output mutates a project. The project is modified only after
// the whole response has been merged.
func Apply(project *models.Project, resp *Response, now time.Time) (Result, error) {
	if project == nil {
		return Result{}, fmt.Errorf("failed to apply plan: project is nil")
	}
	if resp == nil {
		return Result{}, fmt.Errorf("failed to apply plan: response is nil")
	}

	res := Merge(project.Nodes, resp.Nodes)
	res.Rejected = resp.withDecodeRejections(res.Rejected)
	title := ResolveTitle(project.Title, resp.SuggestedTitle)

	if res.Changed() || title != project.Title {
		project.Nodes = res.Nodes
		project.Title = title
		project.UpdatedAt = now
	}
	return res, nil
}
