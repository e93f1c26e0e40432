package models

import "time"

// NodeType is the kind of planning item a node represents
type NodeType string

const (
	NodeTypeGoal      NodeType = "goal"
	NodeTypeSubgoal   NodeType = "subgoal"
	NodeTypeFeature   NodeType = "feature"
	NodeTypeTask      NodeType = "task"
	NodeTypeMoodboard NodeType = "moodboard"
	NodeTypeNotes     NodeType = "notes"
	NodeTypeConnector NodeType = "connector"
)

// NodeTypes lists every node type in hierarchy order
var NodeTypes = []NodeType{
	NodeTypeGoal,
	NodeTypeSubgoal,
	NodeTypeFeature,
	NodeTypeTask,
	NodeTypeMoodboard,
	NodeTypeNotes,
	NodeTypeConnector,
}

// IsValid reports whether t is a known node type
func (t NodeType) IsValid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsPlanType reports whether t is one of the types the AI planner may propose
func (t NodeType) IsPlanType() bool {
	switch t {
	case NodeTypeGoal, NodeTypeSubgoal, NodeTypeFeature, NodeTypeTask:
		return true
	default:
		return false
	}
}

// NodeStatus represents the progress state of a node
type NodeStatus string

const (
	NodeStatusNotStarted NodeStatus = "not_started"
	NodeStatusInProgress NodeStatus = "in_progress"
	NodeStatusCompleted  NodeStatus = "completed"
	NodeStatusBlocked    NodeStatus = "blocked"
)

// IsValid reports whether s is a known node status
func (s NodeStatus) IsValid() bool {
	switch s {
	case NodeStatusNotStarted, NodeStatusInProgress, NodeStatusCompleted, NodeStatusBlocked:
		return true
	default:
		return false
	}
}

// Priority is the user-assigned importance of a node
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid reports whether p is a known priority. The empty priority is valid (unset).
func (p Priority) IsValid() bool {
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// AttachmentKind identifies what an attachment holds
type AttachmentKind string

const (
	AttachmentPRD    AttachmentKind = "prd"
	AttachmentPrompt AttachmentKind = "prompt"
	AttachmentImage  AttachmentKind = "image"
	AttachmentLink   AttachmentKind = "link"
)

// QAItem is a clarifying question attached to a node, with the user's answer once given
type QAItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

// Answered reports whether the question has a non-empty answer
func (q QAItem) Answered() bool {
	return q.Answer != ""
}

// Attachment is a document, prompt or image owned by a node
type Attachment struct {
	ID        string         `json:"id"`
	Kind      AttachmentKind `json:"kind"`
	Title     string         `json:"title"`
	Content   string         `json:"content,omitempty"`
	URL       string         `json:"url,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Comment is a user remark on a node
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// PlanNode is a single planning item in a project's hierarchy
type PlanNode struct {
	ID          string       `json:"id"`
	Type        NodeType     `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      NodeStatus   `json:"status"`
	ParentID    *string      `json:"parentId"`
	Collapsed   bool         `json:"collapsed"`
	Questions   []QAItem     `json:"questions"`
	Attachments []Attachment `json:"attachments,omitempty"`
	AssigneeID  *string      `json:"assigneeId,omitempty"`
	Priority    Priority     `json:"priority,omitempty"`
	DueDate     *time.Time   `json:"dueDate,omitempty"`
	Estimate    *float64     `json:"estimate,omitempty"` // hours
	Tags        []string     `json:"tags,omitempty"`
	Comments    []Comment    `json:"comments,omitempty"`
}

// IsRoot reports whether the node has no parent
func (n *PlanNode) IsRoot() bool {
	return n.ParentID == nil
}

// HasParent reports whether the node's parent is id
func (n *PlanNode) HasParent(id string) bool {
	return n.ParentID != nil && *n.ParentID == id
}

// Clone returns a deep copy of the node
func (n PlanNode) Clone() PlanNode {
	out := n
	if n.ParentID != nil {
		p := *n.ParentID
		out.ParentID = &p
	}
	if n.AssigneeID != nil {
		a := *n.AssigneeID
		out.AssigneeID = &a
	}
	if n.DueDate != nil {
		d := *n.DueDate
		out.DueDate = &d
	}
	if n.Estimate != nil {
		e := *n.Estimate
		out.Estimate = &e
	}
	out.Questions = cloneSlice(n.Questions)
	out.Attachments = cloneSlice(n.Attachments)
	out.Tags = cloneSlice(n.Tags)
	out.Comments = cloneSlice(n.Comments)
	return out
}

// cloneSlice copies s, keeping nil and empty distinct
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
