package models

import "time"

// EdgeType is the relationship an edge expresses between two nodes
type EdgeType string

const (
	EdgeHierarchy  EdgeType = "hierarchy"
	EdgeBlocks     EdgeType = "blocks"
	EdgeDependsOn  EdgeType = "depends_on"
	EdgeInforms    EdgeType = "informs"
	EdgeDefines    EdgeType = "defines"
	EdgeImplements EdgeType = "implements"
	EdgeReferences EdgeType = "references"
	EdgeSupersedes EdgeType = "supersedes"
)

// IsValid reports whether t is a known edge type
func (t EdgeType) IsValid() bool {
	switch t {
	case EdgeHierarchy, EdgeBlocks, EdgeDependsOn, EdgeInforms, EdgeDefines, EdgeImplements, EdgeReferences, EdgeSupersedes:
		return true
	default:
		return false
	}
}

// ProjectEdge is an explicit typed relationship between two nodes
type ProjectEdge struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	EdgeType EdgeType `json:"edgeType"`
	Label    string   `json:"label,omitempty"`
}

// ProjectPhase is the lifecycle stage of a project
type ProjectPhase string

const (
	// ProjectPhasePlanning is an unsaved draft being built in chat
	ProjectPhasePlanning ProjectPhase = "planning"
	// ProjectPhaseActive is a saved project
	ProjectPhaseActive ProjectPhase = "active"
)

// TeamMember is a collaborator that nodes can be assigned to
type TeamMember struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// TrackerLink records where a project is mirrored in an external issue tracker
type TrackerLink struct {
	Provider     string            `json:"provider"`
	ExternalRefs map[string]string `json:"externalRefs"` // node id -> external issue id
	LastSyncedAt *time.Time        `json:"lastSyncedAt,omitempty"`
}

// Project is the aggregate owning a plan graph
type Project struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"ownerId"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Phase       ProjectPhase  `json:"phase"`
	Nodes       []PlanNode    `json:"nodes"`
	Edges       []ProjectEdge `json:"edges"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Team        []TeamMember  `json:"team,omitempty"`
	IsPublic    bool          `json:"isPublic,omitempty"`
	ShareID     *string       `json:"shareId,omitempty"`
	Tracker     *TrackerLink  `json:"tracker,omitempty"`
}

// NodeByID returns the node with the given id, or nil
func (p *Project) NodeByID(id string) *PlanNode {
	for i := range p.Nodes {
		if p.Nodes[i].ID == id {
			return &p.Nodes[i]
		}
	}
	return nil
}

// EdgeByID returns the edge with the given id, or nil
func (p *Project) EdgeByID(id string) *ProjectEdge {
	for i := range p.Edges {
		if p.Edges[i].ID == id {
			return &p.Edges[i]
		}
	}
	return nil
}

// HasMember reports whether a team member with id exists
func (p *Project) HasMember(id string) bool {
	for _, m := range p.Team {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the project
func (p *Project) Clone() *Project {
	out := *p
	if p.Nodes != nil {
		out.Nodes = make([]PlanNode, len(p.Nodes))
		for i, n := range p.Nodes {
			out.Nodes[i] = n.Clone()
		}
	}
	out.Edges = cloneSlice(p.Edges)
	out.Team = cloneSlice(p.Team)
	if p.ShareID != nil {
		s := *p.ShareID
		out.ShareID = &s
	}
	if p.Tracker != nil {
		t := *p.Tracker
		t.ExternalRefs = make(map[string]string, len(p.Tracker.ExternalRefs))
		for k, v := range p.Tracker.ExternalRefs {
			t.ExternalRefs[k] = v
		}
		if p.Tracker.LastSyncedAt != nil {
			ts := *p.Tracker.LastSyncedAt
			t.LastSyncedAt = &ts
		}
		out.Tracker = &t
	}
	return &out
}

// EnsureDefaults replaces nil collections with empty ones
func (p *Project) EnsureDefaults() {
	if p.Nodes == nil {
		p.Nodes = []PlanNode{}
	}
	if p.Edges == nil {
		p.Edges = []ProjectEdge{}
	}
	if p.Team == nil {
		p.Team = []TeamMember{}
	}
	for i := range p.Nodes {
		if p.Nodes[i].Questions == nil {
			p.Nodes[i].Questions = []QAItem{}
		}
		if p.Nodes[i].Attachments == nil {
			p.Nodes[i].Attachments = []Attachment{}
		}
	}
}
