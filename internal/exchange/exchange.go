// Package exchange serializes projects to and from the portable JSON export format.
package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/benvon/visionpath/internal/models"
)

// FormatVersion is written to every export envelope
const FormatVersion = "1.0"

// DefaultImportTitle is used when an imported project has no title
const DefaultImportTitle = "Imported Project"

// ErrInvalidFormat is returned when data is neither an export envelope nor a project
var ErrInvalidFormat = errors.New("invalid project export format")

// AppInfo identifies the exporting application
type AppInfo struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
}

// Envelope is the top-level export document
type Envelope struct {
	App     AppInfo         `json:"_app"`
	Project *models.Project `json:"project"`
}

// Export encodes project in an envelope stamped with now
func Export(project *models.Project, now time.Time) ([]byte, error) {
	if project == nil {
		return nil, fmt.Errorf("failed to export project: project is nil")
	}
	env := Envelope{
		App:     AppInfo{Version: FormatVersion, ExportedAt: now.UTC()},
		Project: project,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return data, nil
}

// Import decodes an export envelope or a bare project. The result is a new
// project owned by ownerID: fresh id and timestamps, active phase, sharing and
// tracker links cleared, missing collections defaulted to empty. Self-edges and
// edges of unknown type are dropped.
func Import(data []byte, ownerID string, now time.Time) (*models.Project, error) {
	raw, err := unwrap(data)
	if err != nil {
		return nil, err
	}

	var p models.Project
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	if err := checkNodes(p.Nodes); err != nil {
		return nil, err
	}

	p.ID = uuid.NewString()
	p.OwnerID = ownerID
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Phase = models.ProjectPhaseActive
	p.IsPublic = false
	p.ShareID = nil
	p.Tracker = nil
	if p.Title == "" {
		p.Title = DefaultImportTitle
	}
	for i := range p.Nodes {
		if p.Nodes[i].Status == "" {
			p.Nodes[i].Status = models.NodeStatusNotStarted
		}
	}
	p.Edges = cleanEdges(p.Edges)
	p.EnsureDefaults()
	return &p, nil
}

// unwrap returns the project document, peeling the envelope if present
func unwrap(data []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	inner, hasProject := fields["project"]
	_, hasApp := fields["_app"]
	_, hasNodes := fields["nodes"]
	_, hasTitle := fields["title"]

	if hasApp || (hasProject && !hasNodes) {
		if !hasProject || bytes.Equal(bytes.TrimSpace(inner), []byte("null")) {
			return nil, fmt.Errorf("%w: envelope has no project", ErrInvalidFormat)
		}
		return inner, nil
	}
	if !hasNodes && !hasTitle {
		return nil, fmt.Errorf("%w: expected a project with nodes or title", ErrInvalidFormat)
	}
	return data, nil
}

func checkNodes(nodes []models.PlanNode) error {
	seen := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has no id", ErrInvalidFormat, i)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidFormat, n.ID)
		}
		seen[n.ID] = true
		if !n.Type.IsValid() {
			return fmt.Errorf("%w: node %q has unknown type %q", ErrInvalidFormat, n.ID, n.Type)
		}
		if n.Status != "" && !n.Status.IsValid() {
			return fmt.Errorf("%w: node %q has unknown status %q", ErrInvalidFormat, n.ID, n.Status)
		}
	}
	return nil
}

// cleanEdges drops self-edges and edges of an unknown type, which no project
// can hold. Edges whose ends are missing are kept: graph queries skip them and
// validation reports them, so an export of such a project imports unchanged.
func cleanEdges(edges []models.ProjectEdge) []models.ProjectEdge {
	out := make([]models.ProjectEdge, 0, len(edges))
	for _, e := range edges {
		if e.Source == e.Target || !e.EdgeType.IsValid() {
			continue
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		out = append(out, e)
	}
	return out
}
