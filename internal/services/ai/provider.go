package ai

import (
	"context"

	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/planmerge"
)

// AIProvider is the text-generation boundary
type AIProvider interface {
	// GeneratePlan runs one planning turn over the conversation and returns the
	// parsed plan proposal. A response that does not match the plan schema is an error.
	GeneratePlan(ctx context.Context, history []ChatMessage, systemInstruction string) (*PlanResponse, error)

	// GenerateDocument writes a PRD or implementation prompt for a node from its context summary
	GenerateDocument(ctx context.Context, kind models.AttachmentKind, nodeContext string) (string, error)
}

// DisabledProvider stands in when no API key is configured. Every call fails
// with ErrProviderDisabled so the rest of the API keeps working.
type DisabledProvider struct{}

// GeneratePlan implements AIProvider
func (DisabledProvider) GeneratePlan(context.Context, []ChatMessage, string) (*PlanResponse, error) {
	return nil, ErrProviderDisabled
}

// GenerateDocument implements AIProvider
func (DisabledProvider) GenerateDocument(context.Context, models.AttachmentKind, string) (string, error) {
	return "", ErrProviderDisabled
}

var _ AIProvider = DisabledProvider{}

// ChatMessage represents a message in a chat conversation
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PlanResponse is the planner's structured reply
type PlanResponse = planmerge.Response

// ProviderFactory creates an AI provider based on the provider type
type ProviderFactory func(config map[string]string) (AIProvider, error)

// ProviderRegistry stores available AI providers
type ProviderRegistry struct {
	providers map[string]ProviderFactory
}

// NewProviderRegistry creates a new provider registry
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]ProviderFactory),
	}
}

// Register registers a provider factory
func (r *ProviderRegistry) Register(name string, factory ProviderFactory) {
	r.providers[name] = factory
}

// GetProvider gets a provider by name
func (r *ProviderRegistry) GetProvider(name string, config map[string]string) (AIProvider, error) {
	factory, ok := r.providers[name]
	if !ok {
		return nil, &ErrProviderNotFound{Name: name}
	}

	return factory(config)
}

// ErrProviderNotFound is returned when a provider is not found
type ErrProviderNotFound struct {
	Name string
}

func (e *ErrProviderNotFound) Error() string {
	return "AI provider not found: " + e.Name
}
