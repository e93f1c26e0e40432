package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"github.com/benvon/visionpath/internal/models"
)

const (
	// DefaultOpenAIModel is the default model to use
	DefaultOpenAIModel = "gpt-4o-mini"
	// DefaultOpenAIBaseURL is the default OpenAI API base URL
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// DefaultTimeout is the default timeout for API calls
	DefaultTimeout = 60 * time.Second
)

// OpenAIProvider implements AIProvider on the chat completions API
type OpenAIProvider struct {
	client    openai.Client
	model     string
	logger    *zap.Logger
	debugMode bool
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string, model string) *OpenAIProvider {
	return NewOpenAIProviderWithLogger(apiKey, DefaultOpenAIBaseURL, model, nil, false)
}

// NewOpenAIProviderWithLogger creates a new OpenAI provider with logger support.
// The SDK's automatic retries are disabled; a failed call is reported to the caller.
func NewOpenAIProviderWithLogger(apiKey string, baseURL string, model string, logger *zap.Logger, debugMode bool) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{Timeout: DefaultTimeout}),
		option.WithMaxRetries(0),
	)

	return &OpenAIProvider{
		client:    client,
		model:     model,
		logger:    logger,
		debugMode: debugMode,
	}
}

// GeneratePlan sends the conversation with a JSON response format and parses the plan reply
func (p *OpenAIProvider) GeneratePlan(ctx context.Context, history []ChatMessage, systemInstruction string) (*PlanResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(systemInstruction))
	for _, msg := range history {
		switch msg.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	var lastUser string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != RoleAssistant {
			lastUser = history[i].Content
			break
		}
	}

	content, err := p.complete(ctx, "generate_plan", messages, lastUser, true)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}

	resp, err := ParsePlanResponse(content)
	if err != nil {
		p.logger.Warn("llm_plan_parse_failed",
			zap.String("model", p.model),
			zap.String("project_id", ExtractProjectID(ctx)),
			zap.String("response_preview", SanitizeResponse(content, false)),
			zap.Error(err),
		)
		return nil, err
	}
	return resp, nil
}

// GenerateDocument writes a PRD or prompt document in Markdown
func (p *OpenAIProvider) GenerateDocument(ctx context.Context, kind models.AttachmentKind, nodeContext string) (string, error) {
	instruction, err := DocumentInstruction(kind)
	if err != nil {
		return "", err
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(instruction),
		openai.UserMessage(nodeContext),
	}
	content, err := p.complete(ctx, "generate_"+string(kind), messages, nodeContext, false)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", kind, err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("failed to generate %s: %w", kind, ErrInvalidResponse)
	}
	return content, nil
}

// complete performs one chat completion call with request/response debug logging
// prompt is the user content logged in debug mode.
func (p *OpenAIProvider) complete(ctx context.Context, operation string, messages []openai.ChatCompletionMessageParamUnion, prompt string, jsonMode bool) (string, error) {
	req := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if jsonMode {
		req.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	requestID := ExtractRequestID(ctx)
	userID := ExtractUserID(ctx)
	projectID := ExtractProjectID(ctx)

	if p.debugMode {
		p.logger.Debug("llm_api_request",
			zap.String("operation", operation),
			zap.String("model", p.model),
			zap.Int("message_count", len(messages)),
			zap.String("prompt", SanitizePrompt(prompt, true)),
			zap.String("user_id", userID),
			zap.String("project_id", projectID),
			zap.String("request_id", requestID),
		)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, req)
	latency := time.Since(start)
	if err != nil {
		if p.debugMode {
			p.logger.Debug("llm_api_error",
				zap.String("operation", operation),
				zap.String("model", p.model),
				zap.Error(err),
				zap.String("user_id", userID),
				zap.String("project_id", projectID),
				zap.String("request_id", requestID),
				zap.Int64("latency_ms", latency.Milliseconds()),
			)
		}
		if apiErr := ExtractAPIError(err); apiErr != nil {
			return "", apiErr
		}
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	content := resp.Choices[0].Message.Content

	if p.debugMode {
		p.logger.Debug("llm_api_response",
			zap.String("operation", operation),
			zap.String("model", p.model),
			zap.Int("response_length", len(content)),
			zap.String("response_preview", SanitizeResponse(content, true)),
			zap.String("user_id", userID),
			zap.String("project_id", projectID),
			zap.String("request_id", requestID),
			zap.Int64("latency_ms", latency.Milliseconds()),
		)
	}
	return content, nil
}

// ParsePlanResponse decodes a plan reply. The reply must be one JSON object with
// a message and a nodes array; anything else is ErrInvalidResponse. Node
// elements that fail to decode are rejected one by one when the plan is applied.
func ParsePlanResponse(content string) (*PlanResponse, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if _, ok := fields["message"]; !ok {
		return nil, fmt.Errorf("%w: missing message", ErrInvalidResponse)
	}
	rawNodes, ok := fields["nodes"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawNodes), []byte("null")) {
		return nil, fmt.Errorf("%w: missing nodes", ErrInvalidResponse)
	}

	var resp PlanResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.SuggestedTitle != nil && strings.TrimSpace(*resp.SuggestedTitle) == "" {
		resp.SuggestedTitle = nil
	}
	return &resp, nil
}

// RegisterOpenAI registers the OpenAI provider with the registry
func RegisterOpenAI(registry *ProviderRegistry) {
	registry.Register("openai", func(config map[string]string) (AIProvider, error) {
		apiKey, ok := config["api_key"]
		if !ok || apiKey == "" {
			return nil, fmt.Errorf("openai api_key is required")
		}
		return NewOpenAIProviderWithLogger(apiKey, config["base_url"], config["model"], nil, false), nil
	})
}

var _ AIProvider = (*OpenAIProvider)(nil)
