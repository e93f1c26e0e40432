package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/benvon/visionpath/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate

	// ErrInvalid wraps every error returned by Struct
	ErrInvalid = errors.New("validation failed")
)

func init() {
	Validate = validator.New()

	register := map[string]validator.Func{
		"node_type":      validateNodeType,
		"plan_node_type": validatePlanNodeType,
		"node_status":    validateNodeStatus,
		"edge_type":      validateEdgeType,
		"priority":       validatePriority,
	}
	for tag, fn := range register {
		if err := Validate.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("failed to register %s validator: %v", tag, err))
		}
	}
}

func validateNodeType(fl validator.FieldLevel) bool {
	return models.NodeType(fl.Field().String()).IsValid()
}

// validatePlanNodeType accepts only the types an AI plan may propose
func validatePlanNodeType(fl validator.FieldLevel) bool {
	return models.NodeType(fl.Field().String()).IsPlanType()
}

func validateNodeStatus(fl validator.FieldLevel) bool {
	return models.NodeStatus(fl.Field().String()).IsValid()
}

func validateEdgeType(fl validator.FieldLevel) bool {
	return models.EdgeType(fl.Field().String()).IsValid()
}

func validatePriority(fl validator.FieldLevel) bool {
	return models.Priority(fl.Field().String()).IsValid()
}

// Struct validates s and flattens any field errors into a single readable error
func Struct(s interface{}) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	text = strings.TrimSpace(text)

	// Remove control characters except newline and tab
	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidateNodeStatus validates a NodeStatus string value
func ValidateNodeStatus(value string) error {
	if !models.NodeStatus(value).IsValid() {
		return fmt.Errorf("invalid status: %s (must be 'not_started', 'in_progress', 'completed', or 'blocked')", value)
	}
	return nil
}

// ValidateEdgeType validates an EdgeType string value
func ValidateEdgeType(value string) error {
	if !models.EdgeType(value).IsValid() {
		return fmt.Errorf("invalid edge type: %s", value)
	}
	return nil
}
