package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// ReplyKind tags why a model reply was rejected.
type ReplyKind int

// Reply failure kinds.
const (
	ReplyMalformed ReplyKind = iota + 1
	ReplyMissingField
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyMalformed:
		return "malformed"
	case ReplyMissingField:
		return "missing_field"
	default:
		return "unknown"
	}
}

// Sentinels matched by ReplyError through errors.Is.
var (
	ErrMalformedReply = errors.New("malformed model reply")
	ErrMissingField   = errors.New("model reply missing required field")
)

// ReplyError describes a reply that could not be turned into a result.
type ReplyError struct {
	Err   error
	Field string
	Kind  ReplyKind
}

func (e *ReplyError) Error() string {
	if e.Kind == ReplyMissingField {
		return fmt.Sprintf("model reply missing required field %q", e.Field)
	}
	return fmt.Sprintf("malformed model reply: %v", e.Err)
}

func (e *ReplyError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *ReplyError) Is(target error) bool {
	switch target {
	case ErrMalformedReply:
		return e.Kind == ReplyMalformed
	case ErrMissingField:
		return e.Kind == ReplyMissingField
	}
	return false
}

const defaultReasoning = "AI classification"

// reply is the JSON object the model is instructed to return.
type reply struct {
	Confidence   *float64 `json:"confidence"`
	IsBusiness   *bool    `json:"isBusiness"`
	CategoryID   string   `json:"categoryId" validate:"required"`
	CategoryName string   `json:"categoryName" validate:"required"`
	Reasoning    string   `json:"reasoning"`
}

var replyValidator = validator.New(validator.WithRequiredStructEnabled())

// ParseReply validates a raw model reply. Markdown code fences are ignored.
// Missing confidence defaults to 0.5 and is clamped into [0,1]; missing
// isBusiness defaults to false. CategoryID in the result is left nil: ids are
// resolved from the catalog by name, never taken from the model.
func ParseReply(content string) (model.ClassificationResult, error) {
	clean := cleanModelJSON(content)
	if !strings.HasPrefix(clean, "{") {
		return model.ClassificationResult{}, &ReplyError{Kind: ReplyMalformed, Err: fmt.Errorf("reply is not a JSON object")}
	}

	var r reply
	if err := json.Unmarshal([]byte(clean), &r); err != nil {
		return model.ClassificationResult{}, &ReplyError{Kind: ReplyMalformed, Err: err}
	}

	r.CategoryID = strings.TrimSpace(r.CategoryID)
	r.CategoryName = strings.TrimSpace(r.CategoryName)
	if err := replyValidator.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.ClassificationResult{}, &ReplyError{Kind: ReplyMissingField, Field: jsonFieldName(verrs[0].Field()), Err: err}
		}
		return model.ClassificationResult{}, &ReplyError{Kind: ReplyMalformed, Err: err}
	}

	confidence := 0.5
	if r.Confidence != nil {
		confidence = *r.Confidence
	}
	isBusiness := false
	if r.IsBusiness != nil {
		isBusiness = *r.IsBusiness
	}
	reasoning := strings.TrimSpace(r.Reasoning)
	if reasoning == "" {
		reasoning = defaultReasoning
	}

	return model.ClassificationResult{
		CategoryName: r.CategoryName,
		Confidence:   model.ClampConfidence(confidence),
		IsBusiness:   isBusiness,
		Reasoning:    reasoning,
		Source:       model.SourceAI,
	}, nil
}

func jsonFieldName(structField string) string {
	switch structField {
	case "CategoryID":
		return "categoryId"
	case "CategoryName":
		return "categoryName"
	default:
		return structField
	}
}

// cleanModelJSON strips ```json fences and any prose around the object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}

	if !strings.HasPrefix(s, "{") {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start != -1 && end > start {
			s = s[start : end+1]
		}
	}
	return s
}
