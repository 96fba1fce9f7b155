package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	domain "github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
)

// jsonObjectRegex extracts a JSON object when the reply is wrapped in markdown.
var jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")

// Violation is one way a candidate report breaks the report schema.
type Violation struct {
	Field  string `json:"field"`
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Detail
	}
	return v.Field + ": " + v.Detail
}

// ValidationError lists every violation found in one candidate.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "candidate report violates schema: " + strings.Join(parts, "; ")
}

// SchemaValidator checks the model's final output against the report schema
// before anything is assembled from it.
type SchemaValidator struct {
	v *validator.Validate
}

func NewSchemaValidator() *SchemaValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &SchemaValidator{v: v}
}

// Validate decodes raw strictly and applies the field rules. A schema problem
// is returned as *ValidationError.
func (s *SchemaValidator) Validate(raw string) (domain.Candidate, error) {
	body := extractJSON(raw)

	var c domain.Candidate
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return domain.Candidate{}, &ValidationError{Violations: []Violation{decodeViolation(err)}}
	}
	if dec.More() {
		return domain.Candidate{}, &ValidationError{Violations: []Violation{{Rule: "json", Detail: "trailing data after the report object"}}}
	}

	for i := range c.Issues {
		c.Issues[i].Severity = domain.NormalizeSeverityLabel(c.Issues[i].Severity)
	}

	if err := s.v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return domain.Candidate{}, fmt.Errorf("validate candidate: %w", err)
		}
		out := &ValidationError{}
		for _, fe := range verrs {
			out.Violations = append(out.Violations, fieldViolation(fe))
		}
		return domain.Candidate{}, out
	}
	return c, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if m := jsonObjectRegex.FindStringSubmatch(raw); len(m) > 1 {
			return m[1]
		}
	}
	if !strings.HasPrefix(raw, "{") {
		first, last := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
		if first != -1 && last > first {
			return raw[first : last+1]
		}
	}
	return raw
}

func decodeViolation(err error) Violation {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return Violation{
			Field:  typeErr.Field,
			Rule:   "type",
			Detail: fmt.Sprintf("expected %s, got JSON %s", typeErr.Type, typeErr.Value),
		}
	}
	if msg := err.Error(); strings.HasPrefix(msg, "json: unknown field") {
		return Violation{Rule: "unknown_field", Detail: strings.TrimPrefix(msg, "json: ")}
	}
	return Violation{Rule: "json", Detail: "output is not a valid JSON object: " + err.Error()}
}

func fieldViolation(fe validator.FieldError) Violation {
	field := strings.TrimPrefix(fe.Namespace(), "Candidate.")
	var detail string
	switch fe.Tag() {
	case "required":
		detail = "is required"
	case "gte":
		detail = fmt.Sprintf("must be >= %s (got %v)", fe.Param(), fe.Value())
	case "lte":
		detail = fmt.Sprintf("must be <= %s (got %v)", fe.Param(), fe.Value())
	case "oneof":
		detail = fmt.Sprintf("must be one of [%s] (got %q)", fe.Param(), fe.Value())
	default:
		detail = fmt.Sprintf("failed %s %s", fe.Tag(), fe.Param())
	}
	return Violation{Field: field, Rule: fe.Tag(), Detail: detail}
}
