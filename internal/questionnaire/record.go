package questionnaire

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// NotApplicable marks a field the conversation could not answer.
const NotApplicable = "N/A"

// Validation errors. A record failing validation is never persisted.
var (
	ErrInvalidJSON    = errors.New("record is not a JSON object")
	ErrMissingKey     = errors.New("record is missing a questionnaire key")
	ErrExtraKey       = errors.New("record contains a key outside the questionnaire")
	ErrNonStringValue = errors.New("record value is not a string")
)

// Record maps every catalog key to its answer.
type Record map[FieldKey]string

// Clone returns an independent copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Equal reports whether r and other hold the same keys and values.
func (r Record) Equal(other Record) bool {
	if len(r) != len(other) {
		return false
	}
	for k, v := range r {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// IsUnanswered reports whether value counts as no answer: empty, whitespace only,
// or "N/A" in any case.
func IsUnanswered(value string) bool {
	trimmed := strings.TrimSpace(value)
	return trimmed == "" || strings.EqualFold(trimmed, NotApplicable)
}

// recordSchema is the catalog rendered as a JSON schema: one required string property
// per question and nothing else.
type recordSchema struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

func newRecordSchema(c *Catalog) (*recordSchema, error) {
	props := make(map[string]*jsonschema.Schema, len(c.questions))
	required := make([]string, 0, len(c.questions))
	for _, q := range c.questions {
		props[string(q.Key)] = &jsonschema.Schema{
			Type:        "string",
			Description: q.Description,
		}
		required = append(required, string(q.Key))
	}
	schema := &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, err
	}
	return &recordSchema{schema: schema, resolved: resolved}, nil
}

// SchemaJSON returns the record schema as indented JSON, suitable for a prompt.
func (c *Catalog) SchemaJSON() (string, error) {
	data, err := json.MarshalIndent(c.schema.schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal record schema: %w", err)
	}
	return string(data), nil
}

// ExampleRecord returns a record whose values are the field descriptions. It shows
// the extraction model the exact shape it must return.
func (c *Catalog) ExampleRecord() Record {
	r := make(Record, len(c.questions))
	for _, q := range c.questions {
		r[q.Key] = q.Description
	}
	return r
}

// Validate checks that r holds exactly the catalog keys.
func (c *Catalog) Validate(r Record) error {
	if r == nil {
		return ErrInvalidJSON
	}
	instance := make(map[string]any, len(r))
	for k, v := range r {
		instance[string(k)] = v
	}
	return c.validateInstance(instance)
}

// ParseRecord decodes raw JSON into a record and validates it. Any deviation from the
// catalog schema rejects the whole object; nothing is partially trusted.
func (c *Catalog) ParseRecord(data []byte) (Record, error) {
	var instance map[string]any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if instance == nil {
		return nil, ErrInvalidJSON
	}
	if err := c.validateInstance(instance); err != nil {
		return nil, err
	}
	r := make(Record, len(instance))
	for k, v := range instance {
		r[FieldKey(k)] = v.(string)
	}
	return r, nil
}

func (c *Catalog) validateInstance(instance map[string]any) error {
	schemaErr := c.schema.resolved.Validate(instance)
	if schemaErr == nil {
		return nil
	}

	// Classify the violation so callers can tell the cases apart.
	var extra []string
	for k := range instance {
		if !c.Contains(FieldKey(k)) {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf("%w: %s", ErrExtraKey, strings.Join(extra, ", "))
	}
	for _, q := range c.questions {
		v, ok := instance[string(q.Key)]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingKey, q.Key)
		}
		if _, isString := v.(string); !isString {
			return fmt.Errorf("%w: %s", ErrNonStringValue, q.Key)
		}
	}
	return fmt.Errorf("record failed schema validation: %w", schemaErr)
}

// Normalize returns a record with exactly the catalog keys: values for catalog keys are
// copied from r, missing keys are empty and unknown keys are dropped.
func (c *Catalog) Normalize(r Record) Record {
	out := c.EmptyRecord()
	for k := range out {
		if v, ok := r[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Merge overlays the answered fields of update onto base. Fields that update leaves
// unanswered keep their base value, so a correct answer never regresses to "N/A".
func (c *Catalog) Merge(base, update Record) Record {
	out := c.Normalize(base)
	for k := range out {
		if v, ok := update[k]; ok && !IsUnanswered(v) {
			out[k] = v
		}
	}
	return out
}
