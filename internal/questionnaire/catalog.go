// Package questionnaire defines the health-habit question catalog, the response record
// filled in during an interview, and the selection of the next unanswered question.
//
// The catalog is the single source of truth for the interview order and for the
// extraction schema: every record is validated against the catalog's key set.
package questionnaire

import (
	"errors"
	"fmt"
)

// FieldKey identifies one questionnaire item.
type FieldKey string

// Field keys of the default health-habit catalog.
const (
	FieldFruitsAndVegetablesPerDay        FieldKey = "fruitsAndVegetablesPerDay"
	FieldFastFoodPerWeek                  FieldKey = "fastFoodPerWeek"
	FieldWaterIntakePerDay                FieldKey = "waterIntakePerDay"
	FieldSugaryBeveragesPerDay            FieldKey = "sugaryBeveragesPerDay"
	FieldAlcoholPerWeek                   FieldKey = "alcoholPerWeek"
	FieldExerciseDaysPerWeek              FieldKey = "exerciseDaysPerWeek"
	FieldAverageExerciseDurationInMinutes FieldKey = "averageExerciseDurationInMinutes"
	FieldSleepHoursPerNight               FieldKey = "sleepHoursPerNight"
	FieldStressFrequencyPerWeek           FieldKey = "stressFrequencyPerWeek"
)

// CompletionSentinel is handed to the reply chain instead of a question once every
// field of the record has been answered.
const CompletionSentinel = "All questions have been answered."

// Errors returned while building a catalog.
var (
	ErrEmptyCatalog      = errors.New("question catalog is empty")
	ErrEmptyFieldKey     = errors.New("question key cannot be empty")
	ErrEmptyPrompt       = errors.New("question prompt cannot be empty")
	ErrDuplicateFieldKey = errors.New("duplicate question key")
)

// QuestionDefinition is one immutable catalog entry.
type QuestionDefinition struct {
	Key    FieldKey `json:"key"`
	Prompt string   `json:"prompt"`
	// Description is the example value shown to the extraction model for this field.
	Description string `json:"description"`
}

// Catalog is an ordered, immutable set of questions.
type Catalog struct {
	questions []QuestionDefinition
	index     map[FieldKey]int
	schema    *recordSchema
}

// NewCatalog builds a catalog from the given questions in order.
// An empty catalog is a configuration error.
func NewCatalog(questions ...QuestionDefinition) (*Catalog, error) {
	if len(questions) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		questions: make([]QuestionDefinition, 0, len(questions)),
		index:     make(map[FieldKey]int, len(questions)),
	}
	for _, q := range questions {
		if q.Key == "" {
			return nil, ErrEmptyFieldKey
		}
		if q.Prompt == "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyPrompt, q.Key)
		}
		if _, exists := c.index[q.Key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFieldKey, q.Key)
		}
		c.index[q.Key] = len(c.questions)
		c.questions = append(c.questions, q)
	}
	schema, err := newRecordSchema(c)
	if err != nil {
		return nil, fmt.Errorf("failed to build record schema: %w", err)
	}
	c.schema = schema
	return c, nil
}

// MustNewCatalog is like NewCatalog but panics on error. It is meant for catalogs
// defined at process start.
func MustNewCatalog(questions ...QuestionDefinition) *Catalog {
	c, err := NewCatalog(questions...)
	if err != nil {
		panic(fmt.Sprintf("questionnaire: invalid catalog: %v", err))
	}
	return c
}

// DefaultQuestions returns the nine health-habit questions used to estimate a premium.
func DefaultQuestions() []QuestionDefinition {
	return []QuestionDefinition{
		{
			Key:         FieldFruitsAndVegetablesPerDay,
			Prompt:      "How many fruits or vegetables do you eat per day?",
			Description: "Daily number of eaten fruits and vegetables",
		},
		{
			Key:         FieldFastFoodPerWeek,
			Prompt:      "On how many days do you consume fast food or junk food in a week?",
			Description: "Weekly frequency of consuming fast food or junk food (number of days)",
		},
		{
			Key:         FieldWaterIntakePerDay,
			Prompt:      "How many glasses of water do you drink per day?",
			Description: "Daily water intake in number of glasses",
		},
		{
			Key:         FieldSugaryBeveragesPerDay,
			Prompt:      "How many glasses of sugary beverages do you drink per day?",
			Description: "Daily intake sugary beverages in number of glasses",
		},
		{
			Key:         FieldAlcoholPerWeek,
			Prompt:      "On how many days do you consume alcohol in a week?",
			Description: "Weekly frequency of alcohol consumption (number of days)",
		},
		{
			Key:         FieldExerciseDaysPerWeek,
			Prompt:      "How many days per week do you exercise?",
			Description: "Days per week of exercise (number of days)",
		},
		{
			Key:         FieldAverageExerciseDurationInMinutes,
			Prompt:      "On average in minutes, how long is a typical exercise session when you train?",
			Description: "Average duration of each exercise session in minutes",
		},
		{
			Key:         FieldSleepHoursPerNight,
			Prompt:      "How many hours of sleep do you get on average per night?",
			Description: "Average hours of sleep per night",
		},
		{
			Key:         FieldStressFrequencyPerWeek,
			Prompt:      "On how many days do you feel stressed in a week?",
			Description: "Weekly frequency of feeling stressed (number of days)",
		},
	}
}

// DefaultCatalog returns the catalog of DefaultQuestions.
func DefaultCatalog() *Catalog {
	return MustNewCatalog(DefaultQuestions()...)
}

// Questions returns a copy of the catalog entries in order.
func (c *Catalog) Questions() []QuestionDefinition {
	out := make([]QuestionDefinition, len(c.questions))
	copy(out, c.questions)
	return out
}

// Keys returns the field keys in catalog order.
func (c *Catalog) Keys() []FieldKey {
	keys := make([]FieldKey, len(c.questions))
	for i, q := range c.questions {
		keys[i] = q.Key
	}
	return keys
}

// Len returns the number of questions.
func (c *Catalog) Len() int {
	return len(c.questions)
}

// Lookup returns the question for key.
func (c *Catalog) Lookup(key FieldKey) (QuestionDefinition, bool) {
	i, ok := c.index[key]
	if !ok {
		return QuestionDefinition{}, false
	}
	return c.questions[i], true
}

// Contains reports whether key belongs to the catalog.
func (c *Catalog) Contains(key FieldKey) bool {
	_, ok := c.index[key]
	return ok
}

// EmptyRecord returns a record holding every catalog key with an empty value.
func (c *Catalog) EmptyRecord() Record {
	r := make(Record, len(c.questions))
	for _, q := range c.questions {
		r[q.Key] = ""
	}
	return r
}
