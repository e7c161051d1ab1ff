package quiz

import (
	"fmt"
	"slices"
	"strings"
)

// Question is a single quiz record.
type Question struct {
	ID          string
	Text        string
	Choices     []string
	Correct     int // index into Choices
	Explanation string
}

// CorrectChoice returns the text of the correct choice.
func (q Question) CorrectChoice() string {
	if q.Correct < 0 || q.Correct >= len(q.Choices) {
		return ""
	}
	return q.Choices[q.Correct]
}

func (q Question) clone() Question {
	q.Choices = slices.Clone(q.Choices)
	return q
}

// RawQuestion is a record as it comes out of a data source, before validation.
//
// The correct answer is given either by value (CorrectChoice, matched after
// trimming) or by index (CorrectIndex). CorrectChoice wins when both are set.
type RawQuestion struct {
	ID            string   `json:"id" yaml:"id"`
	Text          string   `json:"question" yaml:"question"`
	Choices       []string `json:"choices" yaml:"choices"`
	CorrectChoice string   `json:"correct_choice,omitempty" yaml:"correct_choice,omitempty"`
	CorrectIndex  *int     `json:"correct_index,omitempty" yaml:"correct_index,omitempty"`
	Explanation   string   `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

// Normalize trims the record and resolves the correct choice to an index.
// Errors wrap ErrInvalidRecord.
func (r RawQuestion) Normalize() (Question, error) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return Question{}, fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return Question{}, fmt.Errorf("%w: %s: empty question text", ErrInvalidRecord, id)
	}

	choices := make([]string, 0, len(r.Choices))
	for _, c := range r.Choices {
		c = strings.TrimSpace(c)
		if c == "" {
			return Question{}, fmt.Errorf("%w: %s: empty choice", ErrInvalidRecord, id)
		}
		choices = append(choices, c)
	}
	if len(choices) < 2 {
		return Question{}, fmt.Errorf("%w: %s: need at least 2 choices, got %d", ErrInvalidRecord, id, len(choices))
	}

	correct := -1
	switch {
	case strings.TrimSpace(r.CorrectChoice) != "":
		correct = slices.Index(choices, strings.TrimSpace(r.CorrectChoice))
		if correct < 0 {
			return Question{}, fmt.Errorf("%w: %s: correct choice %q not among choices", ErrInvalidRecord, id, strings.TrimSpace(r.CorrectChoice))
		}
	case r.CorrectIndex != nil:
		correct = *r.CorrectIndex
		if correct < 0 || correct >= len(choices) {
			return Question{}, fmt.Errorf("%w: %s: correct index %d out of range", ErrInvalidRecord, id, correct)
		}
	default:
		return Question{}, fmt.Errorf("%w: %s: no correct choice", ErrInvalidRecord, id)
	}

	return Question{
		ID:          id,
		Text:        text,
		Choices:     choices,
		Correct:     correct,
		Explanation: strings.TrimSpace(r.Explanation),
	}, nil
}

// normalize re-runs record validation on an already-built question.
func (q Question) normalize() (Question, error) {
	idx := q.Correct
	return RawQuestion{
		ID: q.ID, Text: q.Text, Choices: q.Choices, CorrectIndex: &idx, Explanation: q.Explanation,
	}.Normalize()
}
