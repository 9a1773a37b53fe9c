package evaluation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SubmitInput is one answer. Exactly one of Score, Text or Boolean must be set,
// matching the question type.
type SubmitInput struct {
	AssignmentID string
	QuestionID   string
	Score        *decimal.Decimal
	Text         *string
	Boolean      *bool
	Actor        Actor
}

// ResponseWrite is a validated answer handed to the store.
type ResponseWrite struct {
	AssignmentID  string
	QuestionID    string
	Score         decimal.NullDecimal
	TextAnswer    *string
	BooleanAnswer *bool
}

// validateAnswer checks the value kind and range against the question.
func validateAnswer(q Question, in SubmitInput) (ResponseWrite, error) {
	out := ResponseWrite{AssignmentID: in.AssignmentID, QuestionID: in.QuestionID}
	switch q.Type {
	case QuestionTypeScale:
		if in.Score == nil || in.Text != nil || in.Boolean != nil {
			return out, invalid("score", "scale questions take a numeric score")
		}
		upper := decimal.NewFromInt(int64(maxScoreOf(q)))
		score := *in.Score
		if score.IsNegative() || score.GreaterThan(upper) {
			return out, invalid("score", "must be between 0 and "+upper.String())
		}
		if !hasScale(score, scoreDecimalPlaces) {
			return out, invalid("score", "must have at most 2 decimal places")
		}
		out.Score = decimal.NewNullDecimal(score)
	case QuestionTypeText:
		if in.Text == nil || in.Score != nil || in.Boolean != nil {
			return out, invalid("textAnswer", "text questions take a text answer")
		}
		text := strings.TrimSpace(*in.Text)
		if q.IsRequired && text == "" {
			return out, invalid("textAnswer", "is required")
		}
		out.TextAnswer = &text
	case QuestionTypeBoolean:
		if in.Boolean == nil || in.Score != nil || in.Text != nil {
			return out, invalid("booleanAnswer", "boolean questions take true or false")
		}
		value := *in.Boolean
		out.BooleanAnswer = &value
	default:
		return out, invalid("questionId", "unsupported question type "+q.Type)
	}
	return out, nil
}

func maxScoreOf(q Question) int {
	if q.MaxScore <= 0 {
		return DefaultMaxScore
	}
	return q.MaxScore
}

// campaignMaxScore is the largest max score among the scale questions, or the default
// when the campaign has none configured.
func campaignMaxScore(questions []Question) decimal.Decimal {
	best := 0
	for _, q := range questions {
		if q.Type != QuestionTypeScale {
			continue
		}
		if m := maxScoreOf(q); m > best {
			best = m
		}
	}
	if best == 0 {
		best = DefaultMaxScore
	}
	return decimal.NewFromInt(int64(best))
}
