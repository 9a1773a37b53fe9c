package evaluation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DefaultWeights is used when a campaign is created without explicit weights.
func DefaultWeights() Weights {
	return Weights{
		Self:        decimal.NewFromInt(20),
		Supervisor:  decimal.NewFromInt(50),
		Peer:        decimal.NewFromInt(20),
		Subordinate: decimal.NewFromInt(10),
	}
}

// ValidateWeights checks each weight is a non-negative decimal with at most two
// fractional digits and that the four weights sum to exactly 100.00.
func ValidateWeights(w Weights) error {
	verr := &ValidationError{}
	fields := []struct {
		name  string
		value decimal.Decimal
	}{
		{"weights.self", w.Self},
		{"weights.supervisor", w.Supervisor},
		{"weights.peer", w.Peer},
		{"weights.subordinate", w.Subordinate},
	}
	for _, f := range fields {
		switch {
		case f.value.IsNegative():
			verr.add(f.name, "must not be negative")
		case f.value.GreaterThan(hundred):
			verr.add(f.name, "must not exceed 100")
		case !hasScale(f.value, scoreDecimalPlaces):
			verr.add(f.name, "must have at most 2 decimal places")
		}
	}
	if len(verr.Issues) == 0 && !w.Sum().Equal(hundred) {
		verr.add("weights", "must sum to exactly 100, got "+w.Sum().StringFixed(2))
	}
	return verr.orNil()
}

// CampaignInput carries the editable fields of a campaign.
type CampaignInput struct {
	Title               string
	Description         string
	StartDate           time.Time
	EndDate             time.Time
	Weights             *Weights
	AllowSelfEvaluation bool
	IsAnonymous         bool
}

func validateCampaignInput(in CampaignInput) error {
	verr := &ValidationError{}
	if strings.TrimSpace(in.Title) == "" {
		verr.add("title", "is required")
	}
	if in.StartDate.IsZero() {
		verr.add("startDate", "is required")
	}
	if in.EndDate.IsZero() {
		verr.add("endDate", "is required")
	}
	if !in.StartDate.IsZero() && !in.EndDate.IsZero() && in.EndDate.Before(in.StartDate) {
		verr.add("endDate", "must be on or after startDate")
	}
	if in.Weights != nil {
		if err := ValidateWeights(*in.Weights); err != nil {
			if werr, ok := err.(*ValidationError); ok {
				verr.Issues = append(verr.Issues, werr.Issues...)
			}
		}
	}
	return verr.orNil()
}

// hasScale reports whether d carries no more than places fractional digits.
func hasScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(scoreDecimalPlaces)
}
