package evaluation

import "github.com/shopspring/decimal"

// AggregateInput is everything the scorer needs for one (campaign, evaluatee) pair.
// Scores must only contain scale answers from completed assignments.
type AggregateInput struct {
	Weights              Weights
	Scores               []ScoreRow
	TotalAssignments     int
	CompletedAssignments int
}

// Computation is the output of Aggregate, ready to be persisted onto a Result.
type Computation struct {
	Overall              decimal.NullDecimal
	ByRelationship       map[string]decimal.NullDecimal
	TotalAssignments     int
	CompletedAssignments int
	CompletionRate       decimal.Decimal
}

// Aggregate computes relationship means, the renormalized weighted overall score and
// the completion rate. Values are rounded half away from zero to two places; scores
// are never negative so this is round-half-up in practice.
//
// Relationship means are pooled: every answer of every evaluator in the category
// contributes equally, so an evaluator who answers more questions weighs more.
func Aggregate(in AggregateInput) Computation {
	pools := make(map[string][]decimal.Decimal, len(Relationships))
	for _, row := range in.Scores {
		pools[row.Relationship] = append(pools[row.Relationship], row.Score)
	}

	out := Computation{
		ByRelationship:       make(map[string]decimal.NullDecimal, len(Relationships)),
		TotalAssignments:     in.TotalAssignments,
		CompletedAssignments: in.CompletedAssignments,
		CompletionRate:       completionRate(in.CompletedAssignments, in.TotalAssignments),
	}

	weightedSum := decimal.Zero
	weightTotal := decimal.Zero
	var present []decimal.Decimal
	for _, rel := range Relationships {
		mean, ok := pooledMean(pools[rel])
		if !ok {
			out.ByRelationship[rel] = decimal.NullDecimal{}
			continue
		}
		out.ByRelationship[rel] = decimal.NewNullDecimal(mean)
		present = append(present, pools[rel]...)

		weight := in.Weights.For(rel)
		weightedSum = weightedSum.Add(mean.Mul(weight))
		weightTotal = weightTotal.Add(weight)
	}

	switch {
	case len(present) == 0:
		out.Overall = decimal.NullDecimal{}
	case weightTotal.IsPositive():
		out.Overall = decimal.NewNullDecimal(round2(weightedSum.Div(weightTotal)))
	default:
		// every present category weighs zero: fall back to the plain pooled mean
		mean, _ := pooledMean(present)
		out.Overall = decimal.NewNullDecimal(mean)
	}
	return out
}

// pooledMean is the mean of values rounded to two places; false when values is empty.
func pooledMean(values []decimal.Decimal) (decimal.Decimal, bool) {
	if len(values) == 0 {
		return decimal.Zero, false
	}
	return round2(decimal.Sum(values[0], values[1:]...).Div(decimal.NewFromInt(int64(len(values))))), true
}

func completionRate(completed, total int) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return round2(decimal.NewFromInt(int64(completed)).Mul(hundred).Div(decimal.NewFromInt(int64(total))))
}

// applyTo copies the computed values onto r without touching calibration fields.
func (c Computation) applyTo(r *Result) {
	r.OverallScore = c.Overall
	r.SelfScore = c.ByRelationship[RelationshipSelf]
	r.SupervisorScore = c.ByRelationship[RelationshipSupervisor]
	r.PeerScore = c.ByRelationship[RelationshipPeer]
	r.SubordinateScore = c.ByRelationship[RelationshipSubordinate]
	r.TotalAssignments = c.TotalAssignments
	r.CompletedAssignments = c.CompletedAssignments
	r.CompletionRate = c.CompletionRate
}
