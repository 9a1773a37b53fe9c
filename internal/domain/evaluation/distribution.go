package evaluation

import "github.com/shopspring/decimal"

var (
	excellentRatio = decimal.RequireFromString("0.9")
	goodRatio      = decimal.RequireFromString("0.7")
	averageRatio   = decimal.RequireFromString("0.5")
)

type Distribution struct {
	MaxScore         decimal.Decimal `json:"maxScore"`
	Excellent        int             `json:"excellent"`
	Good             int             `json:"good"`
	Average          int             `json:"average"`
	NeedsImprovement int             `json:"needsImprovement"`
}

// Bucket classifies a score. With a max of 5 the lower bounds are 4.5, 3.5 and 2.5.
func Bucket(score, maxScore decimal.Decimal) string {
	switch {
	case score.GreaterThanOrEqual(maxScore.Mul(excellentRatio)):
		return BucketExcellent
	case score.GreaterThanOrEqual(maxScore.Mul(goodRatio)):
		return BucketGood
	case score.GreaterThanOrEqual(maxScore.Mul(averageRatio)):
		return BucketAverage
	default:
		return BucketNeedsImprovement
	}
}

// BuildDistribution counts the defined overall scores per bucket.
func BuildDistribution(results []Result, maxScore decimal.Decimal) Distribution {
	d := Distribution{MaxScore: maxScore}
	for _, r := range results {
		if !r.OverallScore.Valid {
			continue
		}
		switch Bucket(r.OverallScore.Decimal, maxScore) {
		case BucketExcellent:
			d.Excellent++
		case BucketGood:
			d.Good++
		case BucketAverage:
			d.Average++
		default:
			d.NeedsImprovement++
		}
	}
	return d
}
