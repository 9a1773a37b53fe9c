package evaluation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestBucketBoundaries(t *testing.T) {
	five := dec("5")
	cases := map[string]string{
		"5":    BucketExcellent,
		"4.5":  BucketExcellent,
		"4.49": BucketGood,
		"3.5":  BucketGood,
		"3.49": BucketAverage,
		"2.5":  BucketAverage,
		"2.49": BucketNeedsImprovement,
		"0":    BucketNeedsImprovement,
	}
	for score, want := range cases {
		if got := Bucket(dec(score), five); got != want {
			t.Fatalf("score %s: expected %s, got %s", score, want, got)
		}
	}
	if got := Bucket(dec("9"), dec("10")); got != BucketExcellent {
		t.Fatalf("expected bounds to scale with max score, got %s", got)
	}
}

func TestBuildDistributionSkipsNullScores(t *testing.T) {
	results := []Result{
		{OverallScore: decimal.NewNullDecimal(dec("4.8"))},
		{OverallScore: decimal.NewNullDecimal(dec("4.0"))},
		{OverallScore: decimal.NewNullDecimal(dec("3.6"))},
		{OverallScore: decimal.NewNullDecimal(dec("1.2"))},
		{},
	}
	d := BuildDistribution(results, dec("5"))
	if d.Excellent != 1 || d.Good != 2 || d.Average != 0 || d.NeedsImprovement != 1 {
		t.Fatalf("unexpected distribution %+v", d)
	}
}
