package evaluation

import (
	"sort"

	"github.com/shopspring/decimal"
)

type CategoryScore struct {
	CategoryID   string              `json:"categoryId"`
	CategoryName string              `json:"categoryName"`
	Average      decimal.NullDecimal `json:"average"`
	Responses    int                 `json:"responses"`
}

type RelationshipBreakdown struct {
	Relationship string              `json:"relationship"`
	Score        decimal.NullDecimal `json:"score"`
	Weight       decimal.Decimal     `json:"weight"`
	Evaluators   int                 `json:"evaluators"`
	Responses    int                 `json:"responses"`
}

type Breakdown struct {
	Result        Result                  `json:"result"`
	Categories    []CategoryScore         `json:"categories"`
	Relationships []RelationshipBreakdown `json:"relationships"`
}

// buildBreakdown reports stored relationship scores next to live category means.
// Category means pool every relationship, matching how the result was computed.
func buildBreakdown(result Result, weights Weights, rows []ScoreRow) Breakdown {
	type categoryAcc struct {
		name   string
		values []decimal.Decimal
	}
	categories := map[string]*categoryAcc{}
	var categoryOrder []string
	evaluators := map[string]map[string]bool{}
	responses := map[string]int{}

	for _, row := range rows {
		acc, ok := categories[row.CategoryID]
		if !ok {
			acc = &categoryAcc{name: row.CategoryName}
			categories[row.CategoryID] = acc
			categoryOrder = append(categoryOrder, row.CategoryID)
		}
		acc.values = append(acc.values, row.Score)

		if evaluators[row.Relationship] == nil {
			evaluators[row.Relationship] = map[string]bool{}
		}
		evaluators[row.Relationship][row.EvaluatorID] = true
		responses[row.Relationship]++
	}

	out := Breakdown{Result: result}
	sort.SliceStable(categoryOrder, func(i, j int) bool {
		return categories[categoryOrder[i]].name < categories[categoryOrder[j]].name
	})
	for _, id := range categoryOrder {
		acc := categories[id]
		score := CategoryScore{CategoryID: id, CategoryName: acc.name, Responses: len(acc.values)}
		if mean, ok := pooledMean(acc.values); ok {
			score.Average = decimal.NewNullDecimal(mean)
		}
		out.Categories = append(out.Categories, score)
	}
	for _, rel := range Relationships {
		out.Relationships = append(out.Relationships, RelationshipBreakdown{
			Relationship: rel,
			Score:        result.RelationshipScore(rel),
			Weight:       weights.For(rel),
			Evaluators:   len(evaluators[rel]),
			Responses:    responses[rel],
		})
	}
	return out
}
