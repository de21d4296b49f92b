package evaluation

import "sort"

// Rank orders results in place and assigns 1-based ranks.
//
// QCBS ranks by weighted score descending, LCS by quoted price ascending,
// FBS by technical score descending among budget-eligible submissions.
// Ties break by earlier submission time. FBS submissions over budget sort
// last and keep Rank 0.
func Rank(method Method, results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if method == MethodFBS && a.BudgetEligible != b.BudgetEligible {
			return a.BudgetEligible
		}
		switch method {
		case MethodLCS:
			if a.PriceCents != b.PriceCents {
				return a.PriceCents < b.PriceCents
			}
		default:
			if a.Weighted != b.Weighted {
				return a.Weighted > b.Weighted
			}
		}
		return a.SubmittedAt.Before(b.SubmittedAt)
	})

	rank := 0
	for i := range results {
		if method == MethodFBS && !results[i].BudgetEligible {
			results[i].Rank = 0
			continue
		}
		rank++
		results[i].Rank = rank
	}
}
