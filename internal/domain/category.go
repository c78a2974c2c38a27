package domain

import "strings"

// Category groups transactions. Built-in categories have no owner.
type Category struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name"`
	Icon   string `json:"icon,omitempty"`
	Kind   Kind   `json:"kind,omitempty"`
}

// BuiltinCategories is the fixed set every user sees regardless of remote data.
var BuiltinCategories = []Category{
	{ID: "food", Name: "Food", Icon: "fork.knife", Kind: KindExpense},
	{ID: "housing", Name: "Housing", Icon: "house", Kind: KindExpense},
	{ID: "transport", Name: "Transport", Icon: "car", Kind: KindExpense},
	{ID: "utilities", Name: "Utilities", Icon: "bolt", Kind: KindExpense},
	{ID: "health", Name: "Health", Icon: "heart", Kind: KindExpense},
	{ID: "entertainment", Name: "Entertainment", Icon: "film", Kind: KindExpense},
	{ID: "education", Name: "Education", Icon: "book", Kind: KindExpense},
	{ID: "salary", Name: "Salary", Icon: "banknote", Kind: KindIncome},
	{ID: "freelance", Name: "Freelance", Icon: "briefcase", Kind: KindIncome},
	{ID: "investments", Name: "Investments", Icon: "chart.line.uptrend", Kind: KindInvestment},
	{ID: "other", Name: "Other", Icon: "ellipsis"},
}

// MergeCategories combines built-in and remote categories. Identifiers are
// compared case-insensitively, built-ins win, and each group keeps its order.
func MergeCategories(builtin, remote []Category) []Category {
	seen := make(map[string]bool, len(builtin)+len(remote))
	out := make([]Category, 0, len(builtin)+len(remote))
	for _, group := range [][]Category{builtin, remote} {
		for _, c := range group {
			key := strings.ToLower(strings.TrimSpace(c.ID))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	return out
}
