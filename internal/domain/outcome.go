// internal/domain/outcome.go
package domain

import (
	"sort"
)

// WalletOutcome is the result of one operation on one account.
type WalletOutcome struct {
	AccountID string
	Succeeded bool
	Err       error
}

// FailedIDs returns the IDs of the failed outcomes, in outcome order.
func FailedIDs(outcomes []WalletOutcome) []string {
	var ids []string
	for _, o := range outcomes {
		if !o.Succeeded {
			ids = append(ids, o.AccountID)
		}
	}
	return ids
}

// Summary is the terminal result of a batch workflow.
type Summary struct {
	Workflow      string   `json:"workflow"`
	Pool          string   `json:"pool"`
	Total         int      `json:"total"`
	Succeeded     int      `json:"succeeded"`
	Unresolved    []string `json:"unresolved,omitempty"`
	CloseFailures []string `json:"close_failures,omitempty"`
	Rounds        int      `json:"rounds"`
}

// NewSummary derives Succeeded from the unresolved set.
func NewSummary(workflow, pool string, total int, unresolved []string) Summary {
	u := append([]string(nil), unresolved...)
	sort.Strings(u)
	return Summary{
		Workflow:   workflow,
		Pool:       pool,
		Total:      total,
		Succeeded:  total - len(u),
		Unresolved: u,
	}
}

// OK reports whether every account reached the target state.
func (s Summary) OK() bool {
	return len(s.Unresolved) == 0
}
