package billing

import (
	"context"
	"sort"
	"time"
)

// =============================================================================
// BILLABLE-ITEM SELECTOR
// =============================================================================

// Selection is the billable work found for one or more projects.
// TimeEntries are ordered by StartAt, Expenses by ExpenseDate.
type Selection struct {
	TimeEntries []TimeEntry
	Expenses    []Expense
}

func (s Selection) Empty() bool {
	return len(s.TimeEntries) == 0 && len(s.Expenses) == 0
}

// ForProject narrows a multi-project selection to one project, keeping order.
func (s Selection) ForProject(id ProjectID) Selection {
	var out Selection
	for _, e := range s.TimeEntries {
		if e.ProjectID == id {
			out.TimeEntries = append(out.TimeEntries, e)
		}
	}
	for _, x := range s.Expenses {
		if x.ProjectID == id {
			out.Expenses = append(out.Expenses, x)
		}
	}
	return out
}

// SelectBillable loads everything billable for projectIDs up to and
// including the business day upTo. It must run inside the transaction that
// later marks the items, otherwise two callers could select the same rows.
//
// The store filters in the query; the result is re-checked here so a lax
// backend can never leak a running or invoiced item into an invoice.
func SelectBillable(ctx context.Context, tx EntryRepo, cal Calendar, projectIDs []ProjectID, upTo time.Time) (Selection, error) {
	cutoff := cal.Cutoff(upTo)

	entries, err := tx.UninvoicedTimeEntries(ctx, projectIDs, cutoff)
	if err != nil {
		return Selection{}, err
	}
	expenses, err := tx.BillableExpenses(ctx, projectIDs, upTo)
	if err != nil {
		return Selection{}, err
	}

	var sel Selection
	for _, e := range entries {
		if e.IsInvoiced || e.Running() || !e.StartAt.Before(cutoff) {
			continue
		}
		sel.TimeEntries = append(sel.TimeEntries, e)
	}
	for _, x := range expenses {
		if x.IsInvoiced || !x.IsBillable || x.ExpenseDate.After(upTo) {
			continue
		}
		sel.Expenses = append(sel.Expenses, x)
	}

	sort.SliceStable(sel.TimeEntries, func(i, j int) bool {
		a, b := sel.TimeEntries[i], sel.TimeEntries[j]
		if !a.StartAt.Equal(b.StartAt) {
			return a.StartAt.Before(b.StartAt)
		}
		return a.ID < b.ID
	})
	sort.SliceStable(sel.Expenses, func(i, j int) bool {
		a, b := sel.Expenses[i], sel.Expenses[j]
		if !a.ExpenseDate.Equal(b.ExpenseDate) {
			return a.ExpenseDate.Before(b.ExpenseDate)
		}
		return a.ID < b.ID
	})

	if sel.Empty() {
		return sel, &NoBillableItemsError{ProjectIDs: projectIDs, UpTo: upTo}
	}
	return sel, nil
}
