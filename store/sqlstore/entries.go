package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/timesheet/billing"
)

func projectIDArgs(ids []billing.ProjectID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

func (t *txStore) CreateTimeEntry(ctx context.Context, e *billing.TimeEntry) error {
	var id int64
	err := t.tx.GetContext(ctx, &id, t.tx.Rebind(`
		INSERT INTO time_entries (project_id, start_at, end_at, total_hours, note)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		int64(e.ProjectID), formatTime(e.StartAt), endAtArg(*e), e.TotalHours, e.Note,
	)
	if err != nil {
		return fmt.Errorf("failed to create time entry: %w", err)
	}
	e.ID = billing.TimeEntryID(id)
	return nil
}

func (t *txStore) GetTimeEntry(ctx context.Context, id billing.TimeEntryID) (billing.TimeEntry, error) {
	var row timeEntryRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(`SELECT `+timeEntryColumns+` FROM time_entries WHERE id = ?`+t.forUpdate()), int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.TimeEntry{}, &billing.NotFoundError{Kind: "time_entry", ID: int64(id)}
	}
	if err != nil {
		return billing.TimeEntry{}, fmt.Errorf("failed to get time entry: %w", err)
	}
	return row.toTimeEntry()
}

// UpdateTimeEntry never touches the invoiced columns; those belong to the
// generator and to invoice release.
func (t *txStore) UpdateTimeEntry(ctx context.Context, e billing.TimeEntry) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE time_entries SET project_id = ?, start_at = ?, end_at = ?, total_hours = ?, note = ?
		WHERE id = ? AND NOT is_invoiced`),
		int64(e.ProjectID), formatTime(e.StartAt), endAtArg(e), e.TotalHours, e.Note, int64(e.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update time entry: %w", err)
	}
	return t.expectOne(res, "time_entry", int64(e.ID))
}

func (t *txStore) DeleteTimeEntry(ctx context.Context, id billing.TimeEntryID) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM time_entries WHERE id = ? AND NOT is_invoiced`), int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete time entry: %w", err)
	}
	return t.expectOne(res, "time_entry", int64(id))
}

func (t *txStore) ListTimeEntries(ctx context.Context, f billing.ItemFilter) ([]billing.TimeEntry, error) {
	query := `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE project_id = ?`
	if f.UninvoicedOnly {
		query += ` AND NOT is_invoiced`
	}
	query += ` ORDER BY start_at, id`

	var rows []timeEntryRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), int64(f.ProjectID)); err != nil {
		return nil, fmt.Errorf("failed to list time entries: %w", err)
	}
	return toTimeEntries(rows)
}

func (t *txStore) UninvoicedTimeEntries(ctx context.Context, projectIDs []billing.ProjectID, cutoff time.Time) ([]billing.TimeEntry, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	query, args, err := t.in(`
		SELECT `+timeEntryColumns+` FROM time_entries
		WHERE project_id IN (?)
			AND NOT is_invoiced
			AND end_at IS NOT NULL
			AND start_at < ?
		ORDER BY start_at, id`+t.forUpdate(),
		projectIDArgs(projectIDs), formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build time entry query: %w", err)
	}

	var rows []timeEntryRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select uninvoiced time entries: %w", err)
	}
	return toTimeEntries(rows)
}

// MarkTimeEntryInvoiced reports false when the row was already invoiced.
func (t *txStore) MarkTimeEntryInvoiced(ctx context.Context, id billing.TimeEntryID, invoiceID billing.InvoiceID) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE time_entries SET is_invoiced = TRUE, invoice_id = ?
		WHERE id = ? AND NOT is_invoiced AND end_at IS NOT NULL`),
		int64(invoiceID), int64(id),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark time entry %d invoiced: %w", id, err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

// =============================================================================
// EXPENSES
// =============================================================================

func (t *txStore) CreateExpense(ctx context.Context, x *billing.Expense) error {
	var id int64
	err := t.tx.GetContext(ctx, &id, t.tx.Rebind(`
		INSERT INTO expenses (project_id, expense_date, description, amount, is_billable)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		int64(x.ProjectID), formatDate(x.ExpenseDate), x.Description, x.Amount, x.IsBillable,
	)
	if err != nil {
		return fmt.Errorf("failed to create expense: %w", err)
	}
	x.ID = billing.ExpenseID(id)
	return nil
}

func (t *txStore) GetExpense(ctx context.Context, id billing.ExpenseID) (billing.Expense, error) {
	var row expenseRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(`SELECT `+expenseColumns+` FROM expenses WHERE id = ?`+t.forUpdate()), int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Expense{}, &billing.NotFoundError{Kind: "expense", ID: int64(id)}
	}
	if err != nil {
		return billing.Expense{}, fmt.Errorf("failed to get expense: %w", err)
	}
	return row.toExpense()
}

func (t *txStore) UpdateExpense(ctx context.Context, x billing.Expense) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE expenses SET project_id = ?, expense_date = ?, description = ?, amount = ?, is_billable = ?
		WHERE id = ? AND NOT is_invoiced`),
		int64(x.ProjectID), formatDate(x.ExpenseDate), x.Description, x.Amount, x.IsBillable, int64(x.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}
	return t.expectOne(res, "expense", int64(x.ID))
}

func (t *txStore) DeleteExpense(ctx context.Context, id billing.ExpenseID) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM expenses WHERE id = ? AND NOT is_invoiced`), int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	return t.expectOne(res, "expense", int64(id))
}

func (t *txStore) ListExpenses(ctx context.Context, f billing.ItemFilter) ([]billing.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE project_id = ?`
	if f.UninvoicedOnly {
		query += ` AND NOT is_invoiced`
	}
	query += ` ORDER BY expense_date, id`

	var rows []expenseRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), int64(f.ProjectID)); err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	return toExpenses(rows)
}

func (t *txStore) BillableExpenses(ctx context.Context, projectIDs []billing.ProjectID, upTo time.Time) ([]billing.Expense, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	query, args, err := t.in(`
		SELECT `+expenseColumns+` FROM expenses
		WHERE project_id IN (?)
			AND NOT is_invoiced
			AND is_billable
			AND expense_date <= ?
		ORDER BY expense_date, id`+t.forUpdate(),
		projectIDArgs(projectIDs), formatDate(upTo),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build expense query: %w", err)
	}

	var rows []expenseRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select billable expenses: %w", err)
	}
	return toExpenses(rows)
}

func (t *txStore) MarkExpenseInvoiced(ctx context.Context, id billing.ExpenseID, invoiceID billing.InvoiceID) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE expenses SET is_invoiced = TRUE, invoice_id = ?
		WHERE id = ? AND NOT is_invoiced`),
		int64(invoiceID), int64(id),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark expense %d invoiced: %w", id, err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

// expectOne turns a zero-row update or delete into NotFound. Callers check
// immutability before writing, so a miss here means the row is gone.
func (t *txStore) expectOne(res sql.Result, kind string, id int64) error {
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return &billing.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}
