package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/timesheet/billing"
)

// =============================================================================
// INVOICES
// =============================================================================

func (t *txStore) InsertInvoice(ctx context.Context, inv *billing.Invoice) error {
	var id int64
	err := t.tx.GetContext(ctx, &id, t.tx.Rebind(`
		INSERT INTO invoices (number, sequence, client_id, project_id, date_invoiced, due_date,
			status, subtotal, total, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		inv.Number, inv.Sequence, int64(inv.ClientID), nullID(inv.ProjectID),
		formatDate(inv.DateInvoiced), formatDate(inv.DueDate),
		string(inv.Status), inv.Subtotal, inv.Total, inv.Notes, formatTime(inv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice %s: %w", inv.Number, err)
	}
	inv.ID = billing.InvoiceID(id)
	return nil
}

func (t *txStore) getInvoice(ctx context.Context, id billing.InvoiceID, suffix string) (billing.Invoice, error) {
	var row invoiceRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`+suffix), int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Invoice{}, &billing.NotFoundError{Kind: "invoice", ID: int64(id)}
	}
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("failed to get invoice: %w", err)
	}
	return row.toInvoice()
}

func (t *txStore) GetInvoice(ctx context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	return t.getInvoice(ctx, id, "")
}

func (t *txStore) LockInvoice(ctx context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	return t.getInvoice(ctx, id, t.forUpdate())
}

func (t *txStore) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	var conditions []string
	var args []any
	if f.ClientID != nil {
		conditions = append(conditions, "client_id = ?")
		args = append(args, int64(*f.ClientID))
	}
	if f.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*f.Status))
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY sequence"

	var rows []invoiceRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	out := make([]billing.Invoice, 0, len(rows))
	for _, r := range rows {
		inv, err := r.toInvoice()
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func (t *txStore) UpdateInvoiceTotals(ctx context.Context, id billing.InvoiceID, subtotal, total decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`UPDATE invoices SET subtotal = ?, total = ? WHERE id = ?`),
		subtotal, total, int64(id))
	if err != nil {
		return fmt.Errorf("failed to update invoice totals: %w", err)
	}
	return t.expectOne(res, "invoice", int64(id))
}

func (t *txStore) UpdateInvoiceStatus(ctx context.Context, id billing.InvoiceID, status billing.InvoiceStatus) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`UPDATE invoices SET status = ? WHERE id = ?`),
		string(status), int64(id))
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	return t.expectOne(res, "invoice", int64(id))
}

func (t *txStore) DeleteInvoice(ctx context.Context, id billing.InvoiceID) error {
	// Explicit so the delete does not depend on the foreign_keys pragma.
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM invoice_line_items WHERE invoice_id = ?`), int64(id)); err != nil {
		return fmt.Errorf("failed to delete line items: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM invoices WHERE id = ?`), int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return t.expectOne(res, "invoice", int64(id))
}

func (t *txStore) ReleaseInvoiceItems(ctx context.Context, id billing.InvoiceID) error {
	for _, table := range []string{"time_entries", "expenses"} {
		_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
			UPDATE `+table+` SET is_invoiced = FALSE, invoice_id = NULL WHERE invoice_id = ?`),
			int64(id))
		if err != nil {
			return fmt.Errorf("failed to release %s of invoice %d: %w", table, id, err)
		}
	}
	return nil
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (t *txStore) InsertLineItem(ctx context.Context, li *billing.LineItem) error {
	var id int64
	err := t.tx.GetContext(ctx, &id, t.tx.Rebind(`
		INSERT INTO invoice_line_items (invoice_id, type, description, quantity, unit_price, amount,
			linked_time_entry_id, linked_expense_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		int64(li.InvoiceID), string(li.Type), li.Description, li.Quantity, li.UnitPrice, li.Amount,
		nullID(li.LinkedTimeEntryID), nullID(li.LinkedExpenseID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert line item: %w", err)
	}
	li.ID = billing.LineItemID(id)
	return nil
}

func (t *txStore) ListLineItems(ctx context.Context, id billing.InvoiceID) ([]billing.LineItem, error) {
	var rows []lineItemRow
	err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(`
		SELECT `+lineItemColumns+` FROM invoice_line_items WHERE invoice_id = ? ORDER BY id`), int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list line items: %w", err)
	}
	out := make([]billing.LineItem, len(rows))
	for i, r := range rows {
		out[i] = r.toLineItem()
	}
	return out, nil
}
