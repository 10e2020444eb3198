package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/timesheet/billing"
)

// timestampLayout is fixed width so TEXT comparison matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timestampLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func formatDate(t time.Time) string { return t.Format(billing.DateLayout) }

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(billing.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return t, nil
}

func nullID[T ~int64](id *T) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func idPtr[T ~int64](n sql.NullInt64) *T {
	if !n.Valid {
		return nil
	}
	id := T(n.Int64)
	return &id
}

// =============================================================================
// ROW TYPES - Mirror the tables, converted to billing types at the edge
// =============================================================================

type settingsRow struct {
	NextInvoiceNumber     int64  `db:"next_invoice_number"`
	InvoiceNumberTemplate string `db:"invoice_number_template"`
	PaymentTermDays       int    `db:"payment_term_days"`
	Timezone              string `db:"timezone"`
}

func (r settingsRow) toSettings() billing.Settings {
	return billing.Settings{
		NextInvoiceNumber:     r.NextInvoiceNumber,
		InvoiceNumberTemplate: r.InvoiceNumberTemplate,
		PaymentTermDays:       r.PaymentTermDays,
		Timezone:              r.Timezone,
	}
}

const clientColumns = `id, name, email, address, created_at`

type clientRow struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	Email     string `db:"email"`
	Address   string `db:"address"`
	CreatedAt string `db:"created_at"`
}

func (r clientRow) toClient() (billing.Client, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return billing.Client{}, err
	}
	return billing.Client{
		ID:        billing.ClientID(r.ID),
		Name:      r.Name,
		Email:     r.Email,
		Address:   r.Address,
		CreatedAt: created,
	}, nil
}

const projectColumns = `id, client_id, name, hourly_rate, active, created_at`

type projectRow struct {
	ID         int64           `db:"id"`
	ClientID   int64           `db:"client_id"`
	Name       string          `db:"name"`
	HourlyRate decimal.Decimal `db:"hourly_rate"`
	Active     bool            `db:"active"`
	CreatedAt  string          `db:"created_at"`
}

func (r projectRow) toProject() (billing.Project, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return billing.Project{}, err
	}
	return billing.Project{
		ID:         billing.ProjectID(r.ID),
		ClientID:   billing.ClientID(r.ClientID),
		Name:       r.Name,
		HourlyRate: r.HourlyRate,
		Active:     r.Active,
		CreatedAt:  created,
	}, nil
}

const timeEntryColumns = `id, project_id, start_at, end_at, total_hours, note, is_invoiced, invoice_id`

type timeEntryRow struct {
	ID         int64           `db:"id"`
	ProjectID  int64           `db:"project_id"`
	StartAt    string          `db:"start_at"`
	EndAt      sql.NullString  `db:"end_at"`
	TotalHours decimal.Decimal `db:"total_hours"`
	Note       string          `db:"note"`
	IsInvoiced bool            `db:"is_invoiced"`
	InvoiceID  sql.NullInt64   `db:"invoice_id"`
}

func (r timeEntryRow) toTimeEntry() (billing.TimeEntry, error) {
	start, err := parseTime(r.StartAt)
	if err != nil {
		return billing.TimeEntry{}, err
	}
	e := billing.TimeEntry{
		ID:         billing.TimeEntryID(r.ID),
		ProjectID:  billing.ProjectID(r.ProjectID),
		StartAt:    start,
		TotalHours: r.TotalHours,
		Note:       r.Note,
		IsInvoiced: r.IsInvoiced,
		InvoiceID:  idPtr[billing.InvoiceID](r.InvoiceID),
	}
	if r.EndAt.Valid {
		end, err := parseTime(r.EndAt.String)
		if err != nil {
			return billing.TimeEntry{}, err
		}
		e.EndAt = &end
	}
	return e, nil
}

func endAtArg(e billing.TimeEntry) sql.NullString {
	if e.EndAt == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*e.EndAt), Valid: true}
}

func toTimeEntries(rows []timeEntryRow) ([]billing.TimeEntry, error) {
	out := make([]billing.TimeEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toTimeEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

const expenseColumns = `id, project_id, expense_date, description, amount, is_billable, is_invoiced, invoice_id`

type expenseRow struct {
	ID          int64           `db:"id"`
	ProjectID   int64           `db:"project_id"`
	ExpenseDate string          `db:"expense_date"`
	Description string          `db:"description"`
	Amount      decimal.Decimal `db:"amount"`
	IsBillable  bool            `db:"is_billable"`
	IsInvoiced  bool            `db:"is_invoiced"`
	InvoiceID   sql.NullInt64   `db:"invoice_id"`
}

func (r expenseRow) toExpense() (billing.Expense, error) {
	date, err := parseDate(r.ExpenseDate)
	if err != nil {
		return billing.Expense{}, err
	}
	return billing.Expense{
		ID:          billing.ExpenseID(r.ID),
		ProjectID:   billing.ProjectID(r.ProjectID),
		ExpenseDate: date,
		Description: r.Description,
		Amount:      r.Amount,
		IsBillable:  r.IsBillable,
		IsInvoiced:  r.IsInvoiced,
		InvoiceID:   idPtr[billing.InvoiceID](r.InvoiceID),
	}, nil
}

func toExpenses(rows []expenseRow) ([]billing.Expense, error) {
	out := make([]billing.Expense, 0, len(rows))
	for _, r := range rows {
		x, err := r.toExpense()
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

const invoiceColumns = `id, number, sequence, client_id, project_id, date_invoiced, due_date,
	status, subtotal, total, notes, created_at`

type invoiceRow struct {
	ID           int64           `db:"id"`
	Number       string          `db:"number"`
	Sequence     int64           `db:"sequence"`
	ClientID     int64           `db:"client_id"`
	ProjectID    sql.NullInt64   `db:"project_id"`
	DateInvoiced string          `db:"date_invoiced"`
	DueDate      string          `db:"due_date"`
	Status       string          `db:"status"`
	Subtotal     decimal.Decimal `db:"subtotal"`
	Total        decimal.Decimal `db:"total"`
	Notes        string          `db:"notes"`
	CreatedAt    string          `db:"created_at"`
}

func (r invoiceRow) toInvoice() (billing.Invoice, error) {
	invoiced, err := parseDate(r.DateInvoiced)
	if err != nil {
		return billing.Invoice{}, err
	}
	due, err := parseDate(r.DueDate)
	if err != nil {
		return billing.Invoice{}, err
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return billing.Invoice{}, err
	}
	status, err := billing.ParseInvoiceStatus(r.Status)
	if err != nil {
		return billing.Invoice{}, err
	}
	return billing.Invoice{
		ID:           billing.InvoiceID(r.ID),
		Number:       r.Number,
		Sequence:     r.Sequence,
		ClientID:     billing.ClientID(r.ClientID),
		ProjectID:    idPtr[billing.ProjectID](r.ProjectID),
		DateInvoiced: invoiced,
		DueDate:      due,
		Status:       status,
		Subtotal:     r.Subtotal,
		Total:        r.Total,
		Notes:        r.Notes,
		CreatedAt:    created,
	}, nil
}

const lineItemColumns = `id, invoice_id, type, description, quantity, unit_price, amount,
	linked_time_entry_id, linked_expense_id`

type lineItemRow struct {
	ID                int64           `db:"id"`
	InvoiceID         int64           `db:"invoice_id"`
	Type              string          `db:"type"`
	Description       string          `db:"description"`
	Quantity          decimal.Decimal `db:"quantity"`
	UnitPrice         decimal.Decimal `db:"unit_price"`
	Amount            decimal.Decimal `db:"amount"`
	LinkedTimeEntryID sql.NullInt64   `db:"linked_time_entry_id"`
	LinkedExpenseID   sql.NullInt64   `db:"linked_expense_id"`
}

func (r lineItemRow) toLineItem() billing.LineItem {
	return billing.LineItem{
		ID:        billing.LineItemID(r.ID),
		InvoiceID: billing.InvoiceID(r.InvoiceID),
		LineItemDraft: billing.LineItemDraft{
			Type:              billing.LineType(r.Type),
			Description:       r.Description,
			Quantity:          r.Quantity,
			UnitPrice:         r.UnitPrice,
			Amount:            r.Amount,
			LinkedTimeEntryID: idPtr[billing.TimeEntryID](r.LinkedTimeEntryID),
			LinkedExpenseID:   idPtr[billing.ExpenseID](r.LinkedExpenseID),
		},
	}
}
