/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Money:      string with exactly two decimals ("100.00")
  Hours:      string, one decimal ("1.5")
  Dates:      "YYYY-MM-DD"
  Timestamps: RFC 3339
  Inputs accept decimals as JSON numbers or strings.

VALIDATION:
  Validation is done in handlers and the billing service, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/timesheet/billing"
)

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func formatDate(t time.Time) string { return t.Format(billing.DateLayout) }

func formatTimestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func optionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return billing.ParseDate(s)
}

// =============================================================================
// SETTINGS
// =============================================================================

type SettingsDTO struct {
	NextInvoiceNumber     int64  `json:"nextInvoiceNumber"`
	InvoiceNumberTemplate string `json:"invoiceNumberTemplate"`
	PaymentTermDays       int    `json:"paymentTermDays"`
	Timezone              string `json:"timezone"`
}

func toSettingsDTO(s billing.Settings) SettingsDTO {
	return SettingsDTO{
		NextInvoiceNumber:     s.NextInvoiceNumber,
		InvoiceNumberTemplate: s.InvoiceNumberTemplate,
		PaymentTermDays:       s.PaymentTermDays,
		Timezone:              s.Timezone,
	}
}

func (d SettingsDTO) toSettings() billing.Settings {
	return billing.Settings{
		NextInvoiceNumber:     d.NextInvoiceNumber,
		InvoiceNumberTemplate: d.InvoiceNumberTemplate,
		PaymentTermDays:       d.PaymentTermDays,
		Timezone:              d.Timezone,
	}
}

// =============================================================================
// CLIENTS & PROJECTS
// =============================================================================

type ClientDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Address   string `json:"address"`
	CreatedAt string `json:"createdAt"`
}

type CreateClientRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

func toClientDTO(c billing.Client) ClientDTO {
	return ClientDTO{
		ID:        int64(c.ID),
		Name:      c.Name,
		Email:     c.Email,
		Address:   c.Address,
		CreatedAt: formatTimestamp(c.CreatedAt),
	}
}

type ProjectDTO struct {
	ID         int64  `json:"id"`
	ClientID   int64  `json:"clientId"`
	Name       string `json:"name"`
	HourlyRate string `json:"hourlyRate"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"createdAt"`
}

type CreateProjectRequest struct {
	ClientID   int64           `json:"clientId"`
	Name       string          `json:"name"`
	HourlyRate decimal.Decimal `json:"hourlyRate"`
	Active     *bool           `json:"active"`
}

// UpdateProjectRequest only changes the fields that are present.
type UpdateProjectRequest struct {
	Name       *string          `json:"name"`
	HourlyRate *decimal.Decimal `json:"hourlyRate"`
	Active     *bool            `json:"active"`
}

func toProjectDTO(p billing.Project) ProjectDTO {
	return ProjectDTO{
		ID:         int64(p.ID),
		ClientID:   int64(p.ClientID),
		Name:       p.Name,
		HourlyRate: money(p.HourlyRate),
		Active:     p.Active,
		CreatedAt:  formatTimestamp(p.CreatedAt),
	}
}

// =============================================================================
// TIME ENTRIES & EXPENSES
// =============================================================================

type TimeEntryDTO struct {
	ID         int64   `json:"id"`
	ProjectID  int64   `json:"projectId"`
	StartAt    string  `json:"startAt"`
	EndAt      *string `json:"endAt"`
	TotalHours string  `json:"totalHours"`
	Note       string  `json:"note"`
	IsInvoiced bool    `json:"isInvoiced"`
	InvoiceID  *int64  `json:"invoiceId"`
}

type TimeEntryRequest struct {
	ProjectID int64      `json:"projectId"`
	StartAt   time.Time  `json:"startAt"`
	EndAt     *time.Time `json:"endAt"`
	Note      string     `json:"note"`
}

func (r TimeEntryRequest) toInput() billing.TimeEntryInput {
	return billing.TimeEntryInput{
		ProjectID: billing.ProjectID(r.ProjectID),
		StartAt:   r.StartAt,
		EndAt:     r.EndAt,
		Note:      r.Note,
	}
}

func invoiceRef(id *billing.InvoiceID) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}

func toTimeEntryDTO(e billing.TimeEntry) TimeEntryDTO {
	dto := TimeEntryDTO{
		ID:         int64(e.ID),
		ProjectID:  int64(e.ProjectID),
		StartAt:    formatTimestamp(e.StartAt),
		TotalHours: e.TotalHours.StringFixed(1),
		Note:       e.Note,
		IsInvoiced: e.IsInvoiced,
		InvoiceID:  invoiceRef(e.InvoiceID),
	}
	if e.EndAt != nil {
		end := formatTimestamp(*e.EndAt)
		dto.EndAt = &end
	}
	return dto
}

type ExpenseDTO struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"projectId"`
	ExpenseDate string `json:"expenseDate"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	IsBillable  bool   `json:"isBillable"`
	IsInvoiced  bool   `json:"isInvoiced"`
	InvoiceID   *int64 `json:"invoiceId"`
}

type ExpenseRequest struct {
	ProjectID   int64           `json:"projectId"`
	ExpenseDate string          `json:"expenseDate"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	IsBillable  *bool           `json:"isBillable"`
}

func (r ExpenseRequest) toInput() (billing.ExpenseInput, error) {
	date, err := billing.ParseDate(r.ExpenseDate)
	if err != nil {
		return billing.ExpenseInput{}, err
	}
	billable := true
	if r.IsBillable != nil {
		billable = *r.IsBillable
	}
	return billing.ExpenseInput{
		ProjectID:   billing.ProjectID(r.ProjectID),
		ExpenseDate: date,
		Description: r.Description,
		Amount:      r.Amount,
		IsBillable:  billable,
	}, nil
}

func toExpenseDTO(x billing.Expense) ExpenseDTO {
	return ExpenseDTO{
		ID:          int64(x.ID),
		ProjectID:   int64(x.ProjectID),
		ExpenseDate: formatDate(x.ExpenseDate),
		Description: x.Description,
		Amount:      money(x.Amount),
		IsBillable:  x.IsBillable,
		IsInvoiced:  x.IsInvoiced,
		InvoiceID:   invoiceRef(x.InvoiceID),
	}
}

type UnbilledDTO struct {
	ProjectID     int64  `json:"projectId"`
	UpToDate      string `json:"upToDate"`
	TimeEntries   int    `json:"timeEntries"`
	Hours         string `json:"hours"`
	TimeAmount    string `json:"timeAmount"`
	Expenses      int    `json:"expenses"`
	ExpenseAmount string `json:"expenseAmount"`
	Billable      bool   `json:"billable"`
}

func toUnbilledDTO(s billing.UnbilledSummary) UnbilledDTO {
	return UnbilledDTO{
		ProjectID:     int64(s.ProjectID),
		UpToDate:      formatDate(s.UpToDate),
		TimeEntries:   s.TimeEntries,
		Hours:         s.Hours.StringFixed(1),
		TimeAmount:    money(s.TimeAmount),
		Expenses:      s.Expenses,
		ExpenseAmount: money(s.ExpenseAmount),
		Billable:      s.Billable,
	}
}

// =============================================================================
// INVOICES
// =============================================================================

// InvoiceDates is shared by both generation endpoints. Missing dates are
// rejected by the service.
type InvoiceDates struct {
	DateInvoiced string `json:"dateInvoiced"`
	UpToDate     string `json:"upToDate"`
	Notes        string `json:"notes"`
}

func (r InvoiceDates) dates() (time.Time, time.Time, error) {
	invoiced, err := optionalDate(r.DateInvoiced)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	upTo, err := optionalDate(r.UpToDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return invoiced, upTo, nil
}

// ProjectInvoiceRequest is the body of POST /api/projects/{id}/invoices.
type ProjectInvoiceRequest struct {
	InvoiceDates
	GroupByDay   bool  `json:"groupByDay"`
	IncludeNotes *bool `json:"includeNotes"`
}

func (r ProjectInvoiceRequest) includeNotes() bool {
	return r.IncludeNotes == nil || *r.IncludeNotes
}

// ClientInvoiceRequest is the body of POST /api/clients/{id}/invoices.
// An empty ProjectIDs bills every active project of the client.
type ClientInvoiceRequest struct {
	InvoiceDates
	ProjectIDs []int64 `json:"projectIds"`
}

type InvoiceDTO struct {
	ID           int64  `json:"id"`
	Number       string `json:"number"`
	Sequence     int64  `json:"sequence"`
	ClientID     int64  `json:"clientId"`
	ProjectID    *int64 `json:"projectId"`
	DateInvoiced string `json:"dateInvoiced"`
	DueDate      string `json:"dueDate"`
	Status       string `json:"status"`
	Subtotal     string `json:"subtotal"`
	Total        string `json:"total"`
	Notes        string `json:"notes"`
	CreatedAt    string `json:"createdAt"`
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:           int64(inv.ID),
		Number:       inv.Number,
		Sequence:     inv.Sequence,
		ClientID:     int64(inv.ClientID),
		DateInvoiced: formatDate(inv.DateInvoiced),
		DueDate:      formatDate(inv.DueDate),
		Status:       string(inv.Status),
		Subtotal:     money(inv.Subtotal),
		Total:        money(inv.Total),
		Notes:        inv.Notes,
		CreatedAt:    formatTimestamp(inv.CreatedAt),
	}
	if inv.ProjectID != nil {
		id := int64(*inv.ProjectID)
		dto.ProjectID = &id
	}
	return dto
}

type LineItemDTO struct {
	ID                int64  `json:"id"`
	Type              string `json:"type"`
	Description       string `json:"description"`
	Quantity          string `json:"quantity"`
	UnitPrice         string `json:"unitPrice"`
	Amount            string `json:"amount"`
	LinkedTimeEntryID *int64 `json:"linkedTimeEntryId"`
	LinkedExpenseID   *int64 `json:"linkedExpenseId"`
}

func toLineItemDTO(li billing.LineItem) LineItemDTO {
	dto := LineItemDTO{
		ID:          int64(li.ID),
		Type:        string(li.Type),
		Description: li.Description,
		Quantity:    li.Quantity.String(),
		UnitPrice:   money(li.UnitPrice),
		Amount:      money(li.Amount),
	}
	if li.LinkedTimeEntryID != nil {
		id := int64(*li.LinkedTimeEntryID)
		dto.LinkedTimeEntryID = &id
	}
	if li.LinkedExpenseID != nil {
		id := int64(*li.LinkedExpenseID)
		dto.LinkedExpenseID = &id
	}
	return dto
}

// InvoiceResponse is an invoice with its lines.
type InvoiceResponse struct {
	Invoice   InvoiceDTO    `json:"invoice"`
	LineItems []LineItemDTO `json:"lineItems"`
}

func toInvoiceResponse(g billing.GeneratedInvoice) InvoiceResponse {
	lines := make([]LineItemDTO, len(g.LineItems))
	for i, li := range g.LineItems {
		lines[i] = toLineItemDTO(li)
	}
	return InvoiceResponse{Invoice: toInvoiceDTO(g.Invoice), LineItems: lines}
}

type StatusRequest struct {
	Status string `json:"status"`
}

type ManualLineRequest struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}
