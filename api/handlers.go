/*
handlers.go - HTTP API handlers for the timesheet billing service

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to billing.Service.

ENDPOINTS:
  Settings:
    GET    /api/settings                       Current settings
    PUT    /api/settings                       Replace settings

  Clients:
    GET    /api/clients                        List clients
    POST   /api/clients                        Create client
    GET    /api/clients/{id}                   Get client
    POST   /api/clients/{id}/invoices          Generate a client-level invoice

  Projects:
    GET    /api/projects?clientId=&active=     List projects
    POST   /api/projects                       Create project
    GET    /api/projects/{id}                  Get project
    PATCH  /api/projects/{id}                  Update name, rate, active
    GET    /api/projects/{id}/time-entries     List entries (?uninvoiced=true)
    GET    /api/projects/{id}/expenses         List expenses (?uninvoiced=true)
    GET    /api/projects/{id}/unbilled         Preview (?upToDate=YYYY-MM-DD)
    POST   /api/projects/{id}/invoices         Generate a project invoice

  Time entries / expenses:
    POST   /api/time-entries                   PUT/DELETE /api/time-entries/{id}
    POST   /api/expenses                       PUT/DELETE /api/expenses/{id}

  Invoices:
    GET    /api/invoices?status=&clientId=     List invoices
    GET    /api/invoices/{id}                  Invoice with line items
    DELETE /api/invoices/{id}                  Delete a draft
    POST   /api/invoices/{id}/status           Change status
    POST   /api/invoices/{id}/line-items       Add a manual line to a draft

ERROR HANDLING:
  Errors are returned as JSON {error, details} with a status chosen by
  statusFor from the billing error class:
  - 400: Validation errors, nothing billable
  - 404: Resource not found
  - 409: Concurrent invoicing, invoiced records, forbidden transitions
  - 500: Transaction failures and everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/timesheet/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *billing.Service
	log     *zap.Logger
}

// NewHandler creates a new handler around the billing service.
func NewHandler(svc *billing.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, log: log}
}

// Health pings the database.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SETTINGS
// =============================================================================

// GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Service.Settings(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(s))
}

// PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsDTO
	if !decode(w, r, &req) {
		return
	}
	s, err := h.Service.UpdateSettings(r.Context(), req.toSettings())
	if err != nil {
		h.fail(w, r, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(s))
}

// =============================================================================
// CLIENTS
// =============================================================================

// GET /api/clients
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Service.ListClients(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list clients", err)
		return
	}
	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// POST /api/clients
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Service.CreateClient(r.Context(), billing.Client{
		Name:    req.Name,
		Email:   req.Email,
		Address: req.Address,
	})
	if err != nil {
		h.fail(w, r, "Failed to create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(c))
}

// GET /api/clients/{id}
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.Service.GetClient(r.Context(), billing.ClientID(id))
	if err != nil {
		h.fail(w, r, "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

// =============================================================================
// PROJECTS
// =============================================================================

// GET /api/projects?clientId=&active=
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	var f billing.ProjectFilter
	q := r.URL.Query()
	if v := q.Get("clientId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid clientId", err)
			return
		}
		cid := billing.ClientID(id)
		f.ClientID = &cid
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid active flag", err)
			return
		}
		f.Active = &active
	}

	projects, err := h.Service.ListProjects(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list projects", err)
		return
	}
	dtos := make([]ProjectDTO, len(projects))
	for i, p := range projects {
		dtos[i] = toProjectDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// POST /api/projects
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decode(w, r, &req) {
		return
	}
	active := req.Active == nil || *req.Active
	p, err := h.Service.CreateProject(r.Context(), billing.Project{
		ClientID:   billing.ClientID(req.ClientID),
		Name:       req.Name,
		HourlyRate: req.HourlyRate,
		Active:     active,
	})
	if err != nil {
		h.fail(w, r, "Failed to create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectDTO(p))
}

// GET /api/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.Service.GetProject(r.Context(), billing.ProjectID(id))
	if err != nil {
		h.fail(w, r, "Failed to get project", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

// PATCH /api/projects/{id}
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateProjectRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Service.UpdateProject(r.Context(), billing.ProjectID(id), billing.ProjectPatch{
		Name:       req.Name,
		HourlyRate: req.HourlyRate,
		Active:     req.Active,
	})
	if err != nil {
		h.fail(w, r, "Failed to update project", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(p))
}

// GET /api/projects/{id}/unbilled?upToDate=YYYY-MM-DD
func (h *Handler) GetUnbilled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	upTo, err := billing.ParseDate(r.URL.Query().Get("upToDate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upToDate", err)
		return
	}
	s, err := h.Service.Unbilled(r.Context(), billing.ProjectID(id), upTo)
	if err != nil {
		h.fail(w, r, "Failed to summarize unbilled work", err)
		return
	}
	writeJSON(w, http.StatusOK, toUnbilledDTO(s))
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

func itemFilter(r *http.Request, projectID int64) billing.ItemFilter {
	uninvoiced, _ := strconv.ParseBool(r.URL.Query().Get("uninvoiced"))
	return billing.ItemFilter{ProjectID: billing.ProjectID(projectID), UninvoicedOnly: uninvoiced}
}

// GET /api/projects/{id}/time-entries?uninvoiced=true
func (h *Handler) ListTimeEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.Service.ListTimeEntries(r.Context(), itemFilter(r, id))
	if err != nil {
		h.fail(w, r, "Failed to list time entries", err)
		return
	}
	dtos := make([]TimeEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toTimeEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// POST /api/time-entries
func (h *Handler) CreateTimeEntry(w http.ResponseWriter, r *http.Request) {
	var req TimeEntryRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.Service.CreateTimeEntry(r.Context(), req.toInput())
	if err != nil {
		h.fail(w, r, "Failed to create time entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTimeEntryDTO(e))
}

// PUT /api/time-entries/{id}
func (h *Handler) UpdateTimeEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req TimeEntryRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.Service.UpdateTimeEntry(r.Context(), billing.TimeEntryID(id), req.toInput())
	if err != nil {
		h.fail(w, r, "Failed to update time entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toTimeEntryDTO(e))
}

// DELETE /api/time-entries/{id}
func (h *Handler) DeleteTimeEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteTimeEntry(r.Context(), billing.TimeEntryID(id)); err != nil {
		h.fail(w, r, "Failed to delete time entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// EXPENSES
// =============================================================================

// GET /api/projects/{id}/expenses?uninvoiced=true
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	expenses, err := h.Service.ListExpenses(r.Context(), itemFilter(r, id))
	if err != nil {
		h.fail(w, r, "Failed to list expenses", err)
		return
	}
	dtos := make([]ExpenseDTO, len(expenses))
	for i, x := range expenses {
		dtos[i] = toExpenseDTO(x)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// POST /api/expenses
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expenseDate", err)
		return
	}
	x, err := h.Service.CreateExpense(r.Context(), in)
	if err != nil {
		h.fail(w, r, "Failed to create expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(x))
}

// PUT /api/expenses/{id}
func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expenseDate", err)
		return
	}
	x, err := h.Service.UpdateExpense(r.Context(), billing.ExpenseID(id), in)
	if err != nil {
		h.fail(w, r, "Failed to update expense", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(x))
}

// DELETE /api/expenses/{id}
func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteExpense(r.Context(), billing.ExpenseID(id)); err != nil {
		h.fail(w, r, "Failed to delete expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INVOICE GENERATION
// =============================================================================

// GenerateProjectInvoice creates a draft from the project's unbilled work.
// POST /api/projects/{id}/invoices
func (h *Handler) GenerateProjectInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ProjectInvoiceRequest
	if !decode(w, r, &req) {
		return
	}
	invoiced, upTo, err := req.dates()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	out, err := h.Service.GenerateForProject(r.Context(), billing.ProjectInvoiceRequest{
		ProjectID:    billing.ProjectID(id),
		DateInvoiced: invoiced,
		UpToDate:     upTo,
		Notes:        req.Notes,
		GroupByDay:   req.GroupByDay,
		IncludeNotes: req.includeNotes(),
	})
	if err != nil {
		h.fail(w, r, "Failed to generate invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceResponse(out))
}

// GenerateClientInvoice bills several projects of one client on one invoice.
// POST /api/clients/{id}/invoices
func (h *Handler) GenerateClientInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ClientInvoiceRequest
	if !decode(w, r, &req) {
		return
	}
	invoiced, upTo, err := req.dates()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	projectIDs := make([]billing.ProjectID, len(req.ProjectIDs))
	for i, pid := range req.ProjectIDs {
		projectIDs[i] = billing.ProjectID(pid)
	}

	out, err := h.Service.GenerateForClient(r.Context(), billing.ClientInvoiceRequest{
		ClientID:     billing.ClientID(id),
		ProjectIDs:   projectIDs,
		DateInvoiced: invoiced,
		UpToDate:     upTo,
		Notes:        req.Notes,
	})
	if err != nil {
		h.fail(w, r, "Failed to generate invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceResponse(out))
}

// =============================================================================
// INVOICE LIFECYCLE
// =============================================================================

// GET /api/invoices?status=&clientId=
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	var f billing.InvoiceFilter
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		st, err := billing.ParseInvoiceStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid status", err)
			return
		}
		f.Status = &st
	}
	if v := q.Get("clientId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid clientId", err)
			return
		}
		cid := billing.ClientID(id)
		f.ClientID = &cid
	}

	invoices, err := h.Service.ListInvoices(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list invoices", err)
		return
	}
	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GET /api/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	out, err := h.Service.GetInvoice(r.Context(), billing.InvoiceID(id))
	if err != nil {
		h.fail(w, r, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponse(out))
}

// POST /api/invoices/{id}/status
func (h *Handler) TransitionInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	to, err := billing.ParseInvoiceStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status", err)
		return
	}
	inv, err := h.Service.TransitionInvoice(r.Context(), billing.InvoiceID(id), to)
	if err != nil {
		h.fail(w, r, "Failed to change invoice status", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// DELETE /api/invoices/{id}
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteInvoice(r.Context(), billing.InvoiceID(id)); err != nil {
		h.fail(w, r, "Failed to delete invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/invoices/{id}/line-items
func (h *Handler) AddManualLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ManualLineRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.Service.AddManualLine(r.Context(), billing.InvoiceID(id), billing.ManualLineRequest{
		Description: req.Description,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
	})
	if err != nil {
		h.fail(w, r, "Failed to add line item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceResponse(out))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps a billing error class to an HTTP status.
func statusFor(err error) int {
	switch {
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsClientError(err):
		return http.StatusBadRequest
	case billing.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged; the
// request logger already records the status of everything else.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(message, zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, message, err)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		if err == nil {
			err = errors.New("id must be positive")
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid id %q", raw), err)
		return 0, false
	}
	return id, true
}
