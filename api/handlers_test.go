/*
handlers_test.go - HTTP tests for the billing API

Tests for:
- Invoice generation endpoints and their error statuses
- Invoice lifecycle endpoints
- Record endpoints and the invoiced-immutability rule
- Settings, health and metrics
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet/billing"
	"github.com/warp/timesheet/billing/memstore"
	"github.com/warp/timesheet/metrics"
	"github.com/warp/timesheet/store/sqlstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testAPI struct {
	t      *testing.T
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store, err := sqlstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.SeedSettings(context.Background(), memstore.DefaultSettings()))

	reg := prometheus.NewRegistry()
	svc := billing.NewService(store, billing.WithRecorder(metrics.NewInvoicing(reg)))
	router := NewRouter(NewHandler(svc, nil), RouterOptions{Metrics: reg})
	return &testAPI{t: t, router: router}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// call performs the request, asserts the status and decodes the body into out.
func (a *testAPI) call(method, path string, body any, status int, out any) {
	a.t.Helper()
	rec := a.do(method, path, body)
	require.Equal(a.t, status, rec.Code, rec.Body.String())
	if out != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
}

func (a *testAPI) seedProject(rate string) (ClientDTO, ProjectDTO) {
	a.t.Helper()
	var c ClientDTO
	a.call(http.MethodPost, "/api/clients", map[string]any{"name": "Acme"}, http.StatusCreated, &c)
	var p ProjectDTO
	a.call(http.MethodPost, "/api/projects", map[string]any{
		"clientId": c.ID, "name": "Website", "hourlyRate": rate,
	}, http.StatusCreated, &p)
	return c, p
}

func (a *testAPI) addEntry(projectID int64, start, end, note string) TimeEntryDTO {
	a.t.Helper()
	var e TimeEntryDTO
	a.call(http.MethodPost, "/api/time-entries", map[string]any{
		"projectId": projectID, "startAt": start, "endAt": end, "note": note,
	}, http.StatusCreated, &e)
	return e
}

func (a *testAPI) generate(projectID int64, body map[string]any, status int) (InvoiceResponse, ErrorResponse) {
	a.t.Helper()
	rec := a.do(http.MethodPost, fmt.Sprintf("/api/projects/%d/invoices", projectID), body)
	require.Equal(a.t, status, rec.Code, rec.Body.String())
	var ok InvoiceResponse
	var fail ErrorResponse
	if status == http.StatusCreated {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &ok))
	} else {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &fail))
	}
	return ok, fail
}

var january = map[string]any{"dateInvoiced": "2025-01-31", "upToDate": "2025-01-31"}

// =============================================================================
// GENERATION
// =============================================================================

func TestGenerateProjectInvoice_Created(t *testing.T) {
	// GIVEN: One hour at 100.00
	api := newTestAPI(t)
	_, p := api.seedProject("100.00")
	api.addEntry(p.ID, "2025-01-10T09:00:00Z", "2025-01-10T10:00:00Z", "Kickoff")

	// WHEN
	out, _ := api.generate(p.ID, january, http.StatusCreated)

	// THEN
	assert.Equal(t, "INV-0001", out.Invoice.Number)
	assert.Equal(t, "draft", out.Invoice.Status)
	assert.Equal(t, "100.00", out.Invoice.Total)
	assert.Equal(t, "100.00", out.Invoice.Subtotal)
	assert.Equal(t, "2025-03-02", out.Invoice.DueDate)
	require.NotNil(t, out.Invoice.ProjectID)
	assert.Equal(t, p.ID, *out.Invoice.ProjectID)
	require.Len(t, out.LineItems, 1)
	assert.Equal(t, "time", out.LineItems[0].Type)
	assert.Equal(t, "2025-01-10 - Kickoff", out.LineItems[0].Description)
	assert.NotNil(t, out.LineItems[0].LinkedTimeEntryID)
}

func TestGenerateProjectInvoice_GroupByDay(t *testing.T) {
	api := newTestAPI(t)
	_, p := api.seedProject("50")
	api.addEntry(p.ID, "2025-01-10T09:00:00Z", "2025-01-10T10:00:00Z", "Meeting")
	api.addEntry(p.ID, "2025-01-10T13:00:00Z", "2025-01-10T15:00:00Z", "meeting")

	out, _ := api.generate(p.ID, map[string]any{
		"dateInvoiced": "2025-01-31", "upToDate": "2025-01-31", "groupByDay": true,
	}, http.StatusCreated)

	require.Len(t, out.LineItems, 1)
	assert.Equal(t, 1, strings.Count(strings.ToLower(out.LineItems[0].Description), "meeting"))
	assert.Equal(t, "150.00", out.Invoice.Total)
	assert.Nil(t, out.LineItems[0].LinkedTimeEntryID)
}

func TestGenerateProjectInvoice_Errors(t *testing.T) {
	api := newTestAPI(t)
	_, p := api.seedProject("100")

	// Nothing billable yet
	_, fail := api.generate(p.ID, january, http.StatusBadRequest)
	assert.Equal(t, "Failed to generate invoice", fail.Error)
	assert.Contains(t, fail.Details, "no uninvoiced time or billable expenses")

	// Unknown project
	api.generate(9999, january, http.StatusNotFound)

	// Malformed and missing dates
	api.generate(p.ID, map[string]any{"dateInvoiced": "31/01/2025", "upToDate": "2025-01-31"}, http.StatusBadRequest)
	api.generate(p.ID, map[string]any{"upToDate": "2025-01-31"}, http.StatusBadRequest)

	// Unknown fields are rejected
	api.generate(p.ID, map[string]any{"dateInvoiced": "2025-01-31", "upToDate": "2025-01-31", "tax": 20}, http.StatusBadRequest)
	api.generate(p.ID, map[string]any{
		"dateInvoiced": "2025-01-31", "upToDate": "2025-01-31", "projectIds": []int64{p.ID},
	}, http.StatusBadRequest)

	// Bad path id
	rec := api.do(http.MethodPost, "/api/projects/abc/invoices", january)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Counter untouched by all of the above
	var s SettingsDTO
	api.call(http.MethodGet, "/api/settings", nil, http.StatusOK, &s)
	assert.Equal(t, int64(1), s.NextInvoiceNumber)
}

func TestGenerateClientInvoice(t *testing.T) {
	// GIVEN: A client with two projects at different rates
	api := newTestAPI(t)
	c, alpha := api.seedProject("100")
	var beta ProjectDTO
	api.call(http.MethodPost, "/api/projects", map[string]any{
		"clientId": c.ID, "name": "Beta", "hourlyRate": 80,
	}, http.StatusCreated, &beta)
	api.addEntry(alpha.ID, "2025-01-10T09:00:00Z", "2025-01-10T11:00:00Z", "")
	api.addEntry(beta.ID, "2025-01-11T09:00:00Z", "2025-01-11T10:30:00Z", "")
	api.call(http.MethodPost, "/api/expenses", map[string]any{
		"projectId": beta.ID, "expenseDate": "2025-01-12", "description": "Train", "amount": "30.00",
	}, http.StatusCreated, nil)

	// Per-entry options belong to the project endpoint
	for _, field := range []string{"groupByDay", "includeNotes"} {
		rec := api.do(http.MethodPost, fmt.Sprintf("/api/clients/%d/invoices", c.ID), map[string]any{
			"dateInvoiced": "2025-01-31", "upToDate": "2025-01-31", field: true,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, field)
	}

	// WHEN
	var out InvoiceResponse
	api.call(http.MethodPost, fmt.Sprintf("/api/clients/%d/invoices", c.ID), map[string]any{
		"dateInvoiced": "2025-01-31", "upToDate": "2025-01-31",
		"projectIds":   []int64{beta.ID, alpha.ID},
	}, http.StatusCreated, &out)

	// THEN: One manual line per project, in project order
	assert.Nil(t, out.Invoice.ProjectID)
	require.Len(t, out.LineItems, 2)
	assert.Equal(t, "manual", out.LineItems[0].Type)
	assert.Equal(t, "Website - 2.0 hours", out.LineItems[0].Description)
	assert.Equal(t, "200.00", out.LineItems[0].Amount)
	assert.Equal(t, "Beta - 1.5 hours, 1 expense", out.LineItems[1].Description)
	assert.Equal(t, "150.00", out.LineItems[1].Amount)
	assert.Equal(t, "350.00", out.Invoice.Total)

	// A project of another client is rejected
	_, other := api.seedProject("10")
	rec := api.do(http.MethodPost, fmt.Sprintf("/api/clients/%d/invoices", c.ID), map[string]any{
		"dateInvoiced": "2025-01-31", "upToDate": "2025-01-31", "projectIds": []int64{other.ID},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestInvoiceLifecycle(t *testing.T) {
	api := newTestAPI(t)
	c, p := api.seedProject("100")
	entry := api.addEntry(p.ID, "2025-01-10T09:00:00Z", "2025-01-10T10:00:00Z", "")
	out, _ := api.generate(p.ID, january, http.StatusCreated)
	path := fmt.Sprintf("/api/invoices/%d", out.Invoice.ID)

	// Invoiced entries are locked
	rec := api.do(http.MethodDelete, fmt.Sprintf("/api/time-entries/%d", entry.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Manual line on the draft
	var withLine InvoiceResponse
	api.call(http.MethodPost, path+"/line-items", map[string]any{
		"description": "Setup fee", "quantity": 1, "unitPrice": "49.99",
	}, http.StatusCreated, &withLine)
	assert.Equal(t, "149.99", withLine.Invoice.Total)
	assert.Len(t, withLine.LineItems, 2)

	// draft -> sent -> paid; paid is final
	var inv InvoiceDTO
	api.call(http.MethodPost, path+"/status", StatusRequest{Status: "sent"}, http.StatusOK, &inv)
	assert.Equal(t, "sent", inv.Status)
	api.call(http.MethodPost, path+"/status", StatusRequest{Status: "paid"}, http.StatusOK, &inv)
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, path+"/status", StatusRequest{Status: "cancelled"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, path+"/status", StatusRequest{Status: "void"}).Code)

	// Only drafts can be deleted
	assert.Equal(t, http.StatusConflict, api.do(http.MethodDelete, path, nil).Code)

	// Listing with filters
	var list []InvoiceDTO
	api.call(http.MethodGet, "/api/invoices?status=paid", nil, http.StatusOK, &list)
	require.Len(t, list, 1)
	api.call(http.MethodGet, fmt.Sprintf("/api/invoices?clientId=%d&status=draft", c.ID), nil, http.StatusOK, &list)
	assert.Empty(t, list)

	var full InvoiceResponse
	api.call(http.MethodGet, path, nil, http.StatusOK, &full)
	assert.Equal(t, "paid", full.Invoice.Status)
	assert.Len(t, full.LineItems, 2)
}

func TestCancelAndDeleteReleaseItems(t *testing.T) {
	api := newTestAPI(t)
	_, p := api.seedProject("100")
	api.addEntry(p.ID, "2025-01-10T09:00:00Z", "2025-01-10T10:00:00Z", "")

	first, _ := api.generate(p.ID, january, http.StatusCreated)
	api.call(http.MethodPost, fmt.Sprintf("/api/invoices/%d/status", first.Invoice.ID),
		StatusRequest{Status: "cancelled"}, http.StatusOK, nil)

	second, _ := api.generate(p.ID, january, http.StatusCreated)
	assert.Equal(t, "INV-0002", second.Invoice.Number)

	api.call(http.MethodDelete, fmt.Sprintf("/api/invoices/%d", second.Invoice.ID), nil, http.StatusNoContent, nil)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, fmt.Sprintf("/api/invoices/%d", second.Invoice.ID), nil).Code)

	var entries []TimeEntryDTO
	api.call(http.MethodGet, fmt.Sprintf("/api/projects/%d/time-entries?uninvoiced=true", p.ID), nil, http.StatusOK, &entries)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsInvoiced)
	assert.Nil(t, entries[0].InvoiceID)
}

// =============================================================================
// RECORDS
// =============================================================================

func TestTimeEntryAndExpenseEndpoints(t *testing.T) {
	api := newTestAPI(t)
	_, p := api.seedProject("120")

	e := api.addEntry(p.ID, "2025-01-10T09:00:00Z", "2025-01-10T09:07:00Z", "Call")
	assert.Equal(t, "0.2", e.TotalHours)

	var updated TimeEntryDTO
	api.call(http.MethodPut, fmt.Sprintf("/api/time-entries/%d", e.ID), map[string]any{
		"startAt": "2025-01-10T09:00:00Z", "endAt": "2025-01-10T10:30:00Z", "note": "Call",
	}, http.StatusOK, &updated)
	assert.Equal(t, "1.5", updated.TotalHours)
	assert.Equal(t, p.ID, updated.ProjectID)

	rec := api.do(http.MethodPost, "/api/time-entries", map[string]any{
		"projectId": p.ID, "startAt": "2025-01-10T10:00:00Z", "endAt": "2025-01-10T09:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var x ExpenseDTO
	api.call(http.MethodPost, "/api/expenses", map[string]any{
		"projectId": p.ID, "expenseDate": "2025-01-11", "description": "Parking", "amount": 7.505,
	}, http.StatusCreated, &x)
	assert.Equal(t, "7.51", x.Amount)
	assert.True(t, x.IsBillable)

	var summary UnbilledDTO
	api.call(http.MethodGet, fmt.Sprintf("/api/projects/%d/unbilled?upToDate=2025-01-31", p.ID), nil, http.StatusOK, &summary)
	assert.True(t, summary.Billable)
	assert.Equal(t, 1, summary.TimeEntries)
	assert.Equal(t, "180.00", summary.TimeAmount)
	assert.Equal(t, "7.51", summary.ExpenseAmount)

	api.call(http.MethodDelete, fmt.Sprintf("/api/expenses/%d", x.ID), nil, http.StatusNoContent, nil)
	var expenses []ExpenseDTO
	api.call(http.MethodGet, fmt.Sprintf("/api/projects/%d/expenses", p.ID), nil, http.StatusOK, &expenses)
	assert.Empty(t, expenses)
}

func TestProjectEndpoints(t *testing.T) {
	api := newTestAPI(t)
	c, p := api.seedProject("100")

	var patched ProjectDTO
	api.call(http.MethodPatch, fmt.Sprintf("/api/projects/%d", p.ID), map[string]any{
		"hourlyRate": "110.5", "active": false,
	}, http.StatusOK, &patched)
	assert.Equal(t, "110.50", patched.HourlyRate)
	assert.False(t, patched.Active)
	assert.Equal(t, "Website", patched.Name)

	var list []ProjectDTO
	api.call(http.MethodGet, fmt.Sprintf("/api/projects?clientId=%d&active=true", c.ID), nil, http.StatusOK, &list)
	assert.Empty(t, list)
	api.call(http.MethodGet, "/api/projects?active=false", nil, http.StatusOK, &list)
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/projects", map[string]any{
		"clientId": c.ID, "name": "Negative", "hourlyRate": -1,
	}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPatch, fmt.Sprintf("/api/projects/%d", p.ID), map[string]any{
		"hourlyRate": "12.345",
	}).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPost, "/api/projects", map[string]any{
		"clientId": 777, "name": "Orphan", "hourlyRate": 10,
	}).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/clients/777", nil).Code)
}

// =============================================================================
// SETTINGS, HEALTH, METRICS
// =============================================================================

func TestSettingsEndpoints(t *testing.T) {
	api := newTestAPI(t)

	var s SettingsDTO
	api.call(http.MethodPut, "/api/settings", SettingsDTO{
		NextInvoiceNumber:     100,
		InvoiceNumberTemplate: "{YYYY}-{SEQ5}",
		PaymentTermDays:       14,
		Timezone:              "UTC",
	}, http.StatusOK, &s)
	assert.Equal(t, int64(100), s.NextInvoiceNumber)

	// Backwards counter and bad template are rejected
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPut, "/api/settings", SettingsDTO{
		NextInvoiceNumber: 5, InvoiceNumberTemplate: "{SEQ}", PaymentTermDays: 14, Timezone: "UTC",
	}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPut, "/api/settings", SettingsDTO{
		NextInvoiceNumber: 200, InvoiceNumberTemplate: "INV", PaymentTermDays: 14, Timezone: "UTC",
	}).Code)

	_, p := api.seedProject("100")
	api.addEntry(p.ID, "2025-01-10T09:00:00Z", "2025-01-10T10:00:00Z", "")
	out, _ := api.generate(p.ID, january, http.StatusCreated)
	assert.Equal(t, "2025-00100", out.Invoice.Number)
	assert.Equal(t, "2025-02-14", out.Invoice.DueDate)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/healthz", nil).Code)

	_, p := api.seedProject("100")
	api.generate(p.ID, january, http.StatusBadRequest)

	rec := api.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `timesheet_invoice_generation_failures_total{reason="no_billable_items",scope="project"} 1`)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/nope", nil).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&billing.NotFoundError{Kind: "project", ID: 1}, http.StatusNotFound},
		{&billing.NoBillableItemsError{}, http.StatusBadRequest},
		{fmt.Errorf("%w: bad date", billing.ErrValidation), http.StatusBadRequest},
		{&billing.ConflictError{Kind: "expense", ID: 2}, http.StatusConflict},
		{&billing.ImmutableError{Kind: "time_entry", ID: 3}, http.StatusConflict},
		{&billing.TransitionError{From: billing.StatusPaid, To: billing.StatusDraft}, http.StatusConflict},
		{&billing.TransactionError{Step: "commit", Err: errors.New("disk")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
