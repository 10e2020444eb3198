// Package memstore provides an in-memory billing.Store.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/timesheet/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds every table in maps. WithTx takes one global lock, so
// transactions are fully serialized, and restores a snapshot on error.
type Memory struct {
	mu    sync.Mutex
	state state
}

type state struct {
	settings billing.Settings
	clients  map[billing.ClientID]billing.Client
	projects map[billing.ProjectID]billing.Project
	entries  map[billing.TimeEntryID]billing.TimeEntry
	expenses map[billing.ExpenseID]billing.Expense
	invoices map[billing.InvoiceID]billing.Invoice
	lines    map[billing.LineItemID]billing.LineItem
	lastID   int64
}

// DefaultSettings is the settings row a fresh store starts with.
func DefaultSettings() billing.Settings {
	return billing.Settings{
		NextInvoiceNumber:     1,
		InvoiceNumberTemplate: billing.DefaultInvoiceNumberTemplate,
		PaymentTermDays:       30,
		Timezone:              "UTC",
	}
}

func New() *Memory {
	return NewWithSettings(DefaultSettings())
}

func NewWithSettings(s billing.Settings) *Memory {
	return &Memory{state: state{
		settings: s,
		clients:  make(map[billing.ClientID]billing.Client),
		projects: make(map[billing.ProjectID]billing.Project),
		entries:  make(map[billing.TimeEntryID]billing.TimeEntry),
		expenses: make(map[billing.ExpenseID]billing.Expense),
		invoices: make(map[billing.InvoiceID]billing.Invoice),
		lines:    make(map[billing.LineItemID]billing.LineItem),
	}}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (s state) clone() state {
	return state{
		settings: s.settings,
		clients:  maps.Clone(s.clients),
		projects: maps.Clone(s.projects),
		entries:  maps.Clone(s.entries),
		expenses: maps.Clone(s.expenses),
		invoices: maps.Clone(s.invoices),
		lines:    maps.Clone(s.lines),
		lastID:   s.lastID,
	}
}

func (s *state) nextID() int64 {
	s.lastID++
	return s.lastID
}

// =============================================================================
// TX VIEW - Writes go straight to the live maps
// =============================================================================

type txView struct {
	s *state
}

var _ billing.Tx = (*txView)(nil)

func notFound(kind string, id int64) error {
	return &billing.NotFoundError{Kind: kind, ID: id}
}

// --- settings ---

func (t *txView) GetSettings(context.Context) (billing.Settings, error) {
	return t.s.settings, nil
}

func (t *txView) UpdateSettings(_ context.Context, st billing.Settings) error {
	if st.NextInvoiceNumber < t.s.settings.NextInvoiceNumber {
		return fmt.Errorf("%w: nextInvoiceNumber %d is behind the current counter",
			billing.ErrValidation, st.NextInvoiceNumber)
	}
	t.s.settings = st
	return nil
}

func (t *txView) ReserveInvoiceNumber(context.Context) (int64, error) {
	n := t.s.settings.NextInvoiceNumber
	t.s.settings.NextInvoiceNumber++
	return n, nil
}

// --- catalog ---

func (t *txView) CreateClient(_ context.Context, c *billing.Client) error {
	c.ID = billing.ClientID(t.s.nextID())
	t.s.clients[c.ID] = *c
	return nil
}

func (t *txView) GetClient(_ context.Context, id billing.ClientID) (billing.Client, error) {
	c, ok := t.s.clients[id]
	if !ok {
		return billing.Client{}, notFound("client", int64(id))
	}
	return c, nil
}

func (t *txView) ListClients(context.Context) ([]billing.Client, error) {
	out := slices.Collect(maps.Values(t.s.clients))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *txView) CreateProject(_ context.Context, p *billing.Project) error {
	p.ID = billing.ProjectID(t.s.nextID())
	t.s.projects[p.ID] = *p
	return nil
}

func (t *txView) GetProject(_ context.Context, id billing.ProjectID) (billing.Project, error) {
	p, ok := t.s.projects[id]
	if !ok {
		return billing.Project{}, notFound("project", int64(id))
	}
	return p, nil
}

func (t *txView) LockProject(ctx context.Context, id billing.ProjectID) (billing.Project, error) {
	return t.GetProject(ctx, id)
}

func (t *txView) ListProjects(_ context.Context, f billing.ProjectFilter) ([]billing.Project, error) {
	var out []billing.Project
	for _, p := range t.s.projects {
		if f.ClientID != nil && p.ClientID != *f.ClientID {
			continue
		}
		if f.Active != nil && p.Active != *f.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *txView) UpdateProject(_ context.Context, p billing.Project) error {
	if _, ok := t.s.projects[p.ID]; !ok {
		return notFound("project", int64(p.ID))
	}
	t.s.projects[p.ID] = p
	return nil
}

// --- time entries ---

func (t *txView) CreateTimeEntry(_ context.Context, e *billing.TimeEntry) error {
	e.ID = billing.TimeEntryID(t.s.nextID())
	t.s.entries[e.ID] = *e
	return nil
}

func (t *txView) GetTimeEntry(_ context.Context, id billing.TimeEntryID) (billing.TimeEntry, error) {
	e, ok := t.s.entries[id]
	if !ok {
		return billing.TimeEntry{}, notFound("time_entry", int64(id))
	}
	return e, nil
}

func (t *txView) UpdateTimeEntry(_ context.Context, e billing.TimeEntry) error {
	if _, ok := t.s.entries[e.ID]; !ok {
		return notFound("time_entry", int64(e.ID))
	}
	t.s.entries[e.ID] = e
	return nil
}

func (t *txView) DeleteTimeEntry(_ context.Context, id billing.TimeEntryID) error {
	if _, ok := t.s.entries[id]; !ok {
		return notFound("time_entry", int64(id))
	}
	delete(t.s.entries, id)
	return nil
}

func (t *txView) ListTimeEntries(_ context.Context, f billing.ItemFilter) ([]billing.TimeEntry, error) {
	var out []billing.TimeEntry
	for _, e := range t.s.entries {
		if e.ProjectID != f.ProjectID || (f.UninvoicedOnly && e.IsInvoiced) {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (t *txView) UninvoicedTimeEntries(_ context.Context, projectIDs []billing.ProjectID, cutoff time.Time) ([]billing.TimeEntry, error) {
	var out []billing.TimeEntry
	for _, e := range t.s.entries {
		if !slices.Contains(projectIDs, e.ProjectID) || e.IsInvoiced || e.EndAt == nil || !e.StartAt.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (t *txView) MarkTimeEntryInvoiced(_ context.Context, id billing.TimeEntryID, invoiceID billing.InvoiceID) (bool, error) {
	e, ok := t.s.entries[id]
	if !ok || e.IsInvoiced {
		return false, nil
	}
	e.IsInvoiced = true
	e.InvoiceID = &invoiceID
	t.s.entries[id] = e
	return true, nil
}

func sortEntries(es []billing.TimeEntry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].StartAt.Equal(es[j].StartAt) {
			return es[i].StartAt.Before(es[j].StartAt)
		}
		return es[i].ID < es[j].ID
	})
}

// --- expenses ---

func (t *txView) CreateExpense(_ context.Context, x *billing.Expense) error {
	x.ID = billing.ExpenseID(t.s.nextID())
	t.s.expenses[x.ID] = *x
	return nil
}

func (t *txView) GetExpense(_ context.Context, id billing.ExpenseID) (billing.Expense, error) {
	x, ok := t.s.expenses[id]
	if !ok {
		return billing.Expense{}, notFound("expense", int64(id))
	}
	return x, nil
}

func (t *txView) UpdateExpense(_ context.Context, x billing.Expense) error {
	if _, ok := t.s.expenses[x.ID]; !ok {
		return notFound("expense", int64(x.ID))
	}
	t.s.expenses[x.ID] = x
	return nil
}

func (t *txView) DeleteExpense(_ context.Context, id billing.ExpenseID) error {
	if _, ok := t.s.expenses[id]; !ok {
		return notFound("expense", int64(id))
	}
	delete(t.s.expenses, id)
	return nil
}

func (t *txView) ListExpenses(_ context.Context, f billing.ItemFilter) ([]billing.Expense, error) {
	var out []billing.Expense
	for _, x := range t.s.expenses {
		if x.ProjectID != f.ProjectID || (f.UninvoicedOnly && x.IsInvoiced) {
			continue
		}
		out = append(out, x)
	}
	sortExpenses(out)
	return out, nil
}

func (t *txView) BillableExpenses(_ context.Context, projectIDs []billing.ProjectID, upTo time.Time) ([]billing.Expense, error) {
	var out []billing.Expense
	for _, x := range t.s.expenses {
		if !slices.Contains(projectIDs, x.ProjectID) || x.IsInvoiced || !x.IsBillable || x.ExpenseDate.After(upTo) {
			continue
		}
		out = append(out, x)
	}
	sortExpenses(out)
	return out, nil
}

func (t *txView) MarkExpenseInvoiced(_ context.Context, id billing.ExpenseID, invoiceID billing.InvoiceID) (bool, error) {
	x, ok := t.s.expenses[id]
	if !ok || x.IsInvoiced {
		return false, nil
	}
	x.IsInvoiced = true
	x.InvoiceID = &invoiceID
	t.s.expenses[id] = x
	return true, nil
}

func sortExpenses(xs []billing.Expense) {
	sort.Slice(xs, func(i, j int) bool {
		if !xs[i].ExpenseDate.Equal(xs[j].ExpenseDate) {
			return xs[i].ExpenseDate.Before(xs[j].ExpenseDate)
		}
		return xs[i].ID < xs[j].ID
	})
}

// --- invoices ---

func (t *txView) InsertInvoice(_ context.Context, inv *billing.Invoice) error {
	inv.ID = billing.InvoiceID(t.s.nextID())
	t.s.invoices[inv.ID] = *inv
	return nil
}

func (t *txView) GetInvoice(_ context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	inv, ok := t.s.invoices[id]
	if !ok {
		return billing.Invoice{}, notFound("invoice", int64(id))
	}
	return inv, nil
}

func (t *txView) LockInvoice(ctx context.Context, id billing.InvoiceID) (billing.Invoice, error) {
	return t.GetInvoice(ctx, id)
}

func (t *txView) ListInvoices(_ context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	var out []billing.Invoice
	for _, inv := range t.s.invoices {
		if f.ClientID != nil && inv.ClientID != *f.ClientID {
			continue
		}
		if f.Status != nil && inv.Status != *f.Status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (t *txView) UpdateInvoiceTotals(_ context.Context, id billing.InvoiceID, subtotal, total decimal.Decimal) error {
	inv, ok := t.s.invoices[id]
	if !ok {
		return notFound("invoice", int64(id))
	}
	inv.Subtotal, inv.Total = subtotal, total
	t.s.invoices[id] = inv
	return nil
}

func (t *txView) UpdateInvoiceStatus(_ context.Context, id billing.InvoiceID, status billing.InvoiceStatus) error {
	inv, ok := t.s.invoices[id]
	if !ok {
		return notFound("invoice", int64(id))
	}
	inv.Status = status
	t.s.invoices[id] = inv
	return nil
}

func (t *txView) DeleteInvoice(_ context.Context, id billing.InvoiceID) error {
	if _, ok := t.s.invoices[id]; !ok {
		return notFound("invoice", int64(id))
	}
	delete(t.s.invoices, id)
	for lid, li := range t.s.lines {
		if li.InvoiceID == id {
			delete(t.s.lines, lid)
		}
	}
	return nil
}

func (t *txView) ReleaseInvoiceItems(_ context.Context, id billing.InvoiceID) error {
	for eid, e := range t.s.entries {
		if e.InvoiceID != nil && *e.InvoiceID == id {
			e.IsInvoiced, e.InvoiceID = false, nil
			t.s.entries[eid] = e
		}
	}
	for xid, x := range t.s.expenses {
		if x.InvoiceID != nil && *x.InvoiceID == id {
			x.IsInvoiced, x.InvoiceID = false, nil
			t.s.expenses[xid] = x
		}
	}
	return nil
}

func (t *txView) InsertLineItem(_ context.Context, li *billing.LineItem) error {
	if _, ok := t.s.invoices[li.InvoiceID]; !ok {
		return notFound("invoice", int64(li.InvoiceID))
	}
	li.ID = billing.LineItemID(t.s.nextID())
	t.s.lines[li.ID] = *li
	return nil
}

func (t *txView) ListLineItems(_ context.Context, id billing.InvoiceID) ([]billing.LineItem, error) {
	var out []billing.LineItem
	for _, li := range t.s.lines {
		if li.InvoiceID == id {
			out = append(out, li)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
