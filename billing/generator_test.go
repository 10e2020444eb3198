package billing_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet/billing"
	"github.com/warp/timesheet/billing/memstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	store   *memstore.Memory
	svc     *billing.Service
	client  billing.Client
	project billing.Project
}

func newFixture(t *testing.T, rate string) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	svc := billing.NewService(st)

	client, err := svc.CreateClient(ctx, billing.Client{Name: "Acme"})
	require.NoError(t, err)
	project, err := svc.CreateProject(ctx, billing.Project{
		ClientID:   client.ID,
		Name:       "Website",
		HourlyRate: decimal.RequireFromString(rate),
		Active:     true,
	})
	require.NoError(t, err)

	return &fixture{store: st, svc: svc, client: client, project: project}
}

func (f *fixture) addEntry(t *testing.T, projectID billing.ProjectID, start, end time.Time, note string) billing.TimeEntry {
	t.Helper()
	e, err := f.svc.CreateTimeEntry(context.Background(), billing.TimeEntryInput{
		ProjectID: projectID,
		StartAt:   start,
		EndAt:     &end,
		Note:      note,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) addExpense(t *testing.T, projectID billing.ProjectID, date time.Time, amount, desc string, billable bool) billing.Expense {
	t.Helper()
	x, err := f.svc.CreateExpense(context.Background(), billing.ExpenseInput{
		ProjectID:   projectID,
		ExpenseDate: date,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		IsBillable:  billable,
	})
	require.NoError(t, err)
	return x
}

func (f *fixture) nextNumber(t *testing.T) int64 {
	t.Helper()
	s, err := f.svc.Settings(context.Background())
	require.NoError(t, err)
	return s.NextInvoiceNumber
}

func (f *fixture) invoiceCount(t *testing.T) int {
	t.Helper()
	invs, err := f.svc.ListInvoices(context.Background(), billing.InvoiceFilter{})
	require.NoError(t, err)
	return len(invs)
}

func projectRequest(id billing.ProjectID, upTo time.Time) billing.ProjectInvoiceRequest {
	return billing.ProjectInvoiceRequest{
		ProjectID:    id,
		DateInvoiced: billing.Date(2025, time.January, 31),
		UpToDate:     upTo,
		IncludeNotes: true,
	}
}

func utc(day, hour, min, sec int) time.Time {
	return time.Date(2025, time.January, day, hour, min, sec, 0, time.UTC)
}

func jan(day int) time.Time { return billing.Date(2025, time.January, day) }

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestGenerateForProject_SingleEntry(t *testing.T) {
	// GIVEN: Rate 100.00 and one 1.0h entry on Jan 10
	ctx := context.Background()
	f := newFixture(t, "100.00")
	f.addEntry(t, f.project.ID, utc(10, 9, 0, 0), utc(10, 10, 0, 0), "")

	// WHEN: Invoicing up to Jan 15, one line per entry
	out, err := f.svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))

	// THEN: One line of 1.0 × 100.00 and a 100.00 total
	require.NoError(t, err)
	require.Len(t, out.LineItems, 1)
	line := out.LineItems[0]
	assert.True(t, line.Quantity.Equal(decimal.RequireFromString("1.0")))
	assertMoney(t, "100.00", line.UnitPrice)
	assertMoney(t, "100.00", line.Amount)
	assert.Equal(t, out.Invoice.ID, line.InvoiceID)

	inv := out.Invoice
	assertMoney(t, "100.00", inv.Total)
	assertMoney(t, "100.00", inv.Subtotal)
	assert.Equal(t, billing.StatusDraft, inv.Status)
	assert.Equal(t, "INV-0001", inv.Number)
	assert.Equal(t, int64(1), inv.Sequence)
	assert.Equal(t, f.client.ID, inv.ClientID)
	require.NotNil(t, inv.ProjectID)
	assert.Equal(t, f.project.ID, *inv.ProjectID)
	assert.Equal(t, jan(31).AddDate(0, 0, 30), inv.DueDate)
	assert.Equal(t, int64(2), f.nextNumber(t))
}

func TestGenerateForProject_GroupedMeetingNotesMentionedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100.00")
	f.addEntry(t, f.project.ID, utc(10, 9, 0, 0), utc(10, 10, 0, 0), "Meeting")
	f.addEntry(t, f.project.ID, utc(10, 13, 0, 0), utc(10, 15, 0, 0), "meeting")

	req := projectRequest(f.project.ID, jan(15))
	req.GroupByDay = true
	out, err := f.svc.GenerateForProject(ctx, req)

	require.NoError(t, err)
	require.Len(t, out.LineItems, 1)
	assert.True(t, out.LineItems[0].Quantity.Equal(decimal.RequireFromString("3.0")))
	assert.Equal(t, 1, strings.Count(strings.ToLower(out.LineItems[0].Description), "meeting"))

	// Both entries are consumed
	entries, err := f.svc.ListTimeEntries(ctx, billing.ItemFilter{ProjectID: f.project.ID})
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.IsInvoiced)
		require.NotNil(t, e.InvoiceID)
		assert.Equal(t, out.Invoice.ID, *e.InvoiceID)
	}
}

func TestGenerateForProject_NothingBillable(t *testing.T) {
	// GIVEN: Only a running entry and a non-billable expense
	ctx := context.Background()
	f := newFixture(t, "100.00")
	_, err := f.svc.CreateTimeEntry(ctx, billing.TimeEntryInput{ProjectID: f.project.ID, StartAt: utc(10, 9, 0, 0)})
	require.NoError(t, err)
	f.addExpense(t, f.project.ID, jan(10), "20.00", "Lunch", false)

	// WHEN
	_, err = f.svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))

	// THEN: NoBillableItems, no invoice row, counter untouched
	require.ErrorIs(t, err, billing.ErrNoBillableItems)
	var nb *billing.NoBillableItemsError
	require.ErrorAs(t, err, &nb)
	assert.Equal(t, []billing.ProjectID{f.project.ID}, nb.ProjectIDs)
	assert.True(t, billing.IsClientError(err))
	assert.Equal(t, 0, f.invoiceCount(t))
	assert.Equal(t, int64(1), f.nextNumber(t))
}

func TestGenerateForProject_UnknownProject(t *testing.T) {
	f := newFixture(t, "100.00")

	_, err := f.svc.GenerateForProject(context.Background(), projectRequest(999, jan(15)))

	require.True(t, billing.IsNotFound(err))
	var nf *billing.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "project", nf.Kind)
	assert.Equal(t, int64(999), nf.ID)
}

func TestGenerateForProject_RequiresDates(t *testing.T) {
	f := newFixture(t, "100.00")

	_, err := f.svc.GenerateForProject(context.Background(), billing.ProjectInvoiceRequest{ProjectID: f.project.ID})

	assert.ErrorIs(t, err, billing.ErrValidation)
}

// =============================================================================
// SELECTION RULES
// =============================================================================

func TestGenerateForProject_CutoffBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100.00")
	included := f.addEntry(t, f.project.ID, utc(15, 23, 59, 59), utc(16, 0, 59, 59), "late")
	excluded := f.addEntry(t, f.project.ID, utc(16, 0, 0, 1), utc(16, 1, 0, 1), "next day")

	out, err := f.svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))

	require.NoError(t, err)
	require.Len(t, out.LineItems, 1)
	assert.Equal(t, included.ID, *out.LineItems[0].LinkedTimeEntryID)

	left, err := f.svc.ListTimeEntries(ctx, billing.ItemFilter{ProjectID: f.project.ID, UninvoicedOnly: true})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, excluded.ID, left[0].ID)
}

func TestGenerateForProject_CutoffFollowsSettingsTimezone(t *testing.T) {
	// GIVEN: Business in New York; an entry at 03:00 UTC on the 16th (22:00 local on the 15th)
	ctx := context.Background()
	f := newFixture(t, "100.00")
	s, err := f.svc.Settings(ctx)
	require.NoError(t, err)
	s.Timezone = "America/New_York"
	_, err = f.svc.UpdateSettings(ctx, s)
	require.NoError(t, err)
	f.addEntry(t, f.project.ID, utc(16, 3, 0, 0), utc(16, 4, 0, 0), "")

	// WHEN: Cutting off at the 15th
	out, err := f.svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))

	// THEN: It belongs to the 15th locally
	require.NoError(t, err)
	require.Len(t, out.LineItems, 1)
	assert.Equal(t, "Time entry - 2025-01-15", out.LineItems[0].Description)
}

func TestGenerateForProject_ExpensesUpToDateInclusive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100.00")
	f.addExpense(t, f.project.ID, jan(15), "30.00", "On the day", true)
	f.addExpense(t, f.project.ID, jan(16), "40.00", "Too late", true)
	f.addExpense(t, f.project.ID, jan(10), "50.00", "Not billable", false)

	out, err := f.svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))

	require.NoError(t, err)
	require.Len(t, out.LineItems, 1)
	assert.Equal(t, "On the day", out.LineItems[0].Description)
	assertMoney(t, "30.00", out.Invoice.Total)
}

func TestGenerateForProject_TotalIsRoundedSumOfLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "85.55")
	f.addEntry(t, f.project.ID, utc(10, 9, 0, 0), utc(10, 10, 30, 0), "") // 1.5h -> 128.33
	f.addEntry(t, f.project.ID, utc(11, 9, 0, 0), utc(11, 9, 6, 0), "")   // 0.1h -> 8.56
	f.addExpense(t, f.project.ID, jan(12), "19.99", "Domain", true)

	out, err := f.svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(31)))

	require.NoError(t, err)
	require.Len(t, out.LineItems, 3)
	sum := decimal.Zero
	for _, li := range out.LineItems {
		sum = sum.Add(li.Amount)
	}
	assertMoney(t, "156.88", out.Invoice.Subtotal)
	assert.True(t, out.Invoice.Total.Equal(out.Invoice.Subtotal))
	assert.True(t, out.Invoice.Total.Equal(billing.RoundToCents(sum)))
	assert.Equal(t, billing.LineExpense, out.LineItems[2].Type, "expenses come after time")
}

// =============================================================================
// NO DOUBLE INVOICING
// =============================================================================

func TestGenerateForProject_NoDoubleInvoicing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100.00")
	f.addEntry(t, f.project.ID, utc(10, 9, 0, 0), utc(10, 10, 0, 0), "")
	f.addExpense(t, f.project.ID, jan(10), "15.00", "Taxi", true)

	_, err := f.svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))
	require.NoError(t, err)

	// Second call sees only invoiced items
	_, err = f.svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(31)))
	assert.ErrorIs(t, err, billing.ErrNoBillableItems)
	assert.Equal(t, 1, f.invoiceCount(t))
	assert.Equal(t, int64(2), f.nextNumber(t))
}

func TestGenerateForProject_ConcurrentSameProject(t *testing.T) {
	// GIVEN: One project with billable work, 8 simultaneous requests
	ctx := context.Background()
	f := newFixture(t, "100.00")
	f.addEntry(t, f.project.ID, utc(10, 9, 0, 0), utc(10, 10, 0, 0), "")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))
		}(i)
	}
	wg.Wait()

	// THEN: Exactly one wins, the rest find nothing left to bill
	var ok, none int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, billing.ErrNoBillableItems):
			none++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, none)
	assert.Equal(t, int64(2), f.nextNumber(t))
}

func TestGenerateForProject_ConcurrentNumbersAreConsecutive(t *testing.T) {
	// GIVEN: N projects, each with one billable entry
	ctx := context.Background()
	f := newFixture(t, "100.00")
	const n = 12
	projects := make([]billing.ProjectID, n)
	for i := range projects {
		p, err := f.svc.CreateProject(ctx, billing.Project{
			ClientID: f.client.ID, Name: "P", HourlyRate: decimal.NewFromInt(50), Active: true,
		})
		require.NoError(t, err)
		f.addEntry(t, p.ID, utc(10, 9, 0, 0), utc(10, 10, 0, 0), "")
		projects[i] = p.ID
	}

	// WHEN: All invoiced at once
	var wg sync.WaitGroup
	var mu sync.Mutex
	var seqs []int64
	for _, id := range projects {
		wg.Add(1)
		go func(id billing.ProjectID) {
			defer wg.Done()
			out, err := f.svc.GenerateForProject(ctx, projectRequest(id, jan(15)))
			if assert.NoError(t, err) {
				mu.Lock()
				seqs = append(seqs, out.Invoice.Sequence)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	// THEN: N distinct consecutive sequences, no gaps
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	require.Len(t, seqs, n)
	for i, s := range seqs {
		assert.Equal(t, int64(i+1), s)
	}
}

// =============================================================================
// ROLLBACK
// =============================================================================

var errDiskFull = errors.New("disk full")

// failingStore injects a failure at one step of every transaction.
type failingStore struct {
	*memstore.Memory
	failAt string
}

func (s *failingStore) WithTx(ctx context.Context, fn func(billing.Tx) error) error {
	return s.Memory.WithTx(ctx, func(tx billing.Tx) error {
		return fn(&failingTx{Tx: tx, failAt: s.failAt})
	})
}

type failingTx struct {
	billing.Tx
	failAt string
}

func (t *failingTx) MarkExpenseInvoiced(ctx context.Context, id billing.ExpenseID, inv billing.InvoiceID) (bool, error) {
	if t.failAt == "mark expense" {
		return false, errDiskFull
	}
	return t.Tx.MarkExpenseInvoiced(ctx, id, inv)
}

func (t *failingTx) MarkTimeEntryInvoiced(ctx context.Context, id billing.TimeEntryID, inv billing.InvoiceID) (bool, error) {
	if t.failAt == "lost race" {
		return false, nil
	}
	return t.Tx.MarkTimeEntryInvoiced(ctx, id, inv)
}

func (t *failingTx) UpdateInvoiceTotals(ctx context.Context, id billing.InvoiceID, subtotal, total decimal.Decimal) error {
	if t.failAt == "update totals" {
		return errDiskFull
	}
	return t.Tx.UpdateInvoiceTotals(ctx, id, subtotal, total)
}

func TestGenerateForProject_RollsBackEverythingOnFailure(t *testing.T) {
	for _, step := range []string{"mark expense", "update totals"} {
		t.Run(step, func(t *testing.T) {
			// GIVEN: Billable time and an expense
			ctx := context.Background()
			f := newFixture(t, "100.00")
			f.addEntry(t, f.project.ID, utc(10, 9, 0, 0), utc(10, 10, 0, 0), "")
			f.addExpense(t, f.project.ID, jan(10), "15.00", "Taxi", true)

			// WHEN: The transaction fails after the number was reserved
			broken := billing.NewService(&failingStore{Memory: f.store, failAt: step})
			_, err := broken.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))

			// THEN: TransactionFailed, wrapping the cause and naming the step
			require.ErrorIs(t, err, billing.ErrTransactionFailed)
			require.ErrorIs(t, err, errDiskFull)
			var txErr *billing.TransactionError
			require.ErrorAs(t, err, &txErr)
			assert.Equal(t, step, txErr.Step)
			assert.True(t, billing.IsRetryable(err))

			// Nothing was committed
			assert.Equal(t, int64(1), f.nextNumber(t))
			assert.Equal(t, 0, f.invoiceCount(t))
			entries, err := f.svc.ListTimeEntries(ctx, billing.ItemFilter{ProjectID: f.project.ID, UninvoicedOnly: true})
			require.NoError(t, err)
			assert.Len(t, entries, 1)

			// A retry produces the number the first attempt would have
			out, err := f.svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))
			require.NoError(t, err)
			assert.Equal(t, "INV-0001", out.Invoice.Number)
			assert.Len(t, out.LineItems, 2)
		})
	}
}

func TestGenerateForProject_LostMarkIsAConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100.00")
	e := f.addEntry(t, f.project.ID, utc(10, 9, 0, 0), utc(10, 10, 0, 0), "")

	broken := billing.NewService(&failingStore{Memory: f.store, failAt: "lost race"})
	_, err := broken.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))

	require.ErrorIs(t, err, billing.ErrConcurrentInvoicing)
	var conflict *billing.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "time_entry", conflict.Kind)
	assert.Equal(t, int64(e.ID), conflict.ID)
	assert.True(t, billing.IsConflict(err))
	assert.Equal(t, int64(1), f.nextNumber(t))
	assert.Equal(t, 0, f.invoiceCount(t))
}

func TestGenerateForProject_CancelledContextIsATransactionFailure(t *testing.T) {
	f := newFixture(t, "100.00")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))

	assert.ErrorIs(t, err, billing.ErrTransactionFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// CLIENT-LEVEL INVOICES
// =============================================================================

func TestGenerateForClient_OneLinePerProject(t *testing.T) {
	// GIVEN: Two projects of one client at different rates
	ctx := context.Background()
	f := newFixture(t, "100.00")
	other, err := f.svc.CreateProject(ctx, billing.Project{
		ClientID: f.client.ID, Name: "Mobile app", HourlyRate: decimal.RequireFromString("80.00"), Active: true,
	})
	require.NoError(t, err)

	f.addEntry(t, f.project.ID, utc(10, 9, 0, 0), utc(10, 11, 0, 0), "")
	f.addExpense(t, f.project.ID, jan(11), "25.00", "Fonts", true)
	f.addEntry(t, other.ID, utc(12, 9, 0, 0), utc(12, 10, 30, 0), "")

	// WHEN
	out, err := f.svc.GenerateForClient(ctx, billing.ClientInvoiceRequest{
		ClientID:     f.client.ID,
		ProjectIDs:   []billing.ProjectID{other.ID, f.project.ID},
		DateInvoiced: jan(31),
		UpToDate:     jan(31),
	})

	// THEN: One manual line per project, each at its own rate
	require.NoError(t, err)
	require.Len(t, out.LineItems, 2)
	assert.Equal(t, "Website - 2.0 hours, 1 expense", out.LineItems[0].Description)
	assertMoney(t, "225.00", out.LineItems[0].Amount)
	assert.Equal(t, "Mobile app - 1.5 hours", out.LineItems[1].Description)
	assertMoney(t, "120.00", out.LineItems[1].Amount)
	assertMoney(t, "345.00", out.Invoice.Total)
	assert.Nil(t, out.Invoice.ProjectID)
	assert.Equal(t, f.client.ID, out.Invoice.ClientID)

	// All underlying records are consumed
	_, err = f.svc.GenerateForClient(ctx, billing.ClientInvoiceRequest{
		ClientID: f.client.ID, DateInvoiced: jan(31), UpToDate: jan(31),
	})
	assert.ErrorIs(t, err, billing.ErrNoBillableItems)
}

func TestGenerateForClient_EmptyProjectIDsMeansActiveProjects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100.00")
	inactive, err := f.svc.CreateProject(ctx, billing.Project{
		ClientID: f.client.ID, Name: "Archived", HourlyRate: decimal.NewFromInt(10), Active: false,
	})
	require.NoError(t, err)
	f.addEntry(t, f.project.ID, utc(10, 9, 0, 0), utc(10, 10, 0, 0), "")
	f.addEntry(t, inactive.ID, utc(10, 9, 0, 0), utc(10, 10, 0, 0), "")

	out, err := f.svc.GenerateForClient(ctx, billing.ClientInvoiceRequest{
		ClientID: f.client.ID, DateInvoiced: jan(31), UpToDate: jan(31),
	})

	require.NoError(t, err)
	require.Len(t, out.LineItems, 1)
	assert.True(t, strings.HasPrefix(out.LineItems[0].Description, "Website"))
}

func TestGenerateForClient_RejectsForeignProject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100.00")
	stranger, err := f.svc.CreateClient(ctx, billing.Client{Name: "Globex"})
	require.NoError(t, err)
	theirs, err := f.svc.CreateProject(ctx, billing.Project{
		ClientID: stranger.ID, Name: "Theirs", HourlyRate: decimal.NewFromInt(10), Active: true,
	})
	require.NoError(t, err)
	f.addEntry(t, theirs.ID, utc(10, 9, 0, 0), utc(10, 10, 0, 0), "")

	_, err = f.svc.GenerateForClient(ctx, billing.ClientInvoiceRequest{
		ClientID: f.client.ID, ProjectIDs: []billing.ProjectID{theirs.ID}, DateInvoiced: jan(31), UpToDate: jan(31),
	})

	assert.ErrorIs(t, err, billing.ErrValidation)
	assert.Equal(t, int64(1), f.nextNumber(t))
}

func TestGenerateForClient_UnknownClient(t *testing.T) {
	f := newFixture(t, "100.00")

	_, err := f.svc.GenerateForClient(context.Background(), billing.ClientInvoiceRequest{
		ClientID: 404, DateInvoiced: jan(31), UpToDate: jan(31),
	})

	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// RECORDER
// =============================================================================

type recordingRecorder struct {
	mu        sync.Mutex
	generated []string
	failed    []string
}

func (r *recordingRecorder) InvoiceGenerated(scope string, lines []billing.LineItemDraft, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generated = append(r.generated, scope)
}

func (r *recordingRecorder) GenerationFailed(scope, reason string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, scope+":"+reason)
}

func TestService_RecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100.00")
	rec := &recordingRecorder{}
	svc := billing.NewService(f.store, billing.WithRecorder(rec))
	f.addEntry(t, f.project.ID, utc(10, 9, 0, 0), utc(10, 10, 0, 0), "")

	_, err := svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))
	require.NoError(t, err)
	_, err = svc.GenerateForProject(ctx, projectRequest(f.project.ID, jan(15)))
	require.Error(t, err)
	_, err = svc.GenerateForClient(ctx, billing.ClientInvoiceRequest{ClientID: 404, DateInvoiced: jan(1), UpToDate: jan(1)})
	require.Error(t, err)

	assert.Equal(t, []string{billing.ScopeProject}, rec.generated)
	assert.Equal(t, []string{"project:no_billable_items", "client:not_found"}, rec.failed)
}
