/*
generator.go - Invoice Transaction Orchestrator

PURPOSE:
  Runs selection, aggregation and persistence of a new invoice as ONE
  unit of work. Either the invoice, its lines, the marked source records
  and the advanced counter all commit, or none of them do.

STEP ORDER (inside Store.WithTx):
  1. lock project(s), read settings     -> NotFound
  2. select billable items              -> NoBillableItems
  3. aggregate into line drafts
  4. reserve invoice number             (UPDATE ... next = next + 1)
  5. insert header: draft, subtotal = total = 0
  6. insert line items
  7. mark every source record invoiced  -> ConcurrentInvoicing on 0 rows
  8. subtotal = total = roundToCents(Σ amounts), update header

ERRORS:
  Domain errors (NotFound, NoBillableItems, conflicts, validation) pass
  through unchanged. Anything else is wrapped in TransactionError naming
  the step. Nothing is retried here; a rolled-back call can be re-run
  safely because nothing was committed.

SEE ALSO:
  - selector.go, aggregator.go: pure halves of the pipeline
  - lifecycle.go: what happens to an invoice after generation
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// SERVICE
// =============================================================================

// Recorder receives generation outcomes. metrics.Invoicing implements it.
type Recorder interface {
	InvoiceGenerated(scope string, lines []LineItemDraft, elapsed time.Duration)
	GenerationFailed(scope, reason string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) InvoiceGenerated(string, []LineItemDraft, time.Duration) {}
func (nopRecorder) GenerationFailed(string, string, time.Duration)        {}

// Service is the billing engine: invoice generation plus the record and
// invoice operations that must respect the invoiced-immutability rule.
type Service struct {
	store    Store
	log      *zap.Logger
	recorder Recorder
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

// WithClock overrides time.Now, used for durations and record timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		log:      zap.NewNop(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store for read-only handlers.
func (s *Service) Store() Store { return s.store }

// =============================================================================
// REQUESTS
// =============================================================================

type ProjectInvoiceRequest struct {
	ProjectID    ProjectID
	DateInvoiced time.Time
	UpToDate     time.Time
	Notes        string
	GroupByDay   bool
	IncludeNotes bool
}

type ClientInvoiceRequest struct {
	ClientID     ClientID
	ProjectIDs   []ProjectID // empty = all active projects of the client
	DateInvoiced time.Time
	UpToDate     time.Time
	Notes        string
}

func validateDates(dateInvoiced, upTo time.Time) error {
	if dateInvoiced.IsZero() {
		return fmt.Errorf("%w: dateInvoiced is required", ErrValidation)
	}
	if upTo.IsZero() {
		return fmt.Errorf("%w: upToDate is required", ErrValidation)
	}
	return nil
}

const (
	ScopeProject = "project"
	ScopeClient  = "client"
)

// =============================================================================
// GENERATION
// =============================================================================

// GenerateForProject invoices a project's uninvoiced time and billable
// expenses up to and including req.UpToDate.
func (s *Service) GenerateForProject(ctx context.Context, req ProjectInvoiceRequest) (GeneratedInvoice, error) {
	start := s.now()
	var out GeneratedInvoice
	var lines []LineItemDraft

	err := validateDates(req.DateInvoiced, req.UpToDate)
	if err == nil {
		err = s.store.WithTx(ctx, func(tx Tx) error {
			project, err := tx.LockProject(ctx, req.ProjectID)
			if err != nil {
				return stepError("lock project", err)
			}
			settings, err := tx.GetSettings(ctx)
			if err != nil {
				return stepError("read settings", err)
			}
			cal, err := settings.Calendar()
			if err != nil {
				return stepError("load calendar", err)
			}

			sel, err := SelectBillable(ctx, tx, cal, []ProjectID{project.ID}, req.UpToDate)
			if err != nil {
				return stepError("select items", err)
			}
			agg := Aggregate(sel, project.HourlyRate, AggregateOptions{
				GroupByDay:   req.GroupByDay,
				IncludeNotes: req.IncludeNotes,
				Calendar:     cal,
			})
			lines = agg.Lines

			pid := project.ID
			header := Invoice{
				ClientID:     project.ClientID,
				ProjectID:    &pid,
				DateInvoiced: req.DateInvoiced,
				Notes:        req.Notes,
			}
			out, err = s.persistInvoice(ctx, tx, settings, header, agg)
			return err
		})
	}

	err = finalizeError(err)
	s.observe(ScopeProject, start, out, lines, err)
	return out, err
}

// GenerateForClient invoices several projects of one client at once, one
// line per project.
func (s *Service) GenerateForClient(ctx context.Context, req ClientInvoiceRequest) (GeneratedInvoice, error) {
	start := s.now()
	var out GeneratedInvoice
	var lines []LineItemDraft

	err := validateDates(req.DateInvoiced, req.UpToDate)
	if err == nil {
		err = s.store.WithTx(ctx, func(tx Tx) error {
			client, err := tx.GetClient(ctx, req.ClientID)
			if err != nil {
				return stepError("read client", err)
			}
			projects, err := lockClientProjects(ctx, tx, client.ID, req.ProjectIDs)
			if err != nil {
				return stepError("lock projects", err)
			}
			settings, err := tx.GetSettings(ctx)
			if err != nil {
				return stepError("read settings", err)
			}
			cal, err := settings.Calendar()
			if err != nil {
				return stepError("load calendar", err)
			}

			ids := make([]ProjectID, len(projects))
			for i, p := range projects {
				ids[i] = p.ID
			}
			if len(ids) == 0 {
				return &NoBillableItemsError{UpTo: req.UpToDate}
			}
			sel, err := SelectBillable(ctx, tx, cal, ids, req.UpToDate)
			if err != nil {
				return stepError("select items", err)
			}

			perProject := make([]ProjectSelection, len(projects))
			for i, p := range projects {
				perProject[i] = ProjectSelection{Project: p, Selection: sel.ForProject(p.ID)}
			}
			agg := AggregateByProject(perProject)
			lines = agg.Lines

			header := Invoice{
				ClientID:     client.ID,
				DateInvoiced: req.DateInvoiced,
				Notes:        req.Notes,
			}
			out, err = s.persistInvoice(ctx, tx, settings, header, agg)
			return err
		})
	}

	err = finalizeError(err)
	s.observe(ScopeClient, start, out, lines, err)
	return out, err
}

// lockClientProjects resolves and locks the projects a client-level invoice
// covers, in ascending id order so concurrent callers lock in the same order.
func lockClientProjects(ctx context.Context, tx Tx, clientID ClientID, requested []ProjectID) ([]Project, error) {
	if len(requested) == 0 {
		active := true
		listed, err := tx.ListProjects(ctx, ProjectFilter{ClientID: &clientID, Active: &active})
		if err != nil {
			return nil, err
		}
		for _, p := range listed {
			requested = append(requested, p.ID)
		}
	}

	ids := dedupProjectIDs(requested)
	projects := make([]Project, 0, len(ids))
	for _, id := range ids {
		p, err := tx.LockProject(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.ClientID != clientID {
			return nil, fmt.Errorf("%w: project %d does not belong to client %d", ErrValidation, p.ID, clientID)
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func dedupProjectIDs(ids []ProjectID) []ProjectID {
	seen := make(map[ProjectID]bool, len(ids))
	out := make([]ProjectID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// persistInvoice performs steps 4-8. The header carries client, project,
// date and notes; everything else is filled in here.
func (s *Service) persistInvoice(ctx context.Context, tx Tx, settings Settings, inv Invoice, agg Aggregation) (GeneratedInvoice, error) {
	seq, err := tx.ReserveInvoiceNumber(ctx)
	if err != nil {
		return GeneratedInvoice{}, stepError("reserve number", err)
	}
	number, err := FormatInvoiceNumber(settings.InvoiceNumberTemplate, inv.DateInvoiced, seq)
	if err != nil {
		return GeneratedInvoice{}, stepError("format number", err)
	}

	inv.Number = number
	inv.Sequence = seq
	inv.DueDate = AddDays(inv.DateInvoiced, settings.PaymentTermDays)
	inv.Status = StatusDraft
	inv.Subtotal = zeroMoney
	inv.Total = zeroMoney
	inv.CreatedAt = s.now().UTC()
	if err := tx.InsertInvoice(ctx, &inv); err != nil {
		return GeneratedInvoice{}, stepError("insert invoice", err)
	}

	items := make([]LineItem, 0, len(agg.Lines))
	for _, draft := range agg.Lines {
		if err := draft.Validate(); err != nil {
			return GeneratedInvoice{}, err
		}
		li := LineItem{InvoiceID: inv.ID, LineItemDraft: draft}
		if err := tx.InsertLineItem(ctx, &li); err != nil {
			return GeneratedInvoice{}, stepError("insert line item", err)
		}
		items = append(items, li)
	}

	for _, id := range agg.TimeEntryIDs {
		ok, err := tx.MarkTimeEntryInvoiced(ctx, id, inv.ID)
		if err != nil {
			return GeneratedInvoice{}, stepError("mark time entry", err)
		}
		if !ok {
			return GeneratedInvoice{}, &ConflictError{Kind: "time_entry", ID: int64(id)}
		}
	}
	for _, id := range agg.ExpenseIDs {
		ok, err := tx.MarkExpenseInvoiced(ctx, id, inv.ID)
		if err != nil {
			return GeneratedInvoice{}, stepError("mark expense", err)
		}
		if !ok {
			return GeneratedInvoice{}, &ConflictError{Kind: "expense", ID: int64(id)}
		}
	}

	inv.Subtotal = agg.Subtotal()
	inv.Total = inv.Subtotal
	if err := tx.UpdateInvoiceTotals(ctx, inv.ID, inv.Subtotal, inv.Total); err != nil {
		return GeneratedInvoice{}, stepError("update totals", err)
	}

	return GeneratedInvoice{Invoice: inv, LineItems: items}, nil
}

// =============================================================================
// ERROR & OUTCOME HANDLING
// =============================================================================

func stepError(step string, err error) error {
	if err == nil || isDomainError(err) || errors.Is(err, ErrTransactionFailed) {
		return err
	}
	return &TransactionError{Step: step, Err: err}
}

// finalizeError wraps failures raised by the transaction boundary itself
// (begin, commit, context cancellation).
func finalizeError(err error) error {
	return stepError("commit", err)
}

func failureReason(err error) string {
	switch {
	case IsNotFound(err):
		return "not_found"
	case errors.Is(err, ErrNoBillableItems):
		return "no_billable_items"
	case errors.Is(err, ErrConcurrentInvoicing):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "transaction"
	}
}

func (s *Service) observe(scope string, start time.Time, out GeneratedInvoice, lines []LineItemDraft, err error) {
	elapsed := s.now().Sub(start)
	if err != nil {
		reason := failureReason(err)
		s.recorder.GenerationFailed(scope, reason, elapsed)
		s.log.Warn("invoice generation failed",
			zap.String("scope", scope),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	s.recorder.InvoiceGenerated(scope, lines, elapsed)
	s.log.Info("invoice generated",
		zap.String("scope", scope),
		zap.String("number", out.Invoice.Number),
		zap.Int64("invoice_id", int64(out.Invoice.ID)),
		zap.Int("line_items", len(out.LineItems)),
		zap.String("total", out.Invoice.Total.StringFixed(2)),
		zap.Duration("elapsed", elapsed),
	)
}
