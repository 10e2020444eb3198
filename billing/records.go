/*
records.go - Settings, catalog, time entries and expenses

PURPOSE:
  Validation and bookkeeping for the records the generator consumes.
  Each operation is its own transaction.

INVOICED IMMUTABILITY:
  A time entry or expense with IsInvoiced=true cannot be updated or
  deleted. The only way back is cancelling or deleting its invoice,
  which releases it (see lifecycle.go).
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Service) Settings(ctx context.Context) (Settings, error) {
	var out Settings
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.GetSettings(ctx)
		return err
	})
	return out, err
}

// ValidateSettings checks a settings value in isolation.
func ValidateSettings(st Settings) error {
	if st.NextInvoiceNumber < 1 {
		return fmt.Errorf("%w: nextInvoiceNumber must be at least 1", ErrValidation)
	}
	if st.PaymentTermDays < 0 {
		return fmt.Errorf("%w: paymentTermDays cannot be negative", ErrValidation)
	}
	if err := ValidateNumberTemplate(st.InvoiceNumberTemplate); err != nil {
		return err
	}
	_, err := NewCalendar(st.Timezone)
	return err
}

// UpdateSettings replaces the settings row. The counter may only move
// forward, otherwise already issued numbers could be handed out again.
func (s *Service) UpdateSettings(ctx context.Context, st Settings) (Settings, error) {
	if err := ValidateSettings(st); err != nil {
		return Settings{}, err
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetSettings(ctx)
		if err != nil {
			return err
		}
		if st.NextInvoiceNumber < current.NextInvoiceNumber {
			return fmt.Errorf("%w: nextInvoiceNumber cannot go back from %d to %d",
				ErrValidation, current.NextInvoiceNumber, st.NextInvoiceNumber)
		}
		return tx.UpdateSettings(ctx, st)
	})
	return st, err
}

// =============================================================================
// CLIENTS & PROJECTS
// =============================================================================

func (s *Service) CreateClient(ctx context.Context, c Client) (Client, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Client{}, fmt.Errorf("%w: client name is required", ErrValidation)
	}
	c.CreatedAt = s.now().UTC()
	err := s.store.WithTx(ctx, func(tx Tx) error {
		return tx.CreateClient(ctx, &c)
	})
	return c, err
}

func (s *Service) GetClient(ctx context.Context, id ClientID) (Client, error) {
	var out Client
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.GetClient(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) ListClients(ctx context.Context) ([]Client, error) {
	var out []Client
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListClients(ctx)
		return err
	})
	return out, err
}

func validateProject(p Project) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: project name is required", ErrValidation)
	}
	if p.HourlyRate.IsNegative() {
		return fmt.Errorf("%w: hourly rate cannot be negative", ErrValidation)
	}
	if !IsWholeCents(p.HourlyRate) {
		return fmt.Errorf("%w: hourly rate %s has more than 2 decimal places", ErrValidation, p.HourlyRate)
	}
	return nil
}

func (s *Service) CreateProject(ctx context.Context, p Project) (Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := validateProject(p); err != nil {
		return Project{}, err
	}
	p.CreatedAt = s.now().UTC()
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetClient(ctx, p.ClientID); err != nil {
			return err
		}
		return tx.CreateProject(ctx, &p)
	})
	return p, err
}

func (s *Service) GetProject(ctx context.Context, id ProjectID) (Project, error) {
	var out Project
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.GetProject(ctx, id)
		return err
	})
	return out, err
}

func (s *Service) ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error) {
	var out []Project
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListProjects(ctx, f)
		return err
	})
	return out, err
}

// ProjectPatch carries the fields a project update may change.
type ProjectPatch struct {
	Name       *string
	HourlyRate *decimal.Decimal
	Active     *bool
}

// UpdateProject changes name, rate or active flag. A rate change only affects
// invoices generated afterwards.
func (s *Service) UpdateProject(ctx context.Context, id ProjectID, patch ProjectPatch) (Project, error) {
	var out Project
	err := s.store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.LockProject(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			p.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.HourlyRate != nil {
			p.HourlyRate = *patch.HourlyRate
		}
		if patch.Active != nil {
			p.Active = *patch.Active
		}
		if err := validateProject(p); err != nil {
			return err
		}
		out = p
		return tx.UpdateProject(ctx, p)
	})
	return out, err
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

// TimeEntryInput is a manually logged span. A nil EndAt leaves the entry running.
type TimeEntryInput struct {
	ProjectID ProjectID
	StartAt   time.Time
	EndAt     *time.Time
	Note      string
}

func (in TimeEntryInput) build() (TimeEntry, error) {
	if in.StartAt.IsZero() {
		return TimeEntry{}, fmt.Errorf("%w: startAt is required", ErrValidation)
	}
	e := TimeEntry{
		ProjectID:  in.ProjectID,
		StartAt:    in.StartAt.UTC(),
		Note:       strings.TrimSpace(in.Note),
		TotalHours: decimal.Zero,
	}
	if in.EndAt != nil {
		end := in.EndAt.UTC()
		if end.Before(e.StartAt) {
			return TimeEntry{}, fmt.Errorf("%w: endAt is before startAt", ErrValidation)
		}
		e.EndAt = &end
		e.TotalHours = RoundUpToSixMinutes(end.Sub(e.StartAt))
	}
	return e, nil
}

func (s *Service) CreateTimeEntry(ctx context.Context, in TimeEntryInput) (TimeEntry, error) {
	e, err := in.build()
	if err != nil {
		return TimeEntry{}, err
	}
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetProject(ctx, e.ProjectID); err != nil {
			return err
		}
		return tx.CreateTimeEntry(ctx, &e)
	})
	return e, err
}

func (s *Service) UpdateTimeEntry(ctx context.Context, id TimeEntryID, in TimeEntryInput) (TimeEntry, error) {
	e, err := in.build()
	if err != nil {
		return TimeEntry{}, err
	}
	err = s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetTimeEntry(ctx, id)
		if err != nil {
			return err
		}
		if err := timeEntryMutable(current); err != nil {
			return err
		}
		if e.ProjectID == 0 {
			e.ProjectID = current.ProjectID
		} else if e.ProjectID != current.ProjectID {
			if _, err := tx.GetProject(ctx, e.ProjectID); err != nil {
				return err
			}
		}
		e.ID = id
		return tx.UpdateTimeEntry(ctx, e)
	})
	return e, err
}

func (s *Service) DeleteTimeEntry(ctx context.Context, id TimeEntryID) error {
	return s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetTimeEntry(ctx, id)
		if err != nil {
			return err
		}
		if err := timeEntryMutable(current); err != nil {
			return err
		}
		return tx.DeleteTimeEntry(ctx, id)
	})
}

func (s *Service) ListTimeEntries(ctx context.Context, f ItemFilter) ([]TimeEntry, error) {
	var out []TimeEntry
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetProject(ctx, f.ProjectID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListTimeEntries(ctx, f)
		return err
	})
	return out, err
}

func timeEntryMutable(e TimeEntry) error {
	if !e.IsInvoiced {
		return nil
	}
	var inv InvoiceID
	if e.InvoiceID != nil {
		inv = *e.InvoiceID
	}
	return &ImmutableError{Kind: "time_entry", ID: int64(e.ID), InvoiceID: inv}
}

// =============================================================================
// EXPENSES
// =============================================================================

type ExpenseInput struct {
	ProjectID   ProjectID
	ExpenseDate time.Time
	Description string
	Amount      decimal.Decimal
	IsBillable  bool
}

func (in ExpenseInput) build() (Expense, error) {
	if in.ExpenseDate.IsZero() {
		return Expense{}, fmt.Errorf("%w: expenseDate is required", ErrValidation)
	}
	if in.Amount.IsNegative() {
		return Expense{}, fmt.Errorf("%w: amount cannot be negative", ErrValidation)
	}
	y, m, d := in.ExpenseDate.Date()
	return Expense{
		ProjectID:   in.ProjectID,
		ExpenseDate: Date(y, m, d),
		Description: strings.TrimSpace(in.Description),
		Amount:      RoundToCents(in.Amount),
		IsBillable:  in.IsBillable,
	}, nil
}

func (s *Service) CreateExpense(ctx context.Context, in ExpenseInput) (Expense, error) {
	x, err := in.build()
	if err != nil {
		return Expense{}, err
	}
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetProject(ctx, x.ProjectID); err != nil {
			return err
		}
		return tx.CreateExpense(ctx, &x)
	})
	return x, err
}

func (s *Service) UpdateExpense(ctx context.Context, id ExpenseID, in ExpenseInput) (Expense, error) {
	x, err := in.build()
	if err != nil {
		return Expense{}, err
	}
	err = s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		if err := expenseMutable(current); err != nil {
			return err
		}
		if x.ProjectID == 0 {
			x.ProjectID = current.ProjectID
		} else if x.ProjectID != current.ProjectID {
			if _, err := tx.GetProject(ctx, x.ProjectID); err != nil {
				return err
			}
		}
		x.ID = id
		return tx.UpdateExpense(ctx, x)
	})
	return x, err
}

func (s *Service) DeleteExpense(ctx context.Context, id ExpenseID) error {
	return s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		if err := expenseMutable(current); err != nil {
			return err
		}
		return tx.DeleteExpense(ctx, id)
	})
}

func (s *Service) ListExpenses(ctx context.Context, f ItemFilter) ([]Expense, error) {
	var out []Expense
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetProject(ctx, f.ProjectID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListExpenses(ctx, f)
		return err
	})
	return out, err
}

func expenseMutable(x Expense) error {
	if !x.IsInvoiced {
		return nil
	}
	var inv InvoiceID
	if x.InvoiceID != nil {
		inv = *x.InvoiceID
	}
	return &ImmutableError{Kind: "expense", ID: int64(x.ID), InvoiceID: inv}
}

// =============================================================================
// UNBILLED SUMMARY - Lets the UI disable invoice creation up front
// =============================================================================

type UnbilledSummary struct {
	ProjectID     ProjectID
	UpToDate      time.Time
	TimeEntries   int
	Hours         decimal.Decimal
	TimeAmount    decimal.Decimal
	Expenses      int
	ExpenseAmount decimal.Decimal
	Billable      bool
}

// Unbilled previews what GenerateForProject would pick up, without writing.
// The time amount is computed per entry, matching ungrouped generation.
func (s *Service) Unbilled(ctx context.Context, projectID ProjectID, upTo time.Time) (UnbilledSummary, error) {
	out := UnbilledSummary{
		ProjectID:     projectID,
		UpToDate:      upTo,
		Hours:         decimal.Zero,
		TimeAmount:    zeroMoney,
		ExpenseAmount: zeroMoney,
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		project, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		settings, err := tx.GetSettings(ctx)
		if err != nil {
			return err
		}
		cal, err := settings.Calendar()
		if err != nil {
			return err
		}
		sel, err := SelectBillable(ctx, tx, cal, []ProjectID{projectID}, upTo)
		if err != nil {
			if errors.Is(err, ErrNoBillableItems) {
				return nil
			}
			return err
		}

		agg := Aggregate(sel, project.HourlyRate, AggregateOptions{Calendar: cal})
		for _, l := range agg.Lines {
			switch l.Type {
			case LineTime:
				out.Hours = out.Hours.Add(l.Quantity)
				out.TimeAmount = out.TimeAmount.Add(l.Amount)
			case LineExpense:
				out.ExpenseAmount = out.ExpenseAmount.Add(l.Amount)
			case LineManual:
			}
		}
		out.TimeEntries = len(sel.TimeEntries)
		out.Expenses = len(sel.Expenses)
		out.Billable = !sel.Empty()
		return nil
	})
	return out, err
}
