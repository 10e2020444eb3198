/*
aggregator.go - Turns selected items into line-item drafts

PURPOSE:
  Pure computation, no I/O. Given a Selection and a rate, produce the
  ordered line drafts plus the ids of every source record the generator
  must mark invoiced.

TIME LINES:
  Per entry:  one line per entry, quantity = totalHours
              "{date} - {note}" or "Time entry - {date}"
  By day:     one line per business-local date of StartAt, quantity = Σ hours
              "Time entries for {date}" [+ " - " + deduped notes]
              Every entry in the bucket is marked, the line links none.

EXPENSE LINES:
  Always one per expense, quantity 1, unit price = amount.
  Description falls back to "Expense - {date}".

ROUNDING:
  amount = roundToCents(quantity × unitPrice) per line. Hours arrive
  pre-rounded to 0.1h and are never re-rounded here.

ORDER:
  Time lines first, then expense lines.
*/
package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type AggregateOptions struct {
	GroupByDay   bool
	IncludeNotes bool
	Calendar     Calendar
}

// Aggregation is the aggregator's output.
type Aggregation struct {
	Lines        []LineItemDraft
	TimeEntryIDs []TimeEntryID
	ExpenseIDs   []ExpenseID
}

func (a *Aggregation) append(other Aggregation) {
	a.Lines = append(a.Lines, other.Lines...)
	a.TimeEntryIDs = append(a.TimeEntryIDs, other.TimeEntryIDs...)
	a.ExpenseIDs = append(a.ExpenseIDs, other.ExpenseIDs...)
}

// Subtotal is roundToCents(Σ line amounts).
func (a Aggregation) Subtotal() decimal.Decimal {
	return SumAmounts(a.Lines)
}

// =============================================================================
// PROJECT-LEVEL AGGREGATION
// =============================================================================

// Aggregate builds the lines of a single-project invoice.
func Aggregate(sel Selection, rate decimal.Decimal, opts AggregateOptions) Aggregation {
	var out Aggregation
	if opts.GroupByDay {
		out.append(aggregateByDay(sel.TimeEntries, rate, opts))
	} else {
		out.append(aggregatePerEntry(sel.TimeEntries, rate, opts))
	}
	out.append(aggregateExpenses(sel.Expenses))
	return out
}

func aggregatePerEntry(entries []TimeEntry, rate decimal.Decimal, opts AggregateOptions) Aggregation {
	var out Aggregation
	for _, e := range entries {
		date := opts.Calendar.DateOf(e.StartAt).Format(DateLayout)
		desc := "Time entry - " + date
		if note := strings.TrimSpace(e.Note); opts.IncludeNotes && note != "" {
			desc = date + " - " + note
		}
		id := e.ID
		out.Lines = append(out.Lines, LineItemDraft{
			Type:              LineTime,
			Description:       desc,
			Quantity:          e.TotalHours,
			UnitPrice:         rate,
			Amount:            LineAmount(e.TotalHours, rate),
			LinkedTimeEntryID: &id,
		})
		out.TimeEntryIDs = append(out.TimeEntryIDs, e.ID)
	}
	return out
}

type dayBucket struct {
	date  string
	hours decimal.Decimal
	notes *noteSet
}

func aggregateByDay(entries []TimeEntry, rate decimal.Decimal, opts AggregateOptions) Aggregation {
	var out Aggregation
	var order []*dayBucket
	buckets := make(map[string]*dayBucket)

	for _, e := range entries {
		date := opts.Calendar.DateOf(e.StartAt).Format(DateLayout)
		b, ok := buckets[date]
		if !ok {
			b = &dayBucket{date: date, hours: decimal.Zero, notes: newNoteSet()}
			buckets[date] = b
			order = append(order, b)
		}
		b.hours = b.hours.Add(e.TotalHours)
		b.notes.add(e.Note)
		out.TimeEntryIDs = append(out.TimeEntryIDs, e.ID)
	}

	for _, b := range order {
		desc := "Time entries for " + b.date
		if opts.IncludeNotes && b.notes.len() > 0 {
			desc += " - " + b.notes.join(", ")
		}
		out.Lines = append(out.Lines, LineItemDraft{
			Type:        LineTime,
			Description: desc,
			Quantity:    b.hours,
			UnitPrice:   rate,
			Amount:      LineAmount(b.hours, rate),
		})
	}
	return out
}

func aggregateExpenses(expenses []Expense) Aggregation {
	var out Aggregation
	for _, x := range expenses {
		desc := strings.TrimSpace(x.Description)
		if desc == "" {
			desc = "Expense - " + x.ExpenseDate.Format(DateLayout)
		}
		id := x.ID
		out.Lines = append(out.Lines, LineItemDraft{
			Type:            LineExpense,
			Description:     desc,
			Quantity:        one,
			UnitPrice:       x.Amount,
			Amount:          RoundToCents(x.Amount),
			LinkedExpenseID: &id,
		})
		out.ExpenseIDs = append(out.ExpenseIDs, x.ID)
	}
	return out
}

// =============================================================================
// CLIENT-LEVEL AGGREGATION - One line per project
// =============================================================================

// ProjectSelection pairs a project with its own billable items.
type ProjectSelection struct {
	Project   Project
	Selection Selection
}

// AggregateByProject builds the lines of a client-level invoice. Each project
// contributes one manual line valued at its own rate; projects with nothing
// billable contribute nothing.
func AggregateByProject(projects []ProjectSelection) Aggregation {
	var out Aggregation
	for _, ps := range projects {
		sel := ps.Selection
		if sel.Empty() {
			continue
		}

		hours := decimal.Zero
		for _, e := range sel.TimeEntries {
			hours = hours.Add(e.TotalHours)
			out.TimeEntryIDs = append(out.TimeEntryIDs, e.ID)
		}
		expenses := decimal.Zero
		for _, x := range sel.Expenses {
			expenses = expenses.Add(x.Amount)
			out.ExpenseIDs = append(out.ExpenseIDs, x.ID)
		}

		amount := RoundToCents(LineAmount(hours, ps.Project.HourlyRate).Add(expenses))
		out.Lines = append(out.Lines, LineItemDraft{
			Type:        LineManual,
			Description: projectLineDescription(ps.Project.Name, hours, len(sel.TimeEntries), len(sel.Expenses)),
			Quantity:    one,
			UnitPrice:   amount,
			Amount:      amount,
		})
	}
	return out
}

func projectLineDescription(name string, hours decimal.Decimal, entries, expenses int) string {
	var parts []string
	if entries > 0 {
		parts = append(parts, formatHours(hours)+" hours")
	}
	if expenses > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", expenses, plural(expenses, "expense", "expenses")))
	}
	return name + " - " + strings.Join(parts, ", ")
}

func formatHours(h decimal.Decimal) string {
	s := h.String()
	if !strings.Contains(s, ".") {
		s = h.StringFixed(1)
	}
	return s
}

func plural(n int, singular, many string) string {
	if n == 1 {
		return singular
	}
	return many
}

// =============================================================================
// NOTE SET - Case-insensitive, first-seen order, first casing kept
// =============================================================================

type noteSet struct {
	seen  map[string]struct{}
	notes []string
}

func newNoteSet() *noteSet {
	return &noteSet{seen: make(map[string]struct{})}
}

func (s *noteSet) add(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	key := strings.ToLower(note)
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.notes = append(s.notes, note)
}

func (s *noteSet) len() int { return len(s.notes) }

func (s *noteSet) join(sep string) string { return strings.Join(s.notes, sep) }
