package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// INVOICE STATE MACHINE
// =============================================================================
//
//	draft ──► sent ──► paid
//	  │        │
//	  └────────┴──► cancelled
//
// Cancelling releases the invoice's time entries and expenses so they can be
// billed again. Paid and cancelled are final.

var transitions = map[InvoiceStatus][]InvoiceStatus{
	StatusDraft: {StatusSent, StatusCancelled},
	StatusSent:  {StatusPaid, StatusCancelled},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to InvoiceStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetInvoice(ctx context.Context, id InvoiceID) (GeneratedInvoice, error) {
	var out GeneratedInvoice
	err := s.store.WithTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		items, err := tx.ListLineItems(ctx, id)
		if err != nil {
			return err
		}
		out = GeneratedInvoice{Invoice: inv, LineItems: items}
		return nil
	})
	return out, err
}

func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error) {
	var out []Invoice
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListInvoices(ctx, f)
		return err
	})
	return out, err
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// TransitionInvoice moves an invoice to a new status.
func (s *Service) TransitionInvoice(ctx context.Context, id InvoiceID, to InvoiceStatus) (Invoice, error) {
	var out Invoice
	err := s.store.WithTx(ctx, func(tx Tx) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(inv.Status, to) {
			return &TransitionError{From: inv.Status, To: to}
		}
		if to == StatusCancelled {
			if err := tx.ReleaseInvoiceItems(ctx, id); err != nil {
				return err
			}
		}
		if err := tx.UpdateInvoiceStatus(ctx, id, to); err != nil {
			return err
		}
		inv.Status = to
		out = inv
		return nil
	})
	if err == nil {
		s.log.Info("invoice status changed",
			zap.Int64("invoice_id", int64(id)),
			zap.String("number", out.Number),
			zap.String("status", string(to)),
		)
	}
	return out, err
}

// DeleteInvoice removes a draft invoice and releases its source records.
func (s *Service) DeleteInvoice(ctx context.Context, id InvoiceID) error {
	return s.store.WithTx(ctx, func(tx Tx) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return fmt.Errorf("%w: only draft invoices can be deleted, invoice %s is %s",
				ErrInvalidTransition, inv.Number, inv.Status)
		}
		if err := tx.ReleaseInvoiceItems(ctx, id); err != nil {
			return err
		}
		return tx.DeleteInvoice(ctx, id)
	})
}

// =============================================================================
// MANUAL LINES
// =============================================================================

type ManualLineRequest struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

func (r ManualLineRequest) validate() error {
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrValidation)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if !IsWholeCents(r.UnitPrice) {
		return fmt.Errorf("%w: unit price %s has more than 2 decimal places", ErrValidation, r.UnitPrice)
	}
	return nil
}

// AddManualLine appends a manual line to a draft and recomputes its totals
// in the same transaction.
func (s *Service) AddManualLine(ctx context.Context, id InvoiceID, req ManualLineRequest) (GeneratedInvoice, error) {
	if err := req.validate(); err != nil {
		return GeneratedInvoice{}, err
	}

	var out GeneratedInvoice
	err := s.store.WithTx(ctx, func(tx Tx) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return fmt.Errorf("%w: lines can only be added to drafts, invoice %s is %s",
				ErrInvalidTransition, inv.Number, inv.Status)
		}

		li := LineItem{
			InvoiceID: id,
			LineItemDraft: LineItemDraft{
				Type:        LineManual,
				Description: strings.TrimSpace(req.Description),
				Quantity:    req.Quantity,
				UnitPrice:   req.UnitPrice,
				Amount:      LineAmount(req.Quantity, req.UnitPrice),
			},
		}
		if err := tx.InsertLineItem(ctx, &li); err != nil {
			return err
		}

		items, err := tx.ListLineItems(ctx, id)
		if err != nil {
			return err
		}
		drafts := make([]LineItemDraft, len(items))
		for i, it := range items {
			drafts[i] = it.LineItemDraft
		}
		inv.Subtotal = SumAmounts(drafts)
		inv.Total = inv.Subtotal
		if err := tx.UpdateInvoiceTotals(ctx, id, inv.Subtotal, inv.Total); err != nil {
			return err
		}
		out = GeneratedInvoice{Invoice: inv, LineItems: items}
		return nil
	})
	return out, err
}
