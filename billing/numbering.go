package billing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultInvoiceNumberTemplate renders sequence 7 as INV-0007.
const DefaultInvoiceNumberTemplate = "INV-{SEQ4}"

var seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)

// FormatInvoiceNumber renders a human-readable invoice number from a
// template, the invoice date and the reserved sequence.
//
// Tokens: {YYYY} {YY} {MM} {DD} {SEQ} {SEQn} (n = zero-padded width).
func FormatInvoiceNumber(template string, invoicedAt time.Time, seq int64) (string, error) {
	if template == "" {
		return "", fmt.Errorf("%w: invoice number template is empty", ErrValidation)
	}
	if seq <= 0 {
		return "", fmt.Errorf("%w: invalid invoice sequence %d", ErrValidation, seq)
	}

	out := template
	out = strings.ReplaceAll(out, "{YYYY}", invoicedAt.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", invoicedAt.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", invoicedAt.Format("01"))
	out = strings.ReplaceAll(out, "{DD}", invoicedAt.Format("02"))
	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))

	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 || width > 18 {
			return m
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("%w: unresolved token in invoice number template: %s", ErrValidation, out)
	}
	return out, nil
}

// ValidateNumberTemplate rejects templates that cannot render, or that would
// render the same number for two sequences.
func ValidateNumberTemplate(template string) error {
	if !strings.Contains(template, "{SEQ}") && !seqPadRe.MatchString(template) {
		return fmt.Errorf("%w: invoice number template must contain {SEQ} or {SEQn}", ErrValidation)
	}
	_, err := FormatInvoiceNumber(template, time.Now(), 1)
	return err
}
