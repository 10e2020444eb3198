package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/timesheet/billing"
)

// schema is shared by both dialects. {{ID}} and {{DECIMAL}} are replaced
// per dialect; everything else is portable SQL.
const schema = `
-- Singleton settings row, sole source of invoice sequence numbers
CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	next_invoice_number BIGINT NOT NULL CHECK (next_invoice_number > 0),
	invoice_number_template TEXT NOT NULL,
	payment_term_days INTEGER NOT NULL,
	timezone TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS clients (
	id {{ID}},
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id {{ID}},
	client_id BIGINT NOT NULL REFERENCES clients(id),
	name TEXT NOT NULL,
	hourly_rate {{DECIMAL}} NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_projects_client ON projects(client_id);

CREATE TABLE IF NOT EXISTS invoices (
	id {{ID}},
	number TEXT NOT NULL UNIQUE,
	sequence BIGINT NOT NULL UNIQUE,
	client_id BIGINT NOT NULL REFERENCES clients(id),
	project_id BIGINT REFERENCES projects(id),
	date_invoiced TEXT NOT NULL,
	due_date TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('draft', 'sent', 'paid', 'cancelled')),
	subtotal {{DECIMAL}} NOT NULL,
	total {{DECIMAL}} NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_client ON invoices(client_id);

-- Invoiced rows must point at their invoice and be finished
CREATE TABLE IF NOT EXISTS time_entries (
	id {{ID}},
	project_id BIGINT NOT NULL REFERENCES projects(id),
	start_at TEXT NOT NULL,
	end_at TEXT,
	total_hours {{DECIMAL}} NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	is_invoiced BOOLEAN NOT NULL DEFAULT FALSE,
	invoice_id BIGINT REFERENCES invoices(id),
	CHECK (NOT is_invoiced OR (invoice_id IS NOT NULL AND end_at IS NOT NULL))
);

-- Selector hot path
CREATE INDEX IF NOT EXISTS idx_time_entries_billable
	ON time_entries(project_id, is_invoiced, start_at);
CREATE INDEX IF NOT EXISTS idx_time_entries_invoice ON time_entries(invoice_id);

CREATE TABLE IF NOT EXISTS expenses (
	id {{ID}},
	project_id BIGINT NOT NULL REFERENCES projects(id),
	expense_date TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	amount {{DECIMAL}} NOT NULL,
	is_billable BOOLEAN NOT NULL DEFAULT TRUE,
	is_invoiced BOOLEAN NOT NULL DEFAULT FALSE,
	invoice_id BIGINT REFERENCES invoices(id),
	CHECK (NOT is_invoiced OR invoice_id IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_expenses_billable
	ON expenses(project_id, is_invoiced, expense_date);
CREATE INDEX IF NOT EXISTS idx_expenses_invoice ON expenses(invoice_id);

-- Owned by the invoice; source links are weak
CREATE TABLE IF NOT EXISTS invoice_line_items (
	id {{ID}},
	invoice_id BIGINT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	type TEXT NOT NULL CHECK (type IN ('time', 'expense', 'manual')),
	description TEXT NOT NULL,
	quantity {{DECIMAL}} NOT NULL,
	unit_price {{DECIMAL}} NOT NULL,
	amount {{DECIMAL}} NOT NULL,
	linked_time_entry_id BIGINT REFERENCES time_entries(id) ON DELETE SET NULL,
	linked_expense_id BIGINT REFERENCES expenses(id) ON DELETE SET NULL,
	CHECK (linked_time_entry_id IS NULL OR linked_expense_id IS NULL)
);

CREATE INDEX IF NOT EXISTS idx_line_items_invoice ON invoice_line_items(invoice_id);
`

func (s *Store) schemaFor() string {
	id, dec := "INTEGER PRIMARY KEY AUTOINCREMENT", "TEXT"
	if s.dialect == DialectPostgres {
		id, dec = "BIGSERIAL PRIMARY KEY", "NUMERIC"
	}
	return strings.NewReplacer("{{ID}}", id, "{{DECIMAL}}", dec).Replace(schema)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	_, err := s.db.Exec(s.schemaFor())
	return err
}

// SeedSettings creates the settings row if it does not exist yet. An
// existing row, and its counter, are left untouched.
func (s *Store) SeedSettings(ctx context.Context, st billing.Settings) error {
	if err := billing.ValidateSettings(st); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO settings (id, next_invoice_number, invoice_number_template, payment_term_days, timezone)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		st.NextInvoiceNumber, st.InvoiceNumberTemplate, st.PaymentTermDays, st.Timezone,
	)
	if err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	return nil
}
