package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/timesheet/billing"
)

// =============================================================================
// SETTINGS
// =============================================================================

func (t *txStore) GetSettings(ctx context.Context) (billing.Settings, error) {
	var row settingsRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT next_invoice_number, invoice_number_template, payment_term_days, timezone
		FROM settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Settings{}, errors.New("settings row has not been seeded")
	}
	if err != nil {
		return billing.Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	return row.toSettings(), nil
}

// UpdateSettings refuses to move the counter backwards. The guard lives in
// the WHERE clause so a generation committed since the caller's read wins.
func (t *txStore) UpdateSettings(ctx context.Context, st billing.Settings) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE settings SET
			next_invoice_number = ?, invoice_number_template = ?,
			payment_term_days = ?, timezone = ?
		WHERE id = 1 AND next_invoice_number <= ?`),
		st.NextInvoiceNumber, st.InvoiceNumberTemplate, st.PaymentTermDays, st.Timezone,
		st.NextInvoiceNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: nextInvoiceNumber %d is behind the current counter",
			billing.ErrValidation, st.NextInvoiceNumber)
	}
	return nil
}

// ReserveInvoiceNumber increments the counter in the database, never in
// application memory, so the row lock serializes concurrent callers.
func (t *txStore) ReserveInvoiceNumber(ctx context.Context) (int64, error) {
	var next int64
	err := t.tx.GetContext(ctx, &next, `
		UPDATE settings SET next_invoice_number = next_invoice_number + 1
		WHERE id = 1
		RETURNING next_invoice_number`)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve invoice number: %w", err)
	}
	return next - 1, nil
}

// =============================================================================
// CLIENTS
// =============================================================================

func (t *txStore) CreateClient(ctx context.Context, c *billing.Client) error {
	var id int64
	err := t.tx.GetContext(ctx, &id, t.tx.Rebind(`
		INSERT INTO clients (name, email, address, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`),
		c.Name, c.Email, c.Address, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	c.ID = billing.ClientID(id)
	return nil
}

func (t *txStore) GetClient(ctx context.Context, id billing.ClientID) (billing.Client, error) {
	var row clientRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(`SELECT `+clientColumns+` FROM clients WHERE id = ?`), int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Client{}, &billing.NotFoundError{Kind: "client", ID: int64(id)}
	}
	if err != nil {
		return billing.Client{}, fmt.Errorf("failed to get client: %w", err)
	}
	return row.toClient()
}

func (t *txStore) ListClients(ctx context.Context) ([]billing.Client, error) {
	var rows []clientRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT `+clientColumns+` FROM clients ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	out := make([]billing.Client, 0, len(rows))
	for _, r := range rows {
		c, err := r.toClient()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

func (t *txStore) CreateProject(ctx context.Context, p *billing.Project) error {
	var id int64
	err := t.tx.GetContext(ctx, &id, t.tx.Rebind(`
		INSERT INTO projects (client_id, name, hourly_rate, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		int64(p.ClientID), p.Name, p.HourlyRate, p.Active, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	p.ID = billing.ProjectID(id)
	return nil
}

func (t *txStore) getProject(ctx context.Context, id billing.ProjectID, suffix string) (billing.Project, error) {
	var row projectRow
	err := t.tx.GetContext(ctx, &row, t.tx.Rebind(`SELECT `+projectColumns+` FROM projects WHERE id = ?`+suffix), int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Project{}, &billing.NotFoundError{Kind: "project", ID: int64(id)}
	}
	if err != nil {
		return billing.Project{}, fmt.Errorf("failed to get project: %w", err)
	}
	return row.toProject()
}

func (t *txStore) GetProject(ctx context.Context, id billing.ProjectID) (billing.Project, error) {
	return t.getProject(ctx, id, "")
}

// LockProject is the generator's serialization point for one project.
func (t *txStore) LockProject(ctx context.Context, id billing.ProjectID) (billing.Project, error) {
	return t.getProject(ctx, id, t.forUpdate())
}

func (t *txStore) ListProjects(ctx context.Context, f billing.ProjectFilter) ([]billing.Project, error) {
	var conditions []string
	var args []any
	if f.ClientID != nil {
		conditions = append(conditions, "client_id = ?")
		args = append(args, int64(*f.ClientID))
	}
	if f.Active != nil {
		conditions = append(conditions, "active = ?")
		args = append(args, *f.Active)
	}

	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	var rows []projectRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	out := make([]billing.Project, 0, len(rows))
	for _, r := range rows {
		p, err := r.toProject()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *txStore) UpdateProject(ctx context.Context, p billing.Project) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE projects SET name = ?, hourly_rate = ?, active = ? WHERE id = ?`),
		p.Name, p.HourlyRate, p.Active, int64(p.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return &billing.NotFoundError{Kind: "project", ID: int64(p.ID)}
	}
	return nil
}
