package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rootra/internal/domain"
)

const alertColumns = `id, batch_id, type, COALESCE(description,''), severity, status,
	raised_by, COALESCE(location,''), created_at, updated_at`

func scanAlert(row interface{ Scan(...any) error }) (domain.FraudAlert, error) {
	var a domain.FraudAlert
	err := row.Scan(&a.ID, &a.BatchID, &a.Type, &a.Description, &a.Severity, &a.Status,
		&a.RaisedBy, &a.Location, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.FraudAlert{}, ErrNotFound
	}
	if err != nil {
		return domain.FraudAlert{}, err
	}
	return a, nil
}

// InsertAlert stores a new fraud alert.
func (r Repo) InsertAlert(ctx context.Context, tx *sql.Tx, a domain.FraudAlert) error {
	if a.ID == "" {
		return errors.New("id required")
	}
	if a.BatchID == "" {
		return errors.New("batch_id required")
	}
	_, err := r.exec(ctx, tx, `INSERT INTO fraud_alerts(
		id, batch_id, type, description, severity, status, raised_by, location, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.BatchID, a.Type, nullable(a.Description), a.Severity, a.Status,
		a.RaisedBy, nullable(a.Location), a.CreatedAt, a.UpdatedAt)
	return err
}

// GetAlert returns one alert by ID.
func (r Repo) GetAlert(ctx context.Context, id string) (domain.FraudAlert, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM fraud_alerts WHERE id=?`, id)
	return scanAlert(row)
}

// UpdateAlertStatus moves an alert to a new lifecycle status.
func (r Repo) UpdateAlertStatus(ctx context.Context, tx *sql.Tx, id string, status domain.AlertStatus, updatedAt string) error {
	res, err := r.exec(ctx, tx, `UPDATE fraud_alerts SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	BatchID  string
	Status   domain.AlertStatus
	Severity string
	Limit    int
}

// ListAlerts returns fraud alerts matching the filter, newest first.
func (r Repo) ListAlerts(ctx context.Context, f AlertFilter) ([]domain.FraudAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts`
	var clauses []string
	var args []any
	if f.BatchID != "" {
		clauses = append(clauses, `batch_id=?`)
		args = append(args, f.BatchID)
	}
	if f.Status != "" {
		clauses = append(clauses, `status=?`)
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		clauses = append(clauses, `severity=?`)
		args = append(args, f.Severity)
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var alerts []domain.FraudAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
