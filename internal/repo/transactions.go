package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rootra/internal/domain"
)

const transactionColumns = `seq, event_id, batch_id, COALESCE(from_holder_id,''), to_holder_id,
	transition, COALESCE(from_stage,''), COALESCE(to_stage,''),
	location_lat, location_lng, COALESCE(location_address,''),
	COALESCE(notes,''), COALESCE(payment_status,''), ts`

func scanTransaction(row interface{ Scan(...any) error }) (domain.TransactionEvent, error) {
	var e domain.TransactionEvent
	var lat, lng sql.NullFloat64
	var address string
	err := row.Scan(&e.Seq, &e.EventID, &e.BatchID, &e.FromHolderID, &e.ToHolderID,
		&e.Transition, &e.FromStage, &e.ToStage,
		&lat, &lng, &address,
		&e.Notes, &e.PaymentStatus, &e.Timestamp)
	if err == sql.ErrNoRows {
		return domain.TransactionEvent{}, ErrNotFound
	}
	if err != nil {
		return domain.TransactionEvent{}, err
	}
	if lat.Valid || lng.Valid || address != "" {
		e.Location = &domain.Location{Lat: lat.Float64, Lng: lng.Float64, Address: address}
	}
	return e, nil
}

// AppendTransaction inserts one event log row and returns the assigned
// sequence. Rows are never updated or deleted.
func (r Repo) AppendTransaction(ctx context.Context, tx *sql.Tx, e domain.TransactionEvent) (int64, error) {
	if e.EventID == "" {
		return 0, errors.New("event_id required")
	}
	if e.BatchID == "" {
		return 0, errors.New("batch_id required")
	}
	var lat, lng *float64
	var address string
	if e.Location != nil {
		lat, lng, address = &e.Location.Lat, &e.Location.Lng, e.Location.Address
	}
	res, err := r.exec(ctx, tx, `INSERT INTO transactions(
		event_id, batch_id, from_holder_id, to_holder_id,
		transition, from_stage, to_stage,
		location_lat, location_lng, location_address,
		notes, payment_status, ts)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.EventID, e.BatchID, nullable(e.FromHolderID), e.ToHolderID,
		e.Transition, nullable(string(e.FromStage)), nullable(string(e.ToStage)),
		nullableFloat(lat), nullableFloat(lng), nullable(address),
		nullable(e.Notes), nullable(e.PaymentStatus), e.Timestamp)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListTransactions returns the event log for a batch in append order.
func (r Repo) ListTransactions(ctx context.Context, batchID string) ([]domain.TransactionEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE batch_id=? ORDER BY seq ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// GetTransaction returns one event by its UUID.
func (r Repo) GetTransaction(ctx context.Context, eventID string) (domain.TransactionEvent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE event_id=?`, eventID)
	return scanTransaction(row)
}

// TailTransactions returns up to limit events with seq > after, oldest first.
// This is the cursor feed the webhook dispatcher and `log tail` consume.
func (r Repo) TailTransactions(ctx context.Context, after int64, limit int, transitions []string) ([]domain.TransactionEvent, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE seq > ?`
	args := []any{after}
	if len(transitions) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(transitions)), ",")
		query += ` AND transition IN (` + placeholders + `)`
		for _, t := range transitions {
			args = append(args, t)
		}
	}
	query += ` ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]domain.TransactionEvent, error) {
	var events []domain.TransactionEvent
	for rows.Next() {
		e, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
