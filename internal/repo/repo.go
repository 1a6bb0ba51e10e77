package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rootra/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repo wraps all SQL access. Methods that accept a *sql.Tx participate in the
// caller's transaction; nil means autocommit.
type Repo struct {
	DB *sql.DB
}

func New(db *sql.DB) Repo {
	return Repo{DB: db}
}

func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.DB.ExecContext(ctx, query, args...)
}

func (r Repo) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...any) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return r.DB.QueryRowContext(ctx, query, args...)
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const batchColumns = `id, herb_name, quantity_kg, farmer_id, COALESCE(farmer_phone,''),
	current_holder_id, current_stage, flagged, COALESCE(flag_reason,''),
	origin_lat, origin_lng, COALESCE(origin_address,''), COALESCE(photos_json,''),
	organic, version, created_at, updated_at`

func scanBatch(row interface{ Scan(...any) error }) (domain.Batch, error) {
	var b domain.Batch
	var flagged, organic int
	var lat, lng sql.NullFloat64
	var address, photosJSON string
	err := row.Scan(&b.ID, &b.HerbName, &b.QuantityKg, &b.FarmerID, &b.FarmerPhone,
		&b.CurrentHolderID, &b.CurrentStage, &flagged, &b.FlagReason,
		&lat, &lng, &address, &photosJSON,
		&organic, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Batch{}, ErrNotFound
	}
	if err != nil {
		return domain.Batch{}, err
	}
	b.Flagged = flagged != 0
	b.Organic = organic != 0
	if lat.Valid || lng.Valid || address != "" {
		b.Origin = &domain.Location{Lat: lat.Float64, Lng: lng.Float64, Address: address}
	}
	if photosJSON != "" {
		if err := json.Unmarshal([]byte(photosJSON), &b.Photos); err != nil {
			return domain.Batch{}, fmt.Errorf("batch %s: photos: %w", b.ID, err)
		}
	}
	return b, nil
}

// InsertBatch stores a new batch row.
func (r Repo) InsertBatch(ctx context.Context, tx *sql.Tx, b domain.Batch) error {
	if b.ID == "" {
		return errors.New("id required")
	}
	var lat, lng *float64
	var address string
	if b.Origin != nil {
		lat, lng, address = &b.Origin.Lat, &b.Origin.Lng, b.Origin.Address
	}
	var photosJSON any
	if len(b.Photos) > 0 {
		raw, err := json.Marshal(b.Photos)
		if err != nil {
			return err
		}
		photosJSON = string(raw)
	}
	_, err := r.exec(ctx, tx, `INSERT INTO batches(
		id, herb_name, quantity_kg, farmer_id, farmer_phone,
		current_holder_id, current_stage, flagged, flag_reason,
		origin_lat, origin_lng, origin_address, photos_json,
		organic, version, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.HerbName, b.QuantityKg, b.FarmerID, nullable(b.FarmerPhone),
		b.CurrentHolderID, b.CurrentStage, boolInt(b.Flagged), nullable(b.FlagReason),
		nullableFloat(lat), nullableFloat(lng), nullable(address), photosJSON,
		boolInt(b.Organic), b.Version, b.CreatedAt, b.UpdatedAt)
	return err
}

// GetBatch returns a batch by ID with its certificate attached when present.
func (r Repo) GetBatch(ctx context.Context, id string) (domain.Batch, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=?`, id)
	b, err := scanBatch(row)
	if err != nil {
		return domain.Batch{}, err
	}
	cert, err := r.GetCertificate(ctx, id)
	if err == nil {
		b.Certificate = &cert
	} else if !errors.Is(err, ErrNotFound) {
		return domain.Batch{}, err
	}
	return b, nil
}

// GetBatchTx returns a batch by ID inside a transaction, without certificate.
func (r Repo) GetBatchTx(ctx context.Context, tx *sql.Tx, id string) (domain.Batch, error) {
	row := r.queryRow(ctx, tx, `SELECT `+batchColumns+` FROM batches WHERE id=?`, id)
	return scanBatch(row)
}

// BatchFilter narrows ListBatches.
type BatchFilter struct {
	Stage    domain.Stage
	HolderID string
	FarmerID string
	HerbName string
	Flagged  *bool
	Limit    int
}

// ListBatches returns batches matching the filter, newest first.
func (r Repo) ListBatches(ctx context.Context, f BatchFilter) ([]domain.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches`
	var clauses []string
	var args []any
	if f.Stage != "" {
		clauses = append(clauses, `current_stage=?`)
		args = append(args, f.Stage)
	}
	if f.HolderID != "" {
		clauses = append(clauses, `current_holder_id=?`)
		args = append(args, f.HolderID)
	}
	if f.FarmerID != "" {
		clauses = append(clauses, `farmer_id=?`)
		args = append(args, f.FarmerID)
	}
	if f.HerbName != "" {
		clauses = append(clauses, `herb_name=? COLLATE NOCASE`)
		args = append(args, f.HerbName)
	}
	if f.Flagged != nil {
		clauses = append(clauses, `flagged=?`)
		args = append(args, boolInt(*f.Flagged))
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
	var batches []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// AdvanceBatch moves a batch from fromStage to toStage with a compare-and-swap
// on the current stage. Returns false when the batch was not at fromStage or
// is flagged, which is how racing transitions lose.
func (r Repo) AdvanceBatch(ctx context.Context, tx *sql.Tx, id string, fromStage, toStage domain.Stage, holderID, updatedAt string) (bool, error) {
	res, err := r.exec(ctx, tx, `UPDATE batches
		SET current_stage=?, current_holder_id=?, version=version+1, updated_at=?
		WHERE id=? AND current_stage=? AND flagged=0`,
		toStage, holderID, updatedAt, id, fromStage)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetBatchFlag sets or clears the flagged overlay. The stage is untouched.
func (r Repo) SetBatchFlag(ctx context.Context, tx *sql.Tx, id string, flagged bool, reason, updatedAt string) error {
	res, err := r.exec(ctx, tx, `UPDATE batches
		SET flagged=?, flag_reason=?, version=version+1, updated_at=?
		WHERE id=?`,
		boolInt(flagged), nullable(reason), updatedAt, id)
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

// CountBatchesWithPrefix counts batch IDs starting with prefix, for sequence
// generation.
func (r Repo) CountBatchesWithPrefix(ctx context.Context, tx *sql.Tx, prefix string) (int, error) {
	row := r.queryRow(ctx, tx, `SELECT COUNT(*) FROM batches WHERE id LIKE ? ESCAPE '\'`,
		strings.ReplaceAll(strings.ReplaceAll(prefix, `_`, `\_`), `%`, `\%`)+`%`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
