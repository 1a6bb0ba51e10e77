package repo

import (
	"context"
	"database/sql"
	"errors"

	"rootra/internal/domain"
)

// UpsertCertificate stores the certificate for a batch, replacing any previous
// one. Re-issuing is how processors renew expired certificates.
func (r Repo) UpsertCertificate(ctx context.Context, tx *sql.Tx, c domain.QualityCertificate) error {
	if c.BatchID == "" {
		return errors.New("batch_id required")
	}
	if c.ID == "" {
		return errors.New("id required")
	}
	_, err := r.exec(ctx, tx, `INSERT INTO certificates(batch_id, id, issued_by, issued_at, expires_at, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(batch_id) DO UPDATE SET
			id=excluded.id,
			issued_by=excluded.issued_by,
			issued_at=excluded.issued_at,
			expires_at=excluded.expires_at,
			created_at=excluded.created_at`,
		c.BatchID, c.ID, c.IssuedBy, c.IssuedAt, c.ExpiresAt, c.CreatedAt)
	return err
}

// GetCertificate returns the certificate attached to a batch.
func (r Repo) GetCertificate(ctx context.Context, batchID string) (domain.QualityCertificate, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT batch_id, id, issued_by, issued_at, expires_at, created_at
		FROM certificates WHERE batch_id=?`, batchID)
	var c domain.QualityCertificate
	err := row.Scan(&c.BatchID, &c.ID, &c.IssuedBy, &c.IssuedAt, &c.ExpiresAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.QualityCertificate{}, ErrNotFound
	}
	if err != nil {
		return domain.QualityCertificate{}, err
	}
	return c, nil
}

// GetCertificateTx is GetCertificate inside the caller's transaction.
func (r Repo) GetCertificateTx(ctx context.Context, tx *sql.Tx, batchID string) (domain.QualityCertificate, error) {
	row := r.queryRow(ctx, tx, `SELECT batch_id, id, issued_by, issued_at, expires_at, created_at
		FROM certificates WHERE batch_id=?`, batchID)
	var c domain.QualityCertificate
	err := row.Scan(&c.BatchID, &c.ID, &c.IssuedBy, &c.IssuedAt, &c.ExpiresAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.QualityCertificate{}, ErrNotFound
	}
	if err != nil {
		return domain.QualityCertificate{}, err
	}
	return c, nil
}
