package repo

import (
	"context"
	"database/sql"
	"errors"

	"rootra/internal/domain"
)

const actorColumns = `id, role, COALESCE(name,''), COALESCE(phone,''), COALESCE(state,''), verified, created_at`

func scanActor(row interface{ Scan(...any) error }) (domain.Actor, error) {
	var a domain.Actor
	var verified int
	err := row.Scan(&a.ID, &a.Role, &a.Name, &a.Phone, &a.State, &verified, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.Actor{}, ErrNotFound
	}
	if err != nil {
		return domain.Actor{}, err
	}
	a.Verified = verified != 0
	return a, nil
}

// InsertActor registers a participant.
func (r Repo) InsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	if a.ID == "" {
		return errors.New("id required")
	}
	if !domain.ValidRole(a.Role) {
		return errors.New("unknown role")
	}
	_, err := r.exec(ctx, tx, `INSERT INTO actors(id, role, name, phone, state, verified, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.Role, nullable(a.Name), nullable(a.Phone), nullable(a.State), boolInt(a.Verified), a.CreatedAt)
	return err
}

// GetActor returns one actor by ID.
func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id)
	return scanActor(row)
}

// ListActors returns actors, optionally filtered by role.
func (r Repo) ListActors(ctx context.Context, role domain.Role) ([]domain.Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actors []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, rows.Err()
}
