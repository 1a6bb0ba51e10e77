package events

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"rootra/internal/domain"
	"rootra/internal/repo"
)

// Writer appends transaction events inside the engine's transactions. It fills
// in the event ID and timestamp so callers only describe the change.
type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

func NewWriter(r repo.Repo) *Writer {
	return &Writer{Repo: r, Now: time.Now}
}

// Append writes e to the log, assigning EventID and Timestamp when unset.
// It returns the stored event.
func (w *Writer) Append(ctx context.Context, tx *sql.Tx, e domain.TransactionEvent) (domain.TransactionEvent, error) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = w.Now().UTC().Format(time.RFC3339)
	}
	seq, err := w.Repo.AppendTransaction(ctx, tx, e)
	if err != nil {
		return domain.TransactionEvent{}, err
	}
	e.Seq = seq
	return e, nil
}
