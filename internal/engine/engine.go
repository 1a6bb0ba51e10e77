package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rootra/internal/config"
	"rootra/internal/domain"
	"rootra/internal/events"
	"rootra/internal/notify"
	"rootra/internal/repo"
)

// Engine is the sole writer for batches. Every accepted mutation updates the
// batch row and appends a transaction event in one SQLite transaction; the
// stage update is a compare-and-swap, so of two racing transitions exactly one
// commits.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events *events.Writer
	Config *config.Config
	Sink   notify.Sink
	Now    func() time.Time

	// mu serializes write transactions. SQLite allows one writer at a time;
	// taking the lock up front keeps concurrent mutations from tripping over
	// busy/snapshot errors, and the stage CAS still guards multi-process use.
	mu sync.Mutex
}

func New(db *sql.DB, r repo.Repo, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Repo:   r,
		Events: events.NewWriter(r),
		Config: cfg,
		Sink:   notify.Discard{},
		Now:    time.Now,
	}
}

func (e *Engine) now() string {
	return e.Now().UTC().Format(time.RFC3339)
}

// stageRule is one row of the transition table, keyed by from-stage. Each
// pipeline stage has exactly one legal successor.
type stageRule struct {
	role       domain.Role
	transition domain.Transition
	to         domain.Stage
}

var stageRules = map[domain.Stage]stageRule{
	domain.StageUploaded:             {domain.RoleAggregator, domain.TransitionCollect, domain.StageCollected},
	domain.StageCollected:            {domain.RoleProcessor, domain.TransitionBeginProcessing, domain.StageProcessingCleaning},
	domain.StageProcessingCleaning:   {domain.RoleProcessor, domain.TransitionAdvance, domain.StageProcessingDrying},
	domain.StageProcessingDrying:     {domain.RoleProcessor, domain.TransitionAdvance, domain.StageProcessingGrinding},
	domain.StageProcessingGrinding:   {domain.RoleProcessor, domain.TransitionAdvance, domain.StageProcessingPackaging},
	domain.StageProcessingPackaging:  {domain.RoleProcessor, domain.TransitionComplete, domain.StageDistributionAssigned},
	domain.StageDistributionAssigned: {domain.RoleDistributor, domain.TransitionPickup, domain.StageDistributionPickedUp},
	domain.StageDistributionPickedUp: {domain.RoleDistributor, domain.TransitionTransit, domain.StageDistributionTransit},
	domain.StageDistributionTransit:  {domain.RoleDistributor, domain.TransitionDeliver, domain.StageDelivered},
}

// CreateBatchInput carries the farmer-supplied fields for a new batch.
type CreateBatchInput struct {
	ID          string
	HerbName    string
	QuantityKg  float64
	FarmerID    string
	FarmerPhone string
	Origin      *domain.Location
	Photos      []string
	Organic     bool
	Notes       string
}

// CreateBatch registers a new batch at stage uploaded with the farmer as
// holder, appending the create event. Only farmers (or admins) may create.
func (e *Engine) CreateBatch(ctx context.Context, actorID string, role domain.Role, in CreateBatchInput) (domain.Batch, error) {
	if role != domain.RoleFarmer && role != domain.RoleAdmin {
		return domain.Batch{}, &RoleError{ActorID: actorID, Role: role, Transition: domain.TransitionCreate, Required: domain.RoleFarmer}
	}
	if in.QuantityKg <= 0 {
		return domain.Batch{}, ErrInvalidQuantity
	}
	if strings.TrimSpace(in.HerbName) == "" {
		return domain.Batch{}, errors.New("herb name required")
	}
	farmerID := in.FarmerID
	if farmerID == "" {
		farmerID = actorID
	}
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Batch{}, err
	}
	defer tx.Rollback()

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id, err = e.nextBatchID(ctx, tx, in.HerbName)
		if err != nil {
			return domain.Batch{}, err
		}
	} else if _, err := e.Repo.GetBatchTx(ctx, tx, id); err == nil {
		return domain.Batch{}, fmt.Errorf("%w: %s", ErrDuplicateBatchID, id)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Batch{}, err
	}

	b := domain.Batch{
		ID:              id,
		HerbName:        in.HerbName,
		QuantityKg:      in.QuantityKg,
		FarmerID:        farmerID,
		FarmerPhone:     in.FarmerPhone,
		CurrentHolderID: farmerID,
		CurrentStage:    domain.StageUploaded,
		Origin:          in.Origin,
		Photos:          in.Photos,
		Organic:         in.Organic,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertBatch(ctx, tx, b); err != nil {
		return domain.Batch{}, fmt.Errorf("insert batch: %w", err)
	}
	ev, err := e.Events.Append(ctx, tx, domain.TransactionEvent{
		BatchID:    id,
		ToHolderID: farmerID,
		Transition: domain.TransitionCreate,
		ToStage:    domain.StageUploaded,
		Location:   in.Origin,
		Notes:      in.Notes,
		Timestamp:  now,
	})
	if err != nil {
		return domain.Batch{}, fmt.Errorf("append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Batch{}, err
	}
	e.emit(ctx, ev, fmt.Sprintf("batch %s created: %.1fkg %s", id, in.QuantityKg, in.HerbName), farmerID)
	return b, nil
}

// nextBatchID builds a {PREFIX}-{HERB3}{SEQ} display ID, bumping the sequence
// past collisions. Runs inside the create transaction so the count is stable.
func (e *Engine) nextBatchID(ctx context.Context, tx *sql.Tx, herbName string) (string, error) {
	herb := strings.ToUpper(strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return r
		}
		return -1
	}, herbName))
	if len(herb) > 3 {
		herb = herb[:3]
	}
	if herb == "" {
		herb = "HRB"
	}
	prefix := fmt.Sprintf("%s-%s", e.Config.Batches.IDPrefix, herb)
	n, err := e.Repo.CountBatchesWithPrefix(ctx, tx, prefix)
	if err != nil {
		return "", err
	}
	for seq := n + 1; ; seq++ {
		id := fmt.Sprintf("%s%03d", prefix, seq)
		_, err := e.Repo.GetBatchTx(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
}

// TransitionInput carries the optional context recorded on a transition event.
type TransitionInput struct {
	Location      *domain.Location
	Notes         string
	PaymentStatus string
}

// staleRequest reports whether transition only applies at stages the batch has
// already passed. A raced or replayed request (collect on a batch that is
// already collected) is stale; a request for a later stage is a role problem
// at the current stage instead.
func staleRequest(transition domain.Transition, current domain.Stage) bool {
	cur := domain.StageIndex(current)
	found := false
	for from, rule := range stageRules {
		if rule.transition != transition {
			continue
		}
		found = true
		if domain.StageIndex(from) >= cur {
			return false
		}
	}
	return found
}

// RequestTransition validates and applies one role-gated stage transition.
// The role check is keyed by the batch's current stage: a distributor calling
// pickup on an uploaded batch gets Forbidden, not InvalidTransition. A request
// whose stage already advanced past it gets InvalidTransition.
func (e *Engine) RequestTransition(ctx context.Context, batchID, actorID string, role domain.Role, transition domain.Transition, in TransitionInput) (domain.TransactionEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TransactionEvent{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBatchTx(ctx, tx, batchID)
	if err != nil {
		return domain.TransactionEvent{}, err
	}
	if b.Flagged {
		return domain.TransactionEvent{}, fmt.Errorf("%w: %s", ErrBatchFlagged, batchID)
	}
	rule, ok := stageRules[b.CurrentStage]
	if !ok || staleRequest(transition, b.CurrentStage) {
		return domain.TransactionEvent{}, &TransitionError{BatchID: batchID, Stage: b.CurrentStage, Transition: transition}
	}
	if role != rule.role && role != domain.RoleAdmin {
		return domain.TransactionEvent{}, &RoleError{ActorID: actorID, Role: role, Transition: transition, Required: rule.role}
	}
	if transition != rule.transition {
		return domain.TransactionEvent{}, &TransitionError{BatchID: batchID, Stage: b.CurrentStage, Transition: transition}
	}
	if transition == domain.TransitionComplete {
		if err := e.ensureActiveCertificate(ctx, tx, batchID); err != nil {
			return domain.TransactionEvent{}, err
		}
	}

	now := e.now()
	ok, err = e.Repo.AdvanceBatch(ctx, tx, batchID, b.CurrentStage, rule.to, actorID, now)
	if err != nil {
		return domain.TransactionEvent{}, fmt.Errorf("advance batch: %w", err)
	}
	if !ok {
		// Raced: someone else moved the batch since we read it.
		return domain.TransactionEvent{}, &TransitionError{BatchID: batchID, Stage: b.CurrentStage, Transition: transition}
	}
	ev, err := e.Events.Append(ctx, tx, domain.TransactionEvent{
		BatchID:       batchID,
		FromHolderID:  b.CurrentHolderID,
		ToHolderID:    actorID,
		Transition:    transition,
		FromStage:     b.CurrentStage,
		ToStage:       rule.to,
		Location:      in.Location,
		Notes:         in.Notes,
		PaymentStatus: in.PaymentStatus,
		Timestamp:     now,
	})
	if err != nil {
		return domain.TransactionEvent{}, fmt.Errorf("append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.TransactionEvent{}, err
	}
	e.emit(ctx, ev, fmt.Sprintf("batch %s: %s -> %s", batchID, b.CurrentStage, rule.to), b.CurrentHolderID, b.FarmerID, actorID)
	return ev, nil
}

func (e *Engine) ensureActiveCertificate(ctx context.Context, tx *sql.Tx, batchID string) error {
	cert, err := e.Repo.GetCertificateTx(ctx, tx, batchID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: batch %s", ErrCertificateRequired, batchID)
	}
	if err != nil {
		return err
	}
	expires, err := time.Parse(time.RFC3339, cert.ExpiresAt)
	if err != nil {
		return fmt.Errorf("certificate %s: bad expiry: %w", cert.ID, err)
	}
	if !e.Now().UTC().Before(expires) {
		return fmt.Errorf("%w: certificate %s expired", ErrCertificateRequired, cert.ID)
	}
	return nil
}

// CertificateStatus derives the display status from the expiry and the
// configured expiring window.
func (e *Engine) CertificateStatus(cert domain.QualityCertificate) domain.CertificateStatus {
	expires, err := time.Parse(time.RFC3339, cert.ExpiresAt)
	if err != nil {
		return domain.CertificateExpired
	}
	now := e.Now().UTC()
	if !now.Before(expires) {
		return domain.CertificateExpired
	}
	window := time.Duration(e.Config.Certificates.ExpiringWindowDays) * 24 * time.Hour
	if expires.Sub(now) <= window {
		return domain.CertificateExpiring
	}
	return domain.CertificateActive
}

// AttachCertificate issues (or re-issues) the quality certificate for a batch.
// Processor only; expiry must be strictly after issue.
func (e *Engine) AttachCertificate(ctx context.Context, batchID, actorID string, role domain.Role, certID, issuedAt, expiresAt string) (domain.Batch, error) {
	if role != domain.RoleProcessor && role != domain.RoleAdmin {
		return domain.Batch{}, &RoleError{ActorID: actorID, Role: role, Transition: domain.TransitionCertify, Required: domain.RoleProcessor}
	}
	issued, err := time.Parse(time.RFC3339, issuedAt)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("%w: bad issue timestamp", ErrInvalidCertificate)
	}
	expires, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("%w: bad expiry timestamp", ErrInvalidCertificate)
	}
	if !expires.After(issued) {
		return domain.Batch{}, ErrInvalidCertificate
	}
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Batch{}, err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBatchTx(ctx, tx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	if certID == "" {
		certID = "QC-" + strings.TrimPrefix(batchID, e.Config.Batches.IDPrefix+"-")
	}
	cert := domain.QualityCertificate{
		ID:        certID,
		BatchID:   batchID,
		IssuedBy:  actorID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := e.Repo.UpsertCertificate(ctx, tx, cert); err != nil {
		return domain.Batch{}, fmt.Errorf("upsert certificate: %w", err)
	}
	ev, err := e.Events.Append(ctx, tx, domain.TransactionEvent{
		BatchID:      batchID,
		FromHolderID: b.CurrentHolderID,
		ToHolderID:   b.CurrentHolderID,
		Transition:   domain.TransitionCertify,
		Notes:        fmt.Sprintf("certificate %s expires %s", certID, expiresAt),
		Timestamp:    now,
	})
	if err != nil {
		return domain.Batch{}, fmt.Errorf("append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Batch{}, err
	}
	e.emit(ctx, ev, fmt.Sprintf("batch %s certified (%s)", batchID, certID), b.CurrentHolderID, b.FarmerID)
	b.Certificate = &cert
	return b, nil
}

// FlagBatch sets the flagged overlay on a batch. Admin only. The underlying
// stage is preserved and all transitions are held until the flag resolves.
func (e *Engine) FlagBatch(ctx context.Context, batchID, actorID string, role domain.Role, reason string) (domain.Batch, error) {
	if role != domain.RoleAdmin {
		return domain.Batch{}, &RoleError{ActorID: actorID, Role: role, Transition: domain.TransitionFlag, Required: domain.RoleAdmin}
	}
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Batch{}, err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBatchTx(ctx, tx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	if err := e.Repo.SetBatchFlag(ctx, tx, batchID, true, reason, now); err != nil {
		return domain.Batch{}, err
	}
	ev, err := e.Events.Append(ctx, tx, domain.TransactionEvent{
		BatchID:      batchID,
		FromHolderID: b.CurrentHolderID,
		ToHolderID:   b.CurrentHolderID,
		Transition:   domain.TransitionFlag,
		Notes:        reason,
		Timestamp:    now,
	})
	if err != nil {
		return domain.Batch{}, fmt.Errorf("append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Batch{}, err
	}
	e.emit(ctx, ev, fmt.Sprintf("batch %s flagged: %s", batchID, reason), b.CurrentHolderID, b.FarmerID)
	b.Flagged = true
	b.FlagReason = reason
	return b, nil
}

// ResolveFlag clears the flagged overlay, restoring the batch to its prior
// stage. Admin only. Outcome is recorded in the resolve event's notes.
func (e *Engine) ResolveFlag(ctx context.Context, batchID, actorID string, role domain.Role, outcome string) (domain.Batch, error) {
	if role != domain.RoleAdmin {
		return domain.Batch{}, &RoleError{ActorID: actorID, Role: role, Transition: domain.TransitionResolve, Required: domain.RoleAdmin}
	}
	if outcome != string(domain.AlertResolved) && outcome != string(domain.AlertFalseAlarm) {
		return domain.Batch{}, fmt.Errorf("outcome must be %s or %s", domain.AlertResolved, domain.AlertFalseAlarm)
	}
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Batch{}, err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBatchTx(ctx, tx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	if !b.Flagged {
		return domain.Batch{}, &TransitionError{BatchID: batchID, Stage: b.CurrentStage, Transition: domain.TransitionResolve}
	}
	if err := e.Repo.SetBatchFlag(ctx, tx, batchID, false, "", now); err != nil {
		return domain.Batch{}, err
	}
	ev, err := e.Events.Append(ctx, tx, domain.TransactionEvent{
		BatchID:      batchID,
		FromHolderID: b.CurrentHolderID,
		ToHolderID:   b.CurrentHolderID,
		Transition:   domain.TransitionResolve,
		Notes:        outcome,
		Timestamp:    now,
	})
	if err != nil {
		return domain.Batch{}, fmt.Errorf("append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Batch{}, err
	}
	e.emit(ctx, ev, fmt.Sprintf("batch %s flag resolved (%s)", batchID, outcome), b.CurrentHolderID, b.FarmerID)
	b.Flagged = false
	b.FlagReason = ""
	return b, nil
}

// MarkPayment appends a compensating payment event for a transition leg. The
// log itself is never edited.
func (e *Engine) MarkPayment(ctx context.Context, batchID, actorID string, role domain.Role, status, notes string) (domain.TransactionEvent, error) {
	if status != "pending" && status != "paid" {
		return domain.TransactionEvent{}, fmt.Errorf("payment status must be pending or paid")
	}
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TransactionEvent{}, err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBatchTx(ctx, tx, batchID)
	if err != nil {
		return domain.TransactionEvent{}, err
	}
	ev, err := e.Events.Append(ctx, tx, domain.TransactionEvent{
		BatchID:       batchID,
		FromHolderID:  b.CurrentHolderID,
		ToHolderID:    b.CurrentHolderID,
		Transition:    domain.TransitionPayment,
		Notes:         notes,
		PaymentStatus: status,
		Timestamp:     now,
	})
	if err != nil {
		return domain.TransactionEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TransactionEvent{}, err
	}
	e.emit(ctx, ev, fmt.Sprintf("batch %s payment %s", batchID, status), b.CurrentHolderID, b.FarmerID)
	return ev, nil
}

// RaiseAlert records a fraud alert against a batch. Any authenticated role may
// raise one.
func (e *Engine) RaiseAlert(ctx context.Context, batchID, actorID string, alertType, description, severity, location string) (domain.FraudAlert, error) {
	switch severity {
	case "low", "medium", "high":
	default:
		return domain.FraudAlert{}, fmt.Errorf("severity must be low, medium or high")
	}
	if strings.TrimSpace(alertType) == "" {
		return domain.FraudAlert{}, errors.New("alert type required")
	}
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.FraudAlert{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetBatchTx(ctx, tx, batchID); err != nil {
		return domain.FraudAlert{}, err
	}
	a := domain.FraudAlert{
		ID:          uuid.NewString(),
		BatchID:     batchID,
		Type:        alertType,
		Description: description,
		Severity:    severity,
		Status:      domain.AlertPending,
		RaisedBy:    actorID,
		Location:    location,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertAlert(ctx, tx, a); err != nil {
		return domain.FraudAlert{}, fmt.Errorf("insert alert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.FraudAlert{}, err
	}
	e.Sink.Notify(ctx, notify.Notification{
		EventType: "fraud-alert",
		BatchID:   batchID,
		Summary:   fmt.Sprintf("alert %s on batch %s (%s)", alertType, batchID, severity),
	})
	return a, nil
}

// SetAlertStatus advances a fraud alert's lifecycle. Admin only.
func (e *Engine) SetAlertStatus(ctx context.Context, alertID, actorID string, role domain.Role, status domain.AlertStatus) (domain.FraudAlert, error) {
	if role != domain.RoleAdmin {
		return domain.FraudAlert{}, &RoleError{ActorID: actorID, Role: role, Transition: domain.TransitionResolve, Required: domain.RoleAdmin}
	}
	a, err := e.Repo.GetAlert(ctx, alertID)
	if err != nil {
		return domain.FraudAlert{}, err
	}
	if !domain.AlertStatusTransitionAllowed(a.Status, status) {
		return domain.FraudAlert{}, fmt.Errorf("%w: %s -> %s", ErrAlertClosed, a.Status, status)
	}
	now := e.now()
	if err := e.Repo.UpdateAlertStatus(ctx, nil, alertID, status, now); err != nil {
		return domain.FraudAlert{}, err
	}
	a.Status = status
	a.UpdatedAt = now
	return a, nil
}

// RegisterActor records a participant identity. Real deployments get identity
// from the external provider's token; this is the bootstrap path for CLI and
// development use.
func (e *Engine) RegisterActor(ctx context.Context, a domain.Actor) (domain.Actor, error) {
	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}
	if !domain.ValidRole(a.Role) {
		return domain.Actor{}, fmt.Errorf("unknown role %q", a.Role)
	}
	if a.CreatedAt == "" {
		a.CreatedAt = e.now()
	}
	if err := e.Repo.InsertActor(ctx, nil, a); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// emit forwards a committed event to the notification sink. Duplicates in the
// affected list are dropped.
func (e *Engine) emit(ctx context.Context, ev domain.TransactionEvent, summary string, affected ...string) {
	seen := map[string]bool{}
	var users []string
	for _, id := range affected {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		users = append(users, id)
	}
	e.Sink.Notify(ctx, notify.Notification{
		EventType:       string(ev.Transition),
		BatchID:         ev.BatchID,
		AffectedUserIDs: users,
		Summary:         summary,
	})
}
