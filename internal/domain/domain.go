package domain

// Role identifies what a supply-chain participant is allowed to do.
type Role string

const (
	RoleFarmer      Role = "farmer"
	RoleAggregator  Role = "aggregator"
	RoleProcessor   Role = "processor"
	RoleDistributor Role = "distributor"
	RoleAdmin       Role = "admin"
	RoleConsumer    Role = "consumer"
)

// Roles lists every known role.
var Roles = []Role{RoleFarmer, RoleAggregator, RoleProcessor, RoleDistributor, RoleAdmin, RoleConsumer}

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Stage is a batch's position in the supply-chain pipeline.
type Stage string

const (
	StageUploaded             Stage = "uploaded"
	StageCollected            Stage = "collected"
	StageProcessingCleaning   Stage = "processing:cleaning"
	StageProcessingDrying     Stage = "processing:drying"
	StageProcessingGrinding   Stage = "processing:grinding"
	StageProcessingPackaging  Stage = "processing:packaging"
	StageDistributionAssigned Stage = "distribution:assigned"
	StageDistributionPickedUp Stage = "distribution:picked-up"
	StageDistributionTransit  Stage = "distribution:in-transit"
	StageDelivered            Stage = "delivered"
)

// StageOrder is the canonical pipeline order. Batches only move forward through
// it; the flagged hold is an overlay on the Batch, not a stage.
var StageOrder = []Stage{
	StageUploaded,
	StageCollected,
	StageProcessingCleaning,
	StageProcessingDrying,
	StageProcessingGrinding,
	StageProcessingPackaging,
	StageDistributionAssigned,
	StageDistributionPickedUp,
	StageDistributionTransit,
	StageDelivered,
}

// StageIndex returns the position of s in StageOrder, or -1 for unknown stages.
func StageIndex(s Stage) int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// ValidStage reports whether s is a known stage.
func ValidStage(s Stage) bool {
	return StageIndex(s) >= 0
}

// Transition names a role-gated move between stages.
type Transition string

const (
	TransitionCreate          Transition = "create"
	TransitionCollect         Transition = "collect"
	TransitionBeginProcessing Transition = "begin-processing"
	TransitionAdvance         Transition = "advance"
	TransitionComplete        Transition = "complete"
	TransitionPickup          Transition = "pickup"
	TransitionTransit         Transition = "transit"
	TransitionDeliver         Transition = "deliver"
	TransitionCertify         Transition = "certify"
	TransitionFlag            Transition = "flag"
	TransitionResolve         Transition = "resolve"
	TransitionPayment         Transition = "payment"
)

// Location is a geocoordinate with an optional reverse-geocoded address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Batch is one farmer-originated lot of a single herb, tracked end to end.
// Timestamps are RFC3339 UTC strings.
type Batch struct {
	ID              string              `json:"id"`
	HerbName        string              `json:"herb_name"`
	QuantityKg      float64             `json:"quantity_kg"`
	FarmerID        string              `json:"farmer_id"`
	FarmerPhone     string              `json:"farmer_phone,omitempty"`
	CurrentHolderID string              `json:"current_holder_id"`
	CurrentStage    Stage               `json:"current_stage"`
	Flagged         bool                `json:"flagged"`
	FlagReason      string              `json:"flag_reason,omitempty"`
	Origin          *Location           `json:"origin,omitempty"`
	Photos          []string            `json:"photos,omitempty"`
	Organic         bool                `json:"organic"`
	Certificate     *QualityCertificate `json:"certificate,omitempty"`
	Version         int64               `json:"version"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
}

// CertificateStatus is derived from the expiry at read time, never stored.
type CertificateStatus string

const (
	CertificateActive   CertificateStatus = "active"
	CertificateExpiring CertificateStatus = "expiring"
	CertificateExpired  CertificateStatus = "expired"
)

// QualityCertificate is a processor-issued quality attestation. At most one per
// batch; re-issuing replaces the previous one.
type QualityCertificate struct {
	ID        string `json:"id"`
	BatchID   string `json:"batch_id"`
	IssuedBy  string `json:"issued_by"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
	CreatedAt string `json:"created_at"`
}

// TransactionEvent is one append-only log entry recording a batch state change.
// Corrections are new compensating events; rows are never edited.
type TransactionEvent struct {
	Seq           int64      `json:"seq"`
	EventID       string     `json:"event_id"`
	BatchID       string     `json:"batch_id"`
	FromHolderID  string     `json:"from_holder_id,omitempty"`
	ToHolderID    string     `json:"to_holder_id"`
	Transition    Transition `json:"transition"`
	FromStage     Stage      `json:"from_stage,omitempty"`
	ToStage       Stage      `json:"to_stage,omitempty"`
	Location      *Location  `json:"location,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	PaymentStatus string     `json:"payment_status,omitempty"`
	Timestamp     string     `json:"timestamp"`
}

// AlertStatus is the fraud alert lifecycle.
type AlertStatus string

const (
	AlertPending       AlertStatus = "pending"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
	AlertFalseAlarm    AlertStatus = "false_alarm"
)

// AlertStatusTransitionAllowed reports whether an alert may move from->to.
// pending -> investigating -> resolved | false_alarm.
func AlertStatusTransitionAllowed(from, to AlertStatus) bool {
	switch from {
	case AlertPending:
		return to == AlertInvestigating || to == AlertResolved || to == AlertFalseAlarm
	case AlertInvestigating:
		return to == AlertResolved || to == AlertFalseAlarm
	default:
		return false
	}
}

// FraudAlert is an audit entity raised against a batch. It lives beside the
// transaction log, not inside it.
type FraudAlert struct {
	ID          string      `json:"id"`
	BatchID     string      `json:"batch_id"`
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Severity    string      `json:"severity"`
	Status      AlertStatus `json:"status"`
	RaisedBy    string      `json:"raised_by"`
	Location    string      `json:"location,omitempty"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
}

// Actor is a registered supply-chain participant.
type Actor struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	State     string `json:"state,omitempty"`
	Verified  bool   `json:"verified"`
	CreatedAt string `json:"created_at"`
}

// APIKey maps a hashed key to an actor.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at"`
}
