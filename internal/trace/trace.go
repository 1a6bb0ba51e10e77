// Package trace derives the consumer-facing journey timeline from a batch and
// its event log. Projection is read-only and idempotent.
package trace

import (
	"rootra/internal/domain"
)

// Status of one macro stage relative to the batch's current position.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCurrent   Status = "current"
	StatusPending   Status = "pending"
)

// MacroStage is one of the five consumer-facing journey steps.
type MacroStage string

const (
	MacroFarming      MacroStage = "Farming"
	MacroCollection   MacroStage = "Collection"
	MacroProcessing   MacroStage = "Processing"
	MacroDistribution MacroStage = "Distribution"
	MacroRetail       MacroStage = "Retail"
)

// MacroOrder is the display order of the journey.
var MacroOrder = []MacroStage{MacroFarming, MacroCollection, MacroProcessing, MacroDistribution, MacroRetail}

// Entry is one row of the projected timeline.
type Entry struct {
	Stage       MacroStage       `json:"stage"`
	Status      Status           `json:"status"`
	ActorID     string           `json:"actor_id,omitempty"`
	Location    *domain.Location `json:"location,omitempty"`
	Timestamp   string           `json:"timestamp,omitempty"`
	Certificate *CertSummary     `json:"certificate,omitempty"`
}

// CertSummary is the certificate view attached to the Processing entry.
type CertSummary struct {
	ID        string                   `json:"id"`
	Status    domain.CertificateStatus `json:"status"`
	ExpiresAt string                   `json:"expires_at"`
}

// macroOf maps a pipeline stage to its consumer macro stage.
func macroOf(s domain.Stage) MacroStage {
	switch s {
	case domain.StageUploaded:
		return MacroFarming
	case domain.StageCollected:
		return MacroCollection
	case domain.StageProcessingCleaning, domain.StageProcessingDrying,
		domain.StageProcessingGrinding, domain.StageProcessingPackaging:
		return MacroProcessing
	case domain.StageDistributionAssigned, domain.StageDistributionPickedUp,
		domain.StageDistributionTransit:
		return MacroDistribution
	case domain.StageDelivered:
		return MacroRetail
	default:
		return MacroFarming
	}
}

func macroIndex(m MacroStage) int {
	for i, st := range MacroOrder {
		if st == m {
			return i
		}
	}
	return 0
}

// Project builds the five-entry journey for a batch from its event log. An
// empty log yields Farming as current and everything else pending. Delivered
// batches show all five entries completed.
func Project(b domain.Batch, log []domain.TransactionEvent, certStatus domain.CertificateStatus) []Entry {
	current := macroIndex(macroOf(b.CurrentStage))
	delivered := b.CurrentStage == domain.StageDelivered

	entries := make([]Entry, len(MacroOrder))
	for i, m := range MacroOrder {
		status := StatusPending
		switch {
		case delivered || i < current:
			status = StatusCompleted
		case i == current:
			status = StatusCurrent
		}
		entries[i] = Entry{Stage: m, Status: status}
	}

	// Farming always reflects creation.
	entries[0].ActorID = b.FarmerID
	entries[0].Location = b.Origin
	entries[0].Timestamp = b.CreatedAt

	// Later entries take the first event that moved the batch into each macro
	// stage; the actor on that event is who took custody.
	for _, ev := range log {
		if ev.ToStage == "" || ev.Transition == domain.TransitionCreate {
			continue
		}
		i := macroIndex(macroOf(ev.ToStage))
		if i == 0 || entries[i].Timestamp != "" {
			continue
		}
		entries[i].ActorID = ev.ToHolderID
		entries[i].Location = ev.Location
		entries[i].Timestamp = ev.Timestamp
	}

	if b.Certificate != nil {
		entries[macroIndex(MacroProcessing)].Certificate = &CertSummary{
			ID:        b.Certificate.ID,
			Status:    certStatus,
			ExpiresAt: b.Certificate.ExpiresAt,
		}
	}
	return entries
}
