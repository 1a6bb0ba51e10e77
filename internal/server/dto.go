package server

import (
	"rootra/internal/domain"
	"rootra/internal/engine"
	"rootra/internal/trace"
)

// CreateBatchRequest is the farmer-facing create payload.
type CreateBatchRequest struct {
	ID          string           `json:"id,omitempty" doc:"Batch ID; generated when omitted"`
	HerbName    string           `json:"herb_name"`
	QuantityKg  float64          `json:"quantity_kg"`
	FarmerPhone string           `json:"farmer_phone,omitempty"`
	Origin      *domain.Location `json:"origin,omitempty"`
	Photos      []string         `json:"photos,omitempty"`
	Organic     bool             `json:"organic,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

// TransitionRequest carries the optional context recorded on the event.
type TransitionRequest struct {
	Transition    string           `json:"transition" enum:"collect,begin-processing,advance,complete,pickup,transit,deliver"`
	Location      *domain.Location `json:"location,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	PaymentStatus string           `json:"payment_status,omitempty" enum:",pending,paid"`
}

// CertificateRequest attaches or re-issues a quality certificate.
type CertificateRequest struct {
	ID        string `json:"id,omitempty" doc:"Certificate ID; derived from the batch when omitted"`
	IssuedAt  string `json:"issued_at" format:"date-time"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

// BatchResponse is the API batch model.
type BatchResponse struct {
	ID              string               `json:"id"`
	HerbName        string               `json:"herb_name"`
	QuantityKg      float64              `json:"quantity_kg"`
	FarmerID        string               `json:"farmer_id"`
	FarmerPhone     string               `json:"farmer_phone,omitempty"`
	CurrentHolderID string               `json:"current_holder_id"`
	CurrentStage    string               `json:"current_stage"`
	Flagged         bool                 `json:"flagged"`
	FlagReason      string               `json:"flag_reason,omitempty"`
	Origin          *domain.Location     `json:"origin,omitempty"`
	Photos          []string             `json:"photos,omitempty"`
	Organic         bool                 `json:"organic"`
	Certificate     *CertificateResponse `json:"certificate,omitempty"`
	Version         int64                `json:"version"`
	CreatedAt       string               `json:"created_at"`
	UpdatedAt       string               `json:"updated_at"`
}

// CertificateResponse includes the derived status.
type CertificateResponse struct {
	ID        string `json:"id"`
	BatchID   string `json:"batch_id"`
	IssuedBy  string `json:"issued_by"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
	Status    string `json:"status" enum:"active,expiring,expired"`
}

// EventResponse is the API transaction event model.
type EventResponse struct {
	Seq           int64            `json:"seq"`
	EventID       string           `json:"event_id"`
	BatchID       string           `json:"batch_id"`
	FromHolderID  string           `json:"from_holder_id,omitempty"`
	ToHolderID    string           `json:"to_holder_id"`
	Transition    string           `json:"transition"`
	FromStage     string           `json:"from_stage,omitempty"`
	ToStage       string           `json:"to_stage,omitempty"`
	Location      *domain.Location `json:"location,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	PaymentStatus string           `json:"payment_status,omitempty"`
	Timestamp     string           `json:"timestamp"`
}

// AlertResponse is the API fraud alert model.
type AlertResponse struct {
	ID          string `json:"id"`
	BatchID     string `json:"batch_id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
	RaisedBy    string `json:"raised_by"`
	Location    string `json:"location,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// ActorResponse is the API actor model. Key hashes never leave the server.
type ActorResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	State     string `json:"state,omitempty"`
	Verified  bool   `json:"verified"`
	CreatedAt string `json:"created_at"`
}

// TraceResponse is the consumer journey projection.
type TraceResponse struct {
	BatchID string        `json:"batch_id"`
	Journey []trace.Entry `json:"journey"`
}

func batchResponse(e *engine.Engine, b domain.Batch) BatchResponse {
	resp := BatchResponse{
		ID:              b.ID,
		HerbName:        b.HerbName,
		QuantityKg:      b.QuantityKg,
		FarmerID:        b.FarmerID,
		FarmerPhone:     b.FarmerPhone,
		CurrentHolderID: b.CurrentHolderID,
		CurrentStage:    string(b.CurrentStage),
		Flagged:         b.Flagged,
		FlagReason:      b.FlagReason,
		Origin:          b.Origin,
		Photos:          b.Photos,
		Organic:         b.Organic,
		Version:         b.Version,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
	if b.Certificate != nil {
		resp.Certificate = certificateResponse(e, *b.Certificate)
	}
	return resp
}

func certificateResponse(e *engine.Engine, c domain.QualityCertificate) *CertificateResponse {
	return &CertificateResponse{
		ID:        c.ID,
		BatchID:   c.BatchID,
		IssuedBy:  c.IssuedBy,
		IssuedAt:  c.IssuedAt,
		ExpiresAt: c.ExpiresAt,
		Status:    string(e.CertificateStatus(c)),
	}
}

func eventResponse(ev domain.TransactionEvent) EventResponse {
	return EventResponse{
		Seq:           ev.Seq,
		EventID:       ev.EventID,
		BatchID:       ev.BatchID,
		FromHolderID:  ev.FromHolderID,
		ToHolderID:    ev.ToHolderID,
		Transition:    string(ev.Transition),
		FromStage:     string(ev.FromStage),
		ToStage:       string(ev.ToStage),
		Location:      ev.Location,
		Notes:         ev.Notes,
		PaymentStatus: ev.PaymentStatus,
		Timestamp:     ev.Timestamp,
	}
}

func mapEvents(events []domain.TransactionEvent) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse(ev))
	}
	return out
}

func alertResponse(a domain.FraudAlert) AlertResponse {
	return AlertResponse{
		ID:          a.ID,
		BatchID:     a.BatchID,
		Type:        a.Type,
		Description: a.Description,
		Severity:    a.Severity,
		Status:      string(a.Status),
		RaisedBy:    a.RaisedBy,
		Location:    a.Location,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func actorResponse(a domain.Actor) ActorResponse {
	return ActorResponse{
		ID:        a.ID,
		Role:      string(a.Role),
		Name:      a.Name,
		Phone:     a.Phone,
		State:     a.State,
		Verified:  a.Verified,
		CreatedAt: a.CreatedAt,
	}
}
