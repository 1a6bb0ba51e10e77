package trace_test

import (
	"testing"

	"rootra/internal/domain"
	"rootra/internal/trace"
)

func baseBatch(stage domain.Stage) domain.Batch {
	return domain.Batch{
		ID:           "HB-TUR001",
		HerbName:     "Turmeric",
		QuantityKg:   50,
		FarmerID:     "F001",
		CurrentStage: stage,
		Origin:       &domain.Location{Lat: 12.97, Lng: 77.59, Address: "Karnataka"},
		CreatedAt:    "2026-03-01T12:00:00Z",
	}
}

func statuses(entries []trace.Entry) []trace.Status {
	out := make([]trace.Status, len(entries))
	for i, e := range entries {
		out[i] = e.Status
	}
	return out
}

func TestProjectEmptyLog(t *testing.T) {
	entries := trace.Project(baseBatch(domain.StageUploaded), nil, "")
	if len(entries) != len(trace.MacroOrder) {
		t.Fatalf("entries = %d, want %d", len(entries), len(trace.MacroOrder))
	}
	want := []trace.Status{trace.StatusCurrent, trace.StatusPending, trace.StatusPending, trace.StatusPending, trace.StatusPending}
	got := statuses(entries)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
	farming := entries[0]
	if farming.ActorID != "F001" || farming.Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("farming entry = %+v", farming)
	}
	if farming.Location == nil || farming.Location.Address != "Karnataka" {
		t.Fatalf("farming location = %+v", farming.Location)
	}
}

func TestProjectMidPipeline(t *testing.T) {
	b := baseBatch(domain.StageProcessingDrying)
	b.CurrentHolderID = "P001"
	log := []domain.TransactionEvent{
		{Transition: domain.TransitionCreate, ToStage: domain.StageUploaded, ToHolderID: "F001", Timestamp: "2026-03-01T12:00:00Z"},
		{Transition: domain.TransitionCollect, ToStage: domain.StageCollected, ToHolderID: "A001",
			Location: &domain.Location{Address: "Hubli mandi"}, Timestamp: "2026-03-02T09:00:00Z"},
		{Transition: domain.TransitionBeginProcessing, ToStage: domain.StageProcessingCleaning, ToHolderID: "P001", Timestamp: "2026-03-03T10:00:00Z"},
		{Transition: domain.TransitionAdvance, ToStage: domain.StageProcessingDrying, ToHolderID: "P001", Timestamp: "2026-03-04T10:00:00Z"},
	}
	entries := trace.Project(b, log, "")

	want := []trace.Status{trace.StatusCompleted, trace.StatusCompleted, trace.StatusCurrent, trace.StatusPending, trace.StatusPending}
	got := statuses(entries)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}

	collection := entries[1]
	if collection.ActorID != "A001" || collection.Timestamp != "2026-03-02T09:00:00Z" {
		t.Fatalf("collection entry = %+v", collection)
	}
	if collection.Location == nil || collection.Location.Address != "Hubli mandi" {
		t.Fatalf("collection location = %+v", collection.Location)
	}

	// First event into Processing wins; the later advance must not overwrite it.
	processing := entries[2]
	if processing.Timestamp != "2026-03-03T10:00:00Z" {
		t.Fatalf("processing timestamp = %s", processing.Timestamp)
	}
}

func TestProjectDeliveredAllCompleted(t *testing.T) {
	b := baseBatch(domain.StageDelivered)
	entries := trace.Project(b, nil, "")
	for _, e := range entries {
		if e.Status != trace.StatusCompleted {
			t.Fatalf("%s status = %s, want completed", e.Stage, e.Status)
		}
	}
}

func TestProjectCertificateSummary(t *testing.T) {
	b := baseBatch(domain.StageDistributionAssigned)
	b.Certificate = &domain.QualityCertificate{
		ID:        "QC-HB-TUR001",
		BatchID:   b.ID,
		IssuedAt:  "2026-03-05T00:00:00Z",
		ExpiresAt: "2026-04-05T00:00:00Z",
	}
	entries := trace.Project(b, nil, domain.CertificateActive)
	cert := entries[2].Certificate
	if cert == nil {
		t.Fatal("processing entry missing certificate summary")
	}
	if cert.ID != "QC-HB-TUR001" || cert.Status != domain.CertificateActive || cert.ExpiresAt != "2026-04-05T00:00:00Z" {
		t.Fatalf("certificate summary = %+v", cert)
	}
	for i, e := range entries {
		if i != 2 && e.Certificate != nil {
			t.Fatalf("%s carries certificate summary", e.Stage)
		}
	}
}
