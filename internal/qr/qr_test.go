package qr_test

import (
	"bytes"
	"errors"
	"testing"

	"rootra/internal/domain"
	"rootra/internal/qr"
)

func sampleSnapshot() qr.Snapshot {
	return qr.Snapshot{
		BatchID:     "HB-TUR001",
		FarmerID:    "F001",
		FarmerPhone: "+91-9876543210",
		HerbName:    "Turmeric",
		QuantityKg:  50,
		Timestamp:   "2026-03-01T12:00:00Z",
		Stage:       domain.StageCollected,
		Location:    &domain.Location{Lat: 12.97, Lng: 77.59, Address: "Karnataka"},
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []qr.Snapshot{
		sampleSnapshot(),
		{
			BatchID:    "HB-ASH042",
			FarmerID:   "F009",
			HerbName:   "Ashwagandha",
			QuantityKg: 0,
			Timestamp:  "2026-01-15T08:30:00Z",
			Stage:      domain.StageUploaded,
		},
	}
	for _, snap := range cases {
		payload, err := qr.Encode(snap)
		if err != nil {
			t.Fatalf("encode %s: %v", snap.BatchID, err)
		}
		got, err := qr.Decode(payload)
		if err != nil {
			t.Fatalf("decode %s: %v", snap.BatchID, err)
		}
		if got != snap && !equalSnapshots(got, snap) {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, snap)
		}
	}
}

func equalSnapshots(a, b qr.Snapshot) bool {
	la, lb := a.Location, b.Location
	a.Location, b.Location = nil, nil
	if a != b {
		return false
	}
	if (la == nil) != (lb == nil) {
		return false
	}
	return la == nil || *la == *lb
}

func TestEncodeIsDeterministic(t *testing.T) {
	snap := sampleSnapshot()
	first, err := qr.Encode(snap)
	if err != nil {
		t.Fatal(err)
	}
	second, err := qr.Encode(snap)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("payloads differ:\n%s\n%s", first, second)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, payload := range []string{"", "not json", "{truncated"} {
		_, err := qr.Decode([]byte(payload))
		var malformed *qr.MalformedPayloadError
		if !errors.As(err, &malformed) {
			t.Fatalf("payload %q: got %v, want MalformedPayloadError", payload, err)
		}
	}
}

func TestDecodeSchemaMismatch(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		field   string
	}{
		{"missing batch id", `{"farmerId":"F001","herbName":"Tulsi","quantity":1,"timestamp":"2026-01-01T00:00:00Z","stage":"uploaded"}`, "batchId"},
		{"missing stage", `{"batchId":"HB-TUL001","farmerId":"F001","herbName":"Tulsi","quantity":1,"timestamp":"2026-01-01T00:00:00Z"}`, "stage"},
		{"quantity wrong type", `{"batchId":"HB-TUL001","farmerId":"F001","herbName":"Tulsi","quantity":"lots","timestamp":"2026-01-01T00:00:00Z","stage":"uploaded"}`, "quantity"},
		{"unknown stage", `{"batchId":"HB-TUL001","farmerId":"F001","herbName":"Tulsi","quantity":1,"timestamp":"2026-01-01T00:00:00Z","stage":"teleported"}`, "stage"},
	}
	for _, tc := range cases {
		_, err := qr.Decode([]byte(tc.payload))
		var mismatch *qr.SchemaMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("%s: got %v, want SchemaMismatchError", tc.name, err)
		}
		if mismatch.Field != tc.field {
			t.Fatalf("%s: field = %s, want %s", tc.name, mismatch.Field, tc.field)
		}
	}
}

func TestImageRendersPNG(t *testing.T) {
	png, err := qr.Image(sampleSnapshot(), qr.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("output is not a PNG (%d bytes)", len(png))
	}
}

func TestFromBatchUsesUpdatedAt(t *testing.T) {
	b := domain.Batch{
		ID:           "HB-NEE003",
		HerbName:     "Neem",
		QuantityKg:   12.5,
		FarmerID:     "F003",
		CurrentStage: domain.StageProcessingDrying,
		CreatedAt:    "2026-02-01T00:00:00Z",
		UpdatedAt:    "2026-02-10T00:00:00Z",
	}
	snap := qr.FromBatch(b)
	if snap.Timestamp != b.UpdatedAt {
		t.Fatalf("timestamp = %s, want %s", snap.Timestamp, b.UpdatedAt)
	}
	if snap.Stage != domain.StageProcessingDrying {
		t.Fatalf("stage = %s", snap.Stage)
	}
}
