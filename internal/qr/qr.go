// Package qr converts between a batch's public snapshot and the payload
// embedded in its QR code. The payload is canonical JSON (fixed key order, no
// insignificant whitespace) so the same snapshot always renders the same code.
package qr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"rootra/internal/domain"
)

// Snapshot is the advisory view embedded at QR-generation time. Consumers must
// re-fetch authoritative state by BatchID before acting on it.
type Snapshot struct {
	BatchID     string           `json:"batchId"`
	FarmerID    string           `json:"farmerId"`
	FarmerPhone string           `json:"farmerPhone,omitempty"`
	HerbName    string           `json:"herbName"`
	QuantityKg  float64          `json:"quantity"`
	Timestamp   string           `json:"timestamp"`
	Stage       domain.Stage     `json:"stage"`
	Location    *domain.Location `json:"location,omitempty"`
}

// FromBatch builds the snapshot for a batch as of its last update.
func FromBatch(b domain.Batch) Snapshot {
	return Snapshot{
		BatchID:     b.ID,
		FarmerID:    b.FarmerID,
		FarmerPhone: b.FarmerPhone,
		HerbName:    b.HerbName,
		QuantityKg:  b.QuantityKg,
		Timestamp:   b.UpdatedAt,
		Stage:       b.CurrentStage,
		Location:    b.Origin,
	}
}

// MalformedPayloadError means the payload is not parseable at all.
type MalformedPayloadError struct {
	Cause error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload: %v", e.Cause)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Cause }

// SchemaMismatchError means the payload parsed but required fields are missing
// or of the wrong type.
type SchemaMismatchError struct {
	Field  string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: %s: %s", e.Field, e.Reason)
}

// Encode serializes a snapshot to its canonical payload bytes.
func Encode(s Snapshot) ([]byte, error) {
	if err := validate(s); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses payload bytes back into a snapshot. Pure: it never touches
// the store.
func Decode(payload []byte) (Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Snapshot{}, &MalformedPayloadError{Cause: err}
	}
	for _, field := range []string{"batchId", "farmerId", "herbName", "quantity", "timestamp", "stage"} {
		if _, ok := raw[field]; !ok {
			return Snapshot{}, &SchemaMismatchError{Field: field, Reason: "missing"}
		}
	}
	var s Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Snapshot{}, &SchemaMismatchError{Field: typeErr.Field, Reason: "wrong type: " + typeErr.Value}
		}
		return Snapshot{}, &MalformedPayloadError{Cause: err}
	}
	if err := validate(s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func validate(s Snapshot) error {
	if s.BatchID == "" {
		return &SchemaMismatchError{Field: "batchId", Reason: "empty"}
	}
	if s.FarmerID == "" {
		return &SchemaMismatchError{Field: "farmerId", Reason: "empty"}
	}
	if s.HerbName == "" {
		return &SchemaMismatchError{Field: "herbName", Reason: "empty"}
	}
	if s.QuantityKg < 0 {
		return &SchemaMismatchError{Field: "quantity", Reason: "negative"}
	}
	if s.Timestamp == "" {
		return &SchemaMismatchError{Field: "timestamp", Reason: "empty"}
	}
	if !domain.ValidStage(s.Stage) {
		return &SchemaMismatchError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", s.Stage)}
	}
	return nil
}

// Options controls image rendering only; none of these affect the payload.
// The zero value renders 256px at Medium recovery.
type Options struct {
	Size          int
	RecoveryLevel qrcode.RecoveryLevel
}

// Image renders the snapshot's payload as a PNG QR code.
func Image(s Snapshot, opts Options) ([]byte, error) {
	payload, err := Encode(s)
	if err != nil {
		return nil, err
	}
	size := opts.Size
	if size <= 0 {
		size = 256
	}
	level := opts.RecoveryLevel
	if level == 0 {
		level = qrcode.Medium
	}
	png, err := qrcode.Encode(string(payload), level, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
