package rootrasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Rootra HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Batch represents the API batch model (partial).
type Batch struct {
	ID              string  `json:"id"`
	HerbName        string  `json:"herb_name"`
	QuantityKg      float64 `json:"quantity_kg"`
	FarmerID        string  `json:"farmer_id"`
	CurrentHolderID string  `json:"current_holder_id"`
	CurrentStage    string  `json:"current_stage"`
	Flagged         bool    `json:"flagged"`
}

// Event represents a transaction log entry.
type Event struct {
	Seq          int64  `json:"seq"`
	EventID      string `json:"event_id"`
	BatchID      string `json:"batch_id"`
	FromHolderID string `json:"from_holder_id"`
	ToHolderID   string `json:"to_holder_id"`
	Transition   string `json:"transition"`
	FromStage    string `json:"from_stage"`
	ToStage      string `json:"to_stage"`
	Timestamp    string `json:"timestamp"`
}

// TraceEntry is one row of the consumer journey.
type TraceEntry struct {
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	ActorID   string `json:"actor_id"`
	Timestamp string `json:"timestamp"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateBatch creates a batch.
func (c *Client) CreateBatch(ctx context.Context, herbName string, quantityKg float64) (Batch, error) {
	body := map[string]any{
		"herb_name":   herbName,
		"quantity_kg": quantityKg,
	}
	var resp Batch
	err := c.do(ctx, http.MethodPost, "v1/batches", body, &resp)
	return resp, err
}

// GetBatch fetches a batch by id.
func (c *Client) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	var resp Batch
	err := c.do(ctx, http.MethodGet, "v1/batches/"+url.PathEscape(batchID), nil, &resp)
	return resp, err
}

// RequestTransition applies a stage transition.
func (c *Client) RequestTransition(ctx context.Context, batchID, transition, notes string) (Event, error) {
	body := map[string]any{
		"transition": transition,
		"notes":      notes,
	}
	var resp Event
	endpoint := fmt.Sprintf("v1/batches/%s/transitions", url.PathEscape(batchID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AttachCertificate attaches or re-issues a quality certificate.
func (c *Client) AttachCertificate(ctx context.Context, batchID, issuedAt, expiresAt string) (Batch, error) {
	body := map[string]any{
		"issued_at":  issuedAt,
		"expires_at": expiresAt,
	}
	var resp Batch
	endpoint := fmt.Sprintf("v1/batches/%s/certificate", url.PathEscape(batchID))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// Trace returns the consumer journey projection.
func (c *Client) Trace(ctx context.Context, batchID string) ([]TraceEntry, error) {
	var resp struct {
		Journey []TraceEntry `json:"journey"`
	}
	endpoint := fmt.Sprintf("v1/batches/%s/trace", url.PathEscape(batchID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Journey, err
}

// Events returns the event log for a batch.
func (c *Client) Events(ctx context.Context, batchID string) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	endpoint := fmt.Sprintf("v1/batches/%s/events", url.PathEscape(batchID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// TailLog returns global events after a cursor.
func (c *Client) TailLog(ctx context.Context, after int64, limit int) ([]Event, int64, error) {
	var resp struct {
		Items      []Event `json:"items"`
		NextCursor int64   `json:"next_cursor"`
	}
	endpoint := fmt.Sprintf("v1/events?after=%d", after)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, resp.NextCursor, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
