package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/asmith81/MJM-Special-WOs/internal/models"
)

// Client talks to the external billing system's REST API. It implements
// staging.InvoiceAPI.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

// NewClient builds a billing API client. baseURL is the service root without
// a trailing slash.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		log:     logger,
	}
}

type invoiceLine struct {
	WorkOrderID string          `json:"workOrderId"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type createInvoiceRequest struct {
	ExternalRef string        `json:"externalRef"`
	Client      string        `json:"client"`
	Lines       []invoiceLine `json:"lines"`
}

type createInvoiceResponse struct {
	InvoiceID string `json:"invoiceId"`
	Status    string `json:"status"`
}

// CreateInvoice creates one invoice covering every accepted match in the
// batch. The batch ID is sent as the external reference so the billing system
// can dedupe a re-sent request.
func (c *Client) CreateInvoice(ctx context.Context, batch *models.StagedBatch) (string, error) {
	reqID := uuid.New().String()
	start := time.Now()

	payload := createInvoiceRequest{
		ExternalRef: batch.ID,
		Client:      batch.Client,
	}
	for _, m := range batch.Matches {
		if m.Best == nil {
			continue
		}
		line := invoiceLine{
			WorkOrderID: m.Best.WorkOrder.ID,
			Description: m.Item.Description,
		}
		if m.Item.Amount != nil {
			line.Amount = *m.Item.Amount
		} else {
			line.Amount = m.Best.WorkOrder.Amount
		}
		payload.Lines = append(payload.Lines, line)
	}
	if len(payload.Lines) == 0 {
		return "", fmt.Errorf("batch %s has no billable lines", batch.ID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode invoice request: %w", err)
	}

	url := c.baseURL + "/invoices"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build invoice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Info("invoice.create.request",
		"req_id", reqID,
		"batch_id", batch.ID,
		"lines", len(payload.Lines),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("invoice.create.send_error",
			"req_id", reqID,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("billing api request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	c.log.Info("invoice.create.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("billing api status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var out createInvoiceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode invoice response: %w", err)
	}
	if out.InvoiceID == "" {
		return "", fmt.Errorf("billing api returned empty invoice id")
	}
	return out.InvoiceID, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
