package obr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hankstore/ebms_backend/models"
)

const (
	defaultBaseURL = "https://ebms.obr.gov.bi:9443/ebms_api"
	requestTimeout = 30 * time.Second
	movementPath   = "/AddStockMovement/"
	invoicePath    = "/addInvoice/"
	loginPath      = "/login/"
)

// Response is the classified outcome of one declaration call. Err-free does
// not mean accepted: the declarer inspects StatusCode and Success.
type Response struct {
	StatusCode int
	Success    bool
	Body       []byte
	Result     json.RawMessage
}

// DeclarationClient is the remote OBR surface the declarer talks to.
// Tests substitute a stub.
type DeclarationClient interface {
	DeclareStockMovement(ctx context.Context, token string, payload models.StockMovementPayload) (*Response, error)
	DeclareInvoice(ctx context.Context, token string, payload models.InvoicePayload) (*Response, error)
}

type ebmsClient struct {
	baseURL string
	http    *http.Client
}

// NewClient builds the production OBR client. Base URL override:
// OBR_API_BASE_URL.
func NewClient() DeclarationClient {
	return &ebmsClient{
		baseURL: resolveBaseURL(),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func resolveBaseURL() string {
	baseURL := strings.TrimSpace(os.Getenv("OBR_API_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

func (c *ebmsClient) DeclareStockMovement(ctx context.Context, token string, payload models.StockMovementPayload) (*Response, error) {
	return c.post(ctx, movementPath, token, payload)
}

func (c *ebmsClient) DeclareInvoice(ctx context.Context, token string, payload models.InvoicePayload) (*Response, error) {
	return c.post(ctx, invoicePath, token, payload)
}

// responseEnvelope covers the marker variants the API is known to emit.
type responseEnvelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Status  json.Number     `json:"status"`
	Code    *int            `json:"code"`
	Result  json.RawMessage `json:"result"`
}

func (c *ebmsClient) post(ctx context.Context, path, token string, payload interface{}) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := &Response{StatusCode: resp.StatusCode, Body: raw}

	var envelope responseEnvelope
	if jerr := json.Unmarshal(raw, &envelope); jerr == nil {
		out.Result = envelope.Result
		out.Success = businessSuccess(envelope)
	}
	return out, nil
}

func businessSuccess(envelope responseEnvelope) bool {
	if envelope.Success {
		return true
	}
	if envelope.Status.String() == "1" {
		return true
	}
	if envelope.Code != nil && *envelope.Code == 0 {
		return true
	}
	return false
}
