package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"billfold-backend/internal/blob"
)

// HTTPClient calls a hosted OCR endpoint. The request carries the payload
// base64-encoded with its declared media type; the response is expected to
// hold the recognized text and an optional page-level confidence.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient builds a recognition client for the given endpoint.
func NewHTTPClient(endpoint, apiKey string) (*HTTPClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("recognition endpoint is required")
	}
	return &HTTPClient{
		endpoint:   endpoint,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type recognizeRequest struct {
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

type recognizeResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Recognize implements Client.
func (c *HTTPClient) Recognize(ctx context.Context, data []byte, mimeType string) (Result, error) {
	body, err := json.Marshal(recognizeRequest{
		Content:  encodePayload(data),
		MimeType: mimeType,
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("recognize: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{}, blob.ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("recognize status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("recognize: decode: %w", err)
	}
	if payload.Error != nil {
		return Result{}, fmt.Errorf("recognize: %s", payload.Error.Message)
	}
	return Result{Text: payload.Text, PageConfidence: payload.Confidence}, nil
}

var _ Client = (*HTTPClient)(nil)
