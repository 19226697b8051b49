package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wrapped-fhe-service/internal/domain"
	"wrapped-fhe-service/internal/infra/metrics"
)

// Client отправляет заявки на расшифровку внешнему оракулу.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient создаёт клиента оракула.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

var _ domain.OracleClient = (*Client)(nil)

type submitRequest struct {
	RequestID   string   `json:"request_id"`
	Handles     []string `json:"handles"`
	CallbackURL string   `json:"callback_url"`
}

type submitResponse struct {
	Ref   string `json:"ref"`
	Error string `json:"error,omitempty"`
}

// SubmitDecryption передаёт хэндлы в порядке следования; порядок хэндлов
// определяет порядок значений в обратном вызове.
func (c *Client) SubmitDecryption(ctx context.Context, requestID string, handles [][]byte, callbackURL string) (string, error) {
	if len(handles) != PayloadFields {
		return "", fmt.Errorf("submit decryption: %d handles, want %d", len(handles), PayloadFields)
	}
	encoded := make([]string, 0, len(handles))
	for _, h := range handles {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(h))
	}
	payload, err := json.Marshal(submitRequest{
		RequestID:   requestID,
		Handles:     encoded,
		CallbackURL: callbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/decryptions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	metrics.ObserveNetworkRequest("oracle", "submit", "decryptions", start, err)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("submit decryption: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("submit decryption: %s", parsed.Error)
	}
	return parsed.Ref, nil
}
