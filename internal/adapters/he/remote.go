package he

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

// RemoteEngine — клиент внешнего гомоморфного движка поверх HTTP API.
// Хэндлы шифротекстов передаются как есть; движок хранит сами значения.
type RemoteEngine struct {
	http    *http.Client
	baseURL string
}

// NewRemote создаёт клиента движка.
func NewRemote(baseURL string, timeout time.Duration) *RemoteEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteEngine{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

var _ domain.HEEngine = (*RemoteEngine)(nil)

type opRequest struct {
	Op   string `json:"op"`
	A    string `json:"a"`
	B    string `json:"b,omitempty"`
	Cond string `json:"cond,omitempty"`
}

type opResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Gt возвращает зашифрованный булев a > b.
func (e *RemoteEngine) Gt(ctx context.Context, a, b domain.Ciphertext) (domain.Ciphertext, error) {
	return e.binaryOp(ctx, "gt", a, b)
}

// Add возвращает зашифрованную сумму a + b.
func (e *RemoteEngine) Add(ctx context.Context, a, b domain.Ciphertext) (domain.Ciphertext, error) {
	return e.binaryOp(ctx, "add", a, b)
}

// Select возвращает a при истинном cond, иначе b.
func (e *RemoteEngine) Select(ctx context.Context, cond, a, b domain.Ciphertext) (domain.Ciphertext, error) {
	start := time.Now()
	result, err := e.call(ctx, opRequest{
		Op:   "select",
		A:    base64.StdEncoding.EncodeToString(a),
		B:    base64.StdEncoding.EncodeToString(b),
		Cond: base64.StdEncoding.EncodeToString(cond),
	})
	metrics.ObserveHEOp("select", start, err)
	return result, err
}

// Export выдаёт транспортный хэндл шифротекста для оракула.
func (e *RemoteEngine) Export(ctx context.Context, ct domain.Ciphertext) ([]byte, error) {
	start := time.Now()
	result, err := e.call(ctx, opRequest{
		Op: "export",
		A:  base64.StdEncoding.EncodeToString(ct),
	})
	metrics.ObserveHEOp("export", start, err)
	return result, err
}

func (e *RemoteEngine) binaryOp(ctx context.Context, op string, a, b domain.Ciphertext) (domain.Ciphertext, error) {
	start := time.Now()
	result, err := e.call(ctx, opRequest{
		Op: op,
		A:  base64.StdEncoding.EncodeToString(a),
		B:  base64.StdEncoding.EncodeToString(b),
	})
	metrics.ObserveHEOp(op, start, err)
	return result, err
}

func (e *RemoteEngine) call(ctx context.Context, reqBody opRequest) (domain.Ciphertext, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/ops", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.http.Do(req)
	metrics.ObserveNetworkRequest("he_engine", reqBody.Op, "ops", start, err)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("engine op %s: status %d: %s", reqBody.Op, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var parsed opResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("engine op %s: %s", reqBody.Op, parsed.Error)
	}
	result, err := base64.StdEncoding.DecodeString(parsed.Result)
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}
