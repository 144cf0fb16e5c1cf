package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"futarchy-lobbyist/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	DefaultRateLimit       = 10 // requests per second
	DefaultRateBurst       = 5
	DefaultBreakerFailures = 5
	DefaultBreakerCoolDown = 30 * time.Second
)

const maxAccountsPerRPCRequest = 100

// ErrAccountEncoding is returned when an account payload is not base64.
var ErrAccountEncoding = errors.New("unexpected account encoding")

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
// Calls are rate limited and guarded by a circuit breaker that opens
// after consecutive transport failures.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64

	limiter         *rate.Limiter
	breaker         *gobreaker.CircuitBreaker
	breakerFailures uint32
	breakerCoolDown time.Duration
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithRateLimit sets the request rate. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBreaker sets how many consecutive failed calls open the breaker
// and how long it stays open before probing again.
func WithBreaker(failures uint32, coolDown time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.breakerFailures = failures
		c.breakerCoolDown = coolDown
	}
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:        endpoint,
		client:          &http.Client{Timeout: DefaultTimeout},
		maxRetries:      DefaultMaxRetries,
		retryDelay:      DefaultRetryDelay,
		maxDelay:        DefaultMaxDelay,
		backoffMult:     DefaultBackoffMult,
		limiter:         rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateBurst),
		breakerFailures: DefaultBreakerFailures,
		breakerCoolDown: DefaultBreakerCoolDown,
	}
	for _, opt := range opts {
		opt(c)
	}

	failures := c.breakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "solana-rpc",
		MaxRequests: 1,
		Timeout:     c.breakerCoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		// JSON-RPC errors and caller cancellation say nothing about endpoint health.
		IsSuccessful: func(err error) bool {
			var rpcErr *rpcError
			return err == nil || errors.As(err, &rpcErr) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			observability.UpdateBreakerState(int(to))
		},
	})
	return c
}

// BreakerState reports the circuit breaker state.
func (c *HTTPClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call through the rate limiter and circuit breaker.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.callWithRetry(ctx, method, params, result)
	})
	observability.RecordRPCLatency(method, time.Since(start).Seconds())
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", method, err)
	}
	return err
}

// callWithRetry performs a JSON-RPC call with retries and exponential backoff.
func (c *HTTPClient) callWithRetry(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

var base64Config = map[string]interface{}{
	"encoding":   "base64",
	"commitment": "confirmed",
}

// GetAccountInfo retrieves account info by public key.
// Returns nil if account not found.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, addr Pubkey) (*AccountInfo, error) {
	params := []interface{}{addr.String(), base64Config}

	var result getAccountInfoResult
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, nil
	}
	return result.Value.decode(addr, result.Context.Slot)
}

// GetMultipleAccounts retrieves accounts in request order, splitting
// large requests into batches the RPC node accepts.
func (c *HTTPClient) GetMultipleAccounts(ctx context.Context, addrs []Pubkey) ([]*AccountInfo, error) {
	out := make([]*AccountInfo, 0, len(addrs))
	for start := 0; start < len(addrs); start += maxAccountsPerRPCRequest {
		end := start + maxAccountsPerRPCRequest
		if end > len(addrs) {
			end = len(addrs)
		}
		batch := addrs[start:end]

		keys := make([]string, len(batch))
		for i, a := range batch {
			keys[i] = a.String()
		}

		var result getMultipleAccountsResult
		if err := c.call(ctx, "getMultipleAccounts", []interface{}{keys, base64Config}, &result); err != nil {
			return nil, err
		}
		if len(result.Value) != len(batch) {
			return nil, fmt.Errorf("getMultipleAccounts: requested %d accounts, got %d", len(batch), len(result.Value))
		}

		for i, v := range result.Value {
			if v == nil {
				out = append(out, nil)
				continue
			}
			info, err := v.decode(batch[i], result.Context.Slot)
			if err != nil {
				return nil, err
			}
			out = append(out, info)
		}
	}
	return out, nil
}

type rpcContext struct {
	Slot int64 `json:"slot"`
}

type getAccountInfoResult struct {
	Context rpcContext       `json:"context"`
	Value   *rpcAccountValue `json:"value"`
}

type getMultipleAccountsResult struct {
	Context rpcContext         `json:"context"`
	Value   []*rpcAccountValue `json:"value"`
}

type rpcAccountValue struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"` // [base64_data, encoding]
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

func (v *rpcAccountValue) decode(addr Pubkey, slot int64) (*AccountInfo, error) {
	owner, err := ParsePubkey(v.Owner)
	if err != nil {
		return nil, fmt.Errorf("account %s owner: %w", addr, err)
	}
	if len(v.Data) != 2 || v.Data[1] != "base64" {
		return nil, fmt.Errorf("account %s: %w", addr, ErrAccountEncoding)
	}
	data, err := base64.StdEncoding.DecodeString(v.Data[0])
	if err != nil {
		return nil, fmt.Errorf("account %s data: %w", addr, err)
	}
	return &AccountInfo{
		Address:    addr,
		Lamports:   v.Lamports,
		Owner:      owner,
		Data:       data,
		Executable: v.Executable,
		RentEpoch:  v.RentEpoch,
		Slot:       slot,
	}, nil
}

// GetSlot retrieves the current slot.
func (c *HTTPClient) GetSlot(ctx context.Context) (int64, error) {
	var result int64
	if err := c.call(ctx, "getSlot", nil, &result); err != nil {
		return 0, err
	}
	return result, nil
}

// GetBlockTime retrieves the estimated production time of a block.
func (c *HTTPClient) GetBlockTime(ctx context.Context, slot int64) (*int64, error) {
	params := []interface{}{slot}
	var result *int64
	if err := c.call(ctx, "getBlockTime", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}
