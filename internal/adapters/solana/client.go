package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultCommitment    = "confirmed"
	maxRetries           = 3
	maxRequestsPerSecond = 10
)

// Client is a JSON-RPC client for a Solana-style node
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	logger         *zap.Logger
}

// NewClient creates a new Solana RPC client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.Commitment == "" {
		config.Commitment = defaultCommitment
	}

	cbSettings := gobreaker.Settings{
		Name:        "SolanaRPC",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Solana circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(maxRequestsPerSecond), 1),
		logger:         logger,
	}
}

// GetSlot returns the current slot at the configured commitment
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	params := []interface{}{commitmentOption{Commitment: c.config.Commitment}}
	if err := c.call(ctx, "getSlot", params, &slot); err != nil {
		return 0, fmt.Errorf("get slot failed: %w", err)
	}
	return slot, nil
}

// GetSignaturesForAddress lists transaction signatures that touched the
// address, newest first, stopping at the until signature when set.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address, until string, limit int) ([]SignatureInfo, error) {
	opts := signaturesOptions{
		Until:      until,
		Limit:      limit,
		Commitment: c.config.Commitment,
	}
	var sigs []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{address, opts}, &sigs); err != nil {
		return nil, fmt.Errorf("get signatures failed: %w", err)
	}
	return sigs, nil
}

// GetTransaction fetches a transaction by signature in jsonParsed form
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TransactionResult, error) {
	opts := transactionOptions{
		Encoding:                       "jsonParsed",
		Commitment:                     c.config.Commitment,
		MaxSupportedTransactionVersion: 0,
	}
	var tx TransactionResult
	if err := c.call(ctx, "getTransaction", []interface{}{signature, opts}, &tx); err != nil {
		return nil, fmt.Errorf("get transaction %s failed: %w", signature, err)
	}
	return &tx, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.callInternal(ctx, method, params, result)
	})
	return err
}

func (c *Client) callInternal(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.RPCURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read body: %w", err)
			continue
		}

		// Retry on 5xx
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("RPC error: status %d, body: %s", resp.StatusCode, string(respBody))
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			return fmt.Errorf("unmarshal envelope: %w", err)
		}
		if rpcResp.Error != nil {
			return fmt.Errorf("%s: %w", method, rpcResp.Error)
		}

		if result != nil && len(rpcResp.Result) > 0 && string(rpcResp.Result) != "null" {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
	return lastErr
}
