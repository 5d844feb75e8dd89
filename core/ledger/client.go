package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	coreconfig "github.com/m3rciful/paybot/core/config"
	"github.com/m3rciful/paybot/core/fault"
	"github.com/m3rciful/paybot/core/logger"
)

// Client talks JSON-RPC to the ledger service over HTTP.
type Client struct {
	url  string
	http *http.Client
}

// NewClient builds a Backend for the configured ledger endpoint.
func NewClient(cfg coreconfig.LedgerConfig) *Client {
	return &Client{
		url: cfg.URL,
		http: &http.Client{
			Timeout: cfg.RequestTimeout(),
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type submitParams struct {
	IdempotencyToken string `json:"idempotency_token"`
	FromAddress      string `json:"from_address"`
	ToAddress        string `json:"to_address"`
	Amount           int64  `json:"amount"`
}

type submitResult struct {
	Status    string `json:"status"`
	ReceiptID string `json:"receipt_id"`
	Reason    string `json:"reason"`
}

type statusResult struct {
	Status string `json:"status"`
}

type balanceResult struct {
	Balance int64 `json:"balance"`
}

// Submit queues a payment. A definitive refusal comes back as *Rejection;
// anything else wrapping the call is a backend fault worth retrying.
func (c *Client) Submit(ctx context.Context, idempotencyToken, fromAddr, toAddr string, amount int64) (string, error) {
	var res submitResult
	if err := c.call(ctx, "submit_payment", submitParams{
		IdempotencyToken: idempotencyToken,
		FromAddress:      fromAddr,
		ToAddress:        toAddr,
		Amount:           amount,
	}, &res); err != nil {
		return "", err
	}
	if res.Status == "rejected" {
		return "", &Rejection{Reason: res.Reason}
	}
	if res.ReceiptID == "" {
		return "", fault.Backendf("submit returned no receipt id")
	}
	return res.ReceiptID, nil
}

// GetStatus reports finality for a receipt id.
func (c *Client) GetStatus(ctx context.Context, receiptID string) (Status, error) {
	var res statusResult
	if err := c.call(ctx, "get_tx_status", map[string]string{"receipt_id": receiptID}, &res); err != nil {
		return "", err
	}
	switch Status(res.Status) {
	case StatusPending, StatusFinal, StatusRejected:
		return Status(res.Status), nil
	default:
		return "", fault.Backendf("unknown tx status %q", res.Status)
	}
}

// GetBalance reports the spendable balance of an address in minor units.
func (c *Client) GetBalance(ctx context.Context, addr string) (int64, error) {
	var res balanceResult
	if err := c.call(ctx, "get_balance", map[string]string{"address": addr}, &res); err != nil {
		return 0, err
	}
	return res.Balance, nil
}

var rpcCounter atomic.Int64

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      rpcCounter.Add(1),
	})
	if err != nil {
		return fmt.Errorf("ledger encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.LED.Warn("backend unreachable",
			slog.String("event", "ledger.call"),
			slog.String("op", method),
			slog.String("err", err.Error()),
		)
		return fault.Wrap(fault.KindBackend, err, "ledger %s", method)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fault.Backendf("ledger %s: http %d", method, resp.StatusCode)
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return fault.Wrap(fault.KindBackend, err, "ledger %s: bad response", method)
	}
	if rpc.Error != nil {
		return fault.Backendf("ledger %s: %s (%d)", method, rpc.Error.Message, rpc.Error.Code)
	}
	if err := json.Unmarshal(rpc.Result, out); err != nil {
		return fault.Wrap(fault.KindBackend, err, "ledger %s: bad result", method)
	}

	logger.LED.Debug("backend call",
		slog.String("event", "ledger.call"),
		slog.String("status", "ok"),
		slog.String("op", method),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return nil
}
