package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// BlockSource is the read surface the rest of the service consumes.
// Implementations fold every failure mode into a single error outcome;
// callers must treat any error as "no data this time" and try again on
// the next cycle rather than retrying inline.
type BlockSource interface {
	Tip(ctx context.Context) (*Block, error)
	BlocksByHeight(ctx context.Context, heights []uint64) ([]*Block, error)
	BlocksByTimestampRange(ctx context.Context, minTS, maxTS int64) ([]Block, error)
	TransactionsByBlockHeight(ctx context.Context, height uint64) ([]Transaction, error)
}

// Options parameterise the RPC client.
type Options struct {
	RPCURL    string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Client speaks JSON-RPC 2.0 to the chain indexer. Request identifiers
// increase monotonically per client instance.
type Client struct {
	opts   Options
	logger zerolog.Logger
	client *http.Client
	url    string
	reqID  atomic.Uint64
}

// NewClient constructs an RPC client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	url := strings.TrimRight(opts.RPCURL, "/")
	if url == "" {
		url = "https://nockblocks.com/rpc/v1"
	}

	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "chain_client").Logger(),
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call posts one JSON-RPC envelope and decodes its result into out.
// Transport errors, non-2xx statuses, rpc error objects, and malformed
// bodies all surface as plain errors; the distinction never matters to
// callers.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	payload := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []any{params},
		ID:      c.reqID.Add(1),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "nockwatch/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpError(method, resp.StatusCode, payloadBytes)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(payloadBytes, &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return fmt.Errorf("%s: empty result", method)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func httpError(method string, status int, payload []byte) error {
	if msg := strings.TrimSpace(string(payload)); msg != "" && len(msg) <= 512 {
		return fmt.Errorf("%s: http %d: %s", method, status, msg)
	}
	return fmt.Errorf("%s: http %d", method, status)
}

// Tip asks the indexer directly for its latest block.
func (c *Client) Tip(ctx context.Context) (*Block, error) {
	var block Block
	if err := c.call(ctx, "getTip", struct{}{}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// BlocksByHeight fetches blocks at the given heights. The result is
// order-preserving with a nil entry for each height that has no block.
func (c *Client) BlocksByHeight(ctx context.Context, heights []uint64) ([]*Block, error) {
	params := struct {
		Heights []uint64 `json:"heights"`
	}{Heights: heights}

	var blocks []*Block
	if err := c.call(ctx, "getBlocksByHeight", params, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// BlocksByTimestampRange fetches every block whose timestamp falls within
// [minTS, maxTS], both in Unix seconds.
func (c *Client) BlocksByTimestampRange(ctx context.Context, minTS, maxTS int64) ([]Block, error) {
	params := struct {
		MinTimestamp int64 `json:"minTimestamp"`
		MaxTimestamp int64 `json:"maxTimestamp"`
	}{MinTimestamp: minTS, MaxTimestamp: maxTS}

	var blocks []Block
	if err := c.call(ctx, "getBlocksByTimestampRange", params, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// TransactionsByBlockHeight fetches the full transaction list of one block.
func (c *Client) TransactionsByBlockHeight(ctx context.Context, height uint64) ([]Transaction, error) {
	params := struct {
		Height uint64 `json:"height"`
	}{Height: height}

	var txs []Transaction
	if err := c.call(ctx, "getTransactionsByBlockHeight", params, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

var _ BlockSource = (*Client)(nil)
