package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

// Client is a minimal Solana JSON-RPC client covering the two calls the
// pipeline needs: account-info lookups for mint verification and targeted
// transaction fetches for introspection. Requests go to the primary endpoint
// and fall back to the backup on transport failure.
type Client struct {
	Config     Config
	httpClient *http.Client
	reqID      atomic.Uint64
	onBackup   atomic.Bool
}

type Config struct {
	PrimaryURL string
	BackupURL  string
	Timeout    time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	log.Printf("[Solana] RPC client targeting %s (backup: %q)", cfg.PrimaryURL, cfg.BackupURL)
	return &Client{
		Config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call issues a JSON-RPC request, retrying once against the backup endpoint on
// transport errors. RPC-level errors (invalid params etc.) are not retried.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	url := c.Config.PrimaryURL
	if c.onBackup.Load() && c.Config.BackupURL != "" {
		url = c.Config.BackupURL
	}

	err := c.callURL(ctx, url, method, params, out)
	if err == nil {
		return nil
	}
	if _, isRPC := err.(*rpcError); isRPC {
		return err
	}

	alt := c.Config.BackupURL
	if url == c.Config.BackupURL {
		alt = c.Config.PrimaryURL
	}
	if alt == "" || alt == url {
		return err
	}
	if altErr := c.callURL(ctx, alt, method, params, out); altErr == nil {
		c.onBackup.Store(alt == c.Config.BackupURL)
		return nil
	}
	return err
}

func (c *Client) callURL(ctx context.Context, url, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %d from %s", resp.StatusCode, url)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		return json.Unmarshal(rpcResp.Result, out)
	}
	return nil
}

// AccountInfo is the decoded subset of getAccountInfo the validator needs.
type AccountInfo struct {
	Owner    string
	Lamports uint64
	Data     []byte
}

type accountInfoResult struct {
	Value *struct {
		Owner    string        `json:"owner"`
		Lamports uint64        `json:"lamports"`
		Data     []interface{} `json:"data"` // [base64payload, "base64"]
	} `json:"value"`
}

// GetAccountInfo fetches an account at confirmed commitment. A nil result with
// nil error means the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	var result accountInfoResult
	params := []interface{}{
		address,
		map[string]interface{}{"encoding": "base64", "commitment": "confirmed"},
	}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, nil
	}

	info := &AccountInfo{
		Owner:    result.Value.Owner,
		Lamports: result.Value.Lamports,
	}
	if len(result.Value.Data) > 0 {
		if encoded, ok := result.Value.Data[0].(string); ok {
			data, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("decode account data: %w", err)
			}
			info.Data = data
		}
	}
	return info, nil
}

// TokenBalance mirrors the pre/post token balance entries of getTransaction.
type TokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner,omitempty"`
	UiTokenAmount struct {
		UiAmount *float64 `json:"uiAmount"`
	} `json:"uiTokenAmount"`
}

// TransactionResult is the decoded subset of getTransaction used by the
// introspector: token balance deltas plus the account-keys array they index.
type TransactionResult struct {
	Meta *struct {
		PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
		PostTokenBalances []TokenBalance `json:"postTokenBalances"`
		LogMessages       []string       `json:"logMessages"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction fetches a transaction by signature at confirmed commitment.
// A nil result with nil error means the transaction was not found.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TransactionResult, error) {
	var result *TransactionResult
	params := []interface{}{
		signature,
		map[string]interface{}{
			"commitment":                     "confirmed",
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
		},
	}
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}
