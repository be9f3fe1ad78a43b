package privacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zuripay/zuri-settler/pkg/logger"
)

// ZcashPool implements Pool against a zcashd-style JSON-RPC node. Burns
// and issues are shielded z_sendmany transfers from the pool account;
// the returned operation id is polled with z_getoperationstatus.
type ZcashPool struct {
	url         string
	username    string
	password    string
	burnAddress string
	fromAccount string
	httpClient  *http.Client
	logger      logger.Logger
}

var _ Pool = (*ZcashPool)(nil)

// ZcashConfig carries the RPC endpoint and pool account settings.
type ZcashConfig struct {
	URL         string
	Username    string
	Password    string
	BurnAddress string
	FromAccount string
}

// NewZcashPool creates a pool client. The config is injected per
// instance; there is no ambient RPC state.
func NewZcashPool(cfg ZcashConfig, log logger.Logger) *ZcashPool {
	return &ZcashPool{
		url:         cfg.URL,
		username:    cfg.Username,
		password:    cfg.Password,
		burnAddress: cfg.BurnAddress,
		fromAccount: cfg.FromAccount,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: log,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type sendRecipient struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type operationStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (z *ZcashPool) Burn(ctx context.Context, ref string, amount decimal.Decimal) (string, error) {
	opid, err := z.sendShielded(ctx, z.burnAddress, amount)
	if err != nil {
		return "", fmt.Errorf("burn submission for %s failed: %w", ref, err)
	}
	z.logger.InfoWithScope(logger.Pool, "Burn submitted for %s: %s", ref, opid)
	return opid, nil
}

func (z *ZcashPool) Issue(ctx context.Context, ref, destRef string, amount decimal.Decimal) (string, error) {
	opid, err := z.sendShielded(ctx, destRef, amount)
	if err != nil {
		return "", fmt.Errorf("issue submission for %s failed: %w", ref, err)
	}
	z.logger.InfoWithScope(logger.Pool, "Issue submitted for %s: %s", ref, opid)
	return opid, nil
}

func (z *ZcashPool) OperationStatus(ctx context.Context, id string) (OpState, error) {
	var statuses []operationStatus
	if err := z.call(ctx, "z_getoperationstatus", []interface{}{[]string{id}}, &statuses); err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", fmt.Errorf("operation %s not found", id)
	}

	switch statuses[0].Status {
	case "queued":
		return OpPending, nil
	case "executing":
		return OpExecuting, nil
	case "success":
		return OpDone, nil
	case "failed", "cancelled":
		return OpFailed, nil
	default:
		return "", fmt.Errorf("operation %s reported unknown status %q", id, statuses[0].Status)
	}
}

// sendShielded submits a z_sendmany from the pool account and returns
// the operation id.
func (z *ZcashPool) sendShielded(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	recipients := []sendRecipient{{Address: to, Amount: amount.String()}}

	var opid string
	if err := z.call(ctx, "z_sendmany", []interface{}{z.fromAccount, recipients}, &opid); err != nil {
		return "", err
	}
	return opid, nil
}

func (z *ZcashPool) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "zuri-settler",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(z.username, z.password)

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s rejected: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}
