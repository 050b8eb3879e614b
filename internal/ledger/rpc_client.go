package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"blockfund/internal/domain"
	"blockfund/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements Reader and Submitter using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	contract    domain.Address
	client      *http.Client
	logger      *zap.Logger
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for reads.
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

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// NewHTTPClient creates a JSON-RPC client for the contract at contract.
func NewHTTPClient(endpoint string, contract domain.Address, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		contract:    contract,
		client:      &http.Client{Timeout: DefaultTimeout},
		logger:      zap.NewNop(),
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("ledger.rpc")
	return c
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
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object, e.g. a contract revert.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// contractCall is the parameter object of contract_call and contract_send.
type contractCall struct {
	To     string        `json:"to"`
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
	From   string        `json:"from,omitempty"`
	Value  string        `json:"value,omitempty"`
}

// call performs a JSON-RPC call with up to retries retries and exponential backoff.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}, retries int) error {
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

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying rpc call",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

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
			if ctx.Err() != nil {
				return ctx.Err()
			}
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

	if retries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// read invokes a view method of the contract.
func (c *HTTPClient) read(ctx context.Context, method string, from domain.Address, result interface{}, args ...interface{}) error {
	start := time.Now()
	params := []interface{}{c.newCall(method, from, domain.Amount{}, args)}
	err := c.call(ctx, "contract_call", params, result, c.maxRetries)
	observability.RecordRPCLatency(method, time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	return nil
}

// send submits a transaction. Submissions are never retried: a transport
// failure after the node accepted the transaction would otherwise double-spend.
func (c *HTTPClient) send(ctx context.Context, method string, opts TxOpts, args ...interface{}) (string, error) {
	start := time.Now()
	params := []interface{}{c.newCall(method, opts.From, opts.Value, args)}

	var txHash string
	err := c.call(ctx, "contract_send", params, &txHash, 0)
	observability.RecordRPCLatency(method, time.Since(start).Seconds(), err)
	if err != nil {
		return "", fmt.Errorf("send %s: %w", method, err)
	}
	return txHash, nil
}

func (c *HTTPClient) newCall(method string, from domain.Address, value domain.Amount, args []interface{}) contractCall {
	if args == nil {
		args = []interface{}{}
	}
	call := contractCall{
		To:     c.contract.Hex(),
		Method: method,
		Args:   args,
		From:   from.String(),
	}
	if !value.IsZero() {
		call.Value = value.String()
	}
	return call
}

// ContractAddress returns the address of the crowdfunding contract.
func (c *HTTPClient) ContractAddress() domain.Address {
	return c.contract
}

// Owner returns the contract owner.
func (c *HTTPClient) Owner(ctx context.Context) (domain.Address, error) {
	return c.readAddress(ctx, "owner")
}

// SpecialWallet returns the secondary privileged address.
func (c *HTTPClient) SpecialWallet(ctx context.Context) (domain.Address, error) {
	return c.readAddress(ctx, "specialWallet")
}

// BalanceOf returns the native balance of addr.
func (c *HTTPClient) BalanceOf(ctx context.Context, addr domain.Address) (domain.Amount, error) {
	start := time.Now()
	var result quantity
	err := c.call(ctx, "eth_getBalance", []interface{}{addr.Hex(), "latest"}, &result, c.maxRetries)
	observability.RecordRPCLatency("getBalance", time.Since(start).Seconds(), err)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("get balance: %w", err)
	}
	return result.amount()
}

// TotalPlatformFees returns fees collected and not yet withdrawn.
func (c *HTTPClient) TotalPlatformFees(ctx context.Context) (domain.Amount, error) {
	return c.readAmount(ctx, "totalPlatformFees")
}

// CampaignFee returns the flat fee required to create a campaign.
func (c *HTTPClient) CampaignFee(ctx context.Context) (domain.Amount, error) {
	return c.readAmount(ctx, "campaignFee")
}

// Terminated reports whether the contract is winding down.
func (c *HTTPClient) Terminated(ctx context.Context) (bool, error) {
	var result bool
	err := c.read(ctx, "terminated", domain.Address{}, &result)
	return result, err
}

// BannedEntrepreneurs reports whether addr is banned from creating campaigns.
func (c *HTTPClient) BannedEntrepreneurs(ctx context.Context, addr domain.Address) (bool, error) {
	var result bool
	err := c.read(ctx, "bannedEntrepreneurs", domain.Address{}, &result, addr.Hex())
	return result, err
}

// IsRefundAvailable reports whether from has a pending refund.
func (c *HTTPClient) IsRefundAvailable(ctx context.Context, from domain.Address) (bool, error) {
	var result bool
	err := c.read(ctx, "isRefundAvailable", from, &result)
	return result, err
}

// GetAllCampaigns returns every campaign as seen by from.
func (c *HTTPClient) GetAllCampaigns(ctx context.Context, from domain.Address) ([]domain.CampaignRecord, error) {
	var result []campaignResult
	if err := c.read(ctx, "getAllCampaigns", from, &result); err != nil {
		return nil, err
	}

	records := make([]domain.CampaignRecord, 0, len(result))
	for i, r := range result {
		rec, err := r.toRecord()
		if err != nil {
			return nil, fmt.Errorf("decode campaign %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetCampaignInfoByID returns one campaign as seen by from.
func (c *HTTPClient) GetCampaignInfoByID(ctx context.Context, from domain.Address, id domain.CampaignID) (domain.CampaignRecord, error) {
	var result campaignResult
	if err := c.read(ctx, "getCampaignInfoById", from, &result, id.String()); err != nil {
		return domain.CampaignRecord{}, err
	}

	rec, err := result.toRecord()
	if err != nil {
		return domain.CampaignRecord{}, fmt.Errorf("decode campaign %s: %w", id, err)
	}
	return rec, nil
}

// CampaignTitles reports whether title is already taken.
func (c *HTTPClient) CampaignTitles(ctx context.Context, title string) (bool, error) {
	var result bool
	err := c.read(ctx, "campaignTitles", domain.Address{}, &result, title)
	return result, err
}

func (c *HTTPClient) readAddress(ctx context.Context, method string) (domain.Address, error) {
	var result string
	if err := c.read(ctx, method, domain.Address{}, &result); err != nil {
		return domain.Address{}, err
	}
	addr, err := parseOptionalAddress(result)
	if err != nil {
		return domain.Address{}, fmt.Errorf("decode %s: %w", method, err)
	}
	return addr, nil
}

func (c *HTTPClient) readAmount(ctx context.Context, method string) (domain.Amount, error) {
	var result quantity
	if err := c.read(ctx, method, domain.Address{}, &result); err != nil {
		return domain.Amount{}, err
	}
	a, err := result.amount()
	if err != nil {
		return domain.Amount{}, fmt.Errorf("decode %s: %w", method, err)
	}
	return a, nil
}

// CreateCampaign submits createCampaign; opts.Value must carry the campaign fee.
func (c *HTTPClient) CreateCampaign(ctx context.Context, opts TxOpts, title string, cost domain.Amount, pledges uint64) (string, error) {
	return c.send(ctx, "createCampaign", opts, title, cost.String(), fmt.Sprint(pledges))
}

// FundCampaign submits fundCampaign; opts.Value must carry price * count.
func (c *HTTPClient) FundCampaign(ctx context.Context, opts TxOpts, id domain.CampaignID, count uint64) (string, error) {
	return c.send(ctx, "fundCampaign", opts, id.String(), fmt.Sprint(count))
}

// CompleteCampaign submits completeCampaign.
func (c *HTTPClient) CompleteCampaign(ctx context.Context, opts TxOpts, id domain.CampaignID) (string, error) {
	return c.send(ctx, "completeCampaign", opts, id.String())
}

// CancelCampaign submits cancelCampaign.
func (c *HTTPClient) CancelCampaign(ctx context.Context, opts TxOpts, id domain.CampaignID) (string, error) {
	return c.send(ctx, "cancelCampaign", opts, id.String())
}

// RefundInvestor submits refundInvestor.
func (c *HTTPClient) RefundInvestor(ctx context.Context, opts TxOpts) (string, error) {
	return c.send(ctx, "refundInvestor", opts)
}

// WithdrawPlatformFees submits withdrawPlatformFees.
func (c *HTTPClient) WithdrawPlatformFees(ctx context.Context, opts TxOpts) (string, error) {
	return c.send(ctx, "withdrawPlatformFees", opts)
}

// ChangeOwnership submits changeOwnership.
func (c *HTTPClient) ChangeOwnership(ctx context.Context, opts TxOpts, newOwner domain.Address) (string, error) {
	return c.send(ctx, "changeOwnership", opts, newOwner.Hex())
}

// BanEntrepreneur submits banEntrepreneur.
func (c *HTTPClient) BanEntrepreneur(ctx context.Context, opts TxOpts, entrepreneur domain.Address) (string, error) {
	return c.send(ctx, "banEntrepreneur", opts, entrepreneur.Hex())
}

// TerminateContract submits terminateContract.
func (c *HTTPClient) TerminateContract(ctx context.Context, opts TxOpts) (string, error) {
	return c.send(ctx, "terminateContract", opts)
}

var (
	_ Reader    = (*HTTPClient)(nil)
	_ Submitter = (*HTTPClient)(nil)
)
