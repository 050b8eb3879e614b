package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockfund/internal/domain"
)

var (
	testContract = domain.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	testCaller   = domain.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

// rpcHandler decodes the request and answers with result, or with the error
// object when rpcErr is set.
func rpcHandler(t *testing.T, check func(req rpcRequest), result interface{}, rpcErr *RPCError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if check != nil {
			check(req)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// callParams extracts the contractCall object of a contract_call/contract_send request.
func callParams(t *testing.T, req rpcRequest) contractCall {
	t.Helper()
	var call contractCall
	if len(req.Params) != 1 {
		t.Errorf("expected 1 param, got %d", len(req.Params))
		return call
	}
	raw, err := json.Marshal(req.Params[0])
	if err == nil {
		err = json.Unmarshal(raw, &call)
	}
	if err != nil {
		t.Errorf("decode call params: %v", err)
	}
	return call
}

func TestHTTPClient_Owner(t *testing.T) {
	owner := "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"
	server := httptest.NewServer(rpcHandler(t, func(req rpcRequest) {
		assert.Equal(t, "contract_call", req.Method)
		call := callParams(t, req)
		assert.Equal(t, "owner", call.Method)
		assert.Equal(t, testContract.Hex(), call.To)
		assert.Empty(t, call.Args)
	}, owner, nil))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract)
	got, err := client.Owner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.MustParseAddress(owner), got)
}

func TestHTTPClient_BalanceOf(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, func(req rpcRequest) {
		assert.Equal(t, "eth_getBalance", req.Method)
		if !assert.Len(t, req.Params, 2) {
			return
		}
		assert.Equal(t, testContract.Hex(), req.Params[0])
		assert.Equal(t, "latest", req.Params[1])
	}, "0xde0b6b3a7640000", nil))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract)
	got, err := client.BalanceOf(context.Background(), testContract)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", got.String())
}

func TestHTTPClient_CampaignFee_NumberResult(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, nil, 2500, nil))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract)
	got, err := client.CampaignFee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2500", got.String())
}

func TestHTTPClient_GetAllCampaigns(t *testing.T) {
	entrepreneur := "0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb"
	server := httptest.NewServer(rpcHandler(t, func(req rpcRequest) {
		call := callParams(t, req)
		assert.Equal(t, "getAllCampaigns", call.Method)
		assert.Equal(t, testCaller.String(), call.From)
	}, []map[string]interface{}{
		{
			"campaignId":    "7",
			"entrepreneur":  entrepreneur,
			"title":         "Acme",
			"price":         "1000000000000000000",
			"backers":       "2",
			"pledgesLeft":   "3",
			"callerPledges": "1",
			"fulfilled":     false,
			"canceled":      false,
		},
		{
			"campaignId":    8,
			"entrepreneur":  entrepreneur,
			"title":         "Bolt",
			"price":         "5",
			"backers":       0,
			"pledgesLeft":   0,
			"callerPledges": 0,
			"fulfilled":     false,
			"canceled":      true,
		},
	}, nil))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract)
	records, err := client.GetAllCampaigns(context.Background(), testCaller)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, domain.CampaignID(7), first.CampaignID)
	assert.Equal(t, domain.MustParseAddress(entrepreneur), first.Entrepreneur)
	assert.Equal(t, "Acme", first.Title)
	assert.Equal(t, "1", first.Price.Ether())
	assert.Equal(t, uint64(2), first.Backers)
	assert.Equal(t, uint64(3), first.PledgesLeft)
	assert.Equal(t, uint64(1), first.CallerPledges)
	assert.False(t, first.Terminal())

	assert.True(t, records[1].Canceled)
	assert.True(t, records[1].Terminal())
}

func TestHTTPClient_GetAllCampaigns_BadRecord(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, nil, []map[string]interface{}{
		{"campaignId": "1", "entrepreneur": "not-an-address", "price": "1"},
	}, nil))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract)
	_, err := client.GetAllCampaigns(context.Background(), testCaller)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestHTTPClient_GetCampaignInfoByID(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, func(req rpcRequest) {
		call := callParams(t, req)
		assert.Equal(t, "getCampaignInfoById", call.Method)
		assert.Equal(t, []interface{}{"42"}, call.Args)
	}, map[string]interface{}{
		"campaignId":  "42",
		"title":       "Widget",
		"price":       "10",
		"pledgesLeft": "0",
		"fulfilled":   true,
	}, nil))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract)
	rec, err := client.GetCampaignInfoByID(context.Background(), testCaller, 42)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignID(42), rec.CampaignID)
	assert.True(t, rec.Fulfilled)
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  true,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	terminated, err := client.Terminated(context.Background())
	require.NoError(t, err)
	assert.True(t, terminated)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestHTTPClient_RateLimited(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract,
		WithMaxRetries(2),
		WithRetryDelay(5*time.Millisecond),
	)

	_, err := client.Terminated(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32

	handler := rpcHandler(t, nil, nil, &RPCError{Code: -32000, Message: "execution reverted"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		handler(w, r)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract,
		WithMaxRetries(3),
		WithRetryDelay(5*time.Millisecond),
	)

	_, err := client.CampaignTitles(context.Background(), "Acme")
	require.Error(t, err)

	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32000, rpcErr.Code)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestHTTPClient_SendNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract,
		WithMaxRetries(3),
		WithRetryDelay(5*time.Millisecond),
	)

	_, err := client.RefundInvestor(context.Background(), TxOpts{From: testCaller})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestHTTPClient_CreateCampaign(t *testing.T) {
	const txHash = "0xabc123"
	fee := domain.AmountFromUint64(1000)
	cost, err := domain.ParseEther("1.5")
	require.NoError(t, err)

	server := httptest.NewServer(rpcHandler(t, func(req rpcRequest) {
		assert.Equal(t, "contract_send", req.Method)
		call := callParams(t, req)
		assert.Equal(t, "createCampaign", call.Method)
		assert.Equal(t, testCaller.String(), call.From)
		assert.Equal(t, "1000", call.Value)
		assert.Equal(t, []interface{}{"Acme", "1500000000000000000", "10"}, call.Args)
	}, txHash, nil))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract)
	got, err := client.CreateCampaign(context.Background(), TxOpts{From: testCaller, Value: fee}, "Acme", cost, 10)
	require.NoError(t, err)
	assert.Equal(t, txHash, got)
}

func TestHTTPClient_ChangeOwnership(t *testing.T) {
	newOwner := domain.MustParseAddress("0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb")

	server := httptest.NewServer(rpcHandler(t, func(req rpcRequest) {
		call := callParams(t, req)
		assert.Equal(t, "changeOwnership", call.Method)
		assert.Empty(t, call.Value)
		assert.Equal(t, []interface{}{newOwner.Hex()}, call.Args)
	}, "0x1", nil))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract)
	_, err := client.ChangeOwnership(context.Background(), TxOpts{From: testCaller}, newOwner)
	require.NoError(t, err)
}

func TestHTTPClient_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, testContract,
		WithMaxRetries(5),
		WithRetryDelay(time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Owner(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
