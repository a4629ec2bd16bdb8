// Package balance fetches native token balances over Ethereum JSON-RPC.
package balance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// Fetcher resolves on-chain balances for a set of addresses.
type Fetcher interface {
	Balances(ctx context.Context, addresses []string) (map[string]*big.Int, error)
}

// EthFetcher talks to an Ethereum JSON-RPC endpoint. A single address is sent
// as one eth_getBalance call; multiple addresses go out as one batched
// request.
type EthFetcher struct {
	url    string
	client *http.Client
}

func NewEthFetcher(url string) *EthFetcher {
	return &EthFetcher{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     int    `json:"id"`
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *EthFetcher) Balances(ctx context.Context, addresses []string) (map[string]*big.Int, error) {
	if len(addresses) == 0 {
		return map[string]*big.Int{}, nil
	}
	if len(addresses) == 1 {
		return f.single(ctx, addresses[0])
	}
	return f.batch(ctx, addresses)
}

func (f *EthFetcher) single(ctx context.Context, address string) (map[string]*big.Int, error) {
	req := rpcRequest{JSONRPC: "2.0", ID: 1, Method: "eth_getBalance", Params: []any{address, "latest"}}
	var resp rpcResponse
	if err := f.post(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("eth_getBalance %s: %s", address, resp.Error.Message)
	}
	value, err := parseHexBalance(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance %s: %w", address, err)
	}
	return map[string]*big.Int{address: value}, nil
}

func (f *EthFetcher) batch(ctx context.Context, addresses []string) (map[string]*big.Int, error) {
	reqs := make([]rpcRequest, len(addresses))
	for i, address := range addresses {
		reqs[i] = rpcRequest{JSONRPC: "2.0", ID: i, Method: "eth_getBalance", Params: []any{address, "latest"}}
	}
	var resps []rpcResponse
	if err := f.post(ctx, reqs, &resps); err != nil {
		return nil, err
	}

	out := make(map[string]*big.Int, len(addresses))
	for _, resp := range resps {
		if resp.ID < 0 || resp.ID >= len(addresses) {
			return nil, fmt.Errorf("batch balance response id %d out of range", resp.ID)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("eth_getBalance %s: %s", addresses[resp.ID], resp.Error.Message)
		}
		value, err := parseHexBalance(resp.Result)
		if err != nil {
			return nil, fmt.Errorf("eth_getBalance %s: %w", addresses[resp.ID], err)
		}
		out[addresses[resp.ID]] = value
	}
	if len(out) != len(addresses) {
		return nil, fmt.Errorf("batch balance response incomplete: %d of %d", len(out), len(addresses))
	}
	return out, nil
}

func (f *EthFetcher) post(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc endpoint returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	return nil
}

func parseHexBalance(result string) (*big.Int, error) {
	s := strings.TrimPrefix(result, "0x")
	if s == "" {
		return nil, fmt.Errorf("empty balance result")
	}
	value, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("bad balance hex %q", result)
	}
	return value, nil
}
