package balance

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBalancesSingle(t *testing.T) {
	var gotBatch bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			// A JSON array would fail to decode into a single object.
			gotBatch = true
			http.Error(w, "unexpected batch", http.StatusBadRequest)
			return
		}
		if req.Method != "eth_getBalance" {
			t.Errorf("method = %q", req.Method)
		}
		_ = json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: "0xde0b6b3a7640000"})
	}))
	defer srv.Close()

	f := NewEthFetcher(srv.URL)
	balances, err := f.Balances(context.Background(), []string{"0xabc"})
	if err != nil {
		t.Fatalf("Balances failed: %v", err)
	}
	if gotBatch {
		t.Fatal("single address used batched request")
	}

	want := new(big.Int)
	want.SetString("1000000000000000000", 10)
	if balances["0xabc"].Cmp(want) != 0 {
		t.Errorf("balance = %s, want %s", balances["0xabc"], want)
	}
}

func TestBalancesBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			t.Errorf("expected batch request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resps := make([]rpcResponse, len(reqs))
		for i, req := range reqs {
			resps[i] = rpcResponse{ID: req.ID, Result: "0x1"}
		}
		_ = json.NewEncoder(w).Encode(resps)
	}))
	defer srv.Close()

	f := NewEthFetcher(srv.URL)
	balances, err := f.Balances(context.Background(), []string{"0xa", "0xb", "0xc"})
	if err != nil {
		t.Fatalf("Balances failed: %v", err)
	}
	if len(balances) != 3 {
		t.Fatalf("got %d balances, want 3", len(balances))
	}
	for addr, v := range balances {
		if v.Cmp(big.NewInt(1)) != 0 {
			t.Errorf("balance[%s] = %s, want 1", addr, v)
		}
	}
}

func TestBalancesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":1,"error":{"code":-32000,"message":"header not found"}}`))
	}))
	defer srv.Close()

	f := NewEthFetcher(srv.URL)
	if _, err := f.Balances(context.Background(), []string{"0xabc"}); err == nil {
		t.Fatal("expected error from rpc error response")
	}
}

func TestBalancesEmptyInput(t *testing.T) {
	f := NewEthFetcher("http://unused.invalid")
	balances, err := f.Balances(context.Background(), nil)
	if err != nil {
		t.Fatalf("Balances(nil) failed: %v", err)
	}
	if len(balances) != 0 {
		t.Errorf("got %d balances, want 0", len(balances))
	}
}
