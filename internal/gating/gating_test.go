package gating

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/hereje/commonwealth/internal/store"
)

type fakeFetcher struct {
	balances map[string]*big.Int
}

func (f *fakeFetcher) Balances(ctx context.Context, addresses []string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int)
	for _, a := range addresses {
		if v, ok := f.balances[a]; ok {
			out[a] = v
		} else {
			out[a] = big.NewInt(0)
		}
	}
	return out, nil
}

func group(name, requirements string) store.Group {
	return store.Group{Name: name, Requirements: json.RawMessage(requirements)}
}

func TestEvaluateNoGroups(t *testing.T) {
	e := NewEvaluator(&fakeFetcher{})
	res, err := e.Evaluate(context.Background(), nil, "0x123")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !res.Allowed {
		t.Fatal("ungated topic must allow everyone")
	}
}

func TestEvaluateAllowList(t *testing.T) {
	e := NewEvaluator(&fakeFetcher{})
	groups := []store.Group{
		group("insiders", `[{"rule":"allow","data":{"allow":["0xAAA","0xBBB"]}}]`),
	}

	res, err := e.Evaluate(context.Background(), groups, "0xaaa")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !res.Allowed {
		t.Error("allow-list match should be case-insensitive")
	}

	res, err = e.Evaluate(context.Background(), groups, "0xCCC")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Allowed {
		t.Error("address off the allow-list passed")
	}
	if !strings.Contains(res.Reason, "allow-list") {
		t.Errorf("reason = %q, want allow-list mention", res.Reason)
	}
}

func TestEvaluateThreshold(t *testing.T) {
	e := NewEvaluator(&fakeFetcher{balances: map[string]*big.Int{
		"0xrich": big.NewInt(1000),
		"0xpoor": big.NewInt(5),
	}})
	groups := []store.Group{
		group("holders", `[{"rule":"threshold","data":{"threshold":"100"}}]`),
	}

	res, err := e.Evaluate(context.Background(), groups, "0xrich")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !res.Allowed {
		t.Error("balance above threshold rejected")
	}

	res, err = e.Evaluate(context.Background(), groups, "0xpoor")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Allowed {
		t.Error("balance below threshold passed")
	}
	if !strings.Contains(res.Reason, "below threshold") {
		t.Errorf("reason = %q, want threshold mention", res.Reason)
	}
}

func TestEvaluateAnyGroupSuffices(t *testing.T) {
	e := NewEvaluator(&fakeFetcher{balances: map[string]*big.Int{"0x1": big.NewInt(0)}})
	groups := []store.Group{
		group("holders", `[{"rule":"threshold","data":{"threshold":"100"}}]`),
		group("insiders", `[{"rule":"allow","data":{"allow":["0x1"]}}]`),
	}

	res, err := e.Evaluate(context.Background(), groups, "0x1")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !res.Allowed {
		t.Error("passing one of several groups should be enough")
	}
}

func TestEvaluateAllRequirementsInGroup(t *testing.T) {
	e := NewEvaluator(&fakeFetcher{balances: map[string]*big.Int{"0x1": big.NewInt(1000)}})
	groups := []store.Group{
		group("strict", `[
			{"rule":"threshold","data":{"threshold":"100"}},
			{"rule":"allow","data":{"allow":["0x2"]}}
		]`),
	}

	res, err := e.Evaluate(context.Background(), groups, "0x1")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Allowed {
		t.Error("group with one failing requirement passed")
	}
}

func TestEvaluateUnknownRule(t *testing.T) {
	e := NewEvaluator(&fakeFetcher{})
	groups := []store.Group{group("weird", `[{"rule":"trust-me","data":{}}]`)}
	if _, err := e.Evaluate(context.Background(), groups, "0x1"); err == nil {
		t.Fatal("unknown rule should error")
	}
}
