// Package gating evaluates topic group requirements against a member address.
package gating

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/hereje/commonwealth/internal/balance"
	"github.com/hereje/commonwealth/internal/store"
)

// Requirement is one rule inside a group's requirement array. Rule selects
// the shape of Data: "allow" carries an address allow-list, "threshold"
// carries a minimum native balance.
type Requirement struct {
	Rule string          `json:"rule"`
	Data json.RawMessage `json:"data"`
}

type allowData struct {
	Allow []string `json:"allow"`
}

type thresholdData struct {
	Threshold string `json:"threshold"`
}

// Result reports whether the address cleared the gate and, when it did not,
// a human-readable reason.
type Result struct {
	Allowed bool
	Reason  string
}

// Evaluator checks an address against topic groups. An address passes when
// at least one group's requirements are all satisfied; a topic with no
// groups is open to everyone.
type Evaluator struct {
	fetcher balance.Fetcher
}

func NewEvaluator(fetcher balance.Fetcher) *Evaluator {
	return &Evaluator{fetcher: fetcher}
}

func (e *Evaluator) Evaluate(ctx context.Context, groups []store.Group, address string) (Result, error) {
	if len(groups) == 0 {
		return Result{Allowed: true}, nil
	}

	var reasons []string
	for _, group := range groups {
		ok, reason, err := e.evaluateGroup(ctx, group, address)
		if err != nil {
			return Result{}, fmt.Errorf("evaluate group %q: %w", group.Name, err)
		}
		if ok {
			return Result{Allowed: true}, nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", group.Name, reason))
	}
	return Result{Allowed: false, Reason: "does not satisfy any gating group (" + strings.Join(reasons, "; ") + ")"}, nil
}

func (e *Evaluator) evaluateGroup(ctx context.Context, group store.Group, address string) (bool, string, error) {
	var reqs []Requirement
	if len(group.Requirements) > 0 {
		if err := json.Unmarshal(group.Requirements, &reqs); err != nil {
			return false, "", fmt.Errorf("decode requirements: %w", err)
		}
	}
	if len(reqs) == 0 {
		return true, "", nil
	}

	for _, req := range reqs {
		ok, reason, err := e.evaluateRequirement(ctx, req, address)
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, reason, nil
		}
	}
	return true, "", nil
}

func (e *Evaluator) evaluateRequirement(ctx context.Context, req Requirement, address string) (bool, string, error) {
	switch req.Rule {
	case "allow":
		var data allowData
		if err := json.Unmarshal(req.Data, &data); err != nil {
			return false, "", fmt.Errorf("decode allow rule: %w", err)
		}
		for _, allowed := range data.Allow {
			if strings.EqualFold(allowed, address) {
				return true, "", nil
			}
		}
		return false, "address not on allow-list", nil

	case "threshold":
		var data thresholdData
		if err := json.Unmarshal(req.Data, &data); err != nil {
			return false, "", fmt.Errorf("decode threshold rule: %w", err)
		}
		threshold, ok := new(big.Int).SetString(data.Threshold, 10)
		if !ok {
			return false, "", fmt.Errorf("bad threshold %q", data.Threshold)
		}
		balances, err := e.fetcher.Balances(ctx, []string{address})
		if err != nil {
			return false, "", fmt.Errorf("fetch balance: %w", err)
		}
		held, ok := balances[address]
		if !ok {
			held = big.NewInt(0)
		}
		if held.Cmp(threshold) >= 0 {
			return true, "", nil
		}
		return false, fmt.Sprintf("balance %s below threshold %s", held, threshold), nil

	default:
		return false, "", fmt.Errorf("unknown gating rule %q", req.Rule)
	}
}
