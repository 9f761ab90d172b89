package strategy

import (
	"context"
	stdErrors "errors"
	"testing"

	xerrors "VaultPilot/internal/errors"
)

const validDocument = `{
	"assetAllocation": {"lendingProtocol": 70, "stablecoin": 30},
	"lendingProtocol": {"investmentCondition": "APY > 6%", "stopLossCondition": "APY < 2%"},
	"rebalancing": {"frequency": "weekly", "deviationTolerance": "5%"},
	"transactionLimits": {"maxTransactionPercentage": "25", "maxSwapSlippage": "0.5"}
}`

func TestParseValidDocument(t *testing.T) {
	s, err := Parse([]byte(validDocument))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.LendingPercentage() != 70 {
		t.Fatalf("unexpected lending percentage %d", s.LendingPercentage())
	}
	if s.LendingProtocol.InvestmentCondition != "APY > 6%" {
		t.Fatalf("unexpected condition %q", s.LendingProtocol.InvestmentCondition)
	}
	if s.Rebalancing.Frequency != "weekly" {
		t.Fatalf("unexpected frequency %q", s.Rebalancing.Frequency)
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"assetAllocation":`,
		"empty allocation":  `{"assetAllocation": {}, "lendingProtocol": {"investmentCondition": "APY > 6%"}, "rebalancing": {"frequency": "daily"}}`,
		"negative weight":   `{"assetAllocation": {"lendingProtocol": -5}, "lendingProtocol": {"investmentCondition": "APY > 6%"}, "rebalancing": {"frequency": "daily"}}`,
		"missing condition": `{"assetAllocation": {"lendingProtocol": 70}, "lendingProtocol": {}, "rebalancing": {"frequency": "daily"}}`,
		"missing frequency": `{"assetAllocation": {"lendingProtocol": 70}, "lendingProtocol": {"investmentCondition": "APY > 6%"}, "rebalancing": {}}`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation failure", name)
		} else if xerrors.CodeOf(err) != CodeStrategyValidation {
			t.Fatalf("%s: unexpected code %s", name, xerrors.CodeOf(err))
		}
	}
}

func TestWeightsNeedNotSumToHundred(t *testing.T) {
	doc := `{
		"assetAllocation": {"lendingProtocol": 70, "stablecoin": 70},
		"lendingProtocol": {"investmentCondition": "APY > 6%"},
		"rebalancing": {"frequency": "daily"}
	}`
	if _, err := Parse([]byte(doc)); err != nil {
		t.Fatalf("independent weights should be accepted: %v", err)
	}
}

func TestLendingPercentageTruncates(t *testing.T) {
	s := &Strategy{AssetAllocation: map[string]float64{AllocationKeyLending: 70.9}}
	if got := s.LendingPercentage(); got != 70 {
		t.Fatalf("expected floor to 70, got %d", got)
	}
	s = &Strategy{AssetAllocation: map[string]float64{"other": 100}}
	if got := s.LendingPercentage(); got != 0 {
		t.Fatalf("expected 0 for unconfigured lending weight, got %d", got)
	}
}

func TestMemoryStoreRegisterAndReload(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s, err := Parse([]byte(validDocument))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	record, err := store.Register(ctx, "base", s)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if record.ID == 0 {
		t.Fatal("expected non-zero strategy id")
	}

	// 注册后修改原始对象不能影响已登记的内容。
	s.AssetAllocation[AllocationKeyLending] = 1

	loaded, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Strategy.LendingPercentage() != 70 {
		t.Fatalf("registered strategy mutated, percentage %d", loaded.Strategy.LendingPercentage())
	}
	if loaded.Network != "base" {
		t.Fatalf("unexpected network %s", loaded.Network)
	}

	if _, err := store.Get(ctx, 9999); !stdErrors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Register(context.Background(), "base", &Strategy{}); err == nil {
		t.Fatal("expected validation failure")
	}
}
