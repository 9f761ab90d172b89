package strategy

import (
	stdErrors "errors"
	"testing"

	xerrors "VaultPilot/internal/errors"
)

func TestParseConditionWellFormed(t *testing.T) {
	cases := []struct {
		expr      string
		op        Operator
		threshold float64
	}{
		{"APY > 6%", OpGreater, 6},
		{"APY >= 5.5%", OpGreaterEqual, 5.5},
		{"apy < 3", OpLess, 3},
		{"Apy <= 10 %", OpLessEqual, 10},
		{"APY == 7.25%", OpEqual, 7.25},
		{"APY = 7.25%", OpEqual, 7.25},
		{"  APY>6%  ", OpGreater, 6},
	}
	for _, tc := range cases {
		cond, err := ParseCondition(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		if cond.Op != tc.op || cond.Threshold != tc.threshold {
			t.Fatalf("parse %q: got %+v", tc.expr, cond)
		}
	}
}

func TestParseConditionRejectsOtherShapes(t *testing.T) {
	cases := []string{
		"",
		"APR > 6%",
		"APY ~ 6%",
		"APY >",
		"6% > APY",
		"APY > six",
		"APY != 6%",
		"if APY > 6% then invest",
	}
	for _, expr := range cases {
		_, err := ParseCondition(expr)
		if err == nil {
			t.Fatalf("expected parse failure for %q", expr)
		}
		if xerrors.CodeOf(err) != CodeConditionUnparsed {
			t.Fatalf("unexpected code for %q: %s", expr, xerrors.CodeOf(err))
		}
	}
}

func TestConditionEvaluate(t *testing.T) {
	cases := []struct {
		expr string
		rate float64
		want bool
	}{
		{"APY > 6%", 7.2, true},
		{"APY > 6%", 6.0, false},
		{"APY > 6%", 5.0, false},
		{"APY >= 6%", 6.0, true},
		{"APY < 6%", 5.9, true},
		{"APY <= 6%", 6.0, true},
		{"APY == 6%", 6.0, true},
		{"APY = 6%", 6.0, true},
		{"APY == 6%", 6.0001, false},
	}
	for _, tc := range cases {
		cond, err := ParseCondition(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		if got := cond.Evaluate(tc.rate); got != tc.want {
			t.Fatalf("%q with rate %v: got %v, want %v", tc.expr, tc.rate, got, tc.want)
		}
	}
}

func TestEvaluateConditionFailsClosed(t *testing.T) {
	if EvaluateCondition("garbled condition", 100) {
		t.Fatal("unparsable condition must never gate open")
	}
	if !EvaluateCondition("APY > 6%", 7.2) {
		t.Fatal("well-formed true condition should gate open")
	}
}

func TestParseConditionErrorIsTyped(t *testing.T) {
	_, err := ParseCondition("nonsense")
	var typed *xerrors.Error
	if !stdErrors.As(err, &typed) {
		t.Fatal("expected unified error type")
	}
	if typed.Metadata()["expression"] != "nonsense" {
		t.Fatalf("expected expression metadata, got %v", typed.Metadata())
	}
}
