package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCauseAndCode(t *testing.T) {
	cause := stdErrors.New("rpc: connection refused")
	err := Wrap(CodeChainExecution, cause, "提交批量交易失败")

	if got := CodeOf(err); got != CodeChainExecution {
		t.Fatalf("expected code %s, got %s", CodeChainExecution, got)
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if got := CodeOf(wrapped); got != CodeChainExecution {
		t.Fatalf("expected code to survive further wrapping, got %s", got)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeNoAllocation, "未配置分配比例")
	b := New(CodeNoAllocation, "different message")
	if !stdErrors.Is(a, b) {
		t.Fatal("expected errors with the same code to match")
	}
	c := New(CodePublishFailure, "")
	if stdErrors.Is(a, c) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestOptionOverrides(t *testing.T) {
	err := New(CodeChainExecution, "", WithRetryable(true), WithSeverity(SeverityWarning), WithMetadata("tx_hash", "0xabc"))
	if !err.Retryable() {
		t.Fatal("expected retryable override to win over registry default")
	}
	if err.Severity() != SeverityWarning {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
	if err.Metadata()["tx_hash"] != "0xabc" {
		t.Fatalf("unexpected metadata %v", err.Metadata())
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityCritical, Retryable: true, Alert: true})

	attr := AttributesOf(code)
	if attr.Message != "custom" || !attr.Retryable || !attr.Alert {
		t.Fatalf("unexpected attributes %+v", attr)
	}
	if got := AttributesOf("NEVER_REGISTERED"); got.Message != "unknown error" {
		t.Fatalf("expected fallback to UNKNOWN, got %+v", got)
	}
}

func TestHelpersOnPlainErrors(t *testing.T) {
	plain := stdErrors.New("boom")
	if CodeOf(plain) != CodeUnknown {
		t.Fatal("plain error should map to UNKNOWN")
	}
	if RetryableError(plain) {
		t.Fatal("plain error should not be retryable")
	}
	if SeverityOf(plain) != SeverityCritical {
		t.Fatalf("unexpected severity %s", SeverityOf(plain))
	}
}
