package record

import (
	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/pipeline"
)

// Status 表示执行记录在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ExecutionRecord 描述一次排队的策略执行及其结果。
// ID 即执行请求的幂等键。
type ExecutionRecord struct {
	ID         string            `json:"id"`
	StrategyID int64             `json:"strategy_id"`
	Network    string            `json:"network"`
	Status     Status            `json:"status"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Outcome    *pipeline.Outcome `json:"outcome,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

var (
	// ErrRecordNotFound 表示指定的执行记录不存在。
	ErrRecordNotFound = xerrors.New(CodeRecordNotFound, "execution record not found")
	// ErrRecordConflict 表示记录在当前状态下无法进行所请求的操作。
	ErrRecordConflict = xerrors.New(CodeRecordConflict, "execution record conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrRecordCompleted 表示执行已经成功完成。
	ErrRecordCompleted = xerrors.New(CodeRecordCompleted, "execution already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrRecordExhausted 表示执行的重试次数已经耗尽。
	ErrRecordExhausted = xerrors.New(CodeRecordExhausted, "execution retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeRecordNotFound  xerrors.Code = "EXECUTION_NOT_FOUND"
	CodeRecordConflict  xerrors.Code = "EXECUTION_CONFLICT"
	CodeRecordCompleted xerrors.Code = "EXECUTION_COMPLETED"
	CodeRecordExhausted xerrors.Code = "EXECUTION_RETRIES_EXHAUSTED"
)

func init() {
	xerrors.Register(CodeRecordNotFound, xerrors.Attributes{
		Message:   "execution record not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRecordConflict, xerrors.Attributes{
		Message:   "execution record conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRecordCompleted, xerrors.Attributes{
		Message:   "execution already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRecordExhausted, xerrors.Attributes{
		Message:   "execution retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// IsValidStatus 检查给定的记录状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneRecord(rec *ExecutionRecord) *ExecutionRecord {
	if rec == nil {
		return nil
	}
	clone := *rec
	if rec.Outcome != nil {
		outcomeCopy := *rec.Outcome
		clone.Outcome = &outcomeCopy
	}
	return &clone
}
