package record

import (
	"context"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/pipeline"
)

// ListOptions 控制执行记录列表查询。
type ListOptions struct {
	Statuses []Status
	Limit    int
	Offset   int
}

func (o *ListOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Store 抽象了执行记录的持久化接口。
type Store interface {
	Create(ctx context.Context, rec *ExecutionRecord) error
	Get(ctx context.Context, id string) (*ExecutionRecord, error)
	// Claim 将记录标记为运行中并递增尝试次数，
	// 已完成、运行中或重试耗尽的记录分别返回对应的哨兵错误。
	Claim(ctx context.Context, id string) (*ExecutionRecord, error)
	MarkSucceeded(ctx context.Context, id string, outcome *pipeline.Outcome) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*ExecutionRecord, error)
	Close() error
}
