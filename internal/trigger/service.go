package trigger

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/record"
	"VaultPilot/internal/strategy"
	"VaultPilot/pkg/logger"
)

const (
	CodeTriggerValidation xerrors.Code = "TRIGGER_VALIDATION_FAILED"
	CodeTriggerPublish    xerrors.Code = "TRIGGER_PUBLISH_FAILED"
	CodeTriggerProcessing xerrors.Code = "TRIGGER_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeTriggerValidation, xerrors.Attributes{
		Message:   "trigger validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTriggerPublish, xerrors.Attributes{
		Message:   "failed to publish trigger",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTriggerProcessing, xerrors.Attributes{
		Message:   "trigger processing failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// SubmitRequest 描述一次执行触发。
// RequestID 为空时由服务生成，显式提供时作为幂等键复用既有记录。
type SubmitRequest struct {
	RequestID  string
	StrategyID int64
	Network    string
}

// Service 负责执行触发的创建与查询。
type Service struct {
	records    record.Store
	strategies strategy.Store
	producer   Producer
	maxRetries int
}

// NewService 构造触发服务。
func NewService(records record.Store, strategies strategy.Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{records: records, strategies: strategies, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一条执行记录并推送到队列。
// 重复提交同一 RequestID 时直接返回既有记录，不重复入队。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*record.ExecutionRecord, error) {
	if s.records == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "触发服务未初始化")
	}
	if req.StrategyID <= 0 {
		return nil, xerrors.New(CodeTriggerValidation, "策略标识符必须为正数")
	}
	if s.strategies != nil {
		if _, err := s.strategies.Get(ctx, req.StrategyID); err != nil {
			return nil, err
		}
	}

	requestID := strings.TrimSpace(req.RequestID)
	if requestID != "" {
		rec, err := s.records.Get(ctx, requestID)
		if err == nil {
			return rec, nil
		}
		if !stdErrors.Is(err, record.ErrRecordNotFound) {
			return nil, err
		}
	} else {
		requestID = uuid.NewString()
	}

	rec := &record.ExecutionRecord{
		ID:         requestID,
		StrategyID: req.StrategyID,
		Network:    req.Network,
		Status:     record.StatusPending,
		Attempts:   0,
		MaxRetries: s.maxRetries,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		if stdErrors.Is(err, record.ErrRecordConflict) {
			existing, getErr := s.records.Get(ctx, requestID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, record.ErrRecordNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, requestID); err != nil {
		logger.L().Error("执行请求入队失败", slog.Any("error", err), slog.String("request_id", requestID))
		wrapped := xerrors.Wrap(CodeTriggerPublish, err, "发布执行请求到队列失败")
		_ = s.records.MarkFailed(ctx, requestID, CodeTriggerPublish, wrapped.Error())
		return nil, wrapped
	}
	logger.Audit().Info("执行请求入队成功",
		slog.String("request_id", requestID),
		slog.Int64("strategy_id", req.StrategyID),
		slog.String("network", req.Network),
		slog.Int("max_retries", rec.MaxRetries),
	)
	return rec, nil
}

// Get 返回指定执行记录的状态。
func (s *Service) Get(ctx context.Context, id string) (*record.ExecutionRecord, error) {
	if s.records == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "执行记录存储未初始化")
	}
	return s.records.Get(ctx, id)
}

// List 返回符合过滤条件的执行记录。
func (s *Service) List(ctx context.Context, opts record.ListOptions) ([]*record.ExecutionRecord, error) {
	if s.records == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "执行记录存储未初始化")
	}
	return s.records.List(ctx, opts)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.records != nil {
		if err := s.records.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
