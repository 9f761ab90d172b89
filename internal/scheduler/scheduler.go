package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/record"
	"VaultPilot/internal/strategy"
	"VaultPilot/internal/trigger"
	"VaultPilot/pkg/logger"
)

// CodeScheduleInvalid 表示策略的再平衡节奏无法解析为调度计划。
const CodeScheduleInvalid xerrors.Code = "SCHEDULE_INVALID"

func init() {
	xerrors.Register(CodeScheduleInvalid, xerrors.Attributes{
		Message:   "rebalancing schedule invalid",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Submitter 抽象触发提交能力。
type Submitter interface {
	Submit(ctx context.Context, req trigger.SubmitRequest) (*record.ExecutionRecord, error)
}

// Scheduler 按策略声明的再平衡节奏周期性触发执行。
// 每次触发使用新生成的请求标识符，因此不会被幂等去重吞掉。
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[int64]cron.EntryID
}

// New 创建调度器。
func New(submitter Submitter) (*Scheduler, error) {
	if submitter == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "触发提交器不能为空")
	}
	return &Scheduler{
		cron:      cron.New(),
		submitter: submitter,
		logger:    logger.Named("scheduler"),
		entries:   make(map[int64]cron.EntryID),
	}, nil
}

// cronSpec 把再平衡节奏映射为 cron 表达式，
// 常用节奏有固定别名，其余内容按原生 cron 表达式解析。
func cronSpec(frequency string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(frequency)) {
	case "":
		return "", xerrors.New(CodeScheduleInvalid, "再平衡节奏不能为空")
	case "hourly":
		return "0 * * * *", nil
	case "daily":
		return "0 0 * * *", nil
	case "weekly":
		return "0 0 * * 1", nil
	case "monthly":
		return "0 0 1 * *", nil
	default:
		return strings.TrimSpace(frequency), nil
	}
}

// Register 为一份已注册策略安排周期性再平衡触发。
// 再次注册同一策略时替换原有计划。
func (s *Scheduler) Register(rec *strategy.Record) error {
	if rec == nil || rec.Strategy == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "策略记录不能为空")
	}
	spec, err := cronSpec(rec.Strategy.Rebalancing.Frequency)
	if err != nil {
		return err
	}

	strategyID := rec.ID
	network := rec.Network
	entryID, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		submitted, err := s.submitter.Submit(ctx, trigger.SubmitRequest{
			StrategyID: strategyID,
			Network:    network,
		})
		if err != nil {
			s.logger.Error("周期性触发提交失败",
				slog.Any("error", err),
				slog.Int64("strategy_id", strategyID))
			return
		}
		s.logger.Info("周期性触发已提交",
			slog.String("request_id", submitted.ID),
			slog.Int64("strategy_id", strategyID))
	})
	if err != nil {
		return xerrors.Wrap(CodeScheduleInvalid, err, "解析再平衡节奏失败",
			xerrors.WithMetadata("frequency", rec.Strategy.Rebalancing.Frequency))
	}

	s.mu.Lock()
	if old, ok := s.entries[strategyID]; ok {
		s.cron.Remove(old)
	}
	s.entries[strategyID] = entryID
	s.mu.Unlock()

	s.logger.Info("再平衡计划已登记",
		slog.Int64("strategy_id", strategyID),
		slog.String("spec", spec))
	return nil
}

// Unregister 移除策略的再平衡计划。
func (s *Scheduler) Unregister(strategyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[strategyID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, strategyID)
	}
}

// Start 启动调度循环。
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度并等待在途触发完成。
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
