package trigger

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/observability/alerting"
	"VaultPilot/internal/pipeline"
	"VaultPilot/internal/record"
	"VaultPilot/internal/strategy"
	"VaultPilot/internal/web3"
	"VaultPilot/pkg/logger"
)

// Executor 定义处理器所需的管线能力。
type Executor interface {
	Execute(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// NetworkResolver 按名称解析网络上下文，名称为空时返回默认网络。
type NetworkResolver func(name string) (web3.Context, error)

// Processor 负责从队列消费执行请求并交给管线执行。
type Processor struct {
	executor    Executor
	records     record.Store
	strategies  strategy.Store
	consumer    Consumer
	producer    Producer
	resolve     NetworkResolver
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, records record.Store, strategies strategy.Store,
	consumer Consumer, producer Producer, resolve NetworkResolver, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		records:     records,
		strategies:  strategies,
		consumer:    consumer,
		producer:    producer,
		resolve:     resolve,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动执行处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitialization, "未配置执行消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, requestID string) error {
	if p.records == nil || p.executor == nil || p.strategies == nil || p.resolve == nil {
		return xerrors.New(xerrors.CodeInitialization, "处理器未初始化")
	}
	rec, err := p.records.Claim(ctx, requestID)
	if err != nil {
		if stdErrors.Is(err, record.ErrRecordNotFound) || stdErrors.Is(err, record.ErrRecordCompleted) || stdErrors.Is(err, record.ErrRecordExhausted) {
			p.logDebug("跳过执行请求", slog.String("request_id", requestID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取执行请求失败", slog.Any("error", err), slog.String("request_id", requestID))
		p.emitAlert(ctx, &record.ExecutionRecord{ID: requestID}, CodeTriggerProcessing, err, "claim")
		return err
	}

	outcome, execErr := p.execute(ctx, rec)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, rec, execErr)
	}

	if err := p.records.MarkSucceeded(ctx, rec.ID, outcome); err != nil {
		logger.L().Error("标记执行成功状态失败", slog.Any("error", err), slog.String("request_id", rec.ID))
		if storeErr := p.records.MarkFailed(ctx, rec.ID, CodeTriggerProcessing, err.Error()); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("request_id", rec.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, rec.ID); pubErr != nil {
			return xerrors.Wrap(CodeTriggerPublish, pubErr, fmt.Sprintf("执行 %s 在标记成功失败后重投失败", rec.ID))
		}
		return nil
	}

	// 阶段性失败不改变记录状态，但按错误码属性发出告警。
	for _, stepErr := range outcome.Errors {
		if xerrors.AttributesOf(stepErr.Code).Alert {
			p.emitAlert(ctx, rec, stepErr.Code, stdErrors.New(stepErr.Message), string(stepErr.Phase))
		}
	}
	logger.Audit().Info("执行请求处理完成",
		slog.String("request_id", rec.ID),
		slog.Int64("strategy_id", rec.StrategyID),
		slog.Bool("skipped", outcome.Skipped),
		slog.Int("step_errors", len(outcome.Errors)),
	)
	return nil
}

func (p *Processor) execute(ctx context.Context, rec *record.ExecutionRecord) (*pipeline.Outcome, error) {
	stratRecord, err := p.strategies.Get(ctx, rec.StrategyID)
	if err != nil {
		return nil, err
	}
	networkName := rec.Network
	if networkName == "" {
		networkName = stratRecord.Network
	}
	network, err := p.resolve(networkName)
	if err != nil {
		return nil, err
	}
	return p.executor.Execute(ctx, pipeline.Request{
		RequestID:  rec.ID,
		StrategyID: rec.StrategyID,
		Strategy:   stratRecord.Strategy,
		Network:    network,
	})
}

func (p *Processor) handleExecutionFailure(ctx context.Context, rec *record.ExecutionRecord, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTriggerProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := rec.Attempts >= rec.MaxRetries || !retryable

	if storeErr := p.records.MarkFailed(ctx, rec.ID, code, execErr.Error()); storeErr != nil {
		logger.L().Error("标记执行失败状态出错", slog.Any("error", storeErr), slog.String("request_id", rec.ID))
		return storeErr
	}
	logger.Audit().Warn("执行请求处理失败",
		slog.String("request_id", rec.ID),
		slog.Int64("strategy_id", rec.StrategyID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", rec.Attempts),
		slog.Int("max_retries", rec.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, rec, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, rec.ID); pubErr != nil {
			return xerrors.Wrap(CodeTriggerPublish, pubErr, fmt.Sprintf("执行 %s 重投失败", rec.ID))
		}
		p.logDebug("执行请求已重新排队", slog.String("request_id", rec.ID), slog.Int("attempts", rec.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, rec *record.ExecutionRecord, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || rec == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		RequestID:  rec.ID,
		StrategyID: rec.StrategyID,
		Network:    rec.Network,
		Attempts:   rec.Attempts,
		MaxRetries: rec.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("request_id", rec.ID),
			slog.String("stage", stage),
		)
	}
}
