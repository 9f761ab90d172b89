package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"VaultPilot/internal/allocation"
	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/observability/metrics"
	"VaultPilot/internal/provenance"
	"VaultPilot/internal/strategy"
	"VaultPilot/internal/web3"
	"VaultPilot/internal/web3/ethereum"
	"VaultPilot/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

// CodeRequestRejected 表示执行请求在进入管线前被拒绝。
const CodeRequestRejected xerrors.Code = "EXECUTION_REQUEST_REJECTED"

func init() {
	xerrors.Register(CodeRequestRejected, xerrors.Attributes{
		Message:   "execution request rejected",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Request 是一次策略执行的输入。
// RequestID 是幂等键，同一标识符的重复提交不会重复触发副作用。
type Request struct {
	RequestID  string
	StrategyID int64
	Strategy   *strategy.Strategy
	Network    web3.Context
}

// CallBuilder 把分配金额展开为金库批量执行的子调用序列。
type CallBuilder func(network web3.Context, amount *big.Int) ([]web3.Call, error)

// Orchestrator 驱动 条件判定 → 分配执行 → 内容发布 → 链上锚定 的完整管线。
// 阶段失败记录在结果里并继续推进，后续阶段依赖缺失的前置产物时自行降级。
type Orchestrator struct {
	chain      web3.Client
	publisher  provenance.Publisher
	buildCalls CallBuilder
	dedup      *dedupCache
	locks      *vaultLocks
	group      singleflight.Group
	logger     *slog.Logger
}

// Option 配置编排器的可选行为。
type Option func(*Orchestrator)

// WithDedupCapacity 设定去重缓存的容量上限。
func WithDedupCapacity(capacity int) Option {
	return func(o *Orchestrator) {
		o.dedup = newDedupCache(capacity)
	}
}

// WithCallBuilder 替换子调用构造器，测试伪链时使用。
func WithCallBuilder(builder CallBuilder) Option {
	return func(o *Orchestrator) {
		o.buildCalls = builder
	}
}

// NewOrchestrator 创建执行编排器。
func NewOrchestrator(chain web3.Client, publisher provenance.Publisher, opts ...Option) (*Orchestrator, error) {
	if chain == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "链上客户端不能为空")
	}
	if publisher == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "内容发布器不能为空")
	}
	o := &Orchestrator{
		chain:      chain,
		publisher:  publisher,
		buildCalls: ethereum.BuildAllocationCalls,
		dedup:      newDedupCache(0),
		locks:      newVaultLocks(),
		logger:     logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Execute 处理一次执行请求并返回组合结果。
// 仅当请求本身不合法时返回错误，各阶段的失败都体现在 Outcome.Errors 中。
// 并发提交同一 RequestID 的调用会被合并为一次处理。
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}

	value, err, _ := o.group.Do(req.RequestID, func() (interface{}, error) {
		return o.executeOnce(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return value.(*Outcome), nil
}

func (o *Orchestrator) validate(req Request) error {
	if strings.TrimSpace(req.RequestID) == "" {
		return xerrors.New(CodeRequestRejected, "请求标识符不能为空")
	}
	if req.StrategyID <= 0 {
		return xerrors.New(CodeRequestRejected, "策略标识符必须为正数",
			xerrors.WithMetadata("request_id", req.RequestID))
	}
	if err := req.Strategy.Validate(); err != nil {
		return err
	}
	if req.Network.Vault == (common.Address{}) {
		return xerrors.New(xerrors.CodeConfigurationFailure, "网络上下文缺少金库地址",
			xerrors.WithMetadata("network", req.Network.Name))
	}
	return nil
}

func (o *Orchestrator) executeOnce(ctx context.Context, req Request) (*Outcome, error) {
	if cached, seen := o.dedup.Lookup(req.RequestID); seen {
		o.logger.Info("重复的执行请求，返回缓存结果",
			"request_id", req.RequestID, "strategy_id", req.StrategyID)
		if cached == nil {
			// 标识符已登记但结果尚未写回，按重复处理，不再触发副作用。
			cached = &Outcome{RequestID: req.RequestID, StrategyID: req.StrategyID, Network: req.Network.Name}
		}
		shadow := *cached
		shadow.Duplicate = true
		metrics.ObserveExecution(req.Network.Name, "duplicate", 0)
		return &shadow, nil
	}
	o.dedup.Register(req.RequestID)

	outcome := &Outcome{
		RequestID:  req.RequestID,
		StrategyID: req.StrategyID,
		Network:    req.Network.Name,
	}

	started := time.Now()
	o.runAllocation(ctx, req, outcome)
	o.runPublication(ctx, req, outcome)

	result := "executed"
	switch {
	case len(outcome.Errors) > 0:
		result = "partial"
	case outcome.Skipped:
		result = "skipped"
	}
	metrics.ObserveExecution(req.Network.Name, result, time.Since(started))
	for _, stepErr := range outcome.Errors {
		metrics.ObservePhaseError(string(stepErr.Phase), string(stepErr.Code))
	}

	outcome.RepeatPayload = o.dedup.SeenPayload(digestOutcome(outcome))
	o.dedup.Store(req.RequestID, outcome)

	o.logger.Info("执行管线完成",
		"request_id", req.RequestID,
		"strategy_id", req.StrategyID,
		"skipped", outcome.Skipped,
		"errors", len(outcome.Errors))
	return outcome, nil
}

// runAllocation 执行 Gating 与 Allocating 两个阶段。
// 读取余额、计算分配、提交批量交易在同一把金库锁内完成，
// 保证并发执行不会基于过期余额下单。
func (o *Orchestrator) runAllocation(ctx context.Context, req Request, outcome *Outcome) {
	unlock := o.locks.Acquire(req.Network.Vault)
	defer unlock()

	expr := req.Strategy.LendingProtocol.InvestmentCondition
	if !strategy.EvaluateCondition(expr, req.Network.CurrentRate) {
		outcome.Skipped = true
		outcome.SkipReason = "投资条件未满足"
		o.logger.Info("投资条件未满足，跳过资金调度",
			"request_id", req.RequestID,
			"condition", expr,
			"current_rate", req.Network.CurrentRate)
		return
	}

	balance, err := o.chain.TotalAssets(ctx)
	if err != nil {
		outcome.recordError(PhaseGating, xerrors.Wrap(xerrors.CodeChainExecution, err, "读取金库余额失败",
			xerrors.WithMetadata("request_id", req.RequestID)))
		return
	}
	if balance == nil || balance.Sign() <= 0 {
		outcome.Skipped = true
		outcome.SkipReason = "金库余额为零"
		o.logger.Info("金库余额为零，跳过资金调度", "request_id", req.RequestID)
		return
	}

	amount, err := allocation.ComputeAmount(balance, req.Strategy.LendingPercentage())
	if err != nil {
		outcome.recordError(PhaseAllocating, err)
		return
	}
	if amount.Sign() == 0 {
		outcome.Skipped = true
		outcome.SkipReason = "分配金额向下取整后为零"
		return
	}
	outcome.AllocationAmount = new(big.Int).Set(amount)

	calls, err := o.buildCalls(req.Network, amount)
	if err != nil {
		outcome.recordError(PhaseAllocating, err)
		return
	}
	receipt, err := o.chain.ExecuteBatch(ctx, calls)
	if err != nil {
		outcome.recordError(PhaseAllocating, err)
		return
	}
	outcome.AllocationReceipt = summarizeReceipt(receipt)

	logger.Audit().Info("资金调度已上链",
		"request_id", req.RequestID,
		"strategy_id", req.StrategyID,
		"vault", req.Network.Vault.Hex(),
		"amount", amount.String(),
		"tx_hash", outcome.AllocationReceipt.TxHash)
}

// runPublication 执行 Publishing 与 Anchoring 两个阶段。
// 发布是尽力而为，分配失败或跳过都不阻止发布；
// 锚定严格依赖发布成功，绝不把失败占位写上链。
func (o *Orchestrator) runPublication(ctx context.Context, req Request, outcome *Outcome) {
	document, err := req.Strategy.Document()
	if err != nil {
		outcome.recordError(PhasePublishing, err)
		return
	}
	result, err := o.publisher.Publish(ctx, json.RawMessage(document))
	if err != nil {
		outcome.recordError(PhasePublishing, err)
		o.logger.Warn("策略文档发布失败，跳过链上锚定",
			"request_id", req.RequestID, "error", err)
		return
	}
	outcome.Provenance = result

	receipt, err := o.chain.AnchorReference(ctx, big.NewInt(req.StrategyID), result.RetrievalURL)
	if err != nil {
		outcome.recordError(PhaseAnchoring, err)
		return
	}
	outcome.AnchorReceipt = summarizeReceipt(receipt)

	logger.Audit().Info("策略引用已锚定",
		"request_id", req.RequestID,
		"strategy_id", req.StrategyID,
		"reference_url", result.RetrievalURL,
		"tx_hash", outcome.AnchorReceipt.TxHash)
}
