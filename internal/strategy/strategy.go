package strategy

import (
	"encoding/json"
	"strings"

	xerrors "VaultPilot/internal/errors"
)

// AllocationKeyLending 是资产配置表中借贷协议的固定键名。
const AllocationKeyLending = "lendingProtocol"

// Strategy 描述一份已解析的结构化投资策略。
// 解析完成后不可变，重复执行时按标识符重新加载同一份内容。
type Strategy struct {
	AssetAllocation   map[string]float64 `json:"assetAllocation"`
	LendingProtocol   LendingProtocol    `json:"lendingProtocol"`
	Rebalancing       Rebalancing        `json:"rebalancing"`
	TransactionLimits TransactionLimits  `json:"transactionLimits"`
}

// LendingProtocol 保存借贷协议相关的条件表达式。
type LendingProtocol struct {
	InvestmentCondition string `json:"investmentCondition"`
	FallbackCondition   string `json:"fallbackCondition,omitempty"`
	StopLossCondition   string `json:"stopLossCondition,omitempty"`
}

// Rebalancing 描述再平衡节奏与允许偏离度。
type Rebalancing struct {
	Frequency          string `json:"frequency"`
	DeviationTolerance string `json:"deviationTolerance"`
}

// TransactionLimits 描述单笔交易的上限约束。
type TransactionLimits struct {
	MaxTransactionPercentage string `json:"maxTransactionPercentage"`
	MaxSwapSlippage          string `json:"maxSwapSlippage"`
}

// CodeStrategyValidation 表示策略文档未通过结构校验。
const CodeStrategyValidation xerrors.Code = "STRATEGY_VALIDATION_FAILED"

func init() {
	xerrors.Register(CodeStrategyValidation, xerrors.Attributes{
		Message:   "strategy validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Parse 将 JSON 文档反序列化为策略并完成结构校验。
func Parse(document []byte) (*Strategy, error) {
	var s Strategy
	if err := json.Unmarshal(document, &s); err != nil {
		return nil, xerrors.Wrap(CodeStrategyValidation, err, "策略文档不是合法的 JSON")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate 校验策略的必填结构。
// 资产配置的百分比是相互独立的权重，不要求加和为 100。
func (s *Strategy) Validate() error {
	if s == nil {
		return xerrors.New(CodeStrategyValidation, "策略不能为空")
	}
	if len(s.AssetAllocation) == 0 {
		return xerrors.New(CodeStrategyValidation, "assetAllocation 不能为空")
	}
	for asset, pct := range s.AssetAllocation {
		if strings.TrimSpace(asset) == "" {
			return xerrors.New(CodeStrategyValidation, "assetAllocation 含有空的资产标签")
		}
		if pct < 0 {
			return xerrors.New(CodeStrategyValidation, "资产配置比例不能为负",
				xerrors.WithMetadata("asset", asset))
		}
	}
	if strings.TrimSpace(s.LendingProtocol.InvestmentCondition) == "" {
		return xerrors.New(CodeStrategyValidation, "lendingProtocol.investmentCondition 不能为空")
	}
	if strings.TrimSpace(s.Rebalancing.Frequency) == "" {
		return xerrors.New(CodeStrategyValidation, "rebalancing.frequency 不能为空")
	}
	return nil
}

// LendingPercentage 返回借贷协议的配置比例，向下取整到整数。
// 未配置时返回 0，由分配计算器判定为 NO_ALLOCATION。
func (s *Strategy) LendingPercentage() int64 {
	if s == nil {
		return 0
	}
	return int64(s.AssetAllocation[AllocationKeyLending])
}

// Document 返回策略的规范 JSON 文档，供内容寻址发布使用。
func (s *Strategy) Document() ([]byte, error) {
	encoded, err := json.Marshal(s)
	if err != nil {
		return nil, xerrors.Wrap(CodeStrategyValidation, err, "序列化策略文档失败")
	}
	return encoded, nil
}

// Clone 返回策略的深拷贝，保证注册后的内容不被调用方修改。
func (s *Strategy) Clone() *Strategy {
	if s == nil {
		return nil
	}
	clone := *s
	if s.AssetAllocation != nil {
		clone.AssetAllocation = make(map[string]float64, len(s.AssetAllocation))
		for k, v := range s.AssetAllocation {
			clone.AssetAllocation[k] = v
		}
	}
	return &clone
}
