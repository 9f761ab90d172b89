package pipeline

import (
	"math/big"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/provenance"

	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// Phase 标记编排器状态机中的一个阶段。
type Phase string

const (
	PhaseGating     Phase = "gating"
	PhaseAllocating Phase = "allocating"
	PhasePublishing Phase = "publishing"
	PhaseAnchoring  Phase = "anchoring"
)

// StepError 记录某个阶段的失败，阶段失败不会中断后续阶段。
type StepError struct {
	Phase   Phase        `json:"phase"`
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// Receipt 是交易回执的摘要，供记录与展示层使用。
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

func summarizeReceipt(receipt *coretypes.Receipt) *Receipt {
	if receipt == nil {
		return nil
	}
	return &Receipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
}

// Outcome 是一次编排调用的组合结果。
// 各阶段的成败独立表示，调用方拿到的是结构化结果而不是裸异常。
type Outcome struct {
	RequestID         string              `json:"request_id"`
	StrategyID        int64               `json:"strategy_id"`
	Network           string              `json:"network"`
	Skipped           bool                `json:"skipped"`
	SkipReason        string              `json:"skip_reason,omitempty"`
	AllocationAmount  *big.Int            `json:"allocation_amount,omitempty"`
	AllocationReceipt *Receipt            `json:"allocation_receipt,omitempty"`
	Provenance        *provenance.Result  `json:"provenance,omitempty"`
	AnchorReceipt     *Receipt            `json:"anchor_receipt,omitempty"`
	Errors            []StepError         `json:"errors,omitempty"`
	// Duplicate 表示同一请求标识符此前已被处理，本次未触发任何副作用。
	Duplicate bool `json:"duplicate,omitempty"`
	// RepeatPayload 表示结果内容与进程内某次早先结果完全一致，
	// 展示层应当抑制重复的用户确认。
	RepeatPayload bool `json:"repeat_payload,omitempty"`
}

func (o *Outcome) recordError(phase Phase, err error) {
	if err == nil {
		return
	}
	o.Errors = append(o.Errors, StepError{
		Phase:   phase,
		Code:    xerrors.CodeOf(err),
		Message: err.Error(),
	})
}

// HasError 判断指定阶段是否记录了失败。
func (o *Outcome) HasError(phase Phase) bool {
	for _, stepErr := range o.Errors {
		if stepErr.Phase == phase {
			return true
		}
	}
	return false
}
