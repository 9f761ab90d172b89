package strategy

import (
	"log/slog"
	"regexp"
	"strconv"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/pkg/logger"
)

// Operator 表示条件表达式中的比较运算符。
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// Condition 是一条已解析的阈值条件。
// 与直接吞掉解析失败不同，显式区分"条件为假"与"条件不可解析"，
// 便于调用方与测试观察门控的真实原因。
type Condition struct {
	Op        Operator
	Threshold float64
}

// CodeConditionUnparsed 表示条件表达式无法解析。
const CodeConditionUnparsed xerrors.Code = "CONDITION_UNPARSED"

func init() {
	xerrors.Register(CodeConditionUnparsed, xerrors.Attributes{
		Message:   "condition expression unparsable",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// 接受的形态：大小写不敏感的 APY、比较运算符、十进制数、可选的尾部百分号。
var conditionPattern = regexp.MustCompile(`(?i)^\s*APY\s*(>=|<=|==|=|>|<)\s*([0-9]+(?:\.[0-9]+)?)\s*%?\s*$`)

// ParseCondition 解析形如 "APY > 6%" 的阈值表达式。
func ParseCondition(expr string) (Condition, error) {
	matches := conditionPattern.FindStringSubmatch(expr)
	if matches == nil {
		return Condition{}, xerrors.New(CodeConditionUnparsed, "条件表达式无法解析",
			xerrors.WithMetadata("expression", expr))
	}
	threshold, err := strconv.ParseFloat(matches[2], 64)
	if err != nil {
		return Condition{}, xerrors.Wrap(CodeConditionUnparsed, err, "条件阈值不是合法数字",
			xerrors.WithMetadata("expression", expr))
	}
	op := Operator(matches[1])
	if op == "=" {
		op = OpEqual
	}
	return Condition{Op: op, Threshold: threshold}, nil
}

// Evaluate 按标准 IEEE 双精度比较判定当前利率是否满足条件。
func (c Condition) Evaluate(rate float64) bool {
	switch c.Op {
	case OpGreater:
		return rate > c.Threshold
	case OpGreaterEqual:
		return rate >= c.Threshold
	case OpLess:
		return rate < c.Threshold
	case OpLessEqual:
		return rate <= c.Threshold
	case OpEqual:
		return rate == c.Threshold
	default:
		return false
	}
}

// EvaluateCondition 是门控入口：解析失败一律判为不满足。
// 歧义或无法解析的条件绝不能授权资金移动，所以这里只降级不报错。
func EvaluateCondition(expr string, rate float64) bool {
	cond, err := ParseCondition(expr)
	if err != nil {
		logger.L().Warn("条件表达式解析失败，按不满足处理",
			slog.String("expression", expr),
			slog.Any("error", err),
		)
		return false
	}
	return cond.Evaluate(rate)
}
