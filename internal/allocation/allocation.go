package allocation

import (
	"math/big"

	xerrors "VaultPilot/internal/errors"
)

var hundred = big.NewInt(100)

// ErrNoAllocation 表示目标协议没有配置有效的分配比例。
var ErrNoAllocation = xerrors.New(xerrors.CodeNoAllocation, "未配置借贷协议的分配比例")

// ComputeAmount 根据金库总额与配置比例计算划转金额。
// 整数域计算：amount = totalBalance * percentage / 100，big.Int 除法
// 向零截断，零头宁可舍弃也不向上取整，避免超配。
// 比例超过 100 时结果以金库总额封顶，划转额永远不超过可用余额。
func ComputeAmount(totalBalance *big.Int, percentage int64) (*big.Int, error) {
	if percentage <= 0 {
		return nil, ErrNoAllocation
	}
	if totalBalance == nil || totalBalance.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int).Mul(totalBalance, big.NewInt(percentage))
	amount.Quo(amount, hundred)
	if amount.Cmp(totalBalance) > 0 {
		amount.Set(totalBalance)
	}
	return amount, nil
}
