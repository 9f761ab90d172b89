package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// Call 是批量执行中的一个子调用。
type Call struct {
	Target common.Address
	Data   []byte
	Value  *big.Int
}

// Context 是一次执行所需的网络上下文，按激活网络解析一次，只读。
type Context struct {
	Name        string
	RPCURL      string
	Vault       common.Address
	Pool        common.Address
	Token       common.Address
	Anchor      common.Address
	CurrentRate float64
}

// Client 定义执行管线所需的链上能力。
// 高层组件只依赖这个接口，具体网络实现可以替换。
type Client interface {
	// TotalAssets 实时读取金库的总余额，调用方不得缓存结果。
	TotalAssets(ctx context.Context) (*big.Int, error)
	// ExecuteBatch 通过金库的批量执行入口以单笔交易提交全部子调用，
	// 任一子调用 revert 则整批回滚。阻塞直到上链并返回回执。
	ExecuteBatch(ctx context.Context, calls []Call) (*coretypes.Receipt, error)
	// AnchorReference 将策略标识符与文档检索地址写入链上指针合约。
	AnchorReference(ctx context.Context, strategyID *big.Int, referenceURI string) (*coretypes.Receipt, error)
	// Close 释放连接资源。
	Close()
}
