package ethereum

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// 各合约只声明管线用到的入口。
const (
	erc20ABIJSON = `[{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

	poolABIJSON = `[{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]}]`

	vaultABIJSON = `[{"type":"function","name":"execute","stateMutability":"payable","inputs":[{"name":"targets","type":"address[]"},{"name":"data","type":"bytes[]"},{"name":"values","type":"uint256[]"}],"outputs":[{"name":"","type":"bytes[]"}]},{"type":"function","name":"totalAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}]`

	anchorABIJSON = `[{"type":"function","name":"setStrategyReference","stateMutability":"nonpayable","inputs":[{"name":"strategyId","type":"uint256"},{"name":"referenceURI","type":"string"}],"outputs":[]}]`
)

var (
	erc20ABI  = mustParseABI(erc20ABIJSON)
	poolABI   = mustParseABI(poolABIJSON)
	vaultABI  = mustParseABI(vaultABIJSON)
	anchorABI = mustParseABI(anchorABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Client 通过 go-ethereum 访问金库、借贷池与指针合约。
type Client struct {
	network   web3.Context
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   bind.ContractBackend
	waiter    bind.DeployBackend
	signer    *bind.TransactOpts
	vault     *bind.BoundContract
	anchor    *bind.BoundContract
	mu        sync.Mutex
}

// NewClient 连接网络上下文指定的 RPC 端点并准备签名器。
func NewClient(ctx context.Context, network web3.Context, signerKeyHex string) (*Client, error) {
	if strings.TrimSpace(network.RPCURL) == "" {
		return nil, xerrors.New(xerrors.CodeConfigurationFailure, "未配置 RPC 端点")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(signerKeyHex), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigurationFailure, err, "解析签名私钥失败")
	}

	rpcClient, err := gethrpc.DialContext(ctx, network.RPCURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainExecution, err, "连接链上节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeChainExecution, err, "获取链 ID 失败")
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeConfigurationFailure, err, "创建交易签名器失败")
	}

	client := &Client{
		network:   network,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
		waiter:    eth,
		signer:    signer,
	}
	client.bindContracts()
	return client, nil
}

// NewSimulatedClient 基于模拟后端构造客户端，用于测试。
func NewSimulatedClient(network web3.Context, chainID *big.Int, backend *backends.SimulatedBackend, signer *bind.TransactOpts) *Client {
	client := &Client{
		network: network,
		backend: backend,
		waiter:  backend,
		signer:  signer,
	}
	client.bindContracts()
	return client
}

func (c *Client) bindContracts() {
	c.vault = bind.NewBoundContract(c.network.Vault, vaultABI, c.backend, c.backend, c.backend)
	c.anchor = bind.NewBoundContract(c.network.Anchor, anchorABI, c.backend, c.backend, c.backend)
}

// Close 释放网络连接。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// TotalAssets 实时读取金库的总余额。
func (c *Client) TotalAssets(ctx context.Context) (*big.Int, error) {
	if c == nil || c.vault == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "链上客户端未初始化")
	}
	var out []any
	if err := c.vault.Call(&bind.CallOpts{Context: ctx}, &out, "totalAssets"); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainExecution, err, "读取金库余额失败")
	}
	if len(out) == 0 {
		return nil, xerrors.New(xerrors.CodeChainExecution, "金库余额返回值为空")
	}
	total, ok := out[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeChainExecution, "金库余额返回类型异常")
	}
	return total, nil
}

// BuildAllocationCalls 构造固定顺序的两步子调用：
// 先授权借贷池划转金额，再将同一金额存入借贷池，两笔都不附带原生代币。
func BuildAllocationCalls(network web3.Context, amount *big.Int) ([]web3.Call, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "划转金额必须为正")
	}
	approveData, err := erc20ABI.Pack("approve", network.Pool, amount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainExecution, err, "编码 approve 调用失败")
	}
	depositData, err := poolABI.Pack("deposit", network.Token, amount, network.Vault, uint16(0))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainExecution, err, "编码 deposit 调用失败")
	}
	return []web3.Call{
		{Target: network.Token, Data: approveData, Value: big.NewInt(0)},
		{Target: network.Pool, Data: depositData, Value: big.NewInt(0)},
	}, nil
}

// ExecuteBatch 将子调用提交到金库的批量执行入口并等待上链。
// 失败不重试：没有幂等键的资金划转重发可能导致重复执行，由上层决定。
func (c *Client) ExecuteBatch(ctx context.Context, calls []web3.Call) (*coretypes.Receipt, error) {
	if c == nil || c.vault == nil || c.signer == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "链上客户端未初始化")
	}
	if len(calls) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "批量调用不能为空")
	}

	targets := make([]common.Address, len(calls))
	payloads := make([][]byte, len(calls))
	values := make([]*big.Int, len(calls))
	for i, call := range calls {
		targets[i] = call.Target
		payloads[i] = call.Data
		values[i] = call.Value
		if values[i] == nil {
			values[i] = big.NewInt(0)
		}
	}

	tx, err := c.vault.Transact(c.transactOpts(ctx), "execute", targets, payloads, values)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainExecution, err, "提交批量交易失败")
	}
	return c.waitMined(ctx, tx)
}

// AnchorReference 将 (策略标识符, 文档检索地址) 写入链上指针合约。
func (c *Client) AnchorReference(ctx context.Context, strategyID *big.Int, referenceURI string) (*coretypes.Receipt, error) {
	if c == nil || c.anchor == nil || c.signer == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "链上客户端未初始化")
	}
	if strategyID == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "策略标识符不能为空")
	}
	if strings.TrimSpace(referenceURI) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "文档检索地址不能为空")
	}

	tx, err := c.anchor.Transact(c.transactOpts(ctx), "setStrategyReference", strategyID, referenceURI)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainExecution, err, "提交指针写入交易失败")
	}
	return c.waitMined(ctx, tx)
}

func (c *Client) transactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *c.signer
	opts.Context = ctx
	return &opts
}

func (c *Client) waitMined(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error) {
	if sim, ok := c.backend.(*backends.SimulatedBackend); ok {
		sim.Commit()
	}
	receipt, err := bind.WaitMined(ctx, c.waiter, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "等待交易上链超时",
				xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
		}
		return nil, xerrors.Wrap(xerrors.CodeChainExecution, err, "等待交易上链失败",
			xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return nil, xerrors.New(xerrors.CodeChainExecution, "交易已上链但执行回滚",
			xerrors.WithMetadata("tx_hash", tx.Hash().Hex()),
			xerrors.WithMetadata("block_number", receipt.BlockNumber.String()))
	}
	return receipt, nil
}

var _ web3.Client = (*Client)(nil)
