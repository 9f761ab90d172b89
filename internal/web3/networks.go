package web3

import (
	"fmt"
	"os"
	"strings"

	xerrors "VaultPilot/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// NetworkDefinitions 对应 configs/networks.yaml 的结构。
type NetworkDefinitions struct {
	Networks map[string]NetworkDefinition `yaml:"networks"`
}

// NetworkDefinition 描述单个网络的地址与当前观测利率。
type NetworkDefinition struct {
	RPCURL        string  `yaml:"rpc_url"`
	VaultAddress  string  `yaml:"vault_address"`
	PoolAddress   string  `yaml:"pool_address"`
	TokenAddress  string  `yaml:"token_address"`
	AnchorAddress string  `yaml:"anchor_address"`
	CurrentRate   float64 `yaml:"current_rate"`
	Description   string  `yaml:"description"`
}

// LoadNetworkDefinitions 解析网络定义 YAML 文件。
func LoadNetworkDefinitions(path string) (NetworkDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return NetworkDefinitions{Networks: map[string]NetworkDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return NetworkDefinitions{}, fmt.Errorf("读取网络配置失败: %w", err)
	}

	var defs NetworkDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return NetworkDefinitions{}, fmt.Errorf("解析网络配置失败: %w", err)
	}
	if defs.Networks == nil {
		defs.Networks = map[string]NetworkDefinition{}
	}
	return defs, nil
}

// Resolve 将网络定义转换为执行上下文，缺失任一必要地址即视为配置错误。
// 配置错误是致命的：必须在任何副作用发生之前拦截。
func (d NetworkDefinition) Resolve(name string) (Context, error) {
	if strings.TrimSpace(d.RPCURL) == "" {
		return Context{}, xerrors.New(xerrors.CodeConfigurationFailure,
			fmt.Sprintf("网络 %s 缺少 rpc_url", name))
	}
	addresses := map[string]string{
		"vault_address":  d.VaultAddress,
		"pool_address":   d.PoolAddress,
		"token_address":  d.TokenAddress,
		"anchor_address": d.AnchorAddress,
	}
	for field, addr := range addresses {
		if !common.IsHexAddress(addr) {
			return Context{}, xerrors.New(xerrors.CodeConfigurationFailure,
				fmt.Sprintf("网络 %s 的 %s 缺失或不是合法地址", name, field),
				xerrors.WithMetadata("network", name),
				xerrors.WithMetadata("field", field))
		}
	}
	return Context{
		Name:        name,
		RPCURL:      d.RPCURL,
		Vault:       common.HexToAddress(d.VaultAddress),
		Pool:        common.HexToAddress(d.PoolAddress),
		Token:       common.HexToAddress(d.TokenAddress),
		Anchor:      common.HexToAddress(d.AnchorAddress),
		CurrentRate: d.CurrentRate,
	}, nil
}

// ResolveNetwork 在定义表中查找并解析指定网络。
func (defs NetworkDefinitions) ResolveNetwork(name string) (Context, error) {
	def, ok := defs.Networks[name]
	if !ok {
		return Context{}, xerrors.New(xerrors.CodeConfigurationFailure,
			fmt.Sprintf("网络 %s 未在配置中定义", name))
	}
	return def.Resolve(name)
}
