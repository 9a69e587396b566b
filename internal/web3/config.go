package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions 对应 configs/chains.yaml 的结构。
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition 描述单条链的端点与合约地址。
type ChainDefinition struct {
	Type          string `yaml:"type"`
	RPCURL        string `yaml:"rpc_url"`
	ChainID       int64  `yaml:"chain_id"`
	DocumentStore string `yaml:"document_store"`
	DIDRegistry   string `yaml:"did_registry"`
	Description   string `yaml:"description"`
}

// LoadChainDefinitions 解析链配置文件。路径为空时返回空配置。
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions 解析 YAML 内容并校验合约地址格式。
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, chain := range defs.Chains {
		for field, addr := range map[string]string{"document_store": chain.DocumentStore, "did_registry": chain.DIDRegistry} {
			if addr != "" && !common.IsHexAddress(addr) {
				return ChainDefinitions{}, fmt.Errorf("链 %s 的 %s 不是合法地址: %s", name, field, addr)
			}
		}
	}
	return defs, nil
}
