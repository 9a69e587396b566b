// Package provider 按链名称管理 DocumentStore 客户端。
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"OpenAttest-Core/internal/config"
	"OpenAttest-Core/internal/web3"
	"OpenAttest-Core/internal/web3/ethereum"
)

// Chain 为注册表中的一条链及其默认文档存储地址。
type Chain struct {
	Name          string
	Client        *ethereum.Client
	DocumentStore common.Address
}

// Registry 管理一组以名称索引的链客户端。
type Registry struct {
	defaultChain string
	chains       map[string]Chain
}

// NewRegistry 加载链定义并创建客户端。YAML 中没有任何链时回退到 cfg.RPCURL。
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	chains := make(map[string]Chain)
	closeAll := func() {
		for _, c := range chains {
			c.Client.Close()
		}
	}
	for name, def := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			closeAll()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		didRegistry := def.DIDRegistry
		if didRegistry == "" {
			didRegistry = cfg.DIDRegistry
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:           name,
			RPCURL:         def.RPCURL,
			ChainID:        def.ChainID,
			DIDRegistry:    didRegistry,
			Notes:          def.Description,
			ReadRetries:    cfg.ReadRetries,
			ReceiptTimeout: cfg.ReceiptTimeout(),
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		chains[name] = Chain{Name: name, Client: client, DocumentStore: addressOrZero(def.DocumentStore)}
	}

	if len(chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:           "default",
			RPCURL:         cfg.RPCURL,
			ChainID:        cfg.ChainID,
			DIDRegistry:    cfg.DIDRegistry,
			ReadRetries:    cfg.ReadRetries,
			ReceiptTimeout: cfg.ReceiptTimeout(),
		})
		if err != nil {
			return nil, err
		}
		chains["default"] = Chain{Name: "default", Client: client}
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(chains))
		for name := range chains {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := chains[defaultChain]; !ok {
		closeAll()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, chains: chains}, nil
}

func addressOrZero(s string) common.Address {
	if common.IsHexAddress(s) {
		return common.HexToAddress(s)
	}
	return common.Address{}
}

// Default 返回默认链。
func (r *Registry) Default() (Chain, error) {
	if r == nil {
		return Chain{}, errors.New("未初始化的链客户端注册表")
	}
	chain, ok := r.chains[r.defaultChain]
	if !ok {
		return Chain{}, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return chain, nil
}

// Chain 按名称返回链。
func (r *Registry) Chain(name string) (Chain, bool) {
	if r == nil {
		return Chain{}, false
	}
	chain, ok := r.chains[name]
	return chain, ok
}

// Close 释放注册表持有的全部客户端。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, chain := range r.chains {
		if chain.Client != nil {
			chain.Client.Close()
		}
		delete(r.chains, name)
	}
}

// Chains 返回已注册的链名称。
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
