// Package ethereum 通过 JSON-RPC 访问 DocumentStore 合约与 ERC-1056 DID 注册表。
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"OpenAttest-Core/internal/web3"
	"OpenAttest-Core/pkg/logger"
)

// Backend 是客户端依赖的最小链访问接口，*ethclient.Client 满足该接口。
type Backend interface {
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config 描述如何构造 EVM 客户端。
type Config struct {
	Name           string
	RPCURL         string
	ChainID        int64
	DIDRegistry    string
	Notes          string
	ReadRetries    int
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
}

// Client 实现 web3.Registry，可并发使用。
type Client struct {
	name           string
	notes          string
	rpcClient      *gethrpc.Client
	backend        Backend
	didRegistry    common.Address
	readRetries    int
	pollInterval   time.Duration
	receiptTimeout time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	chainID *big.Int
	// 同一账户的交易串行发送，避免 nonce 冲突。
	sendMu sync.Mutex
}

var _ web3.Registry = (*Client)(nil)

// NewClient 连接 RPC 端点并返回客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	c := newClient(cfg, ethclient.NewClient(rpcClient))
	c.rpcClient = rpcClient
	return c, nil
}

// NewWithBackend 用给定后端构造客户端，测试中注入假链。
func NewWithBackend(cfg Config, backend Backend) *Client {
	return newClient(cfg, backend)
}

func newClient(cfg Config, backend Backend) *Client {
	c := &Client{
		name:           cfg.Name,
		notes:          cfg.Notes,
		backend:        backend,
		readRetries:    cfg.ReadRetries,
		pollInterval:   cfg.PollInterval,
		receiptTimeout: cfg.ReceiptTimeout,
		logger:         logger.Named("web3.ethereum").With(slog.String("chain", cfg.Name)),
	}
	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	}
	if common.IsHexAddress(cfg.DIDRegistry) {
		c.didRegistry = common.HexToAddress(cfg.DIDRegistry)
	}
	switch {
	case c.readRetries == 0:
		c.readRetries = 2
	case c.readRetries < 0:
		c.readRetries = 0
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}
	if c.receiptTimeout <= 0 {
		c.receiptTimeout = 2 * time.Minute
	}
	return c
}

// Name 返回链名称。
func (c *Client) Name() string { return c.name }

// Close 释放网络连接。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot 读取链 ID 与最新区块高度。
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := c.chainIDOf(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, web3.Unavailable(err, "获取最新区块高度失败")
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

func (c *Client) chainIDOf(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, web3.Unavailable(err, "获取链 ID 失败")
	}
	c.chainID = id
	return new(big.Int).Set(id), nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
