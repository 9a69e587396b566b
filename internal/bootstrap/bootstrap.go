// Package bootstrap 按配置组装登记簿、身份解析、校验器、密钥会话与存储后端，
// 供守护进程与命令行工具共用。
package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"OpenAttest-Core/internal/config"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/identity"
	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/internal/observability/metrics"
	"OpenAttest-Core/internal/storage"
	storagemysql "OpenAttest-Core/internal/storage/mysql"
	"OpenAttest-Core/internal/task"
	"OpenAttest-Core/internal/verify"
	"OpenAttest-Core/internal/web3"
	"OpenAttest-Core/internal/web3/memory"
	"OpenAttest-Core/internal/web3/provider"
	"OpenAttest-Core/pkg/logger"
)

// Backends 汇总已打开的外部依赖。Close 按打开的逆序释放。
type Backends struct {
	Registry web3.Registry
	Resolver identity.Resolver
	Session  *keys.Session

	closers []func()
	logger  *slog.Logger
}

// Open 打开登记簿、身份解析器与签发者会话。未配置签发密钥时 Session 为 nil。
func Open(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{logger: logger.Named("bootstrap")}

	sess, err := UnlockSession(cfg.Issuer)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		b.Session = sess
		b.closers = append(b.closers, sess.Close)
	}

	var owners identity.OwnerLookup
	switch cfg.Web3.Driver {
	case "memory":
		reg := memory.NewRegistry()
		if sess != nil && common.IsHexAddress(cfg.Issuer.DocumentStore) {
			reg.Deploy(common.HexToAddress(cfg.Issuer.DocumentStore), sess.Address())
		}
		b.Registry = reg
	default:
		chains, err := provider.NewRegistry(ctx, cfg.Web3)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, chains.Close)
		chain, err := chains.Default()
		if err != nil {
			b.Close()
			return nil, err
		}
		if snap, err := chain.Client.FetchChainSnapshot(ctx); err != nil {
			b.logger.Warn("读取链状态失败", slog.String("chain", chain.Name), slog.Any("error", err))
		} else {
			b.logger.Info("已连接区块链",
				slog.String("chain", chain.Name),
				slog.String("chain_id", snap.ChainID),
				slog.String("block", snap.BlockNumber),
			)
		}
		b.Registry = chain.Client
		owners = chain.Client
	}

	resolver, closeResolver, err := OpenResolver(cfg.Identity, owners)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Resolver = resolver
	if closeResolver != nil {
		b.closers = append(b.closers, closeResolver)
	}
	return b, nil
}

// Close 释放全部依赖。
func (b *Backends) Close() {
	if b == nil {
		return
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// UnlockSession 依次尝试 keystore 文件与十六进制私钥环境变量。两者都未配置时返回 nil。
func UnlockSession(cfg config.IssuerConfig) (*keys.Session, error) {
	if cfg.KeystorePath != "" {
		raw, err := os.ReadFile(cfg.KeystorePath)
		if err != nil {
			return nil, xerrors.Wrap(keys.CodeUnlockFailed, err, "读取 keystore 失败",
				xerrors.WithMetadata("path", cfg.KeystorePath))
		}
		return keys.Unlock(raw, os.Getenv(cfg.PassphraseEnv))
	}
	if cfg.PrivateKeyEnv != "" {
		if hexKey := strings.TrimSpace(os.Getenv(cfg.PrivateKeyEnv)); hexKey != "" {
			return keys.FromHex(hexKey)
		}
	}
	return nil, nil
}

// OpenResolver 组装 DNS 与 DID 解析器，并按配置加上 TXT 缓存。
func OpenResolver(cfg config.IdentityConfig, owners identity.OwnerLookup) (identity.Resolver, func(), error) {
	dnsResolver, err := identity.NewDNSResolver(identity.DNSConfig{
		Nameservers: cfg.Nameservers,
		Timeout:     cfg.Timeout(),
	})
	if err != nil {
		return nil, nil, err
	}
	base := identity.Compose(dnsResolver, identity.NewDIDResolver(owners))

	switch cfg.Cache.Driver {
	case "none":
		return base, nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		cache, err := identity.NewRedisCache(client, cfg.Cache.TTL(), identity.WithRedisPrefix(cfg.Cache.Redis.Prefix))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return identity.NewCachingResolver(base, cache, nil), func() { _ = cache.Close() }, nil
	default:
		cache := identity.NewLRUCache(cfg.Cache.Size, cfg.Cache.TTL())
		return identity.NewCachingResolver(base, cache, nil), nil, nil
	}
}

// NewVerifier 按配置构造校验器，extra 中的选项最后应用。
func NewVerifier(cfg config.VerificationConfig, b *Backends, m *metrics.Verification, extra ...verify.Option) (*verify.Verifier, error) {
	policy, err := verify.ParseErrorPolicy(cfg.ErrorPolicy)
	if err != nil {
		return nil, err
	}
	opts := []verify.Option{
		verify.WithTimeout(cfg.Timeout()),
		verify.WithErrorPolicy(policy),
		verify.WithWorkers(cfg.Workers),
		verify.WithMetrics(m),
	}
	return verify.New(b.Registry, b.Resolver, append(opts, extra...)...), nil
}

func mysqlConfig(store config.TaskStoreConfig) storagemysql.Config {
	return storagemysql.Config{
		DSN:             store.DSN,
		MaxOpenConns:    store.MaxOpenConns,
		MaxIdleConns:    store.MaxIdleConns,
		ConnMaxLifetime: time.Duration(store.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(store.ConnMaxIdleTimeSeconds) * time.Second,
	}
}

// OpenArchive 打开文档归档。
func OpenArchive(ctx context.Context, cfg *config.Config) (storage.Archive, error) {
	switch cfg.Storage.Archive.Driver {
	case "mysql":
		mc := mysqlConfig(cfg.Storage.TaskStore)
		mc.DSN = cfg.Storage.Archive.DSN
		return storagemysql.NewSQLArchive(ctx, mc)
	case "file":
		return storage.NewFileArchive(cfg.Runtime.DataDir)
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的归档 driver: %s", cfg.Storage.Archive.Driver)
	}
}

// OpenTaskStore 打开任务存储。
func OpenTaskStore(ctx context.Context, cfg *config.Config) (task.Store, error) {
	switch cfg.Storage.TaskStore.Driver {
	case "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(ctx, mysqlConfig(cfg.Storage.TaskStore))
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的任务存储 driver: %s", cfg.Storage.TaskStore.Driver)
	}
}

// OpenQueue 打开任务队列。
func OpenQueue(cfg config.TaskQueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "memory":
		return task.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的队列 driver: %s", cfg.Driver)
	}
}
