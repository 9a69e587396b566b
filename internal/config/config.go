package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"OpenAttest-Core/pkg/logger"
)

// Config 描述服务启动阶段需要加载的全部配置。
type Config struct {
	Log          logger.Config      `json:"log"`
	Issuer       IssuerConfig       `json:"issuer"`
	Web3         Web3Config         `json:"web3"`
	Identity     IdentityConfig     `json:"identity"`
	Verification VerificationConfig `json:"verification"`
	Storage      StorageConfig      `json:"storage"`
	TaskQueue    TaskQueueConfig    `json:"task_queue"`
	Metrics      MetricsConfig      `json:"metrics"`
	API          APIConfig          `json:"api"`
	Alerting     AlertingConfig     `json:"alerting"`
	Runtime      RuntimeConfig      `json:"runtime"`
}

// IssuerConfig 描述本服务代表的签发者。私钥从 keystore 文件解锁，口令通过环境变量提供。
type IssuerConfig struct {
	Name               string `json:"name"`
	Method             string `json:"method"`
	Revocation         string `json:"revocation"`
	RevocationLocation string `json:"revocation_location"`
	DocumentStore      string `json:"document_store"`
	DNSLocation        string `json:"dns_location"`
	KeystorePath       string `json:"keystore_path"`
	PassphraseEnv      string `json:"passphrase_env"`
	PrivateKeyEnv      string `json:"private_key_env"`
}

// Web3Config 包含访问区块链节点所需的信息。Driver 为 memory 时使用进程内登记簿。
type Web3Config struct {
	Driver                string `json:"driver"`
	RPCURL                string `json:"rpc_url"`
	ChainID               int64  `json:"chain_id"`
	ChainConfig           string `json:"chain_config"`
	DefaultChain          string `json:"default_chain"`
	DIDRegistry           string `json:"did_registry"`
	ReadRetries           int    `json:"read_retries"`
	ReceiptTimeoutSeconds int    `json:"receipt_timeout_seconds"`
}

// ReceiptTimeout 返回等待交易回执的上限。
func (c Web3Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.ReceiptTimeoutSeconds) * time.Second
}

// IdentityConfig 控制 DNS 查询与解析结果缓存。
type IdentityConfig struct {
	Nameservers    []string    `json:"nameservers"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	Cache          CacheConfig `json:"cache"`
}

// Timeout 返回单次 DNS 查询超时。
func (c IdentityConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheConfig 选择解析缓存的实现：none、memory 或 redis。
type CacheConfig struct {
	Driver     string      `json:"driver"`
	Size       int         `json:"size"`
	TTLSeconds int         `json:"ttl_seconds"`
	Redis      RedisConfig `json:"redis"`
}

// TTL 返回缓存有效期。
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RedisConfig 为 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// VerificationConfig 控制校验流程。ErrorPolicy 取值 fail 或 collect。
type VerificationConfig struct {
	TimeoutSeconds int    `json:"timeout_seconds"`
	ErrorPolicy    string `json:"error_policy"`
	Workers        int    `json:"workers"`
}

// Timeout 返回网络检查的超时。
func (c VerificationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig 统一描述任务存储与文档归档的后端。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
	Archive   ArchiveConfig   `json:"archive"`
}

// TaskStoreConfig 支持 memory 与 mysql 两种驱动。
type TaskStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
	Retries                int    `json:"retries"`
}

// ArchiveConfig 支持 file 与 mysql 两种驱动。
type ArchiveConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// TaskQueueConfig 描述任务队列。
type TaskQueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Buffer   int            `json:"buffer"`
	Redis    RedisQueue     `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisQueue 为 Redis 队列参数，BlockWait 单位为秒。
type RedisQueue struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait"`
}

// RabbitMQConfig 为 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// MetricsConfig 为 Prometheus 指标端点。Address 为空时不启动。
type MetricsConfig struct {
	Address string `json:"address"`
}

// APIConfig 为 HTTP 接口参数。Address 为空时不启动。
type APIConfig struct {
	Address string     `json:"address"`
	Auth    AuthConfig `json:"auth"`
}

// AuthConfig 选择接口认证方式：disabled 或 token。令牌明文只从环境变量读取。
type AuthConfig struct {
	Mode   string        `json:"mode"`
	Tokens []TokenConfig `json:"tokens"`
}

// TokenConfig 描述一个 API 令牌。
type TokenConfig struct {
	Name        string   `json:"name"`
	SecretEnv   string   `json:"secret_env"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// AlertingConfig 控制任务失败告警。日志通道总是启用，WebhookURL 非空时追加 webhook 通道。
type AlertingConfig struct {
	WebhookURL             string `json:"webhook_url"`
	WebhookRetries         int    `json:"webhook_retries"`
	WebhookIntervalSeconds int    `json:"webhook_interval_seconds"`
	WebhookTimeoutSeconds  int    `json:"webhook_timeout_seconds"`
}

// WebhookInterval 返回两次投递之间的等待时间。
func (c AlertingConfig) WebhookInterval() time.Duration {
	return time.Duration(c.WebhookIntervalSeconds) * time.Second
}

// WebhookTimeout 返回单次投递超时。
func (c AlertingConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Web3.Driver == "" {
		c.Web3.Driver = "ethereum"
	}
	if c.Web3.ReceiptTimeoutSeconds <= 0 {
		c.Web3.ReceiptTimeoutSeconds = 120
	}
	c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)

	if c.Identity.TimeoutSeconds <= 0 {
		c.Identity.TimeoutSeconds = 5
	}
	if c.Identity.Cache.Driver == "" {
		c.Identity.Cache.Driver = "memory"
	}
	if c.Identity.Cache.Size <= 0 {
		c.Identity.Cache.Size = 1024
	}
	if c.Identity.Cache.TTLSeconds <= 0 {
		c.Identity.Cache.TTLSeconds = 300
	}
	if c.Identity.Cache.Redis.Prefix == "" {
		c.Identity.Cache.Redis.Prefix = "oattest:identity:"
	}

	if c.Verification.TimeoutSeconds <= 0 {
		c.Verification.TimeoutSeconds = 10
	}
	if c.Verification.ErrorPolicy == "" {
		c.Verification.ErrorPolicy = "fail"
	}
	if c.Verification.Workers <= 0 {
		c.Verification.Workers = 4
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}
	if c.Storage.Archive.Driver == "" {
		c.Storage.Archive.Driver = "file"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 4
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 1024
	}

	if c.API.Auth.Mode == "" {
		c.API.Auth.Mode = "disabled"
	}
	if c.Alerting.WebhookRetries <= 0 {
		c.Alerting.WebhookRetries = 3
	}
	if c.Alerting.WebhookIntervalSeconds <= 0 {
		c.Alerting.WebhookIntervalSeconds = 2
	}
	if c.Alerting.WebhookTimeoutSeconds <= 0 {
		c.Alerting.WebhookTimeoutSeconds = 5
	}

	if c.Issuer.PassphraseEnv == "" {
		c.Issuer.PassphraseEnv = "OATTEST_KEY_PASSPHRASE"
	}
	c.Issuer.KeystorePath = resolve(baseDir, c.Issuer.KeystorePath)

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit", "issuance.log")
	}
}

// Validate 检查取值之间的一致性。
func (c *Config) Validate() error {
	switch strings.ToLower(c.Verification.ErrorPolicy) {
	case "fail", "collect":
	default:
		return fmt.Errorf("未知的 error_policy: %s", c.Verification.ErrorPolicy)
	}
	switch c.Web3.Driver {
	case "ethereum", "memory":
	default:
		return fmt.Errorf("未知的 web3 driver: %s", c.Web3.Driver)
	}
	switch c.Identity.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("未知的解析缓存 driver: %s", c.Identity.Cache.Driver)
	}
	switch c.TaskQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的任务队列 driver: %s", c.TaskQueue.Driver)
	}
	switch strings.ToLower(c.API.Auth.Mode) {
	case "disabled":
	case "token":
		if len(c.API.Auth.Tokens) == 0 {
			return errors.New("token 认证至少需要一个令牌")
		}
		for _, tok := range c.API.Auth.Tokens {
			if tok.SecretEnv == "" {
				return fmt.Errorf("令牌 %s 缺少 secret_env", tok.Name)
			}
		}
	default:
		return fmt.Errorf("未知的认证模式: %s", c.API.Auth.Mode)
	}
	if c.Storage.TaskStore.Driver == "mysql" && c.Storage.TaskStore.DSN == "" {
		return errors.New("mysql 任务存储需要 dsn")
	}
	if c.Storage.Archive.Driver == "mysql" && c.Storage.Archive.DSN == "" {
		return errors.New("mysql 文档归档需要 dsn")
	}
	return nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
