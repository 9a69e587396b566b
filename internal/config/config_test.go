package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oattest.json")
	content := `{
  "issuer": {"name": "Demo Issuer", "keystore_path": "keys/issuer.json"},
  "web3": {"chain_config": "chains.yaml"},
  "log": {"audit": {"enabled": true}}
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Verification.Timeout() != 10*time.Second || cfg.Verification.ErrorPolicy != "fail" {
		t.Fatalf("校验默认值未生效: %+v", cfg.Verification)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("相对路径应基于配置文件目录: %s", cfg.Web3.ChainConfig)
	}
	if cfg.Issuer.KeystorePath != filepath.Join(dir, "keys", "issuer.json") {
		t.Fatalf("unexpected keystore path %s", cfg.Issuer.KeystorePath)
	}
	if cfg.Log.Audit.Path != filepath.Join(dir, "data", "audit", "issuance.log") {
		t.Fatalf("unexpected audit path %s", cfg.Log.Audit.Path)
	}
	if cfg.TaskQueue.Driver != "memory" || cfg.Storage.Archive.Driver != "file" {
		t.Fatalf("unexpected drivers %+v %+v", cfg.TaskQueue, cfg.Storage)
	}
	if cfg.API.Auth.Mode != "disabled" || cfg.Alerting.WebhookRetries != 3 || cfg.Alerting.WebhookInterval() != 2*time.Second {
		t.Fatalf("接口与告警默认值未生效: %+v %+v", cfg.API, cfg.Alerting)
	}
}

func TestLoadValidatesAPITokens(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"no-tokens.json": `{"api": {"auth": {"mode": "token"}}}`,
		"no-env.json":    `{"api": {"auth": {"mode": "token", "tokens": [{"name": "ops"}]}}}`,
		"bad-mode.json":  `{"api": {"auth": {"mode": "ldap"}}}`,
		"bad-queue.json": `{"task_queue": {"driver": "kafka"}}`,
	}
	for name, content := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s 应校验失败", name)
		}
	}

	path := filepath.Join(dir, "ok.json")
	ok := `{"api": {"address": ":8080", "auth": {"mode": "token", "tokens": [{"name": "ops", "secret_env": "OATTEST_OPS_TOKEN", "permissions": ["*"]}]}}}`
	if err := os.WriteFile(path, []byte(ok), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.API.Auth.Tokens) != 1 || cfg.API.Auth.Tokens[0].SecretEnv != "OATTEST_OPS_TOKEN" {
		t.Fatalf("unexpected tokens %+v", cfg.API.Auth.Tokens)
	}
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte(`{"verification": {"error_policy": "ignore"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("未知策略应报错")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("空路径应报错")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "oattest.example.json"))
	if err != nil {
		t.Fatalf("示例配置应能加载: %v", err)
	}
	if cfg.Web3.DefaultChain != "sepolia" || filepath.Base(cfg.Web3.ChainConfig) != "chains.yaml" {
		t.Fatalf("unexpected web3 config %+v", cfg.Web3)
	}
	if cfg.API.Auth.Mode != "token" || len(cfg.API.Auth.Tokens) != 2 {
		t.Fatalf("unexpected auth config %+v", cfg.API.Auth)
	}
}
