package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"OpenAttest-Core/internal/api"
	"OpenAttest-Core/internal/auth"
	"OpenAttest-Core/internal/bootstrap"
	"OpenAttest-Core/internal/config"
	"OpenAttest-Core/internal/issuance"
	"OpenAttest-Core/internal/observability/alerting"
	"OpenAttest-Core/internal/observability/metrics"
	"OpenAttest-Core/internal/task"
	"OpenAttest-Core/internal/verify"
	"OpenAttest-Core/pkg/logger"
)

// main 是 OpenAttest 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("oattestd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("OATTEST_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "oattest.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer logger.Sync()
	l := logger.Named("oattestd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	backends, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	reg := prometheus.NewRegistry()
	verifier, err := bootstrap.NewVerifier(cfg.Verification, backends, metrics.NewVerification(reg))
	if err != nil {
		return err
	}
	// 恢复路径总是收集 ERROR 片段而不是返回不确定错误。
	collecting, err := bootstrap.NewVerifier(cfg.Verification, backends, nil, verify.WithErrorPolicy(verify.ErrorPolicyCollect))
	if err != nil {
		return err
	}

	archive, err := bootstrap.OpenArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer archive.Close()

	taskStore, err := bootstrap.OpenTaskStore(ctx, cfg)
	if err != nil {
		return err
	}
	taskQueue, err := bootstrap.OpenQueue(cfg.TaskQueue)
	if err != nil {
		_ = taskStore.Close()
		return err
	}
	taskService := task.NewService(taskStore, taskQueue, cfg.Storage.TaskStore.Retries)
	defer func() {
		if err := taskService.Close(); err != nil {
			l.Error("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	execOpts := []task.ExecutorOption{task.WithArchive(archive)}
	if backends.Session != nil {
		signer := issuance.NewKeySigner(issuance.WithKeyResolver(backends.Resolver))
		issuer := issuance.NewRegistryIssuer(backends.Registry)
		execOpts = append(execOpts, task.WithIssuance(issuer, signer, backends.Session))
		l.Info("签发者密钥已解锁", slog.String("address", backends.Session.Address().Hex()))
	} else {
		l.Warn("未配置签发者密钥，issue 与 revoke 任务将失败")
	}
	executor := task.NewDocumentExecutor(verifier, execOpts...)

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:      cfg.Alerting.WebhookURL,
			Client:   &http.Client{Timeout: cfg.Alerting.WebhookTimeout()},
			Retries:  uint64(cfg.Alerting.WebhookRetries),
			Interval: cfg.Alerting.WebhookInterval(),
		})
	}

	processor := task.NewProcessor(executor, taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("task.processor")),
		task.WithRecoveryHandler(task.NewIndeterminateRecovery(collecting)),
		task.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
		task.WithJobMetrics(metrics.NewJobs(reg)),
	)

	authService, err := auth.NewService(authConfig(cfg.API.Auth))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processor.Start(gctx)
	})
	if cfg.Metrics.Address != "" {
		g.Go(func() error {
			return metrics.StartServer(gctx, cfg.Metrics.Address, reg)
		})
	}
	if cfg.API.Address != "" {
		server := api.NewServer(cfg.API.Address, taskService,
			api.WithVerifier(verifier),
			api.WithArchive(archive),
			api.WithAuth(authService),
		)
		g.Go(func() error {
			return server.Start(gctx)
		})
	}
	l.Info("oattestd 已启动",
		slog.String("queue", cfg.TaskQueue.Driver),
		slog.String("task_store", cfg.Storage.TaskStore.Driver),
		slog.String("archive", cfg.Storage.Archive.Driver),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func authConfig(cfg config.AuthConfig) auth.Config {
	out := auth.Config{Mode: auth.Mode(cfg.Mode)}
	for _, tok := range cfg.Tokens {
		out.Tokens = append(out.Tokens, auth.Token{
			Name:        tok.Name,
			Secret:      os.Getenv(tok.SecretEnv),
			Permissions: tok.Permissions,
			Disabled:    tok.Disabled,
		})
	}
	return out
}
