// Command oattest 在本地完成文档的构造、包装、遮蔽、签名、上链、校验与传输编码。
package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"OpenAttest-Core/internal/config"
	"OpenAttest-Core/pkg/logger"
)

const (
	configFlagName  = "config"
	configEnvKey    = "OATTEST_CONFIG"
	configFlagUsage = "配置文件路径，也可以通过环境变量 " + configEnvKey + " 指定"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.L().Error("oattest 执行失败", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "oattest",
		Short:         "OpenAttestation 文档工具",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}
	rootCmd.PersistentFlags().String(configFlagName, "", configFlagUsage)

	rootCmd.AddCommand(
		newBuildCmd(),
		newWrapCmd(),
		newObfuscateCmd(),
		newSignCmd(),
		newIssueCmd(),
		newRevokeCmd(),
		newVerifyCmd(),
		newEncryptCmd(),
		newDecryptCmd(),
		newEncodeCmd(),
		newDecodeCmd(),
	)
	return rootCmd
}

// loadConfig 读取配置并初始化日志。只有需要链或身份解析的命令才调用。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(configFlagName)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = os.Getenv(configEnvKey)
	}
	if path == "" {
		path = filepath.Join("configs", "oattest.json")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}
