// Package config 负责加载签发与校验服务的 JSON 配置，并为未填写的字段补齐默认值。
// 链端点的详细定义位于单独的 YAML 文件，由 web3 包解析。
package config
