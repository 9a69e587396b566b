// Package web3 定义文档签发登记簿（DocumentStore 合约）的访问接口，
// 以及链端点的 YAML 配置。具体实现位于 ethereum（JSON-RPC）与 memory（进程内）子包，
// provider 子包按链名称管理多个客户端。
package web3
