// Package issuance 负责把 wrapped 文档绑定到签发者：构造带签发者元数据的原始文档、
// 以 DID 密钥签名 merkleRoot，或在文档存储合约上登记与撤销根哈希。
//
// 所有写操作都显式接收 keys.Session，包内不持有任何密钥状态。
package issuance
