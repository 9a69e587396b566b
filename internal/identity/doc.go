// Package identity 解析签发者身份证明：DNS TXT 记录与 DID 密钥。
//
// Resolver 是校验流程唯一依赖的接口。DNSResolver 基于 miekg/dns 直接查询名称服务器，
// DIDResolver 支持 did:ethr（可选地经 ERC-1056 登记簿解析当前控制者）与 did:key，
// CachingResolver 为 TXT 查询结果提供 LRU 或 Redis 缓存。
package identity
