package identity

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
)

// DIDKey 为 DID 解析得到的签名密钥。Address 是签名恢复后应当比对的以太坊地址。
type DIDKey struct {
	DID       string
	KeyID     string
	Address   common.Address
	PublicKey *ecdsa.PublicKey
}

// TXTResolver 查询域名的 TXT 记录。
type TXTResolver interface {
	ResolveDNSTXT(ctx context.Context, domain string) ([]string, error)
}

// DIDKeyResolver 解析 DID 对应的密钥。
type DIDKeyResolver interface {
	ResolveDIDKey(ctx context.Context, did string) (DIDKey, error)
}

// Resolver 聚合两类身份查询，实现必须可并发使用。
// 记录不存在时返回 RESOLVER_NOT_FOUND，网络或协议故障返回 RESOLVER_ERROR。
type Resolver interface {
	TXTResolver
	DIDKeyResolver
}

type composite struct {
	TXTResolver
	DIDKeyResolver
}

// Compose 把独立的 TXT 与 DID 解析器组合为 Resolver。
func Compose(txt TXTResolver, did DIDKeyResolver) Resolver {
	return composite{TXTResolver: txt, DIDKeyResolver: did}
}
