package identity

import (
	"bytes"
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/multiformats/go-multibase"
)

// secp256k1-pub 的 multicodec 前缀（0xe7 的 varint 编码）。
var secp256k1Multicodec = []byte{0xe7, 0x01}

// OwnerLookup 查询 ERC-1056 登记簿中身份的当前控制者。
type OwnerLookup interface {
	IdentityOwner(ctx context.Context, identity common.Address) (common.Address, error)
}

// DIDResolver 解析 did:ethr 与 did:key。Owners 为 nil 时 did:ethr 的控制者即其自身地址。
type DIDResolver struct {
	Owners OwnerLookup
}

// NewDIDResolver 构造 DID 解析器。
func NewDIDResolver(owners OwnerLookup) *DIDResolver {
	return &DIDResolver{Owners: owners}
}

// ResolveDIDKey 解析 DID 或带片段的密钥标识。
func (r *DIDResolver) ResolveDIDKey(ctx context.Context, did string) (DIDKey, error) {
	base, fragment, _ := strings.Cut(strings.TrimSpace(did), "#")
	switch {
	case strings.HasPrefix(base, "did:ethr:"):
		return r.resolveEthr(ctx, base, fragment)
	case strings.HasPrefix(base, "did:key:"):
		return resolveKey(base)
	default:
		return DIDKey{}, notFound("unsupported did method: %s", did)
	}
}

func (r *DIDResolver) resolveEthr(ctx context.Context, base, fragment string) (DIDKey, error) {
	parts := strings.Split(strings.TrimPrefix(base, "did:ethr:"), ":")
	addr := parts[len(parts)-1]
	if !common.IsHexAddress(addr) {
		return DIDKey{}, notFound("did:ethr identifier %s is not an address", base)
	}
	identity := common.HexToAddress(addr)
	owner := identity
	if r.Owners != nil {
		resolved, err := r.Owners.IdentityOwner(ctx, identity)
		if err != nil {
			if ctx.Err() != nil {
				return DIDKey{}, ctx.Err()
			}
			return DIDKey{}, resolverError(err, "resolve did:ethr owner", base)
		}
		if resolved != (common.Address{}) {
			owner = resolved
		}
	}
	if fragment == "" {
		fragment = "controller"
	}
	return DIDKey{DID: base, KeyID: base + "#" + fragment, Address: owner}, nil
}

func resolveKey(base string) (DIDKey, error) {
	encoded := strings.TrimPrefix(base, "did:key:")
	_, data, err := multibase.Decode(encoded)
	if err != nil {
		return DIDKey{}, notFound("did:key %s is not multibase: %v", base, err)
	}
	if !bytes.HasPrefix(data, secp256k1Multicodec) {
		return DIDKey{}, notFound("did:key %s is not a secp256k1 key", base)
	}
	pub, err := crypto.DecompressPubkey(data[len(secp256k1Multicodec):])
	if err != nil {
		return DIDKey{}, notFound("did:key %s carries an invalid public key: %v", base, err)
	}
	return DIDKey{
		DID:       base,
		KeyID:     base + "#" + encoded,
		Address:   crypto.PubkeyToAddress(*pub),
		PublicKey: pub,
	}, nil
}

// EncodeKeyDID 把 secp256k1 公钥编码为 did:key 标识。
func EncodeKeyDID(pub []byte) (string, error) {
	if len(pub) == 65 {
		key, err := crypto.UnmarshalPubkey(pub)
		if err != nil {
			return "", err
		}
		pub = crypto.CompressPubkey(key)
	}
	encoded, err := multibase.Encode(multibase.Base58BTC, append(append([]byte(nil), secp256k1Multicodec...), pub...))
	if err != nil {
		return "", err
	}
	return "did:key:" + encoded, nil
}
