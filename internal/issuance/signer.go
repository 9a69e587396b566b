package issuance

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"OpenAttest-Core/internal/document"
	"OpenAttest-Core/internal/identity"
	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/pkg/logger"
)

// KeySigner 以 DID 密钥对 merkleRoot 做 EIP-191 签名。
type KeySigner struct {
	keys   identity.DIDKeyResolver
	logger *slog.Logger
}

// SignerOption 配置 KeySigner。
type SignerOption func(*KeySigner)

// WithKeyResolver 指定签名前用于核对签发者 DID 的解析器。默认只做本地解析，不访问网络。
func WithKeyResolver(r identity.DIDKeyResolver) SignerOption {
	return func(s *KeySigner) {
		if r != nil {
			s.keys = r
		}
	}
}

// WithSignerLogger 设置日志记录器。
func WithSignerLogger(l *slog.Logger) SignerOption {
	return func(s *KeySigner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewKeySigner 构造签名器。
func NewKeySigner(opts ...SignerOption) *KeySigner {
	s := &KeySigner{keys: identity.NewDIDResolver(nil), logger: logger.Named("issuance.signer")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign 用会话私钥签名 wrapped 文档并返回 signed 文档。会话必须属于文档中某个 DID 签发者。
func (s *KeySigner) Sign(ctx context.Context, sess *keys.Session, doc *document.Document) (*document.Document, error) {
	if !sess.Active() {
		return nil, signingError(keys.ErrSessionClosed, "signing session is not active")
	}
	if doc == nil || doc.Stage() != document.StageWrapped {
		return nil, signingError(nil, "only wrapped documents can be signed")
	}
	root, err := doc.MerkleRoot()
	if err != nil {
		return nil, signingError(err, "read merkle root")
	}
	issuers, err := doc.Issuers()
	if err != nil {
		return nil, signingError(err, "read issuers")
	}

	var keyID string
	for _, iss := range issuers {
		if iss.Method != document.MethodDID {
			continue
		}
		key, err := s.keys.ResolveDIDKey(ctx, iss.IdentityProof.Key)
		if err != nil {
			return nil, signingError(err, "resolve issuer key %s", iss.IdentityProof.Key)
		}
		if key.Address == sess.Address() {
			keyID = iss.IdentityProof.Key
			break
		}
	}
	if keyID == "" {
		return nil, signingError(nil, "session key %s does not belong to any DID issuer", sess.Address().Hex())
	}

	sig, err := sess.SignHash(accounts.TextHash(root.Bytes()))
	if err != nil {
		return nil, signingError(err, "sign merkle root")
	}
	signed, err := document.AttachProof(doc, document.IssuerProof{
		VerificationMethod: keyID,
		Signature:          hexutil.Encode(sig),
	})
	if err != nil {
		return nil, signingError(err, "attach proof")
	}
	s.logger.Info("document signed", "merkle_root", root.Hex(), "key", keyID)
	return signed, nil
}
