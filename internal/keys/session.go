// Package keys 管理签发私钥的解锁会话。会话由 Unlock 显式创建并逐层传递给
// 签名与上链调用，Close 后立即失效，进程内不保存任何全局密钥状态。
package keys

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "OpenAttest-Core/internal/errors"
)

const (
	CodeSessionClosed xerrors.Code = "SESSION_CLOSED"
	CodeUnlockFailed  xerrors.Code = "UNLOCK_FAILED"
)

func init() {
	xerrors.Register(CodeSessionClosed, xerrors.Attributes{Message: "signing session is closed", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeUnlockFailed, xerrors.Attributes{Message: "unable to unlock signing key", Severity: xerrors.SeverityWarning})
}

// ErrSessionClosed 在会话已关闭或为 nil 时返回。
var ErrSessionClosed = xerrors.New(CodeSessionClosed, "")

// Session 持有一把已解锁的 secp256k1 私钥。并发安全。
type Session struct {
	mu      sync.RWMutex
	key     *ecdsa.PrivateKey
	address common.Address
}

// Unlock 用口令解密 Web3 Secret Storage 格式的 keystore JSON。
func Unlock(keyJSON []byte, passphrase string) (*Session, error) {
	key, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, xerrors.Wrap(CodeUnlockFailed, err, "decrypt keystore")
	}
	return newSession(key.PrivateKey), nil
}

// FromHex 由十六进制私钥创建会话，供开发环境与测试使用。
func FromHex(hexKey string) (*Session, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, xerrors.Wrap(CodeUnlockFailed, err, "parse private key")
	}
	return newSession(key), nil
}

// Generate 生成随机密钥的会话。
func Generate() (*Session, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(CodeUnlockFailed, err, "generate key")
	}
	return newSession(key), nil
}

func newSession(key *ecdsa.PrivateKey) *Session {
	return &Session{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address 返回会话对应的以太坊地址。会话关闭后仍可读取。
func (s *Session) Address() common.Address {
	if s == nil {
		return common.Address{}
	}
	return s.address
}

// DID 返回 did:ethr 形式的标识。
func (s *Session) DID() string {
	return "did:ethr:" + s.Address().Hex()
}

// ControllerKey 返回 DNS-DID 身份证明中使用的密钥标识。
func (s *Session) ControllerKey() string {
	return s.DID() + "#controller"
}

// Active 判断会话是否仍可用。
func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key != nil
}

// SignHash 对 32 字节摘要签名，返回 65 字节 [R || S || V]，V 为 27 或 28。
func (s *Session) SignHash(digest []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrSessionClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, ErrSessionClosed
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// WithKey 在持有读锁期间把私钥交给 fn，用于交易签名等需要原始私钥的场景。
func (s *Session) WithKey(fn func(*ecdsa.PrivateKey) error) error {
	if s == nil {
		return ErrSessionClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return ErrSessionClosed
	}
	return fn(s.key)
}

// Close 清零私钥并使会话失效，可重复调用。
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return
	}
	words := s.key.D.Bits()
	for i := range words {
		words[i] = 0
	}
	s.key.D.SetInt64(0)
	s.key = nil
}
