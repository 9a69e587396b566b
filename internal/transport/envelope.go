// Package transport 负责文档在链下传输时的加密与编码。
package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"

	xerrors "OpenAttest-Core/internal/errors"
)

// EnvelopeType 标识信封格式，与 OpenAttestation 加密格式兼容。
const EnvelopeType = "OPEN-ATTESTATION-TYPE-1"

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

const (
	CodeDecryptFailure xerrors.Code = "DECRYPTION_FAILED"
	CodeInvalidKey     xerrors.Code = "INVALID_ENCRYPTION_KEY"
)

func init() {
	xerrors.Register(CodeDecryptFailure, xerrors.Attributes{Message: "envelope could not be decrypted", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeInvalidKey, xerrors.Attributes{Message: "encryption key must be 32 bytes of hex", Severity: xerrors.SeverityInfo})
}

// Envelope 为加密后的文档。字段均为 base64，Key 仅在由 Encrypt 生成密钥时回填。
type Envelope struct {
	CipherText string `json:"cipherText"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
	Key        string `json:"key,omitempty"`
	Type       string `json:"type"`
}

// GenerateKey 生成 32 字节随机密钥，返回十六进制字符串。
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", xerrors.Wrap(xerrors.CodeInitializationFailure, err, "generate encryption key")
	}
	return hex.EncodeToString(key), nil
}

func parseKey(key string) ([]byte, error) {
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != keySize {
		return nil, xerrors.New(CodeInvalidKey, "")
	}
	return raw, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptBytes 以 AES-256-GCM 加密任意明文。key 为空时生成新密钥并写入信封。
func EncryptBytes(plain []byte, key string) (*Envelope, error) {
	env := &Envelope{Type: EnvelopeType}
	if key == "" {
		generated, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		key = generated
		env.Key = generated
	}
	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(raw)
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidKey, err, "")
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "generate iv")
	}
	sealed := aead.Seal(nil, nonce, plain, nil)
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	env.CipherText = base64.StdEncoding.EncodeToString(body)
	env.IV = base64.StdEncoding.EncodeToString(nonce)
	env.Tag = base64.StdEncoding.EncodeToString(tag)
	return env, nil
}

// DecryptBytes 解密信封。key 为空时使用信封自带的密钥。
func DecryptBytes(env *Envelope, key string) ([]byte, error) {
	if env == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "nil envelope")
	}
	if env.Type != EnvelopeType {
		return nil, xerrors.Newf(CodeDecryptFailure, "unsupported envelope type %q", env.Type)
	}
	if key == "" {
		key = env.Key
	}
	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	body, err1 := base64.StdEncoding.DecodeString(env.CipherText)
	nonce, err2 := base64.StdEncoding.DecodeString(env.IV)
	tag, err3 := base64.StdEncoding.DecodeString(env.Tag)
	if err1 != nil || err2 != nil || err3 != nil || len(nonce) != nonceSize || len(tag) != tagSize {
		return nil, xerrors.New(CodeDecryptFailure, "envelope fields are not valid base64")
	}
	aead, err := newAEAD(raw)
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidKey, err, "")
	}
	plain, err := aead.Open(nil, nonce, append(body, tag...), nil)
	if err != nil {
		return nil, xerrors.Wrap(CodeDecryptFailure, err, "")
	}
	return plain, nil
}

// ParseEnvelope 解析 JSON 形式的信封。
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, xerrors.Wrap(CodeDecryptFailure, err, "decode envelope")
	}
	return &env, nil
}

