package transport

import (
	"encoding/base64"
	"log/slog"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/pkg/logger"
)

// Codec 在文档与传输格式之间转换。
type Codec struct {
	logger *slog.Logger
}

// NewCodec 创建编解码器，l 为 nil 时使用默认日志。
func NewCodec(l *slog.Logger) *Codec {
	return &Codec{logger: logger.OrDefault(l, "transport")}
}

// Encrypt 加密文档。key 为空时生成随机密钥，密钥随信封返回。
func (c *Codec) Encrypt(doc *document.Document, key string) (*Envelope, error) {
	if doc == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "nil document")
	}
	plain, err := doc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	env, err := EncryptBytes(plain, key)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("document encrypted", "stage", doc.Stage().String(), "generated_key", env.Key != "")
	return env, nil
}

// Decrypt 解密信封并还原文档。
func (c *Codec) Decrypt(env *Envelope, key string) (*document.Document, error) {
	plain, err := DecryptBytes(env, key)
	if err != nil {
		c.logger.Warn("envelope decryption failed", "error", err)
		return nil, err
	}
	return document.Decode(plain)
}

// Encode 把文档编码为 base64 文本，便于在二维码或 URL 中传递。
func (c *Codec) Encode(doc *document.Document) (string, error) {
	if doc == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "nil document")
	}
	raw, err := doc.MarshalJSON()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode 解析 Encode 的输出。
func (c *Codec) Decode(text string) (*document.Document, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "document is not valid base64")
	}
	return document.Decode(raw)
}
