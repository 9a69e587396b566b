package transport

import (
	"errors"
	"strings"
	"testing"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/pkg/logger"
)

func wrapped(t *testing.T) *document.Document {
	t.Helper()
	raw, err := document.NewRaw(document.V2, map[string]any{"name": "Alice", "course": map[string]any{"id": 42.0}})
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	doc, err := document.Wrap(raw)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	return doc
}

func TestEncryptDecryptWithGeneratedKey(t *testing.T) {
	t.Parallel()
	codec := NewCodec(logger.Discard())
	doc := wrapped(t)

	env, err := codec.Encrypt(doc, "")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if env.Type != EnvelopeType || len(env.Key) != 64 {
		t.Fatalf("信封缺少类型或密钥: %+v", env)
	}
	out, err := codec.Decrypt(env, "")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	want, _ := doc.MerkleRoot()
	got, _ := out.MerkleRoot()
	if got != want || out.Stage() != document.StageWrapped {
		t.Fatalf("解密后文档不一致")
	}
	if err := document.CheckIntegrity(out); err != nil {
		t.Fatalf("integrity: %v", err)
	}
}

func TestDecryptRejectsWrongKeyAndTampering(t *testing.T) {
	t.Parallel()
	codec := NewCodec(logger.Discard())
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	env, err := codec.Encrypt(wrapped(t), key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if env.Key != "" {
		t.Fatalf("调用方提供密钥时不应写入信封")
	}

	other, _ := GenerateKey()
	if _, err := codec.Decrypt(env, other); !xerrors.HasCode(err, CodeDecryptFailure) {
		t.Fatalf("错误密钥应解密失败, got %v", err)
	}

	forged := *env
	forged.Tag = strings.Repeat("A", len(env.Tag)-2) + "=="
	if _, err := codec.Decrypt(&forged, key); !xerrors.HasCode(err, CodeDecryptFailure) {
		t.Fatalf("篡改的 tag 应解密失败, got %v", err)
	}

	if _, err := codec.Encrypt(wrapped(t), "abcd"); !errors.Is(err, xerrors.New(CodeInvalidKey, "")) {
		t.Fatalf("短密钥应被拒绝, got %v", err)
	}
}

func TestEnvelopeJSON(t *testing.T) {
	t.Parallel()
	env, err := EncryptBytes([]byte(`{"a":1}`), "")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw := `{"cipherText":"` + env.CipherText + `","iv":"` + env.IV + `","tag":"` + env.Tag + `","type":"` + env.Type + `"}`
	parsed, err := ParseEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	plain, err := DecryptBytes(parsed, env.Key)
	if err != nil || string(plain) != `{"a":1}` {
		t.Fatalf("decrypt: %q %v", plain, err)
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()
	codec := NewCodec(logger.Discard())
	doc := wrapped(t)
	text, err := codec.Encode(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := codec.Decode(text)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Signature().MerkleRoot != doc.Signature().MerkleRoot {
		t.Fatalf("编码往返后根哈希变化")
	}
	if _, err := codec.Decode("%%%"); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("非法 base64 应返回 INVALID_ARGUMENT, got %v", err)
	}
}
