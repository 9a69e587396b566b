package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"OpenAttest-Core/internal/bootstrap"
	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/issuance"
	"OpenAttest-Core/internal/transport"
)

const (
	outFlagName    = "out"
	outFlagUsage   = "输出文件，缺省写标准输出"
	schemaFlagName = "schema"
	schemaUsage    = "输入没有 version 字段时使用的模式版本：v2 或 v3"
)

func schemaVersion(cmd *cobra.Command) (document.Version, error) {
	raw, err := cmd.Flags().GetString(schemaFlagName)
	if err != nil {
		return "", err
	}
	v := document.Version(raw)
	if !v.Valid() {
		return "", xerrors.Newf(xerrors.CodeInvalidArgument, "unknown schema %q", raw)
	}
	return v, nil
}

func newBuildCmd() *cobra.Command {
	var out, did, templateURL string
	cmd := &cobra.Command{
		Use:   "build <content.json>",
		Short: "按配置中的签发者信息构造原始文档",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			version, err := schemaVersion(cmd)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var content map[string]any
			if err := json.Unmarshal(data, &content); err != nil {
				return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "内容必须是 JSON 对象")
			}
			params := issuance.IssuerParams{
				Version:            version,
				Method:             document.IssuanceMethod(cfg.Issuer.Method),
				Revocation:         document.RevocationType(cfg.Issuer.Revocation),
				Name:               cfg.Issuer.Name,
				DNSLocation:        cfg.Issuer.DNSLocation,
				DocumentStore:      cfg.Issuer.DocumentStore,
				RevocationLocation: cfg.Issuer.RevocationLocation,
				DID:                did,
			}
			if templateURL != "" {
				params.Template = &issuance.Template{Name: "default", Type: "EMBEDDED_RENDERER", URL: templateURL}
			}
			if params.Method == document.MethodDID && params.DID == "" {
				sess, err := bootstrap.UnlockSession(cfg.Issuer)
				if err != nil {
					return err
				}
				if sess == nil {
					return xerrors.New(xerrors.CodeInvalidArgument, "DID 签发需要 --did 或已配置的签发者密钥")
				}
				params.DID = sess.DID()
				sess.Close()
			}
			doc, err := issuance.NewBuilder().Build(params, content)
			if err != nil {
				return err
			}
			return writeDocument(cmd, out, doc)
		},
	}
	cmd.Flags().StringVarP(&out, outFlagName, "o", "", outFlagUsage)
	cmd.Flags().StringVar(&did, "did", "", "签发者 DID，缺省由配置的密钥推出")
	cmd.Flags().StringVar(&templateURL, "template-url", "", "渲染器地址")
	cmd.Flags().String(schemaFlagName, string(document.V2), schemaUsage)
	return cmd
}

func newWrapCmd() *cobra.Command {
	var out, outDir string
	cmd := &cobra.Command{
		Use:   "wrap <raw.json>...",
		Short: "包装一个或一批原始文档",
		Long:  "多个输入作为一批包装，共享同一个批次根；批量包装时必须指定 --out-dir。",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := schemaVersion(cmd)
			if err != nil {
				return err
			}
			if len(args) > 1 && outDir == "" {
				return xerrors.New(xerrors.CodeInvalidArgument, "批量包装需要 --out-dir")
			}
			docs := make([]*document.Document, 0, len(args))
			for _, path := range args {
				doc, err := readDocument(cmd, path, version)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			}
			wrapped, err := document.WrapBatch(docs)
			if err != nil {
				return err
			}
			if outDir == "" {
				return writeDocument(cmd, out, wrapped[0])
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建输出目录失败")
			}
			for i, doc := range wrapped {
				if err := writeDocument(cmd, filepath.Join(outDir, filepath.Base(args[i])), doc); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, outFlagName, "o", "", outFlagUsage)
	cmd.Flags().StringVar(&outDir, "out-dir", "", "批量输出目录，文件名与输入相同")
	cmd.Flags().String(schemaFlagName, string(document.V2), schemaUsage)
	return cmd
}

func newObfuscateCmd() *cobra.Command {
	var out string
	var fields []string
	cmd := &cobra.Command{
		Use:   "obfuscate <document.json>",
		Short: "遮蔽已包装文档中的字段，根哈希保持不变",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(fields) == 0 {
				return xerrors.New(xerrors.CodeInvalidArgument, "至少指定一个 --field")
			}
			doc, err := readDocument(cmd, args[0], "")
			if err != nil {
				return err
			}
			redacted, err := document.Obfuscate(doc, fields...)
			if err != nil {
				return err
			}
			return writeDocument(cmd, out, redacted)
		},
	}
	cmd.Flags().StringVarP(&out, outFlagName, "o", "", outFlagUsage)
	cmd.Flags().StringSliceVarP(&fields, "field", "f", nil, "要遮蔽的字段路径，例如 recipient.email 或 transcript[0]")
	return cmd
}

func newEncryptCmd() *cobra.Command {
	var out, key string
	cmd := &cobra.Command{
		Use:   "encrypt <document.json>",
		Short: "以 AES-256-GCM 加密文档，未指定密钥时生成新密钥并写入信封",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args[0], "")
			if err != nil {
				return err
			}
			env, err := transport.NewCodec(nil).Encrypt(doc, key)
			if err != nil {
				return err
			}
			return writeJSON(cmd, out, env)
		},
	}
	cmd.Flags().StringVarP(&out, outFlagName, "o", "", outFlagUsage)
	cmd.Flags().StringVarP(&key, "key", "k", "", "十六进制的 32 字节密钥")
	return cmd
}

func newDecryptCmd() *cobra.Command {
	var out, key string
	cmd := &cobra.Command{
		Use:   "decrypt <envelope.json>",
		Short: "解密信封，未指定密钥时使用信封中携带的密钥",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			env, err := transport.ParseEnvelope(data)
			if err != nil {
				return err
			}
			doc, err := transport.NewCodec(nil).Decrypt(env, key)
			if err != nil {
				return err
			}
			return writeDocument(cmd, out, doc)
		},
	}
	cmd.Flags().StringVarP(&out, outFlagName, "o", "", outFlagUsage)
	cmd.Flags().StringVarP(&key, "key", "k", "", "十六进制的 32 字节密钥")
	return cmd
}

func newEncodeCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "encode <document.json>",
		Short: "把文档编码为 base64 文本",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args[0], "")
			if err != nil {
				return err
			}
			text, err := transport.NewCodec(nil).Encode(doc)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, []byte(text))
		},
	}
	cmd.Flags().StringVarP(&out, outFlagName, "o", "", outFlagUsage)
	return cmd
}

func newDecodeCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "decode <encoded.txt>",
		Short: "还原 encode 的输出",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			doc, err := transport.NewCodec(nil).Decode(string(bytes.TrimSpace(data)))
			if err != nil {
				return err
			}
			return writeDocument(cmd, out, doc)
		},
	}
	cmd.Flags().StringVarP(&out, outFlagName, "o", "", outFlagUsage)
	return cmd
}

