package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"OpenAttest-Core/internal/bootstrap"
	"OpenAttest-Core/internal/config"
	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/issuance"
	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/internal/verify"
	"OpenAttest-Core/pkg/logger"
)

// withBackends 加载配置、打开外部依赖后执行 fn，结束时释放。
func withBackends(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, b *bootstrap.Backends) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, cfg, b)
}

func requireSession(b *bootstrap.Backends) (*keys.Session, error) {
	if b.Session == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置签发者密钥", xerrors.WithRetryable(false))
	}
	return b.Session, nil
}

func newSignCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "sign <wrapped.json>",
		Short: "以签发者密钥对 DID 签发的文档签名",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args[0], "")
			if err != nil {
				return err
			}
			return withBackends(cmd, func(ctx context.Context, _ *config.Config, b *bootstrap.Backends) error {
				sess, err := requireSession(b)
				if err != nil {
					return err
				}
				signed, err := issuance.NewKeySigner(issuance.WithKeyResolver(b.Resolver)).Sign(ctx, sess, doc)
				if err != nil {
					return err
				}
				return writeDocument(cmd, out, signed)
			})
		},
	}
	cmd.Flags().StringVarP(&out, outFlagName, "o", "", outFlagUsage)
	return cmd
}

func newIssueCmd() *cobra.Command {
	return newRegistryCmd("issue", "在文档声明的文档存储上签发根哈希",
		func(ctx context.Context, r *issuance.RegistryIssuer, sess *keys.Session, docs []*document.Document) ([]issuance.StoreReceipt, error) {
			if len(docs) == 1 {
				return r.Issue(ctx, sess, docs[0])
			}
			return r.IssueBatch(ctx, sess, docs)
		})
}

func newRevokeCmd() *cobra.Command {
	return newRegistryCmd("revoke", "在文档声明的文档存储上撤销根哈希",
		func(ctx context.Context, r *issuance.RegistryIssuer, sess *keys.Session, docs []*document.Document) ([]issuance.StoreReceipt, error) {
			if len(docs) == 1 {
				return r.Revoke(ctx, sess, docs[0])
			}
			return r.RevokeBatch(ctx, sess, docs)
		})
}

type registryOp func(ctx context.Context, r *issuance.RegistryIssuer, sess *keys.Session, docs []*document.Document) ([]issuance.StoreReceipt, error)

func newRegistryCmd(use, short string, op registryOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <wrapped.json>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs := make([]*document.Document, 0, len(args))
			for _, path := range args {
				doc, err := readDocument(cmd, path, "")
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			}
			return withBackends(cmd, func(ctx context.Context, _ *config.Config, b *bootstrap.Backends) error {
				sess, err := requireSession(b)
				if err != nil {
					return err
				}
				issuer := issuance.NewRegistryIssuer(b.Registry, issuance.WithAuditLogger(logger.Audit()))
				receipts, err := op(ctx, issuer, sess, docs)
				if err != nil {
					return err
				}
				renderReceipts(cmd.OutOrStdout(), receipts)
				return nil
			})
		},
	}
}

func renderReceipts(w io.Writer, receipts []issuance.StoreReceipt) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Store", "Tx", "Block", "Gas"})
	for _, r := range receipts {
		if r.Noop {
			table.Append([]string{r.Store.Hex(), "(already in target state)", "-", "-"})
			continue
		}
		table.Append([]string{
			r.Store.Hex(),
			r.Receipt.TxHash.Hex(),
			fmt.Sprint(r.Receipt.BlockNumber),
			fmt.Sprint(r.Receipt.GasUsed),
		})
	}
	table.Render()
}

func newVerifyCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "verify <document.json>",
		Short: "执行完整校验并输出各类检查的片段",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args[0], "")
			if err != nil {
				return err
			}
			return withBackends(cmd, func(ctx context.Context, cfg *config.Config, b *bootstrap.Backends) error {
				// ERROR 片段照常输出，由 valid 决定退出码。
				v, err := bootstrap.NewVerifier(cfg.Verification, b, nil, verify.WithErrorPolicy(verify.ErrorPolicyCollect))
				if err != nil {
					return err
				}
				res, err := v.Verify(ctx, doc)
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(cmd, "", res); err != nil {
						return err
					}
				} else {
					renderFragments(cmd.OutOrStdout(), res)
				}
				if !res.Valid {
					return xerrors.New(xerrors.CodeInvalidArgument, "document is not valid")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出结果")
	return cmd
}

func renderFragments(w io.Writer, res *verify.Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Category", "Check", "Status", "Detail"})
	for _, f := range res.Fragments {
		detail := f.Detail
		if f.Reason != nil {
			detail = fmt.Sprintf("%s (%s)", f.Reason.Message, f.Reason.Code)
		}
		table.Append([]string{string(f.Category), f.Name, statusCell(f.Status), detail})
	}
	verdict := color.RedString("false")
	if res.Valid {
		verdict = color.GreenString("true")
	}
	table.SetFooter([]string{"", "", "valid", verdict})
	table.Render()
}

// statusCell 为终端输出着色，非终端时 color 自动退化为纯文本。
func statusCell(s verify.Status) string {
	switch s {
	case verify.StatusValid:
		return color.GreenString(string(s))
	case verify.StatusInvalid:
		return color.RedString(string(s))
	case verify.StatusError:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}
