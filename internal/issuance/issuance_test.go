package issuance

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/internal/proofs"
	"OpenAttest-Core/internal/web3"
	"OpenAttest-Core/internal/web3/memory"
	"OpenAttest-Core/pkg/logger"
)

var storeAddress = common.HexToAddress("0x2f60375e8144e16Adf1979936301D8341D58C36C")

func newSession(t *testing.T) *keys.Session {
	t.Helper()
	sess, err := keys.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Cleanup(sess.Close)
	return sess
}

func storeParams(version document.Version) IssuerParams {
	return IssuerParams{
		Version:       version,
		Method:        document.MethodDocumentStore,
		Name:          "Demo Issuer",
		DNSLocation:   "example.openattestation.com",
		DocumentStore: storeAddress.Hex(),
	}
}

func didParams(version document.Version, did string, rev document.RevocationType) IssuerParams {
	p := IssuerParams{
		Version:     version,
		Method:      document.MethodDID,
		Revocation:  rev,
		Name:        "Demo Issuer",
		DNSLocation: "example.openattestation.com",
		DID:         did,
	}
	switch rev {
	case document.RevocationStore:
		p.RevocationLocation = storeAddress.Hex()
	case document.RevocationOCSPResponder:
		p.RevocationLocation = "https://ocsp.example.com"
	}
	return p
}

func wrapped(t *testing.T, p IssuerParams, content map[string]any) *document.Document {
	t.Helper()
	raw, err := NewBuilder().Build(p, content)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	doc, err := document.Wrap(raw)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	return doc
}

func TestBuilderProducesValidDocuments(t *testing.T) {
	sess := newSession(t)
	cases := []IssuerParams{storeParams(document.V2), storeParams(document.V3)}
	for _, v := range []document.Version{document.V2, document.V3} {
		for _, rev := range []document.RevocationType{document.RevocationNone, document.RevocationStore, document.RevocationOCSPResponder} {
			cases = append(cases, didParams(v, sess.DID(), rev))
		}
	}
	for _, p := range cases {
		raw, err := NewBuilder().Build(p, map[string]any{"recipient": map[string]any{"name": "Alice"}})
		if err != nil {
			t.Fatalf("%s %s/%s: %v", p.Version, p.Method, p.Revocation, err)
		}
		if err := document.Validate(raw); err != nil {
			t.Fatalf("%s %s/%s 构造结果未通过校验: %v", p.Version, p.Method, p.Revocation, err)
		}
		issuers, err := raw.Issuers()
		if err != nil || len(issuers) != 1 {
			t.Fatalf("issuers: %v %v", issuers, err)
		}
		if issuers[0].Method != p.Method {
			t.Fatalf("method mismatch: %s", issuers[0].Method)
		}
		if p.Method == document.MethodDID && issuers[0].Revocation.Type != p.Revocation {
			t.Fatalf("revocation mismatch: %s", issuers[0].Revocation.Type)
		}
	}
}

func TestBuilderRejectsUnsupportedStrategy(t *testing.T) {
	p := didParams(document.V2, "did:ethr:0xE712878f6E8d5d4F9e87E10DA604F9cB564C9a89", "")
	if _, err := NewBuilder().Build(p, map[string]any{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("期望 INVALID_ARGUMENT, got %v", err)
	}
	if _, err := NewBuilder().Build(storeParams(document.V2), map[string]any{"issuers": []any{}}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("内容不得覆盖 issuers, got %v", err)
	}
}

func TestBuilderTemplateURL(t *testing.T) {
	p := storeParams(document.V3)
	p.Template = &Template{Name: "CERT", URL: "https://tutorial-renderer.openattestation.com"}
	raw, err := NewBuilder().Build(p, map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if raw.TemplateURL() != p.Template.URL {
		t.Fatalf("模板地址未写入: %q", raw.TemplateURL())
	}
}

func TestKeySignerSignsMerkleRoot(t *testing.T) {
	sess := newSession(t)
	doc := wrapped(t, didParams(document.V2, sess.DID(), document.RevocationNone), map[string]any{"name": "Alice"})

	signed, err := NewKeySigner(WithSignerLogger(logger.Discard())).Sign(context.Background(), sess, doc)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signed.Stage() != document.StageSigned {
		t.Fatalf("期望 signed 阶段, got %s", signed.Stage())
	}
	if doc.Stage() != document.StageWrapped {
		t.Fatalf("输入文档不应被修改")
	}
	proof := signed.Proofs()[0]
	if proof.VerificationMethod != sess.ControllerKey() {
		t.Fatalf("unexpected verification method %s", proof.VerificationMethod)
	}

	sig, err := hexutil.Decode(proof.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	sig[crypto.RecoveryIDOffset] -= 27
	root, _ := signed.MerkleRoot()
	pub, err := crypto.SigToPub(accounts.TextHash(root.Bytes()), sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != sess.Address() {
		t.Fatalf("恢复出的地址与会话不一致")
	}
	if err := document.Validate(signed); err != nil {
		t.Fatalf("validate signed: %v", err)
	}
}

func TestKeySignerRejections(t *testing.T) {
	sess := newSession(t)
	other := newSession(t)
	doc := wrapped(t, didParams(document.V2, sess.DID(), document.RevocationNone), map[string]any{"name": "Alice"})
	signer := NewKeySigner(WithSignerLogger(logger.Discard()))

	if _, err := signer.Sign(context.Background(), other, doc); !errors.Is(err, ErrSigning) {
		t.Fatalf("不匹配的密钥应返回 SIGNING_ERROR, got %v", err)
	}

	raw, _ := NewBuilder().Build(didParams(document.V2, sess.DID(), document.RevocationNone), map[string]any{"name": "Alice"})
	if _, err := signer.Sign(context.Background(), sess, raw); !errors.Is(err, ErrSigning) {
		t.Fatalf("原始文档不能签名, got %v", err)
	}

	closed := newSession(t)
	closed.Close()
	if _, err := signer.Sign(context.Background(), closed, doc); !errors.Is(err, ErrSigning) {
		t.Fatalf("已关闭会话应返回 SIGNING_ERROR, got %v", err)
	}
}

func newIssuer(t *testing.T) (*RegistryIssuer, *memory.Registry, *keys.Session) {
	t.Helper()
	sess := newSession(t)
	reg := memory.NewRegistry()
	reg.Deploy(storeAddress, sess.Address())
	issuer := NewRegistryIssuer(reg, WithRegistryLogger(logger.Discard()), WithAuditLogger(logger.Discard()))
	return issuer, reg, sess
}

func TestIssueTwiceIsNoop(t *testing.T) {
	issuer, reg, sess := newIssuer(t)
	doc := wrapped(t, storeParams(document.V2), map[string]any{"name": "Alice"})
	ctx := context.Background()

	first, err := issuer.Issue(ctx, sess, doc)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(first) != 1 || first[0].Noop || first[0].Store != storeAddress {
		t.Fatalf("unexpected receipts %+v", first)
	}
	second, err := issuer.Issue(ctx, sess, doc)
	if err != nil {
		t.Fatalf("重复签发应视为成功: %v", err)
	}
	if !second[0].Noop {
		t.Fatalf("重复签发应为 no-op")
	}
	root, _ := doc.MerkleRoot()
	issued, err := reg.IsIssued(ctx, storeAddress, root)
	if err != nil || !issued {
		t.Fatalf("isIssued = %v, %v", issued, err)
	}
}

func TestRevokeLifecycle(t *testing.T) {
	issuer, reg, sess := newIssuer(t)
	doc := wrapped(t, storeParams(document.V3), map[string]any{"name": "Alice"})
	ctx := context.Background()

	if _, err := issuer.Revoke(ctx, sess, doc); !errors.Is(err, web3.ErrNotIssued) {
		t.Fatalf("未签发的根撤销应返回 NOT_ISSUED, got %v", err)
	}
	if _, err := issuer.Issue(ctx, sess, doc); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Revoke(ctx, sess, doc); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	again, err := issuer.Revoke(ctx, sess, doc)
	if err != nil || !again[0].Noop {
		t.Fatalf("重复撤销应为 no-op: %+v %v", again, err)
	}
	root, _ := doc.MerkleRoot()
	if revoked, _ := reg.IsRevoked(ctx, storeAddress, root); !revoked {
		t.Fatalf("根应已撤销")
	}
}

func TestRevokeViaRevocationStore(t *testing.T) {
	issuer, reg, sess := newIssuer(t)
	doc := wrapped(t, didParams(document.V2, sess.DID(), document.RevocationStore), map[string]any{"name": "Alice"})
	ctx := context.Background()
	root, _ := doc.MerkleRoot()

	if _, err := issuer.Issue(ctx, sess, doc); xerrors.CodeOf(err) != document.CodeInvalidDocument {
		t.Fatalf("DID 文档不能上链签发, got %v", err)
	}
	if _, err := reg.Issue(ctx, sess, storeAddress, root); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := issuer.Revoke(ctx, sess, doc); err != nil {
		t.Fatalf("revoke via revocation store: %v", err)
	}
}

func TestIssueBatchChecksVersionsFirst(t *testing.T) {
	issuer, reg, sess := newIssuer(t)
	v2 := wrapped(t, storeParams(document.V2), map[string]any{"name": "Alice"})
	v3 := wrapped(t, storeParams(document.V3), map[string]any{"name": "Bob"})

	_, err := issuer.IssueBatch(context.Background(), sess, []*document.Document{v2, v3})
	if !errors.Is(err, document.ErrSchemaVersionConflict) {
		t.Fatalf("期望 SCHEMA_VERSION_CONFLICT, got %v", err)
	}
	root, _ := v2.MerkleRoot()
	if issued, _ := reg.IsIssued(context.Background(), storeAddress, root); issued {
		t.Fatalf("版本冲突时不应签发任何文档")
	}
}

func TestIssueBatchIsolatesInvalidDocuments(t *testing.T) {
	issuer, reg, sess := newIssuer(t)
	good := []*document.Document{
		wrapped(t, storeParams(document.V2), map[string]any{"name": "Alice"}),
		wrapped(t, storeParams(document.V2), map[string]any{"name": "Bob"}),
	}
	bad := wrapped(t, didParams(document.V2, sess.DID(), document.RevocationNone), map[string]any{"name": "Carol"})
	batch := []*document.Document{good[0], bad, good[1]}

	receipts, err := issuer.IssueBatch(context.Background(), sess, batch)
	var item *document.ItemError
	if !errors.As(err, &item) || item.Index != 1 {
		t.Fatalf("期望第 1 项失败, got %v", err)
	}
	if len(receipts) != 1 || receipts[0].Noop {
		t.Fatalf("期望一笔 bulkIssue 回执, got %+v", receipts)
	}
	for _, doc := range good {
		root, _ := doc.MerkleRoot()
		if issued, _ := reg.IsIssued(context.Background(), storeAddress, root); !issued {
			t.Fatalf("合法文档应已签发")
		}
	}

	if _, err := issuer.RevokeBatch(context.Background(), sess, good); err != nil {
		t.Fatalf("revoke batch: %v", err)
	}
}

// strictRegistry 与合约一致：批内出现重复根时整笔交易回滚。
type strictRegistry struct {
	*memory.Registry
	calls [][]proofs.Hash
}

func (r *strictRegistry) check(roots []proofs.Hash) error {
	r.calls = append(r.calls, roots)
	seen := make(map[proofs.Hash]bool, len(roots))
	for _, root := range roots {
		if seen[root] {
			return xerrors.New(web3.CodeRegistryReverted, "duplicate root "+proofs.EncodeHash(root))
		}
		seen[root] = true
	}
	return nil
}

func (r *strictRegistry) BulkIssue(ctx context.Context, sess *keys.Session, store common.Address, roots []proofs.Hash) (web3.Receipt, error) {
	if err := r.check(roots); err != nil {
		return web3.Receipt{}, err
	}
	return r.Registry.BulkIssue(ctx, sess, store, roots)
}

func (r *strictRegistry) BulkRevoke(ctx context.Context, sess *keys.Session, store common.Address, roots []proofs.Hash) (web3.Receipt, error) {
	if err := r.check(roots); err != nil {
		return web3.Receipt{}, err
	}
	return r.Registry.BulkRevoke(ctx, sess, store, roots)
}

func TestBatchSendsEachRootOnce(t *testing.T) {
	sess := newSession(t)
	reg := &strictRegistry{Registry: memory.NewRegistry()}
	reg.Deploy(storeAddress, sess.Address())
	issuer := NewRegistryIssuer(reg, WithRegistryLogger(logger.Discard()), WithAuditLogger(logger.Discard()))
	ctx := context.Background()

	alice := wrapped(t, storeParams(document.V2), map[string]any{"name": "Alice"})
	bob := wrapped(t, storeParams(document.V2), map[string]any{"name": "Bob"})
	batch := []*document.Document{alice, bob, alice}

	receipts, err := issuer.IssueBatch(ctx, sess, batch)
	if err != nil {
		t.Fatalf("重复文档不应导致整组失败: %v", err)
	}
	if len(receipts) != 1 || receipts[0].Noop {
		t.Fatalf("期望一笔 bulkIssue 回执, got %+v", receipts)
	}
	if got := reg.calls[0]; len(got) != 2 {
		t.Fatalf("bulkIssue 应只携带两个不同的根, got %d", len(got))
	}
	for _, doc := range []*document.Document{alice, bob} {
		root, _ := doc.MerkleRoot()
		if issued, _ := reg.IsIssued(ctx, storeAddress, root); !issued {
			t.Fatalf("文档应已签发")
		}
	}

	if _, err := issuer.RevokeBatch(ctx, sess, batch); err != nil {
		t.Fatalf("revoke batch: %v", err)
	}
	if got := reg.calls[len(reg.calls)-1]; len(got) != 2 {
		t.Fatalf("bulkRevoke 应只携带两个不同的根, got %d", len(got))
	}
}
