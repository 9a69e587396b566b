package task

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/identity"
	"OpenAttest-Core/internal/issuance"
	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/internal/storage"
	"OpenAttest-Core/internal/verify"
	"OpenAttest-Core/internal/web3/memory"
	"OpenAttest-Core/pkg/logger"
)

const dnsLocation = "example.openattestation.com"

var storeAddress = common.HexToAddress("0x2f60375e8144e16Adf1979936301D8341D58C36C")

type executorFixture struct {
	sess     *keys.Session
	registry *memory.Registry
	resolver *identity.Static
	archive  *storage.FileArchive
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	sess, err := keys.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Cleanup(sess.Close)
	reg := memory.NewRegistry()
	reg.Deploy(storeAddress, sess.Address())
	res := identity.NewStatic()
	res.AddTXT(dnsLocation,
		"openatts net=ethereum netId=1 addr="+storeAddress.Hex(),
		"openatts a=dns-did; p="+sess.ControllerKey()+"; v=1.0;",
	)
	res.AddKey(identity.DIDKey{DID: sess.DID(), KeyID: sess.ControllerKey(), Address: sess.Address()})
	archive, err := storage.NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	return &executorFixture{sess: sess, registry: reg, resolver: res, archive: archive}
}

func (f *executorFixture) verifier(policy verify.ErrorPolicy) *verify.Verifier {
	return verify.New(f.registry, f.resolver,
		verify.WithLogger(logger.Discard()),
		verify.WithOCSP(nil),
		verify.WithErrorPolicy(policy),
	)
}

func (f *executorFixture) executor() *DocumentExecutor {
	return NewDocumentExecutor(f.verifier(verify.ErrorPolicyFail),
		WithIssuance(
			issuance.NewRegistryIssuer(f.registry, issuance.WithRegistryLogger(logger.Discard()), issuance.WithAuditLogger(logger.Discard())),
			issuance.NewKeySigner(issuance.WithSignerLogger(logger.Discard())),
			f.sess,
		),
		WithArchive(f.archive),
		WithExecutorLogger(logger.Discard()),
	)
}

func (f *executorFixture) wrapped(t *testing.T, method document.IssuanceMethod) json.RawMessage {
	t.Helper()
	p := issuance.IssuerParams{
		Version:     document.V2,
		Method:      method,
		Name:        "Demo Issuer",
		DNSLocation: dnsLocation,
	}
	if method == document.MethodDocumentStore {
		p.DocumentStore = storeAddress.Hex()
	} else {
		p.DID = f.sess.DID()
		p.Revocation = document.RevocationNone
	}
	raw, err := issuance.NewBuilder().Build(p, map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	doc, err := document.Wrap(raw)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	data, err := doc.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestExecutorIssueThenVerify(t *testing.T) {
	f := newExecutorFixture(t)
	exec := f.executor()
	ctx := context.Background()
	doc := f.wrapped(t, document.MethodDocumentStore)

	issued, err := exec.Execute(ctx, &Task{ID: "i1", Kind: KindIssue, Document: doc})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Summary != "issued" || issued.TxHash == "" || issued.MerkleRoot == "" {
		t.Fatalf("unexpected issue result %+v", issued)
	}
	if _, err := f.archive.Latest(ctx, issued.MerkleRoot); err != nil {
		t.Fatalf("签发后的文档应写入归档: %v", err)
	}

	again, err := exec.Execute(ctx, &Task{ID: "i2", Kind: KindIssue, Document: doc})
	if err != nil {
		t.Fatalf("重复签发应成功: %v", err)
	}
	if again.Summary != "already issued" || again.TxHash != "" {
		t.Fatalf("unexpected repeat result %+v", again)
	}

	verified, err := exec.Execute(ctx, &Task{ID: "v1", Kind: KindVerify, Document: doc})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verified.Valid || !strings.Contains(verified.Summary, "STATUS=VALID") {
		t.Fatalf("unexpected verify result %+v", verified)
	}
	var res verify.Result
	if err := json.Unmarshal(verified.Detail, &res); err != nil || len(res.Fragments) != 4 {
		t.Fatalf("detail should hold four fragments: %v %s", err, verified.Detail)
	}

	revoked, err := exec.Execute(ctx, &Task{ID: "r1", Kind: KindRevoke, Document: doc})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Summary != "revoked" {
		t.Fatalf("unexpected revoke result %+v", revoked)
	}
	after, err := exec.Execute(ctx, &Task{ID: "v2", Kind: KindVerify, Document: doc})
	if err != nil {
		t.Fatalf("verify revoked: %v", err)
	}
	if after.Valid {
		t.Fatalf("撤销后的文档不应通过校验")
	}
}

func TestExecutorSignsDIDDocuments(t *testing.T) {
	f := newExecutorFixture(t)
	res, err := f.executor().Execute(context.Background(), &Task{ID: "s1", Kind: KindIssue, Document: f.wrapped(t, document.MethodDID)})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if res.Summary != "signed" {
		t.Fatalf("unexpected result %+v", res)
	}
	signed, err := document.Decode(res.Detail)
	if err != nil {
		t.Fatalf("decode signed: %v", err)
	}
	if signed.Stage() != document.StageSigned || len(signed.Proofs()) != 1 {
		t.Fatalf("expected signed document with one proof")
	}
}

func TestExecutorRejectsInvalidInput(t *testing.T) {
	f := newExecutorFixture(t)
	exec := f.executor()
	ctx := context.Background()

	if _, err := exec.Execute(ctx, &Task{Kind: KindVerify, Document: json.RawMessage(`{"name":"Alice"}`)}); !xerrors.HasCode(err, CodeTaskValidation) {
		t.Fatalf("缺少 version 的文档应校验失败, got %v", err)
	}
	_, err := NewDocumentExecutor(f.verifier(verify.ErrorPolicyFail)).Execute(ctx, &Task{Kind: KindIssue, Document: f.wrapped(t, document.MethodDocumentStore)})
	if !xerrors.HasCode(err, xerrors.CodeInitializationFailure) || xerrors.RetryableError(err) {
		t.Fatalf("未配置签发时应返回不可重试错误, got %v", err)
	}
}

func TestIndeterminateRecoveryCollectsErrors(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	doc := f.wrapped(t, document.MethodDocumentStore)
	f.registry.FailWith(context.DeadlineExceeded)

	task := &Task{ID: "v1", Kind: KindVerify, Document: doc}
	_, err := f.executor().Execute(ctx, task)
	if !xerrors.HasCode(err, verify.CodeIndeterminate) || !xerrors.RetryableError(err) {
		t.Fatalf("登记簿不可用时应返回可重试的 indeterminate, got %v", err)
	}

	recovery := NewIndeterminateRecovery(f.verifier(verify.ErrorPolicyCollect))
	out, err := recovery.Recover(ctx, task, err)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if out == nil || out.Valid || !strings.HasPrefix(out.Summary, "indeterminate: ") || !strings.Contains(out.Summary, "STATUS=ERROR") {
		t.Fatalf("unexpected degraded result %+v", out)
	}

	other, err := recovery.Recover(ctx, &Task{Kind: KindIssue, Document: doc}, xerrors.New(verify.CodeIndeterminate, ""))
	if err != nil || other != nil {
		t.Fatalf("非校验任务不应降级: %+v %v", other, err)
	}
}
