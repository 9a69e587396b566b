package verify

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/identity"
	"OpenAttest-Core/internal/proofs"
	"OpenAttest-Core/internal/web3"
)

// 片段名称沿用 OpenAttestation 验证器的命名。
const (
	nameSchema        = "OpenAttestationSchema"
	nameHash          = "OpenAttestationHash"
	nameStoreStatus   = "OpenAttestationEthereumDocumentStoreStatus"
	nameDIDStatus     = "OpenAttestationDidSignedDocumentStatus"
	nameDNSTXTProof   = "OpenAttestationDnsTxtIdentityProof"
	nameDNSDIDProof   = "OpenAttestationDnsDidIdentityProof"
	nameNoApplicable  = "OpenAttestationNotApplicable"
	detailUnreadable  = "issuer metadata unreadable"
	detailNotWrapped  = "document is not wrapped"
	detailNoSignature = "document carries no signature for key %s"
)

func (v *Verifier) checkStructure(_ context.Context, doc *document.Document) Fragment {
	f := Fragment{Category: CategoryStructure, Name: nameSchema}
	if doc.Stage() == document.StageRaw {
		f.Status = StatusInvalid
		f.Reason = &Reason{Code: document.CodeInvalidDocument, Message: detailNotWrapped}
		return f
	}
	if err := document.Validate(doc); err != nil {
		f.Status = StatusInvalid
		f.Reason = reasonOf(err)
		return f
	}
	f.Status = StatusValid
	f.Detail = string(doc.Version()) + " " + doc.Stage().String()
	return f
}

func (v *Verifier) checkIntegrity(_ context.Context, doc *document.Document) Fragment {
	f := Fragment{Category: CategoryIntegrity, Name: nameHash}
	if doc.Stage() == document.StageRaw {
		f.Status = StatusSkipped
		f.Detail = detailNotWrapped
		return f
	}
	if err := document.CheckIntegrity(doc); err != nil {
		f.Status = StatusInvalid
		f.Reason = reasonOf(err)
		return f
	}
	f.Status = StatusValid
	if doc.IsObfuscated() {
		f.Detail = "root reproduced with obfuscated fields"
	}
	return f
}

// target 是网络检查共用的前置信息。
type target struct {
	root    proofs.Hash
	issuers []document.IssuerProfile
}

func prepare(doc *document.Document) (target, bool) {
	if doc.Stage() == document.StageRaw {
		return target{}, false
	}
	root, err := doc.MerkleRoot()
	if err != nil {
		return target{}, false
	}
	issuers, err := doc.Issuers()
	if err != nil || len(issuers) == 0 {
		return target{}, false
	}
	return target{root: root, issuers: issuers}, true
}

func (v *Verifier) checkStatus(ctx context.Context, doc *document.Document) Fragment {
	t, ok := prepare(doc)
	if !ok {
		return merge(CategoryStatus, nameNoApplicable, []outcome{skipped(detailUnreadable)})
	}
	name := nameNoApplicable
	outcomes := make([]outcome, 0, len(t.issuers))
	for _, iss := range t.issuers {
		switch iss.Method {
		case document.MethodDocumentStore:
			name = nameStoreStatus
			outcomes = append(outcomes, v.storeStatus(ctx, iss, t.root))
		case document.MethodDID:
			if name == nameNoApplicable {
				name = nameDIDStatus
			}
			outcomes = append(outcomes, v.didStatus(ctx, doc, iss, t.root))
		default:
			outcomes = append(outcomes, skipped("issuer "+iss.Name+" declares no issuance method"))
		}
	}
	return merge(CategoryStatus, name, outcomes)
}

func (v *Verifier) storeStatus(ctx context.Context, iss document.IssuerProfile, root proofs.Hash) outcome {
	if !common.IsHexAddress(iss.DocumentStore) {
		return invalid(document.CodeInvalidDocument, "document store %q is not an address", iss.DocumentStore)
	}
	if v.registry == nil {
		return failed(xerrors.New(web3.CodeRegistryUnavailable, "no registry configured"))
	}
	store := common.HexToAddress(iss.DocumentStore)
	issued, err := v.registry.IsIssued(ctx, store, root)
	if err != nil {
		return failed(err)
	}
	if !issued {
		return invalid(web3.CodeNotIssued, "root not issued on %s", store.Hex())
	}
	revoked, err := v.registry.IsRevoked(ctx, store, root)
	if err != nil {
		return failed(err)
	}
	if revoked {
		return invalid(CodeRevoked, "root revoked on %s", store.Hex())
	}
	return valid("issued on " + store.Hex())
}

func (v *Verifier) didStatus(ctx context.Context, doc *document.Document, iss document.IssuerProfile, root proofs.Hash) outcome {
	keyID := iss.IdentityProof.Key
	if o, ok := v.verifySigner(ctx, doc, keyID); !ok {
		return o
	}
	switch iss.Revocation.Type {
	case document.RevocationStore:
		if v.registry == nil {
			return failed(xerrors.New(web3.CodeRegistryUnavailable, "no registry configured"))
		}
		if !common.IsHexAddress(iss.Revocation.Location) {
			return invalid(document.CodeInvalidDocument, "revocation store %q is not an address", iss.Revocation.Location)
		}
		store := common.HexToAddress(iss.Revocation.Location)
		revoked, err := v.registry.IsRevoked(ctx, store, root)
		if err != nil {
			return failed(err)
		}
		if revoked {
			return invalid(CodeRevoked, "root revoked on %s", store.Hex())
		}
	case document.RevocationOCSPResponder:
		if v.ocsp == nil {
			return failed(xerrors.New(CodeOCSPUnavailable, "no ocsp client configured"))
		}
		status, err := v.ocsp.Check(ctx, iss.Revocation.Location, root)
		if err != nil {
			return failed(err)
		}
		if status.Revoked {
			return invalid(CodeRevoked, "ocsp responder reports revoked (reason %s)", status.Reason)
		}
	}
	return valid("signed by " + keyID)
}

// verifySigner 确认签名由 DID 解析出的地址产生。ok 为 false 时返回的 outcome 即结论。
func (v *Verifier) verifySigner(ctx context.Context, doc *document.Document, keyID string) (outcome, bool) {
	signer, found, err := signerOf(doc, keyID)
	if !found {
		return invalid(CodeSignatureMismatch, detailNoSignature, keyID), false
	}
	if err != nil {
		return invalid(CodeSignatureMismatch, "signature for %s is malformed: %v", keyID, err), false
	}
	if v.resolver == nil {
		return failed(xerrors.New(identity.CodeResolverError, "no identity resolver configured")), false
	}
	key, err := v.resolver.ResolveDIDKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return invalid(CodeSignatureMismatch, "key %s cannot be resolved", keyID), false
		}
		return failed(err), false
	}
	if key.Address != signer {
		return invalid(CodeSignatureMismatch, "signature by %s does not match key %s", signer.Hex(), keyID), false
	}
	return outcome{}, true
}

func (v *Verifier) checkIdentity(ctx context.Context, doc *document.Document) Fragment {
	t, ok := prepare(doc)
	if !ok {
		return merge(CategoryIdentity, nameNoApplicable, []outcome{skipped(detailUnreadable)})
	}
	name := nameNoApplicable
	outcomes := make([]outcome, 0, len(t.issuers))
	for _, iss := range t.issuers {
		switch iss.IdentityProof.Type {
		case document.IdentityDNSTXT:
			name = nameDNSTXTProof
			outcomes = append(outcomes, v.dnsTXTIdentity(ctx, iss))
		case document.IdentityDNSDID:
			if name == nameNoApplicable {
				name = nameDNSDIDProof
			}
			outcomes = append(outcomes, v.dnsDIDIdentity(ctx, doc, iss))
		default:
			outcomes = append(outcomes, skipped("issuer "+iss.Name+" declares no identity proof"))
		}
	}
	return merge(CategoryIdentity, name, outcomes)
}

func (v *Verifier) lookupTXT(ctx context.Context, location string) ([]string, outcome, bool) {
	if v.resolver == nil {
		return nil, failed(xerrors.New(identity.CodeResolverError, "no identity resolver configured")), false
	}
	records, err := v.resolver.ResolveDNSTXT(ctx, location)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, invalid(CodeIdentityMismatch, "no TXT records at %s", location), false
		}
		return nil, failed(err), false
	}
	return records, outcome{}, true
}

func (v *Verifier) dnsTXTIdentity(ctx context.Context, iss document.IssuerProfile) outcome {
	if iss.Method != document.MethodDocumentStore || !common.IsHexAddress(iss.DocumentStore) {
		return invalid(CodeIdentityMismatch, "DNS-TXT identity requires a document store")
	}
	store := common.HexToAddress(iss.DocumentStore)
	records, o, ok := v.lookupTXT(ctx, iss.IdentityProof.Location)
	if !ok {
		return o
	}
	if !identity.HasStore(records, store, "") {
		return invalid(CodeIdentityMismatch, "%s does not list document store %s", iss.IdentityProof.Location, store.Hex())
	}
	if v.registry == nil {
		return failed(xerrors.New(web3.CodeRegistryUnavailable, "no registry configured"))
	}
	owner, err := v.registry.OwnerOf(ctx, store)
	if err != nil {
		return failed(err)
	}
	if owner == (common.Address{}) {
		return invalid(CodeIdentityMismatch, "document store %s has no owner", store.Hex())
	}
	return valid(iss.IdentityProof.Location + " lists " + store.Hex())
}

func (v *Verifier) dnsDIDIdentity(ctx context.Context, doc *document.Document, iss document.IssuerProfile) outcome {
	keyID := iss.IdentityProof.Key
	records, o, ok := v.lookupTXT(ctx, iss.IdentityProof.Location)
	if !ok {
		return o
	}
	if !identity.HasDIDKey(records, keyID) {
		return invalid(CodeIdentityMismatch, "%s does not list key %s", iss.IdentityProof.Location, keyID)
	}
	if o, ok := v.verifySigner(ctx, doc, keyID); !ok {
		return o
	}
	return valid(iss.IdentityProof.Location + " lists " + keyID)
}
