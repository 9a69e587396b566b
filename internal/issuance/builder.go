package issuance

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
)

const (
	contextV3    = "https://schemata.openattestation.com/com/openattestation/1.0/OpenAttestation.v3.json"
	credentialV1 = "https://www.w3.org/2018/credentials/v1"
)

// Template 描述文档的渲染模板。
type Template struct {
	Name string
	Type string
	URL  string
}

// IssuerParams 是构造原始文档所需的签发者信息。
type IssuerParams struct {
	Version    document.Version
	Method     document.IssuanceMethod
	Revocation document.RevocationType
	Name       string
	// ID 为签发者标识，DID 签发时可留空，由 DID 推出。
	ID                 string
	DNSLocation        string
	DocumentStore      string
	DID                string
	RevocationLocation string
	Template           *Template
}

// issuerDecorator 由每种 (签发方式, 撤销方式) 组合实现，产出归一化的签发者信息。
type issuerDecorator interface {
	profile(p IssuerParams) (document.IssuerProfile, error)
}

type strategyKey struct {
	method     document.IssuanceMethod
	revocation document.RevocationType
}

// Builder 按签发策略构造原始文档。
type Builder struct {
	strategies map[strategyKey]issuerDecorator
	now        func() time.Time
}

// NewBuilder 注册受支持的四种组合。
func NewBuilder() *Builder {
	b := &Builder{strategies: make(map[strategyKey]issuerDecorator), now: time.Now}
	b.register(document.MethodDocumentStore, "", storeStrategy{})
	for _, rev := range []document.RevocationType{
		document.RevocationNone,
		document.RevocationStore,
		document.RevocationOCSPResponder,
	} {
		b.register(document.MethodDID, rev, didStrategy{revocation: rev})
	}
	return b
}

func (b *Builder) register(method document.IssuanceMethod, rev document.RevocationType, d issuerDecorator) {
	b.strategies[strategyKey{method: method, revocation: rev}] = d
}

// Build 把业务内容与签发者元数据合成原始文档。content 不得包含由构造器写入的键。
func (b *Builder) Build(p IssuerParams, content map[string]any) (*document.Document, error) {
	key := strategyKey{method: p.Method, revocation: p.Revocation}
	if p.Method == document.MethodDocumentStore {
		key.revocation = ""
	}
	strategy, ok := b.strategies[key]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "unsupported issuance strategy %s/%s", p.Method, p.Revocation)
	}
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.DNSLocation) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "issuer name and dns location are required")
	}
	profile, err := strategy.profile(p)
	if err != nil {
		return nil, err
	}

	var body map[string]any
	switch p.Version {
	case document.V2:
		body, err = b.renderV2(profile, p.Template, content)
	case document.V3:
		body, err = b.renderV3(profile, p.Template, content)
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown version %q", p.Version)
	}
	if err != nil {
		return nil, err
	}
	return document.NewRaw(p.Version, body)
}

func (b *Builder) renderV2(p document.IssuerProfile, tpl *Template, content map[string]any) (map[string]any, error) {
	body, err := mergeContent(content, "issuers", "$template")
	if err != nil {
		return nil, err
	}
	issuer := map[string]any{"name": p.Name}
	if p.ID != "" && p.Method == document.MethodDID {
		issuer["id"] = p.ID
	}
	identity := map[string]any{"type": string(p.IdentityProof.Type), "location": p.IdentityProof.Location}
	if p.IdentityProof.Key != "" {
		identity["key"] = p.IdentityProof.Key
	}
	issuer["identityProof"] = identity
	switch p.Method {
	case document.MethodDocumentStore:
		issuer["documentStore"] = p.DocumentStore
	case document.MethodDID:
		issuer["revocation"] = revocationObject(p.Revocation)
	}
	body["issuers"] = []any{issuer}
	if tpl != nil {
		body["$template"] = templateObject(tpl)
	}
	return body, nil
}

func (b *Builder) renderV3(p document.IssuerProfile, tpl *Template, content map[string]any) (map[string]any, error) {
	subject := content
	if nested, ok := content["credentialSubject"].(map[string]any); ok && len(content) == 1 {
		subject = nested
	}
	proofValue := p.DocumentStore
	if p.Method == document.MethodDID {
		proofValue = p.IdentityProof.Key
	}
	meta := map[string]any{
		"proof": map[string]any{
			"type":       "OpenAttestationProofMethod",
			"method":     string(p.Method),
			"value":      proofValue,
			"revocation": revocationObject(p.Revocation),
		},
		"identityProof": map[string]any{
			"type":       string(p.IdentityProof.Type),
			"identifier": p.IdentityProof.Location,
		},
	}
	if tpl != nil {
		meta["template"] = templateObject(tpl)
	}
	return map[string]any{
		"@context":                []any{credentialV1, contextV3},
		"type":                    []any{"VerifiableCredential", "OpenAttestationCredential"},
		"issuanceDate":            b.now().UTC().Format(time.RFC3339),
		"issuer":                  map[string]any{"id": p.ID, "name": p.Name, "type": "OpenAttestationIssuer"},
		"credentialSubject":       subject,
		"openAttestationMetadata": meta,
	}, nil
}

type storeStrategy struct{}

func (storeStrategy) profile(p IssuerParams) (document.IssuerProfile, error) {
	if !common.IsHexAddress(p.DocumentStore) {
		return document.IssuerProfile{}, xerrors.Newf(xerrors.CodeInvalidArgument, "document store %q is not an address", p.DocumentStore)
	}
	id := p.ID
	if id == "" {
		id = "https://" + p.DNSLocation
	}
	return document.IssuerProfile{
		Name:          p.Name,
		ID:            id,
		Method:        document.MethodDocumentStore,
		DocumentStore: common.HexToAddress(p.DocumentStore).Hex(),
		Revocation:    document.Revocation{Type: document.RevocationNone},
		IdentityProof: document.IdentityProof{Type: document.IdentityDNSTXT, Location: p.DNSLocation},
	}, nil
}

type didStrategy struct {
	revocation document.RevocationType
}

func (s didStrategy) profile(p IssuerParams) (document.IssuerProfile, error) {
	did, _, _ := strings.Cut(p.DID, "#")
	if !strings.HasPrefix(did, "did:") {
		return document.IssuerProfile{}, xerrors.Newf(xerrors.CodeInvalidArgument, "issuer DID %q is malformed", p.DID)
	}
	rev := document.Revocation{Type: s.revocation}
	switch s.revocation {
	case document.RevocationStore:
		if !common.IsHexAddress(p.RevocationLocation) {
			return document.IssuerProfile{}, xerrors.Newf(xerrors.CodeInvalidArgument, "revocation store %q is not an address", p.RevocationLocation)
		}
		rev.Location = common.HexToAddress(p.RevocationLocation).Hex()
	case document.RevocationOCSPResponder:
		if !strings.HasPrefix(p.RevocationLocation, "http://") && !strings.HasPrefix(p.RevocationLocation, "https://") {
			return document.IssuerProfile{}, xerrors.Newf(xerrors.CodeInvalidArgument, "ocsp responder %q is not an http url", p.RevocationLocation)
		}
		rev.Location = p.RevocationLocation
	}
	id := p.ID
	if id == "" {
		id = did
	}
	return document.IssuerProfile{
		Name:       p.Name,
		ID:         id,
		Method:     document.MethodDID,
		Revocation: rev,
		IdentityProof: document.IdentityProof{
			Type:     document.IdentityDNSDID,
			Location: p.DNSLocation,
			Key:      did + "#controller",
		},
	}, nil
}

func revocationObject(r document.Revocation) map[string]any {
	out := map[string]any{"type": string(r.Type)}
	if r.Location != "" {
		out["location"] = r.Location
	}
	return out
}

func templateObject(t *Template) map[string]any {
	kind := t.Type
	if kind == "" {
		kind = "EMBEDDED_RENDERER"
	}
	return map[string]any{"name": t.Name, "type": kind, "url": t.URL}
}

func mergeContent(content map[string]any, reserved ...string) (map[string]any, error) {
	out := make(map[string]any, len(content)+len(reserved))
	for k, v := range content {
		out[k] = v
	}
	for _, key := range reserved {
		if _, ok := out[key]; ok {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "content must not set %q", key)
		}
	}
	return out, nil
}
