package document

import (
	"strconv"
	"strings"
)

// IssuanceMethod 为根哈希的签发方式。
type IssuanceMethod string

const (
	MethodDocumentStore IssuanceMethod = "DOCUMENT_STORE"
	MethodDID           IssuanceMethod = "DID"
)

// RevocationType 为撤销机制。
type RevocationType string

const (
	RevocationNone          RevocationType = "NONE"
	RevocationStore         RevocationType = "REVOCATION_STORE"
	RevocationOCSPResponder RevocationType = "OCSP_RESPONDER"
)

// IdentityProofType 为身份证明方式。
type IdentityProofType string

const (
	IdentityDNSTXT IdentityProofType = "DNS-TXT"
	IdentityDNSDID IdentityProofType = "DNS-DID"
)

// Revocation 描述撤销机制及其位置（合约地址或响应器 URL）。
type Revocation struct {
	Type     RevocationType `json:"type"`
	Location string         `json:"location,omitempty"`
}

// IdentityProof 描述签发者身份证明。Key 仅对 DNS-DID 有意义。
type IdentityProof struct {
	Type     IdentityProofType `json:"type"`
	Location string            `json:"location"`
	Key      string            `json:"key,omitempty"`
}

// IssuerProfile 是从 v2 issuers 数组或 v3 issuer 元数据中归一化出的签发者信息。
type IssuerProfile struct {
	Name          string
	ID            string
	Method        IssuanceMethod
	DocumentStore string
	Revocation    Revocation
	IdentityProof IdentityProof
}

// Issuers 提取文档声明的签发者。任一必需字段被遮蔽或缺失时返回 ErrInvalidDocument。
func (d *Document) Issuers() ([]IssuerProfile, error) {
	switch d.version {
	case V2:
		return issuersV2(d.body)
	case V3:
		return issuersV3(d.body)
	default:
		return nil, invalidf("unknown version %q", d.version)
	}
}

// IsRevokable 判断文档能否通过文档存储合约撤销。
func (d *Document) IsRevokable() bool {
	issuers, err := d.Issuers()
	if err != nil {
		return false
	}
	for _, iss := range issuers {
		if iss.Method == MethodDocumentStore || iss.Revocation.Type == RevocationStore {
			return true
		}
	}
	return false
}

func issuersV2(body map[string]any) ([]IssuerProfile, error) {
	list, ok := body["issuers"].([]any)
	if !ok || len(list) == 0 {
		return nil, invalidf("v2 document requires a non-empty issuers array")
	}
	out := make([]IssuerProfile, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, invalidf("issuers[%d] is not an object", i)
		}
		r := reader{obj: obj, at: "issuers[" + strconv.Itoa(i) + "]"}
		p := IssuerProfile{
			Name:          r.str("name"),
			ID:            r.str("id"),
			DocumentStore: r.str("documentStore"),
		}
		idp := r.child("identityProof")
		p.IdentityProof = IdentityProof{
			Type:     IdentityProofType(idp.str("type")),
			Location: idp.str("location"),
			Key:      idp.str("key"),
		}
		rev := r.child("revocation")
		p.Revocation = Revocation{Type: RevocationType(rev.str("type")), Location: rev.str("location")}
		if p.DocumentStore != "" {
			p.Method = MethodDocumentStore
		} else if p.IdentityProof.Type == IdentityDNSDID {
			p.Method = MethodDID
		}
		if err := firstErr(r.err, idp.err, rev.err); err != nil {
			return nil, err
		}
		out = append(out, finish(p))
	}
	return out, nil
}

func issuersV3(body map[string]any) ([]IssuerProfile, error) {
	root := reader{obj: body}
	iss := root.child("issuer")
	meta := root.child("openAttestationMetadata")
	proof := meta.child("proof")
	rev := proof.child("revocation")
	idp := meta.child("identityProof")

	p := IssuerProfile{
		Name:   iss.str("name"),
		ID:     iss.str("id"),
		Method: IssuanceMethod(proof.str("method")),
		Revocation: Revocation{
			Type:     RevocationType(rev.str("type")),
			Location: rev.str("location"),
		},
		IdentityProof: IdentityProof{
			Type:     IdentityProofType(idp.str("type")),
			Location: idp.str("identifier"),
		},
	}
	value := proof.str("value")
	switch p.Method {
	case MethodDocumentStore:
		p.DocumentStore = value
	case MethodDID:
		p.IdentityProof.Key = value
	}
	if err := firstErr(root.err, iss.err, meta.err, proof.err, rev.err, idp.err); err != nil {
		return nil, err
	}
	if iss.obj == nil || meta.obj == nil {
		return nil, invalidf("v3 document requires issuer and openAttestationMetadata")
	}
	return []IssuerProfile{finish(p)}, nil
}

func finish(p IssuerProfile) IssuerProfile {
	if p.Method == MethodDID && p.Revocation.Type == "" {
		p.Revocation.Type = RevocationNone
	}
	if p.ID == "" && p.Method == MethodDID {
		p.ID, _, _ = strings.Cut(p.IdentityProof.Key, "#")
	}
	return p
}

// reader 读取可选的字符串字段，遇到遮蔽标记时记录错误。
type reader struct {
	obj map[string]any
	at  string
	err error
}

func (r *reader) path(key string) string {
	if r.at == "" {
		return key
	}
	return r.at + "." + key
}

func (r *reader) str(key string) string {
	if r.obj == nil {
		return ""
	}
	switch v := r.obj[key].(type) {
	case string:
		return v
	case map[string]any:
		if _, ok := markerOf(v); ok && r.err == nil {
			r.err = invalidf("issuer field %s is obfuscated", r.path(key))
		}
	}
	return ""
}

func (r *reader) child(key string) *reader {
	c := &reader{at: r.path(key)}
	if r.obj == nil {
		return c
	}
	if m, ok := r.obj[key].(map[string]any); ok {
		if _, marked := markerOf(m); marked {
			c.err = invalidf("issuer field %s is obfuscated", c.at)
			return c
		}
		c.obj = m
	}
	return c
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
