package document

import (
	"fmt"

	"OpenAttest-Core/internal/proofs"
)

// Version 为文档模式版本。
type Version string

const (
	V2 Version = "v2"
	V3 Version = "v3"
)

const (
	SchemaV2 = "https://schema.openattestation.com/2.0/schema.json"
	SchemaV3 = "https://schema.openattestation.com/3.0/schema.json"
)

// SchemaURL 返回版本对应的模式地址，写入包装后文档的 version 字段。
func (v Version) SchemaURL() string {
	switch v {
	case V2:
		return SchemaV2
	case V3:
		return SchemaV3
	default:
		return ""
	}
}

// Valid 判断是否为已知版本。
func (v Version) Valid() bool {
	return v == V2 || v == V3
}

// VersionFromSchema 由模式地址或简写解析版本。
func VersionFromSchema(s string) (Version, error) {
	switch s {
	case SchemaV2, string(V2):
		return V2, nil
	case SchemaV3, string(V3):
		return V3, nil
	default:
		return "", invalidf("unknown schema version %q", s)
	}
}

// Stage 为文档所处的生命周期阶段。
type Stage int

const (
	StageRaw Stage = iota + 1
	StageWrapped
	StageSigned
)

func (s Stage) String() string {
	switch s {
	case StageRaw:
		return "raw"
	case StageWrapped:
		return "wrapped"
	case StageSigned:
		return "signed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// SignatureType 标识根哈希的绑定方式。
type SignatureType string

const (
	SignatureDocumentStore SignatureType = "document-store"
	SignatureBased         SignatureType = "signature-based"
)

// Signature 为包装后文档的签名块。Proof 保存全部叶子哈希（升序、十六进制）。
type Signature struct {
	Type       SignatureType `json:"type"`
	TargetHash string        `json:"targetHash"`
	MerkleRoot string        `json:"merkleRoot"`
	Proof      []string      `json:"proof"`
}

func (s *Signature) clone() *Signature {
	if s == nil {
		return nil
	}
	out := *s
	out.Proof = append([]string(nil), s.Proof...)
	return &out
}

// Privacy 保存未被遮蔽字段的盐。
type Privacy struct {
	Salts map[string]string `json:"salts"`
}

func (p *Privacy) clone() *Privacy {
	if p == nil {
		return nil
	}
	salts := make(map[string]string, len(p.Salts))
	for k, v := range p.Salts {
		salts[k] = v
	}
	return &Privacy{Salts: salts}
}

// ProofTypeSignature2018 为 DID 签名条目的类型。
const ProofTypeSignature2018 = "OpenAttestationSignature2018"

// IssuerProof 是附在已签名文档顶层 proof 数组中的签名条目。
type IssuerProof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	ProofPurpose       string `json:"proofPurpose"`
	VerificationMethod string `json:"verificationMethod"`
	Signature          string `json:"signature"`
}

// 以下顶层键由文档格式保留，原始正文不得使用。
const (
	keyVersion   = "version"
	keySignature = "signature"
	keyPrivacy   = "privacy"
	keyProof     = "proof"
)

var reservedKeys = []string{keyVersion, keySignature, keyPrivacy, keyProof}

// Document 是带版本与阶段标签的文档值。对外只读，所有变换均返回新值。
type Document struct {
	version   Version
	stage     Stage
	body      map[string]any
	signature *Signature
	privacy   *Privacy
	proofs    []IssuerProof
}

// NewRaw 以给定版本构造原始文档。正文会被规范化为 JSON 值（数字保留为 json.Number）。
func NewRaw(version Version, body map[string]any) (*Document, error) {
	if !version.Valid() {
		return nil, invalidf("unknown version %q", version)
	}
	normalized, err := normalizeBody(body)
	if err != nil {
		return nil, err
	}
	for _, key := range reservedKeys {
		if _, ok := normalized[key]; ok {
			return nil, invalidf("raw document must not contain reserved key %q", key)
		}
	}
	for _, f := range Flatten(normalized) {
		if f.Obfuscated {
			return nil, invalidf("raw document contains obfuscation marker at %s", f.Path)
		}
	}
	return &Document{version: version, stage: StageRaw, body: normalized}, nil
}

// Version 返回模式版本。
func (d *Document) Version() Version { return d.version }

// Stage 返回生命周期阶段。
func (d *Document) Stage() Stage { return d.stage }

// Body 返回正文的深拷贝。
func (d *Document) Body() map[string]any {
	return cloneValue(d.body).(map[string]any)
}

// Signature 返回签名块副本，原始文档返回 nil。
func (d *Document) Signature() *Signature { return d.signature.clone() }

// Salts 返回字段盐的副本。
func (d *Document) Salts() map[string]string {
	if d.privacy == nil {
		return nil
	}
	return d.privacy.clone().Salts
}

// Proofs 返回签名条目副本。
func (d *Document) Proofs() []IssuerProof {
	return append([]IssuerProof(nil), d.proofs...)
}

// Clone 返回深拷贝。
func (d *Document) Clone() *Document {
	return &Document{
		version:   d.version,
		stage:     d.stage,
		body:      d.Body(),
		signature: d.signature.clone(),
		privacy:   d.privacy.clone(),
		proofs:    d.Proofs(),
	}
}

// MerkleRoot 返回签名块中的根哈希。
func (d *Document) MerkleRoot() (proofs.Hash, error) {
	if d.signature == nil {
		return proofs.Hash{}, invalidf("%s document has no merkle root", d.stage)
	}
	return proofs.DecodeHash(d.signature.MerkleRoot)
}

// TargetHash 返回包装时计算的目标哈希。
func (d *Document) TargetHash() (proofs.Hash, error) {
	if d.signature == nil {
		return proofs.Hash{}, invalidf("%s document has no target hash", d.stage)
	}
	return proofs.DecodeHash(d.signature.TargetHash)
}

// IsObfuscated 判断文档中是否存在已遮蔽字段。
func (d *Document) IsObfuscated() bool {
	for _, f := range Flatten(d.body) {
		if f.Obfuscated {
			return true
		}
	}
	return false
}

// ObfuscatedHashes 返回所有遮蔽标记中保留的叶子哈希，按路径排序。
func (d *Document) ObfuscatedHashes() []string {
	var out []string
	for _, f := range Flatten(d.body) {
		if f.Obfuscated {
			out = append(out, f.Marker)
		}
	}
	return out
}

// Data 返回去除格式字段后的正文，已遮蔽字段仍保留其标记。
func (d *Document) Data() map[string]any {
	return d.Body()
}

// TemplateURL 返回渲染模板地址，未声明时为空。
func (d *Document) TemplateURL() string {
	var path []string
	if d.version == V3 {
		path = []string{"openAttestationMetadata", "template", "url"}
	} else {
		path = []string{"$template", "url"}
	}
	var cur any = d.body
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}
