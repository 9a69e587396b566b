package document

import (
	"bytes"
	"encoding/json"
)

// MarshalJSON 输出线上格式：正文字段与 version、signature、privacy、proof 并列于顶层。
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.body)+4)
	for k, v := range d.body {
		out[k] = v
	}
	out[keyVersion] = d.version.SchemaURL()
	if d.signature != nil {
		out[keySignature] = d.signature
	}
	if d.privacy != nil {
		out[keyPrivacy] = d.privacy
	}
	if len(d.proofs) > 0 {
		out[keyProof] = d.proofs
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode 解析带 version 字段的文档。阶段在此处一次性确定：
// 含 proof 数组为 signed，含 signature 块为 wrapped，否则为 raw。
func Decode(data []byte) (*Document, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	schema, ok := obj[keyVersion].(string)
	if !ok {
		return nil, invalidf("document has no version; use ParseRaw for unversioned input")
	}
	version, err := VersionFromSchema(schema)
	if err != nil {
		return nil, err
	}
	delete(obj, keyVersion)
	return fromObject(version, obj)
}

// ParseRaw 以调用方声明的版本解析未包装文档。若正文带有 version 字段，必须与声明一致。
func ParseRaw(data []byte, version Version) (*Document, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	if schema, ok := obj[keyVersion]; ok {
		s, _ := schema.(string)
		declared, err := VersionFromSchema(s)
		if err != nil {
			return nil, err
		}
		if declared != version {
			return nil, ErrSchemaVersionConflict
		}
		delete(obj, keyVersion)
	}
	return NewRaw(version, obj)
}

func fromObject(version Version, obj map[string]any) (*Document, error) {
	sigRaw, hasSig := obj[keySignature]
	privRaw, hasPriv := obj[keyPrivacy]
	proofRaw, hasProof := obj[keyProof]
	delete(obj, keySignature)
	delete(obj, keyPrivacy)
	delete(obj, keyProof)

	if !hasSig {
		if hasPriv || hasProof {
			return nil, invalidf("privacy or proof block present without signature")
		}
		return NewRaw(version, obj)
	}

	doc := &Document{version: version, stage: StageWrapped, body: obj}
	if err := remarshal(sigRaw, &doc.signature); err != nil {
		return nil, invalidf("decode signature block: %v", err)
	}
	if doc.signature == nil {
		return nil, invalidf("signature block is null")
	}
	doc.privacy = &Privacy{Salts: map[string]string{}}
	if hasPriv {
		if err := remarshal(privRaw, doc.privacy); err != nil {
			return nil, invalidf("decode privacy block: %v", err)
		}
		if doc.privacy.Salts == nil {
			doc.privacy.Salts = map[string]string{}
		}
	}
	if hasProof {
		if err := remarshal(proofRaw, &doc.proofs); err != nil {
			return nil, invalidf("decode proof block: %v", err)
		}
		if len(doc.proofs) > 0 {
			doc.stage = StageSigned
		}
	}
	return doc, nil
}

func remarshal(in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
