package document

import "time"

// AttachProof 把签名条目附加到 wrapped 文档，返回 signed 文档。文档只能签名一次。
func AttachProof(doc *Document, proof IssuerProof) (*Document, error) {
	if doc == nil || doc.stage != StageWrapped {
		return nil, invalidf("only wrapped documents can be signed")
	}
	if doc.signature.Type != SignatureBased {
		return nil, invalidf("document-store documents are issued on the registry, not signed")
	}
	if proof.Type == "" {
		proof.Type = ProofTypeSignature2018
	}
	if proof.ProofPurpose == "" {
		proof.ProofPurpose = "assertionMethod"
	}
	if proof.Created == "" {
		proof.Created = time.Now().UTC().Format(time.RFC3339)
	}
	out := doc.Clone()
	out.stage = StageSigned
	out.proofs = append(out.proofs, proof)
	return out, nil
}
