package document

import (
	"strings"

	"OpenAttest-Core/internal/proofs"
)

const credentialsContext = "https://www.w3.org/2018/credentials/v1"

// Validate 检查文档是否符合其版本与阶段要求的形状，返回第一个问题。
func Validate(doc *Document) error {
	if doc == nil {
		return invalidf("nil document")
	}
	if !doc.version.Valid() {
		return invalidf("unknown version %q", doc.version)
	}
	if doc.version == V3 {
		if err := validateV3Shape(doc.body); err != nil {
			return err
		}
	}
	issuers, err := doc.Issuers()
	if err != nil {
		return err
	}
	if err := validateIssuers(issuers); err != nil {
		return err
	}
	if doc.stage == StageRaw {
		return nil
	}
	if err := validateSignature(doc.signature, issuers); err != nil {
		return err
	}
	if doc.privacy == nil {
		return invalidf("wrapped document has no privacy block")
	}
	if doc.stage == StageSigned {
		for i, p := range doc.proofs {
			if p.Type != ProofTypeSignature2018 {
				return invalidf("proof[%d] has unsupported type %q", i, p.Type)
			}
			if p.VerificationMethod == "" || p.Signature == "" {
				return invalidf("proof[%d] lacks verificationMethod or signature", i)
			}
		}
	}
	return nil
}

func validateV3Shape(body map[string]any) error {
	ctx, ok := body["@context"].([]any)
	if !ok || len(ctx) == 0 {
		return invalidf("v3 document requires an @context array")
	}
	if first, _ := ctx[0].(string); first != credentialsContext {
		return invalidf("v3 @context must start with %s", credentialsContext)
	}
	if _, ok := body["credentialSubject"].(map[string]any); !ok {
		return invalidf("v3 document requires credentialSubject")
	}
	return nil
}

func validateIssuers(issuers []IssuerProfile) error {
	if len(issuers) == 0 {
		return invalidf("document declares no issuer")
	}
	for i, iss := range issuers {
		if strings.TrimSpace(iss.Name) == "" {
			return invalidf("issuer %d has no name", i)
		}
		if iss.IdentityProof.Location == "" {
			return invalidf("issuer %d has no identity proof location", i)
		}
		switch iss.Method {
		case MethodDocumentStore:
			if iss.IdentityProof.Type != IdentityDNSTXT {
				return invalidf("issuer %d: document store issuance requires DNS-TXT identity", i)
			}
		case MethodDID:
			if iss.IdentityProof.Type != IdentityDNSDID || iss.IdentityProof.Key == "" {
				return invalidf("issuer %d: DID issuance requires a DNS-DID identity key", i)
			}
			switch iss.Revocation.Type {
			case RevocationNone:
			case RevocationStore, RevocationOCSPResponder:
				if iss.Revocation.Location == "" {
					return invalidf("issuer %d: revocation %s needs a location", i, iss.Revocation.Type)
				}
			default:
				return invalidf("issuer %d: unknown revocation type %q", i, iss.Revocation.Type)
			}
		default:
			return invalidf("issuer %d: cannot determine issuance method", i)
		}
	}
	return nil
}

func validateSignature(sig *Signature, issuers []IssuerProfile) error {
	if sig == nil {
		return invalidf("wrapped document has no signature block")
	}
	if sig.Type != SignatureDocumentStore && sig.Type != SignatureBased {
		return invalidf("unknown signature type %q", sig.Type)
	}
	if sig.Type != signatureTypeFor(issuers) {
		return invalidf("signature type %s does not match issuers", sig.Type)
	}
	if _, err := proofs.DecodeHash(sig.MerkleRoot); err != nil {
		return invalidf("merkleRoot: %v", err)
	}
	if _, err := proofs.DecodeHash(sig.TargetHash); err != nil {
		return invalidf("targetHash: %v", err)
	}
	if len(sig.Proof) == 0 {
		return invalidf("signature proof is empty")
	}
	if _, err := proofs.DecodeHashes(sig.Proof); err != nil {
		return invalidf("signature proof: %v", err)
	}
	return nil
}
