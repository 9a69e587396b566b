package verify

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"OpenAttest-Core/internal/document"
)

// signerOf 恢复 verificationMethod 为 keyID 的签名条目的签名者地址。
// found 为 false 表示文档中没有该密钥的签名。
func signerOf(doc *document.Document, keyID string) (addr common.Address, found bool, err error) {
	root, err := doc.MerkleRoot()
	if err != nil {
		return common.Address{}, false, err
	}
	for _, p := range doc.Proofs() {
		if !strings.EqualFold(p.VerificationMethod, keyID) {
			continue
		}
		addr, err := recoverAddress(root.Bytes(), p.Signature)
		return addr, true, err
	}
	return common.Address{}, false, nil
}

// recoverAddress 从 EIP-191 签名中恢复地址，V 可为 0/1 或 27/28。
func recoverAddress(message []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature has %d bytes", len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
