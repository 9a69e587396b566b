package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// documentStoreABI 覆盖 OpenAttestation DocumentStore 合约中用到的方法。
const documentStoreABI = `[
 {"type":"function","name":"issue","stateMutability":"nonpayable","inputs":[{"name":"document","type":"bytes32"}],"outputs":[]},
 {"type":"function","name":"bulkIssue","stateMutability":"nonpayable","inputs":[{"name":"documents","type":"bytes32[]"}],"outputs":[]},
 {"type":"function","name":"revoke","stateMutability":"nonpayable","inputs":[{"name":"document","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"bulkRevoke","stateMutability":"nonpayable","inputs":[{"name":"documents","type":"bytes32[]"}],"outputs":[]},
 {"type":"function","name":"isIssued","stateMutability":"view","inputs":[{"name":"document","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"isRevoked","stateMutability":"view","inputs":[{"name":"document","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"getIssuedBlock","stateMutability":"view","inputs":[{"name":"document","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"version","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

// didRegistryABI 为 ERC-1056 EthereumDIDRegistry 的只读部分。
const didRegistryABI = `[
 {"type":"function","name":"identityOwner","stateMutability":"view","inputs":[{"name":"identity","type":"address"}],"outputs":[{"name":"","type":"address"}]}
]`

var (
	storeABI = mustParseABI(documentStoreABI)
	didABI   = mustParseABI(didRegistryABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
