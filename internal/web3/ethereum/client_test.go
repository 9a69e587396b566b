package ethereum

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/internal/proofs"
	"OpenAttest-Core/internal/web3"
)

type storeState struct {
	owner   common.Address
	issued  map[[32]byte]uint64
	revoked map[[32]byte]bool
}

// fakeChain 按方法选择器解码调用数据，模拟 DocumentStore 与 DID 注册表。
type fakeChain struct {
	mu           sync.Mutex
	chainID      *big.Int
	block        uint64
	stores       map[common.Address]*storeState
	didOwners    map[common.Address]common.Address
	receipts     map[common.Hash]*coretypes.Receipt
	nonces       map[common.Address]uint64
	pendingPolls int
	callErr      error
	rawReply     []byte
	sent         []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		chainID:   big.NewInt(1337),
		block:     100,
		stores:    map[common.Address]*storeState{},
		didOwners: map[common.Address]common.Address{},
		receipts:  map[common.Hash]*coretypes.Receipt{},
		nonces:    map[common.Address]uint64{},
	}
}

func (f *fakeChain) deployStore(addr, owner common.Address) {
	f.stores[addr] = &storeState{owner: owner, issued: map[[32]byte]uint64{}, revoked: map[[32]byte]bool{}}
}

func lookupMethod(data []byte) (*abi.Method, error) {
	if m, err := storeABI.MethodById(data[:4]); err == nil {
		return m, nil
	}
	return didABI.MethodById(data[:4])
}

func (f *fakeChain) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.rawReply != nil {
		return f.rawReply, nil
	}
	method, err := lookupMethod(msg.Data)
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	if method.Name == "identityOwner" {
		identity := args[0].(common.Address)
		if owner, ok := f.didOwners[identity]; ok {
			return method.Outputs.Pack(owner)
		}
		return method.Outputs.Pack(identity)
	}
	store, ok := f.stores[*msg.To]
	if !ok {
		return nil, nil
	}
	switch method.Name {
	case "isIssued":
		_, issued := store.issued[args[0].([32]byte)]
		return method.Outputs.Pack(issued)
	case "isRevoked":
		return method.Outputs.Pack(store.revoked[args[0].([32]byte)])
	case "getIssuedBlock":
		return method.Outputs.Pack(new(big.Int).SetUint64(store.issued[args[0].([32]byte)]))
	case "owner":
		return method.Outputs.Pack(store.owner)
	case "name":
		return method.Outputs.Pack("Demo Store")
	}
	return nil, errors.New("unsupported call " + method.Name)
}

func (f *fakeChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*coretypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &coretypes.Header{Number: new(big.Int).SetUint64(f.block), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeChain) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return err
	}
	if tx.Nonce() != f.nonces[sender] {
		return errors.New("nonce too low")
	}
	f.nonces[sender]++
	f.block++

	status := coretypes.ReceiptStatusSuccessful
	store, ok := f.stores[*tx.To()]
	method, err := lookupMethod(tx.Data())
	if !ok || err != nil || store.owner != sender {
		status = coretypes.ReceiptStatusFailed
	} else {
		args, _ := method.Inputs.Unpack(tx.Data()[4:])
		f.sent = append(f.sent, method.Name)
		switch method.Name {
		case "issue":
			store.issued[args[0].([32]byte)] = f.block
		case "bulkIssue":
			roots := args[0].([][32]byte)
			if !allFresh(roots, func(r [32]byte) bool { _, ok := store.issued[r]; return ok }) {
				status = coretypes.ReceiptStatusFailed
				break
			}
			for _, root := range roots {
				store.issued[root] = f.block
			}
		case "revoke":
			store.revoked[args[0].([32]byte)] = true
		case "bulkRevoke":
			roots := args[0].([][32]byte)
			if !allFresh(roots, func(r [32]byte) bool { return store.revoked[r] }) {
				status = coretypes.ReceiptStatusFailed
				break
			}
			for _, root := range roots {
				store.revoked[root] = true
			}
		}
	}
	f.receipts[tx.Hash()] = &coretypes.Receipt{
		Status:      status,
		BlockNumber: new(big.Int).SetUint64(f.block),
		GasUsed:     42_000,
		TxHash:      tx.Hash(),
	}
	return nil
}

// allFresh 模拟合约逐元素的 onlyNotIssued / onlyNotRevoked 检查：批内重复同样回滚。
func allFresh(roots [][32]byte, done func([32]byte) bool) bool {
	seen := make(map[[32]byte]bool, len(roots))
	for _, r := range roots {
		if seen[r] || done(r) {
			return false
		}
		seen[r] = true
	}
	return true
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingPolls > 0 {
		f.pendingPolls--
		return nil, gethcore.NotFound
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, gethcore.NotFound
	}
	return r, nil
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, nil
}

var storeAddr = common.HexToAddress("0x9178F546D3FF57D7A6352bD61B80cCCD46199C2d")

func newTestClient(t *testing.T) (*Client, *fakeChain, *keys.Session) {
	t.Helper()
	sess, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	t.Cleanup(sess.Close)
	chain := newFakeChain()
	chain.deployStore(storeAddr, sess.Address())
	client := NewWithBackend(Config{Name: "test", ReadRetries: -1, PollInterval: time.Millisecond, ReceiptTimeout: time.Second}, chain)
	return client, chain, sess
}

func TestIssueRevokeLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, chain, sess := newTestClient(t)
	chain.pendingPolls = 2
	root := proofs.Sum([]byte("document"))

	receipt, err := client.Issue(ctx, sess, storeAddr, root)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if receipt.TxHash == (common.Hash{}) || receipt.BlockNumber != 101 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	issued, err := client.IsIssued(ctx, storeAddr, root)
	if err != nil || !issued {
		t.Fatalf("IsIssued = %v, %v", issued, err)
	}
	if _, err := client.Issue(ctx, sess, storeAddr, root); !errors.Is(err, web3.ErrAlreadyIssued) {
		t.Fatalf("重复签发应返回 ErrAlreadyIssued, got %v", err)
	}
	if block, err := client.IssuedBlock(ctx, storeAddr, root); err != nil || block != 101 {
		t.Fatalf("IssuedBlock = %d, %v", block, err)
	}

	if _, err := client.Revoke(ctx, sess, storeAddr, root); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked, _ := client.IsRevoked(ctx, storeAddr, root); !revoked {
		t.Fatalf("撤销后 isRevoked 应为 true")
	}
	if _, err := client.Revoke(ctx, sess, storeAddr, root); !errors.Is(err, web3.ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}
	if _, err := client.Revoke(ctx, sess, storeAddr, proofs.Sum([]byte("other"))); !errors.Is(err, web3.ErrNotIssued) {
		t.Fatalf("expected ErrNotIssued, got %v", err)
	}
	if len(chain.sent) != 2 {
		t.Fatalf("只应发送两笔交易, got %v", chain.sent)
	}
}

func TestBulkIssueSkipsIssuedRoots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, chain, sess := newTestClient(t)
	a, b := proofs.Sum([]byte("a")), proofs.Sum([]byte("b"))

	if _, err := client.Issue(ctx, sess, storeAddr, a); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := client.BulkIssue(ctx, sess, storeAddr, []proofs.Hash{a, b}); err != nil {
		t.Fatalf("BulkIssue: %v", err)
	}
	if ok, _ := client.IsIssued(ctx, storeAddr, b); !ok {
		t.Fatalf("b should be issued")
	}
	if _, err := client.BulkIssue(ctx, sess, storeAddr, []proofs.Hash{a, b}); !errors.Is(err, web3.ErrAlreadyIssued) {
		t.Fatalf("expected ErrAlreadyIssued, got %v", err)
	}
	if _, err := client.BulkRevoke(ctx, sess, storeAddr, []proofs.Hash{a, b}); err != nil {
		t.Fatalf("BulkRevoke: %v", err)
	}
	if chain.sent[len(chain.sent)-1] != "bulkRevoke" {
		t.Fatalf("unexpected tx sequence %v", chain.sent)
	}
}

func TestBulkCallsCollapseRepeatedRoots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, chain, sess := newTestClient(t)
	a, b := proofs.Sum([]byte("a")), proofs.Sum([]byte("b"))

	if _, err := client.BulkIssue(ctx, sess, storeAddr, []proofs.Hash{a, a, b}); err != nil {
		t.Fatalf("重复根不应导致回滚: %v", err)
	}
	for _, root := range []proofs.Hash{a, b} {
		if ok, _ := client.IsIssued(ctx, storeAddr, root); !ok {
			t.Fatalf("%x should be issued", root)
		}
	}
	if _, err := client.BulkRevoke(ctx, sess, storeAddr, []proofs.Hash{b, b}); err != nil {
		t.Fatalf("BulkRevoke: %v", err)
	}
	if revoked, _ := client.IsRevoked(ctx, storeAddr, b); !revoked {
		t.Fatalf("b should be revoked")
	}
	if len(chain.sent) != 2 {
		t.Fatalf("unexpected tx sequence %v", chain.sent)
	}
}

func TestReadFailuresAreClassified(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, chain, _ := newTestClient(t)
	root := proofs.Sum([]byte("x"))

	chain.callErr = errors.New("connection refused")
	if _, err := client.IsIssued(ctx, storeAddr, root); xerrors.CodeOf(err) != web3.CodeRegistryUnavailable {
		t.Fatalf("expected REGISTRY_UNAVAILABLE, got %v", err)
	}
	chain.callErr = nil
	chain.rawReply = []byte{0x01}
	if _, err := client.IsRevoked(ctx, storeAddr, root); xerrors.CodeOf(err) != web3.CodeRegistryMalformed {
		t.Fatalf("expected REGISTRY_MALFORMED, got %v", err)
	}
	chain.rawReply = nil
	if _, err := client.OwnerOf(ctx, common.HexToAddress("0x01")); xerrors.CodeOf(err) != web3.CodeRegistryMalformed {
		t.Fatalf("无合约地址的空返回应视为 malformed, got %v", err)
	}
}

func TestTransactRequiresOwnerAndSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, _, sess := newTestClient(t)

	stranger, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	_, err = client.Issue(ctx, stranger, storeAddr, proofs.Sum([]byte("y")))
	if xerrors.CodeOf(err) != web3.CodeRegistryReverted {
		t.Fatalf("非所有者签发应回滚, got %v", err)
	}

	sess.Close()
	if _, err := client.Issue(ctx, sess, storeAddr, proofs.Sum([]byte("z"))); !errors.Is(err, keys.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestOwnerAndIdentityOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, chain, sess := newTestClient(t)

	owner, err := client.OwnerOf(ctx, storeAddr)
	if err != nil || owner != sess.Address() {
		t.Fatalf("OwnerOf = %s, %v", owner.Hex(), err)
	}
	identity := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	if got, _ := client.IdentityOwner(ctx, identity); got != identity {
		t.Fatalf("未配置注册表时应返回自身")
	}

	delegate := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	chain.didOwners[identity] = delegate
	withRegistry := NewWithBackend(Config{DIDRegistry: "0x03d5003bf0e79C5F5223588F347ebA39AfbC3818", ReadRetries: -1}, chain)
	got, err := withRegistry.IdentityOwner(ctx, identity)
	if err != nil || got != delegate {
		t.Fatalf("IdentityOwner = %s, %v", got.Hex(), err)
	}

	snap, err := client.FetchChainSnapshot(ctx)
	if err != nil || snap.ChainID != "0x539" {
		t.Fatalf("FetchChainSnapshot = %+v, %v", snap, err)
	}
}
