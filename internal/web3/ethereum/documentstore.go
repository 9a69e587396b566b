package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/cenkalti/backoff/v4"
	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/internal/proofs"
	"OpenAttest-Core/internal/web3"
	"OpenAttest-Core/pkg/logger"
)

// IsIssued 查询根哈希是否已签发。
func (c *Client) IsIssued(ctx context.Context, store common.Address, root proofs.Hash) (bool, error) {
	var issued bool
	err := c.call(ctx, storeABI, store, "isIssued", &issued, [32]byte(root))
	return issued, err
}

// IsRevoked 查询根哈希是否已撤销。
func (c *Client) IsRevoked(ctx context.Context, store common.Address, root proofs.Hash) (bool, error) {
	var revoked bool
	err := c.call(ctx, storeABI, store, "isRevoked", &revoked, [32]byte(root))
	return revoked, err
}

// IssuedBlock 返回签发所在区块。
func (c *Client) IssuedBlock(ctx context.Context, store common.Address, root proofs.Hash) (uint64, error) {
	var block *big.Int
	if err := c.call(ctx, storeABI, store, "getIssuedBlock", &block, [32]byte(root)); err != nil {
		return 0, err
	}
	if !block.IsUint64() {
		return 0, web3.Malformed(fmt.Errorf("block %s overflows", block), "getIssuedBlock")
	}
	return block.Uint64(), nil
}

// OwnerOf 返回文档存储合约的所有者。
func (c *Client) OwnerOf(ctx context.Context, store common.Address) (common.Address, error) {
	var owner common.Address
	err := c.call(ctx, storeABI, store, "owner", &owner)
	return owner, err
}

// StoreName 返回文档存储合约的名称。
func (c *Client) StoreName(ctx context.Context, store common.Address) (string, error) {
	var name string
	err := c.call(ctx, storeABI, store, "name", &name)
	return name, err
}

// IdentityOwner 通过 ERC-1056 注册表查询 did:ethr 标识的当前控制地址。
// 未配置注册表时标识即为自身所有者。
func (c *Client) IdentityOwner(ctx context.Context, identity common.Address) (common.Address, error) {
	if c.didRegistry == (common.Address{}) {
		return identity, nil
	}
	var owner common.Address
	err := c.call(ctx, didABI, c.didRegistry, "identityOwner", &owner, identity)
	return owner, err
}

// Issue 在文档存储合约上签发根哈希。已签发时返回 web3.ErrAlreadyIssued。
func (c *Client) Issue(ctx context.Context, sess *keys.Session, store common.Address, root proofs.Hash) (web3.Receipt, error) {
	issued, err := c.IsIssued(ctx, store, root)
	if err != nil {
		return web3.Receipt{}, err
	}
	if issued {
		return web3.Receipt{}, web3.ErrAlreadyIssued
	}
	return c.transact(ctx, sess, store, "issue", [32]byte(root))
}

// Revoke 撤销根哈希。未签发返回 web3.ErrNotIssued，已撤销返回 web3.ErrAlreadyRevoked。
func (c *Client) Revoke(ctx context.Context, sess *keys.Session, store common.Address, root proofs.Hash) (web3.Receipt, error) {
	issued, err := c.IsIssued(ctx, store, root)
	if err != nil {
		return web3.Receipt{}, err
	}
	if !issued {
		return web3.Receipt{}, web3.ErrNotIssued
	}
	revoked, err := c.IsRevoked(ctx, store, root)
	if err != nil {
		return web3.Receipt{}, err
	}
	if revoked {
		return web3.Receipt{}, web3.ErrAlreadyRevoked
	}
	return c.transact(ctx, sess, store, "revoke", [32]byte(root))
}

// BulkIssue 在一笔交易中签发多个尚未签发的根。全部已签发时返回 web3.ErrAlreadyIssued。
func (c *Client) BulkIssue(ctx context.Context, sess *keys.Session, store common.Address, roots []proofs.Hash) (web3.Receipt, error) {
	pending := make([][32]byte, 0, len(roots))
	for _, root := range distinctRoots(roots) {
		issued, err := c.IsIssued(ctx, store, root)
		if err != nil {
			return web3.Receipt{}, err
		}
		if !issued {
			pending = append(pending, root)
		}
	}
	if len(pending) == 0 {
		return web3.Receipt{}, web3.ErrAlreadyIssued
	}
	return c.transact(ctx, sess, store, "bulkIssue", pending)
}

// BulkRevoke 在一笔交易中撤销多个根。任一根未签发时整体返回 web3.ErrNotIssued。
func (c *Client) BulkRevoke(ctx context.Context, sess *keys.Session, store common.Address, roots []proofs.Hash) (web3.Receipt, error) {
	pending := make([][32]byte, 0, len(roots))
	for _, root := range distinctRoots(roots) {
		issued, err := c.IsIssued(ctx, store, root)
		if err != nil {
			return web3.Receipt{}, err
		}
		if !issued {
			return web3.Receipt{}, xerrors.New(web3.CodeNotIssued, "root "+proofs.EncodeHash(root)+" not issued")
		}
		revoked, err := c.IsRevoked(ctx, store, root)
		if err != nil {
			return web3.Receipt{}, err
		}
		if !revoked {
			pending = append(pending, root)
		}
	}
	if len(pending) == 0 {
		return web3.Receipt{}, web3.ErrAlreadyRevoked
	}
	return c.transact(ctx, sess, store, "bulkRevoke", pending)
}

// distinctRoots 按首次出现的顺序去重。合约对每个元素检查 onlyNotIssued，重复根会让整笔交易回滚。
func distinctRoots(roots []proofs.Hash) []proofs.Hash {
	seen := make(map[proofs.Hash]bool, len(roots))
	out := make([]proofs.Hash, 0, len(roots))
	for _, root := range roots {
		if seen[root] {
			continue
		}
		seen[root] = true
		out = append(out, root)
	}
	return out
}

// call 执行只读调用并解码单个返回值。网络错误按退避重试，最终映射为 REGISTRY_UNAVAILABLE；
// 无法解码映射为 REGISTRY_MALFORMED。
func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, out any, args ...any) error {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "pack "+method)
	}
	msg := gethcore.CallMsg{To: &to, Data: data}

	var raw []byte
	op := func() error {
		var callErr error
		raw, callErr = c.backend.CallContract(ctx, msg, nil)
		if callErr != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return callErr
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.readRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return web3.Unavailable(err, method)
	}

	values, err := contract.Unpack(method, raw)
	if err != nil {
		return web3.Malformed(err, method)
	}
	if len(values) != 1 {
		return web3.Malformed(fmt.Errorf("expected 1 return value, got %d", len(values)), method)
	}
	if err := assign(out, values[0]); err != nil {
		return web3.Malformed(err, method)
	}
	return nil
}

func assign(out any, value any) error {
	switch dst := out.(type) {
	case *bool:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("unexpected %T, want bool", value)
		}
		*dst = v
	case **big.Int:
		v, ok := value.(*big.Int)
		if !ok {
			return fmt.Errorf("unexpected %T, want uint256", value)
		}
		*dst = v
	case *common.Address:
		v, ok := value.(common.Address)
		if !ok {
			return fmt.Errorf("unexpected %T, want address", value)
		}
		*dst = v
	case *string:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected %T, want string", value)
		}
		*dst = v
	default:
		return fmt.Errorf("unsupported output %T", out)
	}
	return nil
}

// transact 构造、签名并广播 EIP-1559 交易，然后轮询回执直到上链。
func (c *Client) transact(ctx context.Context, sess *keys.Session, to common.Address, method string, args ...any) (web3.Receipt, error) {
	if !sess.Active() {
		return web3.Receipt{}, keys.ErrSessionClosed
	}
	data, err := storeABI.Pack(method, args...)
	if err != nil {
		return web3.Receipt{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "pack "+method)
	}
	chainID, err := c.chainIDOf(ctx)
	if err != nil {
		return web3.Receipt{}, err
	}
	from := sess.Address()

	c.sendMu.Lock()
	tx, err := c.buildTx(ctx, from, to, data, chainID)
	if err == nil {
		signer := coretypes.LatestSignerForChainID(chainID)
		err = sess.WithKey(func(key *ecdsa.PrivateKey) error {
			var signErr error
			tx, signErr = coretypes.SignTx(tx, signer, key)
			return signErr
		})
		if err == nil {
			if sendErr := c.backend.SendTransaction(ctx, tx); sendErr != nil {
				err = web3.Unavailable(sendErr, "send "+method)
			}
		}
	}
	c.sendMu.Unlock()
	if err != nil {
		return web3.Receipt{}, err
	}

	c.logger.Info("登记簿交易已广播",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
		slog.String("store", to.Hex()))
	logger.Audit().Info("registry transaction",
		slog.String("method", method),
		slog.String("from", from.Hex()),
		slog.String("store", to.Hex()),
		slog.String("tx", tx.Hash().Hex()))

	receipt, err := c.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return web3.Receipt{}, err
	}
	result := web3.Receipt{TxHash: tx.Hash(), GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return result, xerrors.New(web3.CodeRegistryReverted, method+" reverted", xerrors.WithMetadata("tx", tx.Hash().Hex()))
	}
	return result, nil
}

func (c *Client) buildTx(ctx context.Context, from, to common.Address, data []byte, chainID *big.Int) (*coretypes.Transaction, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, web3.Unavailable(err, "pending nonce")
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, web3.Unavailable(err, "suggest gas tip")
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, web3.Unavailable(err, "latest header")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, xerrors.Wrap(web3.CodeRegistryReverted, err, "estimate gas")
	}
	return coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5,
		To:        &to,
		Data:      data,
	}), nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	var receipt *coretypes.Receipt
	op := func() error {
		r, err := c.backend.TransactionReceipt(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		receipt = r
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.pollInterval
	policy.MaxElapsedTime = c.receiptTimeout
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "wait receipt "+hash.Hex())
		}
		return nil, web3.Unavailable(err, "wait receipt "+hash.Hex())
	}
	return receipt, nil
}
