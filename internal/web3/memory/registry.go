// Package memory 提供进程内的签发登记簿，用于开发环境与测试。
package memory

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/internal/proofs"
	"OpenAttest-Core/internal/web3"
)

type entry struct {
	block   uint64
	revoked bool
}

type store struct {
	owner   common.Address
	entries map[proofs.Hash]*entry
}

// Registry 是并发安全的内存登记簿。写操作要求会话地址为合约所有者。
type Registry struct {
	mu     sync.RWMutex
	block  uint64
	stores map[common.Address]*store
	fail   error
}

var _ web3.Registry = (*Registry)(nil)

// NewRegistry 创建空登记簿。
func NewRegistry() *Registry {
	return &Registry{stores: make(map[common.Address]*store)}
}

// Deploy 登记一个文档存储及其所有者。
func (r *Registry) Deploy(addr, owner common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[addr] = &store{owner: owner, entries: make(map[proofs.Hash]*entry)}
}

// FailWith 让之后的所有调用返回 REGISTRY_UNAVAILABLE，传入 nil 恢复正常。
func (r *Registry) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *Registry) lookup(addr common.Address) (*store, error) {
	if r.fail != nil {
		return nil, web3.Unavailable(r.fail, "memory registry")
	}
	s, ok := r.stores[addr]
	if !ok {
		return nil, xerrors.New(web3.CodeRegistryMalformed, "no document store at "+addr.Hex())
	}
	return s, nil
}

// IsIssued 实现 web3.StatusReader。
func (r *Registry) IsIssued(ctx context.Context, addr common.Address, root proofs.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.lookup(addr)
	if err != nil {
		return false, err
	}
	_, ok := s.entries[root]
	return ok, nil
}

// IsRevoked 实现 web3.StatusReader。
func (r *Registry) IsRevoked(ctx context.Context, addr common.Address, root proofs.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.lookup(addr)
	if err != nil {
		return false, err
	}
	e, ok := s.entries[root]
	return ok && e.revoked, nil
}

// OwnerOf 实现 web3.StatusReader。
func (r *Registry) OwnerOf(ctx context.Context, addr common.Address) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.lookup(addr)
	if err != nil {
		return common.Address{}, err
	}
	return s.owner, nil
}

// IssuedBlock 返回签发时的伪区块号，未签发为 0。
func (r *Registry) IssuedBlock(ctx context.Context, addr common.Address, root proofs.Hash) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.lookup(addr)
	if err != nil {
		return 0, err
	}
	if e, ok := s.entries[root]; ok {
		return e.block, nil
	}
	return 0, nil
}

// Issue 实现 web3.Registry。
func (r *Registry) Issue(ctx context.Context, sess *keys.Session, addr common.Address, root proofs.Hash) (web3.Receipt, error) {
	return r.BulkIssue(ctx, sess, addr, []proofs.Hash{root})
}

// BulkIssue 签发尚未签发的根，全部已签发时返回 web3.ErrAlreadyIssued。
func (r *Registry) BulkIssue(ctx context.Context, sess *keys.Session, addr common.Address, roots []proofs.Hash) (web3.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.writable(ctx, sess, addr)
	if err != nil {
		return web3.Receipt{}, err
	}
	var pending []proofs.Hash
	for _, root := range roots {
		if _, ok := s.entries[root]; !ok {
			pending = append(pending, root)
		}
	}
	if len(pending) == 0 {
		return web3.Receipt{}, web3.ErrAlreadyIssued
	}
	r.block++
	for _, root := range pending {
		s.entries[root] = &entry{block: r.block}
	}
	return r.receipt(), nil
}

// Revoke 实现 web3.Registry。
func (r *Registry) Revoke(ctx context.Context, sess *keys.Session, addr common.Address, root proofs.Hash) (web3.Receipt, error) {
	return r.BulkRevoke(ctx, sess, addr, []proofs.Hash{root})
}

// BulkRevoke 撤销一组根；任一未签发时不做修改并返回 web3.ErrNotIssued。
func (r *Registry) BulkRevoke(ctx context.Context, sess *keys.Session, addr common.Address, roots []proofs.Hash) (web3.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.writable(ctx, sess, addr)
	if err != nil {
		return web3.Receipt{}, err
	}
	var pending []*entry
	for _, root := range roots {
		e, ok := s.entries[root]
		if !ok {
			return web3.Receipt{}, web3.ErrNotIssued
		}
		if !e.revoked {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return web3.Receipt{}, web3.ErrAlreadyRevoked
	}
	r.block++
	for _, e := range pending {
		e.revoked = true
	}
	return r.receipt(), nil
}

func (r *Registry) writable(ctx context.Context, sess *keys.Session, addr common.Address) (*store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !sess.Active() {
		return nil, keys.ErrSessionClosed
	}
	s, err := r.lookup(addr)
	if err != nil {
		return nil, err
	}
	if s.owner != sess.Address() {
		return nil, xerrors.New(web3.CodeRegistryReverted, "caller is not the document store owner")
	}
	return s, nil
}

func (r *Registry) receipt() web3.Receipt {
	return web3.Receipt{
		TxHash:      common.BigToHash(new(big.Int).SetUint64(r.block)),
		BlockNumber: r.block,
	}
}
