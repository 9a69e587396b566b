package web3

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/internal/proofs"
)

// ChainSnapshot 汇总链的基础信息，用于启动自检与健康检查。
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// Receipt 为一次登记簿写操作的结果。
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// StatusReader 是校验流程需要的只读视图，实现必须可并发使用。
type StatusReader interface {
	IsIssued(ctx context.Context, store common.Address, root proofs.Hash) (bool, error)
	IsRevoked(ctx context.Context, store common.Address, root proofs.Hash) (bool, error)
	OwnerOf(ctx context.Context, store common.Address) (common.Address, error)
}

// Registry 在只读视图之上提供签发与撤销。写操作需要显式传入解锁会话。
//
// Issue 在根已签发时返回 ErrAlreadyIssued；Revoke 在根未签发时返回 ErrNotIssued，
// 已撤销时返回 ErrAlreadyRevoked。调用方应把 Already* 视为成功。
type Registry interface {
	StatusReader
	Issue(ctx context.Context, sess *keys.Session, store common.Address, root proofs.Hash) (Receipt, error)
	Revoke(ctx context.Context, sess *keys.Session, store common.Address, root proofs.Hash) (Receipt, error)
	BulkIssue(ctx context.Context, sess *keys.Session, store common.Address, roots []proofs.Hash) (Receipt, error)
	BulkRevoke(ctx context.Context, sess *keys.Session, store common.Address, roots []proofs.Hash) (Receipt, error)
	IssuedBlock(ctx context.Context, store common.Address, root proofs.Hash) (uint64, error)
}
