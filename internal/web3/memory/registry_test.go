package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/internal/proofs"
	"OpenAttest-Core/internal/web3"
)

func TestIssueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sess, _ := keys.Generate()
	store := common.HexToAddress("0x01")
	reg := NewRegistry()
	reg.Deploy(store, sess.Address())
	root := proofs.Sum([]byte("root"))

	if _, err := reg.Issue(ctx, sess, store, root); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := reg.Issue(ctx, sess, store, root); !errors.Is(err, web3.ErrAlreadyIssued) {
		t.Fatalf("第二次签发应返回 AlreadyIssued, got %v", err)
	}
	if ok, _ := reg.IsIssued(ctx, store, root); !ok {
		t.Fatalf("isIssued 应为 true")
	}
	if _, err := reg.Revoke(ctx, sess, store, proofs.Sum([]byte("other"))); !errors.Is(err, web3.ErrNotIssued) {
		t.Fatalf("expected NotIssued, got %v", err)
	}
	if _, err := reg.Revoke(ctx, sess, store, root); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked, _ := reg.IsRevoked(ctx, store, root); !revoked {
		t.Fatalf("isRevoked 应为 true")
	}
}

func TestFailWithAndOwnership(t *testing.T) {
	ctx := context.Background()
	owner, _ := keys.Generate()
	other, _ := keys.Generate()
	store := common.HexToAddress("0x02")
	reg := NewRegistry()
	reg.Deploy(store, owner.Address())

	if _, err := reg.Issue(ctx, other, store, proofs.Sum([]byte("x"))); xerrors.CodeOf(err) != web3.CodeRegistryReverted {
		t.Fatalf("非所有者应被拒绝, got %v", err)
	}
	reg.FailWith(errors.New("rpc down"))
	if _, err := reg.IsIssued(ctx, store, proofs.Sum([]byte("x"))); xerrors.CodeOf(err) != web3.CodeRegistryUnavailable {
		t.Fatalf("expected REGISTRY_UNAVAILABLE, got %v", err)
	}
	reg.FailWith(nil)
	if got, err := reg.OwnerOf(ctx, store); err != nil || got != owner.Address() {
		t.Fatalf("OwnerOf = %s, %v", got.Hex(), err)
	}
}
