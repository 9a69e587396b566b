package proofs

import (
	"bytes"

	xerrors "OpenAttest-Core/internal/errors"
)

// ErrEmptyTree 表示没有任何叶子可供建树。
var ErrEmptyTree = xerrors.New(xerrors.CodeInvalidArgument, "merkle tree requires at least one leaf")

// Combine 将两个节点按数值大小排序后拼接哈希，结果与参数顺序无关。
func Combine(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return Sum(a[:], b[:])
}

// Tree 是在排序叶子之上逐层两两合并得到的 Merkle 树。
// 每层末尾落单的节点原样晋升到上一层。
type Tree struct {
	levels [][]Hash
}

// Build 对叶子排序后建树。单叶子树的根即该叶子本身。
func Build(leaves []Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	level := SortHashes(leaves)
	levels := [][]Hash{level}
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, Combine(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}, nil
}

// Root 计算叶子集合的根哈希。
func Root(leaves []Hash) (Hash, error) {
	tree, err := Build(leaves)
	if err != nil {
		return Hash{}, err
	}
	return tree.Root(), nil
}

// Root 返回树根。
func (t *Tree) Root() Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Leaves 返回排序后的叶子副本。
func (t *Tree) Leaves() []Hash {
	out := make([]Hash, len(t.levels[0]))
	copy(out, t.levels[0])
	return out
}

// Path 返回从 leaf 到根所需的兄弟节点，晋升的层不产生兄弟节点。
func (t *Tree) Path(leaf Hash) ([]Hash, error) {
	idx := -1
	for i, h := range t.levels[0] {
		if h == leaf {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, xerrors.New(xerrors.CodeNotFound, "leaf not in tree")
	}
	var path []Hash
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling < len(level) {
			path = append(path, level[sibling])
		}
		idx /= 2
	}
	return path, nil
}

// VerifyPath 用兄弟路径重算根并与 root 比较。
func VerifyPath(leaf Hash, path []Hash, root Hash) bool {
	acc := leaf
	for _, sibling := range path {
		acc = Combine(acc, sibling)
	}
	return acc == root
}
