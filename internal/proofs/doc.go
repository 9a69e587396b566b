// Package proofs 提供文档完整性所需的哈希原语：加盐叶子、规范化 JSON、
// 排序 Merkle 树以及单叶子的兄弟路径校验。所有哈希均为 Keccak-256。
package proofs
