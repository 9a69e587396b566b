// Package document 定义可验证文档的数据模型及其本地变换：包装（加盐哈希与
// Merkle 树）、字段遮蔽、结构校验与完整性重算。
//
// 文档的版本与阶段（raw、wrapped、signed）在构造或解码时确定一次，
// 之后不再根据可选字段推断。包装使用新的随机盐，同一正文重复包装
// 会得到不同的 merkleRoot，这是预期行为。
package document
