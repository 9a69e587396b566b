// Package storage 保存签发流程各阶段产出的文档副本。
package storage

import (
	"context"
	"encoding/json"
	"time"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/proofs"
)

// Record 为一份归档文档。原始文档没有根哈希，MerkleRoot 为空。
type Record struct {
	ID         int64           `json:"id"`
	MerkleRoot string          `json:"merkle_root"`
	Stage      string          `json:"stage"`
	Version    string          `json:"version"`
	Document   json.RawMessage `json:"document"`
	CreatedAt  int64           `json:"created_at"`
}

// Archive 抽象文档归档。实现必须可并发使用。
type Archive interface {
	Save(ctx context.Context, rec *Record) error
	// Latest 返回某个根哈希最近一次归档的记录。
	Latest(ctx context.Context, merkleRoot string) (*Record, error)
	ListLatest(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// ErrNotFound 表示归档中没有对应记录。
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "archived document not found")

// NewRecord 把文档序列化为归档记录。
func NewRecord(doc *document.Document) (*Record, error) {
	if doc == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "nil document")
	}
	raw, err := doc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Stage:     doc.Stage().String(),
		Version:   string(doc.Version()),
		Document:  raw,
		CreatedAt: time.Now().Unix(),
	}
	if doc.Stage() != document.StageRaw {
		root, err := doc.MerkleRoot()
		if err != nil {
			return nil, err
		}
		rec.MerkleRoot = proofs.EncodeHash(root)
	}
	return rec, nil
}

// Decode 还原归档中的文档。
func (r *Record) Decode() (*document.Document, error) {
	return document.Decode(r.Document)
}
