package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/storage"
)

const archiveColumns = `id, merkle_root, stage, version, document, created_at`

// SQLArchive 把文档归档写入 document_archive 表。
type SQLArchive struct {
	db *sql.DB
}

// NewSQLArchive 打开连接池并执行迁移。
func NewSQLArchive(ctx context.Context, cfg Config) (*SQLArchive, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &SQLArchive{db: db}, nil
}

// NewSQLArchiveFromDB 复用已有连接池，调用方负责迁移。
func NewSQLArchiveFromDB(db *sql.DB) *SQLArchive {
	return &SQLArchive{db: db}
}

// Save 实现 storage.Archive。
func (s *SQLArchive) Save(ctx context.Context, rec *storage.Record) error {
	if rec == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	const stmt = `INSERT INTO document_archive (merkle_root, stage, version, document, created_at)
    VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, stmt,
		strings.ToLower(rec.MerkleRoot),
		rec.Stage,
		rec.Version,
		string(rec.Document),
		rec.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入文档归档失败")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取归档 ID 失败")
	}
	rec.ID = id
	return nil
}

// Latest 实现 storage.Archive。
func (s *SQLArchive) Latest(ctx context.Context, merkleRoot string) (*storage.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+archiveColumns+` FROM document_archive
    WHERE merkle_root = ? ORDER BY id DESC LIMIT 1`, strings.ToLower(merkleRoot))
	rec, err := scanRecord(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询文档归档失败")
	}
	return rec, nil
}

// ListLatest 实现 storage.Archive。
func (s *SQLArchive) ListLatest(ctx context.Context, limit int) ([]storage.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+archiveColumns+` FROM document_archive
    ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询文档归档失败")
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析归档记录失败")
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历归档记录失败")
	}
	return out, nil
}

// Close 关闭底层数据库连接。
func (s *SQLArchive) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*storage.Record, error) {
	var rec storage.Record
	var doc string
	if err := row.Scan(&rec.ID, &rec.MerkleRoot, &rec.Stage, &rec.Version, &doc, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Document = []byte(doc)
	return &rec, nil
}

var _ storage.Archive = (*SQLArchive)(nil)
