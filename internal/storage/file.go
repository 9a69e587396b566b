package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "OpenAttest-Core/internal/errors"
)

const fileArchiveWindow = 512

// FileArchive 以 JSON Lines 追加写入本地文件，内存中保留最近的记录。
type FileArchive struct {
	mu       sync.RWMutex
	dataFile string
	nextID   int64
	records  []Record
}

// NewFileArchive 在 dataDir 下打开或创建 documents.log。
func NewFileArchive(dataDir string) (*FileArchive, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建归档目录失败")
	}
	a := &FileArchive{dataFile: filepath.Join(dataDir, "documents.log"), nextID: 1}
	if err := a.loadFromDisk(); err != nil {
		return nil, err
	}
	return a, nil
}

// Save 追加一条记录并分配 ID。
func (a *FileArchive) Save(_ context.Context, rec *Record) error {
	if rec == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.OpenFile(a.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开归档文件失败")
	}
	defer file.Close()

	rec.ID = a.nextID
	encoded, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化归档记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入归档文件失败")
	}
	a.nextID++
	a.records = append([]Record{*rec}, a.records...)
	if len(a.records) > fileArchiveWindow {
		a.records = a.records[:fileArchiveWindow]
	}
	return nil
}

// Latest 在内存窗口中查找根哈希最近的记录。
func (a *FileArchive) Latest(_ context.Context, merkleRoot string) (*Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, rec := range a.records {
		if rec.MerkleRoot != "" && strings.EqualFold(rec.MerkleRoot, merkleRoot) {
			out := rec
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// ListLatest 按写入时间倒序返回记录。
func (a *FileArchive) ListLatest(_ context.Context, limit int) ([]Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if limit <= 0 || limit > len(a.records) {
		limit = len(a.records)
	}
	out := make([]Record, limit)
	copy(out, a.records[:limit])
	return out, nil
}

// Close 对文件归档无需操作。
func (a *FileArchive) Close() error { return nil }

func (a *FileArchive) loadFromDisk() error {
	file, err := os.OpenFile(a.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取归档文件失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var restored []Record
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.ID >= a.nextID {
			a.nextID = rec.ID + 1
		}
		restored = append([]Record{rec}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析归档文件失败")
	}
	if len(restored) > fileArchiveWindow {
		restored = restored[:fileArchiveWindow]
	}
	a.records = restored
	return nil
}

var _ Archive = (*FileArchive)(nil)
