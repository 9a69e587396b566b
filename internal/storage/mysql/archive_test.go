package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"OpenAttest-Core/internal/storage"
	"OpenAttest-Core/internal/storage/sqltest"
)

const (
	insertArchiveSQL = `INSERT INTO document_archive (merkle_root, stage, version, document, created_at)
    VALUES (?, ?, ?, ?, ?)`
	latestArchiveSQL = `SELECT id, merkle_root, stage, version, document, created_at FROM document_archive
    WHERE merkle_root = ? ORDER BY id DESC LIMIT 1`
	listArchiveSQL = `SELECT id, merkle_root, stage, version, document, created_at FROM document_archive
    ORDER BY id DESC LIMIT ?`
)

var archiveCols = []string{"id", "merkle_root", "stage", "version", "document", "created_at"}

func TestSQLArchiveSave(t *testing.T) {
	t.Parallel()
	db, drv := sqltest.NewDB(t, sqltest.Exec(insertArchiveSQL, sqltest.Result{LastID: 42, Affected: 1}))
	defer drv.AssertConsumed(t)

	archive := NewSQLArchiveFromDB(db)
	rec := &storage.Record{MerkleRoot: "0xABCD", Stage: "wrapped", Version: "v2", Document: []byte(`{}`), CreatedAt: 1}
	if err := archive.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.ID != 42 {
		t.Fatalf("expected id 42, got %d", rec.ID)
	}
	if args := drv.Args(0); args[0] != "0xabcd" {
		t.Fatalf("根哈希应以小写存储: %v", args)
	}
}

func TestSQLArchiveLatestAndList(t *testing.T) {
	t.Parallel()
	db, drv := sqltest.NewDB(t,
		sqltest.Query(latestArchiveSQL, sqltest.Rows{
			Columns: archiveCols,
			Values:  [][]driver.Value{{int64(7), "0xab", "signed", "v2", `{"a":1}`, int64(10)}},
		}),
		sqltest.Query(latestArchiveSQL, sqltest.Rows{Columns: archiveCols}),
		sqltest.Query(listArchiveSQL, sqltest.Rows{
			Columns: archiveCols,
			Values: [][]driver.Value{
				{int64(2), "0xcd", "wrapped", "v3", `{}`, int64(20)},
				{int64(1), "", "raw", "v3", `{}`, int64(10)},
			},
		}),
	)
	defer drv.AssertConsumed(t)

	archive := NewSQLArchiveFromDB(db)
	ctx := context.Background()
	rec, err := archive.Latest(ctx, "0xAB")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.ID != 7 || string(rec.Document) != `{"a":1}` {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := archive.Latest(ctx, "0xff"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	list, err := archive.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != 2 || list[1].Stage != "raw" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestRunMigrationsAppliesPendingFiles(t *testing.T) {
	t.Parallel()
	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) != 2 || files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("unexpected migrations %+v", files)
	}

	ops := []sqltest.Op{
		sqltest.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, sqltest.Result{}),
		sqltest.Query(`SELECT version FROM schema_migrations`, sqltest.Rows{
			Columns: []string{"version"},
			Values:  [][]driver.Value{{"0001"}},
		}),
		sqltest.Begin(),
	}
	for _, stmt := range files[1].statements {
		ops = append(ops, sqltest.Exec(stmt, sqltest.Result{}))
	}
	ops = append(ops,
		sqltest.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, sqltest.Result{Affected: 1}),
		sqltest.Commit(),
	)
	db, drv := sqltest.NewDB(t, ops...)
	defer drv.AssertConsumed(t)

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
}

func TestRunMigrationsRollsBackOnFailure(t *testing.T) {
	t.Parallel()
	db, drv := sqltest.NewDB(t,
		sqltest.Exec("", sqltest.Result{}),
		sqltest.Query("", sqltest.Rows{Columns: []string{"version"}}),
		sqltest.Begin(),
		sqltest.Exec("", sqltest.Result{}).WithErr(errors.New("syntax error")),
		sqltest.Rollback(),
	)
	defer drv.AssertConsumed(t)

	if err := runMigrations(context.Background(), db); err == nil {
		t.Fatalf("迁移失败时应返回错误")
	}
}
