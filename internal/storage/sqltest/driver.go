// Package sqltest 提供按预期顺序回放操作的 database/sql 驱动，用于仓库层测试。
package sqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
)

type opType int

const (
	opExec opType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (t opType) String() string {
	return [...]string{"exec", "query", "begin", "commit", "rollback"}[t]
}

// Op 为一次预期的数据库操作。
type Op struct {
	typ    opType
	query  string
	result Result
	rows   Rows
	err    error
}

// Result 为 Exec 的返回值。
type Result struct {
	LastID   int64
	Affected int64
}

func (r Result) LastInsertId() (int64, error) { return r.LastID, nil }
func (r Result) RowsAffected() (int64, error) { return r.Affected, nil }

// Rows 为 Query 的返回值。
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

// Exec 预期一条写语句。query 为空时不比对 SQL。
func Exec(query string, result Result) Op {
	return Op{typ: opExec, query: query, result: result}
}

// Query 预期一条查询。
func Query(query string, rows Rows) Op {
	return Op{typ: opQuery, query: query, rows: rows}
}

// Begin 预期开启事务。
func Begin() Op { return Op{typ: opBegin} }

// Commit 预期提交事务。
func Commit() Op { return Op{typ: opCommit} }

// Rollback 预期回滚事务。
func Rollback() Op { return Op{typ: opRollback} }

// WithErr 让该操作返回 err。
func (o Op) WithErr(err error) Op {
	o.err = err
	return o
}

// Driver 按顺序消费预期操作。
type Driver struct {
	ops  []Op
	idx  int32
	args [][]driver.NamedValue
}

var driverSeq atomic.Int32

// NewDB 注册一个独立的驱动实例并返回单连接的 *sql.DB。
func NewDB(t *testing.T, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()
	drv := &Driver{ops: ops}
	name := fmt.Sprintf("sqltest-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open fake db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

// AssertConsumed 确认全部预期操作都已执行。
func (d *Driver) AssertConsumed(t *testing.T) {
	t.Helper()
	if got := int(atomic.LoadInt32(&d.idx)); got != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", got, len(d.ops))
	}
}

// Args 返回第 i 次 Exec/Query 调用的参数。
func (d *Driver) Args(i int) []any {
	if i < 0 || i >= len(d.args) {
		return nil
	}
	out := make([]any, len(d.args[i]))
	for j, v := range d.args[i] {
		out[j] = v.Value
	}
	return out
}

// Open 实现 driver.Driver。
func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected opType, query string) (*Op, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s: %s", expected, Normalize(query))
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %s, got %s", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && Normalize(op.query) != Normalize(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", Normalize(op.query), Normalize(query))
	}
	return op, nil
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	c.driver.args = append(c.driver.args, args)
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	c.driver.args = append(c.driver.args, args)
	if op.err != nil {
		return nil, op.err
	}
	return &rows{columns: op.rows.Columns, values: op.rows.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

// Normalize 折叠空白，便于比对多行 SQL。
func Normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
