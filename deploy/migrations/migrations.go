package migrations

import "embed"

// Files 暴露文档归档与任务状态表的 SQL 迁移文件，按文件名前缀的版本号顺序执行。
//
//go:embed *.sql
var Files embed.FS
