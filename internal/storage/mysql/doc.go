// Package mysql 提供基于 MySQL 的文档归档，以及共享的连接与迁移工具。
package mysql
