// Package api 暴露文档任务的 REST 接口：提交与查询签发、吊销、校验任务，
// 同步校验单份文档，以及读取归档中的文档。
package api
