package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
)

// readInput 读取文件内容，"-" 表示标准输入。
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取输入失败", xerrors.WithMetadata("path", path))
	}
	return data, nil
}

// readDocument 解析文档。正文没有 version 字段时按 fallback 版本当作原始文档处理。
func readDocument(cmd *cobra.Command, path string, fallback document.Version) (*document.Document, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, xerrors.Wrap(document.CodeInvalidDocument, err, "输入不是 JSON 对象", xerrors.WithMetadata("path", path))
	}
	if probe.Version == "" && fallback != "" {
		return document.ParseRaw(data, fallback)
	}
	return document.Decode(data)
}

// writeOutput 写入 out 指定的文件，out 为空时写标准输出。
func writeOutput(cmd *cobra.Command, out string, data []byte) error {
	if out == "" {
		_, err := cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建输出目录失败")
		}
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入输出失败", xerrors.WithMetadata("path", out))
	}
	return nil
}

func writeDocument(cmd *cobra.Command, out string, doc *document.Document) error {
	raw, err := doc.MarshalJSON()
	if err != nil {
		return err
	}
	return writeOutput(cmd, out, raw)
}

func writeJSON(cmd *cobra.Command, out string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(cmd, out, raw)
}
