package proofs

import (
	"encoding/json"
	"fmt"

	canonicaljson "github.com/gibson042/canonicaljson-go"
)

// Canonical 以规范 JSON 序列化叶子取值、字段路径与整篇正文，用于计算哈希。
// 对象键按字典序排列；json.Number 作为数字字面量编码，不经 float64 转换。
func Canonical(v any) ([]byte, error) {
	out, err := canonicaljson.Marshal(literalNumbers(v))
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}

// numberLiteral 让数字以原样字面量参与编码。
type numberLiteral string

func (n numberLiteral) MarshalJSON() ([]byte, error) {
	if n == "" {
		return []byte("0"), nil
	}
	return []byte(n), nil
}

func literalNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		return numberLiteral(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = literalNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = literalNumbers(item)
		}
		return out
	default:
		return v
	}
}
