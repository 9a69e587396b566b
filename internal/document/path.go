package document

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// ObfuscatedKey 为遮蔽标记对象的唯一键，其值为该字段的叶子哈希。
const ObfuscatedKey = "$obfuscated"

// Field 是正文中的一个叶子字段。
type Field struct {
	Path       string
	Value      any
	Obfuscated bool
	Marker     string
}

// Flatten 按路径顺序列出正文的全部叶子。对象键以点号连接，数组下标写作 [i]，
// 空键写作 [""]，键中的 . [ ] \ 以反斜杠转义。空对象、空数组与遮蔽标记都视为叶子。
func Flatten(body map[string]any) []Field {
	var out []Field
	walk("", body, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func walk(prefix string, v any, out *[]Field) {
	switch node := v.(type) {
	case map[string]any:
		if marker, ok := markerOf(node); ok {
			*out = append(*out, Field{Path: prefix, Value: node, Obfuscated: true, Marker: marker})
			return
		}
		if len(node) == 0 && prefix != "" {
			*out = append(*out, Field{Path: prefix, Value: node})
			return
		}
		for key, child := range node {
			walk(joinKey(prefix, key), child, out)
		}
	case []any:
		if len(node) == 0 {
			*out = append(*out, Field{Path: prefix, Value: node})
			return
		}
		for i, child := range node {
			walk(prefix+"["+strconv.Itoa(i)+"]", child, out)
		}
	default:
		*out = append(*out, Field{Path: prefix, Value: node})
	}
}

func markerOf(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	s, ok := m[ObfuscatedKey].(string)
	return s, ok
}

func newMarker(hash string) map[string]any {
	return map[string]any{ObfuscatedKey: hash}
}

// emptyKeySegment 是空字符串键的路径段，保证每个键都占一个非空段。
const emptyKeySegment = `[""]`

func joinKey(prefix, key string) string {
	if key == "" {
		return prefix + emptyKeySegment
	}
	if prefix == "" {
		return escapeKey(key)
	}
	return prefix + "." + escapeKey(key)
}

func escapeKey(key string) string {
	if !strings.ContainsAny(key, `.[]\`) {
		return key
	}
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

type segment struct {
	key   string
	index int
	isIdx bool
}

func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, invalidf("empty field path")
	}
	var (
		segs []segment
		cur  strings.Builder
		open bool
	)
	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, segment{key: cur.String()})
			cur.Reset()
		}
	}
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '\\' && i+1 < len(path):
			i++
			cur.WriteByte(path[i])
		case c == '.' && !open:
			flush()
		case c == '[' && !open:
			flush()
			open = true
		case c == ']' && open:
			if cur.String() == `""` {
				segs = append(segs, segment{key: ""})
				cur.Reset()
				open = false
				continue
			}
			idx, err := strconv.Atoi(cur.String())
			if err != nil || idx < 0 {
				return nil, invalidf("bad array index in path %q", path)
			}
			segs = append(segs, segment{index: idx, isIdx: true})
			cur.Reset()
			open = false
		default:
			cur.WriteByte(c)
		}
	}
	if open {
		return nil, invalidf("unterminated index in path %q", path)
	}
	flush()
	return segs, nil
}

// setAt 在已克隆的正文中替换 path 处的值。
func setAt(body map[string]any, path string, value any) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	var parent any = body
	for i, seg := range segs {
		last := i == len(segs)-1
		switch node := parent.(type) {
		case map[string]any:
			if seg.isIdx {
				return invalidf("path %q indexes an object", path)
			}
			if last {
				node[seg.key] = value
				return nil
			}
			parent = node[seg.key]
		case []any:
			if !seg.isIdx || seg.index >= len(node) {
				return invalidf("path %q does not match array", path)
			}
			if last {
				node[seg.index] = value
				return nil
			}
			parent = node[seg.index]
		default:
			return invalidf("path %q descends into a scalar", path)
		}
	}
	return nil
}

// underPath 判断 leaf 是否等于 prefix 或位于其子树中。
func underPath(leaf, prefix string) bool {
	if leaf == prefix {
		return true
	}
	if !strings.HasPrefix(leaf, prefix) {
		return false
	}
	rest := leaf[len(prefix):]
	return strings.HasPrefix(rest, ".") || strings.HasPrefix(rest, "[")
}

func cloneValue(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return node
	}
}

// normalizeBody 经由一次 JSON 往返把任意 Go 值转换为 map/slice/json.Number 表示。
func normalizeBody(body map[string]any) (map[string]any, error) {
	if body == nil {
		return nil, invalidf("document body is nil")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, invalidf("document body is not JSON: %v", err)
	}
	return decodeObject(raw)
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, invalidf("decode document: %v", err)
	}
	if out == nil {
		return nil, invalidf("document must be a JSON object")
	}
	return out, nil
}
