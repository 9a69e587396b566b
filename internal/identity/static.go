package identity

import (
	"context"
	"strings"
	"sync"
)

// Static 是内存中的解析器，用于本地运行与测试。
type Static struct {
	mu   sync.RWMutex
	txt  map[string][]string
	keys map[string]DIDKey
	err  error
}

// NewStatic 创建空的静态解析器。
func NewStatic() *Static {
	return &Static{txt: make(map[string][]string), keys: make(map[string]DIDKey)}
}

// AddTXT 为域名追加 TXT 记录。
func (s *Static) AddTXT(domain string, records ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(domain)
	s.txt[key] = append(s.txt[key], records...)
}

// AddKey 登记 DID 密钥，did 不含片段。
func (s *Static) AddKey(key DIDKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.DID] = key
}

// FailWith 让后续查询返回 err，传 nil 恢复。
func (s *Static) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// ResolveDNSTXT 实现 Resolver。
func (s *Static) ResolveDNSTXT(ctx context.Context, domain string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	records, ok := s.txt[strings.ToLower(domain)]
	if !ok {
		return nil, notFound("domain %s does not exist", domain)
	}
	return append([]string(nil), records...), nil
}

// ResolveDIDKey 实现 Resolver。
func (s *Static) ResolveDIDKey(ctx context.Context, did string) (DIDKey, error) {
	if err := ctx.Err(); err != nil {
		return DIDKey{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return DIDKey{}, s.err
	}
	base, _, _ := strings.Cut(did, "#")
	key, ok := s.keys[base]
	if !ok {
		return DIDKey{}, notFound("did %s is not registered", base)
	}
	return key, nil
}
