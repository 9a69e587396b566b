package identity

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/miekg/dns"
	"github.com/redis/go-redis/v9"

	xerrors "OpenAttest-Core/internal/errors"
)

const storeAddr = "0x2f60375e8144e16Adf1979936301D8341D58C36C"

func startDNS(t *testing.T, zone map[string][][]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			q := r.Question[0]
			records, ok := zone[q.Name]
			if !ok {
				m.SetRcode(r, dns.RcodeNameError)
			}
			for _, chunks := range records {
				m.Answer = append(m.Answer, &dns.TXT{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
					Txt: chunks,
				})
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestDNSResolverJoinsChunksAndMapsNXDOMAIN(t *testing.T) {
	addr := startDNS(t, map[string][][]string{
		"example.openattestation.com.": {
			{"openatts net=ethereum ", "netId=1 addr=" + storeAddr},
			{"v=spf1 -all"},
		},
	})
	r, err := NewDNSResolver(DNSConfig{Nameservers: []string{addr}, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewDNSResolver: %v", err)
	}

	records, err := r.ResolveDNSTXT(context.Background(), "example.openattestation.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("期望 2 条记录, got %v", records)
	}
	if !HasStore(records, common.HexToAddress(storeAddr), "ethereum") {
		t.Fatalf("分段记录应被拼接后识别: %v", records)
	}

	_, err = r.ResolveDNSTXT(context.Background(), "missing.example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("NXDOMAIN 应映射为 NotFound, got %v", err)
	}
}

func TestDNSResolverUnreachableIsResolverError(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := pc.LocalAddr().String()
	pc.Close()

	r, err := NewDNSResolver(DNSConfig{Nameservers: []string{addr}, Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewDNSResolver: %v", err)
	}
	_, err = r.ResolveDNSTXT(context.Background(), "example.com")
	if xerrors.CodeOf(err) != CodeResolverError {
		t.Fatalf("期望 RESOLVER_ERROR, got %v", err)
	}
	if !xerrors.RetryableError(err) {
		t.Fatalf("解析错误应可重试")
	}
}

func TestParseRecords(t *testing.T) {
	rec, ok := ParseStoreRecord("openatts net=ethereum netId=3 addr=" + storeAddr)
	if !ok || rec.NetworkID != "3" || rec.Address != common.HexToAddress(storeAddr) {
		t.Fatalf("unexpected store record %+v ok=%v", rec, ok)
	}
	if _, ok := ParseStoreRecord("openattsx net=ethereum addr=" + storeAddr); ok {
		t.Fatalf("前缀不完整的记录不应被识别")
	}
	if _, ok := ParseStoreRecord("openatts net=ethereum addr=nothex"); ok {
		t.Fatalf("非法地址不应被识别")
	}

	key := "did:ethr:0xE712878f6E8d5d4F9e87E10DA604F9cB564C9a89#controller"
	did, ok := ParseDIDRecord("openatts a=dns-did; p=" + key + "; v=1.0;")
	if !ok || did.Key != key || did.Version != "1.0" {
		t.Fatalf("unexpected did record %+v ok=%v", did, ok)
	}
	if !HasDIDKey([]string{"openatts a=dns-did; p=" + key + "; v=1.0;"}, key) {
		t.Fatalf("HasDIDKey 应找到密钥")
	}
	if HasDIDKey([]string{"openatts net=ethereum netId=3 addr=" + storeAddr}, key) {
		t.Fatalf("文档存储记录不应匹配 DID")
	}
}

type fakeOwners struct {
	owner common.Address
	err   error
}

func (f fakeOwners) IdentityOwner(context.Context, common.Address) (common.Address, error) {
	return f.owner, f.err
}

func TestResolveEthrDID(t *testing.T) {
	identity := common.HexToAddress("0xE712878f6E8d5d4F9e87E10DA604F9cB564C9a89")
	did := "did:ethr:" + identity.Hex()

	key, err := NewDIDResolver(nil).ResolveDIDKey(context.Background(), did+"#controller")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key.Address != identity || key.KeyID != did+"#controller" {
		t.Fatalf("unexpected key %+v", key)
	}

	delegate := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	key, err = NewDIDResolver(fakeOwners{owner: delegate}).ResolveDIDKey(context.Background(), "did:ethr:0x5:"+identity.Hex())
	if err != nil {
		t.Fatalf("resolve with network: %v", err)
	}
	if key.Address != delegate {
		t.Fatalf("应使用登记簿中的控制者, got %s", key.Address.Hex())
	}

	_, err = NewDIDResolver(fakeOwners{err: errors.New("rpc down")}).ResolveDIDKey(context.Background(), did)
	if xerrors.CodeOf(err) != CodeResolverError {
		t.Fatalf("登记簿故障应为 RESOLVER_ERROR, got %v", err)
	}

	if _, err := NewDIDResolver(nil).ResolveDIDKey(context.Background(), "did:web:example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("不支持的方法应返回 NotFound, got %v", err)
	}
}

func TestResolveKeyDID(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	did, err := EncodeKeyDID(crypto.FromECDSAPub(&priv.PublicKey))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	key, err := NewDIDResolver(nil).ResolveDIDKey(context.Background(), did)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key.Address != crypto.PubkeyToAddress(priv.PublicKey) {
		t.Fatalf("did:key 地址不匹配")
	}
	if key.PublicKey == nil {
		t.Fatalf("did:key 应返回公钥")
	}

	if _, err := NewDIDResolver(nil).ResolveDIDKey(context.Background(), "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ed25519 did:key 不受支持, got %v", err)
	}
}

type countingResolver struct {
	*Static
	calls atomic.Int32
}

func (c *countingResolver) ResolveDNSTXT(ctx context.Context, domain string) ([]string, error) {
	c.calls.Add(1)
	return c.Static.ResolveDNSTXT(ctx, domain)
}

func TestCachingResolverWithLRU(t *testing.T) {
	static := NewStatic()
	static.AddTXT("example.com", "openatts net=ethereum netId=1 addr="+storeAddr)
	inner := &countingResolver{Static: static}
	r := NewCachingResolver(inner, NewLRUCache(8, time.Minute), nil)

	for i := 0; i < 3; i++ {
		records, err := r.ResolveDNSTXT(context.Background(), "Example.com.")
		if err != nil || len(records) != 1 {
			t.Fatalf("resolve %d: %v %v", i, records, err)
		}
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("期望只查询一次, got %d", inner.calls.Load())
	}

	for i := 0; i < 2; i++ {
		if _, err := r.ResolveDNSTXT(context.Background(), "missing.com"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if inner.calls.Load() != 3 {
		t.Fatalf("NotFound 不应被缓存, calls=%d", inner.calls.Load())
	}
}

func TestRedisCacheFailureFallsThrough(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	cache, err := NewRedisCache(client, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	defer cache.Close()

	static := NewStatic()
	static.AddTXT("example.com", "openatts net=ethereum netId=1 addr="+storeAddr)
	r := NewCachingResolver(static, cache, nil)
	records, err := r.ResolveDNSTXT(context.Background(), "example.com")
	if err != nil || len(records) != 1 {
		t.Fatalf("缓存不可用时应回落到下层解析器: %v %v", records, err)
	}
}
