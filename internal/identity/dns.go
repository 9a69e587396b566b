package identity

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"OpenAttest-Core/pkg/logger"
)

const defaultResolvConf = "/etc/resolv.conf"

// DNSConfig 配置 TXT 查询。Nameservers 为空时读取 /etc/resolv.conf。
type DNSConfig struct {
	Nameservers []string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// DNSResolver 通过 miekg/dns 查询 TXT 记录，依次尝试各名称服务器。
type DNSResolver struct {
	udp     *dns.Client
	tcp     *dns.Client
	servers []string
	logger  *slog.Logger
}

// NewDNSResolver 构造 DNS 解析器。
func NewDNSResolver(cfg DNSConfig) (*DNSResolver, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	servers := make([]string, 0, len(cfg.Nameservers))
	for _, ns := range cfg.Nameservers {
		servers = append(servers, withPort(ns, "53"))
	}
	if len(servers) == 0 {
		conf, err := dns.ClientConfigFromFile(defaultResolvConf)
		if err != nil {
			return nil, resolverError(err, "read resolv.conf", defaultResolvConf)
		}
		for _, ns := range conf.Servers {
			servers = append(servers, withPort(ns, conf.Port))
		}
	}
	if len(servers) == 0 {
		return nil, resolverError(errors.New("no nameservers configured"), "configure dns resolver", "")
	}
	return &DNSResolver{
		udp:     &dns.Client{Net: "udp", Timeout: cfg.Timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: cfg.Timeout},
		servers: servers,
		logger:  logger.OrDefault(cfg.Logger, "identity.dns"),
	}, nil
}

// ResolveDNSTXT 返回域名下的全部 TXT 字符串，每条记录的分段会被拼接。
func (r *DNSResolver) ResolveDNSTXT(ctx context.Context, domain string) ([]string, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, notFound("empty domain")
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, err := r.exchange(ctx, m, server)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Debug("dns exchange failed", "server", server, "domain", domain, "error", err)
			lastErr = err
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
			return txtRecords(resp), nil
		case dns.RcodeNameError:
			return nil, notFound("domain %s does not exist", domain)
		default:
			lastErr = errors.New("rcode " + dns.RcodeToString[resp.Rcode])
		}
	}
	return nil, resolverError(lastErr, "query TXT records", domain)
}

// exchange 先走 UDP，响应被截断时改用 TCP 重试。
func (r *DNSResolver) exchange(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
	resp, _, err := r.udp.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, m, server)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func txtRecords(resp *dns.Msg) []string {
	out := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out
}

func withPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, port)
}
