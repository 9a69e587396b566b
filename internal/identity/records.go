package identity

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const recordPrefix = "openatts"

// StoreRecord 是 DNS-TXT 身份证明记录，形如
// "openatts net=ethereum netId=1 addr=0x...".
type StoreRecord struct {
	Network   string
	NetworkID string
	Address   common.Address
}

// DIDRecord 是 DNS-DID 身份证明记录，形如
// "openatts a=dns-did; p=did:ethr:0x...#controller; v=1.0;".
type DIDRecord struct {
	Algorithm string
	Key       string
	Version   string
}

// ParseStoreRecord 解析文档存储记录，非 openatts 记录或缺少地址时返回 false。
func ParseStoreRecord(txt string) (StoreRecord, bool) {
	fields, ok := recordFields(txt, " ")
	if !ok {
		return StoreRecord{}, false
	}
	addr := fields["addr"]
	if !common.IsHexAddress(addr) {
		return StoreRecord{}, false
	}
	return StoreRecord{
		Network:   fields["net"],
		NetworkID: fields["netId"],
		Address:   common.HexToAddress(addr),
	}, true
}

// ParseDIDRecord 解析 DNS-DID 记录。
func ParseDIDRecord(txt string) (DIDRecord, bool) {
	fields, ok := recordFields(txt, ";")
	if !ok {
		return DIDRecord{}, false
	}
	if fields["a"] != "dns-did" || fields["p"] == "" {
		return DIDRecord{}, false
	}
	return DIDRecord{Algorithm: fields["a"], Key: fields["p"], Version: fields["v"]}, true
}

// HasStore 判断记录集中是否登记了指定文档存储地址。network 为空时不比较网络。
func HasStore(records []string, store common.Address, network string) bool {
	for _, txt := range records {
		rec, ok := ParseStoreRecord(txt)
		if !ok || rec.Address != store {
			continue
		}
		if network == "" || strings.EqualFold(rec.Network, network) {
			return true
		}
	}
	return false
}

// HasDIDKey 判断记录集中是否登记了指定 DID 密钥。比较时忽略 did:ethr 地址大小写。
func HasDIDKey(records []string, key string) bool {
	for _, txt := range records {
		rec, ok := ParseDIDRecord(txt)
		if ok && strings.EqualFold(rec.Key, key) {
			return true
		}
	}
	return false
}

func recordFields(txt, sep string) (map[string]string, bool) {
	txt = strings.TrimSpace(txt)
	rest, ok := strings.CutPrefix(txt, recordPrefix)
	if !ok || (rest != "" && rest[0] != ' ') {
		return nil, false
	}
	fields := make(map[string]string)
	for _, part := range strings.Split(rest, sep) {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields, true
}
