package types

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain 区块链网络
type Chain int64

const (
	ChainMainnet Chain = 1
	ChainSepolia Chain = 11155111
	ChainHardhat Chain = 31337
)

// ZeroAddress 零地址
var ZeroAddress = common.Address{}

// NormalizeAddress 归一化地址（校验和格式）
// 空字符串返回零地址
func NormalizeAddress(addr string) common.Address {
	if strings.TrimSpace(addr) == "" {
		return ZeroAddress
	}
	return common.HexToAddress(addr)
}

// PairKey 交易对键：lower(base) + "-" + lower(quote)
func PairKey(base, quote common.Address) string {
	return strings.ToLower(base.Hex()) + "-" + strings.ToLower(quote.Hex())
}

// CanonicalPairKey 规范交易对键（地址排序后拼接）
// 正反方向映射到同一个键，用于价格状态表
func CanonicalPairKey(a, b common.Address) (key string, forward bool) {
	la, lb := strings.ToLower(a.Hex()), strings.ToLower(b.Hex())
	if la <= lb {
		return la + "-" + lb, true
	}
	return lb + "-" + la, false
}
