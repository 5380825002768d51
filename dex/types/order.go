package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Order 链上订单（规范形式）
// 字段顺序与交易所合约的 Order 结构体严格一致，
// EIP712 哈希与 ABI 编码都依赖这个顺序。
type Order struct {
	Maker            common.Address // 挂单人地址
	TokenGet         common.Address // 买入代币地址
	AmountGet        *big.Int       // 买入数量（基础单位）
	TokenGive        common.Address // 卖出代币地址
	AmountGive       *big.Int       // 卖出数量（基础单位）
	Nonce            *big.Int       // 链上 nonce
	Expiry           *big.Int       // 过期时间（unix 秒，0 表示永不过期）
	OrderType        OrderType      // 订单类型
	TimeInForce      TimeInForce    // 有效期策略
	Side             Side           // 订单方向
	StopPrice        *big.Int       // 止损触发价（定点，scale 1e18）
	MinFillAmount    *big.Int       // 最小成交数量
	AllowPartialFill bool           // 是否允许部分成交
	FeeRecipient     common.Address // 手续费接收地址（可为零地址）
	FeeAmount        *big.Int       // 手续费数量
}

// Valid 校验规范订单的基本不变量
func (o *Order) Valid() bool {
	if o.AmountGet == nil || o.AmountGive == nil {
		return false
	}
	if o.AmountGet.Sign() <= 0 || o.AmountGive.Sign() <= 0 {
		return false
	}
	if o.OrderType == OrderTypeStopLoss || o.OrderType == OrderTypeStopLimit {
		if o.StopPrice == nil || o.StopPrice.Sign() <= 0 {
			return false
		}
	}
	if o.MinFillAmount != nil && o.MinFillAmount.Cmp(o.AmountGive) > 0 {
		return false
	}
	return true
}

// bigOrZero 返回非空的 big.Int（nil 按 0 处理）
func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// NonceOrZero Nonce 的非空视图
func (o *Order) NonceOrZero() *big.Int { return bigOrZero(o.Nonce) }

// ExpiryOrZero Expiry 的非空视图
func (o *Order) ExpiryOrZero() *big.Int { return bigOrZero(o.Expiry) }

// StopPriceOrZero StopPrice 的非空视图
func (o *Order) StopPriceOrZero() *big.Int { return bigOrZero(o.StopPrice) }

// MinFillOrZero MinFillAmount 的非空视图
func (o *Order) MinFillOrZero() *big.Int { return bigOrZero(o.MinFillAmount) }

// FeeAmountOrZero FeeAmount 的非空视图
func (o *Order) FeeAmountOrZero() *big.Int { return bigOrZero(o.FeeAmount) }
