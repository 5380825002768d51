package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexbot/godex/dex/types"
)

// 成交价格来源标签
const (
	PriceSourceInput      = "input"
	PriceSourceDerived    = "derived"
	PriceSourceMarket     = "market"
	PriceSourceOrderBook  = "orderbook"
	PriceSourceSynthetic  = "synthetic"
	PriceSourceBatch      = "batch"
	PriceSourceImpact     = "market-buy-impact"
	PriceSourceStop       = "stop-trigger"
)

// SettlementResult 链上结算结果（挂在成交记录上，失败不回滚撮合）
type SettlementResult struct {
	Success   bool   `json:"success"`
	Synthetic bool   `json:"synthetic,omitempty"` // 合成流动性成交，跳过链上结算
	Reason    string `json:"reason,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Trade 成交记录
// Order 是订单（可能未成交），Trade 是一次已执行的撮合。
type Trade struct {
	ID         string         `json:"id"`
	Pair       string         `json:"pair"` // 交易对键
	BaseToken  common.Address `json:"baseToken"`
	QuoteToken common.Address `json:"quoteToken"`

	Price  float64 `json:"price"`  // 成交价格（quote/base）
	Amount float64 `json:"amount"` // 成交数量（基础代币单位）

	MakerOrderID string     `json:"makerOrderId"`
	TakerOrderID string     `json:"takerOrderId"`
	BuyOrderID   string     `json:"buyOrderId"`
	SellOrderID  string     `json:"sellOrderId"`
	TakerSide    types.Side `json:"takerSide"`

	Source    string `json:"source,omitempty"` // 价格来源（orderbook/synthetic/batch/...）
	BatchID   string `json:"batchId,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`

	// SyntheticQuoteAmount 合成成交的对价数量（quote 单位）
	SyntheticQuoteAmount float64 `json:"syntheticQuoteAmount,omitempty"`

	// FillAmount 链上结算用的成交数量（基础单位整数）
	FillAmount *big.Int `json:"-"`

	Settlement *SettlementResult `json:"settlement,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Key 成交记录唯一键（用于去重）
func (t *Trade) Key() string {
	return t.ID
}
