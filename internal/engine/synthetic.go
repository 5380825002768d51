package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/domain"
)

// syntheticCounterpartyPrefix 合成流动性对手方 ID 前缀
const syntheticCounterpartyPrefix = "synthetic-liquidity-"

// syntheticEligible 市价单是否可走合成流动性
// 需要一个正的已解析价格，且订单价格来源或交易对价格来源为 synthetic。
func (e *Engine) syntheticEligible(rec *domain.OrderRecord) bool {
	if rec.OrderType != types.OrderTypeMarket {
		return false
	}
	if e.resolvedPrice(rec) <= 0 {
		return false
	}
	if rec.MetaString(domain.MetaPriceSource) == domain.PriceSourceSynthetic {
		return true
	}
	if meta, ok := e.marketPriceMeta[rec.PairKey()]; ok && meta.Source == domain.PriceSourceSynthetic {
		return true
	}
	return false
}

// resolvedPrice 订单的已解析价格：metadata.price 优先，其次显示价格
func (e *Engine) resolvedPrice(rec *domain.OrderRecord) float64 {
	if p := rec.MetaFloat(domain.MetaPrice); p > 0 {
		return p
	}
	return rec.Price
}

// syntheticFill 合成流动性成交
// 以解析价一次性吃掉全部剩余量，对手方是临时铸造的合成 ID。
func (e *Engine) syntheticFill(b *domain.OrderBook, rec *domain.OrderRecord, skipStops bool) []*domain.Trade {
	price := e.resolvedPrice(rec)
	amount := rec.Remaining()
	if price <= 0 || amount <= 0 {
		return nil
	}

	counterparty := syntheticCounterpartyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	ts := time.Now()
	rec.ApplyFill(amount, price, counterparty, "", ts)

	trade := &domain.Trade{
		ID:                   uuid.NewString(),
		Pair:                 b.Pair,
		BaseToken:            rec.BaseToken,
		QuoteToken:           rec.QuoteToken,
		Price:                price,
		Amount:               amount,
		TakerOrderID:         rec.ID,
		MakerOrderID:         counterparty,
		TakerSide:            rec.Side,
		Source:               domain.PriceSourceSynthetic,
		Synthetic:            true,
		SyntheticQuoteAmount: amount * price,
		Timestamp:            ts,
	}
	if rec.Side == types.SideBuy {
		trade.BuyOrderID, trade.SellOrderID = rec.ID, counterparty
	} else {
		trade.BuyOrderID, trade.SellOrderID = counterparty, rec.ID
	}
	b.AppendTrade(trade)

	rec.SetMeta(domain.MetaSyntheticFill, map[string]interface{}{
		"price":        price,
		"amount":       amount,
		"counterparty": counterparty,
	})

	// 合成成交的价格更新不允许再触发止损
	e.updatePrice(rec.BaseToken, rec.QuoteToken, price, domain.PriceSourceSynthetic, true)
	e.oracle.RegisterTrade(rec.BaseToken, rec.QuoteToken, price, amount, amount*price, rec.Side, domain.PriceSourceSynthetic)

	trades := []*domain.Trade{trade}
	if rec.Side == types.SideBuy {
		trades = append(trades, e.applyMarketBuyImpact(rec, amount, price, skipStops)...)
	}

	engineLog.WithFields(logrus.Fields{
		"pair":   b.Pair,
		"order":  rec.ID,
		"amount": amount,
		"price":  price,
	}).Info("synthetic fill")

	return trades
}
