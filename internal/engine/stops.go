package engine

import (
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/domain"
)

// triggerContext 一次触发事件的价格上下文
type triggerContext struct {
	price         float64
	previousPrice float64
	source        string
	timestamp     time.Time
}

// stopTriggered 止损触发条件
// SELL：现价跌破（≤）触发价；BUY：现价突破（≥）触发价。
func stopTriggered(rec *domain.OrderRecord, price float64) bool {
	if rec.StopPrice <= 0 || price <= 0 {
		return false
	}
	if rec.Side == types.SideSell {
		return price <= rec.StopPrice
	}
	return price >= rec.StopPrice
}

// addStop 止损/止损限价单入队
// 入队后立即用当前市场价评估一次触发条件。
func (e *Engine) addStop(rec *domain.OrderRecord) []*domain.Trade {
	if rec.StopPrice <= 0 {
		rec.Status = types.OrderStatusRejected
		rec.SetMeta(domain.MetaRejectReason, ReasonInvalidStopPrice)
		return nil
	}

	b := e.book(rec.BaseToken, rec.QuoteToken)
	rec.Status = types.OrderStatusPending
	if rec.OrderType == types.OrderTypeStopLimit {
		b.StopLimit = append(b.StopLimit, rec)
	} else {
		b.StopLoss = append(b.StopLoss, rec)
	}

	// 没有市场价的交易对不做入队评估：止损单安静排队，
	// 等第一次价格更新再统一触发（预言机估价不用于入队评估，
	// 否则任何估价都会立刻触发买卖两侧之一）。
	meta, ok := e.marketPriceMeta[rec.PairKey()]
	if !ok || !stopTriggered(rec, meta.Price) {
		return nil
	}

	b.Remove(rec.ID)
	ctx := triggerContext{
		price:         meta.Price,
		previousPrice: meta.PreviousPrice,
		source:        meta.Source,
		timestamp:     time.Now(),
	}
	return e.runTriggeredStops(b, []*domain.OrderRecord{rec}, ctx)
}

// evaluateStops 扫描某个方向键的止损队列，触发的批量进入触发流水线
func (e *Engine) evaluateStops(base, quote common.Address) []*domain.Trade {
	key := types.PairKey(base, quote)
	b := e.bookByKey(key)
	if b == nil {
		return nil
	}
	meta, ok := e.marketPriceMeta[key]
	if !ok || meta.Price <= 0 {
		return nil
	}

	var triggered []*domain.OrderRecord
	for _, list := range [][]*domain.OrderRecord{b.StopLoss, b.StopLimit} {
		for _, rec := range list {
			if stopTriggered(rec, meta.Price) {
				triggered = append(triggered, rec)
			}
		}
	}
	if len(triggered) == 0 {
		return nil
	}
	for _, rec := range triggered {
		b.Remove(rec.ID)
	}

	ctx := triggerContext{
		price:         meta.Price,
		previousPrice: meta.PreviousPrice,
		source:        meta.Source,
		timestamp:     time.Now(),
	}
	return e.runTriggeredStops(b, triggered, ctx)
}

// runTriggeredStops 止损触发流水线
// STOP_LIMIT 转限价回流；STOP_LOSS 转市价，先在本批内买卖互撮，幸存者走市价路径。
// 流水线内所有成交引起的价格更新都带 skipStopTrigger，防止递归触发。
func (e *Engine) runTriggeredStops(b *domain.OrderBook, triggered []*domain.OrderRecord, ctx triggerContext) []*domain.Trade {
	var trades []*domain.Trade
	var stopLosses []*domain.OrderRecord

	for _, rec := range triggered {
		rec.MarkTriggered(ctx.price, ctx.source, ctx.timestamp)
		engineLog.WithFields(logrus.Fields{
			"order": rec.ID,
			"stop":  rec.StopPrice,
			"price": ctx.price,
		}).Info("stop triggered")

		if rec.OrderType == types.OrderTypeStopLimit {
			rec.OrderType = types.OrderTypeLimit
			trades = append(trades, e.addLimit(rec, true)...)
		} else {
			rec.OrderType = types.OrderTypeMarket
			stopLosses = append(stopLosses, rec)
		}
	}

	trades = append(trades, e.crossMatchStops(b, stopLosses, ctx)...)

	for _, rec := range stopLosses {
		if rec.Remaining() > 0 && !rec.IsTerminal() {
			trades = append(trades, e.addMarket(rec, true)...)
		}
	}
	return trades
}

// crossMatchStops 同批触发的止损买卖单互相撮合
// maker 取创建时间较早的一方；FOK / 不允许部分成交 / 最小成交量约束不满足则跳过配对。
func (e *Engine) crossMatchStops(b *domain.OrderBook, batch []*domain.OrderRecord, ctx triggerContext) []*domain.Trade {
	var buys, sells []*domain.OrderRecord
	for _, rec := range batch {
		if rec.Side == types.SideBuy {
			buys = append(buys, rec)
		} else {
			sells = append(sells, rec)
		}
	}
	if len(buys) == 0 || len(sells) == 0 {
		return nil
	}

	var trades []*domain.Trade
	for _, buy := range buys {
		for _, sell := range sells {
			if buy.Remaining() <= 0 {
				break
			}
			if sell.Remaining() <= 0 {
				continue
			}
			amount := math.Min(buy.Remaining(), sell.Remaining())

			if (buy.TimeInForce == types.TimeInForceFOK || !buy.AllowPartialFill) && amount+1e-12 < buy.Remaining() {
				continue
			}
			if (sell.TimeInForce == types.TimeInForceFOK || !sell.AllowPartialFill) && amount+1e-12 < sell.Remaining() {
				continue
			}
			if buy.MinFill > 0 && amount+1e-12 < buy.MinFill {
				continue
			}
			if sell.MinFill > 0 && amount+1e-12 < sell.MinFill {
				continue
			}

			price := crossPrice(buy, sell, ctx)
			maker, taker := buy, sell
			if sell.CreatedAt.Before(buy.CreatedAt) {
				maker, taker = sell, buy
			}
			trade, cascade := e.executeFill(b, maker, taker, amount, price, domain.PriceSourceStop, "", true)
			trades = append(trades, trade)
			trades = append(trades, cascade...)
		}
	}
	return trades
}

// crossPrice 批内互撮的成交价：
// 触发上下文价 → 双方触发价均值 → 单边触发价 → 上下文前值 previousPrice（调用方保证快照价已在上下文里）
func crossPrice(buy, sell *domain.OrderRecord, ctx triggerContext) float64 {
	if ctx.price > 0 && !math.IsInf(ctx.price, 0) && !math.IsNaN(ctx.price) {
		return ctx.price
	}
	switch {
	case buy.StopPrice > 0 && sell.StopPrice > 0:
		return (buy.StopPrice + sell.StopPrice) / 2
	case buy.StopPrice > 0:
		return buy.StopPrice
	case sell.StopPrice > 0:
		return sell.StopPrice
	}
	return ctx.previousPrice
}
