package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/domain"
	"github.com/dexbot/godex/internal/oracle"
)

var engineLog = logrus.WithField("component", "matching_engine")

// DefaultImpactRate 市价买单的价格冲击系数（每成交 1 基础单位抬升 1 计价单位）
const DefaultImpactRate = 1.0

// 拒绝原因
const (
	ReasonPostOnlyWouldTrade    = "POST_ONLY_WOULD_TRADE"
	ReasonInsufficientLiquidity = "INSUFFICIENT_LIQUIDITY"
	ReasonIOCUnfilled           = "IOC_UNFILLED"
	ReasonInvalidStopPrice      = "INVALID_STOP_PRICE"
	ReasonExpired               = "EXPIRED"
)

// Engine 撮合引擎
// 所有可变状态都在单写者模型下访问：订单服务把每个变更操作排队到
// 单一 goroutine 里执行，引擎内部不加锁。
type Engine struct {
	oracle *oracle.Oracle

	// impactRate 市价买单冲击系数，见 applyMarketBuyImpact
	impactRate float64

	books           map[string]*domain.OrderBook
	marketPrices    map[string]float64
	marketPriceMeta map[string]*domain.MarketPriceEntry
}

// New 创建撮合引擎
func New(o *oracle.Oracle) *Engine {
	return &Engine{
		oracle:          o,
		impactRate:      DefaultImpactRate,
		books:           make(map[string]*domain.OrderBook),
		marketPrices:    make(map[string]float64),
		marketPriceMeta: make(map[string]*domain.MarketPriceEntry),
	}
}

// SetImpactRate 调整市价买单冲击系数（系统常量，默认 1）
func (e *Engine) SetImpactRate(rate float64) {
	e.impactRate = rate
}

// book 取或建交易对订单簿
func (e *Engine) book(base, quote common.Address) *domain.OrderBook {
	key := types.PairKey(base, quote)
	b, ok := e.books[key]
	if !ok {
		b = domain.NewOrderBook(key)
		e.books[key] = b
	}
	return b
}

// bookByKey 按键查订单簿（不创建）
func (e *Engine) bookByKey(key string) *domain.OrderBook {
	return e.books[key]
}

// BookSnapshot 返回交易对订单簿快照
func (e *Engine) BookSnapshot(base, quote common.Address) *domain.OrderBookSnapshot {
	return e.book(base, quote).Snapshot()
}

// AllBookSnapshots 返回全部交易对的快照
func (e *Engine) AllBookSnapshots() map[string]*domain.OrderBookSnapshot {
	out := make(map[string]*domain.OrderBookSnapshot, len(e.books))
	for key, b := range e.books {
		out[key] = b.Snapshot()
	}
	return out
}

// RecentTrades 最近成交
func (e *Engine) RecentTrades(base, quote common.Address, limit int) []*domain.Trade {
	return e.book(base, quote).RecentTrades(limit)
}

// BestOppositePrice 对手盘最优限价（BUY 看卖一，SELL 看买一）
func (e *Engine) BestOppositePrice(base, quote common.Address, side types.Side) (float64, bool) {
	b := e.book(base, quote)
	var list []*domain.OrderRecord
	if side == types.SideBuy {
		list = b.Sell
	} else {
		list = b.Buy
	}
	if len(list) == 0 || list[0].Price <= 0 {
		return 0, false
	}
	return list[0].Price, true
}

// MarketPrice 查询交易对市场价
func (e *Engine) MarketPrice(base, quote common.Address) (float64, bool) {
	p, ok := e.marketPrices[types.PairKey(base, quote)]
	return p, ok
}

// MarketPriceMetaFor 查询市场价条目（含前值和来源）
func (e *Engine) MarketPriceMetaFor(base, quote common.Address) (*domain.MarketPriceEntry, bool) {
	m, ok := e.marketPriceMeta[types.PairKey(base, quote)]
	return m, ok
}

// UpdateMarketPrice 外部注入参考价
// 来源为空时按 synthetic 处理（非订单簿成交产生的价格都是合成参考价）。
// 返回因止损触发而产生的成交。
func (e *Engine) UpdateMarketPrice(base, quote common.Address, price float64, source string) []*domain.Trade {
	if source == "" {
		source = domain.PriceSourceSynthetic
	}
	return e.updatePrice(base, quote, price, source, false)
}

// updatePrice 写入正反两个方向的市场价；除非 skipStops，否则扫描两侧的止损队列
func (e *Engine) updatePrice(base, quote common.Address, price float64, source string, skipStops bool) []*domain.Trade {
	if price <= 0 {
		return nil
	}

	now := time.Now()
	e.setPriceEntry(types.PairKey(base, quote), price, source, now)
	e.setPriceEntry(types.PairKey(quote, base), 1/price, source, now)

	if skipStops {
		return nil
	}

	var trades []*domain.Trade
	trades = append(trades, e.evaluateStops(base, quote)...)
	trades = append(trades, e.evaluateStops(quote, base)...)
	return trades
}

func (e *Engine) setPriceEntry(key string, price float64, source string, now time.Time) {
	meta, ok := e.marketPriceMeta[key]
	if !ok {
		meta = &domain.MarketPriceEntry{}
		e.marketPriceMeta[key] = meta
	}
	meta.PreviousPrice = meta.Price
	meta.Price = price
	meta.Source = source
	meta.UpdatedAt = now
	e.marketPrices[key] = price
}

// AddOrder 按类型分发进撮合路径，返回本次调用产生的全部成交
// （包括因价格更新触发止损而级联产生的成交）。
func (e *Engine) AddOrder(rec *domain.OrderRecord) []*domain.Trade {
	switch rec.OrderType {
	case types.OrderTypeLimit:
		return e.addLimit(rec, false)
	case types.OrderTypeMarket:
		return e.addMarket(rec, false)
	case types.OrderTypeStopLoss, types.OrderTypeStopLimit:
		return e.addStop(rec)
	default:
		rec.Status = types.OrderStatusRejected
		rec.SetMeta(domain.MetaRejectReason, "UNSUPPORTED_ORDER_TYPE")
		return nil
	}
}

// Cancel 从订单簿的全部队列移除订单并置为 CANCELLED
// 终态订单是 no-op，返回 false。
func (e *Engine) Cancel(rec *domain.OrderRecord, reason string) bool {
	if rec.IsTerminal() {
		return false
	}
	e.book(rec.BaseToken, rec.QuoteToken).Remove(rec.ID)
	rec.Status = types.OrderStatusCancelled
	rec.UpdatedAt = time.Now()
	if reason != "" {
		rec.SetMeta(domain.MetaCancelReason, reason)
	}
	engineLog.WithFields(logrus.Fields{"order": rec.ID, "reason": reason}).Info("order cancelled")
	return true
}

// ExpireStale 把所有已过期的挂单移出队列并置为 EXPIRED
func (e *Engine) ExpireStale(now time.Time) []*domain.OrderRecord {
	var expired []*domain.OrderRecord
	for _, b := range e.books {
		for _, list := range [][]*domain.OrderRecord{b.Buy, b.Sell, b.MarketBuy, b.MarketSell, b.StopLoss, b.StopLimit} {
			for _, rec := range list {
				exp := rec.Order.ExpiryOrZero().Int64()
				if exp > 0 && exp <= now.Unix() && !rec.IsTerminal() {
					expired = append(expired, rec)
				}
			}
		}
	}
	for _, rec := range expired {
		e.book(rec.BaseToken, rec.QuoteToken).Remove(rec.ID)
		rec.Status = types.OrderStatusExpired
		rec.UpdatedAt = now
		rec.SetMeta(domain.MetaCancelReason, ReasonExpired)
	}
	return expired
}
