package engine

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/domain"
)

// priceCondition 限价撮合的价格谓词
// 买方吃卖一：maker.price ≤ taker.price；卖方吃买一：maker.price ≥ taker.price。
func priceCondition(taker *domain.OrderRecord) func(*domain.OrderRecord) bool {
	if taker.Side == types.SideBuy {
		return func(maker *domain.OrderRecord) bool { return maker.Price <= taker.Price }
	}
	return func(maker *domain.OrderRecord) bool { return maker.Price >= taker.Price }
}

func always(*domain.OrderRecord) bool { return true }

// oppositeLists 返回对手方的市价队列和限价队列
func oppositeLists(b *domain.OrderBook, side types.Side) (markets *[]*domain.OrderRecord, limits *[]*domain.OrderRecord) {
	if side == types.SideBuy {
		return &b.MarketSell, &b.Sell
	}
	return &b.MarketBuy, &b.Buy
}

// addLimit 限价单路径
// skipStops 为真时（止损触发后的回流）成交引起的价格更新不再触发止损。
func (e *Engine) addLimit(rec *domain.OrderRecord, skipStops bool) []*domain.Trade {
	b := e.book(rec.BaseToken, rec.QuoteToken)
	markets, limits := oppositeLists(b, rec.Side)
	var trades []*domain.Trade

	// 先无条件吃掉对手方的存量市价单
	trades = append(trades, e.matchAgainst(b, rec, markets, always, skipStops)...)

	cond := priceCondition(rec)

	// POST_ONLY：会立刻成交则拒绝
	if rec.TimeInForce == types.TimeInForcePostOnly {
		if len(*limits) > 0 && cond((*limits)[0]) {
			e.rejectResidue(rec, ReasonPostOnlyWouldTrade)
			return trades
		}
	}

	// FOK / 不允许部分成交：可成交量不足则拒绝
	if rec.TimeInForce == types.TimeInForceFOK || !rec.AllowPartialFill {
		fillable := sumRemaining(*markets)
		for _, maker := range *limits {
			if cond(maker) {
				fillable += maker.Remaining()
			}
		}
		if fillable+1e-12 < rec.Remaining() {
			e.rejectResidue(rec, ReasonInsufficientLiquidity)
			return trades
		}
	}

	trades = append(trades, e.matchAgainst(b, rec, limits, cond, skipStops)...)

	e.settleResidueLimit(b, rec)
	return trades
}

// addMarket 市价单路径
func (e *Engine) addMarket(rec *domain.OrderRecord, skipStops bool) []*domain.Trade {
	b := e.book(rec.BaseToken, rec.QuoteToken)
	markets, limits := oppositeLists(b, rec.Side)
	var trades []*domain.Trade

	// FOK / 不允许部分成交：合成流动性可用时视为无限深度
	if rec.TimeInForce == types.TimeInForceFOK || !rec.AllowPartialFill {
		if !e.syntheticEligible(rec) {
			fillable := sumRemaining(*markets) + sumRemaining(*limits)
			if fillable+1e-12 < rec.Remaining() {
				e.rejectResidue(rec, ReasonInsufficientLiquidity)
				return trades
			}
		}
	}

	// 市价单无条件吃对手：先存量市价，再限价
	trades = append(trades, e.matchAgainst(b, rec, markets, always, skipStops)...)
	trades = append(trades, e.matchAgainst(b, rec, limits, always, skipStops)...)

	// 没有真实流动性时走合成流动性
	if rec.Remaining() > 0 && e.syntheticEligible(rec) {
		trades = append(trades, e.syntheticFill(b, rec, skipStops)...)
	}

	e.settleResidueMarket(b, rec)
	return trades
}

// matchAgainst 撮合主循环
// 逐个吃掉队首满足谓词的 maker，直到 taker 吃饱或队列枯竭。
func (e *Engine) matchAgainst(b *domain.OrderBook, taker *domain.OrderRecord, list *[]*domain.OrderRecord, pred func(*domain.OrderRecord) bool, skipStops bool) []*domain.Trade {
	var trades []*domain.Trade
	for taker.Remaining() > 0 && len(*list) > 0 {
		maker := (*list)[0]
		if !pred(maker) {
			break
		}
		// 级联触发可能已经吃掉了队首，跳过空壳
		if maker.IsTerminal() || maker.Remaining() <= 0 {
			*list = (*list)[1:]
			continue
		}
		amount := math.Min(taker.Remaining(), maker.Remaining())
		if amount <= 0 {
			break
		}

		price := e.resolveTradePrice(maker, taker)
		trade, cascade := e.executeFill(b, maker, taker, amount, price, domain.PriceSourceOrderBook, "", skipStops)
		trades = append(trades, trade)
		trades = append(trades, cascade...)

		if maker.Remaining() <= 0 {
			*list = (*list)[1:]
		}
	}
	return trades
}

// resolveTradePrice 成交价优先级：maker 价 → taker 价 → 市场价快照 → 0
func (e *Engine) resolveTradePrice(maker, taker *domain.OrderRecord) float64 {
	if maker.HasPrice() {
		return maker.Price
	}
	if taker.HasPrice() {
		return taker.Price
	}
	if p, ok := e.marketPrices[maker.PairKey()]; ok && p > 0 {
		return p
	}
	// 双方都是无价市价单且没有市场价快照：记 0，仅作信息记录
	return 0
}

// executeFill 应用一次成交：双边记账、成交历史、价格更新、预言机注册、市价买冲击
// 返回本次成交记录和由价格更新级联触发的止损成交。
func (e *Engine) executeFill(b *domain.OrderBook, maker, taker *domain.OrderRecord, amount, price float64, source, batchID string, skipStops bool) (*domain.Trade, []*domain.Trade) {
	ts := time.Now()
	maker.ApplyFill(amount, price, taker.ID, batchID, ts)
	taker.ApplyFill(amount, price, maker.ID, batchID, ts)

	trade := &domain.Trade{
		ID:           uuid.NewString(),
		Pair:         b.Pair,
		BaseToken:    taker.BaseToken,
		QuoteToken:   taker.QuoteToken,
		Price:        price,
		Amount:       amount,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		TakerSide:    taker.Side,
		Source:       source,
		BatchID:      batchID,
		Timestamp:    ts,
	}
	if taker.Side == types.SideBuy {
		trade.BuyOrderID, trade.SellOrderID = taker.ID, maker.ID
	} else {
		trade.BuyOrderID, trade.SellOrderID = maker.ID, taker.ID
	}
	b.AppendTrade(trade)

	var cascade []*domain.Trade
	if price > 0 {
		cascade = append(cascade, e.updatePrice(taker.BaseToken, taker.QuoteToken, price, domain.PriceSourceOrderBook, skipStops)...)
		e.oracle.RegisterTrade(taker.BaseToken, taker.QuoteToken, price, amount, amount*price, taker.Side, source)
	}

	// 市价买单的价格冲击，对成交双方分别判定
	for _, side := range []*domain.OrderRecord{maker, taker} {
		if side.OrderType == types.OrderTypeMarket && side.Side == types.SideBuy {
			cascade = append(cascade, e.applyMarketBuyImpact(side, amount, price, skipStops)...)
		}
	}

	engineLog.WithFields(logrus.Fields{
		"pair":   b.Pair,
		"maker":  maker.ID,
		"taker":  taker.ID,
		"amount": amount,
		"price":  price,
	}).Debug("fill")

	return trade, cascade
}

// applyMarketBuyImpact 市价买冲击
// boosted = 当前参考价 + 成交量 × 冲击系数；抬升后按 market-buy-impact 来源更新市场价，
// 并向预言机注册一笔方向为 BUY 的合成成交。
func (e *Engine) applyMarketBuyImpact(rec *domain.OrderRecord, amount, price float64, skipStops bool) []*domain.Trade {
	baseline := price
	if p, ok := e.marketPrices[rec.PairKey()]; ok && p > 0 {
		baseline = p
	}
	if baseline <= 0 {
		return nil
	}
	boosted := baseline + amount*e.impactRate
	if boosted <= baseline {
		return nil
	}
	cascade := e.updatePrice(rec.BaseToken, rec.QuoteToken, boosted, domain.PriceSourceImpact, skipStops)
	e.oracle.RegisterTrade(rec.BaseToken, rec.QuoteToken, boosted, 0, 0, types.SideBuy, domain.PriceSourceImpact)
	return cascade
}

// rejectResidue 按流动性原因收尾：有成交则 PARTIAL，否则 REJECTED
func (e *Engine) rejectResidue(rec *domain.OrderRecord, reason string) {
	rec.UpdatedAt = time.Now()
	if rec.Filled > 0 {
		rec.Status = types.OrderStatusPartial
		rec.SetMeta(domain.MetaCancelReason, reason)
	} else {
		rec.Status = types.OrderStatusRejected
		rec.SetMeta(domain.MetaRejectReason, reason)
	}
}

// settleResidueLimit 限价单残量处理
func (e *Engine) settleResidueLimit(b *domain.OrderBook, rec *domain.OrderRecord) {
	if rec.Remaining() <= 0 {
		return
	}
	switch {
	case rec.TimeInForce == types.TimeInForceIOC:
		e.rejectResidue(rec, ReasonIOCUnfilled)
	case rec.TimeInForce == types.TimeInForceFOK || !rec.AllowPartialFill:
		e.rejectResidue(rec, ReasonInsufficientLiquidity)
	default:
		if rec.Filled <= 0 {
			rec.Status = types.OrderStatusPending
		}
		if rec.Side == types.SideBuy {
			b.InsertBuy(rec)
		} else {
			b.InsertSell(rec)
		}
	}
}

// settleResidueMarket 市价单残量处理
func (e *Engine) settleResidueMarket(b *domain.OrderBook, rec *domain.OrderRecord) {
	if rec.Remaining() <= 0 {
		return
	}
	switch {
	case rec.TimeInForce == types.TimeInForceIOC:
		e.rejectResidue(rec, ReasonIOCUnfilled)
	case rec.TimeInForce == types.TimeInForceFOK || !rec.AllowPartialFill:
		e.rejectResidue(rec, ReasonInsufficientLiquidity)
	default:
		if rec.Filled <= 0 {
			rec.Status = types.OrderStatusPending
		}
		if rec.Side == types.SideBuy {
			b.MarketBuy = append(b.MarketBuy, rec)
		} else {
			b.MarketSell = append(b.MarketSell, rec)
		}
	}
}

func sumRemaining(list []*domain.OrderRecord) float64 {
	var total float64
	for _, rec := range list {
		total += rec.Remaining()
	}
	return total
}
