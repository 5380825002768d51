package domain

import (
	"sort"
)

// MaxTradeHistory 每个交易对保留的成交记录上限（FIFO 淘汰）
const MaxTradeHistory = 200

// OrderBook 单个交易对的订单簿
// 六个队列：限价买/卖（价格排序）、市价买/卖（时间排序）、止损/止损限价（插入顺序）。
type OrderBook struct {
	Pair string

	Buy        []*OrderRecord // 限价买单，价格降序，同价按创建时间升序
	Sell       []*OrderRecord // 限价卖单，价格升序，同价按创建时间升序
	MarketBuy  []*OrderRecord // 市价买单，FIFO
	MarketSell []*OrderRecord // 市价卖单，FIFO
	StopLoss   []*OrderRecord // 止损单，插入顺序
	StopLimit  []*OrderRecord // 止损限价单，插入顺序

	Trades []*Trade // 有界成交历史
}

// NewOrderBook 创建空订单簿
func NewOrderBook(pair string) *OrderBook {
	return &OrderBook{Pair: pair}
}

// buyLess 买单排序：价格降序（0 视为无价），同价按创建时间升序
func buyLess(a, b *OrderRecord) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// sellLess 卖单排序：价格升序，同价按创建时间升序
func sellLess(a, b *OrderRecord) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// InsertBuy 插入限价买单并保持价格时间优先排序
func (b *OrderBook) InsertBuy(rec *OrderRecord) {
	b.Buy = append(b.Buy, rec)
	sort.SliceStable(b.Buy, func(i, j int) bool { return buyLess(b.Buy[i], b.Buy[j]) })
}

// InsertSell 插入限价卖单并保持价格时间优先排序
func (b *OrderBook) InsertSell(rec *OrderRecord) {
	b.Sell = append(b.Sell, rec)
	sort.SliceStable(b.Sell, func(i, j int) bool { return sellLess(b.Sell[i], b.Sell[j]) })
}

// AppendTrade 追加成交记录，超出上限淘汰最旧的
func (b *OrderBook) AppendTrade(t *Trade) {
	b.Trades = append(b.Trades, t)
	if len(b.Trades) > MaxTradeHistory {
		b.Trades = b.Trades[len(b.Trades)-MaxTradeHistory:]
	}
}

// RecentTrades 返回最近 limit 条成交（时间倒序）
func (b *OrderBook) RecentTrades(limit int) []*Trade {
	if limit <= 0 || limit > len(b.Trades) {
		limit = len(b.Trades)
	}
	out := make([]*Trade, 0, limit)
	for i := len(b.Trades) - 1; i >= len(b.Trades)-limit; i-- {
		out = append(out, b.Trades[i])
	}
	return out
}

func removeFromList(list []*OrderRecord, id string) []*OrderRecord {
	for i, rec := range list {
		if rec.ID == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Remove 把订单从所有队列中移除
func (b *OrderBook) Remove(id string) {
	b.Buy = removeFromList(b.Buy, id)
	b.Sell = removeFromList(b.Sell, id)
	b.MarketBuy = removeFromList(b.MarketBuy, id)
	b.MarketSell = removeFromList(b.MarketSell, id)
	b.StopLoss = removeFromList(b.StopLoss, id)
	b.StopLimit = removeFromList(b.StopLimit, id)
}

// Contains 订单是否还在任一队列中
func (b *OrderBook) Contains(id string) bool {
	for _, list := range [][]*OrderRecord{b.Buy, b.Sell, b.MarketBuy, b.MarketSell, b.StopLoss, b.StopLimit} {
		for _, rec := range list {
			if rec.ID == id {
				return true
			}
		}
	}
	return false
}

// OrderBookSnapshot 订单簿快照（各队列的浅拷贝，读操作使用）
type OrderBookSnapshot struct {
	Pair       string         `json:"pair"`
	Buy        []*OrderRecord `json:"buy"`
	Sell       []*OrderRecord `json:"sell"`
	MarketBuy  []*OrderRecord `json:"marketBuy"`
	MarketSell []*OrderRecord `json:"marketSell"`
	StopLoss   []*OrderRecord `json:"stopLoss"`
	StopLimit  []*OrderRecord `json:"stopLimit"`
	Trades     []*Trade       `json:"trades"`
}

// Snapshot 生成一致性快照
func (b *OrderBook) Snapshot() *OrderBookSnapshot {
	cp := func(src []*OrderRecord) []*OrderRecord {
		out := make([]*OrderRecord, len(src))
		copy(out, src)
		return out
	}
	trades := make([]*Trade, len(b.Trades))
	copy(trades, b.Trades)
	return &OrderBookSnapshot{
		Pair:       b.Pair,
		Buy:        cp(b.Buy),
		Sell:       cp(b.Sell),
		MarketBuy:  cp(b.MarketBuy),
		MarketSell: cp(b.MarketSell),
		StopLoss:   cp(b.StopLoss),
		StopLimit:  cp(b.StopLimit),
		Trades:     trades,
	}
}
