package engine

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/domain"
	"github.com/dexbot/godex/internal/oracle"
	"github.com/dexbot/godex/internal/tokens"
)

var (
	tokenTYD  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenUSTD = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenAAA  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	tokenBBB  = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func newTestEngine() *Engine {
	dir := tokens.NewStaticDirectory()
	dir.Register(&tokens.Metadata{Address: tokenTYD, Name: "Tie Dye", Symbol: "TYD", Decimals: 18})
	dir.Register(&tokens.Metadata{Address: tokenUSTD, Name: "US Tether Dollar", Symbol: "USTD", Decimals: 6})
	dir.Register(&tokens.Metadata{Address: tokenAAA, Name: "Token A", Symbol: "AAA", Decimals: 18})
	dir.Register(&tokens.Metadata{Address: tokenBBB, Name: "Token B", Symbol: "BBB", Decimals: 18})
	return New(oracle.New(dir))
}

var recSeq int

func newRec(base, quote common.Address, side types.Side, orderType types.OrderType, price, amount float64) *domain.OrderRecord {
	recSeq++
	return &domain.OrderRecord{
		ID:         fmt.Sprintf("ord-%04d", recSeq),
		BaseToken:  base,
		QuoteToken: quote,
		Side:       side,
		OrderType:  orderType,
		TimeInForce: types.TimeInForceGTC,
		Price:      price,
		Amount:     amount,
		AllowPartialFill: true,
		Status:     types.OrderStatusPending,
		CreatedAt:  time.Now().Add(time.Duration(recSeq) * time.Millisecond),
		Order: types.Order{
			AmountGet:  big.NewInt(1),
			AmountGive: big.NewInt(1),
		},
	}
}

func TestLimitMatchPartialFill(t *testing.T) {
	e := newTestEngine()

	sell := newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeLimit, 100, 5)
	e.AddOrder(sell)
	if sell.Status != types.OrderStatusPending {
		t.Fatalf("expected resting sell PENDING, got %s", sell.Status)
	}

	buy := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeLimit, 100, 3)
	trades := e.AddOrder(buy)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if buy.Status != types.OrderStatusFilled {
		t.Fatalf("expected buy FILLED, got %s", buy.Status)
	}
	if sell.Status != types.OrderStatusPartial {
		t.Fatalf("expected sell PARTIAL, got %s", sell.Status)
	}
	if got := sell.Remaining(); got != 2 {
		t.Fatalf("expected sell remaining 2, got %v", got)
	}
	if trades[0].Price != 100 || trades[0].Amount != 3 {
		t.Fatalf("unexpected trade %+v", trades[0])
	}
	if trades[0].BuyOrderID != buy.ID || trades[0].SellOrderID != sell.ID {
		t.Fatalf("trade sides wrong: %+v", trades[0])
	}
}

func TestLimitPriceConditionBlocks(t *testing.T) {
	e := newTestEngine()

	sell := newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeLimit, 101, 5)
	e.AddOrder(sell)

	buy := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeLimit, 100, 5)
	trades := e.AddOrder(buy)
	if len(trades) != 0 {
		t.Fatalf("expected no trades across the spread, got %d", len(trades))
	}
	snap := e.BookSnapshot(tokenTYD, tokenUSTD)
	if len(snap.Buy) != 1 || len(snap.Sell) != 1 {
		t.Fatalf("expected both resting, got buy=%d sell=%d", len(snap.Buy), len(snap.Sell))
	}
}

func TestBookSorting(t *testing.T) {
	e := newTestEngine()

	for _, p := range []float64{100, 102, 101} {
		e.AddOrder(newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeLimit, p, 1))
	}
	for _, p := range []float64{105, 103, 104} {
		e.AddOrder(newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeLimit, p, 1))
	}

	snap := e.BookSnapshot(tokenTYD, tokenUSTD)
	for i := 1; i < len(snap.Buy); i++ {
		if snap.Buy[i-1].Price < snap.Buy[i].Price {
			t.Fatalf("buy list not descending: %v then %v", snap.Buy[i-1].Price, snap.Buy[i].Price)
		}
	}
	for i := 1; i < len(snap.Sell); i++ {
		if snap.Sell[i-1].Price > snap.Sell[i].Price {
			t.Fatalf("sell list not ascending: %v then %v", snap.Sell[i-1].Price, snap.Sell[i].Price)
		}
	}
}

func TestPostOnlyRejectedWhenCrossing(t *testing.T) {
	e := newTestEngine()
	e.AddOrder(newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeLimit, 100, 5))

	buy := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeLimit, 100, 5)
	buy.TimeInForce = types.TimeInForcePostOnly
	trades := e.AddOrder(buy)
	if len(trades) != 0 {
		t.Fatalf("post-only must not trade, got %d trades", len(trades))
	}
	if buy.Status != types.OrderStatusRejected {
		t.Fatalf("expected REJECTED, got %s", buy.Status)
	}
	if buy.MetaString(domain.MetaRejectReason) != ReasonPostOnlyWouldTrade {
		t.Fatalf("unexpected reject reason %q", buy.MetaString(domain.MetaRejectReason))
	}
}

func TestPostOnlyRestsAwayFromSpread(t *testing.T) {
	e := newTestEngine()
	e.AddOrder(newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeLimit, 101, 5))

	buy := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeLimit, 100, 5)
	buy.TimeInForce = types.TimeInForcePostOnly
	e.AddOrder(buy)
	if buy.Status != types.OrderStatusPending {
		t.Fatalf("expected PENDING, got %s", buy.Status)
	}
}

func TestFOKRejectedOnThinBook(t *testing.T) {
	e := newTestEngine()
	e.AddOrder(newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeLimit, 100, 2))

	buy := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeLimit, 100, 5)
	buy.TimeInForce = types.TimeInForceFOK
	trades := e.AddOrder(buy)
	if len(trades) != 0 {
		t.Fatalf("FOK must not partially fill, got %d trades", len(trades))
	}
	if buy.Status != types.OrderStatusRejected {
		t.Fatalf("expected REJECTED, got %s", buy.Status)
	}
	if buy.MetaString(domain.MetaRejectReason) != ReasonInsufficientLiquidity {
		t.Fatalf("unexpected reason %q", buy.MetaString(domain.MetaRejectReason))
	}
}

func TestIOCPartialThenCancelled(t *testing.T) {
	e := newTestEngine()
	e.AddOrder(newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeLimit, 100, 2))

	buy := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeLimit, 100, 5)
	buy.TimeInForce = types.TimeInForceIOC
	trades := e.AddOrder(buy)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if buy.Status != types.OrderStatusPartial {
		t.Fatalf("expected PARTIAL, got %s", buy.Status)
	}
	snap := e.BookSnapshot(tokenTYD, tokenUSTD)
	if len(snap.Buy) != 0 {
		t.Fatalf("IOC residue must not rest, buy list has %d", len(snap.Buy))
	}
}

// 场景 3：市价单先挂队列，后续限价单把它吃掉
func TestMarketRestsThenMatched(t *testing.T) {
	e := newTestEngine()

	mktBuy := newRec(tokenAAA, tokenBBB, types.SideBuy, types.OrderTypeMarket, 0, 5)
	trades := e.AddOrder(mktBuy)
	if len(trades) != 0 {
		t.Fatalf("expected no trades on empty book, got %d", len(trades))
	}
	if mktBuy.Status != types.OrderStatusPending {
		t.Fatalf("expected PENDING, got %s", mktBuy.Status)
	}
	snap := e.BookSnapshot(tokenAAA, tokenBBB)
	if len(snap.MarketBuy) != 1 {
		t.Fatalf("expected 1 resting market buy, got %d", len(snap.MarketBuy))
	}

	sell := newRec(tokenAAA, tokenBBB, types.SideSell, types.OrderTypeLimit, 100, 5)
	trades = e.AddOrder(sell)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if mktBuy.Status != types.OrderStatusFilled || sell.Status != types.OrderStatusFilled {
		t.Fatalf("expected both FILLED, got %s / %s", mktBuy.Status, sell.Status)
	}
	if trades[0].Price != 100 {
		t.Fatalf("expected trade at limit price 100, got %v", trades[0].Price)
	}
	snap = e.BookSnapshot(tokenAAA, tokenBBB)
	if len(snap.MarketBuy) != 0 || len(snap.Sell) != 0 {
		t.Fatalf("expected empty queues, got marketBuy=%d sell=%d", len(snap.MarketBuy), len(snap.Sell))
	}
}

// 场景 4：市价买冲击把参考价从 100 抬到 102
func TestMarketBuyImpact(t *testing.T) {
	e := newTestEngine()
	e.UpdateMarketPrice(tokenTYD, tokenUSTD, 100, "")

	e.AddOrder(newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeLimit, 100, 4))

	buy := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeMarket, 0, 2)
	trades := e.AddOrder(buy)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	meta, ok := e.MarketPriceMetaFor(tokenTYD, tokenUSTD)
	if !ok {
		t.Fatalf("expected market price meta")
	}
	if meta.PreviousPrice != 100 {
		t.Fatalf("expected previousPrice 100, got %v", meta.PreviousPrice)
	}
	if meta.Price != 102 {
		t.Fatalf("expected boosted price 102, got %v", meta.Price)
	}
	if meta.Source != domain.PriceSourceImpact {
		t.Fatalf("expected impact source, got %s", meta.Source)
	}
}

// updateMarketPrice(b,q,p) 必须同时把反向键精确维护成 1/p
func TestInversePriceMirror(t *testing.T) {
	e := newTestEngine()
	e.UpdateMarketPrice(tokenTYD, tokenUSTD, 6.007, "")

	inv, ok := e.MarketPrice(tokenUSTD, tokenTYD)
	if !ok {
		t.Fatalf("expected inverse price entry")
	}
	if inv != 1/6.007 {
		t.Fatalf("expected exactly 1/6.007, got %v", inv)
	}
}

// 场景 1：加单时现价已越过触发价，买侧止损立即触发并移出队列
func TestBuyStopTriggersWhenAddedAboveCurrent(t *testing.T) {
	e := newTestEngine()
	e.UpdateMarketPrice(tokenTYD, tokenUSTD, 6.007, "")

	stop := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeStopLoss, 6, 1)
	stop.StopPrice = 6
	trades := e.AddOrder(stop)

	if stop.TriggeredAt == nil {
		t.Fatalf("expected stop to be triggered")
	}
	snap := e.BookSnapshot(tokenTYD, tokenUSTD)
	if len(snap.StopLoss) != 0 {
		t.Fatalf("expected stopLoss list empty, got %d", len(snap.StopLoss))
	}
	// 合成参考价在场，触发后的市价单走合成流动性
	if stop.Status != types.OrderStatusFilled {
		t.Fatalf("expected FILLED via synthetic, got %s", stop.Status)
	}
	if len(trades) == 0 || !trades[0].Synthetic {
		t.Fatalf("expected synthetic trade, got %+v", trades)
	}
}

// 场景 2：卖侧止损合成成交不得级联触发排队中的买侧止损
func TestOppositeStopDoesNotCascadeOnSyntheticFill(t *testing.T) {
	e := newTestEngine()
	e.UpdateMarketPrice(tokenTYD, tokenUSTD, 5.65, "")

	buyStop := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeStopLoss, 6, 1)
	buyStop.StopPrice = 6
	e.AddOrder(buyStop)
	if buyStop.TriggeredAt != nil {
		t.Fatalf("buy stop must stay queued at 5.65")
	}

	sellStop := newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeStopLoss, 6, 1)
	sellStop.StopPrice = 6
	trades := e.AddOrder(sellStop)

	if sellStop.Status != types.OrderStatusFilled {
		t.Fatalf("expected sell stop FILLED via synthetic, got %s", sellStop.Status)
	}
	if len(trades) == 0 || !trades[0].Synthetic {
		t.Fatalf("expected synthetic fill, got %+v", trades)
	}
	if buyStop.Status != types.OrderStatusPending || buyStop.TriggeredAt != nil {
		t.Fatalf("buy stop must remain queued, got %s", buyStop.Status)
	}
	snap := e.BookSnapshot(tokenTYD, tokenUSTD)
	if len(snap.StopLoss) != 1 {
		t.Fatalf("expected buy stop still in list, got %d", len(snap.StopLoss))
	}
}

// 场景 5：无历史价格时两侧止损排队；价格更新触发后批内互撮成一笔成交
func TestStopPairCrossMatch(t *testing.T) {
	e := newTestEngine()

	buyStop := newRec(tokenAAA, tokenBBB, types.SideBuy, types.OrderTypeStopLoss, 6, 2)
	buyStop.StopPrice = 6
	e.AddOrder(buyStop)
	sellStop := newRec(tokenAAA, tokenBBB, types.SideSell, types.OrderTypeStopLoss, 6, 2)
	sellStop.StopPrice = 6
	e.AddOrder(sellStop)

	snap := e.BookSnapshot(tokenAAA, tokenBBB)
	if len(snap.StopLoss) != 2 {
		t.Fatalf("expected both stops queued, got %d", len(snap.StopLoss))
	}

	trades := e.UpdateMarketPrice(tokenAAA, tokenBBB, 6, "")
	if buyStop.Status != types.OrderStatusFilled || sellStop.Status != types.OrderStatusFilled {
		t.Fatalf("expected both FILLED, got %s / %s", buyStop.Status, sellStop.Status)
	}
	if len(trades) != 1 {
		t.Fatalf("expected exactly 1 cross trade, got %d", len(trades))
	}
	if trades[0].BuyOrderID != buyStop.ID || trades[0].SellOrderID != sellStop.ID {
		t.Fatalf("trade sides wrong: %+v", trades[0])
	}
	if trades[0].Price != 6 {
		t.Fatalf("expected cross at trigger context price 6, got %v", trades[0].Price)
	}
}

func TestStopLimitConvertsToLimit(t *testing.T) {
	e := newTestEngine()
	e.UpdateMarketPrice(tokenTYD, tokenUSTD, 10, "")

	stop := newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeStopLimit, 9.5, 3)
	stop.StopPrice = 11 // SELL：现价 10 ≤ 11 → 立即触发
	e.AddOrder(stop)

	if stop.OrderType != types.OrderTypeLimit {
		t.Fatalf("expected conversion to LIMIT, got %s", stop.OrderType)
	}
	snap := e.BookSnapshot(tokenTYD, tokenUSTD)
	if len(snap.Sell) != 1 || len(snap.StopLimit) != 0 {
		t.Fatalf("expected converted order resting on sell list, got sell=%d stopLimit=%d", len(snap.Sell), len(snap.StopLimit))
	}
}

func TestStopRejectedWithoutStopPrice(t *testing.T) {
	e := newTestEngine()
	stop := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeStopLoss, 6, 1)
	stop.StopPrice = 0
	e.AddOrder(stop)
	if stop.Status != types.OrderStatusRejected {
		t.Fatalf("expected REJECTED, got %s", stop.Status)
	}
}

func TestCancelRemovesFromAllLists(t *testing.T) {
	e := newTestEngine()
	rec := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeLimit, 100, 5)
	e.AddOrder(rec)

	if !e.Cancel(rec, "user_requested") {
		t.Fatalf("expected cancel to succeed")
	}
	if rec.Status != types.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", rec.Status)
	}
	if rec.MetaString(domain.MetaCancelReason) != "user_requested" {
		t.Fatalf("missing cancel reason")
	}
	snap := e.BookSnapshot(tokenTYD, tokenUSTD)
	if len(snap.Buy) != 0 {
		t.Fatalf("cancelled order still resting")
	}
	// 终态订单的再次取消是 no-op
	if e.Cancel(rec, "again") {
		t.Fatalf("cancel of terminal order must be a no-op")
	}
}

func TestExpireStale(t *testing.T) {
	e := newTestEngine()
	rec := newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeLimit, 100, 5)
	rec.Order.Expiry = big.NewInt(time.Now().Add(-time.Hour).Unix())
	e.AddOrder(rec)

	expired := e.ExpireStale(time.Now())
	if len(expired) != 1 || expired[0].ID != rec.ID {
		t.Fatalf("expected 1 expired order, got %d", len(expired))
	}
	if rec.Status != types.OrderStatusExpired {
		t.Fatalf("expected EXPIRED, got %s", rec.Status)
	}
	snap := e.BookSnapshot(tokenTYD, tokenUSTD)
	if len(snap.Buy) != 0 {
		t.Fatalf("expired order still resting")
	}
}

func TestTradeHistoryBounded(t *testing.T) {
	e := newTestEngine()
	for i := 0; i < domain.MaxTradeHistory+20; i++ {
		e.AddOrder(newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeLimit, 100, 1))
		e.AddOrder(newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeLimit, 100, 1))
	}
	snap := e.BookSnapshot(tokenTYD, tokenUSTD)
	if len(snap.Trades) > domain.MaxTradeHistory {
		t.Fatalf("trade history exceeds bound: %d", len(snap.Trades))
	}
}

// 没有终态订单可以残留在任何队列里
func TestNoTerminalRecordsInBook(t *testing.T) {
	e := newTestEngine()
	e.AddOrder(newRec(tokenTYD, tokenUSTD, types.SideSell, types.OrderTypeLimit, 100, 2))
	e.AddOrder(newRec(tokenTYD, tokenUSTD, types.SideBuy, types.OrderTypeLimit, 100, 2))

	snap := e.BookSnapshot(tokenTYD, tokenUSTD)
	for _, list := range [][]*domain.OrderRecord{snap.Buy, snap.Sell, snap.MarketBuy, snap.MarketSell, snap.StopLoss, snap.StopLimit} {
		for _, rec := range list {
			if rec.IsTerminal() {
				t.Fatalf("terminal record %s still resting with status %s", rec.ID, rec.Status)
			}
		}
	}
}
