package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/dex/signing"
	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/domain"
	"github.com/dexbot/godex/internal/engine"
)

var serviceLog = logrus.WithField("component", "order_service")

// 服务层错误
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrDuplicateOrderID = errors.New("order id already exists")
	ErrMissingSignature = errors.New("missing signature")
)

// expirySweepInterval 过期挂单的巡检周期
const expirySweepInterval = time.Minute

// ListFilter 订单检索条件
type ListFilter struct {
	BaseToken  string
	QuoteToken string
	Trader     string
	Status     string
}

// OrderService 订单服务（C6，Actor 模型）
// 所有变更操作经由单一命令通道串行执行；引擎状态只在 Run 的 goroutine 中被触达。
type OrderService struct {
	cmdChan chan func()

	builder    *OrderBuilder
	engine     *engine.Engine
	settlement *SettlementAdapter

	// records 订单登记表：终态订单从订单簿移除后仍保留在这里
	records map[string]*domain.OrderRecord
}

// NewOrderService 创建订单服务
func NewOrderService(builder *OrderBuilder, eng *engine.Engine, settlement *SettlementAdapter) *OrderService {
	return &OrderService{
		cmdChan:    make(chan func(), 1024),
		builder:    builder,
		engine:     eng,
		settlement: settlement,
		records:    make(map[string]*domain.OrderRecord),
	}
}

// Run 启动命令循环（阻塞直到 ctx 取消）
func (s *OrderService) Run(ctx context.Context) {
	serviceLog.Info("order service started")
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			serviceLog.Info("order service stopped")
			return
		case cmd := <-s.cmdChan:
			cmd()
		case <-ticker.C:
			expired := s.engine.ExpireStale(time.Now())
			if len(expired) > 0 {
				serviceLog.WithField("count", len(expired)).Info("expired stale orders")
			}
		}
	}
}

// submit 把闭包排队到命令循环并等待完成
func (s *OrderService) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.cmdChan <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prepare 规范化草稿但不落单（供签名前预览）
func (s *OrderService) Prepare(ctx context.Context, draft *OrderDraft) (*PreparedOrder, error) {
	var (
		prepared *PreparedOrder
		err      error
	)
	if subErr := s.submit(ctx, func() {
		prepared, err = s.builder.Build(ctx, draft)
	}); subErr != nil {
		return nil, subErr
	}
	return prepared, err
}

// Create 创建订单：规范化 → 验签 → 登记 → 撮合 → 结算派发
func (s *OrderService) Create(ctx context.Context, draft *OrderDraft) (*domain.OrderRecord, error) {
	var (
		rec *domain.OrderRecord
		err error
	)
	if subErr := s.submit(ctx, func() {
		rec, err = s.handleCreate(ctx, draft)
	}); subErr != nil {
		return nil, subErr
	}
	return rec, err
}

func (s *OrderService) handleCreate(ctx context.Context, draft *OrderDraft) (*domain.OrderRecord, error) {
	if strings.TrimSpace(draft.Signature) == "" {
		return nil, ErrMissingSignature
	}
	sig, err := hexutil.Decode(draft.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", signing.ErrInvalidSignature, err)
	}

	prepared, err := s.builder.Build(ctx, draft)
	if err != nil {
		return nil, err
	}
	if !prepared.Order.Valid() {
		return nil, fmt.Errorf("%w: canonical order violates invariants", ErrInvalidAmount)
	}

	signer, err := signing.Recover(prepared.Hash, sig)
	if err != nil {
		return nil, err
	}
	if signer != prepared.Order.Maker {
		return nil, fmt.Errorf("%w: recovered %s, expected %s",
			signing.ErrMakerMismatch, signer.Hex(), prepared.Order.Maker.Hex())
	}

	id := strings.TrimSpace(draft.ID)
	if id == "" {
		id = uuid.NewString()
	} else if _, exists := s.records[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOrderID, id)
	}

	now := time.Now()
	rec := &domain.OrderRecord{
		ID:               id,
		Order:            prepared.Order,
		Signature:        sig,
		Hash:             prepared.Hash,
		Trader:           prepared.Trader,
		BaseToken:        prepared.BaseToken,
		QuoteToken:       prepared.QuoteToken,
		Side:             prepared.Side,
		OrderType:        prepared.OrderType,
		TimeInForce:      prepared.TimeInForce,
		Price:            prepared.Price,
		Amount:           prepared.Amount,
		StopPrice:        prepared.StopPrice,
		MinFill:          prepared.MinFill,
		AllowPartialFill: prepared.AllowPartialFill,
		Status:           types.OrderStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for k, v := range prepared.Metadata {
		rec.SetMeta(k, v)
	}
	rec.SetMeta(metaBaseDecimals, float64(prepared.BaseDecimals))
	if len(draft.Onchain) > 0 {
		rec.SetMeta(metaOnchain, draft.Onchain)
	}

	s.records[id] = rec

	trades := s.engine.AddOrder(rec)
	s.recordTrades(rec, trades)
	s.settleTrades(ctx, trades)

	serviceLog.WithFields(logrus.Fields{
		"order":  rec.ID,
		"status": rec.Status,
		"trades": len(trades),
	}).Info("order created")

	return rec, nil
}

// recordTrades 把成交 ID 挂到订单 metadata 上
func (s *OrderService) recordTrades(rec *domain.OrderRecord, trades []*domain.Trade) {
	if len(trades) == 0 {
		return
	}
	ids := make([]string, 0, len(trades))
	for _, t := range trades {
		ids = append(ids, t.ID)
	}
	existing, _ := rec.Metadata[domain.MetaTrades].([]string)
	rec.SetMeta(domain.MetaTrades, append(existing, ids...))
}

// settleTrades 为每笔成交派发结算意图
// 结算失败只写到 trade.Settlement，不影响撮合结果。
func (s *OrderService) settleTrades(ctx context.Context, trades []*domain.Trade) {
	for _, trade := range trades {
		if trade.Settlement != nil {
			continue
		}
		if trade.Synthetic {
			trade.Settlement = &domain.SettlementResult{Success: true, Synthetic: true, Reason: reasonSynthetic}
			continue
		}
		maker := s.records[trade.MakerOrderID]
		taker := s.records[trade.TakerOrderID]
		if trade.FillAmount == nil && maker != nil && trade.Amount > 0 {
			decimals := int32(maker.MetaFloat(metaBaseDecimals))
			if decimals <= 0 {
				decimals = 18
			}
			trade.FillAmount = decimal.NewFromFloat(trade.Amount).Shift(decimals).Truncate(0).BigInt()
		}
		if s.settlement == nil {
			continue
		}
		trade.Settlement = s.settlement.Settle(ctx, trade, maker, taker)
	}
}

// Cancel 取消订单；终态订单是 no-op，原样返回
func (s *OrderService) Cancel(ctx context.Context, id, reason string) (*domain.OrderRecord, error) {
	var (
		rec *domain.OrderRecord
		err error
	)
	if subErr := s.submit(ctx, func() {
		var ok bool
		rec, ok = s.records[id]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrOrderNotFound, id)
			return
		}
		s.engine.Cancel(rec, reason)
	}); subErr != nil {
		return nil, subErr
	}
	return rec, err
}

// Get 按 ID 查询订单
func (s *OrderService) Get(ctx context.Context, id string) (*domain.OrderRecord, error) {
	var (
		rec *domain.OrderRecord
		err error
	)
	if subErr := s.submit(ctx, func() {
		var ok bool
		rec, ok = s.records[id]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
	}); subErr != nil {
		return nil, subErr
	}
	return rec, err
}

// List 条件检索，createdAt 降序
func (s *OrderService) List(ctx context.Context, filter ListFilter) ([]*domain.OrderRecord, error) {
	var out []*domain.OrderRecord
	if subErr := s.submit(ctx, func() {
		for _, rec := range s.records {
			if filter.BaseToken != "" && !strings.EqualFold(rec.BaseToken.Hex(), filter.BaseToken) {
				continue
			}
			if filter.QuoteToken != "" && !strings.EqualFold(rec.QuoteToken.Hex(), filter.QuoteToken) {
				continue
			}
			if filter.Trader != "" && !strings.EqualFold(rec.Trader.Hex(), filter.Trader) {
				continue
			}
			if filter.Status != "" && !strings.EqualFold(string(rec.Status), filter.Status) {
				continue
			}
			out = append(out, rec)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}); subErr != nil {
		return nil, subErr
	}
	return out, nil
}

// OrderBook 交易对订单簿快照
func (s *OrderService) OrderBook(ctx context.Context, baseToken, quoteToken string) (*domain.OrderBookSnapshot, error) {
	var snap *domain.OrderBookSnapshot
	if subErr := s.submit(ctx, func() {
		snap = s.engine.BookSnapshot(types.NormalizeAddress(baseToken), types.NormalizeAddress(quoteToken))
	}); subErr != nil {
		return nil, subErr
	}
	return snap, nil
}

// AllOrderBooks 全部交易对的快照
func (s *OrderService) AllOrderBooks(ctx context.Context) (map[string]*domain.OrderBookSnapshot, error) {
	var snaps map[string]*domain.OrderBookSnapshot
	if subErr := s.submit(ctx, func() {
		snaps = s.engine.AllBookSnapshots()
	}); subErr != nil {
		return nil, subErr
	}
	return snaps, nil
}

// RecentTrades 最近成交
func (s *OrderService) RecentTrades(ctx context.Context, baseToken, quoteToken string, limit int) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	if subErr := s.submit(ctx, func() {
		trades = s.engine.RecentTrades(types.NormalizeAddress(baseToken), types.NormalizeAddress(quoteToken), limit)
	}); subErr != nil {
		return nil, subErr
	}
	return trades, nil
}

// UpdateMarketPrice 注入参考价；触发的止损成交同样走结算派发
func (s *OrderService) UpdateMarketPrice(ctx context.Context, baseToken, quoteToken string, price float64) (float64, error) {
	var result float64
	if subErr := s.submit(ctx, func() {
		base := types.NormalizeAddress(baseToken)
		quote := types.NormalizeAddress(quoteToken)
		trades := s.engine.UpdateMarketPrice(base, quote, price, "")
		s.settleTrades(ctx, trades)
		if p, ok := s.engine.MarketPrice(base, quote); ok {
			result = p
		}
	}); subErr != nil {
		return 0, subErr
	}
	return result, nil
}

// ExecuteBatch N 方环路批量结算
func (s *OrderService) ExecuteBatch(ctx context.Context, orderIDs []string, tolerance float64) (*engine.BatchResult, error) {
	var (
		result *engine.BatchResult
		err    error
	)
	if subErr := s.submit(ctx, func() {
		orders := make([]*domain.OrderRecord, 0, len(orderIDs))
		for _, id := range orderIDs {
			rec, ok := s.records[id]
			if !ok {
				err = fmt.Errorf("%w: %s", ErrOrderNotFound, id)
				return
			}
			orders = append(orders, rec)
		}
		result, err = s.engine.ExecuteBatch(orders, tolerance)
		if err != nil {
			return
		}
		s.settleTrades(ctx, result.Trades)
	}); subErr != nil {
		return nil, subErr
	}
	return result, err
}

// MarketPriceFor 读取交易对当前市场价
func (s *OrderService) MarketPriceFor(ctx context.Context, baseToken, quoteToken string) (float64, bool, error) {
	var (
		price float64
		ok    bool
	)
	if subErr := s.submit(ctx, func() {
		price, ok = s.engine.MarketPrice(types.NormalizeAddress(baseToken), types.NormalizeAddress(quoteToken))
	}); subErr != nil {
		return 0, false, subErr
	}
	return price, ok, nil
}
