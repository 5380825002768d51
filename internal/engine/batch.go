package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/domain"
)

// DefaultBatchTolerance 环路汇率乘积的默认容差
const DefaultBatchTolerance = 1e-8

// 批量环路结算错误
var (
	ErrBatchTooSmall    = errors.New("batch requires at least 2 orders")
	ErrOpenRing         = errors.New("orders do not form a closed token ring")
	ErrImbalancedRates  = errors.New("ring conversion rates do not multiply to 1")
	ErrNoLiquidity      = errors.New("first order has no offer remaining")
	ErrOverfill         = errors.New("fill exceeds remaining or violates all-or-nothing")
	ErrInactiveOrder    = errors.New("batch contains a terminal order")
	ErrUnpricedOrder    = errors.New("batch contains an order without price")
)

// BatchResult 批量环路结算结果
type BatchResult struct {
	BatchID        string                `json:"batchId"`
	OfferAmounts   []float64             `json:"offerAmounts"`
	RequestAmounts []float64             `json:"requestAmounts"`
	Trades         []*domain.Trade       `json:"trades"`
	Orders         []*domain.OrderRecord `json:"orders"`
}

// batchLeg 单个订单在环路中的视角
type batchLeg struct {
	rec            *domain.OrderRecord
	rate           float64
	offerToken     common.Address
	requestToken   common.Address
	offerRemaining float64
}

// ExecuteBatch N 方原子环路结算
// 校验订单构成封闭的代币环、汇率乘积为 1（容差内），求最大可原子执行量并落账。
// 任何校验失败都不落任何成交。
func (e *Engine) ExecuteBatch(orders []*domain.OrderRecord, tolerance float64) (*BatchResult, error) {
	if len(orders) < 2 {
		return nil, ErrBatchTooSmall
	}
	if tolerance <= 0 {
		tolerance = DefaultBatchTolerance
	}

	legs := make([]*batchLeg, len(orders))
	for i, rec := range orders {
		if rec.IsTerminal() {
			return nil, fmt.Errorf("%w: %s", ErrInactiveOrder, rec.ID)
		}
		if rec.Price <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnpricedOrder, rec.ID)
		}
		leg := &batchLeg{rec: rec}
		if rec.Side == types.SideSell {
			leg.rate = rec.Price
			leg.offerToken = rec.BaseToken
			leg.requestToken = rec.QuoteToken
			leg.offerRemaining = rec.Remaining()
		} else {
			leg.rate = 1 / rec.Price
			leg.offerToken = rec.QuoteToken
			leg.requestToken = rec.BaseToken
			leg.offerRemaining = rec.Remaining() * rec.Price
		}
		legs[i] = leg
	}

	// 环路闭合：每一跳的 requestToken 必须等于下一跳的 offerToken（含回绕）
	n := len(legs)
	for i := 0; i < n; i++ {
		next := legs[(i+1)%n]
		if legs[i].requestToken != next.offerToken {
			return nil, fmt.Errorf("%w: leg %d requests %s but leg %d offers %s",
				ErrOpenRing, i, legs[i].requestToken.Hex(), (i+1)%n, next.offerToken.Hex())
		}
	}

	// 汇率乘积必须为 1（容差内）
	product := 1.0
	for _, leg := range legs {
		product *= leg.rate
	}
	if math.Abs(product-1) > tolerance {
		return nil, fmt.Errorf("%w: product=%g", ErrImbalancedRates, product)
	}

	if legs[0].offerRemaining <= 0 {
		return nil, ErrNoLiquidity
	}

	// 最大原子执行量：沿环路传播累计汇率，取各跳可供量的最小折算值
	cumulativeRate := 1.0
	maxOffer := legs[0].offerRemaining
	for i := 1; i < n; i++ {
		cumulativeRate *= legs[i-1].rate
		candidate := legs[i].offerRemaining / cumulativeRate
		if candidate < maxOffer {
			maxOffer = candidate
		}
	}
	if maxOffer <= 0 {
		return nil, ErrNoLiquidity
	}

	offer := make([]float64, n)
	request := make([]float64, n)
	offer[0] = maxOffer
	for i := 0; i < n; i++ {
		request[i] = offer[i] * legs[i].rate
		offer[(i+1)%n] = request[i]
	}
	if math.Abs(request[n-1]-offer[0]) > tolerance {
		return nil, fmt.Errorf("%w: ring does not close, residual=%g", ErrImbalancedRates, math.Abs(request[n-1]-offer[0]))
	}

	// 先全量校验，再落账
	baseFilled := make([]float64, n)
	for i, leg := range legs {
		if leg.rec.Side == types.SideSell {
			baseFilled[i] = offer[i]
		} else {
			baseFilled[i] = request[i]
		}
		if baseFilled[i] > leg.rec.Remaining()+tolerance {
			return nil, fmt.Errorf("%w: order %s", ErrOverfill, leg.rec.ID)
		}
		if !leg.rec.AllowPartialFill && math.Abs(baseFilled[i]-leg.rec.Remaining()) > tolerance {
			return nil, fmt.Errorf("%w: order %s requires full fill", ErrOverfill, leg.rec.ID)
		}
	}

	batchID := uuid.NewString()
	ts := time.Now()
	result := &BatchResult{
		BatchID:        batchID,
		OfferAmounts:   offer,
		RequestAmounts: request,
		Orders:         orders,
	}

	for i, leg := range legs {
		rec := leg.rec
		next := legs[(i+1)%n].rec
		b := e.book(rec.BaseToken, rec.QuoteToken)

		rec.ApplyFill(baseFilled[i], rec.Price, next.ID, batchID, ts)
		if rec.IsTerminal() {
			b.Remove(rec.ID)
		}

		trade := &domain.Trade{
			ID:           uuid.NewString(),
			Pair:         b.Pair,
			BaseToken:    rec.BaseToken,
			QuoteToken:   rec.QuoteToken,
			Price:        rec.Price,
			Amount:       baseFilled[i],
			MakerOrderID: rec.ID,
			TakerOrderID: next.ID,
			TakerSide:    rec.Side,
			Source:       domain.PriceSourceBatch,
			BatchID:      batchID,
			Timestamp:    ts,
		}
		if rec.Side == types.SideBuy {
			trade.BuyOrderID, trade.SellOrderID = rec.ID, next.ID
		} else {
			trade.BuyOrderID, trade.SellOrderID = next.ID, rec.ID
		}
		b.AppendTrade(trade)
		result.Trades = append(result.Trades, trade)

		cascade := e.updatePrice(rec.BaseToken, rec.QuoteToken, rec.Price, domain.PriceSourceBatch, false)
		result.Trades = append(result.Trades, cascade...)
		e.oracle.RegisterTrade(rec.BaseToken, rec.QuoteToken, rec.Price, baseFilled[i], baseFilled[i]*rec.Price, rec.Side, domain.PriceSourceBatch)
	}

	engineLog.WithFields(logrus.Fields{
		"batch":  batchID,
		"orders": len(orders),
		"volume": maxOffer,
	}).Info("batch executed")

	return result, nil
}
