package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/dex/signing"
	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/domain"
	"github.com/dexbot/godex/internal/tokens"
)

var builderLog = logrus.WithField("component", "order_builder")

// 规范化错误
var (
	ErrMissingField   = errors.New("missing required field")
	ErrMissingPrice   = errors.New("no price source available for market order")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidAddress = errors.New("invalid address")
)

// stopPriceScale 链上 stopPrice 的定点精度
const stopPriceScale = 18

// OrderDraft 用户提交的订单草稿（显示字段）
type OrderDraft struct {
	ID          string `json:"id,omitempty"` // 可选的调用方指定 ID
	Trader      string `json:"trader"`
	BaseToken   string `json:"baseToken"`
	QuoteToken  string `json:"quoteToken"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`

	Amount      string `json:"amount"`
	Price       string `json:"price,omitempty"`
	MarketPrice string `json:"marketPrice,omitempty"` // 市价单的价格覆盖
	StopPrice   string `json:"stopPrice,omitempty"`
	MinFill     string `json:"minFillAmount,omitempty"`

	// Expiry 接受 unix 秒或 ISO-8601
	Expiry string `json:"expiry,omitempty"`
	Nonce  string `json:"nonce,omitempty"`

	AllowPartialFill *bool `json:"allowPartialFill,omitempty"`

	FeeRecipient string `json:"feeRecipient,omitempty"`
	FeeAmount    string `json:"feeAmount,omitempty"`

	// Signature EIP712 签名（create 必填，prepare 不需要）
	Signature string `json:"signature,omitempty"`

	// Onchain 链上字段覆盖（fillAmount 等）
	Onchain map[string]string `json:"onchain,omitempty"`
}

// PreparedOrder 规范化结果：规范订单 + 类型化数据 + 显示元数据
type PreparedOrder struct {
	Order     types.Order        `json:"order"`
	TypedData apitypes.TypedData `json:"typedData"`
	Hash      common.Hash        `json:"hash"`

	Trader     common.Address `json:"trader"`
	BaseToken  common.Address `json:"baseToken"`
	QuoteToken common.Address `json:"quoteToken"`

	Side        types.Side        `json:"side"`
	OrderType   types.OrderType   `json:"orderType"`
	TimeInForce types.TimeInForce `json:"timeInForce"`

	Amount    float64 `json:"amount"` // 基础代币显示数量
	Price     float64 `json:"price"`  // 显示价格（quote/base）
	StopPrice float64 `json:"stopPrice,omitempty"`
	MinFill   float64 `json:"minFillAmount,omitempty"`

	AllowPartialFill bool `json:"allowPartialFill"`

	PriceSource   string `json:"priceSource"`
	BaseDecimals  int    `json:"baseDecimals"`
	QuoteDecimals int    `json:"quoteDecimals"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PriceBook 规范化器需要的市场价视图（由撮合引擎提供）
type PriceBook interface {
	MarketPrice(base, quote common.Address) (float64, bool)
	BestOppositePrice(base, quote common.Address, side types.Side) (float64, bool)
}

// PriceEstimator 合成价格估计（由预言机提供）
type PriceEstimator interface {
	EstimatePairPrice(base, quote common.Address) float64
}

// NonceSource maker 链上 nonce 查询（由交易所合约客户端提供）
type NonceSource interface {
	GetNonce(ctx context.Context, user common.Address) (*big.Int, error)
}

// OrderBuilder 订单规范化器
// 把显示字段的草稿转换成链上兼容的规范订单和 EIP712 类型化数据。
// 无副作用：不触达任何引擎状态。
type OrderBuilder struct {
	domain signing.Domain
	tokens tokens.Directory
	book   PriceBook
	oracle PriceEstimator
	nonces NonceSource
}

// NewOrderBuilder 创建规范化器
func NewOrderBuilder(dom signing.Domain, dir tokens.Directory, book PriceBook, est PriceEstimator, nonces NonceSource) *OrderBuilder {
	return &OrderBuilder{domain: dom, tokens: dir, book: book, oracle: est, nonces: nonces}
}

// Domain 当前 EIP712 域
func (ob *OrderBuilder) Domain() signing.Domain { return ob.domain }

// Build 规范化草稿：解析、定价、定向并生成类型化数据
func (ob *OrderBuilder) Build(ctx context.Context, draft *OrderDraft) (*PreparedOrder, error) {
	if strings.TrimSpace(draft.Trader) == "" {
		return nil, fmt.Errorf("%w: trader", ErrMissingField)
	}
	if strings.TrimSpace(draft.BaseToken) == "" || strings.TrimSpace(draft.QuoteToken) == "" {
		return nil, fmt.Errorf("%w: baseToken/quoteToken", ErrMissingField)
	}
	if !common.IsHexAddress(draft.Trader) {
		return nil, fmt.Errorf("%w: trader %q", ErrInvalidAddress, draft.Trader)
	}
	if !common.IsHexAddress(draft.BaseToken) || !common.IsHexAddress(draft.QuoteToken) {
		return nil, fmt.Errorf("%w: token address", ErrInvalidAddress)
	}

	side, err := types.ParseSide(draft.Side)
	if err != nil {
		return nil, err
	}
	orderType, err := types.ParseOrderType(draft.OrderType)
	if err != nil {
		return nil, err
	}
	tif, err := types.ParseTimeInForce(draft.TimeInForce)
	if err != nil {
		return nil, err
	}

	trader := types.NormalizeAddress(draft.Trader)
	base := types.NormalizeAddress(draft.BaseToken)
	quote := types.NormalizeAddress(draft.QuoteToken)

	baseDecimals := tokens.Decimals(ctx, ob.tokens, base)
	quoteDecimals := tokens.Decimals(ctx, ob.tokens, quote)

	// 基础数量 → 基础单位整数
	amountDec, err := decimal.NewFromString(strings.TrimSpace(draft.Amount))
	if err != nil || amountDec.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, draft.Amount)
	}
	baseUnits := amountDec.Shift(int32(baseDecimals)).Truncate(0).BigInt()
	if baseUnits.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount rounds to zero at %d decimals", ErrInvalidAmount, baseDecimals)
	}

	priceDec, priceSource, err := ob.resolvePrice(draft, orderType, base, quote, side)
	if err != nil {
		return nil, err
	}
	priceUnits := priceDec.Shift(int32(quoteDecimals)).Truncate(0).BigInt()

	// quoteUnits = baseUnits × priceUnits / 10^baseDecimals（精确整数运算）
	baseScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(baseDecimals)), nil)
	quoteUnits := new(big.Int).Mul(baseUnits, priceUnits)
	quoteUnits.Div(quoteUnits, baseScale)
	if quoteUnits.Sign() <= 0 {
		return nil, fmt.Errorf("%w: quote amount rounds to zero", ErrInvalidAmount)
	}

	order := types.Order{
		Maker:            trader,
		OrderType:        orderType,
		TimeInForce:      tif,
		Side:             side,
		FeeRecipient:     types.NormalizeAddress(draft.FeeRecipient),
		AllowPartialFill: draft.AllowPartialFill == nil || *draft.AllowPartialFill,
	}

	// 链上定向：SELL 给出 base 要求 quote，BUY 镜像
	if side == types.SideSell {
		order.TokenGive, order.AmountGive = base, baseUnits
		order.TokenGet, order.AmountGet = quote, quoteUnits
	} else {
		order.TokenGive, order.AmountGive = quote, quoteUnits
		order.TokenGet, order.AmountGet = base, baseUnits
	}

	order.Nonce, err = ob.resolveNonce(ctx, draft, trader)
	if err != nil {
		return nil, err
	}

	expiry, err := parseExpiry(draft.Expiry)
	if err != nil {
		return nil, err
	}
	order.Expiry = big.NewInt(expiry)

	// stopPrice：定点 1e18
	var stopDisplay float64
	if strings.TrimSpace(draft.StopPrice) != "" {
		stopDec, err := decimal.NewFromString(strings.TrimSpace(draft.StopPrice))
		if err != nil || stopDec.Sign() < 0 {
			return nil, fmt.Errorf("%w: stopPrice %q", ErrInvalidAmount, draft.StopPrice)
		}
		order.StopPrice = stopDec.Shift(stopPriceScale).Truncate(0).BigInt()
		stopDisplay = stopDec.InexactFloat64()
	} else {
		order.StopPrice = new(big.Int)
	}
	if (orderType == types.OrderTypeStopLoss || orderType == types.OrderTypeStopLimit) && order.StopPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: stop order requires positive stopPrice", ErrInvalidAmount)
	}

	// minFillAmount：基础单位表达；BUY 方向按价格折算到 quote 单位
	var minFillDisplay float64
	order.MinFillAmount = new(big.Int)
	if strings.TrimSpace(draft.MinFill) != "" {
		minDec, err := decimal.NewFromString(strings.TrimSpace(draft.MinFill))
		if err != nil || minDec.Sign() < 0 {
			return nil, fmt.Errorf("%w: minFillAmount %q", ErrInvalidAmount, draft.MinFill)
		}
		minFillDisplay = minDec.InexactFloat64()
		minBaseUnits := minDec.Shift(int32(baseDecimals)).Truncate(0).BigInt()
		if side == types.SideBuy {
			rescaled := new(big.Int).Mul(minBaseUnits, priceUnits)
			rescaled.Div(rescaled, baseScale)
			order.MinFillAmount = rescaled
		} else {
			order.MinFillAmount = minBaseUnits
		}
	}
	if order.MinFillAmount.Cmp(order.AmountGive) > 0 {
		return nil, fmt.Errorf("%w: minFillAmount exceeds amountGive", ErrInvalidAmount)
	}

	order.FeeAmount = new(big.Int)
	if strings.TrimSpace(draft.FeeAmount) != "" {
		fee, ok := new(big.Int).SetString(strings.TrimSpace(draft.FeeAmount), 10)
		if !ok || fee.Sign() < 0 {
			return nil, fmt.Errorf("%w: feeAmount %q", ErrInvalidAmount, draft.FeeAmount)
		}
		order.FeeAmount = fee
	}

	typedData := signing.BuildTypedData(ob.domain, &order)
	hash, err := signing.HashOrder(ob.domain, &order)
	if err != nil {
		return nil, err
	}

	prepared := &PreparedOrder{
		Order:            order,
		TypedData:        typedData,
		Hash:             hash,
		Trader:           trader,
		BaseToken:        base,
		QuoteToken:       quote,
		Side:             side,
		OrderType:        orderType,
		TimeInForce:      tif,
		Amount:           amountDec.InexactFloat64(),
		Price:            priceDec.InexactFloat64(),
		StopPrice:        stopDisplay,
		MinFill:          minFillDisplay,
		AllowPartialFill: order.AllowPartialFill,
		PriceSource:      priceSource,
		BaseDecimals:     baseDecimals,
		QuoteDecimals:    quoteDecimals,
		Metadata: map[string]interface{}{
			domain.MetaPriceSource: priceSource,
			domain.MetaPrice:       priceDec.InexactFloat64(),
		},
	}

	builderLog.WithFields(logrus.Fields{
		"trader": trader.Hex(),
		"side":   side,
		"type":   orderType,
		"price":  prepared.Price,
		"source": priceSource,
	}).Debug("order canonicalized")

	return prepared, nil
}

// resolvePrice 价格解析优先级
// 显式价格 → （仅市价）marketPrice 覆盖 → 市场价快照 → 对手盘最优限价 → 合成估价
func (ob *OrderBuilder) resolvePrice(draft *OrderDraft, orderType types.OrderType, base, quote common.Address, side types.Side) (decimal.Decimal, string, error) {
	if strings.TrimSpace(draft.Price) != "" {
		p, err := decimal.NewFromString(strings.TrimSpace(draft.Price))
		if err != nil || p.Sign() <= 0 {
			return decimal.Zero, "", fmt.Errorf("%w: price %q", ErrInvalidAmount, draft.Price)
		}
		return p, domain.PriceSourceInput, nil
	}

	if orderType != types.OrderTypeMarket {
		// 限价/止损限价必须显式给价；止损单允许无价，后续由触发价兜底
		if orderType == types.OrderTypeStopLoss {
			if strings.TrimSpace(draft.StopPrice) != "" {
				p, err := decimal.NewFromString(strings.TrimSpace(draft.StopPrice))
				if err == nil && p.Sign() > 0 {
					return p, domain.PriceSourceDerived, nil
				}
			}
		}
		return decimal.Zero, "", fmt.Errorf("%w: price", ErrMissingField)
	}

	if strings.TrimSpace(draft.MarketPrice) != "" {
		p, err := decimal.NewFromString(strings.TrimSpace(draft.MarketPrice))
		if err != nil || p.Sign() <= 0 {
			return decimal.Zero, "", fmt.Errorf("%w: marketPrice %q", ErrInvalidAmount, draft.MarketPrice)
		}
		return p, domain.PriceSourceDerived, nil
	}

	if ob.book != nil {
		if p, ok := ob.book.MarketPrice(base, quote); ok && p > 0 {
			return decimal.NewFromFloat(p), domain.PriceSourceMarket, nil
		}
		if p, ok := ob.book.BestOppositePrice(base, quote, side); ok && p > 0 {
			return decimal.NewFromFloat(p), domain.PriceSourceOrderBook, nil
		}
	}

	if ob.oracle != nil {
		if p := ob.oracle.EstimatePairPrice(base, quote); p > 0 {
			return decimal.NewFromFloat(p), domain.PriceSourceSynthetic, nil
		}
	}

	return decimal.Zero, "", ErrMissingPrice
}

// resolveNonce 调用方给定优先，否则查询链上 nonce
func (ob *OrderBuilder) resolveNonce(ctx context.Context, draft *OrderDraft, trader common.Address) (*big.Int, error) {
	if strings.TrimSpace(draft.Nonce) != "" {
		nonce, ok := new(big.Int).SetString(strings.TrimSpace(draft.Nonce), 10)
		if !ok || nonce.Sign() < 0 {
			return nil, fmt.Errorf("%w: nonce %q", ErrInvalidAmount, draft.Nonce)
		}
		return nonce, nil
	}
	if ob.nonces != nil {
		nonce, err := ob.nonces.GetNonce(ctx, trader)
		if err != nil {
			return nil, fmt.Errorf("查询链上 nonce 失败: %w", err)
		}
		return nonce, nil
	}
	return new(big.Int), nil
}

// parseExpiry 解析过期时间：空 → 0；整数按 unix 秒；否则按 ISO-8601
func parseExpiry(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		if sec < 0 {
			return 0, fmt.Errorf("%w: expiry %q", ErrInvalidAmount, v)
		}
		return sec, nil
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, fmt.Errorf("%w: expiry %q", ErrInvalidAmount, v)
	}
	return ts.Unix(), nil
}
