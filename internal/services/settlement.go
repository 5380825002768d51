package services

import (
	"context"
	"math/big"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/dex/client"
	"github.com/dexbot/godex/internal/domain"
)

var settlementLog = logrus.WithField("component", "settlement")

// 结算相关的 metadata 键
const (
	metaBaseDecimals = "baseDecimals"
	metaOnchain      = "onchain"
	reasonSynthetic  = "synthetic_liquidity"
)

// OrderExecutor 链上订单执行协作方
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, order client.ContractOrder, signature []byte, fillAmount *big.Int) (*ethtypes.Transaction, error)
}

// SettlementAdapter 结算适配器（C7）
// 把成交转换成合约订单视图并调用链上协作方。失败只记录，不回滚撮合。
type SettlementAdapter struct {
	executor OrderExecutor
}

// NewSettlementAdapter 创建结算适配器
func NewSettlementAdapter(executor OrderExecutor) *SettlementAdapter {
	return &SettlementAdapter{executor: executor}
}

// Settle 结算一笔成交
// 合成流动性成交直接短路，不触达链上。
func (s *SettlementAdapter) Settle(ctx context.Context, trade *domain.Trade, maker, taker *domain.OrderRecord) *domain.SettlementResult {
	if trade.Synthetic {
		return &domain.SettlementResult{Success: true, Synthetic: true, Reason: reasonSynthetic}
	}
	if s == nil || s.executor == nil {
		return &domain.SettlementResult{Success: false, Error: "settlement executor not configured"}
	}
	if maker == nil {
		return &domain.SettlementResult{Success: false, Error: "maker order record missing"}
	}

	fillAmount := resolveFillAmount(trade, maker, taker)
	contractOrder := client.FromOrder(&maker.Order)

	tx, err := s.executor.ExecuteOrder(ctx, contractOrder, maker.Signature, fillAmount)
	if err != nil {
		settlementLog.WithError(err).WithField("trade", trade.ID).Warn("settlement failed")
		return &domain.SettlementResult{Success: false, Error: err.Error()}
	}

	settlementLog.WithFields(logrus.Fields{"trade": trade.ID, "tx": tx.Hash().Hex()}).Info("settlement dispatched")
	return &domain.SettlementResult{Success: true, TxHash: tx.Hash().Hex()}
}

// resolveFillAmount 成交数量解析优先级：
// maker 的 onchain.fillAmount → trade.FillAmount → trade.Amount（按基础精度放大）→ taker 的 onchain.fillAmount
func resolveFillAmount(trade *domain.Trade, maker, taker *domain.OrderRecord) *big.Int {
	if v := onchainFillOverride(maker); v != nil {
		return v
	}
	if trade.FillAmount != nil && trade.FillAmount.Sign() > 0 {
		return trade.FillAmount
	}
	if trade.Amount > 0 {
		decimals := int32(maker.MetaFloat(metaBaseDecimals))
		if decimals <= 0 {
			decimals = 18
		}
		return decimal.NewFromFloat(trade.Amount).Shift(decimals).Truncate(0).BigInt()
	}
	return onchainFillOverride(taker)
}

// onchainFillOverride 读取记录上的 onchain.fillAmount 覆盖
func onchainFillOverride(rec *domain.OrderRecord) *big.Int {
	if rec == nil || rec.Metadata == nil {
		return nil
	}
	overrides, ok := rec.Metadata[metaOnchain].(map[string]string)
	if !ok {
		return nil
	}
	raw, ok := overrides["fillAmount"]
	if !ok || raw == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() <= 0 {
		return nil
	}
	return v
}
