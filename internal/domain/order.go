package domain

import (
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexbot/godex/dex/types"
)

// 常用 metadata 键
const (
	MetaTrades        = "trades"
	MetaPriceSource   = "priceSource"
	MetaCancelReason  = "cancelReason"
	MetaRejectReason  = "rejectReason"
	MetaSyntheticFill = "syntheticFill"
	MetaTriggerPrice  = "triggeredPrice"
	MetaTriggerSource = "triggerSource"
	MetaPrice         = "price"
)

// Execution 单次成交明细
type Execution struct {
	Amount       float64   `json:"amount"`       // 成交数量（基础代币单位）
	Price        float64   `json:"price"`        // 成交价格
	Counterparty string    `json:"counterparty"` // 对手方订单 ID
	BatchID      string    `json:"batchId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// OrderRecord 订单记录（引擎内部视图）
// 规范订单 Order 一经签名不再修改；撮合过程中的可变状态都在记录层。
type OrderRecord struct {
	ID    string      // 订单 ID（UUIDv4）
	Order types.Order // 规范链上订单（已签名，不可变）

	Signature []byte         // EIP712 签名
	Hash      common.Hash    // EIP712 摘要
	Trader    common.Address // 下单人（= Order.Maker）

	BaseToken  common.Address // 基础代币
	QuoteToken common.Address // 计价代币

	Side        types.Side        // 显示方向
	OrderType   types.OrderType   // 当前订单类型（止损触发后会转为 LIMIT/MARKET）
	TimeInForce types.TimeInForce // 有效期策略

	Price     float64 // 显示价格（quote/base，0 表示未定价）
	Amount    float64 // 显示数量（基础代币单位）
	StopPrice float64 // 止损触发价（显示单位）
	MinFill   float64 // 最小成交数量（显示单位）

	AllowPartialFill bool

	Filled float64           // 已成交数量（基础代币单位，累计）
	Status types.OrderStatus // 当前状态

	CreatedAt   time.Time
	UpdatedAt   time.Time
	TriggeredAt *time.Time

	Executions []*Execution
	Metadata   map[string]interface{}
}

// PairKey 订单所属交易对键
func (r *OrderRecord) PairKey() string {
	return types.PairKey(r.BaseToken, r.QuoteToken)
}

// Remaining 未成交数量，下限为 0
func (r *OrderRecord) Remaining() float64 {
	return math.Max(r.Amount-r.Filled, 0)
}

// HasPrice 是否带有效价格
func (r *OrderRecord) HasPrice() bool {
	return r.Price > 0
}

// IsTerminal 是否处于终态
func (r *OrderRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// SetMeta 写入 metadata（惰性初始化）
func (r *OrderRecord) SetMeta(key string, value interface{}) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata[key] = value
}

// MetaString 读取字符串类型的 metadata
func (r *OrderRecord) MetaString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	if v, ok := r.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaFloat 读取数值类型的 metadata
func (r *OrderRecord) MetaFloat(key string) float64 {
	if r.Metadata == nil {
		return 0
	}
	if v, ok := r.Metadata[key].(float64); ok {
		return v
	}
	return 0
}

// ApplyFill 记录一次成交并推进状态
// remaining 归零则 FILLED，否则 PARTIAL
func (r *OrderRecord) ApplyFill(amount, price float64, counterparty, batchID string, ts time.Time) *Execution {
	exec := &Execution{
		Amount:       amount,
		Price:        price,
		Counterparty: counterparty,
		BatchID:      batchID,
		Timestamp:    ts,
	}
	r.Executions = append(r.Executions, exec)
	r.Filled += amount
	r.UpdatedAt = ts
	if r.Remaining() <= 0 {
		r.Status = types.OrderStatusFilled
	} else {
		r.Status = types.OrderStatusPartial
	}
	return exec
}

// MarkTriggered 止损单触发时的过渡标记
func (r *OrderRecord) MarkTriggered(price float64, source string, ts time.Time) {
	r.TriggeredAt = &ts
	r.Status = types.OrderStatusTriggered
	r.UpdatedAt = ts
	r.SetMeta(MetaTriggerPrice, price)
	r.SetMeta(MetaTriggerSource, source)
}
