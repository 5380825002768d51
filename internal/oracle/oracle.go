package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/tokens"
)

var oracleLog = logrus.WithField("component", "price_oracle")

const (
	// 单位价值的钳位区间
	unitValueMin = 1e-12
	unitValueMax = 1e12

	// 成交注册时权重的钳位区间
	weightMin = 0.05
	weightMax = 0.85

	// 流动性得分的衰减系数
	liquidityDecay = 0.85

	// 方向性修正的上限
	nudgeCap = 0.25
)

// PairState 规范交易对的动态价格状态
// 价格方向固定为 tokenA→tokenB（地址排序后的正向）。
type PairState struct {
	Price          float64     `json:"price"`
	BaselinePrice  float64     `json:"baselinePrice"`
	LiquidityScore float64     `json:"liquidityScore"`
	LastUpdatedAt  time.Time   `json:"lastUpdatedAt"`
	LastSource     string      `json:"lastSource"`
	LastSide       types.Side  `json:"lastSide,omitempty"`
}

// PairInfo DescribePair 的返回值
type PairInfo struct {
	Price          float64 `json:"price"`  // 按查询方向定向后的价格
	Source         string  `json:"source"` // baseline / dynamic
	BaseUnitValue  float64 `json:"baseUnitValue"`
	QuoteUnitValue float64 `json:"quoteUnitValue"`
}

// Oracle 确定性单位价值预言机 + 动态交易对价格状态
type Oracle struct {
	mu sync.Mutex

	tokens tokens.Directory

	// multipliers 按地址记忆化的单位价值乘数
	multipliers map[string]float64
	pairs       map[string]*PairState
}

// New 创建预言机
func New(dir tokens.Directory) *Oracle {
	return &Oracle{
		tokens:      dir,
		multipliers: make(map[string]float64),
		pairs:       make(map[string]*PairState),
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// multiplier 计算并记忆化代币的确定性乘数
// m = (0.5 + f) × (1 + (len(symbol) mod 5)×0.05)
// f = hi32(SHA-256(addr|SYMBOL|NAME)) / 2^32
func (o *Oracle) multiplier(addr common.Address) float64 {
	key := strings.ToLower(addr.Hex())
	if m, ok := o.multipliers[key]; ok {
		return m
	}

	var symbol, name string
	if o.tokens != nil {
		if meta, err := o.tokens.Metadata(context.Background(), addr); err == nil && meta != nil {
			symbol = meta.Symbol
			name = meta.Name
		}
	}

	seed := key + "|" + strings.ToUpper(symbol) + "|" + strings.ToUpper(name)
	digest := sha256.Sum256([]byte(seed))
	f := float64(binary.BigEndian.Uint32(digest[:4])) / float64(1<<32)

	m := (0.5 + f) * (1 + float64(len(symbol)%5)*0.05)
	o.multipliers[key] = m
	return m
}

// unitValue 代币单位价值
// uv = clamp(m × base, 1e-12, 1e12)，base = 1/totalSupply（未知则 1）
func (o *Oracle) unitValue(addr common.Address) float64 {
	base := 1.0
	if o.tokens != nil {
		if meta, err := o.tokens.Metadata(context.Background(), addr); err == nil && meta != nil {
			if meta.TotalSupply != nil && meta.TotalSupply.Sign() > 0 {
				supply, _ := new(big.Float).SetInt(meta.TotalSupply).Float64()
				if supply > 0 {
					base = 1 / supply
				}
			}
		}
	}
	return clampFloat(o.multiplier(addr)*base, unitValueMin, unitValueMax)
}

// UnitValue 代币单位价值（对外只读）
func (o *Oracle) UnitValue(addr common.Address) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unitValue(addr)
}

// ensurePair 取或建规范交易对状态，基线价在首次引用时固化
func (o *Oracle) ensurePair(a, b common.Address) (*PairState, bool) {
	key, forward := types.CanonicalPairKey(a, b)
	state, ok := o.pairs[key]
	if !ok {
		var tokenA, tokenB common.Address
		if forward {
			tokenA, tokenB = a, b
		} else {
			tokenA, tokenB = b, a
		}
		baseline := o.unitValue(tokenA) / o.unitValue(tokenB)
		state = &PairState{
			Price:         baseline,
			BaselinePrice: baseline,
		}
		o.pairs[key] = state
	}
	return state, forward
}

// RegisterTrade 注册一笔成交，更新动态价格状态
// price 按 base→quote 方向给出；volume 权重混合后再施加方向性修正。
func (o *Oracle) RegisterTrade(base, quote common.Address, price, baseAmount, quoteAmount float64, side types.Side, source string) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	state, forward := o.ensurePair(base, quote)

	canonical := price
	if !forward {
		canonical = 1 / price
	}

	volume := quoteAmount
	if volume <= 0 {
		volume = baseAmount * price
	}

	weight := weightMin
	if volume > 0 {
		weight = clampFloat(volume/(state.LiquidityScore+volume), weightMin, weightMax)
	}

	state.Price += (canonical - state.Price) * weight

	if side == types.SideBuy || side == types.SideSell {
		dir := -1.0
		if (forward && side == types.SideBuy) || (!forward && side == types.SideSell) {
			dir = 1.0
		}
		nudge := math.Min(nudgeCap, weight*0.1)
		state.Price = clampFloat(state.Price*(1+dir*nudge), unitValueMin, unitValueMax)
	}

	state.LiquidityScore = liquidityDecay*state.LiquidityScore + volume
	state.LastUpdatedAt = time.Now()
	state.LastSource = source
	state.LastSide = side

	oracleLog.WithFields(logrus.Fields{
		"base":   base.Hex(),
		"quote":  quote.Hex(),
		"price":  state.Price,
		"weight": weight,
		"source": source,
	}).Debug("registered trade")
}

// DescribePair 返回按查询方向定向的价格、来源标签和两侧单位价值
func (o *Oracle) DescribePair(base, quote common.Address) *PairInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	info := &PairInfo{
		BaseUnitValue:  o.unitValue(base),
		QuoteUnitValue: o.unitValue(quote),
	}

	if base == quote {
		info.Price = 1
		info.Source = "baseline"
		return info
	}

	state, forward := o.ensurePair(base, quote)
	price := state.Price
	source := "dynamic"
	if state.LastUpdatedAt.IsZero() {
		price = state.BaselinePrice
		source = "baseline"
	}
	if !forward {
		price = 1 / price
	}
	info.Price = price
	info.Source = source
	return info
}

// EstimatePairPrice 合成价格估计（base→quote 方向的数值）
func (o *Oracle) EstimatePairPrice(base, quote common.Address) float64 {
	return o.DescribePair(base, quote).Price
}

// PairStateFor 调试用：返回规范交易对状态的副本
func (o *Oracle) PairStateFor(a, b common.Address) (PairState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key, _ := types.CanonicalPairKey(a, b)
	state, ok := o.pairs[key]
	if !ok {
		return PairState{}, false
	}
	return *state, true
}

// ClearCache 清空单位价值记忆与交易对状态
// 代币元数据变更后的失效钩子
func (o *Oracle) ClearCache() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.multipliers = make(map[string]float64)
	o.pairs = make(map[string]*PairState)
}
