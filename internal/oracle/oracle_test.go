package oracle

import (
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/tokens"
)

var (
	tokenA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func newTestOracle() *Oracle {
	dir := tokens.NewStaticDirectory()
	dir.Register(&tokens.Metadata{Address: tokenA, Name: "Alpha", Symbol: "ALPHA", Decimals: 18})
	dir.Register(&tokens.Metadata{Address: tokenB, Name: "Beta", Symbol: "BETA", Decimals: 18})
	return New(dir)
}

func TestDescribePairIdentity(t *testing.T) {
	o := newTestOracle()
	info := o.DescribePair(tokenA, tokenA)
	if info.Price != 1 {
		t.Fatalf("describePair(a,a) must be 1, got %v", info.Price)
	}
}

// describePair(a,b) × describePair(b,a) = 1（浮点容差内）
func TestDescribePairInverseProduct(t *testing.T) {
	o := newTestOracle()
	forward := o.DescribePair(tokenA, tokenB).Price
	inverse := o.DescribePair(tokenB, tokenA).Price
	if forward <= 0 || inverse <= 0 {
		t.Fatalf("prices must be positive: %v %v", forward, inverse)
	}
	if math.Abs(forward*inverse-1) > 1e-9 {
		t.Fatalf("product %v not 1", forward*inverse)
	}
}

func TestUnitValueDeterministicAndClamped(t *testing.T) {
	o := newTestOracle()
	uv1 := o.UnitValue(tokenA)
	uv2 := o.UnitValue(tokenA)
	if uv1 != uv2 {
		t.Fatalf("unit value not memoized/deterministic: %v vs %v", uv1, uv2)
	}
	if uv1 < 1e-12 || uv1 > 1e12 {
		t.Fatalf("unit value outside clamp range: %v", uv1)
	}
}

func TestUnitValueUsesTotalSupply(t *testing.T) {
	dir := tokens.NewStaticDirectory()
	supply := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18))
	dir.Register(&tokens.Metadata{Address: tokenA, Name: "Alpha", Symbol: "ALPHA", Decimals: 18, TotalSupply: supply})
	dir.Register(&tokens.Metadata{Address: tokenB, Name: "Beta", Symbol: "BETA", Decimals: 18})
	o := New(dir)

	uvA := o.UnitValue(tokenA)
	uvB := o.UnitValue(tokenB)
	// A 的总供应量巨大，单位价值应该被压到远小于无供应量信息的 B
	if uvA >= uvB {
		t.Fatalf("expected uv(A) << uv(B), got %v vs %v", uvA, uvB)
	}
}

func TestRegisterTradeMovesTowardPrice(t *testing.T) {
	o := newTestOracle()
	before := o.EstimatePairPrice(tokenA, tokenB)

	target := before * 4
	for i := 0; i < 10; i++ {
		o.RegisterTrade(tokenA, tokenB, target, 10, 10*target, "", "orderbook")
	}
	after := o.EstimatePairPrice(tokenA, tokenB)

	if math.Abs(after-target) >= math.Abs(before-target) {
		t.Fatalf("price did not move toward trade price: before=%v after=%v target=%v", before, after, target)
	}
}

func TestRegisterTradeDirectionalNudge(t *testing.T) {
	o := newTestOracle()
	base := o.EstimatePairPrice(tokenA, tokenB)

	o.RegisterTrade(tokenA, tokenB, base, 1, base, types.SideBuy, "orderbook")
	afterBuy := o.EstimatePairPrice(tokenA, tokenB)
	if afterBuy <= base {
		t.Fatalf("buy pressure must nudge price up: %v -> %v", base, afterBuy)
	}

	o.ClearCache()
	base = o.EstimatePairPrice(tokenA, tokenB)
	o.RegisterTrade(tokenA, tokenB, base, 1, base, types.SideSell, "orderbook")
	afterSell := o.EstimatePairPrice(tokenA, tokenB)
	if afterSell >= base {
		t.Fatalf("sell pressure must nudge price down: %v -> %v", base, afterSell)
	}
}

func TestDescribePairSourceLabels(t *testing.T) {
	o := newTestOracle()
	info := o.DescribePair(tokenA, tokenB)
	if info.Source != "baseline" {
		t.Fatalf("expected baseline before trades, got %s", info.Source)
	}

	o.RegisterTrade(tokenA, tokenB, info.Price, 1, info.Price, types.SideBuy, "orderbook")
	info = o.DescribePair(tokenA, tokenB)
	if info.Source != "dynamic" {
		t.Fatalf("expected dynamic after a trade, got %s", info.Source)
	}
}

func TestClearCacheResetsPairState(t *testing.T) {
	o := newTestOracle()
	baseline := o.EstimatePairPrice(tokenA, tokenB)
	o.RegisterTrade(tokenA, tokenB, baseline*3, 100, 300*baseline, types.SideBuy, "orderbook")

	moved := o.EstimatePairPrice(tokenA, tokenB)
	if moved == baseline {
		t.Fatalf("expected price to move")
	}

	o.ClearCache()
	reset := o.EstimatePairPrice(tokenA, tokenB)
	if reset != baseline {
		t.Fatalf("expected baseline %v after clear, got %v", baseline, reset)
	}
}
