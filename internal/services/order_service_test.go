package services

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/dexbot/godex/dex/signing"
	"github.com/dexbot/godex/dex/types"
	"github.com/dexbot/godex/internal/engine"
	"github.com/dexbot/godex/internal/oracle"
	"github.com/dexbot/godex/internal/tokens"
)

var (
	testBase  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testQuote = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// stubNonces 固定返回 0 的 nonce 源
type stubNonces struct{}

func (stubNonces) GetNonce(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

type testHarness struct {
	svc    *OrderService
	cancel context.CancelFunc
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	dir := tokens.NewStaticDirectory()
	dir.Register(&tokens.Metadata{Address: testBase, Name: "Tie Dye", Symbol: "TYD", Decimals: 6})
	dir.Register(&tokens.Metadata{Address: testQuote, Name: "US Tether Dollar", Symbol: "USTD", Decimals: 6})

	orc := oracle.New(dir)
	eng := engine.New(orc)
	dom := signing.DefaultDomain(types.ChainHardhat, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"))
	builder := NewOrderBuilder(dom, dir, eng, orc, stubNonces{})
	svc := NewOrderService(builder, eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)
	t.Cleanup(cancel)

	return &testHarness{svc: svc, cancel: cancel}
}

// signedDraft 走 prepare → 签名 → 回填签名的完整用户流程
func signedDraft(t *testing.T, h *testHarness, key *ecdsa.PrivateKey, draft *OrderDraft) *OrderDraft {
	t.Helper()
	prepared, err := h.svc.Prepare(context.Background(), draft)
	require.NoError(t, err)

	sig, err := signing.SignOrder(key, h.svc.builder.Domain(), &prepared.Order)
	require.NoError(t, err)

	draft.Signature = hexutil.Encode(sig)
	return draft
}

func baseDraft(trader common.Address, side, price, amount string) *OrderDraft {
	return &OrderDraft{
		Trader:     trader.Hex(),
		BaseToken:  testBase.Hex(),
		QuoteToken: testQuote.Hex(),
		Side:       side,
		OrderType:  "LIMIT",
		Amount:     amount,
		Price:      price,
	}
}

func TestCreateRestingLimitOrder(t *testing.T) {
	h := newHarness(t)
	key, _ := crypto.GenerateKey()
	trader := crypto.PubkeyToAddress(key.PublicKey)

	draft := signedDraft(t, h, key, baseDraft(trader, "SELL", "100", "5"))
	rec, err := h.svc.Create(context.Background(), draft)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusPending, rec.Status)
	require.Equal(t, trader, rec.Trader)
	require.NotEmpty(t, rec.ID)

	snap, err := h.svc.OrderBook(context.Background(), testBase.Hex(), testQuote.Hex())
	require.NoError(t, err)
	require.Len(t, snap.Sell, 1)
	require.Equal(t, rec.ID, snap.Sell[0].ID)
}

func TestCreateRejectsMissingSignature(t *testing.T) {
	h := newHarness(t)
	key, _ := crypto.GenerateKey()
	trader := crypto.PubkeyToAddress(key.PublicKey)

	_, err := h.svc.Create(context.Background(), baseDraft(trader, "SELL", "100", "5"))
	require.ErrorIs(t, err, ErrMissingSignature)
}

func TestCreateRejectsForeignSignature(t *testing.T) {
	h := newHarness(t)
	makerKey, _ := crypto.GenerateKey()
	otherKey, _ := crypto.GenerateKey()
	trader := crypto.PubkeyToAddress(makerKey.PublicKey)

	// 用别人的私钥签 maker 的订单
	draft := signedDraft(t, h, otherKey, baseDraft(trader, "SELL", "100", "5"))
	_, err := h.svc.Create(context.Background(), draft)
	require.Error(t, err)
	require.True(t, errors.Is(err, signing.ErrMakerMismatch), "got %v", err)
}

func TestCreateMatchesAndRecordsTrades(t *testing.T) {
	h := newHarness(t)
	sellKey, _ := crypto.GenerateKey()
	buyKey, _ := crypto.GenerateKey()
	seller := crypto.PubkeyToAddress(sellKey.PublicKey)
	buyer := crypto.PubkeyToAddress(buyKey.PublicKey)

	sellDraft := signedDraft(t, h, sellKey, baseDraft(seller, "SELL", "100", "5"))
	sellRec, err := h.svc.Create(context.Background(), sellDraft)
	require.NoError(t, err)

	buyDraft := signedDraft(t, h, buyKey, baseDraft(buyer, "BUY", "100", "5"))
	buyRec, err := h.svc.Create(context.Background(), buyDraft)
	require.NoError(t, err)

	require.Equal(t, types.OrderStatusFilled, sellRec.Status)
	require.Equal(t, types.OrderStatusFilled, buyRec.Status)

	trades, err := h.svc.RecentTrades(context.Background(), testBase.Hex(), testQuote.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, float64(100), trades[0].Price)
	require.Equal(t, buyRec.ID, trades[0].BuyOrderID)
	require.Equal(t, sellRec.ID, trades[0].SellOrderID)

	tradeIDs, _ := buyRec.Metadata["trades"].([]string)
	require.NotEmpty(t, tradeIDs)
}

func TestCancelFlow(t *testing.T) {
	h := newHarness(t)
	key, _ := crypto.GenerateKey()
	trader := crypto.PubkeyToAddress(key.PublicKey)

	draft := signedDraft(t, h, key, baseDraft(trader, "SELL", "100", "5"))
	rec, err := h.svc.Create(context.Background(), draft)
	require.NoError(t, err)

	cancelled, err := h.svc.Cancel(context.Background(), rec.ID, "user asked")
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusCancelled, cancelled.Status)

	// 终态取消是 no-op
	again, err := h.svc.Cancel(context.Background(), rec.ID, "again")
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusCancelled, again.Status)

	_, err = h.svc.Cancel(context.Background(), "missing-id", "")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListFilters(t *testing.T) {
	h := newHarness(t)
	key, _ := crypto.GenerateKey()
	trader := crypto.PubkeyToAddress(key.PublicKey)

	for _, tc := range []struct{ side, price, amount string }{
		{"SELL", "100", "5"},
		{"SELL", "101", "3"},
	} {
		draft := signedDraft(t, h, key, baseDraft(trader, tc.side, tc.price, tc.amount))
		_, err := h.svc.Create(context.Background(), draft)
		require.NoError(t, err)
	}

	all, err := h.svc.List(context.Background(), ListFilter{Trader: trader.Hex()})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// createdAt 降序
	require.True(t, !all[0].CreatedAt.Before(all[1].CreatedAt))

	none, err := h.svc.List(context.Background(), ListFilter{Status: "FILLED"})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestUpdateMarketPriceRoundTrip(t *testing.T) {
	h := newHarness(t)

	price, err := h.svc.UpdateMarketPrice(context.Background(), testBase.Hex(), testQuote.Hex(), 6.007)
	require.NoError(t, err)
	require.Equal(t, 6.007, price)

	inverse, ok, err := h.svc.MarketPriceFor(context.Background(), testQuote.Hex(), testBase.Hex())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1/6.007, inverse)
}

func TestSyntheticTradeSettlementShortCircuit(t *testing.T) {
	h := newHarness(t)
	key, _ := crypto.GenerateKey()
	trader := crypto.PubkeyToAddress(key.PublicKey)

	_, err := h.svc.UpdateMarketPrice(context.Background(), testBase.Hex(), testQuote.Hex(), 50)
	require.NoError(t, err)

	draft := baseDraft(trader, "BUY", "", "2")
	draft.OrderType = "MARKET"
	draft = signedDraft(t, h, key, draft)
	rec, err := h.svc.Create(context.Background(), draft)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusFilled, rec.Status)

	trades, err := h.svc.RecentTrades(context.Background(), testBase.Hex(), testQuote.Hex(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, trades)

	var sawSynthetic bool
	for _, trade := range trades {
		if trade.Synthetic {
			sawSynthetic = true
			require.NotNil(t, trade.Settlement)
			require.True(t, trade.Settlement.Success)
			require.True(t, trade.Settlement.Synthetic)
			require.Equal(t, "synthetic_liquidity", trade.Settlement.Reason)
		}
	}
	require.True(t, sawSynthetic, "expected a synthetic fill")
}
