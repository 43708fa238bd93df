package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"aether-trading-bot/config"
	"aether-trading-bot/internal/database"
)

type fakeAuditor struct {
	orders []*database.SimulatedOrder
	err    error
}

func (f *fakeAuditor) InsertSimulatedOrder(ctx context.Context, o *database.SimulatedOrder) error {
	f.orders = append(f.orders, o)
	return f.err
}

func fixedPrice(price float64) PriceGetter {
	return func(ctx context.Context, pair string) (float64, error) {
		return price, nil
	}
}

func paperConfig() config.PaperConfig {
	return config.PaperConfig{
		BaseSlippageBps:    3,
		TakerFeePct:        0.1,
		MinLatencyMs:       1,
		MaxLatencyMs:       2,
		StartingBalanceZAR: 100000,
	}
}

func newTestPaperClient(price float64, auditor *fakeAuditor) *PaperClient {
	return NewPaperClient(fixedPrice(price), auditor, paperConfig(), zerolog.Nop())
}

func TestPaperBuyFillsAdversely(t *testing.T) {
	auditor := &fakeAuditor{}
	c := newTestPaperClient(1000, auditor)

	result, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		Pair: "BTCZAR", Side: database.SignalBuy, Quantity: 0.01,
	})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}

	if !result.Success || result.Status != StatusFilled {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.FillPrice < result.MarketPrice {
		t.Errorf("BUY fill %.4f below market %.4f, slippage must be adverse", result.FillPrice, result.MarketPrice)
	}
	if result.Mode != database.ModePaper {
		t.Errorf("mode = %s, want PAPER", result.Mode)
	}
	if result.Fees <= 0 {
		t.Error("taker fee must be charged")
	}
	if len(auditor.orders) != 1 {
		t.Fatalf("expected one audit row, got %d", len(auditor.orders))
	}
	if auditor.orders[0].ID != result.OrderID {
		t.Error("audit row must reference the order")
	}
}

func TestPaperSellFillsAdversely(t *testing.T) {
	c := newTestPaperClient(1000, &fakeAuditor{})
	// seed base balance so the sell makes sense
	c.balances["BTC"] = 1

	result, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		Pair: "BTCZAR", Side: database.SignalSell, Quantity: 0.01,
	})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if result.FillPrice > result.MarketPrice {
		t.Errorf("SELL fill %.4f above market %.4f, slippage must be adverse", result.FillPrice, result.MarketPrice)
	}
}

func TestPaperBalancesTrackFills(t *testing.T) {
	c := newTestPaperClient(100000, &fakeAuditor{})
	ctx := context.Background()

	before, _ := c.GetBalance(ctx, "ZAR")
	if before != 100000 {
		t.Fatalf("starting ZAR = %v", before)
	}

	result, err := c.PlaceMarketOrder(ctx, OrderRequest{
		Pair: "BTCZAR", Side: database.SignalBuy, Quantity: 0.5,
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	zar, _ := c.GetBalance(ctx, "ZAR")
	btc, _ := c.GetBalance(ctx, "BTC")
	wantZAR := 100000 - result.Quantity*result.FillPrice - result.Fees
	if diff := zar - wantZAR; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("ZAR after buy = %v, want %v", zar, wantZAR)
	}
	if btc != 0.5 {
		t.Errorf("BTC after buy = %v, want 0.5", btc)
	}
}

func TestPaperAuditFailureDoesNotFailFill(t *testing.T) {
	auditor := &fakeAuditor{err: errors.New("db down")}
	c := newTestPaperClient(1000, auditor)

	result, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		Pair: "BTCZAR", Side: database.SignalBuy, Quantity: 0.01,
	})
	if err != nil {
		t.Fatalf("fill must stand when audit fails: %v", err)
	}
	if !result.Success {
		t.Fatal("fill must succeed despite audit failure")
	}
}

func TestPaperPriceUnavailable(t *testing.T) {
	failing := func(ctx context.Context, pair string) (float64, error) {
		return 0, errors.New("stale price")
	}
	c := NewPaperClient(failing, &fakeAuditor{}, paperConfig(), zerolog.Nop())

	if _, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		Pair: "BTCZAR", Side: database.SignalBuy, Quantity: 0.01,
	}); err == nil {
		t.Fatal("no market price must fail the order")
	}
}

func TestSlippagePctClamped(t *testing.T) {
	c := newTestPaperClient(1000, &fakeAuditor{})

	for i := 0; i < 200; i++ {
		// enormous order value would push far past the clamp
		pct := c.slippagePct(1e13)
		if pct > float64(maxSlippageBps)/100 {
			t.Fatalf("slippage %v%% above the 50bps clamp", pct)
		}
		if pct < 0 {
			t.Fatalf("negative slippage %v", pct)
		}
	}

	// tiny orders stay near the base rate
	for i := 0; i < 200; i++ {
		pct := c.slippagePct(100)
		if pct < 0 || pct > 0.05001 {
			t.Fatalf("small order slippage %v%% outside [0, 5bps+noise]", pct)
		}
	}
}

func TestApplySlippageDirection(t *testing.T) {
	if got := applySlippage(1000, database.SignalBuy, 0.1); got != 1001 {
		t.Errorf("BUY slippage = %v, want 1001", got)
	}
	if got := applySlippage(1000, database.SignalSell, 0.1); got != 999 {
		t.Errorf("SELL slippage = %v, want 999", got)
	}
}

func TestSplitPair(t *testing.T) {
	cases := []struct{ pair, base, quote string }{
		{"BTCZAR", "BTC", "ZAR"},
		{"ETHZAR", "ETH", "ZAR"},
		{"BTCUSDT", "BTC", "USDT"},
		{"SOLEUR", "SOL", "EUR"},
	}
	for _, c := range cases {
		base, quote := splitPair(c.pair)
		if base != c.base || quote != c.quote {
			t.Errorf("splitPair(%s) = %s/%s, want %s/%s", c.pair, base, quote, c.base, c.quote)
		}
	}
}
