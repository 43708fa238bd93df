package execution

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"aether-trading-bot/internal/database"
	"aether-trading-bot/internal/exchange/valr"
)

type fakeModeSource struct {
	mode  string
	err   error
	calls int
}

func (f *fakeModeSource) GetCurrentMode(ctx context.Context) (string, error) {
	f.calls++
	return f.mode, f.err
}

type fakeClient struct {
	placed []OrderRequest
	result *OrderResult
}

func (f *fakeClient) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	f.placed = append(f.placed, req)
	return f.result, nil
}

func (f *fakeClient) PlaceLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	f.placed = append(f.placed, req)
	return f.result, nil
}

func (f *fakeClient) GetBalance(ctx context.Context, currency string) (float64, error) {
	return 0, nil
}

func (f *fakeClient) GetAllBalances(ctx context.Context) ([]Balance, error) {
	return nil, nil
}

type fakeREST struct {
	hasCreds     bool
	balances     []valr.Balance
	orderResp    *valr.OrderResponse
	orderErr     error
	summaryPrice float64
	marketCalls  int
	limitCalls   int
}

func (f *fakeREST) HasCredentials() bool { return f.hasCreds }

func (f *fakeREST) PlaceMarketOrder(ctx context.Context, pair, side string, baseAmount float64) (*valr.OrderResponse, error) {
	f.marketCalls++
	return f.orderResp, f.orderErr
}

func (f *fakeREST) PlaceLimitOrder(ctx context.Context, pair, side string, quantity, price float64, postOnly bool) (*valr.OrderResponse, error) {
	f.limitCalls++
	return f.orderResp, f.orderErr
}

func (f *fakeREST) GetBalances(ctx context.Context) ([]valr.Balance, error) {
	return f.balances, nil
}

func (f *fakeREST) GetMarketSummaryPrice(ctx context.Context, pair string) (float64, error) {
	return f.summaryPrice, nil
}

func newTestRouter(modes ModeSource, paper Client, live *LiveClient, prices PriceGetter) *Router {
	gates := NewSafetyGates(&fakeSafetyStore{portfolioValue: 100000}, safetyConfig(), zerolog.Nop())
	return NewRouter(modes, paper, live, gates, prices, zerolog.Nop())
}

func liveClientWithFunds() *LiveClient {
	rest := &fakeREST{
		hasCreds: true,
		balances: []valr.Balance{
			{Currency: "ZAR", Available: 50000},
			{Currency: "BTC", Available: 2},
		},
		orderResp:    &valr.OrderResponse{OrderID: "live-1", AveragePrice: 1000000, TotalFee: 9.5},
		summaryPrice: 1000000,
	}
	return NewLiveClient(rest, nil, zerolog.Nop())
}

func TestRouterPaperMode(t *testing.T) {
	paper := &fakeClient{result: &OrderResult{Success: true, Status: StatusFilled}}
	r := newTestRouter(&fakeModeSource{mode: database.ModePaper}, paper, nil, fixedPrice(1000000))

	result, err := r.PlaceMarketOrder(context.Background(), buyRequest(0.005))
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if len(paper.placed) != 1 {
		t.Fatal("PAPER mode must route to the paper client")
	}
	if result.Mode != database.ModePaper || result.ClientType != "paper" {
		t.Errorf("enrichment = mode %s client %s", result.Mode, result.ClientType)
	}
	if result.SafetyChecked {
		t.Error("paper orders skip the safety gates")
	}
	if result.RoutedVia != "execution_router" {
		t.Errorf("routed via %q", result.RoutedVia)
	}
}

func TestRouterLiveWithoutCredentials(t *testing.T) {
	live := NewLiveClient(&fakeREST{hasCreds: false}, nil, zerolog.Nop())
	r := newTestRouter(&fakeModeSource{mode: database.ModeLive}, &fakeClient{}, live, fixedPrice(1000000))

	_, err := r.PlaceMarketOrder(context.Background(), buyRequest(0.005))
	if !errors.Is(err, ErrNoLiveCredentials) {
		t.Fatalf("err = %v, want ErrNoLiveCredentials", err)
	}
}

func TestRouterLivePassesGatesAndEnriches(t *testing.T) {
	r := newTestRouter(&fakeModeSource{mode: database.ModeLive}, &fakeClient{}, liveClientWithFunds(), fixedPrice(1000000))

	result, err := r.PlaceMarketOrder(context.Background(), buyRequest(0.005))
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if !result.Success || result.Status != StatusFilled {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ClientType != "live" || !result.SafetyChecked || result.SafetyStatus != "passed" {
		t.Errorf("enrichment = %s/%v/%s", result.ClientType, result.SafetyChecked, result.SafetyStatus)
	}
	if result.OrderID != "live-1" {
		t.Errorf("order id = %s", result.OrderID)
	}
}

func TestRouterLiveBlockedByGates(t *testing.T) {
	// order worth 50000 ZAR blows through the 10000 max order size
	r := newTestRouter(&fakeModeSource{mode: database.ModeLive}, &fakeClient{}, liveClientWithFunds(), fixedPrice(1000000))

	result, err := r.PlaceMarketOrder(context.Background(), buyRequest(0.05))
	if err != nil {
		t.Fatalf("a blocked order is a result, not an error: %v", err)
	}
	if result.Success || result.Status != StatusBlocked {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.HasPrefix(result.SafetyStatus, "blocked: ") {
		t.Errorf("safety status = %q", result.SafetyStatus)
	}
}

func TestRouterLivePricingFailureBlocks(t *testing.T) {
	failing := func(ctx context.Context, pair string) (float64, error) {
		return 0, errors.New("stale price")
	}
	r := newTestRouter(&fakeModeSource{mode: database.ModeLive}, &fakeClient{}, liveClientWithFunds(), failing)

	result, err := r.PlaceMarketOrder(context.Background(), buyRequest(0.005))
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if result.Status != StatusBlocked {
		t.Fatalf("unpriceable order must block, got %+v", result)
	}
}

func TestRouterResolvesModePerCall(t *testing.T) {
	modes := &fakeModeSource{mode: database.ModePaper}
	paper := &fakeClient{result: &OrderResult{Success: true, Status: StatusFilled}}
	r := newTestRouter(modes, paper, liveClientWithFunds(), fixedPrice(1000000))

	if _, err := r.PlaceMarketOrder(context.Background(), buyRequest(0.005)); err != nil {
		t.Fatalf("paper order: %v", err)
	}

	modes.mode = database.ModeLive
	result, err := r.PlaceMarketOrder(context.Background(), buyRequest(0.005))
	if err != nil {
		t.Fatalf("live order: %v", err)
	}
	if result.ClientType != "live" {
		t.Fatal("mode flip must take effect on the very next order")
	}
	if modes.calls != 2 {
		t.Fatalf("mode resolved %d times, want once per order", modes.calls)
	}
	if len(paper.placed) != 1 {
		t.Fatal("second order must not reach the paper client")
	}
}

func TestRouterUnknownMode(t *testing.T) {
	r := newTestRouter(&fakeModeSource{mode: "DEMO"}, &fakeClient{}, nil, fixedPrice(1000000))

	if _, err := r.PlaceMarketOrder(context.Background(), buyRequest(0.005)); err == nil {
		t.Fatal("unknown mode must fail")
	}
}

func TestRouterModeSourceError(t *testing.T) {
	r := newTestRouter(&fakeModeSource{err: errors.New("db down")}, &fakeClient{}, nil, fixedPrice(1000000))

	if _, err := r.PlaceMarketOrder(context.Background(), buyRequest(0.005)); err == nil {
		t.Fatal("unresolvable mode must fail, never default")
	}
}
