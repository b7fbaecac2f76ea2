package rpc_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"connectrpc.com/connect"
	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/config"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/flow"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/rpc"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/runtime"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/submit"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

const (
	hdx  models.RemoteAssetID = 0
	dot  models.RemoteAssetID = 5
	usdt models.RemoteAssetID = 10
)

// local wallet ids
const (
	localHDX  uint32 = 1
	localDOT  uint32 = 2
	localUSDT uint32 = 3
)

var testAccount = "0x" + strings.Repeat("11", 32)

type fakeAPI struct {
	directions   func(ctx context.Context) (map[models.RemoteAssetID]models.AssetSet, error)
	quote        func(ctx context.Context, args models.QuoteArgs) (models.Quote, error)
	canPayFee    func(ctx context.Context, asset models.RemoteAssetID) (bool, error)
	calculateFee func(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (models.FeeModel, error)
	buildSwap    func(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (submit.Plan, uint32, error)
}

func (f *fakeAPI) AvailableDirections(ctx context.Context) (map[models.RemoteAssetID]models.AssetSet, error) {
	return f.directions(ctx)
}

func (f *fakeAPI) Quote(ctx context.Context, args models.QuoteArgs) (models.Quote, error) {
	return f.quote(ctx, args)
}

func (f *fakeAPI) CanPayFee(ctx context.Context, asset models.RemoteAssetID) (bool, error) {
	return f.canPayFee(ctx, asset)
}

func (f *fakeAPI) CalculateFee(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (models.FeeModel, error) {
	return f.calculateFee(ctx, args, feeAsset)
}

func (f *fakeAPI) BuildSwap(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (submit.Plan, uint32, error) {
	return f.buildSwap(ctx, args, feeAsset)
}

type fakeFlows struct {
	api *fakeAPI

	mu       sync.Mutex
	accounts []models.AccountID
	released int
}

func (f *fakeFlows) Acquire(account models.AccountID) (rpc.SwapAPI, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = append(f.accounts, account)
	return f.api, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
	}
}

// counts also orders the test after every finished handler, fakes capture through it
func (f *fakeFlows) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accounts), f.released
}

func testAssets() *flow.AssetBook {
	return flow.NewAssetBook(&config.RegistryConfig{
		ChainID: "hydradx",
		Assets: []config.RegistryAsset{
			{LocalID: localHDX, RemoteID: uint32(hdx), Symbol: "HDX", Decimals: 12},
			{LocalID: localDOT, RemoteID: uint32(dot), Symbol: "DOT", Decimals: 10},
			{LocalID: localUSDT, RemoteID: uint32(usdt), Symbol: "USDT", Decimals: 6},
		},
	})
}

type testServer struct {
	url   string
	flows *fakeFlows
}

func newTestServer(t *testing.T, api *fakeAPI, ready func() bool) *testServer {
	t.Helper()
	flows := &fakeFlows{api: api}
	swap := rpc.NewSwapServer(flows, testAssets(), decimal.RequireFromString("0.01"))
	server, err := rpc.NewServer(context.Background(), &rpc.ServerConfig{
		Address: "127.0.0.1:0",
		Ready:   ready,
	}, swap)
	assert.NoError(t, err)
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)
	return &testServer{url: httpServer.URL, flows: flows}
}

func call[Req, Res any](t *testing.T, s *testServer, procedure string, req *Req) (*connect.Response[Res], error) {
	t.Helper()
	client := connect.NewClient[Req, Res](http.DefaultClient, s.url+procedure, rpc.WithJSON())
	return client.CallUnary(context.Background(), connect.NewRequest(req))
}

func TestAvailableDirectionsMapsToWalletAssets(t *testing.T) {
	api := &fakeAPI{
		directions: func(ctx context.Context) (map[models.RemoteAssetID]models.AssetSet, error) {
			return map[models.RemoteAssetID]models.AssetSet{
				hdx: models.NewAssetSet(usdt, dot, 99),
				dot: models.NewAssetSet(hdx),
				99:  models.NewAssetSet(hdx),
			}, nil
		},
	}
	s := newTestServer(t, api, nil)

	resp, err := call[rpc.AvailableDirectionsRequest, rpc.AvailableDirectionsResponse](t, s, rpc.AvailableDirectionsProcedure, &rpc.AvailableDirectionsRequest{})
	assert.NoError(t, err)

	directions := resp.Msg.Directions
	assert.Equal(t, len(directions), 2)
	assert.Equal(t, directions[0].Asset.Symbol, "HDX")
	assert.Equal(t, directions[0].Asset.LocalID, localHDX)
	assert.Equal(t, len(directions[0].Targets), 2)
	assert.Equal(t, directions[0].Targets[0].Symbol, "DOT")
	assert.Equal(t, directions[0].Targets[1].Symbol, "USDT")
	assert.Equal(t, directions[1].Asset.Symbol, "DOT")
	assert.Equal(t, directions[1].Targets[0].RemoteID, uint32(hdx))
}

func TestQuote(t *testing.T) {
	api := &fakeAPI{
		quote: func(ctx context.Context, args models.QuoteArgs) (models.Quote, error) {
			if args.AssetIn.Remote != dot || args.AssetOut.Remote != hdx || args.Direction != models.Sell {
				return models.Quote{}, fmt.Errorf("unexpected args %+v", args)
			}
			route := models.NewRoute(models.RouteComponent{AssetIn: dot, AssetOut: hdx, Pool: models.Omnipool()})
			return models.NewQuote(args, math.NewInt(1246), route), nil
		},
	}
	s := newTestServer(t, api, nil)

	resp, err := call[rpc.QuoteRequest, rpc.QuoteResponse](t, s, rpc.QuoteProcedure, &rpc.QuoteRequest{
		AssetIn:   localDOT,
		AssetOut:  localHDX,
		Amount:    "1000",
		Direction: "SELL",
	})
	assert.NoError(t, err)
	assert.Equal(t, resp.Msg.AmountIn, "1000")
	assert.Equal(t, resp.Msg.AmountOut, "1246")
	assert.Equal(t, len(resp.Msg.Route), 1)
	assert.Equal(t, resp.Msg.Route[0].Pool, "omnipool")
	assert.Equal(t, resp.Msg.Route[0].AssetIn, uint32(dot))
	assert.Equal(t, resp.Header().Get("Cache-Control"), "no-store, no-cache, must-revalidate")

	acquired, released := s.flows.counts()
	assert.Equal(t, acquired, 1)
	assert.Equal(t, released, 1)
	assert.True(t, s.flows.accounts[0].IsZero())
}

func TestQuoteErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code connect.Code
	}{
		{"no route", fmt.Errorf("%w: 5->0", models.ErrNoRoute), connect.CodeNotFound},
		{"asset without state", &models.RemoteAssetNotFoundError{Asset: dot}, connect.CodeNotFound},
		{"calculation failed", fmt.Errorf("all 2 route candidates failed: %w", models.ErrQuoteCalcFailed), connect.CodeFailedPrecondition},
		{"runtime precondition", &models.RuntimeError{Reason: "fee >= 100%"}, connect.CodeFailedPrecondition},
		{"invalid args", fmt.Errorf("%w: amount must be positive", models.ErrInvalidArgs), connect.CodeInvalidArgument},
		{"unmapped asset", &models.AssetMappingError{Asset: "hydradx:9"}, connect.CodeInvalidArgument},
		{"connection", models.ErrConnectionUnavailable, connect.CodeUnavailable},
		{"runtime tables", models.ErrRuntimeUnavailable, connect.CodeUnavailable},
		{"sync", fmt.Errorf("%w: timeout", models.ErrSyncFailed), connect.CodeUnavailable},
		{"cancelled", models.ErrCancelled, connect.CodeCanceled},
		{"corruption", models.ErrDataCorruption, connect.CodeInternal},
		{"unknown", errors.New("boom"), connect.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{
				quote: func(ctx context.Context, args models.QuoteArgs) (models.Quote, error) {
					return models.Quote{}, tt.err
				},
			}
			s := newTestServer(t, api, nil)

			_, err := call[rpc.QuoteRequest, rpc.QuoteResponse](t, s, rpc.QuoteProcedure, &rpc.QuoteRequest{
				AssetIn: localDOT, AssetOut: localHDX, Amount: "1000", Direction: "sell",
			})
			assert.Error(t, err)
			assert.Equal(t, connect.CodeOf(err), tt.code)
		})
	}
}

func TestQuoteRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  rpc.QuoteRequest
	}{
		{"unknown asset", rpc.QuoteRequest{AssetIn: 42, AssetOut: localHDX, Amount: "1000", Direction: "sell"}},
		{"same asset", rpc.QuoteRequest{AssetIn: localDOT, AssetOut: localDOT, Amount: "1000", Direction: "sell"}},
		{"malformed amount", rpc.QuoteRequest{AssetIn: localDOT, AssetOut: localHDX, Amount: "1e3", Direction: "sell"}},
		{"zero amount", rpc.QuoteRequest{AssetIn: localDOT, AssetOut: localHDX, Amount: "0", Direction: "sell"}},
		{"missing direction", rpc.QuoteRequest{AssetIn: localDOT, AssetOut: localHDX, Amount: "1000"}},
		{"unknown direction", rpc.QuoteRequest{AssetIn: localDOT, AssetOut: localHDX, Amount: "1000", Direction: "swap"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			api := &fakeAPI{
				quote: func(ctx context.Context, args models.QuoteArgs) (models.Quote, error) {
					called = true
					return models.Quote{}, nil
				},
			}
			s := newTestServer(t, api, nil)

			_, err := call[rpc.QuoteRequest, rpc.QuoteResponse](t, s, rpc.QuoteProcedure, &tt.req)
			assert.Equal(t, connect.CodeOf(err), connect.CodeInvalidArgument)
			s.flows.counts()
			assert.False(t, called)
		})
	}
}

func TestCanPayFee(t *testing.T) {
	api := &fakeAPI{
		canPayFee: func(ctx context.Context, asset models.RemoteAssetID) (bool, error) {
			return asset == dot, nil
		},
	}
	s := newTestServer(t, api, nil)

	resp, err := call[rpc.CanPayFeeRequest, rpc.CanPayFeeResponse](t, s, rpc.CanPayFeeProcedure, &rpc.CanPayFeeRequest{Asset: localDOT})
	assert.NoError(t, err)
	assert.True(t, resp.Msg.CanPay)

	resp, err = call[rpc.CanPayFeeRequest, rpc.CanPayFeeResponse](t, s, rpc.CanPayFeeProcedure, &rpc.CanPayFeeRequest{Asset: localUSDT})
	assert.NoError(t, err)
	assert.False(t, resp.Msg.CanPay)
}

func feeRequest() *rpc.CalculateFeeRequest {
	return &rpc.CalculateFeeRequest{
		Account: testAccount,
		Swap: rpc.SwapArgs{
			AssetIn:   localDOT,
			AssetOut:  localHDX,
			AmountIn:  "1000",
			AmountOut: "1246",
			Direction: "sell",
			Route:     []rpc.RouteHop{{Pool: "omnipool", AssetIn: uint32(dot), AssetOut: uint32(hdx)}},
		},
		FeeAsset: localDOT,
	}
}

func TestCalculateFee(t *testing.T) {
	account, err := models.ParseAccountID(testAccount)
	assert.NoError(t, err)

	var got models.CallArgs
	api := &fakeAPI{
		calculateFee: func(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (models.FeeModel, error) {
			got = args
			if feeAsset != dot {
				return models.FeeModel{}, fmt.Errorf("unexpected fee asset %d", feeAsset)
			}
			return models.FeeModel{
				TotalFee:   models.AmountWithNative{TargetAmount: math.NewInt(999), NativeAmount: math.NewInt(1246)},
				NetworkFee: models.AmountWithNative{TargetAmount: math.NewInt(999), NativeAmount: math.NewInt(1246)},
				Payer:      &account,
			}, nil
		},
	}
	s := newTestServer(t, api, nil)

	resp, err := call[rpc.CalculateFeeRequest, rpc.CalculateFeeResponse](t, s, rpc.CalculateFeeProcedure, feeRequest())
	assert.NoError(t, err)
	assert.Equal(t, resp.Msg.TotalFee, "999")
	assert.Equal(t, resp.Msg.TotalFeeNative, "1246")
	assert.Equal(t, resp.Msg.NetworkFee, "999")
	assert.Equal(t, resp.Msg.Payer, account.String())
	s.flows.counts()

	assert.Equal(t, got.Receiver, account)
	assert.Equal(t, got.Direction, models.Sell)
	assert.True(t, got.Slippage.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, got.Route != nil)
	assert.Equal(t, got.Route.Components[0].AssetIn, dot)
	assert.Equal(t, s.flows.accounts[0], account)
}

func TestCalculateFeeRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *rpc.CalculateFeeRequest)
	}{
		{"missing account", func(r *rpc.CalculateFeeRequest) { r.Account = "" }},
		{"malformed account", func(r *rpc.CalculateFeeRequest) { r.Account = "0x1234" }},
		{"unknown fee asset", func(r *rpc.CalculateFeeRequest) { r.FeeAsset = 42 }},
		{"malformed slippage", func(r *rpc.CalculateFeeRequest) { r.Swap.Slippage = "a lot" }},
		{"negative amount", func(r *rpc.CalculateFeeRequest) { r.Swap.AmountOut = "-1" }},
		{"broken route", func(r *rpc.CalculateFeeRequest) {
			r.Swap.Route = append(r.Swap.Route, rpc.RouteHop{Pool: "omnipool", AssetIn: uint32(usdt), AssetOut: uint32(dot)})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{
				calculateFee: func(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (models.FeeModel, error) {
					return models.FeeModel{}, errors.New("must not be called")
				},
			}
			s := newTestServer(t, api, nil)

			req := feeRequest()
			tt.mutate(req)
			_, err := call[rpc.CalculateFeeRequest, rpc.CalculateFeeResponse](t, s, rpc.CalculateFeeProcedure, req)
			assert.Equal(t, connect.CodeOf(err), connect.CodeInvalidArgument)
		})
	}
}

func TestBuildSwap(t *testing.T) {
	tests := []struct {
		name        string
		feeCurrency *runtime.Call
		want        string
	}{
		{"fee currency change", &runtime.Call{Name: "MultiTransactionPayment.set_currency", Index: [2]byte{79, 0}, Args: []byte{5, 0, 0, 0}}, "0x4f0005000000"},
		{"native fee", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var slippage decimal.Decimal
			api := &fakeAPI{
				buildSwap: func(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (submit.Plan, uint32, error) {
					slippage = args.Slippage
					plan := submit.NewPlan(tt.feeCurrency, math.NewInt(1234), func() (runtime.Call, error) {
						return runtime.Call{Name: "Omnipool.sell", Index: [2]byte{59, 5}, Args: []byte{1, 2}}, nil
					})
					return plan, 300, nil
				},
			}
			s := newTestServer(t, api, nil)

			req := feeRequest()
			req.Swap.Slippage = "0.005"
			resp, err := call[rpc.BuildSwapRequest, rpc.BuildSwapResponse](t, s, rpc.BuildSwapProcedure, req)
			assert.NoError(t, err)
			assert.Equal(t, resp.Msg.SpecVersion, uint32(300))
			assert.Equal(t, resp.Msg.SwapCall, "0x3b050102")
			assert.Equal(t, resp.Msg.FeeCurrencyCall, tt.want)
			assert.Equal(t, resp.Msg.Limit, "1234")
			s.flows.counts()
			assert.True(t, slippage.Equal(decimal.RequireFromString("0.005")))
		})
	}
}

func TestBuildSwapEncodingFailure(t *testing.T) {
	api := &fakeAPI{
		buildSwap: func(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (submit.Plan, uint32, error) {
			plan := submit.NewPlan(nil, math.NewInt(1), func() (runtime.Call, error) {
				return runtime.Call{}, fmt.Errorf("%w: Router.sell missing", models.ErrRuntimeUnavailable)
			})
			return plan, 300, nil
		},
	}
	s := newTestServer(t, api, nil)

	_, err := call[rpc.BuildSwapRequest, rpc.BuildSwapResponse](t, s, rpc.BuildSwapProcedure, feeRequest())
	assert.Equal(t, connect.CodeOf(err), connect.CodeUnavailable)
}

func TestServerProbes(t *testing.T) {
	var ready atomic.Bool
	s := newTestServer(t, &fakeAPI{}, ready.Load)

	resp, err := http.Get(s.url + "/server/health")
	assert.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	resp, err = http.Get(s.url + "/server/ready")
	assert.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusServiceUnavailable)

	ready.Store(true)
	resp, err = http.Get(s.url + "/server/ready")
	assert.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)
}

func TestHandlerRecoversFromPanics(t *testing.T) {
	api := &fakeAPI{
		canPayFee: func(ctx context.Context, asset models.RemoteAssetID) (bool, error) {
			panic("boom")
		},
	}
	s := newTestServer(t, api, nil)

	_, err := call[rpc.CanPayFeeRequest, rpc.CanPayFeeResponse](t, s, rpc.CanPayFeeProcedure, &rpc.CanPayFeeRequest{Asset: localDOT})
	assert.Equal(t, connect.CodeOf(err), connect.CodeInternal)

	// the deferred release still runs
	acquired, released := s.flows.counts()
	assert.Equal(t, acquired, released)
}
