package rpc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"cosmossdk.io/math"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/flow"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/submit"
	"github.com/shopspring/decimal"
)

// SwapAPI is the part of a flow the RPC surface serves
type SwapAPI interface {
	AvailableDirections(ctx context.Context) (map[models.RemoteAssetID]models.AssetSet, error)
	Quote(ctx context.Context, args models.QuoteArgs) (models.Quote, error)
	CanPayFee(ctx context.Context, asset models.RemoteAssetID) (bool, error)
	CalculateFee(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (models.FeeModel, error)
	// BuildSwap returns the plan and the runtime spec version it was encoded for
	BuildSwap(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (submit.Plan, uint32, error)
}

// Flows hands out the flow of an account. Requests that don't name an account share the zero account flow.
type Flows interface {
	Acquire(account models.AccountID) (SwapAPI, func())
}

// AssetMapper resolves the wallet ids used on the wire
type AssetMapper interface {
	ChainID() string
	Local(id models.ChainAssetID) (models.AssetRef, error)
	Remote(id models.RemoteAssetID) (models.AssetRef, error)
	Known(directions map[models.RemoteAssetID]models.AssetSet) map[models.RemoteAssetID]models.AssetSet
}

// RegistryFlows serves flows from a flow.Registry
type RegistryFlows struct {
	Registry *flow.Registry
	ChainID  string
}

func (f RegistryFlows) Acquire(account models.AccountID) (SwapAPI, func()) {
	key := flow.Key{ChainID: f.ChainID, Account: account}
	service := f.Registry.GetOrCreate(key)
	return flowAPI{service}, func() { f.Registry.Release(key) }
}

type flowAPI struct {
	*flow.Service
}

func (a flowAPI) BuildSwap(ctx context.Context, args models.CallArgs, feeAsset models.RemoteAssetID) (submit.Plan, uint32, error) {
	plan, coder, err := a.Service.BuildSwap(ctx, args, feeAsset)
	if err != nil {
		return submit.Plan{}, 0, err
	}
	return plan, coder.SpecVersion(), nil
}

// SwapServer implements hydradx.v1.SwapService
type SwapServer struct {
	flows           Flows
	assets          AssetMapper
	defaultSlippage decimal.Decimal
}

func NewSwapServer(flows Flows, assets AssetMapper, defaultSlippage decimal.Decimal) *SwapServer {
	return &SwapServer{flows: flows, assets: assets, defaultSlippage: defaultSlippage}
}

// AvailableDirections lists every wallet asset with the wallet assets it can be swapped into
func (s *SwapServer) AvailableDirections(
	ctx context.Context,
	req *connect.Request[AvailableDirectionsRequest],
) (*connect.Response[AvailableDirectionsResponse], error) {
	api, release := s.flows.Acquire(models.AccountID{})
	defer release()

	directions, err := api.AvailableDirections(ctx)
	if err != nil {
		return nil, connectError(err)
	}
	known := s.assets.Known(directions)

	resp := &AvailableDirectionsResponse{Directions: make([]AssetDirections, 0, len(known))}
	for _, from := range models.NewAssetSet(keys(known)...).Sorted() {
		ref, err := s.assets.Remote(from)
		if err != nil {
			return nil, connectError(err)
		}
		entry := AssetDirections{Asset: assetInfo(ref)}
		for _, to := range known[from].Sorted() {
			target, err := s.assets.Remote(to)
			if err != nil {
				return nil, connectError(err)
			}
			entry.Targets = append(entry.Targets, assetInfo(target))
		}
		resp.Directions = append(resp.Directions, entry)
	}
	return connect.NewResponse(resp), nil
}

/*
Quote prices a swap between two wallet assets on the best route.

Returns:
  - InvalidArgument: malformed amount or direction, unknown asset
  - NotFound: the pair isn't tradable
  - FailedPrecondition: every route failed to price
*/
func (s *SwapServer) Quote(
	ctx context.Context,
	req *connect.Request[QuoteRequest],
) (*connect.Response[QuoteResponse], error) {
	args, err := s.quoteArgs(req.Msg)
	if err != nil {
		return nil, err
	}

	api, release := s.flows.Acquire(models.AccountID{})
	defer release()

	result, err := api.Quote(ctx, args)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&QuoteResponse{
		AmountIn:  result.AmountIn.String(),
		AmountOut: result.AmountOut.String(),
		Route:     routeHops(result.Route),
	}), nil
}

func (s *SwapServer) CanPayFee(
	ctx context.Context,
	req *connect.Request[CanPayFeeRequest],
) (*connect.Response[CanPayFeeResponse], error) {
	ref, err := s.local(req.Msg.Asset)
	if err != nil {
		return nil, err
	}

	api, release := s.flows.Acquire(models.AccountID{})
	defer release()

	canPay, err := api.CanPayFee(ctx, ref.Remote)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&CanPayFeeResponse{CanPay: canPay}), nil
}

// CalculateFee estimates the network fee the account pays for the swap in the fee asset
func (s *SwapServer) CalculateFee(
	ctx context.Context,
	req *connect.Request[CalculateFeeRequest],
) (*connect.Response[CalculateFeeResponse], error) {
	account, args, feeAsset, err := s.callArgs(req.Msg)
	if err != nil {
		return nil, err
	}

	api, release := s.flows.Acquire(account)
	defer release()

	model, err := api.CalculateFee(ctx, args, feeAsset)
	if err != nil {
		return nil, connectError(err)
	}
	resp := &CalculateFeeResponse{
		TotalFee:         model.TotalFee.TargetAmount.String(),
		TotalFeeNative:   model.TotalFee.NativeAmount.String(),
		NetworkFee:       model.NetworkFee.TargetAmount.String(),
		NetworkFeeNative: model.NetworkFee.NativeAmount.String(),
	}
	if model.Payer != nil {
		resp.Payer = model.Payer.String()
	}
	return connect.NewResponse(resp), nil
}

// BuildSwap returns the unsigned call data of the swap for an external signer
func (s *SwapServer) BuildSwap(
	ctx context.Context,
	req *connect.Request[BuildSwapRequest],
) (*connect.Response[BuildSwapResponse], error) {
	account, args, feeAsset, err := s.callArgs(req.Msg)
	if err != nil {
		return nil, err
	}

	api, release := s.flows.Acquire(account)
	defer release()

	plan, specVersion, err := api.BuildSwap(ctx, args, feeAsset)
	if err != nil {
		return nil, connectError(err)
	}
	swap, err := plan.Swap()
	if err != nil {
		return nil, connectError(err)
	}
	resp := &BuildSwapResponse{
		SpecVersion: specVersion,
		SwapCall:    "0x" + hex.EncodeToString(swap.Encode()),
		Limit:       plan.Limit.String(),
	}
	if plan.FeeCurrency != nil {
		resp.FeeCurrencyCall = "0x" + hex.EncodeToString(plan.FeeCurrency.Encode())
	}
	return connect.NewResponse(resp), nil
}

func (s *SwapServer) local(id uint32) (models.AssetRef, error) {
	ref, err := s.assets.Local(models.ChainAssetID{ChainID: s.assets.ChainID(), AssetID: id})
	if err != nil {
		return models.AssetRef{}, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return ref, nil
}

func (s *SwapServer) quoteArgs(req *QuoteRequest) (models.QuoteArgs, error) {
	assetIn, err := s.local(req.AssetIn)
	if err != nil {
		return models.QuoteArgs{}, err
	}
	assetOut, err := s.local(req.AssetOut)
	if err != nil {
		return models.QuoteArgs{}, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return models.QuoteArgs{}, err
	}
	direction, err := models.ParseDirection(req.Direction)
	if err != nil {
		return models.QuoteArgs{}, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return models.QuoteArgs{AssetIn: assetIn, AssetOut: assetOut, Amount: amount, Direction: direction}, nil
}

// callArgs validates a fee or build request, the receiver of the swap is the account itself
func (s *SwapServer) callArgs(req *CalculateFeeRequest) (models.AccountID, models.CallArgs, models.RemoteAssetID, error) {
	fail := func(err error) (models.AccountID, models.CallArgs, models.RemoteAssetID, error) {
		return models.AccountID{}, models.CallArgs{}, 0, err
	}

	account, err := models.ParseAccountID(req.Account)
	if err != nil {
		return fail(connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid account: %w", err)))
	}
	feeAsset, err := s.local(req.FeeAsset)
	if err != nil {
		return fail(err)
	}
	assetIn, err := s.local(req.Swap.AssetIn)
	if err != nil {
		return fail(err)
	}
	assetOut, err := s.local(req.Swap.AssetOut)
	if err != nil {
		return fail(err)
	}
	amountIn, err := parseAmount("amount_in", req.Swap.AmountIn)
	if err != nil {
		return fail(err)
	}
	amountOut, err := parseAmount("amount_out", req.Swap.AmountOut)
	if err != nil {
		return fail(err)
	}
	direction, err := models.ParseDirection(req.Swap.Direction)
	if err != nil {
		return fail(connect.NewError(connect.CodeInvalidArgument, err))
	}
	slippage := s.defaultSlippage
	if req.Swap.Slippage != "" {
		slippage, err = decimal.NewFromString(req.Swap.Slippage)
		if err != nil {
			return fail(connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid slippage: %w", err)))
		}
	}

	args := models.CallArgs{
		AssetIn:   assetIn,
		AssetOut:  assetOut,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		Direction: direction,
		Slippage:  slippage,
		Receiver:  account,
	}
	if len(req.Swap.Route) > 0 {
		route := parseRoute(req.Swap.Route)
		if err := route.Validate(); err != nil {
			return fail(connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid route: %w", err)))
		}
		args.Route = &route
	}
	return account, args, feeAsset.Remote, nil
}

func parseAmount(field, s string) (math.Int, error) {
	amount, ok := math.NewIntFromString(s)
	if !ok || !amount.IsPositive() {
		return math.Int{}, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("%s must be a positive integer, got %q", field, s))
	}
	return amount, nil
}

func routeHops(route models.Route) []RouteHop {
	hops := make([]RouteHop, 0, len(route.Components))
	for _, c := range route.Components {
		hops = append(hops, RouteHop{
			Pool:      string(c.Pool.Type),
			PoolAsset: uint32(c.Pool.PoolAsset),
			AssetIn:   uint32(c.AssetIn),
			AssetOut:  uint32(c.AssetOut),
		})
	}
	return hops
}

func parseRoute(hops []RouteHop) models.Route {
	components := make([]models.RouteComponent, 0, len(hops))
	for _, hop := range hops {
		pool := models.Omnipool()
		if models.PoolType(hop.Pool) == models.PoolTypeStableswap {
			pool = models.Stableswap(models.RemoteAssetID(hop.PoolAsset))
		}
		components = append(components, models.RouteComponent{
			AssetIn:  models.RemoteAssetID(hop.AssetIn),
			AssetOut: models.RemoteAssetID(hop.AssetOut),
			Pool:     pool,
		})
	}
	return models.NewRoute(components...)
}

func assetInfo(ref models.AssetRef) AssetInfo {
	return AssetInfo{
		LocalID:  ref.Local.AssetID,
		RemoteID: uint32(ref.Remote),
		Symbol:   ref.Symbol,
		Decimals: ref.Decimals,
	}
}

func keys(m map[models.RemoteAssetID]models.AssetSet) []models.RemoteAssetID {
	ids := make([]models.RemoteAssetID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

// connectError maps the error taxonomy onto connect codes
func connectError(err error) error {
	var connectErr *connect.Error
	var notFound *models.RemoteAssetNotFoundError
	var mapping *models.AssetMappingError
	switch {
	case errors.As(err, &connectErr):
		return err
	case errors.Is(err, models.ErrInvalidArgs), errors.As(err, &mapping):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, models.ErrNoRoute), errors.As(err, &notFound):
		return connect.NewError(connect.CodeNotFound, err)
	case models.IsQuoteInfeasible(err):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, models.ErrConnectionUnavailable),
		errors.Is(err, models.ErrRuntimeUnavailable),
		errors.Is(err, models.ErrSyncFailed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, models.ErrCancelled), errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
