package runtime

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/config"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "runtime").Logger()
}

// router pool type codes when the registry does not override them
var defaultPoolTypes = map[models.PoolType]uint8{
	models.PoolTypeStableswap: 2,
	models.PoolTypeOmnipool:   3,
}

// Coder encodes calls and identifies events for one runtime spec version.
type Coder struct {
	specVersion    uint32
	calls          map[string][2]byte
	events         map[string][2]byte
	poolTypes      map[models.PoolType]uint8
	minAssetFee    uint32
	minProtocolFee uint32
}

// NewCoder builds a coder from a registry runtime table
func NewCoder(table config.RuntimeTable) (*Coder, error) {
	c := &Coder{
		specVersion:    table.SpecVersion,
		calls:          make(map[string][2]byte, len(table.Calls)),
		events:         make(map[string][2]byte, len(table.Events)),
		poolTypes:      make(map[models.PoolType]uint8, len(defaultPoolTypes)),
		minAssetFee:    table.MinAssetFee,
		minProtocolFee: table.MinProtocolFee,
	}
	for name, index := range table.Calls {
		pair, err := indexPair(index)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", name, err)
		}
		c.calls[name] = pair
	}
	for name, index := range table.Events {
		pair, err := indexPair(index)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", name, err)
		}
		c.events[name] = pair
	}
	for kind, code := range defaultPoolTypes {
		c.poolTypes[kind] = code
	}
	for name, code := range table.PoolTypes {
		if code < 0 || code > 255 {
			return nil, fmt.Errorf("pool type %s: code %d out of range", name, code)
		}
		c.poolTypes[models.PoolType(name)] = uint8(code)
	}
	return c, nil
}

func indexPair(index []int) ([2]byte, error) {
	if len(index) != 2 {
		return [2]byte{}, fmt.Errorf("expected [pallet, index], got %v", index)
	}
	for _, v := range index {
		if v < 0 || v > 255 {
			return [2]byte{}, fmt.Errorf("index %d out of range", v)
		}
	}
	return [2]byte{byte(index[0]), byte(index[1])}, nil
}

func (c *Coder) SpecVersion() uint32 {
	return c.specVersion
}

// CallIndex returns the pallet and call index of "Pallet.call"
func (c *Coder) CallIndex(pallet, call string) ([2]byte, error) {
	index, ok := c.calls[pallet+"."+call]
	if !ok {
		return [2]byte{}, fmt.Errorf("%w: call %s.%s unknown in spec version %d",
			models.ErrRuntimeUnavailable, pallet, call, c.specVersion)
	}
	return index, nil
}

// EventIndex returns the pallet and event index of "Pallet.Event", ok is false when unknown
func (c *Coder) EventIndex(pallet, event string) ([2]byte, bool) {
	index, ok := c.events[pallet+"."+event]
	return index, ok
}

// PoolTypeCode is the variant index of the router PoolType enum
func (c *Coder) PoolTypeCode(kind models.PoolType) (uint8, error) {
	code, ok := c.poolTypes[kind]
	if !ok {
		return 0, fmt.Errorf("%w: pool type %s unknown", models.ErrRuntimeUnavailable, kind)
	}
	return code, nil
}

// DefaultFees returns the minimum asset and protocol fees, used when an asset has no dynamic fee entry
func (c *Coder) DefaultFees() (assetFee, protocolFee models.Ratio) {
	return models.Permill(c.minAssetFee), models.Permill(c.minProtocolFee)
}

// Provider resolves the coder matching the node's current runtime version.
type Provider struct {
	caller chain.Caller
	tables map[uint32]config.RuntimeTable

	mu      sync.Mutex
	current *Coder
}

// NewProvider creates a provider over the registry runtime tables
func NewProvider(caller chain.Caller, tables []config.RuntimeTable) *Provider {
	byVersion := make(map[uint32]config.RuntimeTable, len(tables))
	for _, table := range tables {
		byVersion[table.SpecVersion] = table
	}
	return &Provider{caller: caller, tables: byVersion}
}

// Coder returns the cached coder, resolving it on first use
func (p *Provider) Coder(ctx context.Context) (*Coder, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()
	if current != nil {
		return current, nil
	}
	coder, _, err := p.Refresh(ctx)
	return coder, err
}

// Refresh re-reads the runtime version and swaps the coder when the spec version changed
func (p *Provider) Refresh(ctx context.Context) (*Coder, bool, error) {
	version, err := chain.GetRuntimeVersion(ctx, p.caller)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", models.ErrRuntimeUnavailable, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.specVersion == version.SpecVersion {
		return p.current, false, nil
	}
	table, ok := p.tables[version.SpecVersion]
	if !ok {
		return nil, false, fmt.Errorf("%w: no runtime table for spec version %d",
			models.ErrRuntimeUnavailable, version.SpecVersion)
	}
	coder, err := NewCoder(table)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", models.ErrRuntimeUnavailable, err)
	}
	previous := uint32(0)
	if p.current != nil {
		previous = p.current.specVersion
	}
	p.current = coder
	log.Info().Uint32("spec_version", version.SpecVersion).Uint32("previous", previous).Msg("Runtime coder selected")
	return coder, true, nil
}
