package config

import (
	"time"

	"github.com/shopspring/decimal"
)

type ServiceConfig struct {
	// rpc configs
	Port int    `mapstructure:"port" toml:"port"`
	Host string `mapstructure:"host" toml:"host"`

	// CORS configs
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`

	// rate limiting configs
	RatePerMinute         int `mapstructure:"rate_per_minute" toml:"rate_per_minute"`
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests" toml:"max_concurrent_requests"`

	// OpenTelemetry configs
	ServiceName    string `mapstructure:"service_name" toml:"service_name"`
	ServiceVersion string `mapstructure:"service_version" toml:"service_version"`
	Environment    string `mapstructure:"environment" toml:"environment"` // PROD, DEV, TEST, LOCAL
	EnableTracing  bool   `mapstructure:"enable_tracing" toml:"enable_tracing"`
	UseOTLPTraces  bool   `mapstructure:"use_otlp_traces" toml:"use_otlp_traces"`
	OTLPTracesURL  string `mapstructure:"otlp_traces_url" toml:"otlp_traces_url"`
	EnableMetrics  bool   `mapstructure:"enable_metrics" toml:"enable_metrics"`
	UsePrometheus  bool   `mapstructure:"use_prometheus" toml:"use_prometheus"`
	UseOTLPMetrics bool   `mapstructure:"use_otlp_metrics" toml:"use_otlp_metrics"`
	OTLPMetricsURL string `mapstructure:"otlp_metrics_url" toml:"otlp_metrics_url"`
	EnableLogs     bool   `mapstructure:"enable_logs" toml:"enable_logs"`
	UseOTLPLogs    bool   `mapstructure:"use_otlp_logs" toml:"use_otlp_logs"`
	OTLPLogsURL    string `mapstructure:"otlp_logs_url" toml:"otlp_logs_url"`

	InsecureOTLP bool `mapstructure:"insecure_otlp" toml:"insecure_otlp"`

	// Development mode uses stdout exporters
	DevelopmentMode bool `mapstructure:"development_mode" toml:"development_mode"`

	// HydraDx node endpoints, the first reachable one is used and the rest are backups
	NodeWSURLs   []string `mapstructure:"node_ws_urls" toml:"node_ws_urls"`
	NodeHTTPURLs []string `mapstructure:"node_http_urls" toml:"node_http_urls"`

	// chain registry, anything go-getter understands (local path, https url, git repo)
	RegistrySource string `mapstructure:"registry_source" toml:"registry_source"`

	ReferralCode    string `mapstructure:"referral_code" toml:"referral_code"`
	DefaultSlippage string `mapstructure:"default_slippage" toml:"default_slippage"`

	WorkerPoolSize      int           `mapstructure:"worker_pool_size" toml:"worker_pool_size"`
	SyncInitialInterval time.Duration `mapstructure:"sync_initial_interval" toml:"sync_initial_interval"`
	SyncMaxElapsed      time.Duration `mapstructure:"sync_max_elapsed" toml:"sync_max_elapsed"`
}

// Slippage returns the default slippage as a fraction, 0 if it is unset.
func (c *ServiceConfig) Slippage() decimal.Decimal {
	if c.DefaultSlippage == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(c.DefaultSlippage)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RegistryConfig describes one HydraDx deployment: its assets and the runtime tables
// for each spec version the service knows how to encode calls for.
type RegistryConfig struct {
	ChainID     string          `toml:"chain_id"`
	NativeAsset uint32          `toml:"native_asset"`
	HubAsset    uint32          `toml:"hub_asset"`
	SS58Prefix  uint16          `toml:"ss58_prefix"`
	Assets      []RegistryAsset `toml:"assets"`
	Runtimes    []RuntimeTable  `toml:"runtimes"`
}

type RegistryAsset struct {
	LocalID  uint32 `toml:"local_id"`
	RemoteID uint32 `toml:"remote_id"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
}

// RuntimeTable holds the pallet and call indices of a runtime spec version.
// Calls and Events are keyed "Pallet.name" and hold [pallet index, call index].
type RuntimeTable struct {
	SpecVersion    uint32           `toml:"spec_version"`
	Calls          map[string][]int `toml:"calls"`
	Events         map[string][]int `toml:"events"`
	PoolTypes      map[string]int   `toml:"pool_types"`
	MinAssetFee    uint32           `toml:"min_asset_fee"`    // permill
	MinProtocolFee uint32           `toml:"min_protocol_fee"` // permill
}
