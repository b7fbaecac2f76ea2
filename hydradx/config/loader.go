package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// LoadServiceConfig loads the service config from the given toml file, or from HYDRADX_ prefixed
// env variables when path is nil.
func LoadServiceConfig(configPath *string) (*ServiceConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == nil {
		config, err := loadEnv(v)
		if err != nil {
			return nil, fmt.Errorf("failed to load env config: %w", err)
		}
		return config, nil
	}
	config, err := loadFile(v, *configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load file config: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rate_per_minute", 120)
	v.SetDefault("max_concurrent_requests", 64)
	v.SetDefault("service_name", "hydradx-swap")
	v.SetDefault("default_slippage", "0.005")
	v.SetDefault("worker_pool_size", 8)
	v.SetDefault("sync_initial_interval", "500ms")
	v.SetDefault("sync_max_elapsed", "30s")
}

func loadEnv(v *viper.Viper) (*ServiceConfig, error) {
	// env can come from docker or systemd as well, a missing .env file is fine
	_ = godotenv.Load()
	v.SetEnvPrefix("HYDRADX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var config ServiceConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal env config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

// bindEnvKeys binds each config key to its env var so Unmarshal sees env values
// when no config file is loaded.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"port", "host", "allowed_origins",
		"rate_per_minute", "max_concurrent_requests",
		"service_name", "service_version", "environment",
		"enable_tracing", "use_otlp_traces", "otlp_traces_url",
		"enable_metrics", "use_prometheus", "use_otlp_metrics", "otlp_metrics_url",
		"enable_logs", "use_otlp_logs", "otlp_logs_url",
		"insecure_otlp", "development_mode",
		"node_ws_urls", "node_http_urls", "registry_source",
		"referral_code", "default_slippage",
		"worker_pool_size", "sync_initial_interval", "sync_max_elapsed",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

func loadFile(v *viper.Viper, configPath string) (*ServiceConfig, error) {
	if !strings.HasSuffix(configPath, ".toml") {
		return nil, fmt.Errorf("config file must be a toml file")
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ServiceConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

func verifyConfig(config *ServiceConfig) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if config.Host == "" {
		return fmt.Errorf("host is required")
	}

	if len(config.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed_origins is required")
	}

	if len(config.NodeWSURLs) == 0 {
		return fmt.Errorf("node_ws_urls is required")
	}
	for _, url := range append(append([]string{}, config.NodeWSURLs...), config.NodeHTTPURLs...) {
		if url == "" {
			return fmt.Errorf("node urls must not be empty")
		}
	}
	for _, url := range config.NodeWSURLs {
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			return fmt.Errorf("node_ws_urls must use ws:// or wss://, got %s", url)
		}
	}

	if config.RegistrySource == "" {
		return fmt.Errorf("registry_source is required")
	}

	slippage, err := decimal.NewFromString(config.DefaultSlippage)
	if err != nil {
		return fmt.Errorf("default_slippage is not a decimal: %w", err)
	}
	if slippage.IsNegative() || slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("default_slippage must be in [0, 1)")
	}

	if config.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker_pool_size must be positive")
	}
	if config.SyncInitialInterval <= 0 || config.SyncMaxElapsed < config.SyncInitialInterval {
		return fmt.Errorf("sync_max_elapsed must be at least sync_initial_interval")
	}

	return nil
}
