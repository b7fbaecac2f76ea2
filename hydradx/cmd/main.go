package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/chain"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/config"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/fee"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/flow"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/models"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/observable"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/rpc"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/runtime"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/stableswap"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/state"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/submit"
	"github.com/Cogwheel-Validator/spectra-hydradx/hydradx/task"
	"github.com/rs/zerolog"
)

// flows of accounts nobody asked about for this long are stopped
const flowLinger = 2 * time.Minute

const runtimeCheckInterval = 5 * time.Minute

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Logger()

	rpc.SetLogger(log.With().Str("component", "rpc").Logger())
}

func main() {
	configPath := flag.String("config", "", "toml config file, HYDRADX_ env variables are used when empty")
	flag.Parse()

	var path *string
	if *configPath != "" {
		path = configPath
	}
	cfg, err := config.LoadServiceConfig(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registryConfig, err := config.NewDefaultRegistryLoader().Load(ctx, cfg.RegistrySource)
	if err != nil {
		log.Fatal().Err(err).Str("source", cfg.RegistrySource).Msg("Failed to load chain registry")
	}
	log.Info().
		Str("chain", registryConfig.ChainID).
		Int("assets", len(registryConfig.Assets)).
		Int("runtimes", len(registryConfig.Runtimes)).
		Msg("Loaded chain registry")

	ws, err := chain.NewWSClient(ctx, cfg.NodeWSURLs, chain.DefaultWSConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to a HydraDx node")
	}
	defer func() { _ = ws.Close() }()

	// one-shot queries go over http when configured so they don't queue behind subscriptions
	var caller chain.Caller = ws
	if len(cfg.NodeHTTPURLs) > 0 {
		httpClient, err := chain.NewHTTPClient(cfg.NodeHTTPURLs, chain.DefaultFailoverConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create node http client")
		}
		defer httpClient.Close()
		caller = httpClient
	}

	coders := runtime.NewProvider(caller, registryConfig.Runtimes)
	if coder, err := coders.Coder(ctx); err != nil {
		log.Warn().Err(err).Msg("Node runtime is not encodable yet, quotes will fail until it is")
	} else {
		log.Info().Uint32("spec_version", coder.SpecVersion()).Msg("Runtime tables resolved")
	}
	go watchRuntime(ctx, coders)

	queue := task.NewSerialQueue(64)
	defer queue.Stop()

	deps := flow.Dependencies{
		Subscriber:   ws,
		Coders:       coders,
		Pools:        state.NewEnumerator(caller),
		Pricer:       fee.NodePricer(caller),
		Transport:    submit.NewWSTransport(ws),
		Math:         stableswap.Curve{},
		Native:       models.RemoteAssetID(registryConfig.NativeAsset),
		Retry:        observable.RetryConfig{InitialInterval: cfg.SyncInitialInterval, MaxElapsed: cfg.SyncMaxElapsed},
		Workers:      cfg.WorkerPoolSize,
		ReferralCode: cfg.ReferralCode,
		Queue:        queue,
	}
	registry := flow.NewRegistry(func(key flow.Key) *flow.Service {
		return flow.NewService(key, deps)
	}, flowLinger)
	defer registry.Close()

	swap := rpc.NewSwapServer(
		rpc.RegistryFlows{Registry: registry, ChainID: registryConfig.ChainID},
		flow.NewAssetBook(registryConfig),
		cfg.Slippage(),
	)

	serverConfig := buildServerConfig(cfg)
	serverConfig.Ready = ws.IsConnected

	server, err := rpc.NewServer(ctx, serverConfig, swap)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RPC server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
			sigCh <- syscall.SIGTERM
		}
	}()

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}

// watchRuntime swaps the coder after runtime upgrades
func watchRuntime(ctx context.Context, coders *runtime.Provider) {
	ticker := time.NewTicker(runtimeCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			coder, changed, err := coders.Refresh(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Runtime check failed")
				continue
			}
			if changed {
				log.Info().Uint32("spec_version", coder.SpecVersion()).Msg("Runtime upgraded")
			}
		}
	}
}

func buildServerConfig(cfg *config.ServiceConfig) *rpc.ServerConfig {
	serverConfig := &rpc.ServerConfig{
		Address:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		AllowedOrigins: cfg.AllowedOrigins,
		EnableMetrics:  cfg.UsePrometheus,
	}
	if cfg.RatePerMinute > 0 {
		serverConfig.RatePerMinute = &cfg.RatePerMinute
	}
	if cfg.MaxConcurrentRequests > 0 {
		serverConfig.MaxConcurrentRequests = &cfg.MaxConcurrentRequests
	}

	if cfg.EnableTracing || cfg.EnableMetrics || cfg.EnableLogs || cfg.UsePrometheus {
		serverConfig.OTelConfig = &rpc.OTelConfig{
			ServiceName:     defaultString(cfg.ServiceName, "spectra-hydradx"),
			ServiceVersion:  defaultString(cfg.ServiceVersion, "1.0.0"),
			Environment:     defaultString(cfg.Environment, "development"),
			EnableTracing:   cfg.EnableTracing,
			UseOTLPTraces:   cfg.UseOTLPTraces,
			OTLPTracesURL:   cfg.OTLPTracesURL,
			EnableMetrics:   cfg.EnableMetrics,
			UsePrometheus:   cfg.UsePrometheus,
			UseOTLPMetrics:  cfg.UseOTLPMetrics,
			OTLPMetricsURL:  cfg.OTLPMetricsURL,
			EnableLogs:      cfg.EnableLogs,
			UseOTLPLogs:     cfg.UseOTLPLogs,
			OTLPLogsURL:     cfg.OTLPLogsURL,
			InsecureOTLP:    cfg.InsecureOTLP,
			DevelopmentMode: cfg.DevelopmentMode,
		}
	}
	return serverConfig
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
