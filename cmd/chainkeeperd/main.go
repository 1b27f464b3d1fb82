// Command chainkeeperd is the oracle-updater daemon: it loads a YAML
// configuration, wires the secret store, chain providers, gas-price
// oracle, transaction managers, feed loops, scheduled tasks, and event
// monitors, then runs until a shutdown signal is received. Grounded on
// the signal.Notify/graceful-shutdown pattern in
// cmd/transaction-service/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chainkeeper/chainkeeper/internal/blockchain"
	"github.com/chainkeeper/chainkeeper/internal/config"
	"github.com/chainkeeper/chainkeeper/internal/eventmonitor"
	"github.com/chainkeeper/chainkeeper/internal/feed"
	"github.com/chainkeeper/chainkeeper/internal/gasprice"
	"github.com/chainkeeper/chainkeeper/internal/logger"
	"github.com/chainkeeper/chainkeeper/internal/metrics"
	"github.com/chainkeeper/chainkeeper/internal/scheduler"
	"github.com/chainkeeper/chainkeeper/internal/secrets"
	"github.com/chainkeeper/chainkeeper/internal/txmanager"
)

const (
	exitOK            = 0
	exitConfigError   = 1
	exitRuntimeFatal  = 2
	exitKeyStoreError = 3
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "keys" {
		os.Exit(runKeysCommand(os.Args[2:]))
	}
	os.Exit(runDaemon(os.Args[1:]))
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("chainkeeperd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration file (default: $CHAINKEEPER_CONFIG or config.yaml)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Level = logger.ParseLevel(*logLevel)
	log := logger.New(logCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Transaction managers run on their own context, so cancelling the
	// producers at shutdown does not abort a submission already in flight.
	mgrCtx, mgrCancel := context.WithCancel(context.Background())
	defer mgrCancel()

	reg := metrics.New(prometheus.DefaultRegisterer)

	backend, err := buildSecretBackend(cfg.KeyStorage)
	if err != nil {
		log.Error("key storage init failed", "error", err.Error())
		return exitKeyStoreError
	}
	zapLog, _ := zap.NewProduction()
	if !cfg.Logging.JSONFormat {
		zapLog, _ = zap.NewDevelopment()
	}
	auditor := secrets.NewAuditor(zapLog)
	store := secrets.NewStore(backend, cfg.KeyStorage.CacheTTL, auditor)
	defer store.Close()

	providers := make(map[string]blockchain.Provider, len(cfg.Networks))
	managers := make(map[string]*txmanager.Manager, len(cfg.Networks))
	oracle := gasprice.New(cfg.GasPriceFeeds, log, reg)
	go oracle.Run(ctx)
	defer oracle.Close()

	for name, network := range cfg.Networks {
		client, err := blockchain.Dial(ctx, name, network.RPCURL, log, reg)
		if err != nil {
			log.Error("failed to connect to network", "network", name, "error", err.Error())
			return exitRuntimeFatal
		}
		providers[name] = client

		secret, err := store.Get(ctx, name)
		if err != nil {
			log.Error("failed to load signing key", "network", name, "error", err.Error())
			return exitKeyStoreError
		}
		sender := crypto.PubkeyToAddress(secret.PrivateKey().PublicKey)

		mgr := txmanager.New(network, sender, client, store, oracle, log, reg)
		go mgr.Run(mgrCtx)
		managers[name] = mgr
	}

	var feeds []*feed.Feed
	for _, df := range cfg.Datafeeds {
		mgr, ok := managers[df.Network]
		if !ok {
			log.Error("datafeed references unknown network", "feed", df.Name, "network", df.Network)
			return exitConfigError
		}
		f, err := feed.New(df, providers[df.Network], mgr, mgr.SenderHex(), log, reg)
		if err != nil {
			log.Error("failed to initialize feed", "feed", df.Name, "error", err.Error())
			return exitConfigError
		}
		go f.Run(ctx)
		feeds = append(feeds, f)
	}

	sched := map[string]*scheduler.Scheduler{}
	for _, task := range cfg.ScheduledTasks {
		def := task.ToDef()
		mgr, ok := managers[def.Network]
		if !ok {
			log.Error("scheduled task references unknown network", "task", def.Name, "network", def.Network)
			return exitConfigError
		}
		s, exists := sched[def.Network]
		if !exists {
			s = scheduler.New(providers[def.Network], mgr, mgr.SenderHex(), log, reg)
			sched[def.Network] = s
		}
		if err := s.Add(def); err != nil {
			log.Error("failed to register scheduled task", "task", def.Name, "error", err.Error())
			return exitConfigError
		}
	}
	for _, s := range sched {
		s.Start()
	}

	for _, mon := range cfg.EventMonitors {
		mgr, ok := managers[mon.Network]
		if !ok {
			log.Error("event monitor references unknown network", "monitor", mon.Name, "network", mon.Network)
			return exitConfigError
		}
		m := eventmonitor.New(mon, providers[mon.Network], mgr, log, reg)
		go m.Run(ctx, 15*time.Second)
	}

	metricsSrv := startMetricsServer(cfg.Metrics, reg, log)

	log.Info("chainkeeperd started", "networks", len(cfg.Networks), "feeds", len(feeds))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}
	for _, s := range sched {
		<-s.Stop().Done()
	}
	for _, mgr := range managers {
		mgr.Close()
	}
	for _, mgr := range managers {
		if err := mgr.Wait(shutdownCtx); err != nil {
			log.Warn("transaction manager did not drain before shutdown deadline", "sender", mgr.SenderHex(), "error", err.Error())
		}
	}

	log.Info("chainkeeperd stopped")
	return exitOK
}

func startMetricsServer(cfg config.MetricsConfig, reg *metrics.Registry, log *logger.Logger) *http.Server {
	if !cfg.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Info("metrics server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err.Error())
		}
	}()
	return srv
}

func buildSecretBackend(cfg config.KeyStorageConfig) (secrets.Backend, error) {
	switch cfg.Backend {
	case "", "env":
		return secrets.NewEnvBackend(), nil
	case "keyring":
		return secrets.NewKeyringBackend("chainkeeperd"), nil
	case "vault":
		if cfg.VaultAddr == "" {
			return nil, fmt.Errorf("key_storage.vault_addr is required for the vault backend")
		}
		return secrets.NewVaultBackend(cfg.VaultAddr, "secret", cfg.VaultPath, cfg.VaultToken), nil
	default:
		return nil, fmt.Errorf("unknown key_storage.backend %q", cfg.Backend)
	}
}
