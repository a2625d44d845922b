package referrald

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"refchain/config"
	"refchain/core/events"
	"refchain/core/state"
	"refchain/native/bank"
	"refchain/native/referral"
	"refchain/observability"
	"refchain/observability/logging"
	telemetry "refchain/observability/otel"
	"refchain/services/referrald/audit"
	"refchain/storage"
)

// Main initialises and runs the referral daemon.
func Main() error {
	defaultPath := strings.TrimSpace(os.Getenv("REFERRALD_CONFIG"))
	if defaultPath == "" {
		defaultPath = "services/referrald/config.yaml"
	}
	var cfgPath string
	flag.StringVar(&cfgPath, "config", defaultPath, "path to referrald configuration (.yaml or .toml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("REFCHAIN_ENV"))
	}
	var logOpts []logging.Option
	if cfg.Logging.File != "" {
		logOpts = append(logOpts, logging.WithFile(logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}))
	}
	logger, logCloser := logging.Setup(cfg.Service, env, logOpts...)
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Service,
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := openDatabase(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	store := state.NewStore(db)
	emitters := events.MultiEmitter{observability.EventCounter{}, logEmitter{logger: logger}}
	var sink *audit.Sink
	if cfg.Audit.Driver != "" {
		auditDB, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			return err
		}
		if sink, err = audit.NewSink(auditDB, logger); err != nil {
			return err
		}
		emitters = append(emitters, sink)
	}
	store.SetEmitter(emitters)

	genesis, err := cfg.Genesis.Resolve()
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	ledger := bank.NewLedger(genesis.Treasury)
	registry := referral.NewRegistry(store)
	if cfg.Genesis.Enabled() {
		if err := Bootstrap(registry, ledger, genesis, logger); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
	}
	distributor := referral.NewDistributor(registry, ledger, referral.WithMaxHops(cfg.Distribution.MaxHops))

	server, err := New(Config{
		Store:       store,
		Registry:    registry,
		Distributor: distributor,
		Ledger:      ledger,
		Audit:       sink,
		Auth: AuthConfig{
			HMACSecret: cfg.Admin.JWTSecret,
			Issuer:     cfg.Admin.Issuer,
			Audience:   cfg.Admin.Audience,
		},
		RatePerSec:  cfg.RateLimit.RatePerSecond,
		Burst:       cfg.RateLimit.Burst,
		TrustProxy:  cfg.RateLimit.TrustProxyHeaders,
		MetricsPath: cfg.Telemetry.MetricsPath,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server.Handler(), cfg.Service),
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("referrald listening", "listen", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func openDatabase(dataDir string, logger *slog.Logger) (storage.Database, error) {
	if strings.TrimSpace(dataDir) == "" {
		logger.Warn("data_dir not set; state is kept in memory and lost on exit")
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(dataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return db, nil
}

// logEmitter writes every committed event at debug level.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	rec := events.Flatten(evt)
	if rec == nil {
		return
	}
	l.logger.Debug("event", "type", rec.Type, "attributes", rec.Attributes)
}
