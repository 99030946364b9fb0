package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"lotterychain/core/events"
	"lotterychain/core/state"
	"lotterychain/native/amm"
	"lotterychain/native/bank"
	"lotterychain/native/common"
	"lotterychain/native/lottery"
	"lotterychain/observability"
	"lotterychain/observability/logging"
	telemetry "lotterychain/observability/otel"
	"lotterychain/services/lotteryd/archive"
	"lotterychain/services/lotteryd/config"
	"lotterychain/services/lotteryd/genesis"
	"lotterychain/services/lotteryd/keeper"
	"lotterychain/services/lotteryd/oracle"
	"lotterychain/services/lotteryd/server"
	"lotterychain/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lotteryd/config.yaml", "path to lotteryd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		slog.Error("lotteryd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger, logCloser := logging.SetupWithOptions("lotteryd", cfg.Environment, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	defer logCloser.Close()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "lotteryd",
			Version:     version,
			Environment: cfg.Environment,
			Endpoint:    strings.TrimSpace(cfg.Telemetry.Endpoint),
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     true,
			Traces:      true,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return err
	}
	defer db.Close()

	st := state.NewManager(db)
	ledger := bank.NewLedger(st)
	pools := amm.NewEngine(st, ledger)
	engine := lottery.NewEngine(st, ledger, pools)
	ledger.SetEmitter(engine.Collector())
	pools.SetEmitter(engine.Collector())
	engine.SetOracleTimeout(cfg.Oracle.FallbackAfter.Duration)

	pauses := common.NewPauseSet()
	pauses.Set(lottery.ModuleName, cfg.Paused)
	engine.SetPauses(pauses)

	eventArchive, err := archive.Open(cfg.ArchivePath, logger)
	if err != nil {
		return err
	}
	defer eventArchive.Close()

	hub := server.NewHub(logger)
	engine.SetEmitter(events.Multi{eventArchive, hub, observability.Events()})

	if path := strings.TrimSpace(cfg.GenesisPath); path != "" {
		file, err := genesis.Load(path)
		if err != nil {
			return err
		}
		res, err := genesis.Apply(file, st, ledger, pools, engine)
		if err != nil {
			return err
		}
		if res.Applied {
			logger.Info("genesis applied", "mints", len(res.Mints), "pools", len(res.Pools), "lotteries", len(res.Lotteries))
		}
	}

	if cfg.Oracle.Mode == config.OracleModeNATS {
		client, err := oracle.Connect(oracle.Config{
			URL:            cfg.Oracle.URL,
			RequestSubject: cfg.Oracle.RequestSubject,
			FulfilSubject:  cfg.Oracle.FulfilSubject,
			PublishTimeout: cfg.Oracle.PublishTimeout.Duration,
		}, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Subscribe(engine); err != nil {
			return err
		}
		engine.SetOracle(client)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			HMACSecret:    cfg.Auth.Secret,
			Issuer:        cfg.Auth.Issuer,
			Audience:      cfg.Auth.Audience,
			OperatorScope: cfg.Auth.OperatorScope,
			ClockSkew:     cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, engine, eventArchive, hub, logger)
	if err != nil {
		return err
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Keeper.Enabled {
		k, err := keeper.New(engine, cfg.Keeper.Interval.Duration, keeper.WithLogger(logger))
		if err != nil {
			return err
		}
		go func() {
			if err := k.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("keeper exited", "error", err)
				stop()
			}
		}()
	}

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
