// Command copytrade mirrors a target trader's Polymarket portfolio.
//
// In dry-run mode every order is simulated against local state; in live mode
// orders are signed and submitted to the CLOB. Reporter output (JSON lines)
// goes to stdout, logs to stderr.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"polymarket-copytrade/internal/config"
	"polymarket-copytrade/internal/datasource"
	"polymarket-copytrade/internal/engine"
	"polymarket-copytrade/internal/exchange"
	"polymarket-copytrade/internal/executor"
	"polymarket-copytrade/internal/reporter"
)

func main() {
	var (
		configPath    = pflag.String("config", "config.yaml", "path to YAML config file")
		traderAddress = pflag.String("trader-address", "", "wallet address of the trader to copy")
		budget        = pflag.Float64("budget", 0, "total capital to deploy in USD")
		copyPct       = pflag.Float64("copy-percentage", 100, "portion of budget to mirror, 0-100")
		maxTradePct   = pflag.Float64("max-trade-size", 100, "per-position cap as percent of budget, 0-100")
		dryRun        = pflag.Bool("dry-run", false, "simulate fills locally, no orders submitted")
		live          = pflag.Bool("live", false, "sign and submit real orders")
		verbose       = pflag.Bool("verbose", false, "enable debug logging")
	)
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, *configPath, *traderAddress, *budget, *copyPct, *maxTradePct, *dryRun, *live); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(
	logger *slog.Logger,
	configPath, traderAddress string,
	budget, copyPct, maxTradePct float64,
	dryRun, live bool,
) error {
	if dryRun == live {
		return fmt.Errorf("exactly one of --dry-run or --live is required")
	}
	if traderAddress == "" {
		return fmt.Errorf("--trader-address is required")
	}
	if budget <= 0 {
		return fmt.Errorf("--budget must be positive, got %v", budget)
	}
	if copyPct < 0 || copyPct > 100 {
		return fmt.Errorf("--copy-percentage must be in [0,100], got %v", copyPct)
	}
	if maxTradePct < 0 || maxTradePct > 100 {
		return fmt.Errorf("--max-trade-size must be in [0,100], got %v", maxTradePct)
	}

	cfg, err := loadConfig(configPath, live, logger)
	if err != nil {
		return err
	}

	data := datasource.NewClient(cfg.API.DataURL, logger)
	oracle := datasource.NewOracle(cfg.API.GammaURL, logger)
	rep := reporter.New(os.Stdout, logger)

	engCfg := engine.Config{
		TraderAddress: traderAddress,
		Budget:        budget,
		CopyPct:       copyPct / 100,
		MaxTradePct:   maxTradePct / 100,
		PollInterval:  time.Duration(cfg.Settings.PollIntervalSecs) * time.Second,
		Live:          live,
	}

	var broker engine.Broker
	var exec *executor.Executor
	if live {
		auth, err := exchange.NewAuth(
			cfg.Account.PrivateKey,
			cfg.Account.FunderAddress,
			cfg.Account.SignatureType,
			exchange.PolygonChainID,
		)
		if err != nil {
			return fmt.Errorf("init auth: %w", err)
		}
		engCfg.OwnAddress = auth.FunderAddress().Hex()

		client := exchange.NewClient(cfg.API.ClobURL, auth, logger)
		authCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = client.Authenticate(authCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}

		broker = client
		exec = executor.New(client, logger)
	}

	eng := engine.New(engCfg, data, oracle, broker, exec, rep, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting copytrade agent",
		"trader", traderAddress, "budget", budget,
		"copy_pct", copyPct, "max_trade_pct", maxTradePct,
		"mode", map[bool]string{true: "live", false: "dry-run"}[live])

	return eng.Run(ctx)
}

// loadConfig reads the config file. Live mode requires it (private key);
// dry-run falls back to defaults when the file is missing.
func loadConfig(path string, live bool, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if live {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger.Warn("config not loaded, using defaults for dry-run", "path", path, "error", err)
	return &config.Config{
		API: config.APIConfig{
			ClobURL:  exchange.DefaultCLOBAPIBase,
			DataURL:  datasource.DefaultDataAPIBase,
			GammaURL: datasource.DefaultGammaAPIBase,
		},
		Settings: config.SettingsConfig{PollIntervalSecs: 10},
	}, nil
}
