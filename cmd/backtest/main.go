package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"optionbt/internal/config"
	"optionbt/internal/engine"
	"optionbt/internal/marketdata"
	"optionbt/internal/notify"
	"optionbt/internal/pricing"
	sig "optionbt/internal/signal"
	"optionbt/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	lvl, perr := zerolog.ParseLevel(cfg.LogLevel)
	if perr != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(lvl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional run persistence / stored strategies.
	var db *storage.DB
	if cfg.PGHost != "" {
		db, err = storage.New(storage.ConnectionParams{
			Host: cfg.PGHost, Port: cfg.PGPort, User: cfg.PGUser,
			Password: cfg.PGPassword, DBName: cfg.PGDBName, SSLMode: cfg.PGSSLMode,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer db.Close()
	}

	rules, err := resolveRules(cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve strategy rules")
	}

	spot, options, closeSources, err := buildSources(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise candle sources")
	}
	defer closeSources()

	var symbols pricing.SymbolFormatter = pricing.PlainSymbols{}
	if cfg.NSESymbols {
		symbols = pricing.NSESymbols{Monthly: cfg.ExpiryType == "monthly"}
	}
	pricer := pricing.NewPricer(pricing.PricerOptions{
		Derivative: cfg.Derivative,
		ExpiryType: cfg.ExpiryType,
		UseVIX:     cfg.UseVIX,
		Symbols:    symbols,
	})

	runCfg := engine.Config{
		StartDate:       cfg.StartDate,
		EndDate:         cfg.EndDate,
		Derivative:      cfg.Derivative,
		ExpiryType:      cfg.ExpiryType,
		LotSize:         cfg.LotSize,
		NumLots:         cfg.NumLots,
		StrategySlug:    cfg.StrategySlug,
		SignalConfig:    rules,
		TPPct:           cfg.TPPct,
		SLPct:           cfg.SLPct,
		TrailingPct:     cfg.TrailingPct,
		IndexSL:         cfg.IndexSL,
		MaxHoldBars:     cfg.MaxHoldBars,
		SlippagePct:     cfg.SlippagePct,
		BrokeragePerLot: cfg.BrokeragePerLot,
		IntervalMinutes: cfg.Interval,
		Capital:         cfg.Capital,
		SidewaysSkip:    cfg.SidewaysSkip,
		DebugMode:       cfg.DebugMode,
		DebugPath:       cfg.DebugPath,
	}

	eng := engine.New(runCfg, spot, options, sig.NewRuleEngine(*rules), pricer)
	eng.SetProgress(func(pct float64, msg string) {
		log.Info().Str("progress", fmt.Sprintf("%.0f%%", pct)).Msg(msg)
	})

	// Ctrl-C requests a cooperative stop; the partial result still prints.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("Interrupt received, stopping backtest")
		eng.Stop()
	}()

	result := eng.Run(ctx)
	fmt.Println(result.Format())

	if cfg.DebugMode {
		if err := eng.Debugger().Save(cfg.DebugPath); err != nil {
			log.Error().Err(err).Msg("Failed to save candle debug JSON")
		}
	}

	if db != nil {
		runID, err := db.SaveResult(result)
		if err != nil {
			log.Error().Err(err).Msg("Failed to persist backtest run")
		} else {
			log.Info().Int64("run_id", runID).Msg("Backtest run persisted")
		}
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		notifier, err := notify.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialise Telegram notifier")
		} else if err := notifier.SendResult(result); err != nil {
			log.Error().Err(err).Msg("Failed to send Telegram summary")
		}
	}

	if result.ErrorMsg != "" {
		os.Exit(1)
	}
}

// resolveRules loads the strategy: a stored slug when PostgreSQL is
// available, otherwise an inline JSON file, otherwise the built-in
// RSI/EMA default.
func resolveRules(cfg *config.Config, db *storage.DB) (*sig.Config, error) {
	if cfg.StrategySlug != "" {
		if db == nil {
			return nil, fmt.Errorf("STRATEGY_SLUG set but PostgreSQL is not configured")
		}
		rules, err := db.GetStrategyConfig(cfg.StrategySlug)
		if err != nil {
			return nil, err
		}
		if rules == nil {
			return nil, fmt.Errorf("strategy %q not found", cfg.StrategySlug)
		}
		return rules, nil
	}

	if cfg.RulesPath != "" {
		raw, err := os.ReadFile(cfg.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("read rules file: %w", err)
		}
		rules, err := sig.ParseConfig(raw)
		if err != nil {
			return nil, err
		}
		return &rules, nil
	}

	rules := sig.DefaultConfig()
	return &rules, nil
}

// buildSources wires the spot and option candle sources: ClickHouse when a
// DSN is configured, else a local CSV file for spot with synthetic-only
// option pricing.
func buildSources(ctx context.Context, cfg *config.Config) (engine.SpotSource, engine.OptionHistory, func(), error) {
	if cfg.ClickHouseDSN != "" {
		conn, err := marketdata.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		store := marketdata.NewCandleStore(conn)
		if err := store.EnsureSchema(ctx); err != nil {
			conn.Close()
			return nil, nil, nil, err
		}
		return store, store, func() { conn.Close() }, nil
	}

	if cfg.SpotCSV != "" {
		return marketdata.NewCSVSource(cfg.SpotCSV), nil, func() {}, nil
	}

	return nil, nil, nil, fmt.Errorf("no candle source configured: set CLICKHOUSE_DSN or SPOT_CSV")
}
