// Command ingest loads one-minute candle CSV files into the ClickHouse
// archive used by the backtest runner.
//
// Usage:
//
//	ingest -symbol NIFTY -file nifty_1min.csv
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"optionbt/internal/config"
	"optionbt/internal/marketdata"
)

const insertBatchSize = 10_000

func main() {
	symbol := flag.String("symbol", "", "instrument symbol, e.g. NIFTY or NIFTY24O1022500CE")
	file := flag.String("file", "", "CSV file of one-minute candles")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	lvl, perr := zerolog.ParseLevel(cfg.LogLevel)
	if perr != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(lvl)

	if *symbol == "" || *file == "" {
		log.Fatal().Msg("Both -symbol and -file are required")
	}
	if cfg.ClickHouseDSN == "" {
		log.Fatal().Msg("CLICKHOUSE_DSN is not configured")
	}

	ctx := context.Background()

	candles, err := marketdata.LoadCSV(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to load candle CSV")
	}
	log.Info().Int("rows", len(candles)).Str("symbol", *symbol).Msg("Candle CSV loaded")

	conn, err := marketdata.NewConn(ctx, cfg.ClickHouseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
	}
	defer conn.Close()

	store := marketdata.NewCandleStore(conn)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure candle schema")
	}

	start := time.Now()
	for offset := 0; offset < len(candles); offset += insertBatchSize {
		end := offset + insertBatchSize
		if end > len(candles) {
			end = len(candles)
		}
		if err := store.InsertCandles(ctx, *symbol, candles[offset:end]); err != nil {
			log.Fatal().Err(err).Int("offset", offset).Msg("Insert batch failed")
		}
	}

	log.Info().
		Int("rows", len(candles)).
		Str("symbol", *symbol).
		Dur("took", time.Since(start)).
		Msg("Ingest complete")
}
