// benchmark-export runs the BenchmarkExporter once and writes the JSON
// snapshot the operator dashboard reads, adapted from the teacher's
// cmd/daily-stats (same flag/ANSI-report idiom, retargeted from a daily
// trades table to the BTC/universe benchmark snapshot).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/nitinkhare/cryptoswing/internal/benchmark"
	"github.com/nitinkhare/cryptoswing/internal/config"
	"github.com/nitinkhare/cryptoswing/internal/storage"
	"github.com/rs/zerolog"
)

const (
	Reset  = "\033[0m"
	Red    = "\033[0;31m"
	Green  = "\033[0;32m"
	Yellow = "\033[1;33m"
	Cyan   = "\033[0;36m"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	outputPath := flag.String("output-path", "", "override paths.benchmark_output_path from config")
	days := flag.Int("days", 0, "rolling window in days (0 = use the strategy's first-entry date)")
	initialCapital := flag.Float64("initial-capital", 1000.0, "starting paper capital for the benchmark series")
	coinGeckoURL := flag.String("coingecko-url", "", "override the CoinGecko API base URL")
	flag.Parse()

	logger := log.New(os.Stdout, "[benchmark-export] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	out := *outputPath
	if out == "" {
		out = cfg.Paths.BenchmarkOutputPath
	}
	if out == "" {
		logger.Fatal("no output path: set --output-path or paths.benchmark_output_path in config")
	}

	ctx := context.Background()
	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, zerolog.New(os.Stdout).With().Timestamp().Logger())
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	exporter := benchmark.NewExporter(
		store,
		benchmark.NewCoinGeckoFetcher(*coinGeckoURL),
		cfg.Paths.LogDir,
		*initialCapital,
		nil,
	)

	snapshot, err := exporter.BuildSnapshot(ctx, *days)
	if err != nil {
		logger.Fatalf("failed to build benchmark snapshot: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		logger.Fatalf("failed to create output directory: %v", err)
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		logger.Fatalf("failed to encode snapshot: %v", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		logger.Fatalf("failed to write %s: %v", out, err)
	}

	displaySummary(snapshot)
	fmt.Printf("Saved: %s\n", out)
}

func displaySummary(s *benchmark.Snapshot) {
	fmt.Printf("%s================================================%s\n", Cyan, Reset)
	fmt.Printf("%s          BENCHMARK SNAPSHOT — %s%s\n", Cyan, time.Now().UTC().Format("2006-01-02"), Reset)
	fmt.Printf("%s================================================%s\n\n", Cyan, Reset)

	if len(s.Points) == 0 {
		fmt.Printf("%sNo benchmark data available%s\n\n", Yellow, Reset)
		return
	}

	alphaColor := Green
	if s.Summary.AlphaPct < 0 {
		alphaColor = Red
	}

	fmt.Printf("  %sWindow:%s            %d days, initial capital $%.2f\n", Yellow, Reset, s.PeriodDays, s.InitialCapital)
	fmt.Printf("  %sAlgorithm return:%s  %.2f%%\n", Yellow, Reset, s.Summary.AlgorithmReturnPct)
	fmt.Printf("  %sBTC return:%s        %.2f%%\n", Yellow, Reset, s.Summary.BTCReturnPct)
	fmt.Printf("  %sAlpha vs BTC:%s      %s%.2f%%%s\n", Yellow, Reset, alphaColor, s.Summary.AlphaPct, Reset)
	fmt.Printf("  %sUniverse return:%s   %.2f%%\n", Yellow, Reset, s.Summary.UniverseReturnPct)
	fmt.Printf("  %sAlpha vs universe:%s %.2f%%\n", Yellow, Reset, s.Summary.UniverseAlphaPct)
	fmt.Println()
	fmt.Printf("  %sTotal trades:%s      %d\n", Yellow, Reset, s.Summary.TotalTrades)
	fmt.Printf("  %sWin rate:%s          %.1f%%\n", Yellow, Reset, s.Summary.WinRate)
	fmt.Printf("  %sOpen positions:%s    %d\n", Yellow, Reset, s.Summary.OpenPositions)
	fmt.Printf("  %sExit reasons:%s      stop_loss=%d rotation=%d normal=%d\n", Yellow, Reset,
		s.Summary.ExitReasonCounts["stop_loss"], s.Summary.ExitReasonCounts["rotation"], s.Summary.ExitReasonCounts["normal"])
	fmt.Println()
}
