// cmd/engine is the daemon entrypoint: it wires the MarketData client, the
// feature/trigger/selector pipeline, the scenario oracle, the paper
// exchange, the portfolio controller, and the Postgres store together
// behind a scheduler, and exposes a teacher-style mode switch
// (status|nightly|cycle|analytics|backtest) for both continuous and
// one-shot operation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nitinkhare/cryptoswing/internal/benchmark"
	"github.com/nitinkhare/cryptoswing/internal/config"
	"github.com/nitinkhare/cryptoswing/internal/dashboard"
	"github.com/nitinkhare/cryptoswing/internal/engineerr"
	"github.com/nitinkhare/cryptoswing/internal/exchange"
	"github.com/nitinkhare/cryptoswing/internal/feature"
	"github.com/nitinkhare/cryptoswing/internal/market"
	"github.com/nitinkhare/cryptoswing/internal/model"
	"github.com/nitinkhare/cryptoswing/internal/oracle"
	"github.com/nitinkhare/cryptoswing/internal/portfolio"
	"github.com/nitinkhare/cryptoswing/internal/risk"
	"github.com/nitinkhare/cryptoswing/internal/scheduler"
	tsignal "github.com/nitinkhare/cryptoswing/internal/signal"
	"github.com/nitinkhare/cryptoswing/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	mode := flag.String("mode", "cycle", "status|nightly|cycle|analytics|backtest")
	dbPath := flag.String("db-path", "", "override database_url from config")
	language := flag.String("language", "", "override oracle rationale language (ko|en)")
	timeframe := flag.String("timeframe", "", "override the candle timeframe")
	executeTrades := flag.Bool("execute-trades", false, "place paper trades instead of a dry run")
	tradeMode := flag.String("trade-mode", "paper", "paper|real (real is rejected)")
	quoteAmount := flag.Float64("quote-amount", 100.0, "notional size of every paper buy")
	rotationCooldownHours := flag.Float64("rotation-reentry-cooldown-hours", 0, "minimum hours before a sold symbol may re-enter")
	once := flag.Bool("once", false, "run a single cycle and exit instead of starting the cron loop")
	nightlyCron := flag.String("nightly-cron", "0 1 * * *", "cron expression for the nightly job group")
	cycleCron := flag.String("cycle-cron", "0 * * * *", "cron expression for the cycle job group")
	weeklyCron := flag.String("weekly-cron", "0 2 * * 0", "cron expression for the weekly job group")
	dashboardAddr := flag.String("dashboard-addr", "", "if set, serve the live websocket dashboard on this address")
	backtestDir := flag.String("backtest-dir", "", "directory of candidates_json files to replay in backtest mode")
	flag.Parse()

	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[engine] failed to load config: %v", err)
	}
	applyFlagOverrides(cfg, explicit, *dbPath, *language, *timeframe, *tradeMode, *quoteAmount, *rotationCooldownHours)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[engine] invalid configuration after flag overrides: %v", err)
	}

	appLog, cycleLog, closeLog, err := setupLoggers(cfg.Paths.LogDir)
	if err != nil {
		log.Fatalf("[engine] failed to set up logging: %v", err)
	}
	defer closeLog()

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, zerolog.New(os.Stdout).With().Timestamp().Logger())
	if err != nil {
		appLog.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		appLog.Fatalf("failed to migrate schema: %v", err)
	}

	provider := market.NewHTTPProvider(market.HTTPProviderConfig{})
	mkt := market.NewClient(provider, provider)
	ex := exchange.NewPaperExchange(mkt, cfg.Exchange.FeeRate, cfg.Exchange.SlippageRate)
	orc := oracle.NewOracle(cfg.Oracle.Endpoint, os.Getenv("OPENAI_API_KEY"))

	pcfg := portfolio.Config{
		MaxSlots:              cfg.Portfolio.MaxSlots,
		ExecuteTrades:         *executeTrades,
		TradeMode:             string(cfg.TradingMode),
		QuoteAmount:           cfg.QuoteAmountUSD,
		Timeframe:             cfg.Timeframe,
		RotationCooldownHours: cfg.Portfolio.RotationCooldownHours,
	}
	ctrl := portfolio.NewController(store, ex, orc, mkt, pcfg, zerolog.New(os.Stdout).With().Timestamp().Logger())

	cb := risk.NewCircuitBreaker(cfg.CircuitBreaker, appLog)

	sched := scheduler.New(cycleLog)
	registerJobs(sched, cfg, store, mkt, ctrl, cb, appLog, cycleLog)

	watcher := config.NewConfigWatcher(*configPath, cfg, appLog)
	watcher.OnChange(func(_, newCfg *config.Config) {
		ctrl.Config.MaxSlots = newCfg.Portfolio.MaxSlots
		ctrl.Config.RotationCooldownHours = newCfg.Portfolio.RotationCooldownHours
		cb.UpdateConfig(newCfg.CircuitBreaker)
	})
	if err := watcher.Start(); err != nil {
		appLog.Printf("config watcher disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	if *dashboardAddr != "" {
		startDashboard(ctx, *dashboardAddr, cfg.DatabaseURL, appLog)
	}

	switch *mode {
	case "status":
		runStatus(cfg, sched, cb)
	case "nightly":
		if err := sched.RunNightlyJobs(ctx); err != nil {
			appLog.Fatalf("nightly run failed: %v", err)
		}
	case "cycle":
		runCycleMode(ctx, sched, ctrl, cycleLog, *once, flag.Arg(0), *nightlyCron, *cycleCron, *weeklyCron)
	case "analytics":
		runAnalytics(ctx, cfg, store, appLog)
	case "backtest":
		runBacktest(ctx, ctrl, cycleLog, *backtestDir)
	default:
		appLog.Fatalf("unknown mode %q (want status|nightly|cycle|analytics|backtest)", *mode)
	}
}

// applyFlagOverrides layers explicitly-set CLI flags on top of the loaded
// config, leaving config-file values untouched for flags the operator did
// not pass (SPEC_FULL.md §6's CLI contract sits on top of, not instead of,
// the JSON config file).
func applyFlagOverrides(cfg *config.Config, explicit map[string]bool, dbPath, language, timeframe, tradeMode string, quoteAmount, rotationCooldownHours float64) {
	if explicit["db-path"] {
		cfg.DatabaseURL = dbPath
	}
	if explicit["language"] {
		cfg.Language = language
	}
	if explicit["timeframe"] {
		cfg.Timeframe = timeframe
	}
	if explicit["trade-mode"] {
		cfg.TradingMode = config.Mode(tradeMode)
	}
	if explicit["quote-amount"] {
		cfg.QuoteAmountUSD = quoteAmount
	}
	if explicit["rotation-reentry-cooldown-hours"] {
		cfg.Portfolio.RotationCooldownHours = rotationCooldownHours
	}
}

// setupLoggers builds the two loggers cmd/engine writes through: appLog
// carries an "[engine] " prefix for operator-facing messages, cycleLog has
// no prefix so its lines match internal/benchmark.ParseRecentCycles's
// "timestamp file.go:N: message" expectation. Both write to stdout and to
// a dated engine_YYYYMMDD.log file under logDir.
func setupLoggers(logDir string) (appLog, cycleLog *log.Logger, closeFn func(), err error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	fname := filepath.Join(logDir, fmt.Sprintf("engine_%s.log", time.Now().UTC().Format("20060102")))
	f, err := os.OpenFile(fname, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open log file %s: %w", fname, err)
	}

	w := io.MultiWriter(os.Stdout, f)
	flags := log.LstdFlags | log.Lshortfile
	appLog = log.New(w, "[engine] ", flags)
	cycleLog = log.New(w, "", flags)
	return appLog, cycleLog, func() { _ = f.Close() }, nil
}

// registerJobs wires the nightly universe-liveness check, the hourly
// selector-controller cycle, and the weekly prune into the scheduler,
// generalizing the teacher's registerNightlyJobs/registerMarketJobs split.
func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, store storage.Store, mkt market.MarketData, ctrl *portfolio.Controller, cb *risk.CircuitBreaker, appLog, cycleLog *log.Logger) {
	sched.RegisterJob(scheduler.Job{
		Name: "universe-liveness",
		Type: scheduler.JobTypeNightly,
		RunFunc: func(ctx context.Context) error {
			return checkUniverseLiveness(ctx, cfg.Universe, mkt, appLog)
		},
	})

	sched.RegisterJob(scheduler.Job{
		Name: "prune-stale",
		Type: scheduler.JobTypeWeekly,
		RunFunc: func(ctx context.Context) error {
			before := time.Now().UTC().AddDate(0, 0, -30)
			n, err := store.PruneStale(ctx, before)
			if err != nil {
				return engineerr.New(engineerr.PersistenceError, err)
			}
			appLog.Printf("pruned %d stale rows older than %s", n, before.Format(model.WallClock))
			return nil
		},
	})

	sched.RegisterJob(scheduler.Job{
		Name: "selector-controller",
		Type: scheduler.JobTypeCycle,
		RunFunc: func(ctx context.Context) error {
			if cb.IsTripped() {
				cycleLog.Printf("cycle skipped: circuit breaker tripped (%s)", cb.TripReason())
				return nil
			}

			results, err := buildLiveCandidates(ctx, cfg, mkt, appLog)
			if err != nil {
				cb.RecordFailure(err.Error())
				return engineerr.New(engineerr.DataUnavailable, err)
			}
			persistCandidatesAudit(cfg.Paths.CandidatesDir, cfg.Timeframe, len(cfg.Universe), results, appLog)

			res, err := ctrl.ProcessCandidates(ctx, results)
			if err != nil {
				cb.RecordFailure(err.Error())
				return engineerr.New(engineerr.PersistenceError, err)
			}
			cb.RecordSuccess()
			cycleLog.Printf("trading cycle complete: entry=%d, no_entry=%d, sold=%d", res.EntryCount, res.NoEntry, res.Sold)
			return nil
		},
	})
}

func checkUniverseLiveness(ctx context.Context, universe []config.UniverseEntry, mkt market.MarketData, appLog *log.Logger) error {
	failures := 0
	for _, u := range universe {
		if _, err := mkt.SpotPrice(ctx, u.Symbol); err != nil {
			appLog.Printf("universe liveness check failed for %s: %v", u.Symbol, err)
			failures++
		}
	}
	if len(universe) > 0 && failures == len(universe) {
		return fmt.Errorf("all %d universe symbols failed the liveness check", failures)
	}
	return nil
}

// buildLiveCandidates runs the full Phase-1 pipeline (C1-C4) over the
// configured universe: fetch bars, build feature snapshots, evaluate the
// trigger bank, adaptively tighten thresholds, and select the final
// candidate set.
func buildLiveCandidates(ctx context.Context, cfg *config.Config, mkt market.MarketData, appLog *log.Logger) (tsignal.TriggerResults, error) {
	var rows []model.SnapshotRow
	for _, u := range cfg.Universe {
		bars, err := mkt.FetchBars(ctx, u.Symbol, "60d", cfg.Timeframe)
		if err != nil {
			appLog.Printf("%s: fetch bars failed: %v", u.Symbol, err)
			continue
		}
		row, ok := feature.Build(u.Symbol, u.Theme, bars)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("no symbols produced a feature snapshot")
	}

	thresholds := tsignal.AdaptiveTighten(rows, tsignal.DefaultThresholds())

	raw := make(tsignal.TriggerResults)
	raw[tsignal.TriggerVolumeMomentum] = tsignal.EvaluateVolumeMomentum(rows, thresholds)
	raw[tsignal.TriggerVolatilityTrend] = tsignal.EvaluateVolatilityTrend(rows, thresholds)
	raw[tsignal.TriggerRangeBreakout] = tsignal.EvaluateRangeBreakout(rows, thresholds)

	return tsignal.SelectFinal(raw, rows, tsignal.DefaultMaxPositions), nil
}

// persistCandidatesAudit writes the Phase-1 output to cfg.Paths.CandidatesDir
// for audit and for decoupled Phase-2-only replays; failures are logged,
// never fatal, since the in-process cycle already holds the results.
func persistCandidatesAudit(dir, timeframe string, universeSize int, results tsignal.TriggerResults, appLog *log.Logger) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		appLog.Printf("warning: failed to create candidates dir: %v", err)
		return
	}
	fname := filepath.Join(dir, fmt.Sprintf("candidates_%s.json", time.Now().UTC().Format("20060102T150405Z")))
	if err := writeCandidatesJSON(fname, results, newMetadata(timeframe, universeSize)); err != nil {
		appLog.Printf("warning: failed to persist candidates json: %v", err)
	}
}

func runStatus(cfg *config.Config, sched *scheduler.Scheduler, cb *risk.CircuitBreaker) {
	fmt.Printf("trading_mode=%s timeframe=%s max_slots=%d universe_size=%d\n",
		cfg.TradingMode, cfg.Timeframe, cfg.Portfolio.MaxSlots, len(cfg.Universe))
	fmt.Println(sched.Status())
	fmt.Printf("circuit_breaker: tripped=%v reason=%q consecutive_failures=%d hourly_failures=%d\n",
		cb.IsTripped(), cb.TripReason(), cb.ConsecutiveFailures(), cb.HourlyFailures())
}

// runCycleMode dispatches the three ways a "cycle" invocation can run: a
// decoupled replay of an externally-produced candidates_json file, a
// single live cycle (--once), or the continuous cron loop.
func runCycleMode(ctx context.Context, sched *scheduler.Scheduler, ctrl *portfolio.Controller, cycleLog *log.Logger, once bool, candidatesPath, nightlyCron, cycleCron, weeklyCron string) {
	if candidatesPath != "" {
		results, err := loadCandidatesJSON(candidatesPath)
		if err != nil {
			cycleLog.Fatalf("failed to load candidates file: %v", err)
		}
		if _, err := runCycleFromResults(ctx, cycleLog, ctrl, results); err != nil {
			os.Exit(1)
		}
		return
	}

	if once {
		if err := sched.RunCycleJobs(ctx); err != nil {
			cycleLog.Fatalf("cycle run failed: %v", err)
		}
		return
	}

	if err := sched.StartCron(ctx, nightlyCron, cycleCron, weeklyCron); err != nil {
		cycleLog.Fatalf("failed to start cron: %v", err)
	}
	<-ctx.Done()
	sched.StopCron()
}

// runCycleFromResults brackets a one-shot cycle (outside the scheduler's
// own job loop) with the same "starting"/"complete" markers
// ParseRecentCycles expects.
func runCycleFromResults(ctx context.Context, cycleLog *log.Logger, ctrl *portfolio.Controller, results tsignal.TriggerResults) (portfolio.CycleResult, error) {
	cycleLog.Println("starting trading cycle")
	res, err := ctrl.ProcessCandidates(ctx, results)
	if err != nil {
		cycleLog.Printf("FAILED trading cycle: %v", err)
		return res, err
	}
	cycleLog.Printf("trading cycle complete: entry=%d, no_entry=%d, sold=%d", res.EntryCount, res.NoEntry, res.Sold)
	return res, nil
}

func runAnalytics(ctx context.Context, cfg *config.Config, store storage.Store, appLog *log.Logger) {
	exporter := benchmark.NewExporter(store, benchmark.NewCoinGeckoFetcher(""), cfg.Paths.LogDir, 1000.0, nil)
	snapshot, err := exporter.BuildSnapshot(ctx, 0)
	if err != nil {
		appLog.Fatalf("failed to build benchmark snapshot: %v", err)
	}

	fmt.Printf("algorithm_return_pct=%.2f btc_return_pct=%.2f alpha_pct=%.2f total_trades=%d win_rate=%.1f open_positions=%d\n",
		snapshot.Summary.AlgorithmReturnPct, snapshot.Summary.BTCReturnPct, snapshot.Summary.AlphaPct,
		snapshot.Summary.TotalTrades, snapshot.Summary.WinRate, snapshot.Summary.OpenPositions)

	if cfg.Paths.BenchmarkOutputPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.BenchmarkOutputPath), 0o755); err != nil {
		appLog.Printf("warning: failed to create benchmark output dir: %v", err)
		return
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		appLog.Printf("warning: failed to encode benchmark snapshot: %v", err)
		return
	}
	if err := os.WriteFile(cfg.Paths.BenchmarkOutputPath, data, 0o644); err != nil {
		appLog.Printf("warning: failed to write benchmark snapshot: %v", err)
	}
}

// runBacktest replays a directory of previously-captured candidates_json
// files, in filename order, against the live store/controller — a
// historical sequence replay rather than a simulated exchange, since the
// Phase-1 JSON contract is the same document whether it was produced a
// moment ago or months ago.
func runBacktest(ctx context.Context, ctrl *portfolio.Controller, cycleLog *log.Logger, dir string) {
	if dir == "" {
		cycleLog.Fatalf("backtest mode requires --backtest-dir")
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		cycleLog.Fatalf("failed to list backtest directory: %v", err)
	}
	sort.Strings(files)

	var totalEntries, totalNoEntry, totalSold int
	for _, f := range files {
		results, err := loadCandidatesJSON(f)
		if err != nil {
			cycleLog.Printf("skipping %s: %v", f, err)
			continue
		}
		res, err := runCycleFromResults(ctx, cycleLog, ctrl, results)
		if err != nil {
			cycleLog.Printf("backtest cycle failed for %s: %v", f, err)
			continue
		}
		totalEntries += res.EntryCount
		totalNoEntry += res.NoEntry
		totalSold += res.Sold
	}
	fmt.Printf("backtest complete: files=%d entry=%d no_entry=%d sold=%d\n", len(files), totalEntries, totalNoEntry, totalSold)
}

func startDashboard(ctx context.Context, addr, dbURL string, appLog *log.Logger) {
	broadcaster := dashboard.NewBroadcaster(appLog)
	go broadcaster.Run()

	listener := dashboard.NewEventListener(dbURL, broadcaster, appLog)
	listener.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", dashboard.UpgradeHandler(broadcaster, appLog))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Printf("dashboard server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		listener.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
