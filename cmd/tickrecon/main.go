package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quantops/tickrecon/params"
	"github.com/quantops/tickrecon/pkg/batch"
	"github.com/quantops/tickrecon/pkg/feed"
	"github.com/quantops/tickrecon/pkg/storage"
	"github.com/quantops/tickrecon/pkg/util"
)

func main() {
	var (
		configPath   = flag.String("config", "", "yaml config file (optional)")
		date         = flag.String("date", "", "single day YYYYMMDD")
		start        = flag.String("start", "", "range start YYYYMMDD (inclusive)")
		end          = flag.String("end", "", "range end YYYYMMDD (inclusive)")
		exchange     = flag.String("exchange", "sh", "exchange session profile")
		input        = flag.String("input", "", "feed directory (one <day>.csv per day)")
		storePath    = flag.String("store", "", "result store path")
		workers      = flag.Int("workers", 0, "parallel securities (default: config)")
		onError      = flag.String("on-error", "", "security failure policy: abort|skip")
		skipExisting = flag.Bool("skip-existing", false, "skip days already in the store")
	)
	flag.Parse()

	cfg, err := params.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *input != "" {
		cfg.Paths.Input = *input
	}
	if *storePath != "" {
		cfg.Paths.Store = *storePath
	}
	if *workers > 0 {
		cfg.Batch.Workers = *workers
	}
	if *onError != "" {
		cfg.Batch.OnError = *onError
	}
	if *skipExisting {
		cfg.Batch.SkipExisting = true
	}

	days, err := expandDays(*date, *start, *end)
	if err != nil {
		log.Fatalf("dates: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Paths.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	session, err := cfg.Session(*exchange)
	if err != nil {
		sugar.Fatalw("bad_exchange", "err", err)
	}
	policy, err := batch.ParseErrorPolicy(cfg.Batch.OnError)
	if err != nil {
		sugar.Fatalw("bad_error_policy", "err", err)
	}

	store, err := storage.Open(cfg.Paths.Store)
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	runner := batch.NewRunner(session, sugar)
	runner.Workers = cfg.Batch.Workers
	runner.Policy = policy
	runner.Observer = func(securityID string, completed, total int) {
		if completed%100 == 0 || completed == total {
			sugar.Infow("progress", "security", securityID, "completed", completed, "total", total)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("batch_starting",
		"days", len(days), "exchange", *exchange,
		"input", cfg.Paths.Input, "store", cfg.Paths.Store,
		"workers", cfg.Batch.Workers, "on_error", cfg.Batch.OnError)

	var failedDays []string
	for _, day := range days {
		if ctx.Err() != nil {
			sugar.Warnw("batch_interrupted", "remaining_from", day)
			break
		}
		if err := runDay(ctx, day, cfg, runner, store, sugar); err != nil {
			sugar.Errorw("day_failed", "day", day, "err", err)
			failedDays = append(failedDays, day)
		}
	}

	if len(failedDays) > 0 {
		sugar.Errorw("batch_finished_with_failures", "failed_days", failedDays)
		os.Exit(1)
	}
	sugar.Infow("batch_finished", "days", len(days))
}

// runDay loads, reconstructs and commits one trading day. Nothing is
// written unless the whole day succeeds.
func runDay(ctx context.Context, day string, cfg params.Config, runner *batch.Runner, store *storage.Store, sugar *zap.SugaredLogger) error {
	if cfg.Batch.SkipExisting {
		ok, err := store.HasDay(day)
		if err != nil {
			return fmt.Errorf("check existing: %w", err)
		}
		if ok {
			sugar.Infow("day_skipped_existing", "day", day)
			return nil
		}
	}

	feedPath := filepath.Join(cfg.Paths.Input, day+".csv")
	if _, err := os.Stat(feedPath); err != nil {
		return fmt.Errorf("feed file: %w", err)
	}

	events, err := feed.LoadDay(feedPath)
	if err != nil {
		return err
	}

	res, err := runner.RunDay(ctx, day, events)
	if err != nil {
		return err
	}
	if err := store.SaveDay(res); err != nil {
		return err
	}
	return nil
}

// expandDays turns -date or -start/-end into a validated YYYYMMDD list.
func expandDays(date, start, end string) ([]string, error) {
	const layout = "20060102"

	if date != "" {
		if start != "" || end != "" {
			return nil, fmt.Errorf("use either -date or -start/-end, not both")
		}
		if _, err := time.Parse(layout, date); err != nil {
			return nil, fmt.Errorf("bad -date %q: %w", date, err)
		}
		return []string{date}, nil
	}

	if start == "" || end == "" {
		return nil, fmt.Errorf("need -date, or both -start and -end")
	}
	from, err := time.Parse(layout, start)
	if err != nil {
		return nil, fmt.Errorf("bad -start %q: %w", start, err)
	}
	to, err := time.Parse(layout, end)
	if err != nil {
		return nil, fmt.Errorf("bad -end %q: %w", end, err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("-end %s precedes -start %s", end, start)
	}

	var days []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(layout))
	}
	return days, nil
}
