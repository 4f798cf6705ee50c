package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/namihq/stash/internal/config"
	"github.com/namihq/stash/internal/log"
	"github.com/namihq/stash/pkg/stash"
	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: stashctl <command> [args]

Commands:
  inspect        summarize the namespace's disk log (records per kind, live vs expired)
  compact        drop expired records from the disk log
  delete <key>   drop every record for one key from the disk log
  purge          truncate the disk log to empty
  watch          run the maintenance loop against the namespace; serves /metrics
                 on STASH_METRICS_ADDR when set

Configuration comes from STASH_* environment variables (see internal/config).
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	diskCfg := stash.DiskLogConfig{
		AppendRetries: cfg.Maintenance.AppendRetries,
		RetryDelay:    cfg.Maintenance.AppendRetryDelay,
	}

	switch os.Args[1] {
	case "inspect":
		err = runInspect(cfg, logger, diskCfg)
	case "compact":
		err = runCompact(cfg, logger, diskCfg)
	case "delete":
		if len(os.Args) < 3 {
			usage()
		}
		err = runDelete(cfg, logger, diskCfg, os.Args[2])
	case "purge":
		err = runPurge(cfg, logger, diskCfg)
	case "watch":
		err = runWatch(cfg, logger, diskCfg)
	default:
		usage()
	}

	if err != nil {
		logger.Fatalw("Command failed", "command", os.Args[1], "error", err)
	}
}

func openLog(cfg *config.Config, logger *zap.SugaredLogger, diskCfg stash.DiskLogConfig) (*stash.DiskLog, error) {
	return stash.NewDiskLog(cfg.LogPath(), logger, nil, diskCfg)
}

func runInspect(cfg *config.Config, logger *zap.SugaredLogger, diskCfg stash.DiskLogConfig) error {
	dlog, err := openLog(cfg, logger, diskCfg)
	if err != nil {
		return err
	}

	snap, err := dlog.Replay(time.Now())
	if err != nil {
		return err
	}

	info, err := os.Stat(dlog.Path())
	if err != nil {
		return err
	}

	fmt.Printf("namespace: %s\n", cfg.Namespace)
	fmt.Printf("log file:  %s (%d bytes)\n", dlog.Path(), info.Size())
	fmt.Printf("live records by kind:\n")
	fmt.Printf("  date:    %d\n", len(snap.Dates))
	fmt.Printf("  int:     %d\n", len(snap.Ints))
	fmt.Printf("  string:  %d\n", len(snap.Strings))
	fmt.Printf("  uuid:    %d\n", len(snap.UUIDs))
	fmt.Printf("  model:   %d\n", len(snap.Models))
	fmt.Printf("  payload: %d\n", len(snap.Payloads))
	return nil
}

func runCompact(cfg *config.Config, logger *zap.SugaredLogger, diskCfg stash.DiskLogConfig) error {
	dlog, err := openLog(cfg, logger, diskCfg)
	if err != nil {
		return err
	}
	if err := dlog.Compact(time.Now()); err != nil {
		return err
	}
	logger.Infow("Compacted disk log", "path", dlog.Path())
	return nil
}

func runDelete(cfg *config.Config, logger *zap.SugaredLogger, diskCfg stash.DiskLogConfig, key string) error {
	dlog, err := openLog(cfg, logger, diskCfg)
	if err != nil {
		return err
	}
	if err := dlog.DeleteByKey(key); err != nil {
		return err
	}
	logger.Infow("Deleted key from disk log", "path", dlog.Path(), "key", key)
	return nil
}

func runPurge(cfg *config.Config, logger *zap.SugaredLogger, diskCfg stash.DiskLogConfig) error {
	dlog, err := openLog(cfg, logger, diskCfg)
	if err != nil {
		return err
	}
	if err := dlog.Clear(); err != nil {
		return err
	}
	logger.Infow("Purged disk log", "path", dlog.Path())
	return nil
}

func runWatch(cfg *config.Config, logger *zap.SugaredLogger, diskCfg stash.DiskLogConfig) error {
	opts := []stash.Option{
		stash.WithLogger(logger),
		stash.WithRootDir(cfg.Dir),
		stash.WithFlushInterval(cfg.Maintenance.FlushInterval),
		stash.WithDiskLogConfig(diskCfg),
	}

	if cfg.Metrics.Addr != "" {
		metrics, handler, err := stash.SetupMetrics("stashctl")
		if err != nil {
			return err
		}
		opts = append(opts, stash.WithMetrics(metrics))

		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		go func() {
			logger.Infow("Serving metrics", "addr", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Warnw("Metrics server stopped", "error", err)
			}
		}()
	}

	cache := stash.New(opts...)
	if err := cache.Initialize(cfg.Namespace); err != nil {
		return err
	}
	defer cache.Close()

	logger.Infow("Watching namespace",
		"namespace", cfg.Namespace,
		"flush_interval", cfg.Maintenance.FlushInterval,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Infow("Shutting down")
	return nil
}
