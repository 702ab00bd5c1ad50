package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/haxdb/rtc-master/internal/clock"
	"github.com/haxdb/rtc-master/internal/idalloc"
	"github.com/haxdb/rtc-master/internal/lockservice"
	"github.com/haxdb/rtc-master/internal/logstore"
	"github.com/haxdb/rtc-master/internal/logstore/disk"
	"github.com/haxdb/rtc-master/internal/logstore/memory"
	"github.com/haxdb/rtc-master/internal/rtc"
	"github.com/haxdb/rtc-master/internal/txm"
	"github.com/haxdb/rtc-master/internal/uuidv7"
	"github.com/haxdb/rtc-master/internal/wireserver"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("RTCD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "rtcd")

	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cfg := defaultRtcdConfig()

	cmd := &cobra.Command{
		Use:           "rtcd",
		Short:         "rtcd runs the master-side Remote Transaction Controller",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			bindConfig(&cfg)
			if cfg.ClusterName == "" {
				cfg.ClusterName = uuidv7.NewString()
			}

			logger := baseLogger
			if level, ok := pslog.ParseLevel(strings.TrimSpace(cfg.LogLevel)); ok {
				logger = logger.LogLevel(level)
			}

			logger.Info("rtcd.starting",
				"cluster", cfg.ClusterName,
				"store", cfg.Store,
				"listen", cfg.Listen,
			)

			telemetry, err := startTelemetry(ctx, cfg.ClusterName, cfg.MetricsListen, logger)
			if err != nil {
				return err
			}
			defer telemetry.shutdown(context.Background())

			dataSources, closeStore, err := buildDataSourceSet(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			facade := rtc.New(rtc.Config{
				ClusterName:     cfg.ClusterName,
				TxManager:       txm.NewInProcess(),
				LockService:     lockservice.New(),
				DataSources:     dataSources,
				IDAlloc:         idalloc.NewBatchAllocator(cfg.IDBatchSize),
				Clock:           clock.Real{},
				Logger:          logger,
				ReadLockTimeout: cfg.ReadLockTimeout,
				ReaperTick:      cfg.ReaperTick,
				IDBatchSize:     cfg.IDBatchSize,
			})

			server := wireserver.New(facade, logger)

			serveErr := make(chan error, 1)
			go func() {
				serveErr <- server.Serve(cfg.Listen)
			}()

			select {
			case <-ctx.Done():
				logger.Info("rtcd.shutting_down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				server.Shutdown(shutdownCtx)
				cancel()
				return nil
			case err := <-serveErr:
				return err
			}
		},
	}

	flags := cmd.Flags()
	flags.String("listen", cfg.Listen, "gRPC listen address")
	flags.String("metrics-listen", cfg.MetricsListen, "Prometheus metrics + healthz listen address (empty disables)")
	flags.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.String("cluster-name", cfg.ClusterName, "ha.cluster_name: this node's identity in metrics/resource attributes (a fresh id is generated if set to \"\")")
	flags.Duration("read-lock-timeout", cfg.ReadLockTimeout, "ha.read_lock_timeout_seconds: idle time after which the reaper rolls back a suspended session")
	flags.Uint64("id-batch-size", cfg.IDBatchSize, "master.id_batch_size: ids minted per allocator batch")
	flags.Duration("reaper-tick", cfg.ReaperTick, "master.reaper_tick_seconds: interval between idle-session sweeps")
	flags.String("store", cfg.Store, "log store backend: mem or disk")
	flags.String("disk-dir", cfg.DiskDir, "root directory for the disk log store backend")
	flags.StringSlice("resources", cfg.Resources, "resource names the log store pre-registers")

	bindFlag := func(name string) {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	for _, name := range []string{
		"listen", "metrics-listen", "log-level",
		"cluster-name", "read-lock-timeout", "id-batch-size", "reaper-tick",
		"store", "disk-dir", "resources",
	} {
		bindFlag(name)
	}
	viper.SetEnvPrefix("RTCD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return cmd
}

func bindConfig(cfg *rtcdConfig) {
	cfg.Listen = viper.GetString("listen")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.ClusterName = viper.GetString("cluster-name")
	cfg.ReadLockTimeout = viper.GetDuration("read-lock-timeout")
	cfg.IDBatchSize = uint64(viper.GetInt64("id-batch-size"))
	cfg.ReaperTick = viper.GetDuration("reaper-tick")
	cfg.Store = strings.ToLower(strings.TrimSpace(viper.GetString("store")))
	cfg.DiskDir = viper.GetString("disk-dir")
	if resources := viper.GetStringSlice("resources"); len(resources) > 0 {
		cfg.Resources = resources
	}
}

func buildDataSourceSet(cfg rtcdConfig) (logstore.DataSourceSet, func(), error) {
	switch cfg.Store {
	case "", "mem", "memory":
		return memory.NewSet(cfg.Resources...), func() {}, nil
	case "disk":
		if cfg.DiskDir == "" {
			return nil, nil, fmt.Errorf("rtcd: --disk-dir is required when --store=disk")
		}
		set, err := disk.NewSet(cfg.DiskDir, cfg.Resources...)
		if err != nil {
			return nil, nil, fmt.Errorf("rtcd: open disk log store: %w", err)
		}
		return set, func() { _ = set.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("rtcd: unknown --store %q (want mem or disk)", cfg.Store)
	}
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
