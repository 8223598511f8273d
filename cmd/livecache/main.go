package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gxo-labs/livecache"
	"github.com/gxo-labs/livecache/internal/config"
	"github.com/gxo-labs/livecache/internal/events"
	"github.com/gxo-labs/livecache/internal/logger"
	"github.com/gxo-labs/livecache/internal/metrics"
	"github.com/gxo-labs/livecache/internal/tracing"
	v1 "github.com/gxo-labs/livecache/pkg/livecache/v1"
	cs "github.com/gxo-labs/livecache/pkg/livecache/v1/changeset"
	lcerrors "github.com/gxo-labs/livecache/pkg/livecache/v1/errors"
	lclog "github.com/gxo-labs/livecache/pkg/livecache/v1/log"
	"github.com/gxo-labs/livecache/pkg/livecache/v1/stream"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitUsageError      = 2
	ExitSigIntBase      = 128
	ExitSigInt          = ExitSigIntBase + int(syscall.SIGINT)
	DefaultEventBusSize = 256
	shutdownGracePeriod = 5 * time.Second
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}
	switch os.Args[1] {
	case "validate":
		os.Exit(runValidateCommand(os.Args[2:]))
	case "replay":
		os.Exit(runReplayCommand(os.Args[2:], os.Stdout))
	case "--version", "-version", "version":
		printVersion()
		os.Exit(ExitSuccess)
	default:
		printUsage()
		os.Exit(ExitUsageError)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <validate|replay|version> [flags...]\n\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "  validate  Validate a cache configuration file.")
	fmt.Fprintln(os.Stderr, "  replay    Replay a mutation script through a cache and print change-sets.")
}

func printVersion() {
	fmt.Printf("livecache version %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", buildDate)
	fmt.Printf("go version: %s\n", runtime.Version())
	fmt.Printf("os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runValidateCommand(args []string) int {
	validateFlags := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := validateFlags.String("config", "", "Path to the cache configuration YAML file to validate (required)")
	logLevel := validateFlags.String("log-level", config.DefaultLogLevel, "Log level for validation output (debug, info, warn, error)")

	validateFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s validate -config <path> [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Validates the structure and schema compatibility of a cache configuration.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		validateFlags.PrintDefaults()
	}

	if err := validateFlags.Parse(args); err != nil {
		return ExitUsageError
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -config flag is required for validation")
		validateFlags.Usage()
		return ExitUsageError
	}

	log := logger.NewLogger(*logLevel, config.DefaultLogFormat, os.Stderr)
	log.Infof("Validating cache configuration: %s", *configPath)

	if _, err := config.LoadCacheConfigFromFile(*configPath); err != nil {
		logConfigError(log, err)
		return ExitFailure
	}

	log.Infof("Configuration validation successful: %s", *configPath)
	return ExitSuccess
}

func logConfigError(log lclog.Logger, err error) {
	var validationErr *lcerrors.ValidationError
	var configErr *lcerrors.ConfigError
	if errors.As(err, &validationErr) {
		log.Errorf("Configuration validation failed:\n%s", validationErr.Error())
	} else if errors.As(err, &configErr) {
		log.Errorf("Configuration error:\n%s", configErr.Error())
	} else {
		log.Errorf("Failed to load or validate configuration: %v", err)
	}
}

// replayOptions carries the parsed replay flags.
type replayOptions struct {
	configPath string
	scriptPath string
	filter     string
	logLevel   string
	logFormat  string
}

func runReplayCommand(args []string, out io.Writer) int {
	replayFlags := flag.NewFlagSet("replay", flag.ContinueOnError)
	var opts replayOptions
	replayFlags.StringVar(&opts.configPath, "config", "", "Path to the cache configuration YAML file (required)")
	replayFlags.StringVar(&opts.scriptPath, "script", "", "Path to the mutation script YAML file (required)")
	replayFlags.StringVar(&opts.filter, "filter", "", "Only print changes for records matching field=value")
	replayFlags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to the configuration's")
	replayFlags.StringVar(&opts.logFormat, "log-format", "", "Log format (text, json); defaults to the configuration's")

	replayFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s replay -config <path> -script <path> [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Replays a mutation script through a cache and prints every delivered change-set as a JSON line.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		replayFlags.PrintDefaults()
	}

	if err := replayFlags.Parse(args); err != nil {
		return ExitUsageError
	}
	if opts.configPath == "" || opts.scriptPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -config and -script flags are required")
		replayFlags.Usage()
		return ExitUsageError
	}
	if opts.logFormat != "" && opts.logFormat != "text" && opts.logFormat != "json" {
		fmt.Fprintln(os.Stderr, "Error: -log-format must be 'text' or 'json'")
		return ExitUsageError
	}

	cfg, err := config.LoadCacheConfigFromFile(opts.configPath)
	if err != nil {
		logConfigError(logger.NewLogger(config.DefaultLogLevel, config.DefaultLogFormat, os.Stderr), err)
		return ExitFailure
	}
	if opts.logLevel == "" {
		opts.logLevel = cfg.GetLogLevel()
	}
	if opts.logFormat == "" {
		opts.logFormat = cfg.GetLogFormat()
	}
	log := logger.NewLogger(opts.logLevel, opts.logFormat, os.Stderr).With("livecache_version", version)

	script, err := loadScript(opts.scriptPath)
	if err != nil {
		logConfigError(log, err)
		return ExitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = replay(ctx, log, cfg, script, opts.filter, out)
	switch {
	case err == nil:
		log.Infof("Replay completed successfully.")
		return ExitSuccess
	case errors.Is(err, context.Canceled):
		log.Warnf("Replay interrupted by signal.")
		return ExitSigInt
	default:
		log.Errorf("Replay failed: %v", err)
		return ExitFailure
	}
}

// replay builds the cache from cfg, subscribes to it and applies every batch
// of script, writing each delivered change-set to out.
func replay(ctx context.Context, log lclog.Logger, cfg *config.CacheConfig, script *Script, filterExpr string, out io.Writer) error {
	eventBus := events.NewChannelEventBus(DefaultEventBusSize, log)
	metricsProvider := metrics.NewPrometheusRegistryProvider()
	collectors, err := metrics.NewCacheCollectors(metricsProvider.Registry())
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	tracerProvider, err := tracing.NewProviderFromEnv(ctx, log)
	if err != nil {
		log.Warnf("Failed to initialize tracing from environment: %v. Using NoOp tracer.", err)
		tracerProvider = tracing.NewNoOpProvider()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Error shutting down tracer provider: %v", err)
		}
	}()

	var listenerWG sync.WaitGroup
	listener := events.NewMetricsEventListener(eventBus, collectors, log)
	listenerWG.Add(1)
	go func() {
		defer listenerWG.Done()
		listener.Start(context.Background())
	}()

	key := keySelector(script.KeyField)
	c, err := livecache.New(key,
		v1.WithConfig(cfg),
		v1.WithLogger(log),
		v1.WithEventBus(eventBus),
		v1.WithTracerProvider(tracerProvider),
	)
	if err != nil {
		eventBus.Close()
		listenerWG.Wait()
		return err
	}

	var sub stream.Stream[cs.ChangeSet[string, Record]]
	if filterExpr != "" {
		predicate, ferr := fieldFilter(filterExpr)
		if ferr != nil {
			c.Dispose()
			eventBus.Close()
			listenerWG.Wait()
			return ferr
		}
		sub, err = c.ConnectFiltered(predicate, v1.ParallelisationOptions{})
	} else {
		sub, err = c.Connect()
	}
	if err != nil {
		c.Dispose()
		eventBus.Close()
		listenerWG.Wait()
		return err
	}

	printed := make(chan error, 1)
	go func() {
		printed <- printChanges(ctx, sub, out)
	}()

	var writeErr error
	for i, batch := range script.Batches {
		if ctx.Err() != nil {
			writeErr = ctx.Err()
			break
		}
		if err := c.Edit(ctx, mutations(batch, key)...); err != nil {
			writeErr = fmt.Errorf("batch %d: %w", i, err)
			break
		}
	}
	log.Infof("Applied %d batch(es); cache '%s' holds %d record(s).", len(script.Batches), c.Name(), c.Count())

	c.Dispose()
	printErr := <-printed
	eventBus.Close()
	listenerWG.Wait()
	logMetricsSummary(log, metricsProvider.Registry())

	if writeErr != nil {
		return writeErr
	}
	return printErr
}

// changeJSON is the wire form of one printed change.
type changeJSON struct {
	Reason   string      `json:"reason"`
	Key      string      `json:"key"`
	Current  Record      `json:"current"`
	Previous interface{} `json:"previous,omitempty"`
}

func printChanges(ctx context.Context, sub stream.Stream[cs.ChangeSet[string, Record]], out io.Writer) error {
	enc := json.NewEncoder(out)
	return sub.Observe(ctx, func(changes cs.ChangeSet[string, Record]) error {
		line := make([]changeJSON, 0, len(changes))
		for _, c := range changes {
			cj := changeJSON{Reason: c.Reason.String(), Key: c.Key, Current: c.Current}
			if prev, ok := c.Previous.Get(); ok && c.Reason == cs.Update {
				cj.Previous = prev
			}
			line = append(line, cj)
		}
		return enc.Encode(line)
	})
}

func logMetricsSummary(log lclog.Logger, reg prometheus.Gatherer) {
	families, err := reg.Gather()
	if err != nil {
		log.Warnf("Failed to gather metrics: %v", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			default:
				continue
			}
			labels := make([]interface{}, 0, 2*len(m.GetLabel())+4)
			labels = append(labels, "metric", mf.GetName(), "value", value)
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName(), lp.GetValue())
			}
			log.Log(slog.LevelInfo, "Metric", labels...)
		}
	}
}
