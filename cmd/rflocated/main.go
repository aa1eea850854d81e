package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"nuha.dev/rflocate/internal/aggregator"
	"nuha.dev/rflocate/internal/collector"
	"nuha.dev/rflocate/internal/config"
	"nuha.dev/rflocate/internal/events"
	"nuha.dev/rflocate/internal/handoff"
	"nuha.dev/rflocate/internal/metrics"
	"nuha.dev/rflocate/internal/natspub"
	"nuha.dev/rflocate/internal/observation"
	"nuha.dev/rflocate/internal/store"
	"nuha.dev/rflocate/internal/store/impl/logstore"
	"nuha.dev/rflocate/internal/store/impl/pgstore"
	"nuha.dev/rflocate/internal/sublist"
	"nuha.dev/rflocate/internal/web"
	"nuha.dev/rflocate/internal/webstream"
)

func main() {
	v := viper.New()
	var config_path string

	root := &cobra.Command{
		Use:          "rflocated",
		Short:        "Collects RF emitter scans and hands them to the aggregation stage",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, config_path)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	flags := root.Flags()
	flags.StringVar(&config_path, "config", "", "path to config file")
	flags.String("log-level", "info", "trace, debug, info, warn or error")
	flags.String("collector-addr", ":6000", "scanner tcp listen address")
	flags.String("api-addr", ":3333", "http api listen address")
	flags.Int("min-asu", observation.DefaultBounds.MinimumASU, "lowest accepted signal strength")
	flags.Int("max-asu", observation.DefaultBounds.MaximumASU, "highest accepted signal strength")
	flags.Bool("pg", false, "keep sightings in postgres")
	flags.String("pg-url", "", "postgres url")
	flags.Bool("nats", false, "publish cycles to nats")
	flags.Bool("logstore", false, "log every cycle to stdout")
	for key, flag := range map[string]string{
		"log_level":             "log-level",
		"collector.listen_addr": "collector-addr",
		"api.listen_addr":       "api-addr",
		"bounds.minimum_asu":    "min-asu",
		"bounds.maximum_asu":    "max-asu",
		"postgres.enabled":      "pg",
		"postgres.url":          "pg-url",
		"nats.enabled":          "nats",
		"logstore.enabled":      "logstore",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log.DefaultLogger.Level = log.ParseLevel(cfg.LogLevel)
	logger := log.DefaultLogger
	logger.Context = log.NewContext(nil).Str("module", "main").Value()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus, err := events.New(cfg.Node)
	if err != nil {
		return err
	}
	factory, err := observation.NewFactory(cfg.Bounds, nil)
	if err != nil {
		return err
	}
	queue := handoff.NewQueue(cfg.Handoff.QueueSize)
	ingester := collector.NewIngester(factory, queue, m, bus)

	subs := sublist.NewSublistMap()
	sinks := []aggregator.Sink{subs}
	var sightings store.SightingStore

	if cfg.Postgres.Enabled {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		st := pgstore.NewStore(pool, cfg.Postgres.Table)
		if err = st.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, st)
		sightings = st
	}
	if cfg.NATS.Enabled {
		p, err := natspub.Connect(&cfg.NATS.Config)
		if err != nil {
			return err
		}
		defer p.Close()
		sinks = append(sinks, p)
	}
	if cfg.LogStore.Enabled {
		sinks = append(sinks, logstore.NewStore(os.Stdout))
	}

	agg := aggregator.New(queue, &cfg.Aggregator, m, bus, sinks...)
	agg_done := make(chan error, 1)
	go func() { agg_done <- agg.Run(context.Background()) }()

	srv := collector.NewServer(ingester, &cfg.Collector)
	srv_done := make(chan error, 1)
	go func() { srv_done <- srv.Run() }()

	stream := webstream.NewWebstream(subs, cfg.Stream)
	api := web.NewApi(web.Deps{
		Ingester:   ingester,
		Sightings:  sightings,
		Queue:      queue,
		Bus:        bus,
		Collector:  srv,
		Aggregator: agg,
		Stream:     stream,
		Gatherer:   reg,
	}, &cfg.API)
	api_done := make(chan error, 1)
	go func() { api_done <- api.Run() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err = <-srv_done:
		logger.Error().Err(err).Msg("collector stopped")
	case err = <-api_done:
		logger.Error().Err(err).Msg("api stopped")
	}

	srv.Close()
	if serr := api.Shutdown(5 * time.Second); serr != nil {
		logger.Warn().Err(serr).Msg("api shutdown")
	}
	queue.Close()
	if aerr := <-agg_done; aerr != nil {
		logger.Warn().Err(aerr).Msg("aggregator stopped")
	}
	logger.Info().Interface("events", bus.Counts()).Msg("stopped")
	return err
}
