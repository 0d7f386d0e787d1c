package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/cache"
	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/data/gate"
	"github.com/sawpanic/tradegate/internal/engine"
	"github.com/sawpanic/tradegate/internal/exchange"
	httpiface "github.com/sawpanic/tradegate/internal/interfaces/http"
	"github.com/sawpanic/tradegate/internal/macro"
	"github.com/sawpanic/tradegate/internal/marketdata"
	"github.com/sawpanic/tradegate/internal/net/circuit"
	"github.com/sawpanic/tradegate/internal/params"
	"github.com/sawpanic/tradegate/internal/regime"
	"github.com/sawpanic/tradegate/internal/scheduler"
	"github.com/sawpanic/tradegate/internal/structure"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "tradegate",
		Short: "Risk-adjusted trade gate for crypto markets",
		Long:  "tradegate evaluates symbols against regime, structure, and macro conditions and emits auditable BUY/SELL/HOLD decisions.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override configured log level (trace|debug|info|warn|error)")

	root.AddCommand(scanCmd(), serveCmd(), healthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func scanCmd() *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single evaluation cycle and print the decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, app, err := buildApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Scheduler.SymbolTimeout*2)
			defer cancel()

			results := app.scheduler.RunCycle(ctx)
			enc := json.NewEncoder(os.Stdout)
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(results)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluation loop with the HTTP health/metrics/decisions surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, app, err := buildApp()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := httpiface.NewServer(cfg.HTTPAddr, app.breakers, app.store, app.metrics)

			errCh := make(chan error, 2)
			go func() { errCh <- app.scheduler.Run(ctx) }()
			go func() { errCh <- server.Run(ctx) }()

			err = <-errCh
			stop()
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("shutdown complete")
				return nil
			}
			return err
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Query a running instance's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			addr := cfg.HTTPAddr
			if strings.HasPrefix(addr, ":") {
				addr = "localhost" + addr
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + addr + "/health")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health endpoint returned %s", resp.Status)
			}
			return nil
		},
	}
}

// app holds the wired components shared by the commands.
type app struct {
	scheduler *scheduler.Scheduler
	store     *scheduler.Store
	breakers  *circuit.Manager
	metrics   *telemetry.Metrics
}

func buildApp() (config.Config, *app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	initLogging(cfg.LogLevel)

	metrics := telemetry.New()

	breakers := circuit.NewManager(cfg.Breakers)
	breakers.OnTransition(func(name string, from, to circuit.State) {
		metrics.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
	})

	var shared cache.ValueStore
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		shared = cache.NewRedisStore(client, cfg.Redis.Prefix)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("shared signal cache enabled")
	}

	rest := exchange.NewRESTClient(cfg.Exchange)

	var optimizer *params.Optimizer
	if cfg.ParamsFile != "" {
		optimizer, err = params.Load(cfg.ParamsFile)
	} else {
		optimizer, err = params.NewOptimizer(params.DefaultTable())
	}
	if err != nil {
		return config.Config{}, nil, err
	}

	sources := macro.NewHTTPSources(cfg.MacroSources, rest).Build()
	aggregator := macro.New(cfg.Macro, sources, breakers, shared, metrics)

	store := scheduler.NewStore(512)
	sched := scheduler.New(
		cfg.Scheduler,
		gate.New(rest, breakers, cfg.Gate, metrics),
		marketdata.New(rest, breakers, cfg.MarketData, metrics),
		regime.New(cfg.Regime),
		structure.New(cfg.Structure),
		aggregator,
		optimizer,
		engine.New(metrics),
		store,
		metrics,
	)

	return cfg, &app{scheduler: sched, store: store, breakers: breakers, metrics: metrics}, nil
}

func initLogging(level string) {
	if logLevel != "" {
		level = logLevel
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
