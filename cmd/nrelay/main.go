// Trace forwarding demo CLI
// Runs an instrumented sample workload and ships the traces to the ingest API
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/andrewh/nrelay/pkg/api"
	"github.com/andrewh/nrelay/pkg/bridge"
	"github.com/andrewh/nrelay/pkg/collect"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "nrelay",
		Short:        "Forward unit-of-work traces to a telemetry ingest API",
		SilenceUsage: true,
	}

	root.AddCommand(demoCmd())
	root.AddCommand(versionCmd())

	return root
}

// demoConfig is the optional YAML configuration for the demo command.
type demoConfig struct {
	Service   string `yaml:"service"`
	Hostname  string `yaml:"hostname"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	BatchSize int    `yaml:"batch_size"`
}

func loadDemoConfig(path string) (demoConfig, error) {
	var cfg demoConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// endpointFor resolves a region name or base URL override.
func endpointFor(region, override string) (api.Endpoint, error) {
	if override != "" {
		return api.CustomEndpoint(override), nil
	}
	switch region {
	case "", "us":
		return api.EndpointUS, nil
	case "eu":
		return api.EndpointEU, nil
	default:
		return api.Endpoint{}, fmt.Errorf("unknown region %q (want us or eu)", region)
	}
}

func demoCmd() *cobra.Command {
	var (
		configPath string
		apiKey     string
		region     string
		endpoint   string
		service    string
		batchSize  int
		stdout     bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a sample instrumented workload and forward its traces",
		Long: "Run a small nested workload instrumented with OpenTelemetry and forward\n" +
			"the resulting traces and logs. With --stdout the spans are also printed\n" +
			"locally, which works without an API key.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg demoConfig
			if configPath != "" {
				var err error
				if cfg, err = loadDemoConfig(configPath); err != nil {
					return err
				}
			}
			// Flags override the config file.
			if cmd.Flags().Changed("service") || cfg.Service == "" {
				cfg.Service = service
			}
			if cmd.Flags().Changed("region") || cfg.Region == "" {
				cfg.Region = region
			}
			if cmd.Flags().Changed("endpoint") || cfg.Endpoint == "" {
				cfg.Endpoint = endpoint
			}
			if cmd.Flags().Changed("batch-size") || cfg.BatchSize == 0 {
				cfg.BatchSize = batchSize
			}
			if cfg.Hostname == "" {
				cfg.Hostname, _ = os.Hostname()
			}
			if apiKey == "" {
				apiKey = os.Getenv("NEW_RELIC_API_KEY")
			}
			if apiKey == "" && !stdout {
				return fmt.Errorf("no API key: pass --api-key, set NEW_RELIC_API_KEY, or use --stdout")
			}
			return runDemo(cmd.Context(), cfg, apiKey, stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "ingest API key (or NEW_RELIC_API_KEY)")
	cmd.Flags().StringVar(&region, "region", "us", "ingest region (us or eu)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "base URL override for both endpoints")
	cmd.Flags().StringVar(&service, "service", "nrelay-demo", "service.name for all traces")
	cmd.Flags().IntVar(&batchSize, "batch-size", api.DefaultBatchSize, "buffered events per flush")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "also print spans to stdout")

	return cmd
}

func runDemo(ctx context.Context, cfg demoConfig, apiKey string, stdout bool) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ep, err := endpointFor(cfg.Region, cfg.Endpoint)
	if err != nil {
		return err
	}

	common := collect.Attributes{
		"service.name": collect.StringValue(cfg.Service),
	}
	if cfg.Hostname != "" {
		common.Set("hostname", collect.StringValue(cfg.Hostname))
	}

	fwd := api.NewForwarder(api.Config{
		APIKey:           apiKey,
		LogEndpoint:      ep,
		TraceEndpoint:    ep,
		BatchSize:        cfg.BatchSize,
		CommonAttributes: common,
		Logger:           logger,
	})
	agg := collect.NewAggregator(collect.Config{Sink: fwd.Enqueue})

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSpanProcessor(bridge.NewProcessor(agg, fwd)),
	}
	if stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("provider shutdown", zap.Error(err))
		}
	}()

	sampleWorkload(ctx, tp.Tracer("nrelay/demo"))
	logger.Info("workload finished, draining delivery")
	return nil
}

// sampleWorkload emits two nested traces resembling a request handler.
func sampleWorkload(ctx context.Context, tracer trace.Tracer) {
	for i := 0; i < 2; i++ {
		reqCtx, root := tracer.Start(ctx, "handle-request",
			trace.WithAttributes(attribute.Int("request.seq", i)),
		)

		userCtx, load := tracer.Start(reqCtx, "load-user")
		time.Sleep(20 * time.Millisecond)
		load.AddEvent("cache.miss", trace.WithAttributes(attribute.String("key", "user:42")))
		_, query := tracer.Start(userCtx, "query-db")
		time.Sleep(35 * time.Millisecond)
		query.End()
		load.End()

		_, render := tracer.Start(reqCtx, "render")
		time.Sleep(10 * time.Millisecond)
		if i == 1 {
			render.SetStatus(codes.Error, "template missing")
		}
		render.End()

		root.End()
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "nrelay %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}
