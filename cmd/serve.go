package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Siddhant-K-code/textembed/pkg/api"
	"github.com/Siddhant-K-code/textembed/pkg/config"
	"github.com/Siddhant-K-code/textembed/pkg/engine"
	"github.com/Siddhant-K-code/textembed/pkg/metrics"
	"github.com/Siddhant-K-code/textembed/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the embedding inference server",
	Long: `Starts the HTTP server and one batching engine per configured model.

Models come either from the config file (models: list in textembed.yaml)
or from the --model flag for single-model deployments.

Example:
  textembed serve --model ./models/all-MiniLM-L6-v2 --port 8000
  textembed serve --config textembed.yaml

The server exposes:
  POST /v1/embedding  - Embedding endpoint (OpenAI compatible)
  GET  /v1/models     - Served model listing
  GET  /health        - Health check
  GET  /metrics       - Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server settings
	serveCmd.Flags().IntP("port", "p", 8000, "HTTP server port")
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")

	// Single-model settings
	serveCmd.Flags().StringP("model", "m", "", "model directory (model.onnx + tokenizer.json)")
	serveCmd.Flags().String("served-model-name", "", "name clients address the model by (defaults to the model id)")
	serveCmd.Flags().IntP("workers", "w", 0, "batch workers per model (0 = number of CPUs)")
	serveCmd.Flags().IntP("batch-size", "b", 32, "max request items per inference batch")
	serveCmd.Flags().String("embedding-dtype", "float32", "embedding dtype: float32, float16, or binary")

	// Auth settings
	serveCmd.Flags().String("api-key", "", "API key for request auth (or use TEXTEMBED_API_KEY)")

	// Bind to viper for config file support
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	// A --model flag overrides the config file model list.
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		servedName, _ := cmd.Flags().GetString("served-model-name")
		workers, _ := cmd.Flags().GetInt("workers")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		dtype, _ := cmd.Flags().GetString("embedding-dtype")
		cfg.Models = []config.ModelConfig{{
			Model:           model,
			ServedModelName: servedName,
			Workers:         workers,
			BatchSize:       batchSize,
			EmbeddingDtype:  dtype,
		}}
	}
	if len(cfg.Models) == 0 {
		return fmt.Errorf("no models configured (use --model or a models: list in textembed.yaml)")
	}

	if apiKey, _ := cmd.Flags().GetString("api-key"); apiKey != "" {
		cfg.Auth.APIKeys = append(cfg.Auth.APIKeys, apiKey)
	} else if env := os.Getenv("TEXTEMBED_API_KEY"); env != "" {
		cfg.Auth.APIKeys = append(cfg.Auth.APIKeys, env)
	}

	log := newLogger(cfg.Logging.Level, cfg.Logging.Pretty)

	ctx := context.Background()

	tracer, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		Exporter:    cfg.Telemetry.Tracing.Exporter,
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		SampleRate:  cfg.Telemetry.Tracing.SampleRate,
		ServiceName: "textembed",
		Insecure:    cfg.Telemetry.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() { _ = tracer.Shutdown(ctx) }()

	m := metrics.New()

	array, err := engine.FromArgs(cfg.EngineArgs(), engine.Options{
		Logger:     log,
		Metrics:    m,
		QueueBound: cfg.Server.QueueBound,
	})
	if err != nil {
		return err
	}

	log.Info().Int("models", len(cfg.Models)).Msg("loading models")
	if err := array.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start engines: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := array.StopAll(stopCtx); err != nil {
			log.Error().Err(err).Msg("stopping engines")
		}
	}()

	server := api.NewServer(array, api.Options{
		Metrics: m,
		Tracer:  tracer,
		Logger:  log,
		APIKeys: cfg.Auth.APIKeys,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
		close(done)
	}()

	names := make([]string, 0, len(cfg.Models))
	for _, e := range array.Engines() {
		names = append(names, e.Args().ServedModelName)
	}
	log.Info().
		Str("addr", addr).
		Strs("models", names).
		Bool("auth", len(cfg.Auth.APIKeys) > 0).
		Msg("server listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	log.Info().Msg("server stopped")
	return nil
}
