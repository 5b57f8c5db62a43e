package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Siddhant-K-code/textembed/pkg/config"
	"github.com/Siddhant-K-code/textembed/pkg/engine"
	"github.com/Siddhant-K-code/textembed/pkg/executor"
	"github.com/Siddhant-K-code/textembed/pkg/metrics"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start TextEmbed as an MCP server",
	Long: `Starts TextEmbed as a Model Context Protocol (MCP) server, exposing the
batching engines to AI assistants like Claude, Amp, and Cursor.

Transports:
  stdio (default) - For local desktop apps (Claude Desktop, Cursor)
  http            - For remote/cloud deployments (hosted MCP server)

Tools exposed:
  embed_text   - Embed one or more texts with a served model
  list_models  - List the served models and their settings

Example:
  # Local stdio server
  textembed mcp --model ./models/all-MiniLM-L6-v2

  # Remote HTTP server
  textembed mcp --transport http --port 8001 --config textembed.yaml

Configure in Claude Desktop (claude_desktop_config.json):
  {
    "mcpServers": {
      "textembed": {
        "command": "textembed",
        "args": ["mcp", "--model", "/path/to/model"]
      }
    }
  }`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	// Transport settings
	mcpCmd.Flags().String("transport", "stdio", "Transport type: stdio or http")
	mcpCmd.Flags().Int("port", 8001, "HTTP server port (for http transport)")
	mcpCmd.Flags().String("host", "0.0.0.0", "HTTP server host (for http transport)")

	// Single-model settings
	mcpCmd.Flags().StringP("model", "m", "", "model directory (model.onnx + tokenizer.json)")
	mcpCmd.Flags().String("served-model-name", "", "name clients address the model by")
	mcpCmd.Flags().IntP("workers", "w", 0, "batch workers per model (0 = number of CPUs)")
	mcpCmd.Flags().IntP("batch-size", "b", 32, "max request items per inference batch")
	mcpCmd.Flags().String("embedding-dtype", "float32", "embedding dtype: float32, float16, or binary")
}

// mcpApp holds the MCP server's engine array.
type mcpApp struct {
	array *engine.Array
}

func runMCP(cmd *cobra.Command, args []string) error {
	transport, _ := cmd.Flags().GetString("transport")
	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
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

	// The stdio transport owns stdout, so logs stay on stderr.
	log := newLogger(cfg.Logging.Level, cfg.Logging.Pretty)

	ctx := context.Background()
	array, err := engine.FromArgs(cfg.EngineArgs(), engine.Options{
		Logger:  log,
		Metrics: metrics.New(),
	})
	if err != nil {
		return err
	}
	if err := array.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start engines: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = array.StopAll(stopCtx)
	}()

	app := &mcpApp{array: array}

	// Create MCP server with capabilities
	s := server.NewMCPServer(
		"TextEmbed",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	app.registerTools(s)

	// Start server based on transport
	switch transport {
	case "stdio":
		if err := server.ServeStdio(s); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}

	case "http":
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Info().Str("addr", addr).Msg("MCP server listening")

		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok","server":"textembed-mcp"}`))
		})

		// MCP endpoint with stateful sessions
		mcpHandler := server.NewStreamableHTTPServer(s, server.WithStateful(true))
		mux.Handle("/mcp", mcpHandler)

		httpServer := &http.Server{
			Addr:    addr,
			Handler: mux,
		}
		if err := httpServer.ListenAndServe(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}

	default:
		return fmt.Errorf("unsupported transport: %s (use 'stdio' or 'http')", transport)
	}

	return nil
}

func (a *mcpApp) registerTools(s *server.MCPServer) {
	embedTool := mcp.NewTool("embed_text",
		mcp.WithDescription(`Embed one or more texts into fixed-size numeric vectors.

Requests are coalesced with other concurrent calls into inference batches,
so parallel tool calls are cheap.

INPUT: Array of texts plus an optional served model name.
OUTPUT: One vector per text, in input order, with per-text usage counts.`),
		mcp.WithArray("texts",
			mcp.Required(),
			mcp.Description("Array of strings to embed."),
		),
		mcp.WithString("model",
			mcp.Description("Served model name. Optional when a single model is loaded."),
		),
	)
	s.AddTool(embedTool, a.handleEmbedText)

	listTool := mcp.NewTool("list_models",
		mcp.WithDescription("List the served embedding models with their worker count, batch size, dtype and dimension."),
	)
	s.AddTool(listTool, a.handleListModels)
}

func (a *mcpApp) handleEmbedText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	textsRaw, ok := args["texts"]
	if !ok {
		return mcp.NewToolResultError("texts parameter is required"), nil
	}

	// Convert to JSON and back to parse properly
	textsJSON, err := json.Marshal(textsRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid texts format: %v", err)), nil
	}
	var texts []string
	if err := json.Unmarshal(textsJSON, &texts); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse texts: %v", err)), nil
	}
	if len(texts) == 0 {
		return mcp.NewToolResultError("texts array is empty"), nil
	}

	model, _ := args["model"].(string)
	eng, err := a.array.Lookup(model)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := eng.Embed(ctx, executor.TextInputs(texts))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("embedding failed: %v", err)), nil
	}

	out := map[string]any{
		"model":      eng.Args().ServedModelName,
		"embeddings": result.Embeddings,
		"usage":      result.Usage,
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (a *mcpApp) handleListModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	models := make([]map[string]any, 0, len(a.array.Engines()))
	for _, eng := range a.array.Engines() {
		args := eng.Args()
		models = append(models, map[string]any{
			"name":       args.ServedModelName,
			"workers":    args.Workers,
			"batch_size": args.BatchSize,
			"dtype":      string(args.EmbeddingDtype),
			"dimension":  eng.Dimension(),
		})
	}
	payload, err := json.Marshal(map[string]any{"models": models})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}
