package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Siddhant-K-code/textembed/pkg/engine"
	"github.com/Siddhant-K-code/textembed/pkg/executor"
	vmath "github.com/Siddhant-K-code/textembed/pkg/math"
	"github.com/Siddhant-K-code/textembed/pkg/metrics"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark a model's batching throughput",
	Long: `Loads one model, fires concurrent embedding requests through the
batching dispatcher and reports throughput and latency percentiles.

Example:
  textembed bench --model ./models/all-MiniLM-L6-v2 --requests 500 --concurrency 32`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringP("model", "m", "", "model directory (model.onnx + tokenizer.json)")
	benchCmd.Flags().IntP("requests", "n", 200, "total requests to submit")
	benchCmd.Flags().IntP("concurrency", "c", 16, "concurrent submitters")
	benchCmd.Flags().IntP("workers", "w", 0, "batch workers (0 = number of CPUs)")
	benchCmd.Flags().IntP("batch-size", "b", 32, "max request items per inference batch")
	benchCmd.Flags().String("embedding-dtype", "float32", "embedding dtype: float32, float16, or binary")
	benchCmd.Flags().String("text", "The quick brown fox jumps over the lazy dog.", "text to embed")

	_ = benchCmd.MarkFlagRequired("model")
}

func runBench(cmd *cobra.Command, args []string) error {
	model, _ := cmd.Flags().GetString("model")
	requests, _ := cmd.Flags().GetInt("requests")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	workers, _ := cmd.Flags().GetInt("workers")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	dtypeStr, _ := cmd.Flags().GetString("embedding-dtype")
	text, _ := cmd.Flags().GetString("text")

	dtype, err := executor.ParseDtype(dtypeStr)
	if err != nil {
		return err
	}
	if requests < 1 || concurrency < 1 {
		return fmt.Errorf("requests and concurrency must be >= 1")
	}

	log := newLogger("warn", true)

	eng, err := engine.New(engine.Args{
		Model:          model,
		Workers:        workers,
		BatchSize:      batchSize,
		EmbeddingDtype: dtype,
	}, engine.Options{
		Logger:  log,
		Metrics: metrics.New(),
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	fmt.Fprintln(os.Stderr, "Loading model...")
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = eng.Stop(stopCtx)
	}()

	bar := progressbar.NewOptions64(
		int64(requests),
		progressbar.OptionSetDescription("Embedding"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("requests"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)

	inputs := executor.TextInputs([]string{text})
	latencies := make([]time.Duration, requests)
	var firstVec []float32
	var firstOnce sync.Once
	var failed int64
	var mu sync.Mutex

	jobs := make(chan int)
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				reqStart := time.Now()
				result, err := eng.Embed(ctx, inputs)
				elapsed := time.Since(reqStart)

				mu.Lock()
				latencies[i] = elapsed
				if err != nil {
					failed++
				}
				mu.Unlock()

				if err == nil && result.Embeddings[0].Dtype != executor.DtypeBinary {
					firstOnce.Do(func() {
						firstVec = result.Embeddings[0].Float32
					})
				}
				_ = bar.Add(1)
			}
		}()
	}
	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	total := time.Since(start)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pct := func(p float64) time.Duration {
		idx := int(p * float64(len(latencies)-1))
		return latencies[idx]
	}

	fmt.Printf("Requests:    %d (%d failed)\n", requests, failed)
	fmt.Printf("Concurrency: %d submitters, %d workers, batch size %d\n",
		concurrency, eng.Args().Workers, batchSize)
	fmt.Printf("Duration:    %s\n", total.Round(time.Millisecond))
	fmt.Printf("Throughput:  %.1f requests/s\n", float64(requests)/total.Seconds())
	fmt.Printf("Latency:     p50=%s p90=%s p99=%s max=%s\n",
		pct(0.50).Round(time.Microsecond),
		pct(0.90).Round(time.Microsecond),
		pct(0.99).Round(time.Microsecond),
		latencies[len(latencies)-1].Round(time.Microsecond))
	fmt.Printf("Dimension:   %d\n", eng.Dimension())

	// Identical inputs should embed identically; anything below 1.0 points
	// at a non-deterministic backend.
	if firstVec != nil {
		check, err := eng.Embed(ctx, inputs)
		if err == nil && check.Embeddings[0].Dtype != executor.DtypeBinary {
			fmt.Printf("Stability:   cosine=%.6f\n",
				vmath.CosineSimilarity(firstVec, check.Embeddings[0].Float32))
		}
	}

	return nil
}
