// Command latticebench drives a lattice through one forward/backward/reduce
// step using stub numerical callbacks, to exercise pool construction,
// barrier sequencing, and gradient reduction end to end.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"

	lattice "github.com/ashgrove/latticerun"
	"github.com/ashgrove/latticerun/internal/logging"
	"github.com/ashgrove/latticerun/internal/model"
	"github.com/ashgrove/latticerun/internal/worker"
)

func main() {
	var (
		layers    = flag.Int("layers", 8, "number of pipeline layers (L)")
		positions = flag.Int("positions", 12, "workers per layer (W)")
		actSize   = flag.String("activation-size", "4KB", "per-worker activation buffer size")
		gradSize  = flag.String("gradient-size", "4KB", "per-worker gradient slice size")
		reduction = flag.String("reduction", "AVERAGE", "AVERAGE, SUM, or CLIPPED_AVERAGE")
		verbose   = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	var actBytes, gradBytes datasize.ByteSize
	if err := actBytes.UnmarshalText([]byte(*actSize)); err != nil {
		log.Fatalf("invalid -activation-size %q: %v", *actSize, err)
	}
	if err := gradBytes.UnmarshalText([]byte(*gradSize)); err != nil {
		log.Fatalf("invalid -gradient-size %q: %v", *gradSize, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := *lattice.DefaultConfig()
	cfg.Layers = *layers
	cfg.PositionsPerLayer = *positions
	cfg.ActivationBytes = int(actBytes)
	cfg.GradientSliceBytes = int(gradBytes)
	switch *reduction {
	case "AVERAGE":
		cfg.ReductionPolicy = lattice.ReductionAverage
	case "SUM":
		cfg.ReductionPolicy = lattice.ReductionSum
	case "CLIPPED_AVERAGE":
		cfg.ReductionPolicy = lattice.ReductionClippedAverage
	default:
		log.Fatalf("unrecognized -reduction %q", *reduction)
	}

	callbacks := stubCallbacks()

	pool, err := lattice.Create(cfg, callbacks)
	if err != nil {
		logger.Error("failed to create pool", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("signal received, stopping pool")
		cancel()
	}()

	logger.Info("starting pool", "layers", cfg.Layers, "positions", cfg.PositionsPerLayer,
		"activation_bytes", cfg.ActivationBytes, "gradient_slice_bytes", cfg.GradientSliceBytes,
		"reduction", cfg.ReductionPolicy)

	if err := pool.Start(ctx); err != nil {
		logger.Error("failed to start pool", "error", err)
		os.Exit(1)
	}

	runStep(pool, cfg, logger)

	if err := pool.Free(); err != nil {
		logger.Error("failed to free pool", "error", err)
		os.Exit(1)
	}
	logger.Info("pool shut down cleanly")
}

// runStep enqueues one forward item followed by one backward item on
// every worker. Each worker's own loop rendezvouses at its layer barrier
// after forward and at the global barrier after backward (wired at pool
// construction), so the driver only needs to enqueue work in FIFO order
// and wait for it to drain.
func runStep(pool *lattice.Lattice, cfg lattice.Config, logger *logging.Logger) {
	start := time.Now()

	for layer := 0; layer < cfg.Layers; layer++ {
		pool.BeginStep(layer)
		for pos := 0; pos < cfg.PositionsPerLayer; pos++ {
			w := pool.GetThread(layer, pos)
			if err := w.Enqueue(&worker.WorkItem{Tag: worker.WorkForward, TokenID: int64(pos)}); err != nil {
				logger.Warn("forward enqueue failed", "layer", layer, "position", pos, "error", err)
			}
			if err := w.Enqueue(&worker.WorkItem{Tag: worker.WorkBackward, TokenID: int64(pos)}); err != nil {
				logger.Warn("backward enqueue failed", "layer", layer, "position", pos, "error", err)
			}
		}
	}

	for layer := 0; layer < cfg.Layers; layer++ {
		for pos := 0; pos < cfg.PositionsPerLayer; pos++ {
			w := pool.GetThread(layer, pos)
			for w.WorkCompleted() < 2 {
				time.Sleep(time.Millisecond)
			}
		}
	}

	for layer := 0; layer < cfg.Layers; layer++ {
		accum := pool.Accumulator(layer).Reduce()
		logger.Info("reduced layer gradient", "layer", layer, "slice_len", len(accum))
	}

	logger.Info("step complete", "elapsed", time.Since(start))
}

// stubCallbacks returns a pass-through callback table (forward copies its
// input, backward adds gradOut into gradIn) sufficient to exercise the
// dispatch path without real numerical kernels.
func stubCallbacks() *model.CallbackTable {
	return &model.CallbackTable{
		EmbeddingDim: 768,
		NumLayers:    1,
		VocabSize:    50257,
		Forward: func(_ any, worker model.WorkerID, layer int, input, output []byte) model.Status {
			copy(output, input)
			return model.StatusOK
		},
		Backward: func(_ any, worker model.WorkerID, layer int, gradOut, gradIn []float64) model.Status {
			for i := range gradIn {
				gradIn[i] += gradOut[i]
			}
			return model.StatusOK
		},
	}
}
