package lattice

import (
	"os"
	"strings"
)

// ReductionPolicy selects how per-worker gradient slices are folded into
// the consolidated gradient buffer during reduce.
type ReductionPolicy int

const (
	// ReductionAverage divides the sum of slices by the worker count. Default.
	ReductionAverage ReductionPolicy = iota
	// ReductionSum leaves the sum unscaled.
	ReductionSum
	// ReductionClippedAverage scales each slice whose L2 norm exceeds
	// MaxNorm down to MaxNorm before averaging; other slices are unchanged.
	ReductionClippedAverage
)

func (p ReductionPolicy) String() string {
	switch p {
	case ReductionAverage:
		return "AVERAGE"
	case ReductionSum:
		return "SUM"
	case ReductionClippedAverage:
		return "CLIPPED_AVERAGE"
	default:
		return "UNKNOWN"
	}
}

// Config is the configuration struct a caller passes to construct a
// Lattice. Every field is fixed for the lifetime of the pool; there is no
// provision for changing layers, positions_per_layer, or reduction policy
// after construction.
type Config struct {
	// Layers is L, the number of pipeline layers.
	Layers int
	// PositionsPerLayer is W, the number of workers per layer.
	PositionsPerLayer int
	// ActivationBytes is the per-worker activation buffer size.
	ActivationBytes int
	// GradientSliceBytes is S, the per-worker gradient slice size in bytes.
	GradientSliceBytes int
	// MessagePoolSize is the preallocated message pool capacity.
	MessagePoolSize int
	// MaxChannels is the channel registry's array capacity.
	MaxChannels int
	// ReductionPolicy selects AVERAGE, SUM, or CLIPPED_AVERAGE.
	ReductionPolicy ReductionPolicy
	// MaxNorm is the clip threshold, used only when ReductionPolicy is
	// ReductionClippedAverage.
	MaxNorm float64
	// NUMAHint is a placement hint only; it selects round-robin CPU
	// affinity across workers when true but never changes worker count.
	NUMAHint bool
}

// envReductionPolicy is the one environment variable spec.md §6 allows:
// it overrides Config.ReductionPolicy when set to a recognized value.
const envReductionPolicy = "LATTICE_REDUCTION"

// DefaultConfig returns a configuration sized for the W=12, L=8 calibration
// case, with AVERAGE reduction and no NUMA hint.
func DefaultConfig() *Config {
	cfg := &Config{
		Layers:             8,
		PositionsPerLayer:  12,
		ActivationBytes:    4096,
		GradientSliceBytes: 4096,
		MessagePoolSize:    4096,
		MaxChannels:        256,
		ReductionPolicy:    ReductionAverage,
		MaxNorm:            1.0,
		NUMAHint:           false,
	}
	cfg.applyEnv()
	return cfg
}

// applyEnv overrides ReductionPolicy from LATTICE_REDUCTION if set and
// recognized; unrecognized values are left as whatever the caller already
// configured.
func (c *Config) applyEnv() {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv(envReductionPolicy)))
	switch v {
	case "AVERAGE":
		c.ReductionPolicy = ReductionAverage
	case "SUM":
		c.ReductionPolicy = ReductionSum
	case "CLIPPED_AVERAGE":
		c.ReductionPolicy = ReductionClippedAverage
	}
}

// Validate checks the configuration for the invariants the rest of the
// core assumes: every dimension must be positive and the reduction
// policy must be one of the three known values.
func (c *Config) Validate() error {
	switch {
	case c.Layers <= 0:
		return NewError("config.validate", KindInvalidArgument, "layers must be > 0")
	case c.PositionsPerLayer <= 0:
		return NewError("config.validate", KindInvalidArgument, "positions_per_layer must be > 0")
	case c.ActivationBytes <= 0:
		return NewError("config.validate", KindInvalidArgument, "activation_bytes must be > 0")
	case c.GradientSliceBytes <= 0:
		return NewError("config.validate", KindInvalidArgument, "gradient_slice_bytes must be > 0")
	case c.MessagePoolSize <= 0:
		return NewError("config.validate", KindInvalidArgument, "message_pool_size must be > 0")
	case c.MaxChannels <= 0:
		return NewError("config.validate", KindInvalidArgument, "max_channels must be > 0")
	case c.ReductionPolicy < ReductionAverage || c.ReductionPolicy > ReductionClippedAverage:
		return NewError("config.validate", KindInvalidArgument, "reduction_policy is not a recognized value")
	case c.ReductionPolicy == ReductionClippedAverage && c.MaxNorm <= 0:
		return NewError("config.validate", KindInvalidArgument, "max_norm must be > 0 for CLIPPED_AVERAGE")
	}
	return nil
}
