package mobility

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrInvalidParams is returned when generator parameters cannot produce a trace.
var ErrInvalidParams = errors.New("invalid mobility parameters")

const (
	// DefaultNodes is the number of nodes in a trace (a 5x5 grid).
	DefaultNodes = 25

	// DefaultDuration is the experiment length in ticks, before the
	// trailing reshuffle period is added.
	DefaultDuration = 3600

	// DefaultSampleInterval is the number of ticks between two samples.
	DefaultSampleInterval = 10
)

// Params holds the three swept generator parameters.
type Params struct {
	// NodeDistance is the grid spacing between neighbouring nodes.
	NodeDistance int `json:"node_distance" yaml:"node_distance"`

	// SwapCouples is the number of random destination swaps per reshuffle.
	SwapCouples int `json:"swap_couples" yaml:"swap_couples"`

	// ShuffleDistance is how far destinations drift along +x per reshuffle.
	ShuffleDistance int `json:"shuffle_distance" yaml:"shuffle_distance"`
}

// Period returns the number of ticks between two reshuffles.
func (p Params) Period() int {
	return p.ShuffleDistance + 4*p.NodeDistance
}

// TotalTicks returns the trace length for an experiment of duration ticks.
func (p Params) TotalTicks(duration int) int {
	return duration + p.Period()
}

// Validate rejects parameters that would loop forever or reduce modulo zero.
func (p Params) Validate() error {
	if p.NodeDistance < 0 {
		return fmt.Errorf("%w: node distance must be non-negative, got %d", ErrInvalidParams, p.NodeDistance)
	}
	if p.SwapCouples < 0 {
		return fmt.Errorf("%w: swap couples must be non-negative, got %d", ErrInvalidParams, p.SwapCouples)
	}
	if p.ShuffleDistance < 0 {
		return fmt.Errorf("%w: shuffle distance must be non-negative, got %d", ErrInvalidParams, p.ShuffleDistance)
	}
	if p.Period() <= 0 {
		return fmt.Errorf("%w: reshuffle period (shuffle distance + 4*node distance) must be positive, got %d", ErrInvalidParams, p.Period())
	}
	return nil
}

// String formats the parameters the way run identifiers are built.
func (p Params) String() string {
	return fmt.Sprintf("%d_%d_%d", p.NodeDistance, p.SwapCouples, p.ShuffleDistance)
}

// Options configures everything about a trace that is not swept.
type Options struct {
	// Nodes is the node count. Must be a perfect square.
	Nodes int

	// Duration is the experiment length in ticks.
	Duration int

	// SampleInterval is the number of ticks between samples.
	SampleInterval int

	// Seed seeds the pair-selection PRNG. Equal seeds give identical traces;
	// callers wanting a fresh trace pass RandomSeed().
	Seed int64

	// Rand overrides Seed when set.
	Rand *rand.Rand
}

// DefaultOptions returns a 5x5 grid sampled every 10 ticks for one hour.
func DefaultOptions() Options {
	return Options{
		Nodes:          DefaultNodes,
		Duration:       DefaultDuration,
		SampleInterval: DefaultSampleInterval,
	}
}

// Validate checks that the options describe a square grid and a sane clock.
func (o Options) Validate() error {
	if o.Nodes <= 0 {
		return fmt.Errorf("%w: node count must be positive, got %d", ErrInvalidParams, o.Nodes)
	}
	if side := gridSide(o.Nodes); side*side != o.Nodes {
		return fmt.Errorf("%w: node count must be a perfect square, got %d", ErrInvalidParams, o.Nodes)
	}
	if o.Duration < 0 {
		return fmt.Errorf("%w: duration must be non-negative, got %d", ErrInvalidParams, o.Duration)
	}
	if o.SampleInterval <= 0 {
		return fmt.Errorf("%w: sample interval must be positive, got %d", ErrInvalidParams, o.SampleInterval)
	}
	return nil
}

// rng returns the PRNG selected by the options.
func (o Options) rng() *rand.Rand {
	if o.Rand != nil {
		return o.Rand
	}
	return rand.New(rand.NewPCG(uint64(o.Seed), uint64(o.Seed)))
}

// RandomSeed draws a seed from entropy. Record it to reproduce the trace.
func RandomSeed() int64 {
	return rand.Int64()
}

func gridSide(n int) int {
	return int(math.Sqrt(float64(n)))
}
