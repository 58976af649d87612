package sweep

import (
	"fmt"

	"github.com/nvandessel/cowtrace/internal/config"
	"github.com/nvandessel/cowtrace/internal/mobility"
)

// Combination is one point of the parameter grid.
type Combination struct {
	NodeDistance    int `json:"node_distance"`
	SwapCouples     int `json:"swap_couples"`
	ShuffleDistance int `json:"shuffle_distance"`
}

// Params returns the generator parameters for c.
func (c Combination) Params() mobility.Params {
	return mobility.Params{
		NodeDistance:    c.NodeDistance,
		SwapCouples:     c.SwapCouples,
		ShuffleDistance: c.ShuffleDistance,
	}
}

func (c Combination) String() string {
	return fmt.Sprintf("%d_%d_%d", c.NodeDistance, c.SwapCouples, c.ShuffleDistance)
}

// Run is one repetition of a combination.
type Run struct {
	Combination
	Repetition int `json:"repetition"`
}

// ID returns "<nd>_<ns>_<ds>_<r>", the key every artifact of the run is named by.
func (r Run) ID() string {
	return fmt.Sprintf("%s_%d", r.Combination, r.Repetition)
}

// TraceName is the trace file name, which is also what the simulator config
// refers to.
func (r Run) TraceName() string { return "pos_" + r.ID() + ".txt" }

// ConfigName is the rendered simulator config file name.
func (r Run) ConfigName() string { return "sim_" + r.ID() + ".csc" }

// LogName is the simulator log file name before compression.
func (r Run) LogName() string { return "log" + r.ID() + ".txt" }

// Plan returns the combinations of cfg in sweep order: node distances
// outermost, then swap couples, then shuffle distances.
func Plan(cfg config.SweepConfig) []Combination {
	combos := make([]Combination, 0, len(cfg.NodeDistances)*len(cfg.SwapCouples)*len(cfg.ShuffleDistances))
	for _, nd := range cfg.NodeDistances {
		for _, ns := range cfg.SwapCouples {
			for _, ds := range cfg.ShuffleDistances {
				combos = append(combos, Combination{
					NodeDistance:    nd,
					SwapCouples:     ns,
					ShuffleDistance: ds,
				})
			}
		}
	}
	return combos
}

// Runs expands combos into their repetitions 0..repetitions-1, in order.
func Runs(combos []Combination, repetitions int) []Run {
	if repetitions < 0 {
		repetitions = 0
	}
	runs := make([]Run, 0, len(combos)*repetitions)
	for _, c := range combos {
		for r := 0; r < repetitions; r++ {
			runs = append(runs, Run{Combination: c, Repetition: r})
		}
	}
	return runs
}
