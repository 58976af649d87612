package mobility

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
)

// Node is one mobile node: where it is and where it is heading.
type Node struct {
	Index int     `json:"index"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	DestX float64 `json:"dest_x"`
	DestY float64 `json:"dest_y"`
}

// AtRest reports whether the node has reached its destination.
func (n Node) AtRest() bool {
	return n.X == n.DestX && n.Y == n.DestY
}

// StepResult describes what happened during one tick.
type StepResult struct {
	Tick       int
	Samples    []Sample
	Reshuffled bool
}

// Stats summarizes a completed generator run.
type Stats struct {
	Ticks      int `json:"ticks"`
	Samples    int `json:"samples"`
	Reshuffles int `json:"reshuffles"`
}

// Generator advances a grid of nodes tick by tick.
// It is not safe for concurrent use; each trace gets its own Generator.
type Generator struct {
	params Params
	opts   Options
	rng    *rand.Rand

	nodes []Node
	tick  int
	total int
	stats Stats
}

// NewGenerator validates p and opts and lays the nodes out on the grid.
// Node (i, j) starts at (i*NodeDistance, j*NodeDistance) with its destination
// equal to its position, so nothing moves before the first reshuffle.
func NewGenerator(p Params, opts Options) (*Generator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	side := gridSide(opts.Nodes)
	nodes := make([]Node, 0, opts.Nodes)
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			x := float64(i * p.NodeDistance)
			y := float64(j * p.NodeDistance)
			nodes = append(nodes, Node{Index: len(nodes), X: x, Y: y, DestX: x, DestY: y})
		}
	}

	return &Generator{
		params: p,
		opts:   opts,
		rng:    opts.rng(),
		nodes:  nodes,
		total:  p.TotalTicks(opts.Duration),
	}, nil
}

// Params returns the parameters the generator was built with.
func (g *Generator) Params() Params { return g.params }

// Tick returns the next tick to be simulated.
func (g *Generator) Tick() int { return g.tick }

// TotalTicks returns the number of ticks in the trace.
func (g *Generator) TotalTicks() int { return g.total }

// Done reports whether every tick has been simulated.
func (g *Generator) Done() bool { return g.tick >= g.total }

// Nodes returns a copy of the current node state.
func (g *Generator) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Step simulates one tick. It returns false once the trace is complete.
func (g *Generator) Step() (StepResult, bool) {
	if g.Done() {
		return StepResult{}, false
	}
	t := g.tick
	res := StepResult{Tick: t}

	for i := range g.nodes {
		n := &g.nodes[i]
		n.X = approach(n.X, n.DestX)
		n.Y = approach(n.Y, n.DestY)
	}

	if t%g.opts.SampleInterval == 0 {
		res.Samples = make([]Sample, len(g.nodes))
		for i, n := range g.nodes {
			res.Samples[i] = Sample{Node: n.Index, Time: float64(t), X: n.X, Y: n.Y}
		}
		g.stats.Samples += len(res.Samples)
	}

	if t > 0 && t%g.params.Period() == 0 {
		g.reshuffle()
		res.Reshuffled = true
		g.stats.Reshuffles++
	}

	g.tick++
	g.stats.Ticks++
	return res, true
}

// reshuffle drifts every destination along +x, then swaps the destinations
// of SwapCouples randomly drawn pairs. Pairs are drawn with replacement, so a
// node may be paired with itself.
func (g *Generator) reshuffle() {
	drift := float64(g.params.ShuffleDistance)
	for i := range g.nodes {
		g.nodes[i].DestX = g.nodes[i].X + drift
	}

	n := len(g.nodes)
	for k := 0; k < g.params.SwapCouples; k++ {
		a := g.rng.IntN(n)
		b := g.rng.IntN(n)
		na, nb := &g.nodes[a], &g.nodes[b]
		na.DestX, nb.DestX = nb.DestX, na.DestX
		na.DestY, nb.DestY = nb.DestY, na.DestY
	}
}

// Run simulates the remaining ticks and writes the trace to w.
func (g *Generator) Run(w io.Writer) (Stats, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + "\n"); err != nil {
		return g.stats, fmt.Errorf("writing header: %w", err)
	}

	var line []byte
	for {
		res, ok := g.Step()
		if !ok {
			break
		}
		for _, s := range res.Samples {
			line = AppendSample(line[:0], s)
			line = append(line, '\n')
			if _, err := bw.Write(line); err != nil {
				return g.stats, fmt.Errorf("writing sample at tick %d: %w", res.Tick, err)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return g.stats, fmt.Errorf("flushing trace: %w", err)
	}
	return g.stats, nil
}

// ProduceTrace generates a complete trace for p and writes it to path. The
// trace is written to path+".tmp" and renamed into place once complete, so
// path only ever holds a whole trace.
func ProduceTrace(path string, p Params, opts Options) (Stats, error) {
	g, err := NewGenerator(p, opts)
	if err != nil {
		return Stats{}, err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return Stats{}, fmt.Errorf("creating trace file: %w", err)
	}

	stats, err := g.Run(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return stats, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return stats, fmt.Errorf("closing trace file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return stats, fmt.Errorf("renaming trace file: %w", err)
	}
	return stats, nil
}

// approach moves pos one unit toward dest without overshooting.
func approach(pos, dest float64) float64 {
	switch {
	case pos < dest:
		return math.Min(pos+1, dest)
	case pos > dest:
		return math.Max(pos-1, dest)
	default:
		return pos
	}
}
