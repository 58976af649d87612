package mobility

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Header is the first line of every trace file. Cooja's position importer
// keys on it, so it must not change.
const Header = "# FAKE-COW TRACES GENERATOR 1.0 by Marco Cattani"

// Sample is one recorded position of one node.
type Sample struct {
	Node int     `json:"node"`
	Time float64 `json:"time"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// AppendSample appends the trace line for s (without newline) to dst.
// The layout is "<node> <t:%.2f> <x:%.6f> <y:%.6f>".
func AppendSample(dst []byte, s Sample) []byte {
	dst = strconv.AppendInt(dst, int64(s.Node), 10)
	dst = append(dst, ' ')
	dst = strconv.AppendFloat(dst, s.Time, 'f', 2, 64)
	dst = append(dst, ' ')
	dst = strconv.AppendFloat(dst, s.X, 'f', 6, 64)
	dst = append(dst, ' ')
	dst = strconv.AppendFloat(dst, s.Y, 'f', 6, 64)
	return dst
}

// String returns the trace line for s.
func (s Sample) String() string {
	return string(AppendSample(nil, s))
}

// ParseSample parses one trace line.
func ParseSample(line string) (Sample, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return Sample{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}

	node, err := strconv.Atoi(fields[0])
	if err != nil {
		return Sample{}, fmt.Errorf("parsing node index: %w", err)
	}
	var vals [3]float64
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("parsing field %d: %w", i+2, err)
		}
		vals[i] = v
	}
	return Sample{Node: node, Time: vals[0], X: vals[1], Y: vals[2]}, nil
}

// ReadTrace parses every sample in r. Comment and blank lines are skipped.
func ReadTrace(r io.Reader) ([]Sample, error) {
	var samples []Sample
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s, err := ParseSample(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	return samples, nil
}

// Summary describes a parsed trace.
type Summary struct {
	Nodes        int      `json:"nodes"`
	Samples      int      `json:"samples"`
	SampledTicks int      `json:"sampled_ticks"`
	FirstTime    float64  `json:"first_time"`
	LastTime     float64  `json:"last_time"`
	MinX         float64  `json:"min_x"`
	MaxX         float64  `json:"max_x"`
	MinY         float64  `json:"min_y"`
	MaxY         float64  `json:"max_y"`
	MaxStep      float64  `json:"max_step"` // largest per-axis move between two samples of one node
	Ordered      bool     `json:"ordered"`  // ticks ascending, node indices ascending within a tick
	Final        []Sample `json:"final,omitempty"`
}

// Summarize computes a Summary over samples in emission order.
func Summarize(samples []Sample) Summary {
	sum := Summary{Samples: len(samples), Ordered: true}
	if len(samples) == 0 {
		return sum
	}

	last := make(map[int]Sample)
	sum.FirstTime = samples[0].Time
	sum.MinX, sum.MaxX = samples[0].X, samples[0].X
	sum.MinY, sum.MaxY = samples[0].Y, samples[0].Y

	for i, s := range samples {
		if i == 0 || s.Time != samples[i-1].Time {
			sum.SampledTicks++
		}
		if i > 0 {
			prev := samples[i-1]
			if s.Time < prev.Time || (s.Time == prev.Time && s.Node <= prev.Node) {
				sum.Ordered = false
			}
		}

		if p, ok := last[s.Node]; ok {
			step := math.Max(math.Abs(s.X-p.X), math.Abs(s.Y-p.Y))
			sum.MaxStep = math.Max(sum.MaxStep, step)
		}
		last[s.Node] = s

		sum.LastTime = math.Max(sum.LastTime, s.Time)
		sum.MinX = math.Min(sum.MinX, s.X)
		sum.MaxX = math.Max(sum.MaxX, s.X)
		sum.MinY = math.Min(sum.MinY, s.Y)
		sum.MaxY = math.Max(sum.MaxY, s.Y)
	}

	sum.Nodes = len(last)
	sum.Final = make([]Sample, 0, len(last))
	for _, s := range last {
		sum.Final = append(sum.Final, s)
	}
	sort.Slice(sum.Final, func(i, j int) bool { return sum.Final[i].Node < sum.Final[j].Node })
	return sum
}
