// Package mobility generates synthetic node-mobility traces in the FAKE-COW
// format consumed by the Cooja network simulator.
//
// A square grid of nodes starts at rest on grid points spaced NodeDistance
// apart. Every tick each node steps one unit per axis toward its destination.
// Every Period ticks the destinations drift ShuffleDistance units along +x and
// SwapCouples random node pairs exchange destinations, which produces crossing
// trajectories at a controlled rate. Positions are sampled every
// SampleInterval ticks.
//
// Usage:
//
//	opts := mobility.DefaultOptions()
//	opts.Seed = 42
//	stats, err := mobility.ProduceTrace("pos.txt", mobility.Params{
//	    NodeDistance:    8,
//	    SwapCouples:     5,
//	    ShuffleDistance: 10,
//	}, opts)
package mobility
