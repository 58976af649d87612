// Package sweep drives trace generation and simulator runs across a
// parameter grid.
//
// A sweep visits every combination of node distance, swap couples and
// shuffle distance in order. For each combination it runs the configured
// number of repetitions, up to Workers at a time, and waits for all of them
// before moving on. A repetition generates one trace, renders a simulator
// config that points at it, runs the simulator and archives its log:
//
//	positions/pos_<id>.txt
//	csc/sim_<id>.csc
//	results/log<id>.txt.gz
//
// where <id> is "<node_distance>_<swap_couples>_<shuffle_distance>_<repetition>".
package sweep
