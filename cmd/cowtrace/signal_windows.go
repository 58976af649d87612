//go:build windows

package main

import "os"

// sweepSignals lists the signals that cancel a running sweep. Windows only
// delivers os.Interrupt (Ctrl+C).
func sweepSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
