package sweep

import (
	"fmt"
	"path/filepath"

	"github.com/nvandessel/cowtrace/internal/config"
	"github.com/nvandessel/cowtrace/internal/pathutil"
)

// Layout locates sweep artifacts. Positions, Configs and Results are
// relative to Root; the simulator runs with Root as its working directory
// and sees them under those relative names.
type Layout struct {
	Root      string
	Positions string
	Configs   string
	Results   string
}

// NewLayout returns the layout described by cfg.
func NewLayout(cfg config.LayoutConfig) Layout {
	return Layout{
		Root:      cfg.Root,
		Positions: cfg.Positions,
		Configs:   cfg.Configs,
		Results:   cfg.Results,
	}
}

// Provision creates the artifact directories if they are missing. It is
// safe to call repeatedly. Directories that resolve outside Root are
// rejected.
func (l Layout) Provision() error {
	dirs := []string{l.Path(l.Positions), l.Path(l.Configs), l.Path(l.Results)}
	for _, dir := range dirs {
		if err := pathutil.ValidatePath(dir, l.Root); err != nil {
			return fmt.Errorf("provisioning layout: %w", err)
		}
	}
	if err := pathutil.EnsureDirs(dirs...); err != nil {
		return fmt.Errorf("provisioning layout: %w", err)
	}
	return nil
}

// Path joins a root-relative path onto Root.
func (l Layout) Path(rel string) string {
	return filepath.Join(l.Root, rel)
}

// TracePath is where the run's trace is written.
func (l Layout) TracePath(r Run) string {
	return l.Path(filepath.Join(l.Positions, r.TraceName()))
}

// ConfigRel is the run's simulator config, relative to Root.
func (l Layout) ConfigRel(r Run) string {
	return filepath.Join(l.Configs, r.ConfigName())
}

// LogRel is the run's simulator log, relative to Root.
func (l Layout) LogRel(r Run) string {
	return filepath.Join(l.Results, r.LogName())
}
