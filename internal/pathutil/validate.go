// Package pathutil keeps sweep artifacts inside the sweep root and provisions
// the directories they are written to.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RedactPath reduces a full path to .../<parent>/<basename> for log and error output.
// For example, "/home/user/sweeps/results/log8_0_10_0.txt" becomes ".../results/log8_0_10_0.txt".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// ValidatePath checks that path is inside root once cleaned and symlinks on
// its existing ancestors are resolved. The path itself need not exist.
func ValidatePath(path, root string) error {
	if path == "" {
		return fmt.Errorf("path validation failed: path is empty")
	}
	if root == "" {
		return fmt.Errorf("path validation failed: no root directory configured")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("path validation failed: path contains null byte")
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("path validation failed: cannot resolve absolute path: %w", err)
	}
	resolvedDir, err := resolveExistingParent(filepath.Dir(absPath))
	if err != nil {
		return fmt.Errorf("path validation failed: cannot resolve parent directory: %w", err)
	}
	resolvedPath := filepath.Join(resolvedDir, filepath.Base(absPath))

	absRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return fmt.Errorf("path validation failed: cannot resolve root: %w", err)
	}
	resolvedRoot, err := resolveExistingParent(absRoot)
	if err != nil {
		return fmt.Errorf("path validation failed: cannot resolve root: %w", err)
	}

	if !isSubpath(resolvedPath, resolvedRoot) {
		return fmt.Errorf("path validation failed: %q is outside sweep root %q", RedactPath(absPath), RedactPath(absRoot))
	}
	return nil
}

// EnsureDirs creates every directory that does not exist yet. Existing
// directories are left alone; a path that exists as a file, or a directory
// that cannot be created, is an error.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			return fmt.Errorf("ensure dirs: empty directory name")
		}
		info, err := os.Stat(dir)
		switch {
		case err == nil && !info.IsDir():
			return fmt.Errorf("ensure dirs: %s exists and is not a directory", dir)
		case err == nil:
			continue
		case !os.IsNotExist(err):
			return fmt.Errorf("ensure dirs: stat %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("ensure dirs: creating %s: %w", dir, err)
		}
	}
	return nil
}

// resolveExistingParent walks up the directory tree to find the deepest existing
// ancestor, resolves symlinks on it, then re-appends the non-existent tail.
func resolveExistingParent(dir string) (string, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err == nil {
		return resolved, nil
	}

	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(dir))
	}

	resolvedParent, err := resolveExistingParent(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(dir)), nil
}

// isSubpath checks whether path is equal to or below base.
func isSubpath(path, base string) bool {
	if path == base {
		return true
	}
	// "/tmp/foo" must not match "/tmp/foobar"
	prefix := strings.TrimSuffix(base, string(os.PathSeparator)) + string(os.PathSeparator)
	return strings.HasPrefix(path, prefix)
}
