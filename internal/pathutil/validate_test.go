package pathutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	root := t.TempDir()
	otherDir := t.TempDir()

	results := filepath.Join(root, "results")
	if err := os.MkdirAll(results, 0755); err != nil {
		t.Fatalf("failed to create results dir: %v", err)
	}

	tests := []struct {
		name        string
		path        string
		root        string
		wantErr     bool
		errContains string
	}{
		{
			name: "file in existing subdirectory",
			path: filepath.Join(results, "log8_0_10_0.txt"),
			root: root,
		},
		{
			name: "file in directory not yet created",
			path: filepath.Join(root, "positions", "pos_8_0_10_0.txt"),
			root: root,
		},
		{
			name: "root itself",
			path: root,
			root: root,
		},
		{
			name:        "dot-dot escape",
			path:        filepath.Join(root, "..", "etc", "passwd"),
			root:        root,
			wantErr:     true,
			errContains: "outside sweep root",
		},
		{
			name:        "sibling directory",
			path:        filepath.Join(otherDir, "sim.csc"),
			root:        root,
			wantErr:     true,
			errContains: "outside sweep root",
		},
		{
			name:        "prefix sibling",
			path:        root + "-evil" + string(os.PathSeparator) + "x.txt",
			root:        root,
			wantErr:     true,
			errContains: "outside sweep root",
		},
		{
			name:        "null byte",
			path:        filepath.Join(root, "po\x00s.txt"),
			root:        root,
			wantErr:     true,
			errContains: "null byte",
		},
		{
			name:        "empty path",
			path:        "",
			root:        root,
			wantErr:     true,
			errContains: "empty",
		},
		{
			name:        "empty root",
			path:        filepath.Join(root, "x.txt"),
			root:        "",
			wantErr:     true,
			errContains: "no root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path, tt.root)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("ValidatePath() error = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
}

func TestValidatePath_SymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not supported on Windows")
	}

	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "results")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	err := ValidatePath(filepath.Join(link, "log.txt"), root)
	if err == nil || !strings.Contains(err.Error(), "outside sweep root") {
		t.Errorf("ValidatePath() error = %v, want symlink escape rejected", err)
	}
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	dirs := []string{
		filepath.Join(root, "positions"),
		filepath.Join(root, "csc"),
		filepath.Join(root, "results", "nested"),
	}

	if err := EnsureDirs(dirs...); err != nil {
		t.Fatalf("EnsureDirs() first call error = %v", err)
	}
	// idempotent
	if err := EnsureDirs(dirs...); err != nil {
		t.Fatalf("EnsureDirs() second call error = %v", err)
	}
	for _, d := range dirs {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			t.Errorf("%s was not created as a directory", d)
		}
	}
}

func TestEnsureDirs_FileInTheWay(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "results")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write blocker: %v", err)
	}

	err := EnsureDirs(blocker)
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("EnsureDirs() error = %v, want not a directory", err)
	}
	if err := EnsureDirs(""); err == nil {
		t.Error("EnsureDirs(\"\") should fail")
	}
}

func TestEnsureDirs_PermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission test needs a non-root unix user")
	}

	root := t.TempDir()
	if err := os.Chmod(root, 0500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { os.Chmod(root, 0755) })

	if err := EnsureDirs(filepath.Join(root, "positions")); err == nil {
		t.Error("EnsureDirs() should fail loudly on a read-only parent")
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"results log", "/home/user/sweep/results/log8_0_10_0.txt", ".../results/log8_0_10_0.txt"},
		{"root file", "/file.txt", "file.txt"},
		{"relative", "csc/sim.csc", ".../csc/sim.csc"},
		{"just filename", "sim.csc.template", "sim.csc.template"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactPath(tt.input); got != tt.want {
				t.Errorf("RedactPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
