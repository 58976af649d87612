// Package archive compresses simulator logs once a run has finished.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gzip "github.com/klauspost/pgzip"
)

// Ext is appended to a log path to name its archive.
const Ext = ".gz"

// MaxDecompressedSize is the maximum allowed size of a decompressed log (1GB).
const MaxDecompressedSize = 1 << 30

// PathFor returns the archive path for the plain file at src.
func PathFor(src string) string {
	return src + Ext
}

// CompressFile gzips src into src+".gz" and removes src, leaving only the
// archive behind. The archive is built under a temp name, synced and renamed
// before src is removed, so src+".gz" only ever holds a complete archive.
func CompressFile(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening log: %w", err)
	}
	defer in.Close()

	dst := PathFor(src)
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}
	fail := func(format string, err error) (string, error) {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf(format, err)
	}

	zw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return fail("creating gzip writer: %w", err)
	}
	zw.Name = filepath.Base(src)
	if info, err := in.Stat(); err == nil {
		zw.ModTime = info.ModTime()
	}

	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return fail("compressing log: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fail("closing gzip writer: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fail("syncing archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming archive: %w", err)
	}

	in.Close()
	if err := os.Remove(src); err != nil {
		return dst, fmt.Errorf("removing plain log: %w", err)
	}
	return dst, nil
}

// DecompressFile streams the contents of the archive at src to w.
func DecompressFile(src string, w io.Writer) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer zr.Close()

	n, err := io.Copy(w, io.LimitReader(zr, MaxDecompressedSize+1))
	if err != nil {
		return n, fmt.Errorf("decompressing archive: %w", err)
	}
	if n > MaxDecompressedSize {
		return n, fmt.Errorf("decompressed archive exceeds maximum size of %d bytes", MaxDecompressedSize)
	}
	return n, nil
}

// Checksum returns "sha256:<hex>" for the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing file: %w", err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
