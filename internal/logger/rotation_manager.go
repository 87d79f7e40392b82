package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// WithRotation attaches a RotationManager to the writer, checked after every
// auto-flush. A disabled config (MaxSize == 0) leaves writer.rotation nil.
func WithRotation(cfg RotationConfig) BufferedWriterOption {
	return func(w *BufferedFileWriter) {
		if !cfg.IsEnabled() {
			return
		}
		w.rotation = &RotationManager{
			filePath: w.filePath,
			config:   cfg,
			swap:     w.SwapFile,
		}
	}
}

// RotationManager rotates a BufferedFileWriter's file once it crosses
// config.MaxSize, renaming the oversized file aside with a timestamp suffix,
// optionally gzip-compressing it, and pruning old rotated files by age and
// count (mirrors lumberjack's behavior, reimplemented here so rotation can
// hook into BufferedFileWriter's own file handle via SwapFile rather than
// owning the handle itself).
type RotationManager struct {
	mu       sync.Mutex
	filePath string
	config   RotationConfig
	swap     func(*os.File) (*os.File, error)
	closed   bool
}

// CheckAndRotate rotates the file if it has grown past config.MaxSize.
// Safe to call frequently; a no-op once the manager is closed or rotation
// is disabled.
func (rm *RotationManager) CheckAndRotate() {
	rm.mu.Lock()
	if rm.closed || !rm.config.IsEnabled() {
		rm.mu.Unlock()
		return
	}
	cfg := rm.config
	rm.mu.Unlock()

	info, err := os.Stat(rm.filePath)
	if err != nil || info.Size() < cfg.MaxSize {
		return
	}
	rm.rotate(cfg)
}

func (rm *RotationManager) rotate(cfg RotationConfig) {
	timestamp := time.Now().UTC().Format("2006-01-02T15-04-05") + "Z"
	rotatedPath := rm.rotatedFilePath(timestamp)

	if err := os.Rename(rm.filePath, rotatedPath); err != nil {
		return
	}

	newFile, err := os.OpenFile(rm.filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, LogFilePermissions)
	if err != nil {
		return
	}

	oldFile, err := rm.swap(newFile)
	if err != nil {
		_ = newFile.Close()
		return
	}
	if oldFile != nil {
		_ = oldFile.Close()
	}

	if cfg.Compress {
		go rm.compress(rotatedPath)
	}
	go rm.cleanup(cfg)
}

// rotatedFilePath builds the sibling path a rotated file at timestamp gets:
// "<dir>/<name>-<timestamp><ext>".
func (rm *RotationManager) rotatedFilePath(timestamp string) string {
	dir := filepath.Dir(rm.filePath)
	base := filepath.Base(rm.filePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", name, timestamp, ext))
}

// rotatedFilePattern is the filepath.Glob pattern matching every rotated
// file this manager has produced (not counting compressed ones).
func (rm *RotationManager) rotatedFilePattern() string {
	dir := filepath.Dir(rm.filePath)
	base := filepath.Base(rm.filePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s-*Z%s", name, ext))
}

// compress gzips path in place, replacing it with path+".gz". Runs off the
// rotation goroutine so a slow compress never delays the writer.
func (rm *RotationManager) compress(path string) {
	src, err := os.Open(path) //nolint:gosec // rotated log path, not user input
	if err != nil {
		return
	}
	defer func() { _ = src.Close() }()

	dstPath := path + ".gz"
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, LogFilePermissions)
	if err != nil {
		return
	}
	defer func() { _ = dst.Close() }()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		_ = gz.Close()
		return
	}
	if err := gz.Close(); err != nil {
		return
	}

	_ = os.Remove(path)
}

// cleanup removes rotated files (compressed or not) that exceed MaxAge or
// push the surviving count past MaxRotatedFiles.
func (rm *RotationManager) cleanup(cfg RotationConfig) {
	matches, err := filepath.Glob(rm.rotatedFilePattern())
	if err != nil {
		return
	}
	gzMatches, err := filepath.Glob(rm.rotatedFilePattern() + ".gz")
	if err == nil {
		matches = append(matches, gzMatches...)
	}

	type rotatedFile struct {
		path    string
		modTime time.Time
	}
	files := make([]rotatedFile, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, rotatedFile{path: m, modTime: fi.ModTime()})
	}

	if cfg.MaxAge > 0 {
		cutoff := time.Now().Add(-time.Duration(cfg.MaxAge) * 24 * time.Hour)
		kept := files[:0]
		for _, f := range files {
			if f.modTime.Before(cutoff) {
				_ = os.Remove(f.path)
				continue
			}
			kept = append(kept, f)
		}
		files = kept
	}

	if cfg.MaxRotatedFiles > 0 && len(files) > cfg.MaxRotatedFiles {
		sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
		for _, f := range files[cfg.MaxRotatedFiles:] {
			_ = os.Remove(f.path)
		}
	}
}

// Close marks the manager closed; subsequent CheckAndRotate calls are
// no-ops. Idempotent.
func (rm *RotationManager) Close() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.closed = true
	return nil
}
