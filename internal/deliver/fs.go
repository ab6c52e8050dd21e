// Package deliver moves finished, tagged audio files to their destinations.
package deliver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"tunepull/internal/core"
)

// FSSink places files into the library directory tree. Existing files are
// never overwritten; colliding names get a numeric suffix.
type FSSink struct {
	baseDir string
	logger  *zap.Logger
}

func NewFSSink(baseDir string, logger *zap.Logger) *FSSink {
	return &FSSink{baseDir: baseDir, logger: logger}
}

func (s *FSSink) Name() string { return "filesystem" }

// Deliver copies srcPath to baseDir/relPath and removes the source.
func (s *FSSink) Deliver(ctx context.Context, srcPath, relPath string) (core.DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return core.DeliveryResult{}, err
	}

	dest := filepath.Join(s.baseDir, relPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return core.DeliveryResult{}, &core.DeliveryError{Sink: s.Name(), Cause: err.Error()}
	}

	dest, err := uniquePath(dest)
	if err != nil {
		return core.DeliveryResult{}, &core.DeliveryError{Sink: s.Name(), Cause: err.Error()}
	}

	size, err := copyFile(srcPath, dest)
	if err != nil {
		return core.DeliveryResult{}, &core.DeliveryError{Sink: s.Name(), Cause: err.Error()}
	}
	if err := os.Remove(srcPath); err != nil {
		s.logger.Warn("Work file not removed after delivery",
			zap.String("path", srcPath), zap.Error(err))
	}

	s.logger.Info("Delivered file",
		zap.String("path", dest),
		zap.Int64("bytes", size))
	return core.DeliveryResult{Path: dest, Size: size}, nil
}

// uniquePath returns path itself when free, otherwise the first
// "name (n).ext" variant that is.
func uniquePath(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; n < 1000; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free filename for %s", path)
}

// copyFile copies across filesystems; a plain rename fails when the work
// directory and the library live on different mounts.
func copyFile(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	size, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, err
	}
	return size, nil
}
