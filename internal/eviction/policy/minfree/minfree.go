package minfree

import (
	"fmt"
	"log/slog"
	"syscall"
)

// Policy requires MinFreeBytes of free disk space at Path, on top of the
// size the caller is about to write.
type Policy struct {
	Path         string
	MinFreeBytes int64
}

func (p *Policy) Name() string { return "min-free-space" }

func (p *Policy) Shortfall(size int64) (int64, error) {
	free, err := FreeBytes(p.Path)
	if err != nil {
		return 0, err
	}

	required := p.MinFreeBytes + size
	slog.Debug("Disk space check", "path", p.Path, "free_bytes", free, "required", required)

	if free < required {
		return required - free, nil
	}
	return 0, nil
}

// FreeBytes reports the space available to unprivileged users at path.
func FreeBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to check disk space: %w", err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
