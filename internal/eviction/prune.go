package eviction

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lucasew/dumpkeeper/internal/archive"
)

// DefaultKeep is the number of most recent local archives kept by a Pruner.
const DefaultKeep = 3

// FileMetadata holds what the pruner knows about a candidate file.
type FileMetadata struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Pruner keeps the Keep most recently modified regular files of a directory
// and deletes the rest.
type Pruner struct {
	Keep   int
	logger *slog.Logger
}

// NewPruner returns a Pruner keeping keep files, or DefaultKeep if keep <= 0.
func NewPruner(keep int) *Pruner {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Pruner{
		Keep:   keep,
		logger: slog.Default().With("component", "eviction.pruner"),
	}
}

// Scan lists the immediate regular files of dir in directory order.
// Partial archives left by an interrupted write are not listed.
func Scan(dir string) ([]FileMetadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	files := make([]FileMetadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), archive.TempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		files = append(files, FileMetadata{
			Path:    filepath.Join(dir, entry.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return files, nil
}

// Victims orders files newest first and returns everything past the first keep.
// The sort is stable, so files with equal timestamps keep their scan order.
func Victims(files []FileMetadata, keep int) []FileMetadata {
	if len(files) <= keep {
		return nil
	}
	sorted := make([]FileMetadata, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ModTime.After(sorted[j].ModTime)
	})
	return sorted[keep:]
}

// Prune deletes every regular file of dir except the Keep most recent ones.
//
// It returns the paths it removed. The first failure stops the pass; files
// removed before it stay removed.
func (p *Pruner) Prune(dir string) ([]string, error) {
	files, err := Scan(dir)
	if err != nil {
		return nil, err
	}

	victims := Victims(files, p.Keep)
	if len(victims) == 0 {
		p.logger.Debug("Nothing to prune", "dir", dir, "files", len(files), "keep", p.Keep)
		return nil, nil
	}

	deleted := make([]string, 0, len(victims))
	for _, victim := range victims {
		if err := os.Remove(victim.Path); err != nil {
			return deleted, fmt.Errorf("failed to remove %s: %w", victim.Path, err)
		}
		p.logger.Info("Deleted file", "path", victim.Path, "mod_time", victim.ModTime)
		deleted = append(deleted, victim.Path)
	}
	return deleted, nil
}
