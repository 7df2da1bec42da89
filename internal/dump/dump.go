// Package dump produces the database dump the job archives.
package dump

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Dumper runs mongodump for one database into WorkDir/<Database>.
type Dumper struct {
	Tool        string
	URI         string
	Database    string
	WorkDir     string
	Parallelism int
}

// Dir is where the dump of the database lands.
func (d *Dumper) Dir() string {
	return filepath.Join(d.WorkDir, d.Database)
}

// Args returns the dump tool arguments.
func (d *Dumper) Args() []string {
	args := []string{
		"--uri=" + d.URI,
		"-d=" + d.Database,
		"-o=" + d.WorkDir,
		"--gzip",
	}
	if d.Parallelism > 0 {
		args = append(args, "--numParallelCollections="+strconv.Itoa(d.Parallelism))
	}
	return args
}

// Clean removes the dump left over by the previous run.
func (d *Dumper) Clean() error {
	if err := os.RemoveAll(d.Dir()); err != nil {
		return fmt.Errorf("failed to remove old dump %s: %w", d.Dir(), err)
	}
	return nil
}

// Dump runs the dump tool and waits for it to exit.
func (d *Dumper) Dump(ctx context.Context) error {
	if err := os.MkdirAll(d.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, d.Tool, d.Args()...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	slog.Info("Running dump", "tool", d.Tool, "database", d.Database, "out", d.WorkDir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", filepath.Base(d.Tool), err, lastLines(output.String(), 5))
	}
	return nil
}

// DirSize sums the sizes of the regular files directly inside dir.
func DirSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var total int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		total += info.Size()
	}
	return total, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
