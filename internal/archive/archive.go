// Package archive packages a dump directory into a single tarball in the local
// archive store.
//
// Writers are chained file <- checksum <- compressor <- tar and closed in
// reverse order. The archive is written to a temporary file in the
// destination directory and renamed into place once complete, so a failed
// run never leaves a half-written archive for the pruner to count.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lucasew/dumpkeeper/internal/hashutil"
)

// Options controls Create.
type Options struct {
	Format   Format
	Checksum string
}

// Result describes a finished archive.
type Result struct {
	Name     string
	Path     string
	Size     int64
	Checksum string
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// TempPrefix starts the name of an archive still being written.
const TempPrefix = ".archive-"

// Create packs src into dstDir/name.
func Create(src, dstDir, name string, opts Options) (*Result, error) {
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}

	var sum *hashutil.Checksum
	if opts.Checksum != "" {
		c, err := hashutil.New(opts.Checksum)
		if err != nil {
			return nil, err
		}
		sum = c
	}

	tmpFile, err := os.CreateTemp(dstDir, TempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmpFile.Name()) }()
	defer func() { _ = tmpFile.Close() }()

	counter := &countingWriter{w: tmpFile}
	var sink io.Writer = counter
	if sum != nil {
		sink = io.MultiWriter(counter, sum)
	}

	comp, err := opts.Format.compressor(sink)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(comp)

	if err := addTree(tw, src); err != nil {
		_ = tw.Close()
		_ = comp.Close()
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := comp.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish compression: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	finalPath := filepath.Join(dstDir, name)
	if err := os.Rename(tmpFile.Name(), finalPath); err != nil {
		return nil, fmt.Errorf("failed to rename to final path: %w", err)
	}

	res := &Result{Name: name, Path: finalPath, Size: counter.n}
	if sum != nil {
		res.Checksum = sum.String()
	}
	slog.Info("Created archive", "path", finalPath, "size", res.Size, "format", string(opts.Format))
	return res, nil
}

// addTree writes src and everything below it, with names relative to the
// parent of src so the archive unpacks into a directory named after the dump.
func addTree(tw *tar.Writer, src string) error {
	root := filepath.Dir(filepath.Clean(src))
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to build header for %s: %w", path, err)
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write header for %s: %w", path, err)
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to archive %s: %w", path, err)
		}
		return nil
	})
}
