package archive

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Format selects how the dump directory is packaged.
type Format string

const (
	FormatTar  Format = "tar"
	FormatGzip Format = "gzip"
	FormatZstd Format = "zstd"
)

// ParseFormat maps a configuration value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tar", "none":
		return FormatTar, nil
	case "gzip", "gz", "tar.gz":
		return FormatGzip, nil
	case "zstd", "zst", "tar.zst":
		return FormatZstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q (want tar, gzip or zstd)", s)
	}
}

// Extension is the file suffix for archives in this format.
func (f Format) Extension() string {
	switch f {
	case FormatGzip:
		return ".tar.gz"
	case FormatZstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}

// Filename names an archive created at now: 2006-01-02_03-04-05_PM.tar.gz.
// The leading date is what remote eviction sorts on.
func Filename(now time.Time, f Format) string {
	return now.Format("2006-01-02_03-04-05_PM") + f.Extension()
}

// compressor wraps w according to the format.
func (f Format) compressor(w io.Writer) (io.WriteCloser, error) {
	switch f {
	case FormatGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case FormatZstd:
		return zstd.NewWriter(w)
	case FormatTar:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(f))
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
