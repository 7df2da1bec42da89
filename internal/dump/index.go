package dump

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// IDIndexName is the index mongodump records for every collection's _id.
const IDIndexName = "_id_"

// StripIDIndex removes the _id_ entry from the indexes list of every JSON
// metadata file directly inside dir. Gzipped metadata is handled too.
// It returns the number of files rewritten.
func StripIDIndex(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read dump dir: %w", err)
	}

	changed := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() {
			continue
		}
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".json.gz") {
			continue
		}

		ok, err := stripFile(filepath.Join(dir, name))
		if err != nil {
			return changed, fmt.Errorf("failed to strip %s: %w", name, err)
		}
		if ok {
			changed++
		}
	}
	slog.Info("Stripped _id_ index", "dir", dir, "files", changed)
	return changed, nil
}

func stripFile(path string) (bool, error) {
	gzipped := strings.HasSuffix(path, ".gz")

	raw, err := readMaybeGzip(path, gzipped)
	if err != nil {
		return false, err
	}

	out, changed, err := StripIndex(raw, IDIndexName)
	if err != nil || !changed {
		return false, err
	}

	if gzipped {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(out); err != nil {
			return false, err
		}
		if err := zw.Close(); err != nil {
			return false, err
		}
		out = buf.Bytes()
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return false, err
	}
	return true, nil
}

func readMaybeGzip(path string, gzipped bool) ([]byte, error) {
	if !gzipped {
		return os.ReadFile(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(zr)
}

// StripIndex drops the entries named index from the "indexes" array of a
// metadata document, leaving every other field as it was. changed is false
// when the document has no such entry.
func StripIndex(doc []byte, index string) (out []byte, changed bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, false, fmt.Errorf("invalid metadata: %w", err)
	}

	rawIndexes, ok := fields["indexes"]
	if !ok {
		return doc, false, nil
	}

	var indexes []json.RawMessage
	if err := json.Unmarshal(rawIndexes, &indexes); err != nil {
		return nil, false, fmt.Errorf("invalid indexes: %w", err)
	}

	kept := make([]json.RawMessage, 0, len(indexes))
	for _, raw := range indexes {
		var meta struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, false, fmt.Errorf("invalid index entry: %w", err)
		}
		if meta.Name == index {
			changed = true
			continue
		}
		kept = append(kept, raw)
	}
	if !changed {
		return doc, false, nil
	}

	if fields["indexes"], err = json.Marshal(kept); err != nil {
		return nil, false, err
	}
	out, err = json.Marshal(fields)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}
