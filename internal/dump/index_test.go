package dump

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metadata = `{"options":{},"indexes":[{"v":2,"key":{"_id":1},"name":"_id_"},{"v":2,"key":{"guildId":1},"name":"guildId_1"}],"uuid":"abc","collectionName":"guilds"}`

func indexNames(t *testing.T, doc []byte) []string {
	t.Helper()
	var parsed struct {
		Indexes []struct {
			Name string `json:"name"`
		} `json:"indexes"`
	}
	require.NoError(t, json.Unmarshal(doc, &parsed))
	names := make([]string, 0, len(parsed.Indexes))
	for _, idx := range parsed.Indexes {
		names = append(names, idx.Name)
	}
	return names
}

func TestStripIndex(t *testing.T) {
	out, changed, err := StripIndex([]byte(metadata), IDIndexName)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"guildId_1"}, indexNames(t, out))

	var fields map[string]any
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.Equal(t, "abc", fields["uuid"])
	assert.Equal(t, "guilds", fields["collectionName"])

	// Stripping again is a no-op.
	again, changed, err := StripIndex(out, IDIndexName)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, out, again)
}

func TestStripIndex_NoIndexes(t *testing.T) {
	doc := []byte(`{"options":{}}`)
	out, changed, err := StripIndex(doc, IDIndexName)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, doc, out)

	_, _, err = StripIndex([]byte("not json"), IDIndexName)
	assert.Error(t, err)
	_, _, err = StripIndex([]byte(`{"indexes":{}}`), IDIndexName)
	assert.Error(t, err)
}

func TestStripIDIndex(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "guilds.metadata.json")
	require.NoError(t, os.WriteFile(plain, []byte(metadata), 0644))

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(metadata))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	zipped := filepath.Join(dir, "users.metadata.json.gz")
	require.NoError(t, os.WriteFile(zipped, buf.Bytes(), 0644))

	untouched := filepath.Join(dir, "prelude.json")
	require.NoError(t, os.WriteFile(untouched, []byte(`{"server_version":"7.0"}`), 0644))

	data := filepath.Join(dir, "guilds.bson.gz")
	require.NoError(t, os.WriteFile(data, []byte("binary"), 0644))

	changed, err := StripIDIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	got, err := os.ReadFile(plain)
	require.NoError(t, err)
	assert.Equal(t, []string{"guildId_1"}, indexNames(t, got))

	f, err := os.Open(zipped)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	got, err = io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, []string{"guildId_1"}, indexNames(t, got))

	got, err = os.ReadFile(data)
	require.NoError(t, err)
	assert.Equal(t, "binary", string(got))
}

func TestStripIDIndex_Errors(t *testing.T) {
	_, err := StripIDIndex(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.metadata.json"), []byte("{"), 0644))
	_, err = StripIDIndex(dir)
	assert.Error(t, err)
}
