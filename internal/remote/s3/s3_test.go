package s3

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/lucasew/dumpkeeper/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	pages   [][]string
	deleted []string
	puts    map[string][]byte
	err     error
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &s3.ListObjectsV2Output{}
	if len(f.pages) == 0 {
		return out, nil
	}
	idx := 0
	if in.ContinuationToken != nil {
		idx = int(aws.ToString(in.ContinuationToken)[0] - '0')
	}
	for _, k := range f.pages[idx] {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	if idx+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(string(rune('0' + idx + 1)))
	}
	return out, nil
}

func (f *fakeAPI) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func TestStore_List(t *testing.T) {
	api := &fakeAPI{pages: [][]string{
		{"rustBackup/2024-01-01_a.tar.gz", "rustBackup/2024-01-02_b/part1"},
		{"rustBackup/2024-01-02_b/part2", "rustBackup/2024-01-03_c.tar.gz"},
	}}
	store := NewWithAPI(api, "bucket", "rustBackup/")

	names, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01_a.tar.gz", "2024-01-02_b", "2024-01-03_c.tar.gz"}, names)
}

func TestStore_RemoveAndUpload(t *testing.T) {
	api := &fakeAPI{}
	store := NewWithAPI(api, "bucket", "/backups")
	ctx := context.Background()

	require.NoError(t, store.Remove(ctx, "2024-01-01_a.tar.gz"))
	assert.Equal(t, []string{"backups/2024-01-01_a.tar.gz"}, api.deleted)

	local := filepath.Join(t.TempDir(), "2024-01-07_x.tar.gz")
	require.NoError(t, os.WriteFile(local, []byte("archive"), 0644))
	require.NoError(t, store.Upload(ctx, local, "2024-01-07_x.tar.gz"))
	assert.Equal(t, []byte("archive"), api.puts["backups/2024-01-07_x.tar.gz"])
}

func TestStore_RemoveDirectoryArchive(t *testing.T) {
	api := &fakeAPI{pages: [][]string{
		{
			"rustBackup/2024-01-01_a/Sofi/x.bson.gz",
			"rustBackup/2024-01-01_a/Sofi/x.metadata.json.gz",
			"rustBackup/2024-01-01_ab.tar.gz",
		},
		{"rustBackup/2024-01-02_b.tar.gz", "rustBackup/2024-01-03_c.tar.gz"},
	}}
	store := NewWithAPI(api, "bucket", "rustBackup")
	ctx := context.Background()

	names, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, "2024-01-01_a", names[0])

	require.NoError(t, store.Remove(ctx, "2024-01-01_a"))
	assert.ElementsMatch(t, []string{
		"rustBackup/2024-01-01_a",
		"rustBackup/2024-01-01_a/Sofi/x.bson.gz",
		"rustBackup/2024-01-01_a/Sofi/x.metadata.json.gz",
	}, api.deleted)
}

func TestStore_RejectsUnsafeNames(t *testing.T) {
	api := &fakeAPI{}
	store := NewWithAPI(api, "bucket", "rustBackup")
	ctx := context.Background()

	for _, bad := range []string{"", ".", "..", "a/b", "../etc"} {
		assert.Error(t, store.Remove(ctx, bad), bad)
		assert.Error(t, store.Upload(ctx, "/nonexistent", bad), bad)
	}
	assert.Empty(t, api.deleted)
}

func TestStore_Errors(t *testing.T) {
	boom := errors.New("access denied")
	store := NewWithAPI(&fakeAPI{err: boom, pages: [][]string{nil}}, "bucket", "")
	ctx := context.Background()

	_, err := store.List(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, store.Remove(ctx, "x"), boom)
	assert.Error(t, store.Upload(ctx, "/nonexistent", "x"))

	_, err = New(ctx, remote.Config{})
	assert.Error(t, err)
}
