package r2

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	listed   []types.Object
	deleted  []string
	failPut  bool
	failKeys map[string]bool
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}, failKeys: map[string]bool{}}
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Key)
	if f.failKeys[key] {
		return nil, errors.New("locked")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{Contents: f.listed, IsTruncated: aws.Bool(false)}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.False(t, Config{BucketName: "b"}.Enabled())
	assert.True(t, Config{BucketName: "b", AccessKeyID: "k", SecretAccessKey: "s"}.Enabled())
}

func TestNewClientRejectsIncompleteConfig(t *testing.T) {
	_, err := NewClient(testContext(t), Config{BucketName: "b"}, nil)
	assert.Error(t, err)
}

func TestMirrorDirUploadsRelativeKeys(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Chan", "videos", "01-02-24 - Title [abc]")
	writeFile(t, filepath.Join(dir, "Title.mkv"), "video")
	writeFile(t, filepath.Join(dir, "thumbnail.jpg"), "thumb")
	writeFile(t, filepath.Join(dir, "subtitles", "en.ass"), "subs")

	bucket := newFakeBucket()
	c := newClient(bucket, "archive", "/mirror/", slog.Default())

	require.NoError(t, c.MirrorDir(testContext(t), root, dir))
	prefix := "mirror/Chan/videos/01-02-24 - Title [abc]/"
	assert.Equal(t, []byte("video"), bucket.objects[prefix+"Title.mkv"])
	assert.Equal(t, "video/x-matroska", bucket.types[prefix+"Title.mkv"])
	assert.Equal(t, "image/jpeg", bucket.types[prefix+"thumbnail.jpg"])
	assert.Contains(t, bucket.objects, prefix+"subtitles/en.ass")
	assert.Len(t, bucket.objects, 3)
}

func TestMirrorDirPropagatesUploadError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "f.mp4"), "x")

	bucket := newFakeBucket()
	bucket.failPut = true
	c := newClient(bucket, "archive", "", slog.Default())

	err := c.MirrorDir(testContext(t), root, filepath.Join(root, "a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestKeyRejectsOutsideRoot(t *testing.T) {
	c := newClient(newFakeBucket(), "archive", "", slog.Default())
	_, err := c.Key("/data/yt", "/data/other/file")
	assert.Error(t, err)

	key, err := c.Key("/data/yt", "/data/yt/a/b.mkv")
	require.NoError(t, err)
	assert.Equal(t, "a/b.mkv", key)
}

func TestDeleteOlderThan(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bucket := newFakeBucket()
	bucket.listed = []types.Object{
		{Key: aws.String("old"), LastModified: aws.Time(now.Add(-48 * time.Hour))},
		{Key: aws.String("stuck"), LastModified: aws.Time(now.Add(-48 * time.Hour))},
		{Key: aws.String("fresh"), LastModified: aws.Time(now.Add(-time.Hour))},
	}
	bucket.failKeys["stuck"] = true

	c := newClient(bucket, "archive", "", slog.Default())
	c.now = func() time.Time { return now }

	deleted, err := c.DeleteOlderThan(testContext(t), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{"old"}, bucket.deleted)
}
