package s3fs

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/fstest"
)

// fakeS3 is an in-memory bucket implementing the api subset the backend
// uses.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	clock   time.Time
}

type fakeObject struct {
	data  []byte
	mtime time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string]fakeObject),
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick advances the fake clock so successive writes get distinct
// modification times.
func (f *fakeS3) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.mtime),
		ETag:          aws.String(`"fake"`),
	}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(append([]byte(nil), obj.data...))),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, mtime: f.tick()}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	// Strip the "<bucket>/" prefix.
	idx := strings.Index(source, "/")
	key := source[idx+1:]

	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{data: append([]byte(nil), obj.data...), mtime: obj.mtime}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(in.Prefix)

	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	for _, key := range keys {
		obj := f.objects[key]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.mtime),
		})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

func newFS(t *testing.T) *S3FileSystem {
	t.Helper()
	fs, err := New(Config{Bucket: "test-bucket", Client: newFakeS3()})
	require.NoError(t, err)
	require.NoError(t, fs.Open(context.Background()))
	return fs
}

func TestConformance(t *testing.T) {
	suite := fstest.Suite{
		NewFS: func(t *testing.T) filesystem.WritableFileSystem {
			return newFS(t)
		},
	}
	suite.Run(t)
}

func TestNew_Validation(t *testing.T) {
	var cfgErr *filesystem.ConfigError

	_, err := New(Config{Region: "eu-west-1"})
	assert.ErrorAs(t, err, &cfgErr, "bucket is required")

	_, err = New(Config{Bucket: "b"})
	assert.ErrorAs(t, err, &cfgErr, "region is required without an injected client")
}

func TestKeyPrefix(t *testing.T) {
	fake := newFakeS3()
	fs, err := New(Config{Bucket: "b", Client: fake, KeyPrefix: "queue/prod"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, fs.Open(ctx))

	fstest.WriteFile(t, fs, "", "root.txt", []byte("x"))
	require.NoError(t, fs.CreateFolder(ctx, "in"))
	fstest.WriteFile(t, fs, "in", "nested.txt", []byte("x"))

	fake.mu.Lock()
	_, rootOK := fake.objects["queue/prod/root.txt"]
	_, nestedOK := fake.objects["queue/prod/in/nested.txt"]
	_, markerOK := fake.objects["queue/prod/in/"]
	fake.mu.Unlock()
	assert.True(t, rootOK)
	assert.True(t, nestedOK)
	assert.True(t, markerOK)

	assert.Equal(t, []string{"root.txt"}, fstest.ListNames(t, fs, ""))
	assert.Equal(t, []string{"nested.txt"}, fstest.ListNames(t, fs, "in"))
}

func TestCanonicalNameIsObjectKey(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	require.NoError(t, fs.CreateFolder(ctx, "docs"))
	h := fstest.WriteFile(t, fs, "docs", "report.pdf", []byte("x"))

	canonical, err := fs.CanonicalName(h)
	require.NoError(t, err)
	assert.Equal(t, "docs/report.pdf", canonical)
}

func TestAppendIsReadModifyWrite(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	h := fstest.WriteFile(t, fs, "", "log.txt", []byte("one "))

	w, err := fs.AppendFile(ctx, h)
	require.NoError(t, err)
	_, err = w.Write([]byte("two"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, "one two", string(fstest.ReadFile(t, fs, h)))
}

func TestNestedFolderListingSkipsDeepKeys(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	require.NoError(t, fs.CreateFolder(ctx, "a"))
	require.NoError(t, fs.CreateFolder(ctx, "a/b"))
	fstest.WriteFile(t, fs, "a", "top.txt", []byte("x"))
	fstest.WriteFile(t, fs, "a/b", "deep.txt", []byte("x"))

	assert.Equal(t, []string{"top.txt"}, fstest.ListNames(t, fs, "a"))
}
