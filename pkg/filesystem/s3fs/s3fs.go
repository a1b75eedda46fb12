// Package s3fs provides a FileSystem backend over Amazon S3 or any
// S3-compatible object store (MinIO, Localstack, Cubbit DS3).
//
// Key design:
//   - A folder maps to a zero-byte marker object whose key ends in "/".
//   - A file maps to the object "<prefix><folder>/<name>".
//   - Listing uses the "/" delimiter, so nested folders stay separate.
//
// S3 has no rename, so relocation is copy-then-delete; concurrent writes
// to the same key are last-write-wins under S3's consistency model.
package s3fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// api is the subset of the S3 client the backend uses. Tests substitute
// an in-memory fake.
type api interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config describes the bucket binding.
type Config struct {
	// Bucket is the bucket name. Required. The bucket must exist.
	Bucket string

	// Region is the AWS region. Required unless a Client is injected.
	Region string

	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials. Empty
	// falls back to the default credential chain.
	AccessKeyID     string
	SecretAccessKey string

	// KeyPrefix is prepended to every object key.
	KeyPrefix string

	// Client injects a pre-built client, bypassing the config-based
	// construction. Used by tests.
	Client api
}

// S3FileSystem stores files as objects in one bucket.
//
// Thread Safety:
// The S3 client is safe for concurrent use; the struct holds no mutable
// state after Open.
type S3FileSystem struct {
	cfg    Config
	client api
	prefix string
}

var (
	_ filesystem.FileSystem         = (*S3FileSystem)(nil)
	_ filesystem.WritableFileSystem = (*S3FileSystem)(nil)
)

type handle struct {
	folder string
	name   string
}

// New creates an S3 backend. The client connects on Open.
func New(cfg Config) (*S3FileSystem, error) {
	if cfg.Bucket == "" {
		return nil, filesystem.NewConfigError("s3 backend requires a bucket")
	}
	if cfg.Client == nil && cfg.Region == "" {
		return nil, filesystem.NewConfigError("s3 backend requires a region")
	}
	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3FileSystem{cfg: cfg, prefix: prefix}, nil
}

// Open builds the client and verifies bucket access.
func (s *S3FileSystem) Open(ctx context.Context) error {
	if s.client == nil {
		if s.cfg.Client != nil {
			s.client = s.cfg.Client
		} else {
			client, err := buildClient(ctx, s.cfg)
			if err != nil {
				return err
			}
			s.client = client
		}
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return filesystem.WrapStorage(fmt.Sprintf("access bucket %q", s.cfg.Bucket), err)
	}
	return nil
}

// buildClient assembles the AWS config: region, optional custom endpoint
// and optional static credentials, with path-style addressing for
// S3-compatible stores.
func buildClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, filesystem.WrapStorage("load aws config", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Close releases nothing: the client holds no persistent connections
// beyond its pooled HTTP transport.
func (s *S3FileSystem) Close(ctx context.Context) error {
	return nil
}

func (s *S3FileSystem) ToFile(ctx context.Context, name string) (filesystem.Handle, error) {
	folder, base := splitName(name)
	return handle{folder: folder, name: base}, nil
}

func (s *S3FileSystem) ToFileIn(ctx context.Context, folder, name string) (filesystem.Handle, error) {
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("name %q contains a folder separator: %w", name, filesystem.ErrInvalidHandle)
	}
	return handle{folder: cleanFolder(folder), name: name}, nil
}

func (s *S3FileSystem) Exists(ctx context.Context, h filesystem.Handle) (bool, error) {
	fh, err := handleOf(h)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(fh)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, filesystem.WrapStorage("head object", err)
	}
	return true, nil
}

func (s *S3FileSystem) ListFiles(ctx context.Context, folder string) (filesystem.DirectoryStream, error) {
	cleaned := cleanFolder(folder)
	exists, err := s.FolderExists(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
	}

	type entry struct {
		name  string
		mtime time.Time
	}
	var files []entry
	prefix := s.folderPrefix(cleaned)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.cfg.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, filesystem.WrapStorage("list objects", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, prefix)
			if name == "" || strings.Contains(name, "/") {
				continue // folder markers and nested keys
			}
			e := entry{name: name}
			if obj.LastModified != nil {
				e.mtime = *obj.LastModified
			}
			files = append(files, e)
		}
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].mtime.Equal(files[j].mtime) {
			return files[i].mtime.Before(files[j].mtime)
		}
		return files[i].name < files[j].name
	})
	handles := make([]filesystem.Handle, len(files))
	for i, f := range files {
		handles[i] = handle{folder: cleaned, name: f.name}
	}
	return filesystem.NewSliceStream(handles), nil
}

func (s *S3FileSystem) ReadFile(ctx context.Context, h filesystem.Handle) (io.ReadCloser, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(fh)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
	}
	if err != nil {
		return nil, filesystem.WrapStorage("get object", err)
	}
	return out.Body, nil
}

func (s *S3FileSystem) DeleteFile(ctx context.Context, h filesystem.Handle) error {
	fh, err := handleOf(h)
	if err != nil {
		return err
	}
	// DeleteObject succeeds on missing keys, so check first: deleting a
	// file that is not there must be explicit.
	exists, err := s.Exists(ctx, h)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(fh)),
	})
	if err != nil {
		return filesystem.WrapStorage("delete object", err)
	}
	return nil
}

func (s *S3FileSystem) Name(h filesystem.Handle) string {
	fh, err := handleOf(h)
	if err != nil {
		return ""
	}
	return fh.name
}

// CanonicalName returns the full object key.
func (s *S3FileSystem) CanonicalName(h filesystem.Handle) (string, error) {
	fh, err := handleOf(h)
	if err != nil {
		return "", err
	}
	return s.objectKey(fh), nil
}

func (s *S3FileSystem) ModificationTime(ctx context.Context, h filesystem.Handle) (time.Time, error) {
	head, err := s.headFile(ctx, h)
	if err != nil {
		return time.Time{}, err
	}
	return aws.ToTime(head.LastModified), nil
}

func (s *S3FileSystem) FileSize(ctx context.Context, h filesystem.Handle) (int64, error) {
	head, err := s.headFile(ctx, h)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(head.ContentLength), nil
}

func (s *S3FileSystem) AdditionalProperties(ctx context.Context, h filesystem.Handle) (map[string]any, error) {
	head, err := s.headFile(ctx, h)
	if err != nil {
		return nil, err
	}
	props := map[string]any{}
	if head.ETag != nil {
		props["etag"] = strings.Trim(aws.ToString(head.ETag), `"`)
	}
	if head.StorageClass != "" {
		props["storageClass"] = string(head.StorageClass)
	}
	for k, v := range head.Metadata {
		props[k] = v
	}
	return props, nil
}

func (s *S3FileSystem) FolderExists(ctx context.Context, folder string) (bool, error) {
	cleaned := cleanFolder(folder)
	if cleaned == "" {
		return true, nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.markerKey(cleaned)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, filesystem.WrapStorage("head folder marker", err)
	}
	return true, nil
}

func (s *S3FileSystem) CreateFolder(ctx context.Context, folder string) error {
	cleaned := cleanFolder(folder)
	if cleaned == "" {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderExists)
	}
	exists, err := s.FolderExists(ctx, cleaned)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderExists)
	}
	// Markers for missing parents too; the bucket namespace is flat but
	// the contract is hierarchical.
	for f := cleaned; f != ""; f = parentFolder(f) {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.markerKey(f)),
			Body:   strings.NewReader(""),
		})
		if err != nil {
			return filesystem.WrapStorage("create folder marker", err)
		}
	}
	return nil
}

func (s *S3FileSystem) RemoveFolder(ctx context.Context, folder string, recursive bool) error {
	cleaned := cleanFolder(folder)
	if cleaned == "" {
		return fmt.Errorf("cannot remove the root folder: %w", filesystem.ErrNotSupported)
	}
	exists, err := s.FolderExists(ctx, cleaned)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
	}

	marker := s.markerKey(cleaned)
	var doomed []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(marker),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return filesystem.WrapStorage("list folder", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == marker {
				continue
			}
			if !recursive {
				return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotEmpty)
			}
			doomed = append(doomed, key)
		}
	}
	for _, key := range append(doomed, marker) {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return filesystem.WrapStorage("delete folder", err)
		}
	}
	return nil
}

func (s *S3FileSystem) headFile(ctx context.Context, h filesystem.Handle) (*s3.HeadObjectOutput, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(fh)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
	}
	if err != nil {
		return nil, filesystem.WrapStorage("head object", err)
	}
	return head, nil
}

// ============================================================================
// Keys and error mapping
// ============================================================================

func handleOf(h filesystem.Handle) (handle, error) {
	fh, ok := h.(handle)
	if !ok {
		return handle{}, fmt.Errorf("handle %T does not belong to this backend: %w", h, filesystem.ErrInvalidHandle)
	}
	return fh, nil
}

func (s *S3FileSystem) objectKey(h handle) string {
	return s.folderPrefix(h.folder) + h.name
}

// folderPrefix returns the key prefix of a folder, ending in "/" for
// non-root folders.
func (s *S3FileSystem) folderPrefix(folder string) string {
	if folder == "" {
		return s.prefix
	}
	return s.prefix + folder + "/"
}

func (s *S3FileSystem) markerKey(folder string) string {
	return s.prefix + folder + "/"
}

// isNotFound matches the not-found shapes the SDK produces: NoSuchKey
// from GetObject and the generic NotFound from HeadObject.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

func cleanFolder(folder string) string {
	cleaned := strings.Trim(path.Clean("/"+folder), "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}

func parentFolder(folder string) string {
	idx := strings.LastIndex(folder, "/")
	if idx < 0 {
		return ""
	}
	return folder[:idx]
}

func splitName(name string) (folder, base string) {
	cleaned := strings.Trim(path.Clean("/"+name), "/")
	idx := strings.LastIndex(cleaned, "/")
	if idx < 0 {
		return "", cleaned
	}
	return cleaned[:idx], cleaned[idx+1:]
}
