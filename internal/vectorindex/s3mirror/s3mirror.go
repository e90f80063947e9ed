// Package s3mirror keeps a copy of the vector index snapshot in S3 (or MinIO).
package s3mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kozaktomas/race-photos/internal/vectorindex"
)

var _ vectorindex.Mirror = (*Mirror)(nil)

// Options configures the S3 mirror.
type Options struct {
	Bucket   string // required
	Region   string // e.g. "us-east-1"
	Prefix   string // key prefix without trailing slash
	Endpoint string // custom endpoint for MinIO compatibility
}

// objectAPI is the subset of *s3.Client the mirror uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Mirror uploads snapshots after each checkpoint and restores them on a
// host that has no local copy.
type Mirror struct {
	client objectAPI
	bucket string
	prefix string
}

// New creates an S3-backed mirror using the default AWS credential chain.
func New(ctx context.Context, opts Options) (*Mirror, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 mirror: bucket is required")
	}

	optFns := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	}

	return newWithClient(s3.NewFromConfig(cfg, s3Opts...), opts.Bucket, opts.Prefix), nil
}

func newWithClient(client objectAPI, bucket, prefix string) *Mirror {
	return &Mirror{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (m *Mirror) key(localPath string) string {
	return path.Join(m.prefix, filepath.Base(localPath))
}

// Push uploads the snapshot and then its .meta sidecar if present.
func (m *Mirror) Push(ctx context.Context, localPath string) error {
	if err := m.put(ctx, localPath, "application/octet-stream"); err != nil {
		return err
	}
	if _, err := os.Stat(localPath + ".meta"); err == nil {
		return m.put(ctx, localPath+".meta", "application/json")
	}
	return nil
}

func (m *Mirror) put(ctx context.Context, localPath, contentType string) error {
	f, err := os.Open(localPath) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.key(localPath)),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", m.key(localPath), err)
	}
	return nil
}

// Fetch downloads the snapshot to localPath through a temp file. A missing
// object is reported as os.ErrNotExist.
func (m *Mirror) Fetch(ctx context.Context, localPath string) error {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(localPath)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("mirror object %s: %w", m.key(localPath), os.ErrNotExist)
		}
		return fmt.Errorf("get %s: %w", m.key(localPath), err)
	}
	defer out.Body.Close()

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(localPath)+".fetch-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("download snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// isNotFound checks whether the error indicates a missing S3 object.
func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	// Some S3-compatible services return a generic "NotFound" status.
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}
