package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/deepnoodle-ai/scriptenv/script"
)

// S3API is the subset of *s3.Client the S3 loader uses.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SecureMetadataKey is the object metadata key that marks a script as
// trustworthy when set to "true".
const SecureMetadataKey = "secure"

// S3 loads scripts from objects in a bucket below a key prefix. Object
// existence and metadata are checked on resolve; the body is fetched when
// the script is compiled.
type S3 struct {
	client S3API
	bucket string
	prefix string
	opts   Options
}

// NewS3 returns a loader for bucket. Scripts are cachable by default and
// secure only if their metadata says so.
func NewS3(client S3API, bucket, prefix string, opts ...Option) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		opts:   newOptions(Options{Cachable: true}, opts),
	}
}

func (l *S3) key(p string) string {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if l.prefix == "" {
		return clean
	}
	return l.prefix + "/" + clean
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

// Resolve implements script.Loader.
func (l *S3) Resolve(ctx context.Context, p string) (*script.Reference, error) {
	key := l.key(p)
	head, err := l.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", l.bucket, key, script.ErrNotFound)
		}
		return nil, fmt.Errorf("s3://%s/%s: %w", l.bucket, key, err)
	}
	secure := l.opts.Secure || strings.EqualFold(head.Metadata[SecureMetadataKey], "true")
	src := script.SourceFunc(func(ctx context.Context) ([]byte, error) {
		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("s3://%s/%s: %w", l.bucket, key, err)
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	})
	return script.New(fmt.Sprintf("s3://%s/%s", l.bucket, key), src,
		script.WithPath(script.PathStore, p),
		script.WithCachable(l.opts.Cachable),
		script.WithSecure(secure),
	), nil
}
