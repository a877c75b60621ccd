package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/linkflow-ai/dbmigrate/internal/platform/config"
)

// S3Scheme prefixes source paths served from S3
const S3Scheme = "s3://"

// S3API is the part of the S3 client the lister needs
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Lister lists migrations stored under s3://bucket/prefix paths
type S3Lister struct {
	client S3API
}

// NewS3Lister creates a lister backed by client
func NewS3Lister(client S3API) *S3Lister {
	return &S3Lister{client: client}
}

// NewS3Client builds an S3 client from configuration. Static credentials and
// a custom endpoint are optional; without them the default AWS chain is used.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
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
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}

// ParseS3Path splits s3://bucket/prefix into bucket and prefix. The prefix
// is returned without leading or trailing slashes.
func ParseS3Path(p string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(p, S3Scheme) {
		return "", "", fmt.Errorf("not an s3 path: %q", p)
	}
	rest := strings.TrimPrefix(p, S3Scheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 path %q has no bucket", p)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// List returns the object names directly under the prefix. Objects in
// deeper "subdirectories" are not migrations of this source.
func (l *S3Lister) List(ctx context.Context, p string) ([]string, error) {
	bucket, prefix, err := ParseS3Path(p)
	if err != nil {
		return nil, err
	}

	listPrefix := ""
	if prefix != "" {
		listPrefix = prefix + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(l.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			var noBucket *types.NoSuchBucket
			if errors.As(err, &noBucket) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, listPrefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), listPrefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}
	return names, nil
}

// Read downloads the object name under the prefix
func (l *S3Lister) Read(ctx context.Context, p, name string) ([]byte, error) {
	bucket, prefix, err := ParseS3Path(p)
	if err != nil {
		return nil, err
	}

	key := name
	if prefix != "" {
		key = prefix + "/" + name
	}

	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}
	return content, nil
}
