// Package s3 implements the object store port on S3-compatible storage
// (AWS, MinIO, R2). It exists for deployments that keep the pipeline
// buckets outside Google Cloud.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/store"
	"github.com/pithecene-io/smelter/types"
)

// Config holds S3 backend options.
type Config struct {
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// Store talks to an S3-compatible object store.
type Store struct {
	client *awss3.Client
}

// New builds a Store using the AWS SDK default credential chain
// (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Store{client: awss3.NewFromConfig(awsConfig, s3Opts...)}, nil
}

// NewWithClient wraps an existing client. Test hook.
func NewWithClient(client *awss3.Client) *Store {
	return &Store{client: client}
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, bucket, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return nil, classify("store.get", bucket, name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, classify("store.get", bucket, name, err)
	}
	return data, nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, bucket, name string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", classify("store.put", bucket, name, err)
	}
	return uri(bucket, name), nil
}

// Copy implements store.Store using a server-side copy.
func (s *Store) Copy(ctx context.Context, srcBucket, srcName, dstBucket, dstName string) (string, error) {
	_, err := s.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstName),
		CopySource: aws.String(srcBucket + "/" + srcName),
	})
	if err != nil {
		return "", classify("store.copy", srcBucket, srcName, err)
	}
	return uri(dstBucket, dstName), nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]types.ObjectRef, error) {
	var refs []types.ObjectRef
	paginator := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("store.list", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			refs = append(refs, types.ObjectRef{Bucket: bucket, Name: *obj.Key})
		}
	}
	return refs, nil
}

func uri(bucket, name string) string {
	return "s3://" + bucket + "/" + name
}

// classify maps SDK failures onto the fault taxonomy. Typed not-found
// errors chain store.ErrNotFound; everything else goes through the
// message classifier, which already knows the S3 wire vocabulary
// (SlowDown, NoSuchKey, 503).
func classify(op, bucket, name string, err error) error {
	var noKey *s3types.NoSuchKey
	var noBucket *s3types.NoSuchBucket
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return fault.Permanent(op, fmt.Errorf("%w: %s/%s", store.ErrNotFound, bucket, name))
	}
	return fault.Classify(op, err)
}

var _ store.Store = (*Store)(nil)
