package artifact

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/paperpolish/polish-int/internal/core"
)

// S3Options configures an S3Sink.
type S3Options struct {
	Region string
	// Endpoint selects an S3-compatible store; path-style addressing is
	// used when set.
	Endpoint string
	// Static credentials. Empty uses the AWS default credential chain.
	AccessKeyID     string
	SecretAccessKey string
	HTTPClient      *http.Client
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads artifacts to a bucket.
type S3Sink struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Sink loads the AWS configuration and creates a sink for dest.
func NewS3Sink(ctx context.Context, dest Destination, opts S3Options) (*S3Sink, error) {
	if dest.Kind != KindS3 || dest.Bucket == "" {
		return nil, fmt.Errorf("not an S3 destination: %s", dest)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(opts.HTTPClient))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{client: client, bucket: dest.Bucket, prefix: dest.Prefix}, nil
}

// Write uploads the artifact as one object.
func (s *S3Sink) Write(ctx context.Context, a *core.Artifact) (string, error) {
	key := objectKey(s.prefix, a.Filename)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(a.Content)),
		ContentType: aws.String(contentType(a.Format)),
		Metadata:    map[string]string{"session-id": a.SessionID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}
