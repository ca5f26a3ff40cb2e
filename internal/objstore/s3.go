package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Store is an Amazon S3 client. Endpoint and path-style addressing make it usable
// with S3 compatible stores such as MinIO.
type S3Store struct {
	client *s3.Client
	region string
}

// S3Options configures NewS3Store. Static credentials are used when AccessKeyID is set,
// otherwise the default AWS credential chain applies.
type S3Options struct {
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Store loads the AWS configuration and creates the client.
func NewS3Store(ctx context.Context, o S3Options) (*S3Store, error) {
	region := o.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
		awsconfig.WithResponseChecksumValidation(aws.ResponseChecksumValidationWhenRequired),
	}
	if o.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(opts *s3.Options) {
		if o.Endpoint != "" {
			opts.BaseEndpoint = aws.String(o.Endpoint)
		}
		opts.UsePathStyle = o.UsePathStyle
	})

	return &S3Store{client: client, region: region}, nil
}

func (s *S3Store) ListBuckets(ctx context.Context) ([]string, error) {
	out, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("s3: listing buckets: %w", err)
	}
	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, aws.ToString(b.Name))
	}

	return names, nil
}

func (s *S3Store) CreateBucket(ctx context.Context, name string) (Bucket, error) {
	in := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if s.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	_, err := s.client.CreateBucket(ctx, in)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "BucketAlreadyOwnedByYou" || apiErr.ErrorCode() == "BucketAlreadyExists") {
		return nil, fmt.Errorf("s3: %s: %w", name, ErrBucketExists)
	}
	if err != nil {
		return nil, fmt.Errorf("s3: creating bucket %s: %w", name, err)
	}

	return s.Bucket(name), nil
}

func (s *S3Store) Bucket(name string) Bucket {
	return &s3Bucket{name: name, client: s.client}
}

func (s *S3Store) Close() error { return nil }

type s3Bucket struct {
	name   string
	client *s3.Client
}

func (b *s3Bucket) Name() string { return b.name }

func (b *s3Bucket) Upload(ctx context.Context, key, localPath string) error {
	return uploadFile(localPath, func(r io.ReadSeeker, size int64) error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.name),
			Key:           aws.String(key),
			Body:          r,
			ContentLength: aws.Int64(size),
		})
		if err != nil {
			return fmt.Errorf("s3: uploading %s/%s: %w", b.name, key, mapS3Error(err))
		}

		return nil
	})
}

func (b *s3Bucket) Download(ctx context.Context, key, localPath string) error {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3: downloading %s/%s: %w", b.name, key, mapS3Error(err))
	}
	defer out.Body.Close()

	return writeAtomic(localPath, func(w io.Writer) error {
		if _, err := io.Copy(w, out.Body); err != nil {
			return fmt.Errorf("s3: downloading %s/%s: %w", b.name, key, err)
		}

		return nil
	})
}

func mapS3Error(err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return errors.Join(ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return errors.Join(ErrNotFound, err)
		}
	}

	return err
}
