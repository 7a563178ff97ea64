package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/zhouzirui/scribe/backend/internal/model/audio"
)

// MinPartSize is the smallest part S3 accepts for every part but the last.
const MinPartSize = 5 << 20

// S3Client abstracts the S3 API operations used by [S3Store].
// The [s3.Client] type satisfies this interface.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Presigner issues time-limited GET URLs. [s3.PresignClient] satisfies it.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Options configures the S3 client built by [NewS3Client].
type S3Options struct {
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	Endpoint     string
	UsePathStyle bool
}

// NewS3Client loads an AWS config with static credentials and returns an S3 client.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, errors.New("storage: both access key and secret key are required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, opts.SessionToken),
		),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// S3Store implements BlobStore on Amazon S3 or any S3-compatible object store.
//
// Objects are written with multipart uploads so the caller only ever holds one
// part in memory. An upload that never receives a part is written with a single
// empty PutObject.
type S3Store struct {
	client     S3Client
	bucket     string
	endpoint   string
	pathStyle  bool
	presigner  Presigner
	presignTTL time.Duration
}

// S3StoreOption customizes an S3Store.
type S3StoreOption func(*S3Store)

// WithPresign makes Complete return presigned GET URLs valid for ttl, for buckets
// that are not publicly readable.
func WithPresign(p Presigner, ttl time.Duration) S3StoreOption {
	return func(s *S3Store) {
		s.presigner = p
		s.presignTTL = ttl
	}
}

// WithEndpoint makes Complete build URIs against a custom endpoint instead of
// the public AWS virtual-hosted address.
func WithEndpoint(endpoint string, pathStyle bool) S3StoreOption {
	return func(s *S3Store) {
		s.endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
		s.pathStyle = pathStyle
	}
}

// NewS3 creates an S3-backed BlobStore writing into bucket.
func NewS3(client S3Client, bucket string, opts ...S3StoreOption) *S3Store {
	s := &S3Store{client: client, bucket: bucket}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bucket returns the target bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Begin opens an upload for key. No request is sent until the first part.
func (s *S3Store) Begin(_ context.Context, key, contentType string) (Upload, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("storage: empty object key")
	}
	return &s3Upload{store: s, key: key, contentType: contentType}, nil
}

// objectURI returns the address the transcription provider fetches the object from.
func (s *S3Store) objectURI(ctx context.Context, key string) (string, error) {
	if s.presigner != nil && s.presignTTL > 0 {
		req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.presignTTL))
		if err != nil {
			return "", fmt.Errorf("storage: presign %s: %w", key, err)
		}
		return req.URL, nil
	}

	if s.endpoint != "" {
		if s.pathStyle {
			return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key), nil
		}
		scheme, host, ok := strings.Cut(s.endpoint, "://")
		if !ok {
			return fmt.Sprintf("https://%s.%s/%s", s.bucket, s.endpoint, key), nil
		}
		return fmt.Sprintf("%s://%s.%s/%s", scheme, s.bucket, host, key), nil
	}

	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key), nil
}

// s3Upload maps WritePart calls to numbered multipart parts.
type s3Upload struct {
	store       *S3Store
	key         string
	contentType string

	uploadID string
	parts    []types.CompletedPart
	closed   bool
}

func (u *s3Upload) WritePart(ctx context.Context, p []byte) error {
	if u.closed {
		return ErrUploadClosed
	}

	if u.uploadID == "" {
		input := &s3.CreateMultipartUploadInput{
			Bucket: aws.String(u.store.bucket),
			Key:    aws.String(u.key),
		}
		if u.contentType != "" {
			input.ContentType = aws.String(u.contentType)
		}
		out, err := u.store.client.CreateMultipartUpload(ctx, input)
		if err != nil {
			return fmt.Errorf("storage: create multipart upload %s: %w", u.key, err)
		}
		if out.UploadId == nil || *out.UploadId == "" {
			return fmt.Errorf("storage: create multipart upload %s: empty upload id", u.key)
		}
		u.uploadID = *out.UploadId
	}

	partNumber := int32(len(u.parts) + 1)
	out, err := u.store.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.store.bucket),
		Key:           aws.String(u.key),
		UploadId:      aws.String(u.uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(p),
		ContentLength: aws.Int64(int64(len(p))),
	})
	if err != nil {
		return fmt.Errorf("storage: upload part %d of %s: %w", partNumber, u.key, err)
	}

	u.parts = append(u.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	return nil
}

func (u *s3Upload) Complete(ctx context.Context) (audio.BlobReference, error) {
	if u.closed {
		return audio.BlobReference{}, ErrUploadClosed
	}

	if u.uploadID == "" {
		input := &s3.PutObjectInput{
			Bucket:        aws.String(u.store.bucket),
			Key:           aws.String(u.key),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
		}
		if u.contentType != "" {
			input.ContentType = aws.String(u.contentType)
		}
		if _, err := u.store.client.PutObject(ctx, input); err != nil {
			return audio.BlobReference{}, fmt.Errorf("storage: put empty object %s: %w", u.key, err)
		}
	} else {
		_, err := u.store.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(u.store.bucket),
			Key:             aws.String(u.key),
			UploadId:        aws.String(u.uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: u.parts},
		})
		if err != nil {
			return audio.BlobReference{}, fmt.Errorf("storage: complete multipart upload %s: %w", u.key, err)
		}
	}
	u.closed = true

	uri, err := u.store.objectURI(ctx, u.key)
	if err != nil {
		return audio.BlobReference{}, err
	}

	return audio.BlobReference{Bucket: u.store.bucket, Key: u.key, URI: uri}, nil
}

func (u *s3Upload) Abort(ctx context.Context) error {
	if u.closed {
		return nil
	}
	u.closed = true

	if u.uploadID == "" {
		return nil
	}

	_, err := u.store.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.store.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
	if err != nil && !isS3NoSuchUpload(err) {
		return fmt.Errorf("storage: abort multipart upload %s: %w", u.key, err)
	}
	return nil
}

// isS3NoSuchUpload reports whether err means the multipart upload is already gone.
func isS3NoSuchUpload(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchUpload"
	}
	return false
}

// Compile-time interface check.
var _ BlobStore = (*S3Store)(nil)
