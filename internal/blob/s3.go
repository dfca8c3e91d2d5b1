package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/megaartsstore/renderpipe/internal/config"
)

// S3Store keeps objects in an S3 (or S3-compatible) bucket:
//
//	<bucket>/<prefix>/<key>
type S3Store struct {
	client   s3iface.S3API
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
	baseURL  string
	http     *http.Client
}

// NewS3Store builds an S3 client from configuration. Static credentials are used
// when both keys are set, the default provider chain otherwise.
func NewS3Store(cfg config.S3Config, publicBaseURL string) (*S3Store, error) {
	conf := &aws.Config{Region: aws.String(cfg.Region)}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		conf.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		conf.Endpoint = aws.String(cfg.Endpoint)
		conf.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(conf)
	if err != nil {
		return nil, fmt.Errorf("create S3 session: %w", err)
	}

	baseURL := publicBaseURL
	if baseURL == "" {
		baseURL = defaultS3BaseURL(cfg)
	}
	return NewS3StoreWithClient(s3.New(sess), cfg.Bucket, cfg.Prefix, baseURL), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client s3iface.S3API, bucket, prefix, baseURL string) *S3Store {
	return &S3Store{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		http:     &http.Client{Timeout: 5 * time.Minute},
	}
}

func defaultS3BaseURL(cfg config.S3Config) string {
	if cfg.Endpoint != "" {
		return strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	objectKey := s.keyFor(k)
	if contentType == "" {
		contentType = ContentTypeFor(k)
	}

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      &s.bucket,
		Key:         &objectKey,
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to S3: %w", objectKey, err)
	}
	return s.baseURL + "/" + objectKey, nil
}

func (s *S3Store) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	objectKey, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok {
		if isHTTPURL(url) {
			return fetchHTTP(ctx, s.http, url)
		}
		return nil, fmt.Errorf("unsupported blob url %q", url)
	}

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &objectKey})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
				return nil, ErrObjectNotFound
			}
		}
		return nil, fmt.Errorf("retrieving %s from S3: %w", objectKey, err)
	}
	return out.Body, nil
}

// keyFor builds the object key inside the bucket.
func (s *S3Store) keyFor(key string) string {
	return path.Join(s.prefix, key)
}
