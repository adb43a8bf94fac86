package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"billfold-backend/internal/blob"
	"billfold-backend/internal/shared/util"
)

// Options configures the S3-backed blob store. Endpoint plus static keys
// supports S3-compatible services such as MinIO.
type Options struct {
	Region    string
	Bucket    string
	Prefix    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Store implements blob.Store on S3. The blob id is the object key relative
// to the configured prefix; conditional writes map to If-Match on PutObject.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds an S3 blob store.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(strings.TrimSpace(opts.Prefix), "/"),
	}, nil
}

// Get downloads a blob with its etag.
func (s *Store) Get(ctx context.Context, id string) (blob.Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		return blob.Object{}, mapErr("get", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return blob.Object{}, fmt.Errorf("s3 get object key=%s: read: %w", id, err)
	}
	return blob.Object{
		Data:        data,
		ContentType: aws.ToString(out.ContentType),
		ETag:        aws.ToString(out.ETag),
	}, nil
}

// Create uploads a new blob under parent.
func (s *Store) Create(ctx context.Context, parent, name string, data []byte, contentType string) (blob.Handle, error) {
	sanitized, err := util.SanitizeFileName(name)
	if err != nil {
		return blob.Handle{}, fmt.Errorf("create blob: %w", err)
	}
	id := path.Join(parent, sanitized)

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return blob.Handle{}, mapErr("put", id, err)
	}
	return blob.Handle{ID: id, Name: sanitized, MimeType: contentType, ETag: aws.ToString(out.ETag)}, nil
}

// Update replaces a blob's content, conditional on etag when non-empty.
func (s *Store) Update(ctx context.Context, id string, data []byte, etag string) (blob.Handle, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
		Body:   bytes.NewReader(data),
	}
	if etag != "" {
		input.IfMatch = aws.String(etag)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return blob.Handle{}, mapErr("put", id, err)
	}
	return blob.Handle{ID: id, Name: path.Base(id), ETag: aws.ToString(out.ETag)}, nil
}

// List returns blobs under the query's parent.
func (s *Store) List(ctx context.Context, q blob.Query) ([]blob.Handle, error) {
	prefix := s.objectKey(q.Parent)
	if prefix != "" {
		prefix += "/"
	}

	var out []blob.Handle
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapErr("list", q.Parent, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := path.Base(key)
			if q.Name != "" && name != q.Name {
				continue
			}
			out = append(out, blob.Handle{
				ID:   strings.TrimPrefix(strings.TrimPrefix(key, s.prefix), "/"),
				Name: name,
				ETag: aws.ToString(obj.ETag),
			})
		}
	}
	return out, nil
}

// Delete removes a blob. S3 treats deleting a missing key as success.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		return mapErr("delete", id, err)
	}
	return nil
}

func (s *Store) objectKey(id string) string {
	clean := strings.Trim(id, "/")
	if s.prefix == "" {
		return clean
	}
	if clean == "" {
		return s.prefix
	}
	return s.prefix + "/" + clean
}

func mapErr(op, id string, err error) error {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return blob.ErrNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return blob.ErrNotFound
		case "PreconditionFailed":
			return blob.ErrConflict
		case "AccessDenied", "InvalidAccessKeyId", "ExpiredToken", "SignatureDoesNotMatch":
			return fmt.Errorf("s3 %s key=%s: %w", op, id, blob.ErrUnauthorized)
		}
	}
	return fmt.Errorf("s3 %s key=%s: %w", op, id, err)
}

var _ blob.Store = (*Store)(nil)
