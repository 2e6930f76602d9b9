package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

const (
	defaultObjectEndpoint = "s3.amazonaws.com"
	defaultObjectTimeout  = 30 * time.Second
)

// ObjectConfig configures the S3-compatible backend.
type ObjectConfig struct {
	Endpoint        string
	Bucket          string
	Prefix          string
	Region          string
	UseSSL          bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// Timeout bounds every individual request.
	Timeout time.Duration
}

// ObjectBackend stores registry objects in a bucket under an optional prefix.
type ObjectBackend struct {
	client  *minio.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewObjectBackend creates a backend using minio-go. With no static keys the
// credentials come from the AWS/MinIO environment, the shared credentials
// file, or the instance role, in that order.
func NewObjectBackend(cfg ObjectConfig) (*ObjectBackend, error) {
	if cfg.Bucket == "" {
		return nil, core.Validation("", "registry.bucket", "bucket name is required for the object-storage backend")
	}

	endpoint := cfg.Endpoint
	secure := cfg.UseSSL
	if endpoint == "" {
		endpoint = defaultObjectEndpoint
		secure = true
	}
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		switch u.Scheme {
		case "https":
			secure = true
		case "http":
			secure = false
		}
	}

	var creds *credentials.Credentials
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, core.Storage(endpoint, false, fmt.Errorf("create object storage client: %w", err))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultObjectTimeout
	}

	return &ObjectBackend{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		timeout: timeout,
	}, nil
}

// Location implements Backend.
func (b *ObjectBackend) Location() string {
	if b.prefix == "" {
		return "s3://" + b.bucket
	}
	return "s3://" + b.bucket + "/" + b.prefix
}

func (b *ObjectBackend) objectName(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *ObjectBackend) keyFromObject(name string) string {
	if b.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, b.prefix+"/")
}

// Put implements Backend. A single PUT is atomic on S3-compatible stores.
func (b *ObjectBackend) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.client.PutObject(ctx, b.bucket, b.objectName(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return classifyObjectError(key, err)
	}
	return nil
}

// PutIfAbsent implements Backend. The existence check and the write are two
// requests; history keys are unique per publish so the gap is tolerated.
func (b *ObjectBackend) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", key, ErrExists)
	}
	return b.Put(ctx, key, data)
}

// Get implements Backend.
func (b *ObjectBackend) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	obj, err := b.client.GetObject(ctx, b.bucket, b.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyObjectError(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyObjectError(key, err)
	}
	return data, nil
}

// Exists implements Backend.
func (b *ObjectBackend) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.client.StatObject(ctx, b.bucket, b.objectName(key), minio.StatObjectOptions{})
	if err != nil {
		cerr := classifyObjectError(key, err)
		if errors.Is(cerr, core.ErrNotFound) {
			return false, nil
		}
		return false, cerr
	}
	return true, nil
}

// List implements Backend.
func (b *ObjectBackend) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var keys []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.objectName(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, classifyObjectError(prefix, obj.Err)
		}
		keys = append(keys, b.keyFromObject(obj.Key))
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements Backend.
func (b *ObjectBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.client.RemoveObject(ctx, b.bucket, b.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		cerr := classifyObjectError(key, err)
		if errors.Is(cerr, core.ErrNotFound) {
			return nil
		}
		return cerr
	}
	return nil
}

// classifyObjectError converts minio-go errors to the shared taxonomy.
// Auth and permission failures are never retryable; timeouts, connection
// failures and server-side errors are.
func classifyObjectError(key string, err error) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return core.NotFound(key, "registry entry is absent", err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		return core.Storage(key, false, err)
	case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
		return core.Storage(key, true, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return core.NotFound(key, "registry entry is absent", err)
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return core.Storage(key, false, err)
	}
	if resp.StatusCode >= 500 {
		return core.Storage(key, true, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.Storage(key, true, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return core.Storage(key, true, err)
	}

	msg := strings.ToLower(err.Error())
	for _, transient := range []string{"timeout", "connection refused", "connection reset", "no such host", "eof"} {
		if strings.Contains(msg, transient) {
			return core.Storage(key, true, err)
		}
	}
	return core.Storage(key, false, err)
}
