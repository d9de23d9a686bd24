package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options 描述对象存储后端的连接参数，所有站点共用一个存储桶，
// generation 以对象前缀区分。
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
}

// bucketMarker 保证空 generation 也能通过前缀列举出来。
const bucketMarker = ".bucket"

// NewS3Store 创建 minio 客户端，并在存储桶缺失时自动创建。
func NewS3Store(ctx context.Context, opts S3Options) (Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	clientOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}
	if opts.PathStyle {
		clientOpts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(opts.Endpoint, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := cl.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check s3 bucket: %w", err)
	}
	if !exists {
		if err := cl.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("create s3 bucket: %w", err)
		}
	}
	return &s3Store{cl: cl, bucket: opts.Bucket}, nil
}

type s3Store struct {
	cl     *minio.Client
	bucket string
}

func (s *s3Store) Driver() string {
	return "s3"
}

func (s *s3Store) prefix(id BucketID) string {
	return id.Site + "/" + id.Generation + "/"
}

func (s *s3Store) Open(ctx context.Context, id BucketID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	_, err := s.cl.PutObject(ctx, s.bucket, s.prefix(id)+bucketMarker, bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	return err
}

func (s *s3Store) Get(ctx context.Context, id BucketID, entry string) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	obj, err := s.cl.GetObject(ctx, s.bucket, s.prefix(id)+entry, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateS3Error(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateS3Error(err)
	}
	return data, nil
}

func (s *s3Store) Put(ctx context.Context, id BucketID, entry string, data []byte) error {
	if err := id.Validate(); err != nil {
		return err
	}
	_, err := s.cl.PutObject(ctx, s.bucket, s.prefix(id)+entry, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func (s *s3Store) Generations(ctx context.Context, site string) ([]string, error) {
	if err := validateName("site", site); err != nil {
		return nil, err
	}
	prefix := site + "/"
	var result []string
	for obj := range s.cl.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
		if name == "" || strings.Contains(name, "/") || !strings.HasSuffix(obj.Key, "/") {
			continue
		}
		result = append(result, name)
	}
	sort.Strings(result)
	return result, nil
}

func (s *s3Store) Drop(ctx context.Context, id BucketID) error {
	if err := id.Validate(); err != nil {
		return err
	}

	var listErr error
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		opts := minio.ListObjectsOptions{Prefix: s.prefix(id), Recursive: true}
		for obj := range s.cl.ListObjects(ctx, s.bucket, opts) {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			select {
			case objectsCh <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	var removeErr error
	for rErr := range s.cl.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if removeErr == nil {
			removeErr = fmt.Errorf("remove %s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	if listErr != nil {
		return listErr
	}
	return removeErr
}

func translateS3Error(err error) error {
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}
