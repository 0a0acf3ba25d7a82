// Package s3store writes audio artifacts to an S3 bucket.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// ErrObjectExists is returned when a write targets a key that is already taken.
var ErrObjectExists = errors.New("s3store: object already exists")

// s3API is the minimal S3 interface required by Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store writes objects once; an existing key is never overwritten.
type Store struct {
	api    s3API
	bucket string
}

// New creates a new Store for bucket.
func New(api s3API, bucket string) (*Store, error) {
	if api == nil {
		return nil, errors.New("s3store: api must not be nil")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("s3store: bucket must not be empty")
	}
	return &Store{api: api, bucket: bucket}, nil
}

// Put stores body at exactly key and returns the object's public URL.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("s3store: key must not be empty")
	}
	if len(body) == 0 {
		return "", errors.New("s3store: body must not be empty")
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		IfNoneMatch:   aws.String("*"),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if _, err := s.api.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("%w: %s", ErrObjectExists, key)
		}
		return "", fmt.Errorf("s3store: PutObject %s: %w", key, err)
	}
	return s.URL(key), nil
}

// URL returns the virtual-hosted URL of key. A key with a leading slash
// keeps it as an empty first path segment.
func (s *Store) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
