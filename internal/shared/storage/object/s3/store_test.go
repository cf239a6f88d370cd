package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"cv-backend/internal/shared/storage/object"
)

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "generations/a/generated_cv.pdf", want: "generations/a/generated_cv.pdf"},
		{name: "simple prefix", prefix: "root", key: "generations/a.pdf", want: "root/generations/a.pdf"},
		{name: "prefix trailing slash", prefix: "root/", key: "generations/a.pdf", want: "root/generations/a.pdf"},
		{name: "prefix and key slashes", prefix: "/root/", key: "/generations/a.pdf", want: "root/generations/a.pdf"},
		{name: "empty key", prefix: "root", key: "", want: "root"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

type fakeS3 struct {
	put    *s3.PutObjectInput
	body   string
	getErr error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = params
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = string(data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return &s3.DeleteObjectOutput{}, nil
}

func TestSaveWithKeySetsEncryptionAndCountsBytes(t *testing.T) {
	fake := &fakeS3{}
	store := &Store{client: fake, bucket: "bucket", prefix: "cv"}

	n, err := store.SaveWithKey(context.Background(), "generations/a/generated_cv.pdf", "application/pdf", strings.NewReader("%PDF-1.5"))
	if err != nil {
		t.Fatalf("SaveWithKey: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected 8 bytes, got %d", n)
	}
	if aws.ToString(fake.put.Key) != "cv/generations/a/generated_cv.pdf" {
		t.Fatalf("unexpected key %q", aws.ToString(fake.put.Key))
	}
	if fake.put.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("expected AES256 SSE, got %q", fake.put.ServerSideEncryption)
	}
	if aws.ToString(fake.put.ContentType) != "application/pdf" {
		t.Fatalf("unexpected content type %q", aws.ToString(fake.put.ContentType))
	}
}

func TestSaveWithKeyUsesKMSWhenConfigured(t *testing.T) {
	fake := &fakeS3{}
	store := &Store{client: fake, bucket: "bucket", kmsKeyID: "kms-1"}

	if _, err := store.SaveWithKey(context.Background(), "k", "", strings.NewReader("x")); err != nil {
		t.Fatalf("SaveWithKey: %v", err)
	}
	if fake.put.ServerSideEncryption != s3types.ServerSideEncryptionAwsKms {
		t.Fatalf("expected KMS SSE, got %q", fake.put.ServerSideEncryption)
	}
	if aws.ToString(fake.put.SSEKMSKeyId) != "kms-1" {
		t.Fatalf("unexpected kms key %q", aws.ToString(fake.put.SSEKMSKeyId))
	}
}

func TestOpenMapsNoSuchKey(t *testing.T) {
	store := &Store{client: &fakeS3{getErr: &s3types.NoSuchKey{}}, bucket: "bucket"}
	if _, err := store.Open(context.Background(), "missing"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenWrapsOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	store := &Store{client: &fakeS3{getErr: boom}, bucket: "bucket"}
	_, err := store.Open(context.Background(), "k")
	if !errors.Is(err, boom) || errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}
