package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	err     error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	api := &fakeS3{objects: map[string][]byte{}}
	s := &S3{api: api, bucket: "vault"}

	require.NoError(t, s.Put(ctx, "2026/10/a.enc", []byte("cipher")))
	assert.Contains(t, api.objects, "vault/2026/10/a.enc")

	got, err := s.Get(ctx, "2026/10/a.enc")
	require.NoError(t, err)
	assert.Equal(t, "cipher", string(got))

	require.NoError(t, s.Delete(ctx, "2026/10/a.enc"))
	_, err = s.Get(ctx, "2026/10/a.enc")
	assert.ErrorIs(t, err, common.ErrStorageIO)

	assert.ErrorIs(t, s.Put(ctx, "../x", nil), common.ErrValidation)
}

func TestS3_BackendErrors(t *testing.T) {
	ctx := context.Background()
	s := &S3{api: &fakeS3{objects: map[string][]byte{}, err: errors.New("503")}, bucket: "vault"}

	assert.ErrorIs(t, s.Put(ctx, "k", []byte("x")), common.ErrStorageIO)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, common.ErrStorageIO)
	assert.ErrorIs(t, s.Delete(ctx, "k"), common.ErrStorageIO)
}

func TestNewS3_AppliesConfig(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Fatalf("load options fn error: %v", err)
			}
		}
		if lo.Region != "eu-central-1" {
			t.Fatalf("region not applied: %q", lo.Region)
		}
		if lo.Credentials == nil {
			t.Fatalf("static credentials not applied")
		}
		return aws.Config{}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &s3.Client{}
	}

	s, err := NewS3(context.Background(), S3Config{
		Region: "eu-central-1", Endpoint: "http://127.0.0.1:9000", AccessKey: "minio", SecretKey: "minio123",
		Bucket: "vault", UsePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "vault", s.bucket)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://127.0.0.1:9000", *opts.BaseEndpoint)
	assert.True(t, opts.UsePathStyle)
}

func TestNewS3_Errors(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.ErrorIs(t, err, common.ErrValidation)

	origLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = origLoad })
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}

	_, err = NewS3(context.Background(), S3Config{Bucket: "vault"})
	assert.ErrorIs(t, err, common.ErrStorageIO)
}
