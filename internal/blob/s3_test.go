package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOpts() S3Options {
	return S3Options{
		AccessKey:    "admin",
		SecretKey:    "secretpassword",
		Bucket:       "documents",
		Region:       "us-east-1",
		BaseEndpoint: "http://127.0.0.1:9000/",
	}
}

// stubAWS replaces the SDK wrappers for the duration of one test.
func stubAWS(t *testing.T) {
	t.Helper()

	origLoad := loadDefaultAWSConfig
	origPut := presignPutObject
	origGet := presignGetObject
	origDel := deleteObject
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		presignPutObject = origPut
		presignGetObject = origGet
		deleteObject = origDel
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
}

func TestS3Store_Put_UploadsThroughPresignedURL(t *testing.T) {
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	stubAWS(t)
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		assert.Equal(t, "documents", *in.Bucket)
		assert.Equal(t, "documents/doc-1/v4", *in.Key)
		return &v4.PresignedHTTPRequest{URL: ts.URL, Method: http.MethodPut}, nil
	}

	s := NewS3Store(testOpts())
	err := s.Put(context.Background(), "documents/doc-1/v4", []byte("payload"), "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), gotBody)
}

func TestS3Store_Put_PresignError(t *testing.T) {
	stubAWS(t)
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return nil, errors.New("presign failure")
	}

	s := NewS3Store(testOpts())
	err := s.Put(context.Background(), "documents/doc-1/v4", []byte("payload"), "application/octet-stream")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presign failure")
}

func TestS3Store_Get_DownloadsThroughPresignedURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("stored bytes"))
	}))
	defer ts.Close()

	stubAWS(t)
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return &v4.PresignedHTTPRequest{URL: ts.URL, Method: http.MethodGet}, nil
	}

	s := NewS3Store(testOpts())
	data, err := s.Get(context.Background(), "documents/doc-1/v4")
	require.NoError(t, err)
	assert.Equal(t, []byte("stored bytes"), data)
}

func TestS3Store_GetReadLocation_PresignError(t *testing.T) {
	stubAWS(t)
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return nil, errors.New("presign get failure")
	}

	s := NewS3Store(testOpts())
	_, err := s.GetReadLocation(context.Background(), "documents/doc-1/v4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presign get failure")
}

func TestS3Store_Delete_DeleteObjectError(t *testing.T) {
	stubAWS(t)
	deleteObject = func(c *s3.Client, ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
		return nil, errors.New("delete failure")
	}

	s := NewS3Store(testOpts())
	err := s.Delete(context.Background(), "documents/doc-1/v3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete failure")
}
