package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockObjectAPI struct {
	mock.Mock
}

func (m *MockObjectAPI) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.HeadObjectOutput), args.Error(1)
}

func (m *MockObjectAPI) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func objectInput(bucket, key string) any {
	return mock.MatchedBy(func(in interface{}) bool {
		switch v := in.(type) {
		case *s3.HeadObjectInput:
			return aws.ToString(v.Bucket) == bucket && aws.ToString(v.Key) == key
		case *s3.GetObjectInput:
			return aws.ToString(v.Bucket) == bucket && aws.ToString(v.Key) == key
		}
		return false
	})
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://guidelines/lupus/fatigue.pdf", "guidelines", "lupus/fatigue.pdf", false},
		{"s3://guidelines/a.txt", "guidelines", "a.txt", false},
		{"s3://guidelines/", "", "", true},
		{"s3:///a.txt", "", "", true},
		{"https://guidelines/a.txt", "", "", true},
		{"s3://guidelines/dir/", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}

	assert.True(t, IsS3URI("s3://b/k"))
	assert.False(t, IsS3URI("/tmp/k.pdf"))
}

func TestS3Client_Fetch(t *testing.T) {
	api := new(MockObjectAPI)
	client := NewS3ClientWithAPI(api, 0)
	body := []byte("Sun exposure can trigger flares.")

	api.On("HeadObject", mock.Anything, objectInput("kb", "lupus/sun.txt")).
		Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil)
	api.On("GetObject", mock.Anything, objectInput("kb", "lupus/sun.txt")).
		Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil)

	name, data, err := client.Fetch(context.Background(), "s3://kb/lupus/sun.txt")

	require.NoError(t, err)
	assert.Equal(t, "sun.txt", name)
	assert.Equal(t, body, data)
	api.AssertExpectations(t)
}

func TestS3Client_Fetch_TooLarge(t *testing.T) {
	api := new(MockObjectAPI)
	client := NewS3ClientWithAPI(api, 10)

	api.On("HeadObject", mock.Anything, mock.Anything).
		Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(11)}, nil)

	_, _, err := client.Fetch(context.Background(), "s3://kb/big.pdf")

	assert.ErrorIs(t, err, ErrObjectTooLarge)
	api.AssertNotCalled(t, "GetObject", mock.Anything, mock.Anything)
}

func TestS3Client_Fetch_BodyLongerThanHead(t *testing.T) {
	api := new(MockObjectAPI)
	client := NewS3ClientWithAPI(api, 4)

	api.On("HeadObject", mock.Anything, mock.Anything).
		Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(4)}, nil)
	api.On("GetObject", mock.Anything, mock.Anything).
		Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("0123456789")))}, nil)

	_, _, err := client.Fetch(context.Background(), "s3://kb/a.txt")

	assert.ErrorIs(t, err, ErrObjectTooLarge)
}

func TestS3Client_Fetch_HeadError(t *testing.T) {
	api := new(MockObjectAPI)
	client := NewS3ClientWithAPI(api, 0)
	notFound := errors.New("NotFound")

	api.On("HeadObject", mock.Anything, mock.Anything).Return(nil, notFound)

	_, _, err := client.Fetch(context.Background(), "s3://kb/missing.txt")

	assert.ErrorIs(t, err, notFound)
}
