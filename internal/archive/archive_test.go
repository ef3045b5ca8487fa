package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

type MockPutObjectAPI struct {
	mock.Mock
}

func (m *MockPutObjectAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func TestJSONL(t *testing.T) {
	w := NewJSONL()
	for _, source := range []string{"stripe", "hotmart"} {
		require.NoError(t, w.Write(domain.WebhookEvent{
			ID:     uuid.New(),
			Source: source,
			Status: domain.StatusSuccess,
		}))
	}
	assert.Equal(t, 2, w.Len())

	scanner := bufio.NewScanner(bytes.NewReader(w.Bytes()))
	var sources []string
	for scanner.Scan() {
		var ev domain.WebhookEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		sources = append(sources, ev.Source)
	}
	assert.Equal(t, []string{"stripe", "hotmart"}, sources)
}

func TestKey(t *testing.T) {
	cutoff := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)
	now := time.Unix(1772366400, 0)

	assert.Equal(t, "hookgate/webhook_events/2026/01/30/20260130T000000Z-1772366400.jsonl", Key("hookgate", cutoff, now))
	assert.Equal(t, "webhook_events/2026/01/30/20260130T000000Z-1772366400.jsonl", Key("", cutoff, now))
}

func TestS3Archiver_Put(t *testing.T) {
	ctx := context.Background()
	data := []byte("{\"id\":1}\n")

	t.Run("uploads ndjson", func(t *testing.T) {
		client := new(MockPutObjectAPI)
		client.On("PutObject", ctx, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
			body, _ := io.ReadAll(in.Body)
			return aws.ToString(in.Bucket) == "ledger-archive" &&
				aws.ToString(in.Key) == "k.jsonl" &&
				aws.ToString(in.ContentType) == "application/x-ndjson" &&
				bytes.Equal(body, data)
		})).Return(&s3.PutObjectOutput{}, nil)

		err := NewS3ArchiverWithClient(client, "ledger-archive").Put(ctx, "k.jsonl", data)
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "missing bucket", err: &smithy.GenericAPIError{Code: "NoSuchBucket"}, wantErr: ErrBucketNotFound},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}, wantErr: ErrAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockPutObjectAPI)
			client.On("PutObject", ctx, mock.Anything).Return(nil, tt.err)

			err := NewS3ArchiverWithClient(client, "ledger-archive").Put(ctx, "k.jsonl", data)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("other errors are wrapped", func(t *testing.T) {
		client := new(MockPutObjectAPI)
		boom := errors.New("dial tcp: i/o timeout")
		client.On("PutObject", ctx, mock.Anything).Return(nil, boom)

		err := NewS3ArchiverWithClient(client, "ledger-archive").Put(ctx, "k.jsonl", data)
		assert.ErrorIs(t, err, boom)
	})
}
