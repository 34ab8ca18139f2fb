package crashpublish

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCrashID = "de1bb258-cbbf-4589-a673-34f800160918"

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	require.NoError(t, client.Ping(context.Background()).Err())

	return client, mr
}

func TestNoopPublisher(t *testing.T) {
	p := NewNoop(zap.NewNop())
	require.NoError(t, p.Publish(context.Background(), testCrashID))
	assert.Equal(t, []string{testCrashID}, p.Published())
}

func TestRedisPublisher(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	p := NewRedisWithClient(client, "antenna:crashes", zap.NewNop())
	defer p.Close()
	ctx := context.Background()

	t.Run("pushes crash ids", func(t *testing.T) {
		require.NoError(t, p.Publish(ctx, testCrashID))
		require.NoError(t, p.Publish(ctx, "second"))

		items, err := mr.List("antenna:crashes")
		require.NoError(t, err)
		assert.Equal(t, []string{"second", testCrashID}, items)
	})

	t.Run("reports queue depth", func(t *testing.T) {
		state := domain.NewHealthState()
		p.CheckHealth(ctx, state)
		assert.True(t, state.IsHealthy())
		assert.Equal(t, int64(2), state.Info["redis_queue_depth"])
	})

	t.Run("reports unreachable server", func(t *testing.T) {
		mr.Close()

		state := domain.NewHealthState()
		p.CheckHealth(ctx, state)
		assert.False(t, state.IsHealthy())
		assert.Error(t, p.Publish(ctx, testCrashID))
	})
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis("not a url", "k", zap.NewNop())
	assert.Error(t, err)
}

type fakeSQS struct {
	sent    []string
	sendErr error
	attrErr error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

func (f *fakeSQS) GetQueueAttributes(context.Context, *sqs.GetQueueAttributesInput, ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if f.attrErr != nil {
		return nil, f.attrErr
	}
	return &sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{"ApproximateNumberOfMessages": "3"},
	}, nil
}

func TestSQSPublisher(t *testing.T) {
	client := &fakeSQS{}
	p := NewSQSWithClient(client, "http://localhost:4576/queue/antenna", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, testCrashID))
	assert.Equal(t, []string{testCrashID}, client.sent)

	state := domain.NewHealthState()
	p.CheckHealth(ctx, state)
	assert.True(t, state.IsHealthy())
	assert.Equal(t, "3", state.Info["sqs_queue_depth"])

	client.sendErr = errors.New("throttled")
	client.attrErr = errors.New("queue does not exist")
	assert.Error(t, p.Publish(ctx, testCrashID))

	state = domain.NewHealthState()
	p.CheckHealth(ctx, state)
	require.Len(t, state.Errors, 1)
	assert.Contains(t, state.Errors[0], "SQSPublisher")
}
