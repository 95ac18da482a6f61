package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/wishspace-backend/pkg/config"
)

func TestPublishSendsPayload(t *testing.T) {
	mock := &mockCmdable{}
	client := &Client{store: mock}

	require.NoError(t, client.Publish(context.Background(), "ws:channel:feed", []byte(`{"a":1}`)))
	require.Len(t, mock.published, 1)
	require.Equal(t, "ws:channel:feed", mock.published[0].channel)
	require.Equal(t, []byte(`{"a":1}`), mock.published[0].payload)
}

func TestPublishPropagatesError(t *testing.T) {
	mock := &mockCmdable{publishErr: errors.New("down")}
	client := &Client{store: mock}

	require.EqualError(t, client.Publish(context.Background(), "c", []byte("x")), "down")
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	ctx := context.Background()

	require.ErrorIs(t, client.Publish(ctx, "c", nil), errNotInitialized)
	require.ErrorIs(t, client.Ping(ctx), errNotInitialized)
	_, err := client.Subscribe(ctx, "c")
	require.ErrorIs(t, err, errNotInitialized)
	require.NoError(t, client.Close())
}

func TestChannelKey(t *testing.T) {
	client := &Client{}
	require.Equal(t, "ws:channel:feed", client.ChannelKey("feed"))
	require.Equal(t, "ws:channel", client.ChannelKey(""))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	require.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://:pw@localhost:6380/2",
		PoolSize:    7,
		DialTimeout: time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "localhost:6380", opts.Addr)
	require.Equal(t, 2, opts.DB)
	require.Equal(t, "pw", opts.Password)
	require.Equal(t, 7, opts.PoolSize)
	require.Equal(t, time.Second, opts.DialTimeout)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 3})
	require.NoError(t, err)
	require.Equal(t, "cache:6379", opts.Addr)
	require.Equal(t, 3, opts.DB)
}

type publishCall struct {
	channel string
	payload any
}

type mockCmdable struct {
	published  []publishCall
	publishErr error
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (m *mockCmdable) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if m.publishErr != nil {
		cmd.SetErr(m.publishErr)
		return cmd
	}
	m.published = append(m.published, publishCall{channel: channel, payload: message})
	cmd.SetVal(1)
	return cmd
}
