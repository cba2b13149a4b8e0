package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hopguard/hopguard-core/internal/testutil"
	hgerr "github.com/hopguard/hopguard-core/pkg/errors"
)

// mockCmdable is a hand-written Cmdable backed by an in-memory map. Keys
// never expire; expirations are recorded for assertions instead.
type mockCmdable struct {
	values      map[string]string
	expirations map[string]time.Duration
	failWith    error
	closed      bool
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		values:      make(map[string]string),
		expirations: make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if m.failWith != nil {
		cmd.SetErr(m.failWith)
		return cmd
	}
	switch v := value.(type) {
	case []byte:
		m.values[key] = string(v)
	case string:
		m.values[key] = v
	}
	m.expirations[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if m.failWith != nil {
		cmd.SetErr(m.failWith)
		return cmd
	}
	val, ok := m.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(val)
	return cmd
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if m.failWith != nil {
		cmd.SetErr(m.failWith)
		return cmd
	}
	var removed int64
	for _, key := range keys {
		if _, ok := m.values[key]; ok {
			delete(m.values, key)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if m.failWith != nil {
		cmd.SetErr(m.failWith)
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func (m *mockCmdable) Close() error {
	m.closed = true
	return nil
}

func TestPutSnapshot_StoresUnderNamespacedKey(t *testing.T) {
	t.Parallel()
	mock := newMockCmdable()
	client := NewFromClient(mock, nil)

	jwks := []byte(`{"keys":[]}`)
	err := client.PutSnapshot(context.Background(), "https://idp.example", jwks, 10*time.Minute)
	require.NoError(t, err)

	key := snapshotKeyPrefix + "https://idp.example"
	assert.Equal(t, string(jwks), mock.values[key])
	assert.Equal(t, 10*time.Minute, mock.expirations[key])
}

func TestGetSnapshot_RoundTrips(t *testing.T) {
	t.Parallel()
	mock := newMockCmdable()
	client := NewFromClient(mock, nil)

	jwks := []byte(`{"keys":[{"kid":"k1"}]}`)
	require.NoError(t, client.PutSnapshot(context.Background(), "https://idp.example", jwks, time.Hour))

	got, err := client.GetSnapshot(context.Background(), "https://idp.example")
	require.NoError(t, err)
	assert.Equal(t, jwks, got)
}

func TestGetSnapshot_MissingIsNotFound(t *testing.T) {
	t.Parallel()
	client := NewFromClient(newMockCmdable(), nil)

	_, err := client.GetSnapshot(context.Background(), "https://unknown.example")
	testutil.RequireErrorCode(t, err, hgerr.CodeNotFound)
}

func TestGetSnapshot_ServerErrorIsInternal(t *testing.T) {
	t.Parallel()
	mock := newMockCmdable()
	mock.failWith = errors.New("connection reset")
	client := NewFromClient(mock, nil)

	_, err := client.GetSnapshot(context.Background(), "https://idp.example")
	testutil.RequireErrorCode(t, err, hgerr.CodeInternal)
}

func TestGetSnapshot_DeadlineIsTimeout(t *testing.T) {
	t.Parallel()
	mock := newMockCmdable()
	mock.failWith = context.DeadlineExceeded
	client := NewFromClient(mock, nil)

	_, err := client.GetSnapshot(context.Background(), "https://idp.example")
	testutil.RequireErrorCode(t, err, hgerr.CodeTimeoutDependency)
	assert.True(t, hgerr.IsRetryable(err))
}

func TestDeleteSnapshot_RemovesKey(t *testing.T) {
	t.Parallel()
	mock := newMockCmdable()
	client := NewFromClient(mock, nil)

	require.NoError(t, client.PutSnapshot(context.Background(), "https://idp.example", []byte("{}"), time.Hour))
	require.NoError(t, client.DeleteSnapshot(context.Background(), "https://idp.example"))

	_, err := client.GetSnapshot(context.Background(), "https://idp.example")
	testutil.RequireErrorCode(t, err, hgerr.CodeNotFound)
}

func TestHealth_PingFailureIsUnavailable(t *testing.T) {
	t.Parallel()
	mock := newMockCmdable()
	mock.failWith = errors.New("connection refused")
	client := NewFromClient(mock, nil)

	err := client.Health(context.Background())
	testutil.RequireErrorCode(t, err, hgerr.CodeUnavailable)
}

func TestClose_ClosesUnderlyingClient(t *testing.T) {
	t.Parallel()
	mock := newMockCmdable()
	client := NewFromClient(mock, nil)

	require.NoError(t, client.Close())
	assert.True(t, mock.closed)
}
