package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu       sync.Mutex
	values   map[string]any
	setErr   error
	released []string
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, held := f.values[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == args[0] {
		delete(f.values, keys[0])
		f.released = append(f.released, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	f := &fakeRedis{values: map[string]any{}}
	l := NewRedisLocker(f, 0)
	assert.Equal(t, DefaultTTL, l.ttl)

	unlock, err := l.Lock(context.Background(), "doc:1")
	require.NoError(t, err)
	assert.Contains(t, f.values, "docvault:lock:doc:1")

	unlock()
	assert.Equal(t, []string{"docvault:lock:doc:1"}, f.released)
	assert.Empty(t, f.values)
}

func TestRedisLocker_WaitsForHolder(t *testing.T) {
	f := &fakeRedis{values: map[string]any{}}
	l := NewRedisLocker(f, time.Second)
	l.retryDelay = time.Millisecond

	unlock, err := l.Lock(context.Background(), "doc:1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(context.Background(), "doc:1")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock must wait")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestRedisLocker_Errors(t *testing.T) {
	f := &fakeRedis{values: map[string]any{"docvault:lock:busy": "other"}}
	l := NewRedisLocker(f, time.Second)
	l.retryDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Lock(ctx, "busy")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.setErr = errors.New("connection refused")
	_, err = l.Lock(context.Background(), "doc:2")
	assert.ErrorContains(t, err, "connection refused")
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	f := &fakeRedis{values: map[string]any{}}
	l := NewRedisLocker(f, time.Second)

	unlock, err := l.Lock(context.Background(), "doc:1")
	require.NoError(t, err)

	// lock expired and was taken by another process
	f.values["docvault:lock:doc:1"] = "someone-else"
	unlock()
	assert.Equal(t, "someone-else", f.values["docvault:lock:doc:1"])
}
