package redisclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), mr.Addr(), "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisDoctorLocker_HoldsAndReleasesKey(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisDoctorLocker(rdb, 5*time.Second, time.Second)
	doctorID := uuid.New()
	key := lockKey(doctorID)

	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		assert.True(t, mr.Exists(key))
		assert.Greater(t, mr.TTL(key), time.Duration(0))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))
}

func TestRedisDoctorLocker_SerializesContenders(t *testing.T) {
	_, rdb := newTestRedis(t)
	locker := NewRedisDoctorLocker(rdb, 5*time.Second, 5*time.Second)
	doctorID := uuid.New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestRedisDoctorLocker_GivesUpAfterWait(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisDoctorLocker(rdb, 5*time.Second, 60*time.Millisecond)
	doctorID := uuid.New()
	key := lockKey(doctorID)

	require.NoError(t, mr.Set(key, "someone-else"))

	called := false
	start := time.Now()
	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisDoctorLocker_AcquiresOnceFreed(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisDoctorLocker(rdb, 5*time.Second, 2*time.Second)
	doctorID := uuid.New()
	key := lockKey(doctorID)

	require.NoError(t, mr.Set(key, "someone-else"))
	go func() {
		time.Sleep(50 * time.Millisecond)
		mr.Del(key)
	}()

	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))
}

func TestRedisDoctorLocker_ReleaseKeepsForeignToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisDoctorLocker(rdb, 5*time.Second, time.Second)
	doctorID := uuid.New()
	key := lockKey(doctorID)

	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		// our lease expired and another process took the key over
		return mr.Set(key, "new-owner")
	})
	require.NoError(t, err)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "new-owner", got)
}

func TestRedisDoctorLocker_PropagatesError(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisDoctorLocker(rdb, 5*time.Second, time.Second)
	doctorID := uuid.New()

	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, mr.Exists(lockKey(doctorID)))
}

func TestPublisher_PublishesOnUserChannel(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	userID := uuid.New()

	sub := rdb.Subscribe(ctx, UserChannel(userID))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, NewPublisher(rdb).Publish(ctx, userID, []byte(`{"type":"appointment_cancelled"}`)))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, UserChannel(userID), msg.Channel)
	assert.JSONEq(t, `{"type":"appointment_cancelled"}`, msg.Payload)
}
