package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	deny     map[string]bool
	released []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}, deny: map[string]bool{}}
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny[key] || l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.released = append(l.released, key)
	return nil
}

func TestRunOnceRunsEveryJobAndReleasesLocks(t *testing.T) {
	m := metrics.New()
	locker := newFakeLocker()
	locker.deny["quota"] = true

	r := NewRunner(time.Minute, locker, m,
		Job{Name: "sweep", Run: func(context.Context) (int64, error) { return 3, nil }},
		Job{Name: "quota", Run: func(context.Context) (int64, error) { return 1, nil }},
		Job{Name: "broken", Run: func(context.Context) (int64, error) { return 0, errors.New("db down") }},
		Job{Name: "lapse", Run: func(context.Context) (int64, error) { return 0, nil }},
	)

	results := r.RunOnce(context.Background())
	require.Equal(t, map[string]int64{"sweep": 3, "lapse": 0}, results)
	require.ElementsMatch(t, []string{"sweep", "broken", "lapse"}, locker.released)

	require.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("sweep", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("quota", "skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("broken", "error")))
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	ran := make(chan struct{}, 10)
	r := NewRunner(time.Hour, nil, metrics.New(),
		Job{Name: "tick", Run: func(context.Context) (int64, error) {
			ran <- struct{}{}
			return 0, nil
		}},
	)

	r.Start(context.Background())
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}
	r.Stop()
}

func TestRedisLockerUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	m := metrics.New()
	ran := false
	r := NewRunner(time.Minute, NewRedisLocker(client, "licensing:jobs:"), m,
		Job{Name: "sweep", Run: func(context.Context) (int64, error) {
			ran = true
			return 0, nil
		}},
	)

	require.Empty(t, r.RunOnce(context.Background()))
	require.False(t, ran)
	require.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("sweep", "lock_error")))
}

func TestConnect(t *testing.T) {
	client, err := Connect("redis://:secret@cache.internal:6380/2")
	require.NoError(t, err)
	require.Equal(t, "cache.internal:6380", client.Options().Addr)
	require.Equal(t, 2, client.Options().DB)
	require.NoError(t, client.Close())

	client, err = Connect("localhost:6379")
	require.NoError(t, err)
	require.Equal(t, "localhost:6379", client.Options().Addr)
	require.NoError(t, client.Close())

	_, err = Connect("redis://host:notaport")
	require.Error(t, err)
}
