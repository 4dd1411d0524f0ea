package ranger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makr-code/themis-policy/internal/retry"
	"github.com/makr-code/themis-policy/pkg/domain"
	"github.com/makr-code/themis-policy/pkg/policy"
	"github.com/makr-code/themis-policy/pkg/storage"
)

type fetcherFunc func(ctx context.Context) (Document, error)

func (f fetcherFunc) FetchPolicies(ctx context.Context) (Document, error) { return f(ctx) }

func fastSyncerConfig(maxRetries int) SyncerConfig {
	return SyncerConfig{
		Retry: retry.Config{
			MaxRetries:     maxRetries,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Jitter:         false,
		},
	}
}

func seededStore(t *testing.T) *policy.Store {
	t.Helper()
	s := policy.NewStore(nil)
	s.SetPolicies([]domain.Policy{{
		ID:       "local-1",
		Subjects: []string{"alice"},
		Actions:  []string{"read"},
		Effect:   domain.EffectAllow,
	}})
	return s
}

func TestSyncAppliesFetchedPolicies(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	kv := storage.NewMemoryKV()

	doc := Document{{
		Name:      "data-access",
		Resources: map[string]ResourceMatcher{"path": {Values: []string{"/data"}}},
		PolicyItems: []PolicyItem{
			{Users: []string{"alice"}, Accesses: []Access{{Type: "READ", IsAllowed: true}}},
		},
		DenyPolicyItems: []PolicyItem{
			{Users: []string{"mallory"}, Accesses: []Access{{Type: "READ", IsAllowed: false}}},
		},
	}}
	cfg := fastSyncerConfig(0)
	cfg.ServiceName = "themisdb"
	syncer := NewSyncer(fetcherFunc(func(context.Context) (Document, error) {
		return doc, nil
	}), store, kv, cfg, nil)

	fixed := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)
	syncer.now = func() time.Time { return fixed }

	count, err := syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// The fetched list fully replaced the local one.
	listed := store.ListPolicies()
	require.Len(t, listed, 2)
	assert.Equal(t, "ranger-1", listed[0].ID)
	assert.Equal(t, "ranger-2", listed[1].ID)
	assert.False(t, store.Authorize("mallory", "read", "/data/x", "").Allowed)

	cp, err := syncer.LastCheckpoint(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, cp.RunID)
	assert.Equal(t, "themisdb", cp.ServiceName)
	assert.Equal(t, 2, cp.PolicyCount)
	assert.Equal(t, fixed, cp.FetchedAt)
}

func TestSyncEmptyDocumentWipesList(t *testing.T) {
	store := seededStore(t)
	syncer := NewSyncer(fetcherFunc(func(context.Context) (Document, error) {
		return Document{}, nil
	}), store, nil, fastSyncerConfig(0), nil)

	count, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, store.Count())

	// With no policies the evaluator is back to default allow.
	assert.True(t, store.Authorize("anyone", "anything", "/", "").Allowed)
}

func TestSyncFailureKeepsPreviousList(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	kv := storage.NewMemoryKV()

	syncer := NewSyncer(fetcherFunc(func(context.Context) (Document, error) {
		return nil, errors.New("connection refused")
	}), store, kv, fastSyncerConfig(1), nil)

	_, err := syncer.Sync(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, retry.ErrMaxRetriesExceeded)

	assert.Equal(t, 1, store.Count())
	assert.Equal(t, "local-1", store.ListPolicies()[0].ID)

	_, err = syncer.LastCheckpoint(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSyncRetriesRetryableStatuses(t *testing.T) {
	store := seededStore(t)

	var calls int32
	syncer := NewSyncer(fetcherFunc(func(context.Context) (Document, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, &HTTPError{StatusCode: 503, Body: "try later"}
		}
		return Document{}, nil
	}), store, nil, fastSyncerConfig(2), nil)

	_, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSyncDoesNotRetryClientErrors(t *testing.T) {
	store := seededStore(t)

	var calls int32
	syncer := NewSyncer(fetcherFunc(func(context.Context) (Document, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &HTTPError{StatusCode: 401, Body: "bad token"}
	}), store, nil, fastSyncerConfig(3), nil)

	_, err := syncer.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 401, httpErr.StatusCode)
	assert.Equal(t, 1, store.Count())
}

func TestRunSyncsOnInterval(t *testing.T) {
	store := seededStore(t)

	var calls int32
	cfg := fastSyncerConfig(0)
	cfg.Interval = 20 * time.Millisecond
	syncer := NewSyncer(fetcherFunc(func(context.Context) (Document, error) {
		atomic.AddInt32(&calls, 1)
		return Document{}, nil
	}), store, nil, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		syncer.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 3
	}, 3*time.Second, 5*time.Millisecond, "periodic sync never ran")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestRunDisabledWithoutInterval(t *testing.T) {
	store := seededStore(t)

	var fetched int32
	syncer := NewSyncer(fetcherFunc(func(context.Context) (Document, error) {
		atomic.AddInt32(&fetched, 1)
		return Document{}, nil
	}), store, nil, fastSyncerConfig(0), nil)

	done := make(chan struct{})
	go func() {
		syncer.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run with zero interval should return immediately")
	}
	assert.Zero(t, atomic.LoadInt32(&fetched))
}

func TestLastCheckpointWithoutKV(t *testing.T) {
	syncer := NewSyncer(fetcherFunc(func(context.Context) (Document, error) {
		return Document{}, nil
	}), policy.NewStore(nil), nil, fastSyncerConfig(0), nil)

	_, err := syncer.LastCheckpoint(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Syncing without a KV still works, it just records nothing.
	_, err = syncer.Sync(context.Background())
	assert.NoError(t, err)
}
