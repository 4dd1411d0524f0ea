package ranger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/makr-code/themis-policy/internal/retry"
	"github.com/makr-code/themis-policy/pkg/policy"
	"github.com/makr-code/themis-policy/pkg/storage"
	"github.com/makr-code/themis-policy/pkg/telemetry"
)

// CheckpointKey is where the syncer records its last successful run.
const CheckpointKey = "ranger/last_sync"

// Checkpoint describes the last successful synchronization.
type Checkpoint struct {
	RunID       string    `json:"run_id"`
	ServiceName string    `json:"service_name"`
	FetchedAt   time.Time `json:"fetched_at"`
	PolicyCount int       `json:"policy_count"`
}

// Fetcher retrieves the authority's policy document.
type Fetcher interface {
	FetchPolicies(ctx context.Context) (Document, error)
}

// SyncerConfig tunes the synchronization loop.
type SyncerConfig struct {
	// Interval between periodic syncs in Run. Zero or negative disables
	// the loop; Sync can still be invoked directly.
	Interval time.Duration
	// Retry is the per-sync retry budget for the fetch.
	Retry retry.Config
	// ServiceName is recorded in checkpoints to identify whose policies
	// the last sync fetched.
	ServiceName string
}

// Syncer replaces the policy store's list with the authority's, either on
// demand or on a fixed interval. The fetch never runs on a request-serving
// path; handlers that trigger a sync do so by calling Sync from their own
// goroutine and the replacement lands through the store's atomic swap.
type Syncer struct {
	fetcher Fetcher
	store   *policy.Store
	kv      storage.KV
	retry   *retry.Policy
	cfg     SyncerConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewSyncer builds a syncer. kv may be nil, in which case no checkpoints are
// recorded.
func NewSyncer(fetcher Fetcher, store *policy.Store, kv storage.KV, cfg SyncerConfig, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		fetcher: fetcher,
		store:   store,
		kv:      kv,
		retry:   retry.NewPolicy(cfg.Retry),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Sync fetches the authority's document within the retry budget, converts
// it, and swaps it into the store as the complete new list. On any failure
// the store keeps its previous list. Returns the number of policies applied.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	var doc Document
	_, err := s.retry.ExecuteWithRetry(ctx, func() (int, error) {
		fetched, ferr := s.fetcher.FetchPolicies(ctx)
		if ferr != nil {
			var httpErr *HTTPError
			if errors.As(ferr, &httpErr) {
				return httpErr.StatusCode, ferr
			}
			return 0, ferr
		}
		doc = fetched
		return http.StatusOK, nil
	})
	if err != nil {
		telemetry.RecordSyncAttempt(ctx, false, 0)
		return 0, fmt.Errorf("sync policies: %w", err)
	}

	policies := FromRanger(doc)
	s.store.SetPolicies(policies)
	telemetry.RecordSyncAttempt(ctx, true, len(policies))
	s.writeCheckpoint(ctx, len(policies))
	s.logger.InfoContext(ctx, "Policies synced from authority", "count", len(policies))
	return len(policies), nil
}

// Run performs one sync immediately and then one per interval until the
// context is done. Failures are logged and the loop continues with the
// previous list still active.
func (s *Syncer) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		return
	}

	if _, err := s.Sync(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Initial policy sync failed", "error", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Policy sync failed, keeping previous list", "error", err)
			}
		}
	}
}

// LastCheckpoint returns the record of the most recent successful sync, or
// storage.ErrNotFound when none has completed yet.
func (s *Syncer) LastCheckpoint(ctx context.Context) (Checkpoint, error) {
	if s.kv == nil {
		return Checkpoint{}, storage.ErrNotFound
	}
	raw, err := s.kv.Get(ctx, CheckpointKey)
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode sync checkpoint: %w", err)
	}
	return cp, nil
}

// writeCheckpoint is best effort: checkpoint loss never fails a sync.
func (s *Syncer) writeCheckpoint(ctx context.Context, count int) {
	if s.kv == nil {
		return
	}
	cp := Checkpoint{
		RunID:       uuid.New().String(),
		ServiceName: s.cfg.ServiceName,
		FetchedAt:   s.now().UTC(),
		PolicyCount: count,
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		s.logger.WarnContext(ctx, "Encode sync checkpoint failed", "error", err)
		return
	}
	if err := s.kv.Put(ctx, CheckpointKey, raw); err != nil {
		s.logger.WarnContext(ctx, "Write sync checkpoint failed", "error", err)
	}
}
