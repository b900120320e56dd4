package index

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchhub/searchhub/internal/model"
	"github.com/searchhub/searchhub/internal/testutil"
)

type fakeCandidateStore struct {
	candidates []model.StaleCandidate
	err        error
}

func (f *fakeCandidateStore) ListStaleCandidates(_ context.Context, limit int, _ *uuid.UUID) ([]model.StaleCandidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestClassify(t *testing.T) {
	now := time.Now()
	tol := time.Second

	tests := []struct {
		name       string
		c          model.StaleCandidate
		wantReason model.StaleReason
		wantStale  bool
	}{
		{
			name:       "never indexed with content",
			c:          model.StaleCandidate{HasContent: true, UpdatedAt: now},
			wantReason: model.StaleNeverIndexed,
			wantStale:  true,
		},
		{
			name: "updated after last index beyond tolerance",
			c: model.StaleCandidate{
				HasContent:    true,
				UpdatedAt:     now,
				LastIndexedAt: ptrTime(now.Add(-time.Minute)),
				HasIndexState: true,
			},
			wantReason: model.StaleContentChanged,
			wantStale:  true,
		},
		{
			name: "updated within tolerance is fresh",
			c: model.StaleCandidate{
				HasContent:    true,
				UpdatedAt:     now,
				LastIndexedAt: ptrTime(now.Add(-500 * time.Millisecond)),
				HasIndexState: true,
			},
			wantStale: false,
		},
		{
			name: "indexed after update is fresh",
			c: model.StaleCandidate{
				HasContent:    true,
				UpdatedAt:     now.Add(-time.Minute),
				LastIndexedAt: ptrTime(now),
				HasIndexState: true,
			},
			wantStale: false,
		},
		{
			name:      "no content never stale",
			c:         model.StaleCandidate{HasContent: false, UpdatedAt: now},
			wantStale: false,
		},
		{
			name: "chunks without index state always stale",
			c: model.StaleCandidate{
				HasContent:    false,
				UpdatedAt:     now,
				ChunkCount:    3,
				HasIndexState: false,
			},
			wantReason: model.StaleMissingIndexState,
			wantStale:  true,
		},
		{
			name: "chunks with index state follow normal rules",
			c: model.StaleCandidate{
				HasContent:    true,
				UpdatedAt:     now.Add(-time.Minute),
				LastIndexedAt: ptrTime(now),
				ChunkCount:    3,
				HasIndexState: true,
			},
			wantStale: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, stale := Classify(tt.c, tol)
			assert.Equal(t, tt.wantStale, stale)
			if tt.wantStale {
				assert.Equal(t, tt.wantReason, reason)
			}
		})
	}
}

func TestFindStaleDocuments(t *testing.T) {
	now := time.Now()
	tenantID := uuid.New()
	staleDoc := uuid.New()
	freshDoc := uuid.New()
	orphanDoc := uuid.New()

	store := &fakeCandidateStore{candidates: []model.StaleCandidate{
		{DocumentID: staleDoc, TenantID: tenantID, HasContent: true, UpdatedAt: now},
		{DocumentID: freshDoc, TenantID: tenantID, HasContent: true, UpdatedAt: now.Add(-time.Hour), LastIndexedAt: ptrTime(now), HasIndexState: true},
		{DocumentID: orphanDoc, TenantID: tenantID, ChunkCount: 2},
	}}

	d := NewDetector(store, time.Second, testutil.TestLogger())
	stale, err := d.FindStaleDocuments(context.Background(), 10, nil)
	require.NoError(t, err)
	require.Len(t, stale, 2)

	byID := map[uuid.UUID]model.StaleDocument{}
	for _, s := range stale {
		byID[s.DocumentID] = s
	}
	assert.Equal(t, model.StaleNeverIndexed, byID[staleDoc].Reason)
	assert.Equal(t, model.StaleMissingIndexState, byID[orphanDoc].Reason)
	assert.NotContains(t, byID, freshDoc)
}

func TestFindStaleDocumentsOrderedNewestFirst(t *testing.T) {
	now := time.Now()
	tenantID := uuid.New()
	newest := uuid.New()
	fresh := uuid.New()
	oldest := uuid.New()

	// The store returns candidates newest-updated first; the detector must
	// preserve that order while dropping fresh rows.
	store := &fakeCandidateStore{candidates: []model.StaleCandidate{
		{DocumentID: newest, TenantID: tenantID, HasContent: true, UpdatedAt: now},
		{DocumentID: fresh, TenantID: tenantID, HasContent: true, UpdatedAt: now.Add(-time.Minute), LastIndexedAt: ptrTime(now), HasIndexState: true},
		{DocumentID: oldest, TenantID: tenantID, HasContent: true, UpdatedAt: now.Add(-time.Hour)},
	}}

	d := NewDetector(store, time.Second, testutil.TestLogger())
	stale, err := d.FindStaleDocuments(context.Background(), 10, nil)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, newest, stale[0].DocumentID)
	assert.Equal(t, oldest, stale[1].DocumentID)
	assert.True(t, stale[0].UpdatedAt.After(stale[1].UpdatedAt))
}

func TestFindStaleDocumentsRespectsLimit(t *testing.T) {
	now := time.Now()
	var candidates []model.StaleCandidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, model.StaleCandidate{
			DocumentID: uuid.New(), TenantID: uuid.New(), HasContent: true, UpdatedAt: now,
		})
	}

	d := NewDetector(&fakeCandidateStore{candidates: candidates}, time.Second, testutil.TestLogger())
	stale, err := d.FindStaleDocuments(context.Background(), 3, nil)
	require.NoError(t, err)
	assert.Len(t, stale, 3)
}
