package attachments

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/converso-ai/converso/internal/quota"
)

type fakeRepo struct {
	mu      sync.Mutex
	items   map[uuid.UUID]Attachment
	listErr error
	delErr  map[uuid.UUID]error
}

func newFakeRepo(items ...Attachment) *fakeRepo {
	r := &fakeRepo{items: make(map[uuid.UUID]Attachment)}
	for _, a := range items {
		r.items[a.ID] = a
	}
	return r
}

func (r *fakeRepo) ListOlderThan(_ context.Context, cutoff time.Time, afterID uuid.UUID, limit int) ([]Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []Attachment
	for _, a := range r.items {
		if a.CreatedAt.Before(cutoff) && bytes.Compare(a.ID[:], afterID[:]) > 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.delErr[id]; err != nil {
		return err
	}
	delete(r.items, id)
	return nil
}

func (r *fakeRepo) has(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[id]
	return ok
}

type fakeBlobs struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{fail: make(map[string]error)}
}

func (b *fakeBlobs) Delete(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[ref]; err != nil {
		return err
	}
	b.deleted = append(b.deleted, ref)
	return nil
}

type tierMap map[uuid.UUID]quota.Limits

func (m tierMap) Resolve(_ context.Context, userID uuid.UUID) quota.Limits {
	if l, ok := m[userID]; ok {
		return l
	}
	return quota.Limits{Tier: "free", AttachmentRetentionDays: 7}
}

func att(userID uuid.UUID, age time.Duration, now time.Time) Attachment {
	return Attachment{
		ID:         uuid.New(),
		UserID:     userID,
		CreatedAt:  now.Add(-age),
		StorageRef: uuid.NewString() + ".bin",
	}
}

const day = 24 * time.Hour

func newTestSweeper(repo Repository, blobs BlobStore, resolver quota.Resolver, now time.Time) *Sweeper {
	s := NewSweeper(repo, blobs, resolver, nil, 7, 2)
	s.now = func() time.Time { return now }
	return s
}

func TestSweep_RetentionBoundary(t *testing.T) {
	now := time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	proUser := uuid.New()
	resolver := tierMap{proUser: quota.Limits{Tier: "pro", AttachmentRetentionDays: 30}}

	expired := att(proUser, 31*day, now)
	fresh := att(proUser, 29*day, now)
	exact := att(proUser, 30*day, now)

	repo := newFakeRepo(expired, fresh, exact)
	blobs := newFakeBlobs()
	sweeper := newTestSweeper(repo, blobs, resolver, now)

	summary, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Scanned)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 2, summary.Retained)
	assert.Equal(t, 0, summary.Failed)

	assert.False(t, repo.has(expired.ID))
	assert.True(t, repo.has(fresh.ID))
	assert.True(t, repo.has(exact.ID), "age equal to the window is retained")
	assert.Equal(t, []string{expired.StorageRef}, blobs.deleted)
}

func TestSweep_JustPastBoundaryDeleted(t *testing.T) {
	now := time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	user := uuid.New()
	resolver := tierMap{user: quota.Limits{Tier: "pro", AttachmentRetentionDays: 30}}

	barely := att(user, 30*day+time.Second, now)
	repo := newFakeRepo(barely)
	sweeper := newTestSweeper(repo, newFakeBlobs(), resolver, now)

	summary, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
	assert.False(t, repo.has(barely.ID))
}

func TestSweep_PerTierWindows(t *testing.T) {
	now := time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	freeUser := uuid.New()
	proUser := uuid.New()
	resolver := tierMap{
		freeUser: quota.Limits{Tier: "free", AttachmentRetentionDays: 7},
		proUser:  quota.Limits{Tier: "pro", AttachmentRetentionDays: 30},
	}

	// Same age, different owners: only the free user's attachment expires.
	freeAtt := att(freeUser, 10*day, now)
	proAtt := att(proUser, 10*day, now)

	repo := newFakeRepo(freeAtt, proAtt)
	sweeper := newTestSweeper(repo, newFakeBlobs(), resolver, now)

	summary, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
	assert.False(t, repo.has(freeAtt.ID))
	assert.True(t, repo.has(proAtt.ID))
}

func TestSweep_FailureDoesNotAbort(t *testing.T) {
	now := time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	user := uuid.New()
	resolver := tierMap{user: quota.Limits{Tier: "free", AttachmentRetentionDays: 7}}

	broken := att(user, 20*day, now)
	healthy1 := att(user, 20*day, now)
	healthy2 := att(user, 20*day, now)

	repo := newFakeRepo(broken, healthy1, healthy2)
	blobs := newFakeBlobs()
	blobs.fail[broken.StorageRef] = errors.New("storage backend unavailable")
	sweeper := newTestSweeper(repo, blobs, resolver, now)

	summary, err := sweeper.Sweep(context.Background())
	require.NoError(t, err, "individual failures never fail the sweep")

	assert.Equal(t, 3, summary.Scanned)
	assert.Equal(t, 2, summary.Deleted)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, repo.has(broken.ID), "failed attachment is kept for the next sweep")
}

func TestSweep_PagesThroughBatches(t *testing.T) {
	now := time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	user := uuid.New()
	resolver := tierMap{user: quota.Limits{Tier: "free", AttachmentRetentionDays: 7}}

	var atts []Attachment
	for i := 0; i < 7; i++ {
		atts = append(atts, att(user, 20*day, now))
	}
	repo := newFakeRepo(atts...)

	// batch size 2 forces four rounds of listing
	sweeper := newTestSweeper(repo, newFakeBlobs(), resolver, now)

	summary, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Deleted)
}

func TestSweep_ListFailureReturnsError(t *testing.T) {
	repo := newFakeRepo()
	repo.listErr = errors.New("connection refused")
	sweeper := newTestSweeper(repo, newFakeBlobs(), tierMap{}, time.Now())

	_, err := sweeper.Sweep(context.Background())
	require.Error(t, err)
}
