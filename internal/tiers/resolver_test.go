package tiers

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/converso-ai/converso/internal/quota"
)

type fakeTierRepo struct {
	tier string
	err  error
}

func (r fakeTierRepo) TierOf(context.Context, uuid.UUID) (string, error) {
	return r.tier, r.err
}

func TestResolver_KnownTier(t *testing.T) {
	r := NewResolver(fakeTierRepo{tier: TierPro}, DefaultTable(), TierFree)

	limits := r.Resolve(context.Background(), uuid.New())
	assert.Equal(t, TierPro, limits.Tier)
	assert.Equal(t, 30, limits.AttachmentRetentionDays)

	_, bounded := limits.LimitFor(quota.MetricMessages)
	assert.False(t, bounded, "pro messages are unlimited")
}

func TestResolver_LookupFailureFallsBack(t *testing.T) {
	r := NewResolver(fakeTierRepo{err: errors.New("no subscription row")}, DefaultTable(), TierFree)

	limits := r.Resolve(context.Background(), uuid.New())
	assert.Equal(t, TierFree, limits.Tier, "failures resolve to the most restrictive tier")
}

func TestResolver_UnknownTierFallsBack(t *testing.T) {
	r := NewResolver(fakeTierRepo{tier: "platinum"}, DefaultTable(), TierFree)

	limits := r.Resolve(context.Background(), uuid.New())
	assert.Equal(t, TierFree, limits.Tier)
}

func TestResolver_BadFallbackPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewResolver(fakeTierRepo{}, DefaultTable(), "platinum")
	})
}

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()

	free := table[TierFree]
	limit, bounded := free.LimitFor(quota.MetricMessages)
	assert.True(t, bounded)
	assert.Equal(t, int64(20), limit)
	assert.False(t, free.Strict)

	team := table[TierTeam]
	assert.True(t, team.Strict, "team tier uses hard enforcement")
}

func TestTable_MinRetentionDays(t *testing.T) {
	assert.Equal(t, 7, DefaultTable().MinRetentionDays())
	assert.Equal(t, 0, Table{}.MinRetentionDays())
}
