// internal/snapshot/snapshot_test.go
package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pr-insights/internal/model"
)

func day(d int, hour int) time.Time {
	return time.Date(2024, 5, d, hour, 0, 0, 0, time.UTC)
}

func minutes(n int64) *int64 { return &n }

func TestBuild_Empty(t *testing.T) {
	assert.Empty(t, Build(1, nil))
}

func TestBuild_GroupsByDay(t *testing.T) {
	merged1 := day(2, 15)
	merged2 := day(2, 18)
	closed := day(2, 20)

	prs := []model.PullRequest{
		{CreatedAt: day(1, 9)},
		{CreatedAt: day(1, 11), MergedAt: &merged1, TimeToMergeMin: minutes(100)},
		{CreatedAt: day(2, 8), MergedAt: &merged2, TimeToMergeMin: minutes(300)},
		{CreatedAt: day(2, 9), ClosedAt: &closed},
	}

	snaps := Build(7, prs)
	require.Len(t, snaps, 2)

	first, second := snaps[0], snaps[1]
	assert.Equal(t, day(1, 0), first.Day)
	assert.Equal(t, 2, first.PRsOpened)
	assert.Equal(t, 0, first.PRsMerged)
	assert.Nil(t, first.MergeRate)

	assert.Equal(t, day(2, 0), second.Day)
	assert.Equal(t, 2, second.PRsOpened)
	assert.Equal(t, 2, second.PRsMerged)
	require.NotNil(t, second.MergeRate)
	// Two merged out of three resolved that day.
	assert.InDelta(t, 2.0/3.0, *second.MergeRate, 0.0001)
	require.NotNil(t, second.CycleTimeP50Min)
	assert.InDelta(t, 200.0, *second.CycleTimeP50Min, 0.0001)
}

func TestBuild_SameDayRebuildIsDeterministic(t *testing.T) {
	merged := day(3, 12)
	prs := []model.PullRequest{
		{CreatedAt: day(3, 8), MergedAt: &merged, TimeToMergeMin: minutes(240)},
	}

	a := Build(9, prs)
	b := Build(9, prs)
	assert.Equal(t, a, b)
}
