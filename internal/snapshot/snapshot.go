// internal/snapshot/snapshot.go

// Package snapshot builds per-repository daily metric rollups from synced
// pull requests. The aggregation is pure; persistence stays with the caller.
package snapshot

import (
	"sort"
	"time"

	"pr-insights/internal/model"
	"pr-insights/internal/stats"
)

// Build aggregates one repository's pull requests into daily snapshots.
// A PR counts as opened on its creation day and merged on its merge day;
// cycle-time percentiles and merge rate are computed over the PRs merged
// that day. Days with no activity produce no snapshot.
func Build(repoID int64, prs []model.PullRequest) []model.MetricSnapshot {
	type bucket struct {
		opened     int
		merged     int
		closed     int
		cycleTimes []float64
	}
	days := make(map[time.Time]*bucket)

	at := func(t time.Time) *bucket {
		day := t.UTC().Truncate(24 * time.Hour)
		b, ok := days[day]
		if !ok {
			b = &bucket{}
			days[day] = b
		}
		return b
	}

	for _, pr := range prs {
		at(pr.CreatedAt).opened++
		if pr.MergedAt != nil {
			b := at(*pr.MergedAt)
			b.merged++
			if pr.TimeToMergeMin != nil {
				b.cycleTimes = append(b.cycleTimes, float64(*pr.TimeToMergeMin))
			}
		} else if pr.ClosedAt != nil {
			at(*pr.ClosedAt).closed++
		}
	}

	snaps := make([]model.MetricSnapshot, 0, len(days))
	for day, b := range days {
		snap := model.MetricSnapshot{
			RepositoryID: repoID,
			Day:          day,
			PRsOpened:    b.opened,
			PRsMerged:    b.merged,
		}
		if len(b.cycleTimes) > 0 {
			p50 := stats.Percentile(b.cycleTimes, 50)
			p95 := stats.Percentile(b.cycleTimes, 95)
			snap.CycleTimeP50Min = &p50
			snap.CycleTimeP95Min = &p95
		}
		if resolved := b.merged + b.closed; resolved > 0 {
			rate := float64(b.merged) / float64(resolved)
			snap.MergeRate = &rate
		}
		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Day.Before(snaps[j].Day) })
	return snaps
}
