// internal/insight/detectors.go
package insight

import (
	"fmt"
	"time"

	"pr-insights/internal/model"
	"pr-insights/internal/stats"
)

const (
	minBottleneckSamples = 5
	minRecentMerged      = 3
	minBaselineMerged    = 5
	minDistinctAuthors   = 3
	anomalyZThreshold    = 2.0
	regressionThreshold  = 1.5
	weekendFraction      = 0.3
	stalePRAge           = 14 * 24 * time.Hour
	openPRCapacity       = 15
)

type detector func(w Window) []model.Insight

// detectors in no particular order; ranking happens by priority afterwards.
var allDetectors = []detector{
	detectReviewBottleneck,
	detectCycleTimeRegression,
	detectWorkloadImbalance,
	detectBurnoutSignal,
	detectStalePRs,
	detectReviewCapacity,
	detectPositivePatterns,
}

// detectReviewBottleneck flags open, unreviewed PRs whose wait time is an
// outlier against the distribution of recorded time-to-first-review values.
// The wait must also exceed the mean in absolute terms, so a near-zero mean
// does not flag everything.
func detectReviewBottleneck(w Window) []model.Insight {
	var samples []float64
	for _, p := range w.PRs {
		if p.PR.TimeToFirstReviewMin != nil {
			samples = append(samples, float64(*p.PR.TimeToFirstReviewMin))
		}
	}
	if len(samples) < minBottleneckSamples {
		return nil
	}

	mean := stats.Mean(samples)
	stddev := stats.StdDev(samples)

	var anomalous int
	for _, p := range w.PRs {
		if p.PR.State != model.PRStateOpen || len(p.Reviews) > 0 {
			continue
		}
		wait := w.Now.Sub(p.PR.CreatedAt).Minutes()
		if stats.ZScore(wait, mean, stddev) > anomalyZThreshold && wait > mean {
			anomalous++
		}
	}
	if anomalous == 0 {
		return nil
	}

	metric := float64(anomalous)
	rec := "Nudge reviewers or redistribute review load for the listed pull requests."
	return []model.Insight{{
		Category:       "review_bottleneck",
		Severity:       model.SeverityWarning,
		Title:          "Pull requests waiting unusually long for review",
		Description:    fmt.Sprintf("%d open pull requests have waited far longer for a first review than this team's norm (%.0f min on average).", anomalous, mean),
		Recommendation: &rec,
		MetricValue:    &metric,
		Priority:       9,
	}}
}

// detectCycleTimeRegression compares the mean time-to-merge of the last 7
// days against the 8-30 day baseline.
func detectCycleTimeRegression(w Window) []model.Insight {
	recentCutoff := w.Now.AddDate(0, 0, -7)

	var recent, baseline []float64
	for _, p := range w.PRs {
		if p.PR.MergedAt == nil || p.PR.TimeToMergeMin == nil {
			continue
		}
		if p.PR.MergedAt.After(recentCutoff) {
			recent = append(recent, float64(*p.PR.TimeToMergeMin))
		} else {
			baseline = append(baseline, float64(*p.PR.TimeToMergeMin))
		}
	}
	if len(recent) < minRecentMerged || len(baseline) < minBaselineMerged {
		return nil
	}

	baseMean := stats.Mean(baseline)
	baseStdDev := stats.StdDev(baseline)
	recentMean := stats.Mean(recent)

	if baseStdDev == 0 || (recentMean-baseMean)/baseStdDev <= regressionThreshold {
		return nil
	}

	pctChange := (recentMean - baseMean) / baseMean * 100
	rec := "Look for oversized PRs, blocked reviewers, or CI slowdowns introduced this week."
	return []model.Insight{{
		Category:       "cycle_time_regression",
		Severity:       model.SeverityWarning,
		Title:          "Merge cycle time is regressing",
		Description:    fmt.Sprintf("Average time to merge rose %.0f%% over the last 7 days (%.0f min vs a %.0f min baseline).", pctChange, recentMean, baseMean),
		Recommendation: &rec,
		MetricValue:    &pctChange,
		Priority:       8,
	}}
}

// detectWorkloadImbalance flags authors whose PR count is an outlier against
// the rest of the team. The candidate is excluded from the mean and stddev it
// is scored against: a single dominant author inflates the pooled stddev
// enough to hide themselves. A zero leave-one-out stddev (everyone else
// identical) flags only counts above double the remaining mean.
func detectWorkloadImbalance(w Window) []model.Insight {
	counts := make(map[string]int)
	for _, p := range w.PRs {
		counts[p.PR.AuthorLogin]++
	}
	if len(counts) < minDistinctAuthors {
		return nil
	}

	values := make([]float64, 0, len(counts))
	for _, n := range counts {
		values = append(values, float64(n))
	}
	mean := stats.Mean(values)

	var insights []model.Insight
	for author, n := range counts {
		rest := make([]float64, 0, len(counts)-1)
		for other, m := range counts {
			if other != author {
				rest = append(rest, float64(m))
			}
		}
		restMean := stats.Mean(rest)
		restStdDev := stats.StdDev(rest)

		v := float64(n)
		anomalous := false
		if restStdDev == 0 {
			anomalous = v > 2*restMean && v > restMean
		} else {
			anomalous = stats.ZScore(v, restMean, restStdDev) > anomalyZThreshold
		}
		if !anomalous {
			continue
		}
		metric := float64(n)
		rec := "Rebalance upcoming work and check whether this contributor is covering for others."
		insights = append(insights, model.Insight{
			Category:       "workload_imbalance",
			Severity:       model.SeverityWarning,
			Title:          fmt.Sprintf("%s is carrying an outsized share of PRs", author),
			Description:    fmt.Sprintf("%s opened %d pull requests in this window against a team average of %.1f.", author, n, mean),
			Recommendation: &rec,
			MetricValue:    &metric,
			AffectedLogins: []string{author},
			Priority:       7,
		})
	}
	return insights
}

// detectBurnoutSignal flags a high share of weekend-created PRs.
func detectBurnoutSignal(w Window) []model.Insight {
	if len(w.PRs) <= 10 {
		return nil
	}
	var weekend int
	for _, p := range w.PRs {
		switch p.PR.CreatedAt.Weekday() {
		case time.Saturday, time.Sunday:
			weekend++
		}
	}
	fraction := float64(weekend) / float64(len(w.PRs))
	if fraction <= weekendFraction {
		return nil
	}

	pct := fraction * 100
	rec := "Check in with the team about workload and on-call pressure."
	return []model.Insight{{
		Category:       "burnout_signal",
		Severity:       model.SeverityCritical,
		Title:          "High weekend activity",
		Description:    fmt.Sprintf("%.0f%% of pull requests in this window were opened on weekends.", pct),
		Recommendation: &rec,
		MetricValue:    &pct,
		Priority:       7,
	}}
}

// detectStalePRs counts open PRs untouched for two weeks or more.
func detectStalePRs(w Window) []model.Insight {
	var stale int
	for _, p := range w.PRs {
		if p.PR.State == model.PRStateOpen && w.Now.Sub(p.PR.UpdatedAt) >= stalePRAge {
			stale++
		}
	}
	if stale == 0 {
		return nil
	}

	metric := float64(stale)
	rec := "Close or revive stale pull requests; they hide real review load."
	return []model.Insight{{
		Category:       "stale_prs",
		Severity:       model.SeverityInfo,
		Title:          "Stale pull requests are accumulating",
		Description:    fmt.Sprintf("%d open pull requests have had no activity for 14 days or more.", stale),
		Recommendation: &rec,
		MetricValue:    &metric,
		Priority:       5,
	}}
}

// detectReviewCapacity flags an open-PR backlog above capacity.
func detectReviewCapacity(w Window) []model.Insight {
	var open int
	for _, p := range w.PRs {
		if p.PR.State == model.PRStateOpen {
			open++
		}
	}
	if open <= openPRCapacity {
		return nil
	}

	metric := float64(open)
	rec := "Prioritize reviews over new work until the backlog drains."
	return []model.Insight{{
		Category:       "review_capacity",
		Severity:       model.SeverityWarning,
		Title:          "Open PR backlog exceeds review capacity",
		Description:    fmt.Sprintf("%d pull requests are open and waiting; the review pipeline is saturated.", open),
		Recommendation: &rec,
		MetricValue:    &metric,
		Priority:       8,
	}}
}

// detectPositivePatterns surfaces good news: fast merge cycles and a high
// merge rate.
func detectPositivePatterns(w Window) []model.Insight {
	var insights []model.Insight

	var cycleTimes []float64
	var merged int
	for _, p := range w.PRs {
		if p.PR.State == model.PRStateMerged {
			merged++
		}
		if p.PR.TimeToMergeMin != nil {
			cycleTimes = append(cycleTimes, float64(*p.PR.TimeToMergeMin))
		}
	}

	if len(cycleTimes) > 0 {
		if mean := stats.Mean(cycleTimes); mean < 24*60 {
			hours := mean / 60
			insights = append(insights, model.Insight{
				Category:    "fast_cycle_time",
				Severity:    model.SeveritySuccess,
				Title:       "Merge cycle time under a day",
				Description: fmt.Sprintf("Pull requests merge in %.1f hours on average. Keep it up.", hours),
				MetricValue: &hours,
				Priority:    3,
			})
		}
	}

	if len(w.PRs) > 10 {
		rate := float64(merged) / float64(len(w.PRs))
		if rate > 0.8 {
			pct := rate * 100
			insights = append(insights, model.Insight{
				Category:    "high_merge_rate",
				Severity:    model.SeveritySuccess,
				Title:       "High merge rate",
				Description: fmt.Sprintf("%.0f%% of pull requests in this window were merged.", pct),
				MetricValue: &pct,
				Priority:    2,
			})
		}
	}

	return insights
}
