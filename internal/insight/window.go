// internal/insight/window.go

// Package insight derives ranked findings from a window of synced pull
// request and review data. Each detector is a pure function over the window
// and tolerates arbitrarily small input by returning nothing.
package insight

import (
	"time"

	"pr-insights/internal/model"
)

// PRWithReviews is the fully-typed view each detector consumes: one PR plus
// its reviews, oldest submission first.
type PRWithReviews struct {
	PR      model.PullRequest
	Reviews []model.Review
}

// Window is the in-memory dataset for one analysis run.
type Window struct {
	Now time.Time
	PRs []PRWithReviews
}

// buildWindow joins PRs with their reviews.
func buildWindow(now time.Time, prs []model.PullRequest, reviews []model.Review) Window {
	byPR := make(map[int64][]model.Review)
	for _, r := range reviews {
		byPR[r.PullRequestID] = append(byPR[r.PullRequestID], r)
	}

	w := Window{Now: now, PRs: make([]PRWithReviews, 0, len(prs))}
	for _, pr := range prs {
		w.PRs = append(w.PRs, PRWithReviews{PR: pr, Reviews: byPR[pr.ID]})
	}
	return w
}
