// internal/insight/engine.go
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"pr-insights/internal/model"
)

// Store is the persistence surface the engine needs.
type Store interface {
	ListPullRequestsSince(ctx context.Context, accountID int64, since time.Time, authorLogin string) ([]model.PullRequest, error)
	ListReviewsForPullRequests(ctx context.Context, prIDs []int64) ([]model.Review, error)
	ReplaceInsights(ctx context.Context, accountID int64, batch []model.Insight) error
}

// Summarizer produces JSON-shaped text from a prompt. The engine tolerates
// failure and unparseable output; the meta-insight is an enhancement, never
// a dependency of correctness.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Engine runs the detector rules over one account's window of PR data and
// persists the resulting batch.
type Engine struct {
	store      Store
	summarizer Summarizer // nil disables the meta-insight
	logger     *slog.Logger
	windowDays int
	now        func() time.Time
}

// NewEngine creates an Engine. summarizer may be nil.
func NewEngine(store Store, summarizer Summarizer, logger *slog.Logger, windowDays int) *Engine {
	return &Engine{
		store:      store,
		summarizer: summarizer,
		logger:     logger,
		windowDays: windowDays,
		now:        time.Now,
	}
}

// Generate analyzes the account's recent window, optionally scoped to one
// contributor, replaces the stored unread batch, and returns the new
// insights ordered by descending priority.
func (e *Engine) Generate(ctx context.Context, accountID int64, contributor string) ([]model.Insight, error) {
	now := e.now()
	since := now.AddDate(0, 0, -e.windowDays)

	prs, err := e.store.ListPullRequestsSince(ctx, accountID, since, contributor)
	if err != nil {
		return nil, fmt.Errorf("load window pull requests: %w", err)
	}

	prIDs := make([]int64, len(prs))
	for i, pr := range prs {
		prIDs[i] = pr.ID
	}
	var reviews []model.Review
	if len(prIDs) > 0 {
		reviews, err = e.store.ListReviewsForPullRequests(ctx, prIDs)
		if err != nil {
			return nil, fmt.Errorf("load window reviews: %w", err)
		}
	}

	window := buildWindow(now, prs, reviews)
	insights := e.runDetectors(window)

	if len(insights) >= 2 && e.summarizer != nil {
		if meta, ok := e.metaInsight(ctx, insights); ok {
			insights = append(insights, meta)
		}
	}

	for i := range insights {
		insights[i].AccountID = accountID
		insights[i].GeneratedAt = now
	}
	sort.SliceStable(insights, func(i, j int) bool { return insights[i].Priority > insights[j].Priority })

	if err := e.store.ReplaceInsights(ctx, accountID, insights); err != nil {
		return nil, fmt.Errorf("replace insights: %w", err)
	}
	return insights, nil
}

// runDetectors executes every rule, isolating panics so one broken detector
// cannot blank the whole insight set.
func (e *Engine) runDetectors(w Window) []model.Insight {
	var all []model.Insight
	for _, d := range allDetectors {
		all = append(all, e.runDetector(d, w)...)
	}
	return all
}

func (e *Engine) runDetector(d detector, w Window) (out []model.Insight) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Insight detector panicked", "panic", r)
			out = nil
		}
	}()
	return d(w)
}

// metaInsight asks the summarizer for one strategic synthesis of the
// detected findings. Any failure or unparseable output skips it silently.
func (e *Engine) metaInsight(ctx context.Context, found []model.Insight) (model.Insight, bool) {
	var b strings.Builder
	b.WriteString("You are an engineering analytics assistant. Given the findings below, ")
	b.WriteString("produce one strategic, higher-level insight as JSON with keys ")
	b.WriteString(`"title", "description" and "recommendation".` + "\n\nFindings:\n")
	for _, in := range found {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", in.Severity, in.Title, in.Description)
	}

	raw, err := e.summarizer.Summarize(ctx, b.String())
	if err != nil {
		e.logger.Debug("Summarizer unavailable, skipping meta-insight", "error", err)
		return model.Insight{}, false
	}

	var parsed struct {
		Title          string `json:"title"`
		Description    string `json:"description"`
		Recommendation string `json:"recommendation"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil || parsed.Title == "" || parsed.Description == "" {
		e.logger.Debug("Summarizer output not parseable, skipping meta-insight", "error", err)
		return model.Insight{}, false
	}

	meta := model.Insight{
		Category:    "strategic",
		Severity:    model.SeverityInfo,
		Title:       parsed.Title,
		Description: parsed.Description,
		Priority:    10,
	}
	if parsed.Recommendation != "" {
		meta.Recommendation = &parsed.Recommendation
	}
	return meta, true
}

// extractJSON trims surrounding prose or code fences a model may wrap around
// its JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
