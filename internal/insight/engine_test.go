// internal/insight/engine_test.go
package insight

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pr-insights/internal/model"
)

// MockStore is a mock of the insight.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListPullRequestsSince(ctx context.Context, accountID int64, since time.Time, authorLogin string) ([]model.PullRequest, error) {
	args := m.Called(ctx, accountID, since, authorLogin)
	return args.Get(0).([]model.PullRequest), args.Error(1)
}

func (m *MockStore) ListReviewsForPullRequests(ctx context.Context, prIDs []int64) ([]model.Review, error) {
	args := m.Called(ctx, prIDs)
	return args.Get(0).([]model.Review), args.Error(1)
}

func (m *MockStore) ReplaceInsights(ctx context.Context, accountID int64, batch []model.Insight) error {
	args := m.Called(ctx, accountID, batch)
	return args.Error(0)
}

type fakeSummarizer struct {
	out string
	err error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	return f.out, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// sixteen stale open PRs trip both the capacity and staleness rules.
func staleBacklog() []model.PullRequest {
	created := testNow.Add(-20 * 24 * time.Hour)
	prs := make([]model.PullRequest, 16)
	for i := range prs {
		prs[i] = model.PullRequest{
			ID:          int64(i + 1),
			State:       model.PRStateOpen,
			AuthorLogin: "alice",
			CreatedAt:   created,
			UpdatedAt:   created,
		}
	}
	return prs
}

func newTestEngine(store Store, summarizer Summarizer) *Engine {
	e := NewEngine(store, summarizer, testLogger(), 30)
	e.now = func() time.Time { return testNow }
	return e
}

func TestEngine_Generate_SortsAndReplacesBatch(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockStore)
	mockStore.On("ListPullRequestsSince", ctx, int64(1), mock.Anything, "").Return(staleBacklog(), nil).Once()
	mockStore.On("ListReviewsForPullRequests", ctx, mock.Anything).Return([]model.Review(nil), nil).Once()
	mockStore.On("ReplaceInsights", ctx, int64(1), mock.Anything).Return(nil).Once()

	engine := newTestEngine(mockStore, nil)
	insights, err := engine.Generate(ctx, 1, "")

	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Equal(t, "review_capacity", insights[0].Category)
	assert.Equal(t, "stale_prs", insights[1].Category)
	for _, in := range insights {
		assert.Equal(t, int64(1), in.AccountID)
		assert.Equal(t, testNow, in.GeneratedAt)
	}
	mockStore.AssertExpectations(t)
}

func TestEngine_Generate_AppendsStrategicInsight(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockStore)
	mockStore.On("ListPullRequestsSince", ctx, int64(1), mock.Anything, "").Return(staleBacklog(), nil).Once()
	mockStore.On("ListReviewsForPullRequests", ctx, mock.Anything).Return([]model.Review(nil), nil).Once()
	mockStore.On("ReplaceInsights", ctx, int64(1), mock.Anything).Return(nil).Once()

	summarizer := &fakeSummarizer{out: "```json\n{\"title\": \"Review pipeline is the constraint\", \"description\": \"Both findings point at review throughput.\", \"recommendation\": \"Dedicate review time daily.\"}\n```"}
	engine := newTestEngine(mockStore, summarizer)

	insights, err := engine.Generate(ctx, 1, "")

	require.NoError(t, err)
	require.Len(t, insights, 3)
	assert.Equal(t, "strategic", insights[0].Category)
	assert.Equal(t, 10, insights[0].Priority)
	assert.Equal(t, "Review pipeline is the constraint", insights[0].Title)
	require.NotNil(t, insights[0].Recommendation)
}

func TestEngine_Generate_SummarizerFailureIsSilent(t *testing.T) {
	ctx := context.Background()

	for name, summarizer := range map[string]*fakeSummarizer{
		"errors out":         {err: errors.New("connection refused")},
		"unparseable output": {out: "sorry, I cannot help with that"},
		"missing fields":     {out: `{"recommendation": "do things"}`},
	} {
		t.Run(name, func(t *testing.T) {
			mockStore := new(MockStore)
			mockStore.On("ListPullRequestsSince", ctx, int64(1), mock.Anything, "").Return(staleBacklog(), nil).Once()
			mockStore.On("ListReviewsForPullRequests", ctx, mock.Anything).Return([]model.Review(nil), nil).Once()
			mockStore.On("ReplaceInsights", ctx, int64(1), mock.Anything).Return(nil).Once()

			engine := newTestEngine(mockStore, summarizer)
			insights, err := engine.Generate(ctx, 1, "")

			require.NoError(t, err)
			assert.Len(t, insights, 2, "meta-insight must be skipped, not error")
		})
	}
}

func TestEngine_Generate_EmptyWindow(t *testing.T) {
	ctx := context.Background()
	mockStore := new(MockStore)
	mockStore.On("ListPullRequestsSince", ctx, int64(1), mock.Anything, "carol").Return([]model.PullRequest{}, nil).Once()
	mockStore.On("ReplaceInsights", ctx, int64(1), mock.Anything).Return(nil).Once()

	engine := newTestEngine(mockStore, nil)
	insights, err := engine.Generate(ctx, 1, "carol")

	require.NoError(t, err)
	assert.Empty(t, insights)
	mockStore.AssertNotCalled(t, "ListReviewsForPullRequests")
}

func TestEngine_DetectorPanicIsIsolated(t *testing.T) {
	engine := newTestEngine(new(MockStore), nil)

	panicking := func(w Window) []model.Insight { panic("defective rule") }
	assert.NotPanics(t, func() {
		out := engine.runDetector(panicking, Window{Now: testNow})
		assert.Empty(t, out)
	})
}
