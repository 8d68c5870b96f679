// internal/webhook/github_test.go
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "pr-insights/internal/errors"
	"pr-insights/internal/model"
)

type MockApplier struct {
	mock.Mock
}

func (m *MockApplier) ApplyPullRequestEvent(ctx context.Context, ownerLogin string, repo model.Repository, pr model.PullRequest) error {
	args := m.Called(ctx, ownerLogin, repo, pr)
	return args.Error(0)
}

func (m *MockApplier) ApplyReviewEvent(ctx context.Context, ownerLogin string, repo model.Repository, pr model.PullRequest, review model.Review) error {
	args := m.Called(ctx, ownerLogin, repo, pr, review)
	return args.Error(0)
}

const testSecret = "test-secret"

func sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(payload))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func deliver(t *testing.T, handler http.Handler, event, payload, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(payload))
	req.Header.Set("X-GitHub-Event", event)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func newTestHandler(applier SyncApplier) *GitHubHandler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewGitHubHandler(testSecret, applier, logger)
}

const pullRequestPayloadJSON = `{
	"action": "closed",
	"repository": {
		"id": 11,
		"name": "widgets",
		"full_name": "octo/widgets",
		"default_branch": "main",
		"private": true,
		"owner": {"id": 1, "login": "octo"}
	},
	"pull_request": {
		"id": 77,
		"number": 7,
		"title": "add thing",
		"state": "closed",
		"user": {"id": 2, "login": "alice"},
		"created_at": "2024-05-30T10:00:00Z",
		"updated_at": "2024-05-30T12:30:00Z",
		"closed_at": "2024-05-30T12:30:00Z",
		"merged_at": "2024-05-30T12:30:00Z"
	}
}`

func TestGitHubHandler_PullRequestEvent(t *testing.T) {
	applier := new(MockApplier)
	applier.On("ApplyPullRequestEvent", mock.Anything, "octo",
		mock.MatchedBy(func(r model.Repository) bool {
			return r.GithubRepoID == 11 && r.FullName == "octo/widgets" && r.IsActive
		}),
		mock.MatchedBy(func(pr model.PullRequest) bool {
			// closed with a merged_at timestamp means MERGED, not CLOSED
			return pr.Number == 7 && pr.State == model.PRStateMerged && pr.AuthorLogin == "alice"
		}),
	).Return(nil).Once()

	rec := deliver(t, newTestHandler(applier), "pull_request", pullRequestPayloadJSON, sign(pullRequestPayloadJSON))

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	applier.AssertExpectations(t)
}

func TestGitHubHandler_ReviewEvent(t *testing.T) {
	payload := `{
		"action": "submitted",
		"repository": {
			"id": 11, "name": "widgets", "full_name": "octo/widgets",
			"owner": {"id": 1, "login": "octo"}
		},
		"pull_request": {
			"id": 77, "number": 7, "title": "add thing", "state": "open",
			"user": {"id": 2, "login": "alice"},
			"created_at": "2024-05-30T10:00:00Z",
			"updated_at": "2024-05-30T10:45:00Z"
		},
		"review": {
			"id": 900,
			"user": {"id": 3, "login": "reba"},
			"state": "approved",
			"submitted_at": "2024-05-30T10:45:00Z"
		}
	}`

	applier := new(MockApplier)
	applier.On("ApplyReviewEvent", mock.Anything, "octo", mock.Anything, mock.Anything,
		mock.MatchedBy(func(r model.Review) bool {
			return r.GithubReviewID == 900 &&
				r.State == model.ReviewApproved &&
				r.SubmittedAt.Equal(time.Date(2024, 5, 30, 10, 45, 0, 0, time.UTC))
		}),
	).Return(nil).Once()

	rec := deliver(t, newTestHandler(applier), "pull_request_review", payload, sign(payload))

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	applier.AssertExpectations(t)
}

func TestGitHubHandler_PendingReviewIgnored(t *testing.T) {
	payload := `{
		"action": "submitted",
		"repository": {"id": 11, "full_name": "octo/widgets", "owner": {"login": "octo"}},
		"pull_request": {"id": 77, "number": 7},
		"review": {"id": 900, "state": "pending"}
	}`

	applier := new(MockApplier)
	rec := deliver(t, newTestHandler(applier), "pull_request_review", payload, sign(payload))

	assert.Equal(t, http.StatusOK, rec.Code)
	applier.AssertNotCalled(t, "ApplyReviewEvent",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGitHubHandler_InvalidSignature(t *testing.T) {
	applier := new(MockApplier)
	rec := deliver(t, newTestHandler(applier), "pull_request", pullRequestPayloadJSON, "sha256=deadbeef")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	applier.AssertNotCalled(t, "ApplyPullRequestEvent",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGitHubHandler_MissingSignature(t *testing.T) {
	applier := new(MockApplier)
	rec := deliver(t, newTestHandler(applier), "pull_request", pullRequestPayloadJSON, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	applier.AssertNotCalled(t, "ApplyPullRequestEvent",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGitHubHandler_UnknownAccountDropped(t *testing.T) {
	applier := new(MockApplier)
	applier.On("ApplyPullRequestEvent", mock.Anything, "octo", mock.Anything, mock.Anything).
		Return(apperrors.ErrNotFound).Once()

	rec := deliver(t, newTestHandler(applier), "pull_request", pullRequestPayloadJSON, sign(pullRequestPayloadJSON))

	// 200 so GitHub does not keep redelivering an event we can never apply.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGitHubHandler_UnhandledEventIgnored(t *testing.T) {
	payload := `{"action": "created"}`
	applier := new(MockApplier)

	rec := deliver(t, newTestHandler(applier), "issue_comment", payload, sign(payload))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, applier.Calls)
}
