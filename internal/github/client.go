// internal/github/client.go
package github

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	apperrors "pr-insights/internal/errors"
	"pr-insights/internal/model"
)

const perPage = 100

// Client is a wrapper around the go-github client for one credential. It
// normalizes GitHub's wire format into the internal model and keeps the
// last rate-limit state seen on any response.
type Client struct {
	gh     *github.Client
	logger *slog.Logger

	mu       sync.Mutex
	lastRate model.RateLimit
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// NewEnterpriseClient creates a Client against a GitHub Enterprise (or any
// API-compatible) base URL instead of github.com.
func NewEnterpriseClient(baseURL, token string, logger *slog.Logger) (*Client, error) {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	gh, err := github.NewClient(tc).WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		gh:     gh,
		logger: logger,
	}, nil
}

// GetAuthenticatedUser returns the identity the token belongs to. A 401 is
// surfaced as ErrBadCredentials so callers can prompt for re-authentication.
func (c *Client) GetAuthenticatedUser(ctx context.Context) (id int64, login string, err error) {
	user, resp, err := c.gh.Users.Get(ctx, "")
	c.trackRate(resp)
	if err != nil {
		return 0, "", c.classify(err, resp)
	}
	return user.GetID(), user.GetLogin(), nil
}

// FetchRepositories fetches all repositories visible to the authenticated
// user, most recently updated first. An empty account yields an empty slice,
// not an error.
func (c *Client) FetchRepositories(ctx context.Context) ([]model.Repository, error) {
	var all []model.Repository

	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: perPage,
		},
	}

	for {
		c.logger.Debug("Fetching repositories page", "page", opts.Page)

		repos, resp, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		c.trackRate(resp)
		if err != nil {
			return nil, c.classify(err, resp)
		}

		for _, r := range repos {
			all = append(all, toInternalRepository(r))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// FetchPullRequests fetches pull requests for owner/repo, all states, sorted
// by update time descending. When since is non-zero, pagination stops at the
// first PR updated at or before the cutoff: the descending order guarantees
// everything after it is already known. This is the incremental-sync
// short-circuit, not a post-hoc filter.
func (c *Client) FetchPullRequests(ctx context.Context, owner, repo string, since time.Time) ([]model.PullRequest, error) {
	var all []model.PullRequest

	opts := &github.PullRequestListOptions{
		State:     "all",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: perPage,
		},
	}

	for {
		c.logger.Debug("Fetching pull requests page", "owner", owner, "repo", repo, "page", opts.Page)

		prs, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
		c.trackRate(resp)
		if err != nil {
			return nil, c.classify(err, resp)
		}

		for _, pr := range prs {
			if !since.IsZero() && !pr.GetUpdatedAt().Time.After(since) {
				return all, nil
			}
			all = append(all, toInternalPullRequest(pr))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// FetchReviews fetches all reviews for one pull request. Reviews without a
// submission timestamp (pending drafts) or with an unrecognized state are
// dropped.
func (c *Client) FetchReviews(ctx context.Context, owner, repo string, number int) ([]model.Review, error) {
	var all []model.Review

	opts := &github.ListOptions{PerPage: perPage}

	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		c.trackRate(resp)
		if err != nil {
			return nil, c.classify(err, resp)
		}

		for _, r := range reviews {
			if r.SubmittedAt == nil {
				continue
			}
			state, ok := toInternalReviewState(r.GetState())
			if !ok {
				c.logger.Debug("Skipping review with unrecognized state", "state", r.GetState(), "review_id", r.GetID())
				continue
			}
			all = append(all, model.Review{
				GithubReviewID: r.GetID(),
				ReviewerLogin:  r.GetUser().GetLogin(),
				State:          state,
				Body:           r.Body,
				SubmittedAt:    r.GetSubmittedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// FetchComments fetches all issue comments for one pull request.
func (c *Client) FetchComments(ctx context.Context, owner, repo string, number int) ([]model.Comment, error) {
	var all []model.Comment

	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		c.trackRate(resp)
		if err != nil {
			return nil, c.classify(err, resp)
		}

		for _, cm := range comments {
			all = append(all, model.Comment{
				GithubCommentID: cm.GetID(),
				AuthorLogin:     cm.GetUser().GetLogin(),
				Body:            cm.GetBody(),
				CreatedAt:       cm.GetCreatedAt().Time,
				UpdatedAt:       cm.GetUpdatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// CheckRateLimit makes a dedicated rate-limit request.
func (c *Client) CheckRateLimit(ctx context.Context) (model.RateLimit, error) {
	limits, resp, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return model.RateLimit{}, c.classify(err, resp)
	}
	core := limits.GetCore()
	rl := model.RateLimit{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		ResetAt:   core.Reset.Time,
	}
	c.mu.Lock()
	c.lastRate = rl
	c.mu.Unlock()
	return rl, nil
}

// LastKnownRateLimit returns the rate-limit state captured from the most
// recent response headers, without a network call.
func (c *Client) LastKnownRateLimit() model.RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRate
}

// trackRate opportunistically records rate-limit headers from a response.
func (c *Client) trackRate(resp *github.Response) {
	if resp == nil {
		return
	}
	c.mu.Lock()
	c.lastRate = model.RateLimit{
		Limit:     resp.Rate.Limit,
		Remaining: resp.Rate.Remaining,
		ResetAt:   resp.Rate.Reset.Time,
	}
	c.mu.Unlock()
}

// classify maps a 401 to ErrBadCredentials; everything else passes through.
func (c *Client) classify(err error, resp *github.Response) error {
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return &apperrors.ErrBadCredentials{}
	}
	return err
}

// toInternalRepository translates a github.Repository to the internal model.
func toInternalRepository(r *github.Repository) model.Repository {
	return model.Repository{
		GithubRepoID:  r.GetID(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.Description,
		DefaultBranch: r.GetDefaultBranch(),
		Private:       r.GetPrivate(),
		IsActive:      true,
	}
}

// toInternalPullRequest translates a github.PullRequest to the internal
// model. A closed PR with a merge timestamp counts as MERGED; merged wins
// over closed.
func toInternalPullRequest(pr *github.PullRequest) model.PullRequest {
	state := model.PRStateOpen
	switch {
	case pr.MergedAt != nil:
		state = model.PRStateMerged
	case pr.GetState() == "closed":
		state = model.PRStateClosed
	}

	out := model.PullRequest{
		GithubPRID:   pr.GetID(),
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Body:         pr.Body,
		State:        state,
		AuthorLogin:  pr.GetUser().GetLogin(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		Commits:      pr.GetCommits(),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
	}
	if pr.ClosedAt != nil {
		t := pr.GetClosedAt().Time
		out.ClosedAt = &t
	}
	if pr.MergedAt != nil {
		t := pr.GetMergedAt().Time
		out.MergedAt = &t
	}
	return out
}

func toInternalReviewState(s string) (model.ReviewState, bool) {
	switch s {
	case "APPROVED":
		return model.ReviewApproved, true
	case "CHANGES_REQUESTED":
		return model.ReviewChangesRequested, true
	case "COMMENTED":
		return model.ReviewCommented, true
	case "DISMISSED":
		return model.ReviewDismissed, true
	default:
		return "", false
	}
}
