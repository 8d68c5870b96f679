// internal/syncer/syncer.go

// Package syncer drives complete synchronization passes: GitHub data in,
// idempotent upserts down, derived metrics recomputed, job outcome recorded.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"pr-insights/internal/model"
	"pr-insights/internal/snapshot"
)

const (
	// Number of repositories to sync in parallel. Kept low: the account's
	// token has a single shared rate limit.
	concurrency = 3
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetAccount(ctx context.Context, id int64) (model.Account, error)
	GetAccountByLogin(ctx context.Context, login string) (model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	SetAccountLastSynced(ctx context.Context, id int64, t time.Time) error

	UpsertRepository(ctx context.Context, r model.Repository) (model.Repository, error)
	SetRepositoryLastSynced(ctx context.Context, id int64, t time.Time) error
	DeactivateMissingRepos(ctx context.Context, accountID int64, seenIDs []int64) (int64, error)

	UpsertPullRequest(ctx context.Context, pr model.PullRequest) (model.PullRequest, error)
	UpsertPullRequestShallow(ctx context.Context, pr model.PullRequest) (model.PullRequest, error)
	SetPullRequestTimings(ctx context.Context, id int64, firstReviewMin, mergeMin *int64) error
	GetPullRequestByNumber(ctx context.Context, repoID int64, number int) (model.PullRequest, error)
	ListPullRequestsForRepo(ctx context.Context, repoID int64) ([]model.PullRequest, error)

	UpsertReview(ctx context.Context, r model.Review) (model.Review, error)
	UpsertComment(ctx context.Context, c model.Comment) error
	EarliestReviewSubmission(ctx context.Context, prID int64) (*time.Time, error)

	CreateSyncJob(ctx context.Context, accountID int64, trigger model.SyncTrigger, startedAt time.Time) (model.SyncJob, error)
	FinishSyncJob(ctx context.Context, id int64, status model.JobStatus, repos, prs, reviews int, errMsg *string) error
	FailStaleJobs(ctx context.Context, startedBefore time.Time) (int64, error)

	UpsertMetricSnapshot(ctx context.Context, snap model.MetricSnapshot) error
}

// GithubClient is the per-token API surface the orchestrator needs.
type GithubClient interface {
	FetchRepositories(ctx context.Context) ([]model.Repository, error)
	FetchPullRequests(ctx context.Context, owner, repo string, since time.Time) ([]model.PullRequest, error)
	FetchReviews(ctx context.Context, owner, repo string, number int) ([]model.Review, error)
	FetchComments(ctx context.Context, owner, repo string, number int) ([]model.Comment, error)
}

// ClientFactory builds a GithubClient for one decrypted token.
type ClientFactory func(token string) GithubClient

// TokenCipher decrypts stored credentials.
type TokenCipher interface {
	Decrypt(sealed []byte) (string, error)
}

// Result carries the aggregate counts of one sync pass.
type Result struct {
	Repositories int `json:"repositories"`
	PullRequests int `json:"pull_requests"`
	Reviews      int `json:"reviews"`
}

// Syncer orchestrates per-account synchronization.
type Syncer struct {
	store        Store
	newClient    ClientFactory
	cipher       TokenCipher
	logger       *slog.Logger
	syncInterval time.Duration
	staleTimeout time.Duration
	now          func() time.Time
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(store Store, newClient ClientFactory, cipher TokenCipher, logger *slog.Logger, interval, staleTimeout time.Duration) *Syncer {
	return &Syncer{
		store:        store,
		newClient:    newClient,
		cipher:       cipher,
		logger:       logger,
		syncInterval: interval,
		staleTimeout: staleTimeout,
		now:          time.Now,
	}
}

// Start begins the continuous synchronization process over all accounts.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting syncer", "interval", s.syncInterval.String(), "concurrency", concurrency)
	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	s.runSyncCycle(ctx) // Initial sync

	for {
		select {
		case <-ticker.C:
			s.runSyncCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

// runSyncCycle syncs every connected account once.
func (s *Syncer) runSyncCycle(ctx context.Context) {
	s.logger.Info("Starting new sync cycle")

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		s.logger.Error("Failed to list accounts for sync cycle", "error", err)
		return
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Run(ctx, account.ID, model.TriggerCron); err != nil {
			s.logger.Error("Account sync failed", "account", account.Login, "error", err)
		}
	}
	s.logger.Info("Sync cycle finished")
}

// SweepStaleJobs force-fails jobs left RUNNING past the stale timeout, for
// example by a process killed mid-sync.
func (s *Syncer) SweepStaleJobs(ctx context.Context) {
	cutoff := s.now().Add(-s.staleTimeout)
	n, err := s.store.FailStaleJobs(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to sweep stale sync jobs", "error", err)
		return
	}
	if n > 0 {
		s.logger.Warn("Force-failed stale sync jobs", "count", n)
	}
}

// Run performs one complete synchronization pass for one account. Whatever
// happens, the created SyncJob ends COMPLETED or FAILED. The account cursor
// advances to the sync start time, not completion time: a slow sync must not
// open a gap in the next incremental window.
func (s *Syncer) Run(ctx context.Context, accountID int64, trigger model.SyncTrigger) (Result, error) {
	s.SweepStaleJobs(ctx)

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Result{}, fmt.Errorf("load account: %w", err)
	}
	logger := s.logger.With("account", account.Login, "trigger", trigger)

	startedAt := s.now()
	job, err := s.store.CreateSyncJob(ctx, accountID, trigger, startedAt)
	if err != nil {
		return Result{}, fmt.Errorf("create sync job: %w", err)
	}

	// The job outcome must be recorded even when the request context is
	// already cancelled; otherwise a cancelled sync stays RUNNING until the
	// stale sweep catches it.
	finishCtx := context.WithoutCancel(ctx)

	var result Result
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			_ = s.store.FinishSyncJob(finishCtx, job.ID, model.JobFailed, result.Repositories, result.PullRequests, result.Reviews, &msg)
			panic(r)
		}
	}()

	result, err = s.syncAccount(ctx, logger, account, startedAt)
	if err != nil {
		msg := err.Error()
		if finishErr := s.store.FinishSyncJob(finishCtx, job.ID, model.JobFailed, result.Repositories, result.PullRequests, result.Reviews, &msg); finishErr != nil {
			logger.Error("Failed to mark sync job failed", "error", finishErr)
		}
		return result, err
	}

	if err := s.store.SetAccountLastSynced(ctx, accountID, startedAt); err != nil {
		msg := err.Error()
		_ = s.store.FinishSyncJob(finishCtx, job.ID, model.JobFailed, result.Repositories, result.PullRequests, result.Reviews, &msg)
		return result, fmt.Errorf("advance sync cursor: %w", err)
	}

	if err := s.store.FinishSyncJob(finishCtx, job.ID, model.JobCompleted, result.Repositories, result.PullRequests, result.Reviews, nil); err != nil {
		return result, fmt.Errorf("complete sync job: %w", err)
	}

	logger.Info("Sync completed", "repos", result.Repositories, "prs", result.PullRequests, "reviews", result.Reviews)
	return result, nil
}

// syncAccount fetches and upserts everything for one account. Per-repository
// failures are logged and skipped so one flaky repository cannot block the
// rest; a failure to list repositories at all is fatal.
func (s *Syncer) syncAccount(ctx context.Context, logger *slog.Logger, account model.Account, startedAt time.Time) (Result, error) {
	token, err := s.cipher.Decrypt(account.EncryptedToken)
	if err != nil {
		return Result{}, fmt.Errorf("decrypt account token: %w", err)
	}
	client := s.newClient(token)

	repos, err := client.FetchRepositories(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch repositories: %w", err)
	}

	var since time.Time
	fullSync := account.LastSyncedAt == nil
	if !fullSync {
		since = *account.LastSyncedAt
	}
	logger.Info("Fetched repository list", "count", len(repos), "full_sync", fullSync)

	var reposSynced, prsSynced, reviewsSynced atomic.Int64
	seenIDs := make([]int64, len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, repo := range repos {
		seenIDs[i] = repo.GithubRepoID
		repo := repo
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			prs, reviews, err := s.syncRepo(gctx, client, account, repo, since)
			if err != nil {
				logger.Error("Failed to sync repository", "repo", repo.FullName, "error", err)
				return nil
			}
			reposSynced.Add(1)
			prsSynced.Add(int64(prs))
			reviewsSynced.Add(int64(reviews))
			return nil
		})
	}

	result := Result{}
	err = g.Wait()
	result.Repositories = int(reposSynced.Load())
	result.PullRequests = int(prsSynced.Load())
	result.Reviews = int(reviewsSynced.Load())
	if err != nil {
		return result, err
	}

	if rl, ok := client.(interface{ LastKnownRateLimit() model.RateLimit }); ok {
		rate := rl.LastKnownRateLimit()
		logger.Info("GitHub rate limit after sync", "remaining", rate.Remaining, "limit", rate.Limit)
	}

	// Only a full fetch is known to be complete enough to conclude a
	// repository disappeared.
	if fullSync {
		if n, err := s.store.DeactivateMissingRepos(ctx, account.ID, seenIDs); err != nil {
			logger.Error("Failed to deactivate missing repositories", "error", err)
		} else if n > 0 {
			logger.Info("Deactivated repositories no longer visible", "count", n)
		}
	}

	return result, nil
}

// syncRepo handles the full synchronization logic for a single repository.
func (s *Syncer) syncRepo(ctx context.Context, client GithubClient, account model.Account, repo model.Repository, since time.Time) (prCount, reviewCount int, err error) {
	logger := s.logger.With("repo", repo.FullName)

	repo.AccountID = account.ID
	dbRepo, err := s.store.UpsertRepository(ctx, repo)
	if err != nil {
		return 0, 0, err
	}

	owner, name, ok := splitFullName(repo.FullName)
	if !ok {
		return 0, 0, fmt.Errorf("malformed repository full name %q", repo.FullName)
	}

	prs, err := client.FetchPullRequests(ctx, owner, name, since)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch pull requests: %w", err)
	}
	logger.Debug("Fetched pull requests", "count", len(prs), "since", since)

	for _, pr := range prs {
		pr.RepositoryID = dbRepo.ID
		dbPR, err := s.store.UpsertPullRequest(ctx, pr)
		if err != nil {
			return prCount, reviewCount, fmt.Errorf("upsert pull request #%d: %w", pr.Number, err)
		}
		prCount++

		// A review-fetch failure must not unwind the PR upsert; the core
		// fields are already persisted and the next sync reconciles.
		reviews, err := client.FetchReviews(ctx, owner, name, pr.Number)
		if err != nil {
			logger.Warn("Failed to fetch reviews, skipping", "pr", pr.Number, "error", err)
			continue
		}
		for _, review := range reviews {
			review.PullRequestID = dbPR.ID
			if _, err := s.store.UpsertReview(ctx, review); err != nil {
				return prCount, reviewCount, fmt.Errorf("upsert review %d: %w", review.GithubReviewID, err)
			}
			reviewCount++
		}

		if comments, err := client.FetchComments(ctx, owner, name, pr.Number); err != nil {
			logger.Warn("Failed to fetch comments, skipping", "pr", pr.Number, "error", err)
		} else {
			for _, comment := range comments {
				comment.PullRequestID = dbPR.ID
				if err := s.store.UpsertComment(ctx, comment); err != nil {
					return prCount, reviewCount, fmt.Errorf("upsert comment %d: %w", comment.GithubCommentID, err)
				}
			}
		}

		ttfr, ttm := deriveTimings(dbPR, reviews)
		if err := s.store.SetPullRequestTimings(ctx, dbPR.ID, ttfr, ttm); err != nil {
			return prCount, reviewCount, fmt.Errorf("set timings for #%d: %w", pr.Number, err)
		}
	}

	if err := s.store.SetRepositoryLastSynced(ctx, dbRepo.ID, s.now()); err != nil {
		return prCount, reviewCount, err
	}

	if err := s.rebuildSnapshots(ctx, dbRepo.ID); err != nil {
		logger.Warn("Failed to rebuild metric snapshots", "error", err)
	}

	return prCount, reviewCount, nil
}

// rebuildSnapshots recomputes the repository's daily rollups from the rows
// just written. Idempotent per day.
func (s *Syncer) rebuildSnapshots(ctx context.Context, repoID int64) error {
	prs, err := s.store.ListPullRequestsForRepo(ctx, repoID)
	if err != nil {
		return err
	}
	for _, snap := range snapshot.Build(repoID, prs) {
		if err := s.store.UpsertMetricSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// ApplyPullRequestEvent upserts a single PR observed via webhook, using the
// same idempotent path as a full sync. Cheaper and more current than a sync;
// racing a concurrent full sync is harmless because every write is keyed by
// a stable natural key.
func (s *Syncer) ApplyPullRequestEvent(ctx context.Context, ownerLogin string, repo model.Repository, pr model.PullRequest) error {
	account, err := s.store.GetAccountByLogin(ctx, ownerLogin)
	if err != nil {
		return fmt.Errorf("resolve account %q: %w", ownerLogin, err)
	}

	repo.AccountID = account.ID
	dbRepo, err := s.store.UpsertRepository(ctx, repo)
	if err != nil {
		return err
	}

	pr.RepositoryID = dbRepo.ID
	dbPR, err := s.store.UpsertPullRequest(ctx, pr)
	if err != nil {
		return err
	}

	return s.recomputeTimings(ctx, dbPR)
}

// ApplyReviewEvent upserts the PR carried in a review webhook plus the
// review itself, then recomputes the PR's derived timings.
func (s *Syncer) ApplyReviewEvent(ctx context.Context, ownerLogin string, repo model.Repository, pr model.PullRequest, review model.Review) error {
	account, err := s.store.GetAccountByLogin(ctx, ownerLogin)
	if err != nil {
		return fmt.Errorf("resolve account %q: %w", ownerLogin, err)
	}

	repo.AccountID = account.ID
	dbRepo, err := s.store.UpsertRepository(ctx, repo)
	if err != nil {
		return err
	}

	// Review payloads carry a trimmed pull_request object without diff stats;
	// the shallow upsert keeps the previously synced values intact.
	pr.RepositoryID = dbRepo.ID
	dbPR, err := s.store.UpsertPullRequestShallow(ctx, pr)
	if err != nil {
		return err
	}

	review.PullRequestID = dbPR.ID
	if _, err := s.store.UpsertReview(ctx, review); err != nil {
		return err
	}

	return s.recomputeTimings(ctx, dbPR)
}

// recomputeTimings refreshes the derived fields from stored reviews.
func (s *Syncer) recomputeTimings(ctx context.Context, pr model.PullRequest) error {
	earliest, err := s.store.EarliestReviewSubmission(ctx, pr.ID)
	if err != nil {
		return err
	}

	var ttfr, ttm *int64
	if earliest != nil {
		m := int64(earliest.Sub(pr.CreatedAt).Minutes())
		ttfr = &m
	}
	if pr.MergedAt != nil {
		m := int64(pr.MergedAt.Sub(pr.CreatedAt).Minutes())
		ttm = &m
	}
	return s.store.SetPullRequestTimings(ctx, pr.ID, ttfr, ttm)
}

// deriveTimings computes the derived fields from freshly fetched reviews.
func deriveTimings(pr model.PullRequest, reviews []model.Review) (ttfr, ttm *int64) {
	if len(reviews) > 0 {
		earliest := reviews[0].SubmittedAt
		for _, r := range reviews[1:] {
			if r.SubmittedAt.Before(earliest) {
				earliest = r.SubmittedAt
			}
		}
		m := int64(earliest.Sub(pr.CreatedAt).Minutes())
		ttfr = &m
	}
	if pr.MergedAt != nil {
		m := int64(pr.MergedAt.Sub(pr.CreatedAt).Minutes())
		ttm = &m
	}
	return ttfr, ttm
}

func splitFullName(fullName string) (owner, name string, ok bool) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
