// internal/model/models.go
package model

import "time"

// PRState is the lifecycle state of a pull request. MERGED and CLOSED are
// terminal, except that an externally reopened PR moves CLOSED back to OPEN.
// A PR never leaves MERGED.
type PRState string

const (
	PRStateOpen   PRState = "OPEN"
	PRStateMerged PRState = "MERGED"
	PRStateClosed PRState = "CLOSED"
)

// ReviewState mirrors GitHub's review states, minus PENDING (drafts are
// filtered out before they reach the store).
type ReviewState string

const (
	ReviewApproved         ReviewState = "APPROVED"
	ReviewChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewCommented        ReviewState = "COMMENTED"
	ReviewDismissed        ReviewState = "DISMISSED"
)

// SyncTrigger records what kicked off a sync job.
type SyncTrigger string

const (
	TriggerManual  SyncTrigger = "manual"
	TriggerCron    SyncTrigger = "cron"
	TriggerWebhook SyncTrigger = "webhook"
)

// JobStatus is the state of a SyncJob row.
type JobStatus string

const (
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Severity classifies an insight for display.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
	SeveritySuccess  Severity = "SUCCESS"
)

// Account is one connected GitHub identity. Keyed by the external user id,
// so re-authentication rotates the token in place rather than growing a
// second row.
type Account struct {
	ID             int64
	GithubUserID   int64
	Login          string
	EncryptedToken []byte
	LastSyncedAt   *time.Time
	DBCreatedAt    time.Time
	DBUpdatedAt    time.Time
}

// Repository is one GitHub repository visible to an account.
type Repository struct {
	ID            int64
	AccountID     int64
	GithubRepoID  int64
	Name          string
	FullName      string
	Description   *string
	DefaultBranch string
	Private       bool
	IsActive      bool
	LastSyncedAt  *time.Time
	DBCreatedAt   time.Time
	DBUpdatedAt   time.Time
}

// PullRequest is one pull request row. TimeToFirstReviewMin and
// TimeToMergeMin are derived by the syncer, never written by hand.
type PullRequest struct {
	ID           int64
	RepositoryID int64
	GithubPRID   int64
	Number       int
	Title        string
	Body         *string
	State        PRState
	AuthorLogin  string
	Additions    int
	Deletions    int
	ChangedFiles int
	Commits      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
	MergedAt     *time.Time

	TimeToFirstReviewMin *int64
	TimeToMergeMin       *int64
}

// Review is one submitted review. The GitHub review id is globally unique;
// reviewer and owning PR are immutable after creation.
type Review struct {
	ID             int64
	PullRequestID  int64
	GithubReviewID int64
	ReviewerLogin  string
	State          ReviewState
	Body           *string
	SubmittedAt    time.Time
}

// Comment is one issue comment on a pull request.
type Comment struct {
	ID              int64
	PullRequestID   int64
	GithubCommentID int64
	AuthorLogin     string
	Body            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SyncJob records one sync execution. A job always ends COMPLETED or FAILED;
// a stale-job sweep force-fails anything left RUNNING by a killed process.
type SyncJob struct {
	ID            int64
	AccountID     int64
	Trigger       SyncTrigger
	Status        JobStatus
	ReposSynced   int
	PRsSynced     int
	ReviewsSynced int
	Error         *string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// Insight is one generated finding. Unread, undismissed insights are a
// disposable cache replaced wholesale on each analysis run; read or dismissed
// ones are user state and survive replacement.
type Insight struct {
	ID             int64
	AccountID      int64
	Category       string
	Severity       Severity
	Title          string
	Description    string
	Recommendation *string
	MetricValue    *float64
	AffectedLogins []string
	Priority       int
	Read           bool
	Dismissed      bool
	GeneratedAt    time.Time
}

// MetricSnapshot is a per-repository, per-day rollup. Rebuilding the same day
// overwrites the existing row.
type MetricSnapshot struct {
	ID              int64
	RepositoryID    int64
	Day             time.Time
	PRsOpened       int
	PRsMerged       int
	CycleTimeP50Min *float64
	CycleTimeP95Min *float64
	MergeRate       *float64
}

// RateLimit is the client's view of GitHub's core rate limit.
type RateLimit struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}
