// internal/store/queries.go
package store

const (
	queryUpsertAccount = `
		INSERT INTO accounts (github_user_id, login, encrypted_token)
		VALUES ($1, $2, $3)
		ON CONFLICT (github_user_id) DO UPDATE SET
			login           = EXCLUDED.login,
			encrypted_token = EXCLUDED.encrypted_token,
			db_updated_at   = now()
		RETURNING id, github_user_id, login, encrypted_token, last_synced_at, db_created_at, db_updated_at`

	queryGetAccount = `
		SELECT id, github_user_id, login, encrypted_token, last_synced_at, db_created_at, db_updated_at
		FROM accounts WHERE id = $1`

	queryGetAccountByLogin = `
		SELECT id, github_user_id, login, encrypted_token, last_synced_at, db_created_at, db_updated_at
		FROM accounts WHERE login = $1`

	queryListAccounts = `
		SELECT id, github_user_id, login, encrypted_token, last_synced_at, db_created_at, db_updated_at
		FROM accounts ORDER BY id`

	querySetAccountLastSynced = `
		UPDATE accounts SET last_synced_at = $2, db_updated_at = now() WHERE id = $1`

	queryUpsertRepository = `
		INSERT INTO repositories
			(account_id, github_repo_id, name, full_name, description, default_branch, private, is_active, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, now())
		ON CONFLICT (account_id, github_repo_id) DO UPDATE SET
			name           = EXCLUDED.name,
			full_name      = EXCLUDED.full_name,
			description    = EXCLUDED.description,
			default_branch = EXCLUDED.default_branch,
			private        = EXCLUDED.private,
			is_active      = TRUE,
			last_synced_at = now(),
			db_updated_at  = now()
		RETURNING id, account_id, github_repo_id, name, full_name, description, default_branch,
		          private, is_active, last_synced_at, db_created_at, db_updated_at`

	queryListRepositories = `
		SELECT id, account_id, github_repo_id, name, full_name, description, default_branch,
		       private, is_active, last_synced_at, db_created_at, db_updated_at
		FROM repositories WHERE account_id = $1 ORDER BY full_name`

	querySetRepositoryLastSynced = `
		UPDATE repositories SET last_synced_at = $2, db_updated_at = now() WHERE id = $1`

	queryDeactivateMissingRepos = `
		UPDATE repositories SET is_active = FALSE, db_updated_at = now()
		WHERE account_id = $1 AND is_active AND NOT (github_repo_id = ANY($2))`

	// A merged PR never changes state again; everything else takes the
	// freshest observation from GitHub.
	queryUpsertPullRequest = `
		INSERT INTO pull_requests
			(repository_id, github_pr_id, number, title, body, state, author_login,
			 additions, deletions, changed_files, commits, created_at, updated_at, closed_at, merged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (repository_id, number) DO UPDATE SET
			title         = EXCLUDED.title,
			body          = EXCLUDED.body,
			state         = CASE WHEN pull_requests.state = 'MERGED' THEN pull_requests.state ELSE EXCLUDED.state END,
			author_login  = EXCLUDED.author_login,
			additions     = EXCLUDED.additions,
			deletions     = EXCLUDED.deletions,
			changed_files = EXCLUDED.changed_files,
			commits       = EXCLUDED.commits,
			updated_at    = EXCLUDED.updated_at,
			closed_at     = EXCLUDED.closed_at,
			merged_at     = COALESCE(pull_requests.merged_at, EXCLUDED.merged_at),
			db_updated_at = now()
		RETURNING id, repository_id, github_pr_id, number, title, body, state, author_login,
		          additions, deletions, changed_files, commits, created_at, updated_at, closed_at, merged_at,
		          time_to_first_review_min, time_to_merge_min`

	// Review webhook payloads carry a trimmed pull_request object without the
	// diff stats; this variant leaves those columns untouched on conflict so a
	// review event cannot zero out previously synced values.
	queryUpsertPullRequestShallow = `
		INSERT INTO pull_requests
			(repository_id, github_pr_id, number, title, body, state, author_login,
			 additions, deletions, changed_files, commits, created_at, updated_at, closed_at, merged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, 0, $8, $9, $10, $11)
		ON CONFLICT (repository_id, number) DO UPDATE SET
			title         = EXCLUDED.title,
			body          = EXCLUDED.body,
			state         = CASE WHEN pull_requests.state = 'MERGED' THEN pull_requests.state ELSE EXCLUDED.state END,
			author_login  = EXCLUDED.author_login,
			updated_at    = EXCLUDED.updated_at,
			closed_at     = EXCLUDED.closed_at,
			merged_at     = COALESCE(pull_requests.merged_at, EXCLUDED.merged_at),
			db_updated_at = now()
		RETURNING id, repository_id, github_pr_id, number, title, body, state, author_login,
		          additions, deletions, changed_files, commits, created_at, updated_at, closed_at, merged_at,
		          time_to_first_review_min, time_to_merge_min`

	querySetPullRequestTimings = `
		UPDATE pull_requests
		SET time_to_first_review_min = $2, time_to_merge_min = $3, db_updated_at = now()
		WHERE id = $1`

	queryGetPullRequestByNumber = `
		SELECT id, repository_id, github_pr_id, number, title, body, state, author_login,
		       additions, deletions, changed_files, commits, created_at, updated_at, closed_at, merged_at,
		       time_to_first_review_min, time_to_merge_min
		FROM pull_requests WHERE repository_id = $1 AND number = $2`

	queryListPullRequestsSince = `
		SELECT pr.id, pr.repository_id, pr.github_pr_id, pr.number, pr.title, pr.body, pr.state, pr.author_login,
		       pr.additions, pr.deletions, pr.changed_files, pr.commits, pr.created_at, pr.updated_at,
		       pr.closed_at, pr.merged_at, pr.time_to_first_review_min, pr.time_to_merge_min
		FROM pull_requests pr
		JOIN repositories r ON r.id = pr.repository_id
		WHERE r.account_id = $1
		  AND (pr.created_at >= $2 OR pr.updated_at >= $2)
		  AND ($3 = '' OR pr.author_login = $3)
		ORDER BY pr.created_at DESC`

	queryListPullRequestsForRepo = `
		SELECT id, repository_id, github_pr_id, number, title, body, state, author_login,
		       additions, deletions, changed_files, commits, created_at, updated_at, closed_at, merged_at,
		       time_to_first_review_min, time_to_merge_min
		FROM pull_requests WHERE repository_id = $1 ORDER BY created_at DESC`

	queryUpsertReview = `
		INSERT INTO reviews (pull_request_id, github_review_id, reviewer_login, state, body, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (github_review_id) DO UPDATE SET
			state        = EXCLUDED.state,
			body         = EXCLUDED.body,
			submitted_at = EXCLUDED.submitted_at
		RETURNING id, pull_request_id, github_review_id, reviewer_login, state, body, submitted_at`

	queryEarliestReviewSubmission = `
		SELECT MIN(submitted_at) FROM reviews WHERE pull_request_id = $1`

	queryListReviewsForPullRequests = `
		SELECT id, pull_request_id, github_review_id, reviewer_login, state, body, submitted_at
		FROM reviews WHERE pull_request_id = ANY($1) ORDER BY submitted_at`

	queryUpsertComment = `
		INSERT INTO comments (pull_request_id, github_comment_id, author_login, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (github_comment_id) DO UPDATE SET
			body       = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at`

	queryCreateSyncJob = `
		INSERT INTO sync_jobs (account_id, trigger_type, status, started_at)
		VALUES ($1, $2, 'RUNNING', $3)
		RETURNING id, account_id, trigger_type, status, repos_synced, prs_synced, reviews_synced, error, started_at, completed_at`

	queryFinishSyncJob = `
		UPDATE sync_jobs
		SET status = $2, repos_synced = $3, prs_synced = $4, reviews_synced = $5, error = $6, completed_at = now()
		WHERE id = $1`

	queryLatestSyncJob = `
		SELECT id, account_id, trigger_type, status, repos_synced, prs_synced, reviews_synced, error, started_at, completed_at
		FROM sync_jobs WHERE account_id = $1 ORDER BY started_at DESC LIMIT 1`

	queryFailStaleJobs = `
		UPDATE sync_jobs
		SET status = 'FAILED', error = 'sync timed out', completed_at = now()
		WHERE status = 'RUNNING' AND started_at < $1`

	queryDeleteReplaceableInsights = `
		DELETE FROM insights WHERE account_id = $1 AND NOT read AND NOT dismissed`

	queryInsertInsight = `
		INSERT INTO insights
			(account_id, category, severity, title, description, recommendation, metric_value,
			 affected_logins, priority, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	queryListInsights = `
		SELECT id, account_id, category, severity, title, description, recommendation, metric_value,
		       affected_logins, priority, read, dismissed, generated_at
		FROM insights WHERE account_id = $1
		ORDER BY priority DESC, generated_at DESC`

	queryMarkInsightRead = `
		UPDATE insights SET read = TRUE WHERE id = $1`

	queryDismissInsight = `
		UPDATE insights SET dismissed = TRUE WHERE id = $1`

	queryUpsertMetricSnapshot = `
		INSERT INTO metric_snapshots
			(repository_id, day, prs_opened, prs_merged, cycle_time_p50_min, cycle_time_p95_min, merge_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (repository_id, day) DO UPDATE SET
			prs_opened         = EXCLUDED.prs_opened,
			prs_merged         = EXCLUDED.prs_merged,
			cycle_time_p50_min = EXCLUDED.cycle_time_p50_min,
			cycle_time_p95_min = EXCLUDED.cycle_time_p95_min,
			merge_rate         = EXCLUDED.merge_rate`
)
