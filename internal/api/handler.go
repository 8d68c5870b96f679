// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "pr-insights/internal/errors"
	"pr-insights/internal/model"
	"pr-insights/internal/syncer"
)

// Store is the read/write surface the API needs.
type Store interface {
	UpsertAccount(ctx context.Context, a model.Account) (model.Account, error)
	GetAccount(ctx context.Context, id int64) (model.Account, error)
	ListRepositories(ctx context.Context, accountID int64) ([]model.Repository, error)
	LatestSyncJob(ctx context.Context, accountID int64) (model.SyncJob, error)
	ListInsights(ctx context.Context, accountID int64) ([]model.Insight, error)
	MarkInsightRead(ctx context.Context, id int64) error
	DismissInsight(ctx context.Context, id int64) error
}

// SyncRunner triggers a synchronization pass.
type SyncRunner interface {
	Run(ctx context.Context, accountID int64, trigger model.SyncTrigger) (syncer.Result, error)
}

// InsightGenerator produces a fresh insight batch.
type InsightGenerator interface {
	Generate(ctx context.Context, accountID int64, contributor string) ([]model.Insight, error)
}

// GithubProbe is the slice of the GitHub client used for token validation
// and rate-limit checks.
type GithubProbe interface {
	GetAuthenticatedUser(ctx context.Context) (id int64, login string, err error)
	CheckRateLimit(ctx context.Context) (model.RateLimit, error)
}

// ProbeFactory builds a GithubProbe for one raw token.
type ProbeFactory func(token string) GithubProbe

// TokenCipher seals and unseals stored credentials.
type TokenCipher interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(sealed []byte) (string, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	store    Store
	syncer   SyncRunner
	insights InsightGenerator
	newProbe ProbeFactory
	cipher   TokenCipher
	logger   *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(store Store, sync SyncRunner, insights InsightGenerator, newProbe ProbeFactory, cipher TokenCipher, webhookHandler http.Handler, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:    store,
		syncer:   sync,
		insights: insights,
		newProbe: newProbe,
		cipher:   cipher,
		logger:   logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", h.createAccount)
		r.Post("/sync", h.triggerSync)
		r.Get("/sync/status", h.syncStatus)
		r.Get("/insights", h.getInsights)
		r.Post("/insights/{id}/read", h.markInsightRead)
		r.Post("/insights/{id}/dismiss", h.dismissInsight)
		r.Get("/repos", h.getRepos)
		r.Get("/rate-limit", h.getRateLimit)
	})
	r.Method(http.MethodPost, "/webhooks/github", webhookHandler)

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createAccount validates a personal access token against GitHub, encrypts
// it, and upserts the account keyed by GitHub user id.
// POST /v1/accounts
func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondWithError(w, http.StatusBadRequest, "Request body must be JSON with a non-empty 'token' field")
		return
	}

	userID, login, err := h.newProbe(req.Token).GetAuthenticatedUser(r.Context())
	if err != nil {
		if apperrors.IsBadCredentials(err) {
			respondWithError(w, http.StatusUnauthorized, "GitHub rejected the token. Generate a new personal access token and try again.")
			return
		}
		h.logger.Error("Failed to validate token against GitHub", "error", err)
		respondWithError(w, http.StatusBadGateway, "Could not reach GitHub to validate the token")
		return
	}

	sealed, err := h.cipher.Encrypt(req.Token)
	if err != nil {
		h.logger.Error("Failed to encrypt token", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	account, err := h.store.UpsertAccount(r.Context(), model.Account{
		GithubUserID:   userID,
		Login:          login,
		EncryptedToken: sealed,
	})
	if err != nil {
		h.logger.Error("Failed to upsert account", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"id":             account.ID,
		"login":          account.Login,
		"github_user_id": account.GithubUserID,
	})
}

// triggerSync runs a full synchronization pass synchronously and returns the
// counts, or a mapped fault.
// POST /v1/sync
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID int64 `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Request body must be JSON with a positive 'account_id' field")
		return
	}

	result, err := h.syncer.Run(r.Context(), req.AccountID, model.TriggerManual)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			respondWithError(w, http.StatusNotFound, "Account not found")
		case apperrors.IsBadCredentials(err):
			respondWithError(w, http.StatusUnauthorized, "GitHub rejected the stored token. Reconnect the account with a fresh token.")
		default:
			h.logger.Error("Sync failed", "account_id", req.AccountID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Sync failed. The sync job records the error detail.")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// syncStatus reports the account cursor and the most recent sync job.
// GET /v1/sync/status?account_id=N
func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountIDParam(w, r)
	if !ok {
		return
	}

	account, err := h.store.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.logger.Error("Failed to get account", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := map[string]interface{}{
		"account_id":     account.ID,
		"login":          account.Login,
		"last_synced_at": account.LastSyncedAt,
	}

	job, err := h.store.LatestSyncJob(r.Context(), accountID)
	switch {
	case err == nil:
		status["latest_job"] = map[string]interface{}{
			"id":             job.ID,
			"trigger":        job.Trigger,
			"status":         job.Status,
			"repos_synced":   job.ReposSynced,
			"prs_synced":     job.PRsSynced,
			"reviews_synced": job.ReviewsSynced,
			"error":          job.Error,
			"started_at":     job.StartedAt,
			"completed_at":   job.CompletedAt,
		}
	case errors.Is(err, apperrors.ErrNotFound):
		status["latest_job"] = nil
	default:
		h.logger.Error("Failed to get latest sync job", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

// getInsights regenerates and returns the insight batch for an account,
// optionally scoped to one contributor. refresh=false serves the stored
// batch without rerunning the analysis.
// GET /v1/insights?account_id=N&contributor=login&refresh=false
func (h *Handler) getInsights(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountIDParam(w, r)
	if !ok {
		return
	}
	contributor := r.URL.Query().Get("contributor")

	var insights []model.Insight
	var err error
	if r.URL.Query().Get("refresh") == "false" {
		insights, err = h.store.ListInsights(r.Context(), accountID)
	} else {
		insights, err = h.insights.Generate(r.Context(), accountID, contributor)
	}
	if err != nil {
		h.logger.Error("Failed to generate insights", "account_id", accountID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"insights": toInsightResponses(insights)})
}

// markInsightRead flags one insight as read so batch replacement keeps it.
// POST /v1/insights/{id}/read
func (h *Handler) markInsightRead(w http.ResponseWriter, r *http.Request) {
	h.updateInsight(w, r, h.store.MarkInsightRead)
}

// dismissInsight hides one insight without deleting it.
// POST /v1/insights/{id}/dismiss
func (h *Handler) dismissInsight(w http.ResponseWriter, r *http.Request) {
	h.updateInsight(w, r, h.store.DismissInsight)
}

func (h *Handler) updateInsight(w http.ResponseWriter, r *http.Request, update func(context.Context, int64) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid insight id")
		return
	}

	if err := update(r.Context(), id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Insight not found")
			return
		}
		h.logger.Error("Failed to update insight", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getRepos lists the account's synced repositories.
// GET /v1/repos?account_id=N
func (h *Handler) getRepos(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountIDParam(w, r)
	if !ok {
		return
	}

	repos, err := h.store.ListRepositories(r.Context(), accountID)
	if err != nil {
		h.logger.Error("Failed to list repositories", "account_id", accountID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"repositories": toRepoResponses(repos)})
}

// getRateLimit checks the account token's current core rate limit.
// GET /v1/rate-limit?account_id=N
func (h *Handler) getRateLimit(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountIDParam(w, r)
	if !ok {
		return
	}

	account, err := h.store.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.logger.Error("Failed to get account", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	token, err := h.cipher.Decrypt(account.EncryptedToken)
	if err != nil {
		h.logger.Error("Failed to decrypt account token", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	limit, err := h.newProbe(token).CheckRateLimit(r.Context())
	if err != nil {
		if apperrors.IsBadCredentials(err) {
			respondWithError(w, http.StatusUnauthorized, "GitHub rejected the stored token. Reconnect the account with a fresh token.")
			return
		}
		h.logger.Error("Failed to check rate limit", "error", err)
		respondWithError(w, http.StatusBadGateway, "Could not reach GitHub")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"limit":     limit.Limit,
		"remaining": limit.Remaining,
		"reset_at":  limit.ResetAt,
	})
}

// accountIDParam parses the required account_id query parameter.
func (h *Handler) accountIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("account_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Missing or invalid 'account_id' query parameter")
		return 0, false
	}
	return id, true
}

type insightResponse struct {
	ID             int64     `json:"id"`
	Category       string    `json:"category"`
	Severity       string    `json:"severity"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Recommendation *string   `json:"recommendation,omitempty"`
	MetricValue    *float64  `json:"metric_value,omitempty"`
	AffectedLogins []string  `json:"affected_logins,omitempty"`
	Priority       int       `json:"priority"`
	Read           bool      `json:"read"`
	Dismissed      bool      `json:"dismissed"`
	GeneratedAt    time.Time `json:"generated_at"`
}

func toInsightResponses(insights []model.Insight) []insightResponse {
	out := make([]insightResponse, 0, len(insights))
	for _, in := range insights {
		out = append(out, insightResponse{
			ID:             in.ID,
			Category:       in.Category,
			Severity:       string(in.Severity),
			Title:          in.Title,
			Description:    in.Description,
			Recommendation: in.Recommendation,
			MetricValue:    in.MetricValue,
			AffectedLogins: in.AffectedLogins,
			Priority:       in.Priority,
			Read:           in.Read,
			Dismissed:      in.Dismissed,
			GeneratedAt:    in.GeneratedAt,
		})
	}
	return out
}

type repoResponse struct {
	ID            int64      `json:"id"`
	GithubRepoID  int64      `json:"github_repo_id"`
	Name          string     `json:"name"`
	FullName      string     `json:"full_name"`
	Description   *string    `json:"description,omitempty"`
	DefaultBranch string     `json:"default_branch"`
	Private       bool       `json:"private"`
	IsActive      bool       `json:"is_active"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
}

func toRepoResponses(repos []model.Repository) []repoResponse {
	out := make([]repoResponse, 0, len(repos))
	for _, repo := range repos {
		out = append(out, repoResponse{
			ID:            repo.ID,
			GithubRepoID:  repo.GithubRepoID,
			Name:          repo.Name,
			FullName:      repo.FullName,
			Description:   repo.Description,
			DefaultBranch: repo.DefaultBranch,
			Private:       repo.Private,
			IsActive:      repo.IsActive,
			LastSyncedAt:  repo.LastSyncedAt,
		})
	}
	return out
}
