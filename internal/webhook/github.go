// internal/webhook/github.go

// Package webhook ingests GitHub webhook deliveries. Events flow through the
// same idempotent upsert path as a full sync, so a delivery racing a running
// sync converges to the same rows.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "pr-insights/internal/errors"
	"pr-insights/internal/model"
)

// SyncApplier applies single-entity updates observed via webhook.
type SyncApplier interface {
	ApplyPullRequestEvent(ctx context.Context, ownerLogin string, repo model.Repository, pr model.PullRequest) error
	ApplyReviewEvent(ctx context.Context, ownerLogin string, repo model.Repository, pr model.PullRequest, review model.Review) error
}

// GitHubHandler verifies and dispatches GitHub webhook deliveries.
type GitHubHandler struct {
	secret  []byte
	applier SyncApplier
	logger  *slog.Logger
}

// NewGitHubHandler creates a webhook handler with the given shared secret.
func NewGitHubHandler(secret string, applier SyncApplier, logger *slog.Logger) *GitHubHandler {
	return &GitHubHandler{
		secret:  []byte(secret),
		applier: applier,
		logger:  logger,
	}
}

type userPayload struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type repositoryPayload struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	FullName      string      `json:"full_name"`
	Description   *string     `json:"description"`
	DefaultBranch string      `json:"default_branch"`
	Private       bool        `json:"private"`
	Owner         userPayload `json:"owner"`
}

type pullRequestPayload struct {
	ID           int64       `json:"id"`
	Number       int         `json:"number"`
	Title        string      `json:"title"`
	Body         *string     `json:"body"`
	State        string      `json:"state"`
	User         userPayload `json:"user"`
	Additions    int         `json:"additions"`
	Deletions    int         `json:"deletions"`
	ChangedFiles int         `json:"changed_files"`
	Commits      int         `json:"commits"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	ClosedAt     *time.Time  `json:"closed_at"`
	MergedAt     *time.Time  `json:"merged_at"`
}

type reviewPayload struct {
	ID          int64       `json:"id"`
	User        userPayload `json:"user"`
	State       string      `json:"state"`
	Body        *string     `json:"body"`
	SubmittedAt *time.Time  `json:"submitted_at"`
}

type eventPayload struct {
	Action      string             `json:"action"`
	Repository  repositoryPayload  `json:"repository"`
	PullRequest pullRequestPayload `json:"pull_request"`
	Review      reviewPayload      `json:"review"`
}

// ServeHTTP implements http.Handler.
func (h *GitHubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "failed to parse payload", http.StatusBadRequest)
		return
	}

	logger := h.logger.With("event", eventType, "action", payload.Action, "repo", payload.Repository.FullName)

	switch eventType {
	case "pull_request":
		err = h.applyPullRequest(r.Context(), payload)
	case "pull_request_review":
		if payload.Review.SubmittedAt == nil || strings.EqualFold(payload.Review.State, "pending") {
			logger.Debug("Ignoring unsubmitted review")
			w.WriteHeader(http.StatusOK)
			return
		}
		err = h.applyReview(r.Context(), payload)
	case "ping":
		w.WriteHeader(http.StatusOK)
		return
	default:
		logger.Debug("Ignoring unhandled webhook event")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err != nil {
		// An event for an account we do not track is not worth a GitHub
		// redelivery loop.
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.Warn("Dropping webhook for unknown account", "error", err)
			w.WriteHeader(http.StatusOK)
			return
		}
		logger.Error("Failed to apply webhook event", "error", err)
		http.Error(w, "failed to apply event", http.StatusInternalServerError)
		return
	}

	logger.Info("Applied webhook event", "pr", payload.PullRequest.Number)
	w.WriteHeader(http.StatusOK)
}

func (h *GitHubHandler) applyPullRequest(ctx context.Context, payload eventPayload) error {
	return h.applier.ApplyPullRequestEvent(ctx,
		payload.Repository.Owner.Login,
		toRepository(payload.Repository),
		toPullRequest(payload.PullRequest),
	)
}

func (h *GitHubHandler) applyReview(ctx context.Context, payload eventPayload) error {
	return h.applier.ApplyReviewEvent(ctx,
		payload.Repository.Owner.Login,
		toRepository(payload.Repository),
		toPullRequest(payload.PullRequest),
		toReview(payload.Review),
	)
}

// verifySignature checks the X-Hub-Signature-256 header against the payload.
func (h *GitHubHandler) verifySignature(payload []byte, signature string) error {
	if signature == "" {
		return errors.New("missing signature")
	}
	if !strings.HasPrefix(signature, "sha256=") {
		return apperrors.ErrInvalidSignature
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return apperrors.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return apperrors.ErrInvalidSignature
	}
	return nil
}

func toRepository(p repositoryPayload) model.Repository {
	return model.Repository{
		GithubRepoID:  p.ID,
		Name:          p.Name,
		FullName:      p.FullName,
		Description:   p.Description,
		DefaultBranch: p.DefaultBranch,
		Private:       p.Private,
		IsActive:      true,
	}
}

func toPullRequest(p pullRequestPayload) model.PullRequest {
	state := model.PRStateOpen
	if p.MergedAt != nil {
		state = model.PRStateMerged
	} else if p.State == "closed" {
		state = model.PRStateClosed
	}

	return model.PullRequest{
		GithubPRID:   p.ID,
		Number:       p.Number,
		Title:        p.Title,
		Body:         p.Body,
		State:        state,
		AuthorLogin:  p.User.Login,
		Additions:    p.Additions,
		Deletions:    p.Deletions,
		ChangedFiles: p.ChangedFiles,
		Commits:      p.Commits,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		ClosedAt:     p.ClosedAt,
		MergedAt:     p.MergedAt,
	}
}

func toReview(p reviewPayload) model.Review {
	review := model.Review{
		GithubReviewID: p.ID,
		ReviewerLogin:  p.User.Login,
		State:          model.ReviewState(strings.ToUpper(p.State)),
		Body:           p.Body,
	}
	if p.SubmittedAt != nil {
		review.SubmittedAt = *p.SubmittedAt
	}
	return review
}
