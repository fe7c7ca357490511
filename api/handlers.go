package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/chxlky/trello-signoff/database"
	"github.com/chxlky/trello-signoff/internal/models"
	"github.com/chxlky/trello-signoff/internal/reconcile"
	"github.com/chxlky/trello-signoff/internal/signoff"
	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v75/github"
	"go.uber.org/zap"
)

// Reconciler is the part of *reconcile.Engine the handlers drive.
type Reconciler interface {
	RepoForSlug(ctx context.Context, slug string) (*models.GithubRepo, error)
	SyncPullRequest(ctx context.Context, payload models.PullRequestPayload) (signoff.Verdict, error)
	SyncTrelloCard(ctx context.Context, shortLink string) error

	UpsertUser(ctx context.Context, u *models.User) error
	SetChecklistFeature(ctx context.Context, userID uint, enabled bool) error
	SyncRepositories(ctx context.Context, userID uint, desired []int64) error
	TransferRepository(ctx context.Context, userID uint, repoID int64) error
	RegisterList(ctx context.Context, userID uint, listID string) (*models.TrelloList, error)
	UnregisterList(ctx context.Context, userID uint, listID string) error
	IntegrationStatus(ctx context.Context, userID uint) (reconcile.Integrations, error)
	RevokeGithub(ctx context.Context, userID uint) error
	RevokeTrello(ctx context.Context, userID uint) error
	DeleteAccount(ctx context.Context, userID uint) error
}

// Observer records request and webhook outcomes. *metrics.Collector
// satisfies it.
type Observer interface {
	ObserveHTTP(method, route, statusCode string, seconds float64)
	ObserveWebhook(provider, disposition string)
}

type nopObserver struct{}

func (nopObserver) ObserveHTTP(string, string, string, float64) {}
func (nopObserver) ObserveWebhook(string, string)               {}

const (
	dispositionProcessed = "processed"
	dispositionIgnored   = "ignored"
	dispositionRejected  = "rejected"
	dispositionFailed    = "failed"
)

type Handler struct {
	Engine Reconciler
	// TrelloSecret verifies X-Trello-Webhook when set.
	TrelloSecret      string
	TrelloCallbackURL string
	Metrics           Observer
	Logger            *zap.Logger
}

func (h *Handler) metrics() Observer {
	if h.Metrics == nil {
		return nopObserver{}
	}
	return h.Metrics
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.L()
	}
	return h.Logger
}

// acknowledge answers 200 whatever happened so providers keep delivering.
func (h *Handler) acknowledge(c *gin.Context, provider, disposition, message string) {
	h.metrics().ObserveWebhook(provider, disposition)
	c.JSON(http.StatusOK, gin.H{"message": message})
}

var pullRequestActions = map[string]bool{
	"opened":      true,
	"edited":      true,
	"reopened":    true,
	"synchronize": true,
	"closed":      true,
}

// GithubWebhookHandler ingests pull_request deliveries for the repository
// registered under the :slug in the callback URL.
func (h *Handler) GithubWebhookHandler(c *gin.Context) {
	const provider = "github"
	ctx := c.Request.Context()
	log := h.logger().With(zap.String("slug", c.Param("slug")), zap.String("delivery", github.DeliveryID(c.Request)))

	repo, err := h.Engine.RepoForSlug(ctx, c.Param("slug"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.Info("GitHub delivery for unknown slug; ignoring")
			h.acknowledge(c, provider, dispositionIgnored, "Unknown repository")
			return
		}
		log.Error("Failed to resolve slug", zap.Error(err))
		h.acknowledge(c, provider, dispositionFailed, "Internal error")
		return
	}

	body, err := github.ValidatePayload(c.Request, []byte(repo.HookSecret))
	if err != nil {
		log.Warn("GitHub delivery failed signature check", zap.String("repo", repo.FullName), zap.Error(err))
		h.acknowledge(c, provider, dispositionRejected, "Invalid signature")
		return
	}

	eventType := github.WebHookType(c.Request)
	switch eventType {
	case "ping":
		log.Info("GitHub ping received", zap.String("repo", repo.FullName))
		h.acknowledge(c, provider, dispositionProcessed, "pong")
		return
	case "pull_request":
	default:
		h.acknowledge(c, provider, dispositionIgnored, "Event type not handled")
		return
	}

	parsed, err := github.ParseWebHook(eventType, body)
	if err != nil {
		log.Warn("Malformed pull_request payload", zap.Error(err))
		h.metrics().ObserveWebhook(provider, dispositionRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	event, ok := parsed.(*github.PullRequestEvent)
	if !ok || event.GetPullRequest() == nil {
		h.metrics().ObserveWebhook(provider, dispositionRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing pull_request"})
		return
	}
	if !pullRequestActions[event.GetAction()] {
		h.acknowledge(c, provider, dispositionIgnored, "Action not handled")
		return
	}
	// The slug must route to the repository the payload is about.
	if event.GetRepo().GetID() != repo.ID {
		log.Warn("Payload repository does not match slug",
			zap.String("repo", repo.FullName),
			zap.Int64("payloadRepoID", event.GetRepo().GetID()),
		)
		h.acknowledge(c, provider, dispositionIgnored, "Repository mismatch")
		return
	}

	verdict, err := h.Engine.SyncPullRequest(ctx, pullRequestPayload(event))
	switch {
	case errors.Is(err, reconcile.ErrUntracked):
		h.acknowledge(c, provider, dispositionIgnored, "Repository not tracked")
	case err != nil:
		log.Error("Pull request sync failed",
			zap.String("repo", repo.FullName),
			zap.Int("number", event.GetNumber()),
			zap.Error(err),
		)
		h.acknowledge(c, provider, dispositionFailed, "Sync failed")
	default:
		h.metrics().ObserveWebhook(provider, dispositionProcessed)
		c.JSON(http.StatusOK, gin.H{"message": "Pull request synced", "state": verdict.State})
	}
}

func pullRequestPayload(event *github.PullRequestEvent) models.PullRequestPayload {
	pr := event.GetPullRequest()
	return models.PullRequestPayload{
		ID:          pr.GetID(),
		Number:      pr.GetNumber(),
		HeadSHA:     pr.GetHead().GetSHA(),
		RepoID:      event.GetRepo().GetID(),
		Body:        pr.GetBody(),
		HTMLURL:     pr.GetHTMLURL(),
		StatusesURL: pr.GetStatusesURL(),
		State:       pr.GetState(),
	}
}

func (h *Handler) TrelloWebhookHandler(c *gin.Context) {
	const provider = "trello"
	// Trello checks the callback with HEAD when a webhook is created.
	if c.Request.Method != http.MethodPost {
		c.Status(http.StatusOK)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}
	if h.TrelloSecret != "" && !validTrelloSignature(h.TrelloSecret, h.TrelloCallbackURL, body, c.GetHeader("X-Trello-Webhook")) {
		h.logger().Warn("Trello delivery failed signature check")
		h.acknowledge(c, provider, dispositionRejected, "Invalid signature")
		return
	}

	var payload models.TrelloWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger().Debug("Could not decode Trello payload", zap.Error(err))
		h.metrics().ObserveWebhook(provider, dispositionRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}
	if !payload.IsCardUpdate() {
		h.acknowledge(c, provider, dispositionIgnored, "No action taken")
		return
	}

	card := payload.Action.Data.Card
	err = h.Engine.SyncTrelloCard(c.Request.Context(), card.ShortLink)
	switch {
	case errors.Is(err, reconcile.ErrUntracked):
		h.acknowledge(c, provider, dispositionIgnored, "Card not linked")
	case err != nil:
		h.logger().Error("Card sync failed", zap.String("card", card.ShortLink), zap.Error(err))
		h.acknowledge(c, provider, dispositionFailed, "Sync failed")
	default:
		h.logger().Info("Card synced",
			zap.String("card", card.ShortLink),
			zap.String("listAfter", payload.Action.Data.ListAfter.ID),
		)
		h.acknowledge(c, provider, dispositionProcessed, "Card synced")
	}
}

// validTrelloSignature checks the base64 HMAC-SHA1 of body followed by the
// callback URL the webhook was registered with.
func validTrelloSignature(secret, callbackURL string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(callbackURL))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(header))
}

func (h *Handler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
