// Package reconcile keeps tracked pull requests, cards, checklists and
// registrations consistent with GitHub and Trello, and pushes the derived
// signoff status back to GitHub.
package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/chxlky/trello-signoff/database"
	"github.com/chxlky/trello-signoff/integrations"
	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/chxlky/trello-signoff/internal/config"
	"github.com/chxlky/trello-signoff/internal/models"
	"github.com/chxlky/trello-signoff/internal/signoff"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrUntracked means the event refers to nothing this service tracks.
var ErrUntracked = errors.New("untracked")

const (
	TriggerPullRequest = "pull_request"
	TriggerTrelloCard  = "trello_card"
	TriggerRepos       = "repositories"
	TriggerTransfer    = "transfer"
	TriggerList        = "list"
	TriggerAccount     = "account"
)

// Recorder receives reconciliation outcomes. *metrics.Collector satisfies it.
type Recorder interface {
	ObserveReconciliation(trigger, outcome string)
	ObserveStatusPush(state, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveReconciliation(string, string) {}
func (nopRecorder) ObserveStatusPush(string, string)     {}

type Engine struct {
	store    *database.Store
	clients  Clients
	notifier integrations.Notifier
	metrics  Recorder
	logger   *zap.Logger

	wording           signoff.Wording
	checklistName     string
	targetURL         string
	githubCallbackURL func(slug string) string
	trelloCallbackURL string

	slots chan struct{}
}

func New(cfg *config.Config, store *database.Store, clients Clients, notifier integrations.Notifier, metrics Recorder, logger *zap.Logger) *Engine {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = integrations.NewLogNotifier(logger)
	}
	workers := cfg.Server.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		store:    store,
		clients:  clients,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		wording: signoff.Wording{
			Context:            cfg.Signoff.Context,
			PendingDescription: cfg.Signoff.PendingDescription,
			SuccessDescription: cfg.Signoff.SuccessDescription,
		},
		checklistName:     cfg.Signoff.ChecklistName,
		targetURL:         cfg.Signoff.TargetURL,
		githubCallbackURL: cfg.GithubCallbackURL,
		trelloCallbackURL: cfg.TrelloCallbackURL(),
		slots:             make(chan struct{}, workers),
	}
}

// acquire blocks until a worker slot frees up or ctx ends.
func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	<-e.slots
}

// finish records the outcome of a call and, when a provider rejected the
// tenant's token, clears it. It runs after the call's transaction has rolled
// back so the cleared token is not undone.
func (e *Engine) finish(ctx context.Context, trigger string, user *models.User, err error) error {
	e.metrics.ObserveReconciliation(trigger, outcomeOf(err))
	if err == nil || user == nil {
		return err
	}

	cleared := map[string]bool{}
	for _, one := range multierr.Errors(err) {
		service := apperr.ServiceOf(one)
		if !apperr.IsUnauthorized(one) || cleared[service] {
			continue
		}
		cleared[service] = true

		var clearErr error
		switch service {
		case apperr.ServiceGithub:
			clearErr = e.store.ClearGithubToken(context.WithoutCancel(ctx), user.ID)
		case apperr.ServiceTrello:
			clearErr = e.store.ClearTrelloToken(context.WithoutCancel(ctx), user.ID)
		default:
			continue
		}
		if clearErr != nil {
			e.logger.Error("Failed to clear rejected token", zap.Uint("userID", user.ID), zap.Error(clearErr))
			continue
		}
		e.logger.Warn("Provider rejected stored token; user must re-authorize",
			zap.Uint("userID", user.ID),
			zap.String("service", service),
		)
	}
	return err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrUntracked):
		return "ignored"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	if appErr, ok := apperr.As(err); ok {
		return string(appErr.Kind)
	}
	return "error"
}

// session carries the per-call state of one reconciliation: the tenant, the
// transaction-scoped store and lazily built API clients.
type session struct {
	e    *Engine
	user *models.User
	tx   *database.Store

	gh GithubAPI
	tr TrelloAPI

	// fresh holds cards already fetched during this call.
	fresh map[string]*integrations.TrelloCard
}

func (e *Engine) newSession(user *models.User, tx *database.Store) *session {
	return &session{e: e, user: user, tx: tx, fresh: map[string]*integrations.TrelloCard{}}
}

func (s *session) github() (GithubAPI, error) {
	if s.gh == nil {
		gh, err := s.e.clients.Github(tokenOf(s.user.GithubToken))
		if err != nil {
			return nil, err
		}
		s.gh = gh
	}
	return s.gh, nil
}

func (s *session) trello() (TrelloAPI, error) {
	if s.tr == nil {
		tr, err := s.e.clients.Trello(tokenOf(s.user.TrelloToken))
		if err != nil {
			return nil, err
		}
		s.tr = tr
	}
	return s.tr, nil
}

func tokenOf(token *string) string {
	if token == nil {
		return ""
	}
	return *token
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating hook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (e *Engine) loadUser(ctx context.Context, userID uint) (*models.User, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}
	return user, nil
}
