package reconcile

import (
	"context"
	"fmt"

	"github.com/chxlky/trello-signoff/database"
	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/chxlky/trello-signoff/internal/models"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Integrations reports whether each provider still accepts the tenant's token.
type Integrations struct {
	Github bool `json:"github"`
	Trello bool `json:"trello"`
}

func (e *Engine) UpsertUser(ctx context.Context, u *models.User) error {
	return e.store.UpsertUser(ctx, u)
}

func (e *Engine) User(ctx context.Context, userID uint) (*models.User, error) {
	return e.loadUser(ctx, userID)
}

// RepoForSlug resolves the repository a GitHub callback URL routes to.
func (e *Engine) RepoForSlug(ctx context.Context, slug string) (*models.GithubRepo, error) {
	repo, err := e.store.GetRepoBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("repository for slug: %w", err)
	}
	return repo, nil
}

func (e *Engine) SetChecklistFeature(ctx context.Context, userID uint, enabled bool) error {
	if _, err := e.loadUser(ctx, userID); err != nil {
		return err
	}
	if err := e.store.SetChecklistFeature(ctx, userID, enabled); err != nil {
		return fmt.Errorf("updating checklist feature: %w", err)
	}
	e.logger.Info("Checklist feature toggled", zap.Uint("userID", userID), zap.Bool("enabled", enabled))
	return nil
}

// IntegrationStatus checks both stored tokens. A token the provider no
// longer accepts is cleared.
func (e *Engine) IntegrationStatus(ctx context.Context, userID uint) (Integrations, error) {
	var out Integrations
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return out, err
	}

	var errs error
	if user.HasGithub() {
		ok, err := e.checkGithub(ctx, user)
		out.Github = ok
		errs = multierr.Append(errs, err)
	}
	if user.HasTrello() {
		ok, err := e.checkTrello(ctx, user)
		out.Trello = ok
		errs = multierr.Append(errs, err)
	}
	return out, errs
}

func (e *Engine) checkGithub(ctx context.Context, user *models.User) (bool, error) {
	gh, err := e.clients.Github(tokenOf(user.GithubToken))
	if err != nil {
		return false, err
	}
	ok, err := gh.CheckAuthorization(ctx)
	if err != nil {
		return false, fmt.Errorf("checking github authorization: %w", err)
	}
	if !ok {
		return false, e.store.ClearGithubToken(ctx, user.ID)
	}
	return true, nil
}

func (e *Engine) checkTrello(ctx context.Context, user *models.User) (bool, error) {
	tr, err := e.clients.Trello(tokenOf(user.TrelloToken))
	if err != nil {
		return false, err
	}
	ok, err := tr.CheckAuthorization(ctx)
	if err != nil {
		return false, fmt.Errorf("checking trello authorization: %w", err)
	}
	if !ok {
		return false, e.store.ClearTrelloToken(ctx, user.ID)
	}
	return true, nil
}

// RevokeGithub revokes the token on GitHub when possible and forgets it.
func (e *Engine) RevokeGithub(ctx context.Context, userID uint) error {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.HasGithub() {
		gh, err := e.clients.Github(tokenOf(user.GithubToken))
		if err == nil {
			err = gh.RevokeAuthorization(ctx)
		}
		if err != nil && !apperr.IsUnauthorized(err) && !apperr.IsResourceMissing(err) {
			e.logger.Warn("Failed to revoke GitHub token remotely", zap.Uint("userID", userID), zap.Error(err))
		}
	}
	return e.store.ClearGithubToken(ctx, userID)
}

// RevokeTrello revokes the token on Trello when possible and forgets it.
func (e *Engine) RevokeTrello(ctx context.Context, userID uint) error {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.HasTrello() {
		tr, err := e.clients.Trello(tokenOf(user.TrelloToken))
		if err == nil {
			err = tr.RevokeAuthorization(ctx)
		}
		if err != nil && !apperr.IsUnauthorized(err) && !apperr.IsResourceMissing(err) {
			e.logger.Warn("Failed to revoke Trello token remotely", zap.Uint("userID", userID), zap.Error(err))
		}
	}
	return e.store.ClearTrelloToken(ctx, userID)
}

// DeleteAccount removes the tenant's webhooks on a best-effort basis, then
// everything stored for it in dependency order.
func (e *Engine) DeleteAccount(ctx context.Context, userID uint) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return e.finish(ctx, TriggerAccount, nil, err)
	}
	repos, err := e.store.ReposForUser(ctx, userID)
	if err != nil {
		return e.finish(ctx, TriggerAccount, nil, err)
	}
	lists, err := e.store.ListsForUser(ctx, userID)
	if err != nil {
		return e.finish(ctx, TriggerAccount, nil, err)
	}

	err = e.store.Transaction(ctx, func(tx *database.Store) error {
		s := e.newSession(user, tx)
		var remote error
		for i := range repos {
			if repos[i].HookID == nil {
				continue
			}
			remote = multierr.Append(remote, s.deleteRepoHook(ctx, &repos[i]))
		}
		for i := range lists {
			remote = multierr.Append(remote, s.deleteListHook(ctx, &lists[i]))
		}
		if remote != nil {
			e.logger.Warn("Some webhooks could not be removed", zap.Uint("userID", userID), zap.Error(remote))
		}
		return tx.DeleteUser(ctx, userID)
	})
	if err != nil {
		return e.finish(ctx, TriggerAccount, nil, fmt.Errorf("deleting account %d: %w", userID, err))
	}
	e.logger.Info("Deleted account", zap.Uint("userID", userID), zap.Int("repositories", len(repos)), zap.Int("lists", len(lists)))
	return e.finish(ctx, TriggerAccount, nil, nil)
}
