package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/chxlky/trello-signoff/database"
	"github.com/chxlky/trello-signoff/integrations"
	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/chxlky/trello-signoff/internal/models"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SyncRepositories makes desired the tenant's set of tracked repositories.
// Each repository is added or removed in its own transaction; failures are
// collected and do not stop the rest. A repository tracked by another tenant
// is reported as a conflict and left alone.
func (e *Engine) SyncRepositories(ctx context.Context, userID uint, desired []int64) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return e.finish(ctx, TriggerRepos, nil, err)
	}
	current, err := e.store.ReposForUser(ctx, userID)
	if err != nil {
		return e.finish(ctx, TriggerRepos, user, err)
	}

	want := make(map[int64]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
	}
	have := make(map[int64]struct{}, len(current))

	var errs error
	for i := range current {
		repo := &current[i]
		have[repo.ID] = struct{}{}
		if _, ok := want[repo.ID]; ok {
			continue
		}
		err := e.store.Transaction(ctx, func(tx *database.Store) error {
			return e.newSession(user, tx).removeRepo(ctx, repo)
		})
		errs = multierr.Append(errs, err)
	}

	added := make([]int64, 0, len(want))
	for id := range want {
		if _, ok := have[id]; !ok {
			added = append(added, id)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })

	for _, id := range added {
		existing, err := e.store.GetRepo(ctx, id)
		switch {
		case err == nil:
			errs = multierr.Append(errs, apperr.NewConflict(
				fmt.Sprintf("repository %s is tracked by another user; transfer it instead", existing.FullName)))
			continue
		case !errors.Is(err, database.ErrNotFound):
			errs = multierr.Append(errs, err)
			continue
		}
		err = e.store.Transaction(ctx, func(tx *database.Store) error {
			return e.newSession(user, tx).addRepo(ctx, id)
		})
		errs = multierr.Append(errs, err)
	}

	return e.finish(ctx, TriggerRepos, user, errs)
}

// removeRepo deletes the repository's webhook, tolerating a hook or token
// that is already gone, then its local registration.
func (s *session) removeRepo(ctx context.Context, repo *models.GithubRepo) error {
	if repo.HookID != nil {
		err := s.deleteRepoHook(ctx, repo)
		if err != nil && !apperr.IsUnauthorized(err) {
			return fmt.Errorf("removing %s: %w", repo.FullName, err)
		}
		if err != nil {
			s.e.logger.Warn("GitHub authorization already revoked; dropping registration only", zap.String("repo", repo.FullName))
		}
	}
	if err := s.tx.DeleteRepo(ctx, repo.ID); err != nil {
		return fmt.Errorf("removing %s: %w", repo.FullName, err)
	}
	s.e.logger.Info("Stopped tracking repository", zap.String("repo", repo.FullName))
	return nil
}

func (s *session) deleteRepoHook(ctx context.Context, repo *models.GithubRepo) error {
	gh, err := s.github()
	if err != nil {
		return err
	}
	return gh.DeleteWebhook(ctx, repo.Owner(), repo.Name(), *repo.HookID)
}

// addRepo registers a pull_request webhook with a fresh secret and routing
// slug and stores the repository hydrated from the API.
func (s *session) addRepo(ctx context.Context, repoID int64) error {
	gh, err := s.github()
	if err != nil {
		return err
	}
	remote, err := gh.GetRepository(ctx, repoID)
	if err != nil {
		return fmt.Errorf("fetching repository %d: %w", repoID, err)
	}

	secret, err := newSecret()
	if err != nil {
		return err
	}
	repo := &models.GithubRepo{
		ID:         repoID,
		FullName:   remote.GetFullName(),
		HookSlug:   uuid.NewString(),
		HookSecret: secret,
		UserID:     s.user.ID,
	}

	hookID, err := gh.CreateWebhook(ctx, repo.Owner(), repo.Name(), s.e.githubCallbackURL(repo.HookSlug), secret)
	if err != nil {
		return fmt.Errorf("creating webhook on %s: %w", repo.FullName, err)
	}
	repo.HookID = &hookID

	if err := s.tx.SaveRepo(ctx, repo); err != nil {
		// Don't leave a hook behind that nothing routes to.
		if delErr := gh.DeleteWebhook(context.WithoutCancel(ctx), repo.Owner(), repo.Name(), hookID); delErr != nil {
			s.e.logger.Error("Failed to remove orphaned webhook", zap.String("repo", repo.FullName), zap.Error(delErr))
		}
		return fmt.Errorf("saving %s: %w", repo.FullName, err)
	}
	s.e.logger.Info("Tracking repository", zap.String("repo", repo.FullName), zap.Int64("hookID", hookID))
	return nil
}

// TransferRepository hands a tracked repository to userID, keeping its
// webhook, secret and slug, and tells the previous owner.
func (e *Engine) TransferRepository(ctx context.Context, userID uint, repoID int64) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return e.finish(ctx, TriggerTransfer, nil, err)
	}
	if !user.HasGithub() {
		return e.finish(ctx, TriggerTransfer, nil, apperr.NewUnauthorized(apperr.ServiceGithub, "connect GitHub before taking over a repository"))
	}

	repo, err := e.store.GetRepo(ctx, repoID)
	if err != nil {
		return e.finish(ctx, TriggerTransfer, user, fmt.Errorf("loading repository %d: %w", repoID, err))
	}
	if repo.UserID == user.ID {
		return e.finish(ctx, TriggerTransfer, user, nil)
	}
	previous, err := e.loadUser(ctx, repo.UserID)
	if err != nil {
		return e.finish(ctx, TriggerTransfer, user, err)
	}

	err = e.store.Transaction(ctx, func(tx *database.Store) error {
		return tx.SetRepoOwner(ctx, repo.ID, user.ID)
	})
	if err != nil {
		return e.finish(ctx, TriggerTransfer, user, fmt.Errorf("transferring %s: %w", repo.FullName, err))
	}
	e.logger.Info("Transferred repository",
		zap.String("repo", repo.FullName),
		zap.Uint("from", previous.ID),
		zap.Uint("to", user.ID),
	)

	notice := integrations.TransferNotice{
		PreviousOwnerEmail: previous.Email,
		NewOwnerEmail:      user.Email,
		RepoFullName:       repo.FullName,
	}
	if err := e.notifier.NotifyTransfer(ctx, notice); err != nil {
		e.logger.Error("Failed to notify previous owner", zap.String("repo", repo.FullName), zap.Error(err))
	}
	return e.finish(ctx, TriggerTransfer, user, nil)
}
