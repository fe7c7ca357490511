package reconcile

import (
	"context"
	"fmt"

	"github.com/chxlky/trello-signoff/database"
	"github.com/chxlky/trello-signoff/internal/models"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SyncTrelloCard re-fetches a moved card and re-pushes the status of every
// pull request linked to it. Pull requests are grouped by owning tenant;
// each tenant's batch commits independently.
func (e *Engine) SyncTrelloCard(ctx context.Context, shortLink string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	prs, err := e.store.PullRequestsForCard(ctx, shortLink)
	if err != nil {
		return e.finish(ctx, TriggerTrelloCard, nil, err)
	}
	if len(prs) == 0 {
		e.logger.Debug("Ignoring move of unlinked card", zap.String("card", shortLink))
		return e.finish(ctx, TriggerTrelloCard, nil, ErrUntracked)
	}

	type batch struct {
		repos map[int64]*models.GithubRepo
		prs   []models.PullRequest
	}
	batches := map[uint]*batch{}
	var order []uint
	var errs error
	for _, pr := range prs {
		repo, err := e.store.GetRepo(ctx, pr.RepoID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("repository %d: %w", pr.RepoID, err))
			continue
		}
		b, ok := batches[repo.UserID]
		if !ok {
			b = &batch{repos: map[int64]*models.GithubRepo{}}
			batches[repo.UserID] = b
			order = append(order, repo.UserID)
		}
		b.repos[repo.ID] = repo
		b.prs = append(b.prs, pr)
	}

	for _, userID := range order {
		b := batches[userID]
		user, err := e.loadUser(ctx, userID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		err = e.store.Transaction(ctx, func(tx *database.Store) error {
			s := e.newSession(user, tx)
			if _, err := s.refreshCard(ctx, models.TrelloCard{ID: shortLink}); err != nil {
				return err
			}
			for i := range b.prs {
				pr := &b.prs[i]
				if _, err := s.pushStatus(ctx, b.repos[pr.RepoID], pr); err != nil {
					return fmt.Errorf("pull request %d: %w", pr.ID, err)
				}
			}
			return nil
		})
		errs = multierr.Append(errs, e.finish(ctx, TriggerTrelloCard, user, err))
	}
	return errs
}
