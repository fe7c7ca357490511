package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/chxlky/trello-signoff/database"
	"github.com/chxlky/trello-signoff/integrations"
	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/chxlky/trello-signoff/internal/cardlink"
	"github.com/chxlky/trello-signoff/internal/models"
	"github.com/chxlky/trello-signoff/internal/signoff"
	"go.uber.org/zap"
)

// SyncPullRequest upserts the pull request, reconciles its card links
// against the body, pushes the signoff status and, when the tenant has the
// checklist feature on, mirrors the pull request onto each card's checklist.
// All local writes commit together or not at all.
func (e *Engine) SyncPullRequest(ctx context.Context, payload models.PullRequestPayload) (signoff.Verdict, error) {
	var verdict signoff.Verdict
	if err := e.acquire(ctx); err != nil {
		return verdict, err
	}
	defer e.release()

	repo, err := e.store.GetRepo(ctx, payload.RepoID)
	if errors.Is(err, database.ErrNotFound) {
		e.logger.Info("Ignoring pull request for untracked repository", zap.Int64("repoID", payload.RepoID))
		return verdict, e.finish(ctx, TriggerPullRequest, nil, ErrUntracked)
	}
	if err != nil {
		return verdict, e.finish(ctx, TriggerPullRequest, nil, err)
	}
	user, err := e.loadUser(ctx, repo.UserID)
	if err != nil {
		return verdict, e.finish(ctx, TriggerPullRequest, nil, err)
	}

	err = e.store.Transaction(ctx, func(tx *database.Store) error {
		s := e.newSession(user, tx)
		v, err := s.syncPullRequest(ctx, repo, payload)
		verdict = v
		return err
	})
	if err != nil {
		verdict = signoff.Verdict{}
	}
	return verdict, e.finish(ctx, TriggerPullRequest, user, err)
}

func (s *session) syncPullRequest(ctx context.Context, repo *models.GithubRepo, payload models.PullRequestPayload) (signoff.Verdict, error) {
	logger := s.e.logger.With(zap.String("repo", repo.FullName), zap.Int("number", payload.Number))

	var pr models.PullRequest
	if existing, err := s.tx.GetPullRequest(ctx, payload.ID); err == nil {
		pr = *existing
	} else if !errors.Is(err, database.ErrNotFound) {
		return signoff.Verdict{}, err
	}
	payload.Apply(&pr)
	if err := s.tx.UpsertPullRequest(ctx, &pr); err != nil {
		return signoff.Verdict{}, fmt.Errorf("saving pull request: %w", err)
	}

	wanted := cardlink.Extract(pr.Body)
	linked, err := s.tx.LinkedCardIDs(ctx, pr.ID)
	if err != nil {
		return signoff.Verdict{}, err
	}

	removed := difference(linked, wanted)
	for _, cardID := range removed {
		if err := s.unlinkCard(ctx, cardID, &pr); err != nil {
			return signoff.Verdict{}, err
		}
	}
	if len(removed) > 0 {
		if err := s.tx.PruneOrphanCards(ctx); err != nil {
			return signoff.Verdict{}, fmt.Errorf("pruning cards: %w", err)
		}
	}

	for _, cardID := range difference(wanted, linked) {
		card, err := s.hydrateCard(ctx, cardID, FromLookup[integrations.TrelloCard](cardID))
		if apperr.IsResourceMissing(err) || apperr.IsInvalidRequest(err) {
			logger.Warn("Skipping unresolvable card reference", zap.String("card", cardID), zap.Error(err))
			continue
		}
		if err != nil {
			return signoff.Verdict{}, fmt.Errorf("fetching card %s: %w", cardID, err)
		}
		if err := s.tx.LinkCard(ctx, card.ID, pr.ID); err != nil {
			return signoff.Verdict{}, fmt.Errorf("linking card %s: %w", card.ID, err)
		}
		logger.Info("Linked card", zap.String("card", card.ID))
	}

	verdict, err := s.pushStatus(ctx, repo, &pr)
	if err != nil {
		return signoff.Verdict{}, err
	}

	if s.user.ChecklistFeatureEnabled {
		if err := s.syncChecklists(ctx, &pr); err != nil {
			return signoff.Verdict{}, err
		}
	}
	return verdict, nil
}

// unlinkCard removes this pull request's checklist item from the card, then
// the link itself.
func (s *session) unlinkCard(ctx context.Context, cardID string, pr *models.PullRequest) error {
	item, err := s.tx.CheckItemForCard(ctx, cardID, pr.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return err
	default:
		tr, err := s.trello()
		if err != nil {
			return err
		}
		if err := tr.DeleteCheckItem(ctx, item.ChecklistID, item.ID); err != nil && !apperr.IsResourceMissing(err) {
			return fmt.Errorf("deleting checklist item on card %s: %w", cardID, err)
		}
		if err := s.tx.DeleteCheckItem(ctx, item.ID); err != nil {
			return err
		}
	}

	if err := s.tx.UnlinkCard(ctx, cardID, pr.ID); err != nil {
		return fmt.Errorf("unlinking card %s: %w", cardID, err)
	}
	s.e.logger.Info("Unlinked card", zap.String("card", cardID), zap.Int64("pullRequestID", pr.ID))
	return nil
}

// hydrateCard stores the card's live state under key, its short link.
func (s *session) hydrateCard(ctx context.Context, key string, src Source[integrations.TrelloCard]) (*models.TrelloCard, error) {
	tr, err := s.trello()
	if err != nil {
		return nil, err
	}
	remote, err := src.resolve(ctx, tr.GetCard)
	if err != nil {
		return nil, err
	}
	s.fresh[key] = remote

	card := &models.TrelloCard{
		ID:      key,
		RealID:  remote.ID,
		Name:    remote.Name,
		BoardID: remote.IDBoard,
		ListID:  remote.IDList,
	}
	if err := s.tx.UpsertCard(ctx, card); err != nil {
		return nil, fmt.Errorf("saving card %s: %w", key, err)
	}
	return card, nil
}

// refreshCard reuses a card fetched earlier in this call and otherwise
// fetches it again. A card deleted on Trello keeps its row but loses its
// list, so it cannot count as signed off.
func (s *session) refreshCard(ctx context.Context, card models.TrelloCard) (models.TrelloCard, error) {
	src := FromLookup[integrations.TrelloCard](card.ID)
	if remote, ok := s.fresh[card.ID]; ok {
		src = FromPayload(remote)
	}
	fresh, err := s.hydrateCard(ctx, card.ID, src)
	if apperr.IsResourceMissing(err) {
		s.e.logger.Warn("Linked card no longer exists on Trello", zap.String("card", card.ID))
		card.ListID = ""
		return card, nil
	}
	if err != nil {
		return card, fmt.Errorf("refreshing card %s: %w", card.ID, err)
	}
	return *fresh, nil
}

// computeStatus re-fetches every linked card and counts those sitting in one
// of the tenant's registered lists.
func (s *session) computeStatus(ctx context.Context, pr *models.PullRequest) (signoff.Verdict, error) {
	cards, err := s.tx.CardsForPullRequest(ctx, pr.ID)
	if err != nil {
		return signoff.Verdict{}, err
	}
	members := make([]signoff.Membership, 0, len(cards))
	for _, card := range cards {
		live, err := s.refreshCard(ctx, card)
		if err != nil {
			return signoff.Verdict{}, err
		}
		members = append(members, signoff.Membership{ListID: live.ListID})
	}

	registered, err := s.tx.RegisteredListIDs(ctx, s.user.ID)
	if err != nil {
		return signoff.Verdict{}, err
	}
	return signoff.Compute(members, registered), nil
}

// pushStatus computes the verdict and posts it as a commit status. GitHub
// rejecting the status is logged and otherwise ignored; a rejected token or
// a timeout fails the call.
func (s *session) pushStatus(ctx context.Context, repo *models.GithubRepo, pr *models.PullRequest) (signoff.Verdict, error) {
	verdict, err := s.computeStatus(ctx, pr)
	if err != nil {
		return verdict, err
	}

	gh, err := s.github()
	if err != nil {
		return verdict, err
	}
	status := integrations.CommitStatus{
		State:       string(verdict.State),
		Description: s.e.wording.Description(verdict.State),
		Context:     s.e.wording.Context,
		TargetURL:   s.e.targetURL,
	}
	err = gh.CreateStatus(ctx, repo.Owner(), repo.Name(), pr.HeadSHA, status)
	switch {
	case err == nil:
		s.e.metrics.ObserveStatusPush(status.State, "success")
	case apperr.IsInvalidRequest(err) || apperr.IsResourceMissing(err):
		s.e.metrics.ObserveStatusPush(status.State, "rejected")
		s.e.logger.Error("GitHub rejected commit status",
			zap.String("repo", repo.FullName),
			zap.String("sha", pr.HeadSHA),
			zap.Error(err),
		)
	default:
		s.e.metrics.ObserveStatusPush(status.State, "failed")
		return verdict, fmt.Errorf("pushing status: %w", err)
	}

	s.e.logger.Info("Pushed signoff status",
		zap.String("repo", repo.FullName),
		zap.Int("number", pr.Number),
		zap.String("state", status.State),
		zap.Int("required", verdict.Required),
		zap.Int("signedOff", verdict.SignedOff),
	)
	return verdict, nil
}

// difference returns the keys of a missing from b, sorted.
func difference(a, b map[string]struct{}) []string {
	out := make([]string, 0)
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
