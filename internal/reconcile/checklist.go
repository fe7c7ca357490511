package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/chxlky/trello-signoff/database"
	"github.com/chxlky/trello-signoff/integrations"
	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/chxlky/trello-signoff/internal/models"
	"go.uber.org/zap"
)

// syncChecklists makes sure every card linked to pr carries exactly one
// managed checklist with exactly one item for pr, checked iff pr is closed.
func (s *session) syncChecklists(ctx context.Context, pr *models.PullRequest) error {
	cards, err := s.tx.CardsForPullRequest(ctx, pr.ID)
	if err != nil {
		return err
	}
	for _, card := range cards {
		if card.RealID == "" {
			continue
		}
		checklist, err := s.ensureChecklist(ctx, &card)
		if apperr.IsResourceMissing(err) {
			s.e.logger.Warn("Card vanished while attaching checklist", zap.String("card", card.ID))
			continue
		}
		if err != nil {
			return fmt.Errorf("checklist on card %s: %w", card.ID, err)
		}
		if err := s.ensureCheckItem(ctx, &card, checklist, pr); err != nil {
			return fmt.Errorf("checklist item on card %s: %w", card.ID, err)
		}
	}
	return nil
}

// ensureChecklist returns the card's tracked checklist, recreating it when
// it was deleted on Trello.
func (s *session) ensureChecklist(ctx context.Context, card *models.TrelloCard) (*models.TrelloChecklist, error) {
	tr, err := s.trello()
	if err != nil {
		return nil, err
	}

	tracked, err := s.tx.ChecklistForCard(ctx, card.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		checklist, err := s.hydrateChecklist(ctx, card, FromLookup[integrations.TrelloChecklist](tracked.ID))
		if !apperr.IsResourceMissing(err) {
			return checklist, err
		}
		s.e.logger.Info("Checklist deleted on Trello; recreating", zap.String("card", card.ID), zap.String("checklist", tracked.ID))
		if err := s.tx.DeleteChecklist(ctx, tracked.ID); err != nil {
			return nil, err
		}
	}

	created, err := tr.CreateChecklist(ctx, card.RealID, s.e.checklistName)
	if err != nil {
		return nil, err
	}
	return s.hydrateChecklist(ctx, card, FromPayload(created))
}

func (s *session) hydrateChecklist(ctx context.Context, card *models.TrelloCard, src Source[integrations.TrelloChecklist]) (*models.TrelloChecklist, error) {
	tr, err := s.trello()
	if err != nil {
		return nil, err
	}
	remote, err := src.resolve(ctx, tr.GetChecklist)
	if err != nil {
		return nil, err
	}
	checklist := &models.TrelloChecklist{ID: remote.ID, CardID: card.ID, Name: remote.Name}
	if err := s.tx.SaveChecklist(ctx, checklist); err != nil {
		return nil, err
	}
	return checklist, nil
}

// ensureCheckItem creates pr's item when missing or deleted on Trello, and
// only writes its state when Trello's copy disagrees with pr.
func (s *session) ensureCheckItem(ctx context.Context, card *models.TrelloCard, checklist *models.TrelloChecklist, pr *models.PullRequest) error {
	tr, err := s.trello()
	if err != nil {
		return err
	}
	want := models.CheckItemIncomplete
	if pr.IsClosed() {
		want = models.CheckItemComplete
	}

	item, err := s.tx.CheckItemFor(ctx, checklist.ID, pr.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return s.createCheckItem(ctx, checklist, pr, want)
	case err != nil:
		return err
	}

	remote, err := tr.GetCheckItem(ctx, checklist.ID, item.ID)
	if apperr.IsResourceMissing(err) {
		s.e.logger.Info("Checklist item deleted on Trello; recreating", zap.String("card", card.ID), zap.String("item", item.ID))
		if err := s.tx.DeleteCheckItem(ctx, item.ID); err != nil {
			return err
		}
		return s.createCheckItem(ctx, checklist, pr, want)
	}
	if err != nil {
		return err
	}

	if remote.State != want {
		if remote, err = tr.UpdateCheckItem(ctx, card.RealID, item.ID, want); err != nil {
			return err
		}
	}
	if item.State == remote.State {
		return nil
	}
	item.State = remote.State
	return s.tx.SaveCheckItem(ctx, item)
}

func (s *session) createCheckItem(ctx context.Context, checklist *models.TrelloChecklist, pr *models.PullRequest, state string) error {
	tr, err := s.trello()
	if err != nil {
		return err
	}
	remote, err := tr.CreateCheckItem(ctx, checklist.ID, pr.HTMLURL, state == models.CheckItemComplete)
	if err != nil {
		return err
	}
	if remote.State == "" {
		remote.State = state
	}
	return s.tx.SaveCheckItem(ctx, &models.TrelloCheckItem{
		ID:            remote.ID,
		ChecklistID:   checklist.ID,
		PullRequestID: pr.ID,
		Name:          remote.Name,
		State:         remote.State,
	})
}
