package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/chxlky/trello-signoff/database"
	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/chxlky/trello-signoff/internal/models"
	"go.uber.org/zap"
)

// RegisterList makes listID a signoff list for the tenant. Registering a
// list that already has a webhook reuses that webhook, so a list never has
// more than one stored registration.
func (e *Engine) RegisterList(ctx context.Context, userID uint, listID string) (*models.TrelloList, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, e.finish(ctx, TriggerList, nil, err)
	}
	existing, err := e.store.GetList(ctx, listID)
	switch {
	case err == nil && existing.UserID != user.ID:
		return nil, e.finish(ctx, TriggerList, user, apperr.NewConflict(
			fmt.Sprintf("list %s is registered by another user", existing.Name)))
	case err != nil && !errors.Is(err, database.ErrNotFound):
		return nil, e.finish(ctx, TriggerList, user, err)
	}

	var registered *models.TrelloList
	err = e.store.Transaction(ctx, func(tx *database.Store) error {
		s := e.newSession(user, tx)
		l, err := s.registerList(ctx, listID)
		registered = l
		return err
	})
	if err != nil {
		return nil, e.finish(ctx, TriggerList, user, err)
	}
	return registered, e.finish(ctx, TriggerList, user, nil)
}

func (s *session) registerList(ctx context.Context, listID string) (*models.TrelloList, error) {
	tr, err := s.trello()
	if err != nil {
		return nil, err
	}
	list, err := tr.GetList(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("fetching list %s: %w", listID, err)
	}
	board, err := tr.GetBoard(ctx, list.IDBoard)
	if err != nil {
		return nil, fmt.Errorf("fetching board %s: %w", list.IDBoard, err)
	}

	hook, err := tr.CreateWebhook(ctx, list.ID, s.e.trelloCallbackURL)
	if apperr.IsHookAlreadyExists(err) {
		s.e.logger.Info("Trello webhook already exists; reusing it", zap.String("list", list.ID))
		hook, err = tr.GetWebhook(ctx, list.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("webhook for list %s: %w", list.ID, err)
	}

	registration := &models.TrelloList{
		ID:        list.ID,
		BoardID:   board.ID,
		BoardName: board.Name,
		Name:      list.Name,
		HookID:    hook.ID,
		UserID:    s.user.ID,
	}
	if err := s.tx.SaveList(ctx, registration); err != nil {
		return nil, err
	}
	s.e.logger.Info("Registered signoff list",
		zap.String("board", board.Name),
		zap.String("list", list.Name),
		zap.String("hookID", hook.ID),
	)
	return registration, nil
}

// UnregisterList drops the list's webhook, tolerating one that is already
// gone, and its registration.
func (e *Engine) UnregisterList(ctx context.Context, userID uint, listID string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return e.finish(ctx, TriggerList, nil, err)
	}
	list, err := e.store.GetList(ctx, listID)
	if err != nil {
		return e.finish(ctx, TriggerList, user, fmt.Errorf("loading list %s: %w", listID, err))
	}
	if list.UserID != user.ID {
		return e.finish(ctx, TriggerList, user, apperr.NewConflict(
			fmt.Sprintf("list %s is registered by another user", list.Name)))
	}

	err = e.store.Transaction(ctx, func(tx *database.Store) error {
		s := e.newSession(user, tx)
		if err := s.deleteListHook(ctx, list); err != nil {
			return err
		}
		return tx.DeleteList(ctx, list.ID)
	})
	return e.finish(ctx, TriggerList, user, err)
}

func (s *session) deleteListHook(ctx context.Context, list *models.TrelloList) error {
	if list.HookID == "" {
		return nil
	}
	tr, err := s.trello()
	if err == nil {
		err = tr.DeleteWebhook(ctx, list.HookID)
	}
	switch {
	case err == nil:
		return nil
	case apperr.IsResourceMissing(err), apperr.IsUnauthorized(err):
		s.e.logger.Info("Trello webhook already gone", zap.String("list", list.ID), zap.String("hookID", list.HookID))
		return nil
	default:
		return fmt.Errorf("deleting webhook for list %s: %w", list.ID, err)
	}
}
