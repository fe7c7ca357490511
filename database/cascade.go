package database

import (
	"context"
	"fmt"

	"github.com/chxlky/trello-signoff/internal/models"
	"gorm.io/gorm"
)

// DeleteRepo removes a repository registration together with its pull
// requests and everything hanging off them.
func (s *Store) DeleteRepo(ctx context.Context, repoID int64) error {
	q := s.with(ctx)
	var prIDs []int64
	if err := q.Model(&models.PullRequest{}).Where("repo_id = ?", repoID).Pluck("id", &prIDs).Error; err != nil {
		return err
	}
	if err := deletePullRequests(q, prIDs); err != nil {
		return err
	}
	return q.Where("id = ?", repoID).Delete(&models.GithubRepo{}).Error
}

// DeleteUser removes a tenant and everything it owns. Children go first:
// checklist items, checklists, card links, cards, then list registrations,
// pull requests, repositories and finally the tenant row.
func (s *Store) DeleteUser(ctx context.Context, userID uint) error {
	q := s.with(ctx)

	var repoIDs []int64
	if err := q.Model(&models.GithubRepo{}).Where("user_id = ?", userID).Pluck("id", &repoIDs).Error; err != nil {
		return err
	}
	var prIDs []int64
	if len(repoIDs) > 0 {
		if err := q.Model(&models.PullRequest{}).Where("repo_id IN ?", repoIDs).Pluck("id", &prIDs).Error; err != nil {
			return err
		}
	}

	if err := deleteCardGraph(q, prIDs); err != nil {
		return err
	}
	if err := q.Where("user_id = ?", userID).Delete(&models.TrelloList{}).Error; err != nil {
		return fmt.Errorf("deleting list registrations: %w", err)
	}
	if len(prIDs) > 0 {
		if err := q.Where("id IN ?", prIDs).Delete(&models.PullRequest{}).Error; err != nil {
			return fmt.Errorf("deleting pull requests: %w", err)
		}
	}
	if err := q.Where("user_id = ?", userID).Delete(&models.GithubRepo{}).Error; err != nil {
		return fmt.Errorf("deleting repositories: %w", err)
	}
	return q.Where("id = ?", userID).Delete(&models.User{}).Error
}

// PruneOrphanCards removes cards no pull request links to any more, along
// with their checklists.
func (s *Store) PruneOrphanCards(ctx context.Context) error {
	q := s.with(ctx)
	var orphans []string
	if err := q.Model(&models.TrelloCard{}).
		Where("id NOT IN (?)", q.Model(&models.PullRequestTrelloCard{}).Select("card_id")).
		Pluck("id", &orphans).Error; err != nil {
		return err
	}
	return deleteCards(q, orphans)
}

func deletePullRequests(q *gorm.DB, prIDs []int64) error {
	if len(prIDs) == 0 {
		return nil
	}
	if err := deleteCardGraph(q, prIDs); err != nil {
		return err
	}
	return q.Where("id IN ?", prIDs).Delete(&models.PullRequest{}).Error
}

// deleteCardGraph drops the checklist items, links and now-orphaned cards
// belonging to the given pull requests.
func deleteCardGraph(q *gorm.DB, prIDs []int64) error {
	if len(prIDs) == 0 {
		return nil
	}

	// Cards only referenced by these pull requests become orphans.
	var orphans []string
	if err := q.Model(&models.PullRequestTrelloCard{}).
		Where("pull_request_id IN ?", prIDs).
		Where("card_id NOT IN (?)", q.Model(&models.PullRequestTrelloCard{}).
			Select("card_id").Where("pull_request_id NOT IN ?", prIDs)).
		Distinct().Pluck("card_id", &orphans).Error; err != nil {
		return err
	}

	if err := q.Where("pull_request_id IN ?", prIDs).Delete(&models.TrelloCheckItem{}).Error; err != nil {
		return fmt.Errorf("deleting checklist items: %w", err)
	}
	if len(orphans) > 0 {
		if err := q.Where("card_id IN ?", orphans).Delete(&models.TrelloChecklist{}).Error; err != nil {
			return fmt.Errorf("deleting checklists: %w", err)
		}
	}
	if err := q.Where("pull_request_id IN ?", prIDs).Delete(&models.PullRequestTrelloCard{}).Error; err != nil {
		return fmt.Errorf("deleting card links: %w", err)
	}
	if len(orphans) > 0 {
		if err := q.Where("id IN ?", orphans).Delete(&models.TrelloCard{}).Error; err != nil {
			return fmt.Errorf("deleting cards: %w", err)
		}
	}
	return nil
}

func deleteCards(q *gorm.DB, cardIDs []string) error {
	if len(cardIDs) == 0 {
		return nil
	}
	var checklistIDs []string
	if err := q.Model(&models.TrelloChecklist{}).Where("card_id IN ?", cardIDs).Pluck("id", &checklistIDs).Error; err != nil {
		return err
	}
	if len(checklistIDs) > 0 {
		if err := q.Where("checklist_id IN ?", checklistIDs).Delete(&models.TrelloCheckItem{}).Error; err != nil {
			return err
		}
		if err := q.Where("id IN ?", checklistIDs).Delete(&models.TrelloChecklist{}).Error; err != nil {
			return err
		}
	}
	return q.Where("id IN ?", cardIDs).Delete(&models.TrelloCard{}).Error
}
