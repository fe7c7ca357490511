package database

import (
	"context"
	"errors"

	"github.com/chxlky/trello-signoff/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

// Store persists tracked entities. Every mutation made through the Store
// handed to a Transaction callback commits or rolls back as one unit.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) with(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func first[T any](q *gorm.DB, dest *T) (*T, error) {
	if err := q.First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return dest, nil
}

func upsert(q *gorm.DB, value any) error {
	return q.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(value).Error
}

// Users

func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	return first(s.with(ctx).Where("id = ?", id), &models.User{})
}

// UpsertUser creates or updates the tenant identified by u.Email.
func (s *Store) UpsertUser(ctx context.Context, u *models.User) error {
	err := s.with(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"checklist_feature_enabled", "github_token", "trello_token", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return err
	}
	var stored models.User
	if err := s.with(ctx).Where("email = ?", u.Email).First(&stored).Error; err != nil {
		return err
	}
	*u = stored
	return nil
}

func (s *Store) SetChecklistFeature(ctx context.Context, userID uint, enabled bool) error {
	return s.with(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("checklist_feature_enabled", enabled).Error
}

func (s *Store) ClearGithubToken(ctx context.Context, userID uint) error {
	return s.with(ctx).Model(&models.User{}).Where("id = ?", userID).Update("github_token", nil).Error
}

func (s *Store) ClearTrelloToken(ctx context.Context, userID uint) error {
	return s.with(ctx).Model(&models.User{}).Where("id = ?", userID).Update("trello_token", nil).Error
}

// Repositories

func (s *Store) GetRepo(ctx context.Context, id int64) (*models.GithubRepo, error) {
	return first(s.with(ctx).Where("id = ?", id), &models.GithubRepo{})
}

func (s *Store) GetRepoBySlug(ctx context.Context, slug string) (*models.GithubRepo, error) {
	return first(s.with(ctx).Where("hook_slug = ?", slug), &models.GithubRepo{})
}

func (s *Store) ReposForUser(ctx context.Context, userID uint) ([]models.GithubRepo, error) {
	var repos []models.GithubRepo
	err := s.with(ctx).Where("user_id = ?", userID).Order("id").Find(&repos).Error
	return repos, err
}

func (s *Store) SaveRepo(ctx context.Context, repo *models.GithubRepo) error {
	return upsert(s.with(ctx), repo)
}

func (s *Store) SetRepoOwner(ctx context.Context, repoID int64, userID uint) error {
	return s.with(ctx).Model(&models.GithubRepo{}).Where("id = ?", repoID).Update("user_id", userID).Error
}

// Pull requests

func (s *Store) GetPullRequest(ctx context.Context, id int64) (*models.PullRequest, error) {
	return first(s.with(ctx).Where("id = ?", id), &models.PullRequest{})
}

func (s *Store) UpsertPullRequest(ctx context.Context, pr *models.PullRequest) error {
	return upsert(s.with(ctx), pr)
}

func (s *Store) PullRequestsForCard(ctx context.Context, cardID string) ([]models.PullRequest, error) {
	var prs []models.PullRequest
	err := s.with(ctx).
		Joins("JOIN pull_request_trello_cards l ON l.pull_request_id = pull_requests.id").
		Where("l.card_id = ?", cardID).
		Order("pull_requests.id").
		Find(&prs).Error
	return prs, err
}

// Cards and links

func (s *Store) GetCard(ctx context.Context, id string) (*models.TrelloCard, error) {
	return first(s.with(ctx).Where("id = ?", id), &models.TrelloCard{})
}

func (s *Store) UpsertCard(ctx context.Context, card *models.TrelloCard) error {
	return upsert(s.with(ctx), card)
}

func (s *Store) CardsForPullRequest(ctx context.Context, prID int64) ([]models.TrelloCard, error) {
	var cards []models.TrelloCard
	err := s.with(ctx).
		Joins("JOIN pull_request_trello_cards l ON l.card_id = trello_cards.id").
		Where("l.pull_request_id = ?", prID).
		Order("trello_cards.id").
		Find(&cards).Error
	return cards, err
}

func (s *Store) LinkedCardIDs(ctx context.Context, prID int64) (map[string]struct{}, error) {
	var ids []string
	if err := s.with(ctx).Model(&models.PullRequestTrelloCard{}).
		Where("pull_request_id = ?", prID).Pluck("card_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// LinkCard is a no-op when the pair already exists.
func (s *Store) LinkCard(ctx context.Context, cardID string, prID int64) error {
	return s.with(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.PullRequestTrelloCard{CardID: cardID, PullRequestID: prID}).Error
}

func (s *Store) UnlinkCard(ctx context.Context, cardID string, prID int64) error {
	return s.with(ctx).Where("card_id = ? AND pull_request_id = ?", cardID, prID).
		Delete(&models.PullRequestTrelloCard{}).Error
}

// Checklists

// ChecklistForCard returns ErrNotFound when the card has no tracked checklist.
func (s *Store) ChecklistForCard(ctx context.Context, cardID string) (*models.TrelloChecklist, error) {
	return first(s.with(ctx).Where("card_id = ?", cardID), &models.TrelloChecklist{})
}

func (s *Store) SaveChecklist(ctx context.Context, cl *models.TrelloChecklist) error {
	return upsert(s.with(ctx), cl)
}

// DeleteChecklist removes the checklist and the items tracked on it.
func (s *Store) DeleteChecklist(ctx context.Context, id string) error {
	if err := s.with(ctx).Where("checklist_id = ?", id).Delete(&models.TrelloCheckItem{}).Error; err != nil {
		return err
	}
	return s.with(ctx).Where("id = ?", id).Delete(&models.TrelloChecklist{}).Error
}

func (s *Store) CheckItemFor(ctx context.Context, checklistID string, prID int64) (*models.TrelloCheckItem, error) {
	return first(s.with(ctx).Where("checklist_id = ? AND pull_request_id = ?", checklistID, prID), &models.TrelloCheckItem{})
}

func (s *Store) CheckItemForCard(ctx context.Context, cardID string, prID int64) (*models.TrelloCheckItem, error) {
	return first(s.with(ctx).
		Joins("JOIN trello_checklists c ON c.id = trello_check_items.checklist_id").
		Where("c.card_id = ? AND trello_check_items.pull_request_id = ?", cardID, prID),
		&models.TrelloCheckItem{})
}

func (s *Store) SaveCheckItem(ctx context.Context, item *models.TrelloCheckItem) error {
	return upsert(s.with(ctx), item)
}

func (s *Store) DeleteCheckItem(ctx context.Context, id string) error {
	return s.with(ctx).Where("id = ?", id).Delete(&models.TrelloCheckItem{}).Error
}

// List registrations

func (s *Store) GetList(ctx context.Context, id string) (*models.TrelloList, error) {
	return first(s.with(ctx).Where("id = ?", id), &models.TrelloList{})
}

func (s *Store) SaveList(ctx context.Context, l *models.TrelloList) error {
	return upsert(s.with(ctx), l)
}

func (s *Store) DeleteList(ctx context.Context, id string) error {
	return s.with(ctx).Where("id = ?", id).Delete(&models.TrelloList{}).Error
}

func (s *Store) ListsForUser(ctx context.Context, userID uint) ([]models.TrelloList, error) {
	var lists []models.TrelloList
	err := s.with(ctx).Where("user_id = ?", userID).Order("id").Find(&lists).Error
	return lists, err
}

func (s *Store) RegisteredListIDs(ctx context.Context, userID uint) (map[string]struct{}, error) {
	var ids []string
	if err := s.with(ctx).Model(&models.TrelloList{}).Where("user_id = ?", userID).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}
