package models

import "time"

const (
	CheckItemComplete   = "complete"
	CheckItemIncomplete = "incomplete"
)

// TrelloCard is keyed by the card short link; RealID is Trello's full card ID
// which the checklist endpoints require. BoardID and ListID are refreshed
// from the API on every event that concerns the card.
type TrelloCard struct {
	ID        string `gorm:"primaryKey"`
	RealID    string
	Name      string
	BoardID   string
	ListID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PullRequestTrelloCard links a pull request to a card it references.
type PullRequestTrelloCard struct {
	CardID        string `gorm:"primaryKey"`
	PullRequestID int64  `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt     time.Time
}

// TrelloChecklist is the single checklist this service manages on a card.
type TrelloChecklist struct {
	ID        string `gorm:"primaryKey"`
	CardID    string `gorm:"uniqueIndex;not null"`
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TrelloCheckItem represents one pull request on a card's checklist.
type TrelloCheckItem struct {
	ID            string `gorm:"primaryKey"`
	ChecklistID   string `gorm:"uniqueIndex:uix_checklist_pull_request;not null"`
	PullRequestID int64  `gorm:"uniqueIndex:uix_checklist_pull_request;not null"`
	Name          string
	State         string `gorm:"not null;default:incomplete"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TrelloList is a signoff registration: cards sitting in this list count as
// signed off for the owning tenant.
type TrelloList struct {
	ID        string `gorm:"primaryKey"`
	BoardID   string
	BoardName string
	Name      string
	HookID    string
	UserID    uint `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
