package models

import "time"

// User is the tenant that owns repository and list registrations along with
// the OAuth credentials used to talk to GitHub and Trello on its behalf.
type User struct {
	ID                      uint   `gorm:"primaryKey"`
	Email                   string `gorm:"uniqueIndex;not null"`
	ChecklistFeatureEnabled bool   `gorm:"default:false;not null"`
	GithubToken             *string
	TrelloToken             *string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (u *User) HasGithub() bool {
	return u.GithubToken != nil && *u.GithubToken != ""
}

func (u *User) HasTrello() bool {
	return u.TrelloToken != nil && *u.TrelloToken != ""
}
