package reconcile

import (
	"context"

	"github.com/chxlky/trello-signoff/integrations"
	"github.com/google/go-github/v75/github"
)

// GithubAPI is the part of the GitHub client the engine drives.
type GithubAPI interface {
	GetRepository(ctx context.Context, repoID int64) (*github.Repository, error)
	CreateWebhook(ctx context.Context, owner, repo, callbackURL, secret string) (int64, error)
	DeleteWebhook(ctx context.Context, owner, repo string, hookID int64) error
	CreateStatus(ctx context.Context, owner, repo, sha string, status integrations.CommitStatus) error
	CheckAuthorization(ctx context.Context) (bool, error)
	RevokeAuthorization(ctx context.Context) error
}

// TrelloAPI is the part of the Trello client the engine drives.
type TrelloAPI interface {
	GetBoard(ctx context.Context, boardID string) (*integrations.TrelloBoard, error)
	GetList(ctx context.Context, listID string) (*integrations.TrelloList, error)
	GetCard(ctx context.Context, cardID string) (*integrations.TrelloCard, error)
	CreateWebhook(ctx context.Context, modelID, callbackURL string) (*integrations.TrelloWebhook, error)
	GetWebhook(ctx context.Context, modelID string) (*integrations.TrelloWebhook, error)
	DeleteWebhook(ctx context.Context, hookID string) error
	CreateChecklist(ctx context.Context, realCardID, name string) (*integrations.TrelloChecklist, error)
	GetChecklist(ctx context.Context, checklistID string) (*integrations.TrelloChecklist, error)
	CreateCheckItem(ctx context.Context, checklistID, name string, checked bool) (*integrations.TrelloCheckItem, error)
	GetCheckItem(ctx context.Context, checklistID, itemID string) (*integrations.TrelloCheckItem, error)
	UpdateCheckItem(ctx context.Context, realCardID, itemID, state string) (*integrations.TrelloCheckItem, error)
	DeleteCheckItem(ctx context.Context, checklistID, itemID string) error
	CheckAuthorization(ctx context.Context) (bool, error)
	RevokeAuthorization(ctx context.Context) error
}

// Clients builds API clients for a tenant's stored tokens. An empty token
// yields an Unauthorized error.
type Clients interface {
	Github(token string) (GithubAPI, error)
	Trello(token string) (TrelloAPI, error)
}

// FromFactory adapts the live client factory.
func FromFactory(f *integrations.Factory) Clients {
	return factoryClients{f: f}
}

type factoryClients struct {
	f *integrations.Factory
}

func (c factoryClients) Github(token string) (GithubAPI, error) {
	client, err := c.f.Github(token)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c factoryClients) Trello(token string) (TrelloAPI, error) {
	client, err := c.f.Trello(token)
	if err != nil {
		return nil, err
	}
	return client, nil
}
