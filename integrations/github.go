package integrations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/chxlky/trello-signoff/internal/config"
	"github.com/google/go-github/v75/github"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// CommitStatus is what gets pushed to a commit's statuses endpoint.
type CommitStatus struct {
	State       string
	Description string
	Context     string
	TargetURL   string
}

// GithubClient talks to the GitHub API on behalf of one tenant.
type GithubClient struct {
	gh    *github.Client
	app   *github.Client
	token string

	clientID string
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker
	metrics  Observer
	logger   *zap.Logger
}

// NewGithubClient returns an Unauthorized error when the tenant has no token.
func NewGithubClient(cfg config.GithubConfig, token string, callTimeout time.Duration, breaker *gobreaker.CircuitBreaker, metrics Observer, logger *zap.Logger) (*GithubClient, error) {
	if token == "" {
		return nil, apperr.NewUnauthorized(apperr.ServiceGithub, "user has not connected GitHub")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopObserver{}
	}
	if breaker == nil {
		breaker = NewBreaker("github-api", logger, metrics)
	}

	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	httpClient.Timeout = cfg.Timeout
	gh := github.NewClient(httpClient)

	// Token checks authenticate as the OAuth app, not the user.
	appTransport := &github.BasicAuthTransport{Username: cfg.ClientID, Password: cfg.ClientSecret}
	app := github.NewClient(&http.Client{Transport: appTransport, Timeout: cfg.Timeout})

	if cfg.APIURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.APIURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing github api url: %w", err)
		}
		gh.BaseURL = base
		app.BaseURL = base
	}

	return &GithubClient{
		gh:       gh,
		app:      app,
		token:    token,
		clientID: cfg.ClientID,
		timeout:  callTimeout,
		breaker:  breaker,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

func (c *GithubClient) GetRepository(ctx context.Context, repoID int64) (*github.Repository, error) {
	return githubCall(ctx, c, "get_repository", func(ctx context.Context) (*github.Repository, *github.Response, error) {
		return c.gh.Repositories.GetByID(ctx, repoID)
	})
}

func (c *GithubClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	return githubCall(ctx, c, "get_pull_request", func(ctx context.Context) (*github.PullRequest, *github.Response, error) {
		return c.gh.PullRequests.Get(ctx, owner, repo, number)
	})
}

// CreateWebhook subscribes callbackURL to pull_request events, signed with secret.
func (c *GithubClient) CreateWebhook(ctx context.Context, owner, repo, callbackURL, secret string) (int64, error) {
	hook := &github.Hook{
		Config: &github.HookConfig{
			URL:         github.Ptr(callbackURL),
			ContentType: github.Ptr("json"),
			Secret:      github.Ptr(secret),
		},
		Events: []string{"pull_request"},
		Active: github.Ptr(true),
	}
	created, err := githubCall(ctx, c, "create_webhook", func(ctx context.Context) (*github.Hook, *github.Response, error) {
		return c.gh.Repositories.CreateHook(ctx, owner, repo, hook)
	})
	if err != nil {
		return 0, err
	}
	c.logger.Info("Registered GitHub webhook", zap.String("repo", owner+"/"+repo), zap.Int64("hookID", created.GetID()))
	return created.GetID(), nil
}

// DeleteWebhook treats an already deleted hook as success.
func (c *GithubClient) DeleteWebhook(ctx context.Context, owner, repo string, hookID int64) error {
	_, err := githubCall(ctx, c, "delete_webhook", func(ctx context.Context) (struct{}, *github.Response, error) {
		resp, err := c.gh.Repositories.DeleteHook(ctx, owner, repo, hookID)
		return struct{}{}, resp, err
	})
	if apperr.IsResourceMissing(err) {
		c.logger.Info("GitHub webhook not found. Already deleted.", zap.String("repo", owner+"/"+repo), zap.Int64("hookID", hookID))
		return nil
	}
	return err
}

func (c *GithubClient) CreateStatus(ctx context.Context, owner, repo, sha string, status CommitStatus) error {
	body := &github.RepoStatus{
		State:       github.Ptr(status.State),
		Description: github.Ptr(status.Description),
		Context:     github.Ptr(status.Context),
	}
	if status.TargetURL != "" {
		body.TargetURL = github.Ptr(status.TargetURL)
	}
	_, err := githubCall(ctx, c, "create_status", func(ctx context.Context) (*github.RepoStatus, *github.Response, error) {
		return c.gh.Repositories.CreateStatus(ctx, owner, repo, sha, body)
	})
	return err
}

// CheckAuthorization reports whether GitHub still accepts the stored token.
func (c *GithubClient) CheckAuthorization(ctx context.Context) (bool, error) {
	_, err := githubCall(ctx, c, "check_token", func(ctx context.Context) (*github.Authorization, *github.Response, error) {
		return c.app.Authorizations.Check(ctx, c.clientID, c.token)
	})
	switch {
	case err == nil:
		return true, nil
	case apperr.IsResourceMissing(err), apperr.IsUnauthorized(err):
		return false, nil
	default:
		return false, err
	}
}

func (c *GithubClient) RevokeAuthorization(ctx context.Context) error {
	_, err := githubCall(ctx, c, "revoke_token", func(ctx context.Context) (struct{}, *github.Response, error) {
		resp, err := c.app.Authorizations.Revoke(ctx, c.clientID, c.token)
		return struct{}{}, resp, err
	})
	return err
}

func githubCall[T any](ctx context.Context, c *GithubClient, operation string, fn func(context.Context) (T, *github.Response, error)) (T, error) {
	return call(ctx, c.breaker, c.metrics, c.timeout, apperr.ServiceGithub, operation, func(ctx context.Context) (T, error) {
		result, _, err := fn(ctx)
		if err != nil {
			return result, mapGithubError(err)
		}
		return result, nil
	})
}

func mapGithubError(err error) error {
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		if appErr := apperr.FromStatus(apperr.ServiceGithub, errResp.Response.StatusCode, errResp.Message); appErr != nil {
			return appErr.WithCause(err)
		}
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return apperr.NewInvalidRequest(apperr.ServiceGithub, http.StatusForbidden, "rate limited").WithCause(err)
	}
	return err
}
