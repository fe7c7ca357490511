package integrations

import (
	"time"

	"github.com/chxlky/trello-signoff/internal/config"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Factory builds per-tenant API clients that share one circuit breaker per
// provider.
type Factory struct {
	github      config.GithubConfig
	trello      config.TrelloConfig
	callTimeout time.Duration

	githubBreaker *gobreaker.CircuitBreaker
	trelloBreaker *gobreaker.CircuitBreaker
	metrics       Observer
	logger        *zap.Logger
}

func NewFactory(cfg *config.Config, metrics Observer, logger *zap.Logger) *Factory {
	if metrics == nil {
		metrics = nopObserver{}
	}
	return &Factory{
		github:        cfg.Github,
		trello:        cfg.Trello,
		callTimeout:   cfg.Signoff.CallTimeout,
		githubBreaker: NewBreaker("github-api", logger, metrics),
		trelloBreaker: NewBreaker("trello-api", logger, metrics),
		metrics:       metrics,
		logger:        logger,
	}
}

func (f *Factory) Github(token string) (*GithubClient, error) {
	return NewGithubClient(f.github, token, f.callTimeout, f.githubBreaker, f.metrics, f.logger.Named("github"))
}

func (f *Factory) Trello(token string) (*TrelloClient, error) {
	return NewTrelloClient(f.trello, token, f.callTimeout, f.trelloBreaker, f.metrics, f.logger.Named("trello"))
}
