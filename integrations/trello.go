package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/chxlky/trello-signoff/internal/config"
	"github.com/chxlky/trello-signoff/internal/models"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const duplicateHookMessage = "A webhook with that callback, model, and token already exists"

type TrelloBoard struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TrelloList struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IDBoard string `json:"idBoard"`
}

type TrelloCard struct {
	ID        string       `json:"id"`
	ShortLink string       `json:"shortLink"`
	Name      string       `json:"name"`
	IDBoard   string       `json:"idBoard"`
	IDList    string       `json:"idList"`
	Board     *TrelloBoard `json:"board,omitempty"`
	List      *TrelloList  `json:"list,omitempty"`
}

type TrelloWebhook struct {
	ID          string `json:"id"`
	IDModel     string `json:"idModel"`
	CallbackURL string `json:"callbackURL"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

type TrelloChecklist struct {
	ID     string `json:"id"`
	IDCard string `json:"idCard"`
	Name   string `json:"name"`
}

type TrelloCheckItem struct {
	ID          string `json:"id"`
	IDChecklist string `json:"idChecklist"`
	Name        string `json:"name"`
	State       string `json:"state"`
}

// TrelloClient talks to the Trello REST API on behalf of one tenant.
type TrelloClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	token   string
	timeout time.Duration

	breaker *gobreaker.CircuitBreaker
	metrics Observer
	logger  *zap.Logger
}

// NewTrelloClient returns an Unauthorized error when the tenant has no token.
func NewTrelloClient(cfg config.TrelloConfig, token string, callTimeout time.Duration, breaker *gobreaker.CircuitBreaker, metrics Observer, logger *zap.Logger) (*TrelloClient, error) {
	if token == "" {
		return nil, apperr.NewUnauthorized(apperr.ServiceTrello, "user has not connected Trello")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopObserver{}
	}
	if breaker == nil {
		breaker = NewBreaker("trello-api", logger, metrics)
	}
	return &TrelloClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		apiKey:  cfg.APIKey,
		token:   token,
		timeout: callTimeout,
		breaker: breaker,
		metrics: metrics,
		logger:  logger,
	}, nil
}

func (tc *TrelloClient) GetBoard(ctx context.Context, boardID string) (*TrelloBoard, error) {
	var board TrelloBoard
	err := tc.request(ctx, "get_board", http.MethodGet, "/boards/"+boardID, nil, &board)
	if err != nil {
		return nil, err
	}
	return &board, nil
}

func (tc *TrelloClient) GetList(ctx context.Context, listID string) (*TrelloList, error) {
	var list TrelloList
	err := tc.request(ctx, "get_list", http.MethodGet, "/lists/"+listID, nil, &list)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

// GetCard fetches a card by short link or id along with its board and list.
func (tc *TrelloClient) GetCard(ctx context.Context, cardID string) (*TrelloCard, error) {
	params := url.Values{}
	params.Set("board", "true")
	params.Set("board_fields", "id,name")
	params.Set("list", "true")
	params.Set("list_fields", "id,name,idBoard")
	params.Set("fields", "id,shortLink,name,idBoard,idList")

	var card TrelloCard
	if err := tc.request(ctx, "get_card", http.MethodGet, "/cards/"+cardID, params, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (tc *TrelloClient) CreateWebhook(ctx context.Context, modelID, callbackURL string) (*TrelloWebhook, error) {
	params := url.Values{}
	params.Set("idModel", modelID)
	params.Set("callbackURL", callbackURL)
	params.Set("description", "product-signoff-callback")
	params.Set("active", "true")

	var hook TrelloWebhook
	if err := tc.request(ctx, "create_webhook", http.MethodPost, "/webhooks", params, &hook); err != nil {
		return nil, err
	}
	tc.logger.Info("Registered Trello webhook", zap.String("hookID", hook.ID), zap.String("modelID", modelID))
	return &hook, nil
}

// GetWebhook finds this token's webhook on modelID.
func (tc *TrelloClient) GetWebhook(ctx context.Context, modelID string) (*TrelloWebhook, error) {
	var hooks []TrelloWebhook
	if err := tc.request(ctx, "get_webhook", http.MethodGet, "/tokens/"+tc.token+"/webhooks", nil, &hooks); err != nil {
		return nil, err
	}
	for _, hook := range hooks {
		if hook.IDModel == modelID {
			return &hook, nil
		}
	}
	return nil, apperr.NewResourceMissing(apperr.ServiceTrello, fmt.Sprintf("no webhook on model %s", modelID))
}

func (tc *TrelloClient) DeleteWebhook(ctx context.Context, hookID string) error {
	if err := tc.request(ctx, "delete_webhook", http.MethodDelete, "/webhooks/"+hookID, nil, nil); err != nil {
		return err
	}
	tc.logger.Info("Deleted Trello webhook", zap.String("hookID", hookID))
	return nil
}

// CreateChecklist adds a checklist at the bottom of the card with the given
// internal (not short) id.
func (tc *TrelloClient) CreateChecklist(ctx context.Context, realCardID, name string) (*TrelloChecklist, error) {
	params := url.Values{}
	params.Set("idCard", realCardID)
	params.Set("name", name)
	params.Set("pos", "bottom")

	var checklist TrelloChecklist
	if err := tc.request(ctx, "create_checklist", http.MethodPost, "/checklists", params, &checklist); err != nil {
		return nil, err
	}
	return &checklist, nil
}

func (tc *TrelloClient) GetChecklist(ctx context.Context, checklistID string) (*TrelloChecklist, error) {
	var checklist TrelloChecklist
	if err := tc.request(ctx, "get_checklist", http.MethodGet, "/checklists/"+checklistID, nil, &checklist); err != nil {
		return nil, err
	}
	return &checklist, nil
}

func (tc *TrelloClient) CreateCheckItem(ctx context.Context, checklistID, name string, checked bool) (*TrelloCheckItem, error) {
	params := url.Values{}
	params.Set("name", name)
	params.Set("pos", "bottom")
	params.Set("checked", fmt.Sprintf("%t", checked))

	var item TrelloCheckItem
	path := fmt.Sprintf("/checklists/%s/checkItems", checklistID)
	if err := tc.request(ctx, "create_check_item", http.MethodPost, path, params, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (tc *TrelloClient) GetCheckItem(ctx context.Context, checklistID, itemID string) (*TrelloCheckItem, error) {
	var item TrelloCheckItem
	path := fmt.Sprintf("/checklists/%s/checkItems/%s", checklistID, itemID)
	if err := tc.request(ctx, "get_check_item", http.MethodGet, path, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateCheckItem sets state to models.CheckItemComplete or
// models.CheckItemIncomplete.
func (tc *TrelloClient) UpdateCheckItem(ctx context.Context, realCardID, itemID, state string) (*TrelloCheckItem, error) {
	if state != models.CheckItemComplete && state != models.CheckItemIncomplete {
		return nil, apperr.NewInvalidRequest(apperr.ServiceTrello, http.StatusBadRequest, "unknown check item state "+state)
	}
	params := url.Values{}
	params.Set("state", state)

	var item TrelloCheckItem
	path := fmt.Sprintf("/cards/%s/checkItem/%s", realCardID, itemID)
	if err := tc.request(ctx, "update_check_item", http.MethodPut, path, params, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (tc *TrelloClient) DeleteCheckItem(ctx context.Context, checklistID, itemID string) error {
	path := fmt.Sprintf("/checklists/%s/checkItems/%s", checklistID, itemID)
	return tc.request(ctx, "delete_check_item", http.MethodDelete, path, nil, nil)
}

// CheckAuthorization reports whether the stored token is still accepted.
func (tc *TrelloClient) CheckAuthorization(ctx context.Context) (bool, error) {
	err := tc.request(ctx, "check_token", http.MethodGet, "/tokens/"+tc.token, nil, nil)
	switch {
	case err == nil:
		return true, nil
	case apperr.IsUnauthorized(err), apperr.IsResourceMissing(err):
		return false, nil
	default:
		return false, err
	}
}

func (tc *TrelloClient) RevokeAuthorization(ctx context.Context) error {
	return tc.request(ctx, "revoke_token", http.MethodDelete, "/tokens/"+tc.token, nil, nil)
}

func (tc *TrelloClient) request(ctx context.Context, operation, method, path string, params url.Values, out any) error {
	_, err := call(ctx, tc.breaker, tc.metrics, tc.timeout, apperr.ServiceTrello, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, tc.do(ctx, method, path, params, out)
	})
	return err
}

func (tc *TrelloClient) do(ctx context.Context, method, path string, params url.Values, out any) error {
	apiURL := tc.baseURL + path
	var body io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		body = strings.NewReader(params.Encode())
	} else if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, tc.scrub(err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf(`OAuth oauth_consumer_key="%s", oauth_token="%s"`, tc.apiKey, tc.token))

	tc.logger.Debug("Trello request", zap.String("method", method), zap.String("path", redact(path, tc.token)))

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s request: %w", method, tc.scrub(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read Trello response: %w", err)
	}

	if appErr := apperr.FromStatus(apperr.ServiceTrello, resp.StatusCode, string(respBody)); appErr != nil {
		if resp.StatusCode == http.StatusBadRequest && strings.TrimSpace(string(respBody)) == duplicateHookMessage {
			return apperr.NewHookAlreadyExists(apperr.ServiceTrello, duplicateHookMessage)
		}
		tc.logger.Debug("Trello request failed",
			zap.String("method", method),
			zap.String("path", redact(path, tc.token)),
			zap.Int("status", resp.StatusCode),
		)
		return appErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode Trello response: %w", err)
	}
	return nil
}

func redact(path, token string) string {
	return strings.ReplaceAll(path, token, "<token>")
}

// scrub removes the token from the URL carried by transport errors.
func (tc *TrelloClient) scrub(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = redact(urlErr.URL, tc.token)
	}
	return err
}
