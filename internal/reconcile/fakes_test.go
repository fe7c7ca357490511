package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/chxlky/trello-signoff/database"
	"github.com/chxlky/trello-signoff/database/dbtest"
	"github.com/chxlky/trello-signoff/integrations"
	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/chxlky/trello-signoff/internal/config"
	"github.com/chxlky/trello-signoff/internal/models"
	"github.com/google/go-github/v75/github"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type pushedStatus struct {
	Repo   string
	SHA    string
	Status integrations.CommitStatus
}

type fakeGithub struct {
	mu       sync.Mutex
	repos    map[int64]*github.Repository
	hooks    map[int64]string // hook id -> callback URL
	nextHook int64
	deleted  []int64
	statuses []pushedStatus
	revoked  bool
	fail     map[string]error
}

func newFakeGithub() *fakeGithub {
	return &fakeGithub{
		repos:    map[int64]*github.Repository{},
		hooks:    map[int64]string{},
		nextHook: 1000,
		fail:     map[string]error{},
	}
}

func (f *fakeGithub) addRepo(id int64, fullName string) {
	f.repos[id] = &github.Repository{ID: github.Ptr(id), FullName: github.Ptr(fullName)}
}

func (f *fakeGithub) GetRepository(_ context.Context, repoID int64) (*github.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["get_repository"]; err != nil {
		return nil, err
	}
	repo, ok := f.repos[repoID]
	if !ok {
		return nil, apperr.NewResourceMissing(apperr.ServiceGithub, "Not Found")
	}
	return repo, nil
}

func (f *fakeGithub) CreateWebhook(_ context.Context, owner, repo, callbackURL, secret string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["create_webhook"]; err != nil {
		return 0, err
	}
	f.nextHook++
	f.hooks[f.nextHook] = callbackURL
	return f.nextHook, nil
}

func (f *fakeGithub) DeleteWebhook(_ context.Context, owner, repo string, hookID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["delete_webhook"]; err != nil {
		return err
	}
	delete(f.hooks, hookID)
	f.deleted = append(f.deleted, hookID)
	return nil
}

func (f *fakeGithub) CreateStatus(_ context.Context, owner, repo, sha string, status integrations.CommitStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["create_status"]; err != nil {
		return err
	}
	f.statuses = append(f.statuses, pushedStatus{Repo: owner + "/" + repo, SHA: sha, Status: status})
	return nil
}

func (f *fakeGithub) CheckAuthorization(context.Context) (bool, error) {
	return !f.revoked, nil
}

func (f *fakeGithub) RevokeAuthorization(context.Context) error {
	f.revoked = true
	return nil
}

func (f *fakeGithub) lastStatus(t *testing.T) pushedStatus {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.statuses, "no status pushed")
	return f.statuses[len(f.statuses)-1]
}

type fakeTrello struct {
	mu         sync.Mutex
	boards     map[string]*integrations.TrelloBoard
	lists      map[string]*integrations.TrelloList
	cards      map[string]*integrations.TrelloCard // keyed by short link
	hooks      map[string]*integrations.TrelloWebhook
	checklists map[string]*integrations.TrelloChecklist
	items      map[string]*integrations.TrelloCheckItem
	seq        int
	calls      map[string]int
	revoked    bool
	fail       map[string]error
	delay      time.Duration // applied to GetCard
}

func newFakeTrello() *fakeTrello {
	return &fakeTrello{
		boards:     map[string]*integrations.TrelloBoard{},
		lists:      map[string]*integrations.TrelloList{},
		cards:      map[string]*integrations.TrelloCard{},
		hooks:      map[string]*integrations.TrelloWebhook{},
		checklists: map[string]*integrations.TrelloChecklist{},
		items:      map[string]*integrations.TrelloCheckItem{},
		calls:      map[string]int{},
		fail:       map[string]error{},
	}
}

func (f *fakeTrello) addList(boardID, listID, name string) {
	f.boards[boardID] = &integrations.TrelloBoard{ID: boardID, Name: "Board " + boardID}
	f.lists[listID] = &integrations.TrelloList{ID: listID, Name: name, IDBoard: boardID}
}

func (f *fakeTrello) addCard(shortLink, boardID, listID string) {
	f.cards[shortLink] = &integrations.TrelloCard{
		ID:        "real-" + shortLink,
		ShortLink: shortLink,
		Name:      "Card " + shortLink,
		IDBoard:   boardID,
		IDList:    listID,
	}
}

func (f *fakeTrello) moveCard(shortLink, listID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards[shortLink].IDList = listID
}

func (f *fakeTrello) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	err := f.fail[op]
	f.mu.Unlock()
	return err
}

func (f *fakeTrello) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func missing(what string) error {
	return apperr.NewResourceMissing(apperr.ServiceTrello, what+" not found")
}

func (f *fakeTrello) GetBoard(_ context.Context, boardID string) (*integrations.TrelloBoard, error) {
	if err := f.enter("get_board"); err != nil {
		return nil, err
	}
	b, ok := f.boards[boardID]
	if !ok {
		return nil, missing("board")
	}
	return b, nil
}

func (f *fakeTrello) GetList(_ context.Context, listID string) (*integrations.TrelloList, error) {
	if err := f.enter("get_list"); err != nil {
		return nil, err
	}
	l, ok := f.lists[listID]
	if !ok {
		return nil, missing("list")
	}
	return l, nil
}

func (f *fakeTrello) GetCard(_ context.Context, cardID string) (*integrations.TrelloCard, error) {
	if err := f.enter("get_card"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[cardID]
	if !ok {
		return nil, missing("card")
	}
	cp := *c
	return &cp, nil
}

func (f *fakeTrello) CreateWebhook(_ context.Context, modelID, callbackURL string) (*integrations.TrelloWebhook, error) {
	if err := f.enter("create_webhook"); err != nil {
		return nil, err
	}
	if _, ok := f.hooks[modelID]; ok {
		return nil, apperr.NewHookAlreadyExists(apperr.ServiceTrello, "A webhook with that callback, model, and token already exists")
	}
	hook := &integrations.TrelloWebhook{ID: f.nextID("hook"), IDModel: modelID, CallbackURL: callbackURL, Active: true}
	f.hooks[modelID] = hook
	return hook, nil
}

func (f *fakeTrello) GetWebhook(_ context.Context, modelID string) (*integrations.TrelloWebhook, error) {
	if err := f.enter("get_webhook"); err != nil {
		return nil, err
	}
	hook, ok := f.hooks[modelID]
	if !ok {
		return nil, missing("webhook")
	}
	return hook, nil
}

func (f *fakeTrello) DeleteWebhook(_ context.Context, hookID string) error {
	if err := f.enter("delete_webhook"); err != nil {
		return err
	}
	for model, hook := range f.hooks {
		if hook.ID == hookID {
			delete(f.hooks, model)
			return nil
		}
	}
	return missing("webhook")
}

func (f *fakeTrello) CreateChecklist(_ context.Context, realCardID, name string) (*integrations.TrelloChecklist, error) {
	if err := f.enter("create_checklist"); err != nil {
		return nil, err
	}
	cl := &integrations.TrelloChecklist{ID: f.nextID("cl"), IDCard: realCardID, Name: name}
	f.checklists[cl.ID] = cl
	return cl, nil
}

func (f *fakeTrello) GetChecklist(_ context.Context, checklistID string) (*integrations.TrelloChecklist, error) {
	if err := f.enter("get_checklist"); err != nil {
		return nil, err
	}
	cl, ok := f.checklists[checklistID]
	if !ok {
		return nil, missing("checklist")
	}
	return cl, nil
}

func (f *fakeTrello) CreateCheckItem(_ context.Context, checklistID, name string, checked bool) (*integrations.TrelloCheckItem, error) {
	if err := f.enter("create_check_item"); err != nil {
		return nil, err
	}
	state := models.CheckItemIncomplete
	if checked {
		state = models.CheckItemComplete
	}
	item := &integrations.TrelloCheckItem{ID: f.nextID("item"), IDChecklist: checklistID, Name: name, State: state}
	f.items[item.ID] = item
	return item, nil
}

func (f *fakeTrello) GetCheckItem(_ context.Context, checklistID, itemID string) (*integrations.TrelloCheckItem, error) {
	if err := f.enter("get_check_item"); err != nil {
		return nil, err
	}
	item, ok := f.items[itemID]
	if !ok || item.IDChecklist != checklistID {
		return nil, missing("check item")
	}
	cp := *item
	return &cp, nil
}

func (f *fakeTrello) UpdateCheckItem(_ context.Context, realCardID, itemID, state string) (*integrations.TrelloCheckItem, error) {
	if err := f.enter("update_check_item"); err != nil {
		return nil, err
	}
	item, ok := f.items[itemID]
	if !ok {
		return nil, missing("check item")
	}
	item.State = state
	cp := *item
	return &cp, nil
}

func (f *fakeTrello) DeleteCheckItem(_ context.Context, checklistID, itemID string) error {
	if err := f.enter("delete_check_item"); err != nil {
		return err
	}
	if _, ok := f.items[itemID]; !ok {
		return missing("check item")
	}
	delete(f.items, itemID)
	return nil
}

func (f *fakeTrello) CheckAuthorization(context.Context) (bool, error) {
	return !f.revoked, nil
}

func (f *fakeTrello) RevokeAuthorization(context.Context) error {
	f.revoked = true
	return nil
}

type fakeClients struct {
	gh *fakeGithub
	tr *fakeTrello
}

func (c fakeClients) Github(token string) (GithubAPI, error) {
	if token == "" {
		return nil, apperr.NewUnauthorized(apperr.ServiceGithub, "no token")
	}
	return c.gh, nil
}

func (c fakeClients) Trello(token string) (TrelloAPI, error) {
	if token == "" {
		return nil, apperr.NewUnauthorized(apperr.ServiceTrello, "no token")
	}
	return c.tr, nil
}

type recordingNotifier struct {
	notices []integrations.TransferNotice
}

func (n *recordingNotifier) NotifyTransfer(_ context.Context, notice integrations.TransferNotice) error {
	n.notices = append(n.notices, notice)
	return nil
}

type fixture struct {
	engine   *Engine
	store    *database.Store
	gh       *fakeGithub
	tr       *fakeTrello
	notifier *recordingNotifier
	user     *models.User
	repo     *models.GithubRepo
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{PublicURL: "https://signoff.example.com", Workers: 2},
		Signoff: config.SignoffConfig{
			Context:            "product-signoff",
			PendingDescription: "Awaiting product signoff",
			SuccessDescription: "Product signoff has been received",
			ChecklistName:      "Pull requests",
		},
	}
}

func ptr[T any](v T) *T { return &v }

// newFixture returns an engine with one tenant tracking acme/shop (id 1),
// a registered "Signed off" list l-ok on board b1 and an unregistered list
// l-wip.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, testConfig(), dbtest.NewStore(t))
}

func newFixtureWith(t *testing.T, cfg *config.Config, store *database.Store) *fixture {
	t.Helper()
	ctx := context.Background()

	gh, tr := newFakeGithub(), newFakeTrello()
	notifier := &recordingNotifier{}
	engine := New(cfg, store, fakeClients{gh: gh, tr: tr}, notifier, nil, zaptest.NewLogger(t))

	user := &models.User{Email: "pm@example.com", GithubToken: ptr("gh-token"), TrelloToken: ptr("tr-token")}
	require.NoError(t, store.UpsertUser(ctx, user))

	gh.addRepo(1, "acme/shop")
	repo := &models.GithubRepo{ID: 1, FullName: "acme/shop", HookID: ptr(int64(500)), HookSlug: "slug-shop", HookSecret: "secret", UserID: user.ID}
	require.NoError(t, store.SaveRepo(ctx, repo))

	tr.addList("b1", "l-ok", "Signed off")
	tr.addList("b1", "l-wip", "In progress")
	require.NoError(t, store.SaveList(ctx, &models.TrelloList{ID: "l-ok", BoardID: "b1", Name: "Signed off", HookID: "h-ok", UserID: user.ID}))

	return &fixture{engine: engine, store: store, gh: gh, tr: tr, notifier: notifier, user: user, repo: repo}
}

func (f *fixture) payload(body string) models.PullRequestPayload {
	return models.PullRequestPayload{
		ID:          42,
		Number:      7,
		HeadSHA:     "deadbeef",
		RepoID:      f.repo.ID,
		Body:        body,
		HTMLURL:     "https://github.com/acme/shop/pull/7",
		StatusesURL: "https://api.github.com/repos/acme/shop/statuses/deadbeef",
		State:       models.PullRequestOpen,
	}
}

var errNetwork = errors.New("connection reset by peer")

func invalid(service string) error {
	return apperr.NewInvalidRequest(service, http.StatusUnprocessableEntity, "HTTP 422: Validation Failed")
}
