package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chxlky/trello-signoff/internal/apperr"
	"github.com/chxlky/trello-signoff/internal/config"
	"github.com/chxlky/trello-signoff/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestTrello(t *testing.T, handler http.HandlerFunc) *TrelloClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.TrelloConfig{APIKey: "key", APIURL: srv.URL, Timeout: 5 * time.Second}
	tc, err := NewTrelloClient(cfg, "tok", time.Second, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return tc
}

func TestNewTrelloClientRequiresToken(t *testing.T) {
	_, err := NewTrelloClient(config.TrelloConfig{APIKey: "key"}, "", time.Second, nil, nil, nil)
	if !apperr.IsUnauthorized(err) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestTrelloGetCard(t *testing.T) {
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/cards/abc123" {
			t.Errorf("request = %s %s, want GET /cards/abc123", r.Method, r.URL.Path)
		}
		if got, want := r.Header.Get("Authorization"), `OAuth oauth_consumer_key="key", oauth_token="tok"`; got != want {
			t.Errorf("Authorization = %q, want %q", got, want)
		}
		if r.URL.RawQuery != "" {
			t.Errorf("query = %q, want credentials kept out of the URL", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":        "5f00",
			"shortLink": "abc123",
			"name":      "Checkout copy",
			"idBoard":   "b1",
			"idList":    "l1",
			"board":     map[string]string{"id": "b1", "name": "Product"},
		})
	})

	card, err := tc.GetCard(context.Background(), "abc123")
	require.NoError(t, err)
	if card.ID != "5f00" || card.IDList != "l1" || card.IDBoard != "b1" {
		t.Errorf("card = %+v", card)
	}
	if card.Board == nil || card.Board.Name != "Product" {
		t.Errorf("board = %+v, want Product", card.Board)
	}
}

func TestTrelloTransportErrorOmitsToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	cfg := config.TrelloConfig{APIKey: "key", APIURL: srv.URL, Timeout: time.Second}
	tc, err := NewTrelloClient(cfg, "SECRET-TOKEN", time.Second, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = tc.GetWebhook(context.Background(), "l1")
	require.Error(t, err)
	if strings.Contains(err.Error(), "SECRET-TOKEN") {
		t.Errorf("error leaks token: %v", err)
	}
	if !strings.Contains(err.Error(), "/tokens/<token>/webhooks") {
		t.Errorf("error = %v, want redacted request path", err)
	}
}

func TestTrelloErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, "invalid token", apperr.IsUnauthorized},
		{"missing", http.StatusNotFound, "The requested resource was not found.", apperr.IsResourceMissing},
		{"bad request", http.StatusBadRequest, "invalid id", apperr.IsInvalidRequest},
		{"server error", http.StatusBadGateway, "upstream", apperr.IsInvalidRequest},
		{"duplicate hook", http.StatusBadRequest, duplicateHookMessage, apperr.IsHookAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := tc.CreateWebhook(context.Background(), "l1", "https://signoff.example.com/trello/callback")
			if !tt.check(err) {
				t.Errorf("err = %v, wrong kind", err)
			}
		})
	}
}

func TestTrelloCreateWebhookSendsForm(t *testing.T) {
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/webhooks" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("idModel"); got != "l1" {
			t.Errorf("idModel = %q, want %q", got, "l1")
		}
		if got := r.PostForm.Get("callbackURL"); got != "https://signoff.example.com/trello/callback" {
			t.Errorf("callbackURL = %q", got)
		}
		json.NewEncoder(w).Encode(TrelloWebhook{ID: "h1", IDModel: "l1", Active: true})
	})

	hook, err := tc.CreateWebhook(context.Background(), "l1", "https://signoff.example.com/trello/callback")
	require.NoError(t, err)
	if hook.ID != "h1" {
		t.Errorf("hook id = %q, want %q", hook.ID, "h1")
	}
}

func TestTrelloGetWebhookMatchesModel(t *testing.T) {
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokens/tok/webhooks" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]TrelloWebhook{
			{ID: "h1", IDModel: "other"},
			{ID: "h2", IDModel: "l1"},
		})
	})

	hook, err := tc.GetWebhook(context.Background(), "l1")
	require.NoError(t, err)
	if hook.ID != "h2" {
		t.Errorf("hook id = %q, want %q", hook.ID, "h2")
	}

	_, err = tc.GetWebhook(context.Background(), "nope")
	if !apperr.IsResourceMissing(err) {
		t.Errorf("err = %v, want resource missing", err)
	}
}

func TestTrelloUpdateCheckItem(t *testing.T) {
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/cards/5f00/checkItem/ci1" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		json.NewEncoder(w).Encode(TrelloCheckItem{ID: "ci1", State: r.PostForm.Get("state")})
	})

	item, err := tc.UpdateCheckItem(context.Background(), "5f00", "ci1", models.CheckItemComplete)
	require.NoError(t, err)
	if item.State != models.CheckItemComplete {
		t.Errorf("state = %q, want %q", item.State, models.CheckItemComplete)
	}

	_, err = tc.UpdateCheckItem(context.Background(), "5f00", "ci1", "done")
	if !apperr.IsInvalidRequest(err) {
		t.Errorf("err = %v, want invalid request", err)
	}
}

func TestTrelloCheckAuthorization(t *testing.T) {
	var revoked atomic.Bool
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		if revoked.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"t"}`))
	})

	ok, err := tc.CheckAuthorization(context.Background())
	require.NoError(t, err)
	if !ok {
		t.Error("CheckAuthorization = false, want true")
	}

	revoked.Store(true)
	ok, err = tc.CheckAuthorization(context.Background())
	require.NoError(t, err)
	if ok {
		t.Error("CheckAuthorization = true, want false")
	}
}

func TestTrelloCallTimeout(t *testing.T) {
	release := make(chan struct{})
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	tc.timeout = 50 * time.Millisecond

	_, err := tc.GetList(context.Background(), "l1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
