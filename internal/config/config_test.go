package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sample = `
[server]
port = "9090"
public_url = "https://signoff.example.com/"

[trello]
api_key = "key"
api_secret = "secret"

[signoff]
call_timeout = "5s"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0o600))
	return dir
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, want %q", cfg.Server.Port, "9090")
	}
	if cfg.Signoff.CallTimeout != 5*time.Second {
		t.Errorf("Signoff.CallTimeout = %v, want 5s", cfg.Signoff.CallTimeout)
	}
	if cfg.Signoff.Context != "product-signoff" {
		t.Errorf("Signoff.Context = %q, want default", cfg.Signoff.Context)
	}
	if cfg.Trello.APIURL != "https://api.trello.com/1" {
		t.Errorf("Trello.APIURL = %q, want default", cfg.Trello.APIURL)
	}
	if cfg.Server.Workers != 10 {
		t.Errorf("Server.Workers = %d, want 10", cfg.Server.Workers)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SIGNOFF_SERVER_PORT", "7000")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	if cfg.Server.Port != "7000" {
		t.Errorf("Server.Port = %q, want %q", cfg.Server.Port, "7000")
	}
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("SIGNOFF_SERVER_PUBLIC_URL", "https://signoff.example.com")
	t.Setenv("SIGNOFF_TRELLO_API_KEY", "env-key")
	t.Setenv("SIGNOFF_SERVER_ADMIN_TOKEN", "env-admin")
	t.Setenv("SIGNOFF_GITHUB_CLIENT_SECRET", "env-client-secret")
	t.Setenv("SIGNOFF_GOOGLE_SENDER", "bot@example.com")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	if cfg.Server.PublicURL != "https://signoff.example.com" {
		t.Errorf("Server.PublicURL = %q", cfg.Server.PublicURL)
	}
	if cfg.Trello.APIKey != "env-key" {
		t.Errorf("Trello.APIKey = %q, want %q", cfg.Trello.APIKey, "env-key")
	}
	if cfg.Server.AdminToken != "env-admin" {
		t.Errorf("Server.AdminToken = %q, want %q", cfg.Server.AdminToken, "env-admin")
	}
	if cfg.Github.ClientSecret != "env-client-secret" {
		t.Errorf("Github.ClientSecret = %q", cfg.Github.ClientSecret)
	}
	if cfg.Google.Sender != "bot@example.com" {
		t.Errorf("Google.Sender = %q", cfg.Google.Sender)
	}
}

func TestLoadRejectsMissingPublicURL(t *testing.T) {
	_, err := Load(writeConfig(t, "[trello]\napi_key = \"key\"\n"))
	if err == nil {
		t.Fatal("Load() error = nil, want validation error")
	}
}

func TestCallbackURLs(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	if got, want := cfg.GithubCallbackURL("abc"), "https://signoff.example.com/github/callback/abc"; got != want {
		t.Errorf("GithubCallbackURL() = %q, want %q", got, want)
	}
	if got, want := cfg.TrelloCallbackURL(), "https://signoff.example.com/trello/callback"; got != want {
		t.Errorf("TrelloCallbackURL() = %q, want %q", got, want)
	}
}
