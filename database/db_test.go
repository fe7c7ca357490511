package database

import "testing"

func TestDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"signoff.db", "signoff.db?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL"},
		{"file:test?mode=memory&cache=shared", "file:test?mode=memory&cache=shared&_busy_timeout=5000&_txlock=immediate"},
		{":memory:", ":memory:?_busy_timeout=5000&_txlock=immediate"},
	}
	for _, tt := range tests {
		if got := dsn(tt.path); got != tt.want {
			t.Errorf("dsn(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
