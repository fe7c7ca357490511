package cardlink

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{{
		name: "full and bare urls",
		text: "Fixes https://trello.com/c/abc123/title and also trello.com/c/def456",
		want: []string{"abc123", "def456"},
	}, {
		name: "no card references",
		text: "Just a refactor, see https://github.com/org/repo/pull/4",
		want: []string{},
	}, {
		name: "missing identifier",
		text: "see https://trello.com/c/ for details",
		want: []string{},
	}, {
		name: "duplicates collapse",
		text: "https://www.trello.com/c/abc123 http://trello.com/c/abc123/some-card",
		want: []string{"abc123"},
	}, {
		name: "board links ignored",
		text: "https://trello.com/b/board1/roadmap",
		want: []string{},
	}, {
		name: "empty body",
		text: "",
		want: []string{},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := make(map[string]struct{}, len(tt.want))
			for _, id := range tt.want {
				want[id] = struct{}{}
			}
			if diff := cmp.Diff(want, Extract(tt.text)); diff != "" {
				t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	text := "trello.com/c/zzz999 trello.com/c/aaa111"
	first := Extract(text)
	second := Extract(text)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Extract() not deterministic (-first +second):\n%s", diff)
	}
}
