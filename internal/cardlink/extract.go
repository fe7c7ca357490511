// Package cardlink finds Trello card references in free text.
package cardlink

import "regexp"

var cardURL = regexp.MustCompile(`(?:https?://)?(?:www\.)?trello\.com/c/(\w+)\b`)

// Extract returns the set of card short links referenced in text.
func Extract(text string) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, m := range cardURL.FindAllStringSubmatch(text, -1) {
		ids[m[1]] = struct{}{}
	}
	return ids
}
