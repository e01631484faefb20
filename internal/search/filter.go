package search

import (
	"strings"

	"github.com/silluthedon/delta/internal/models"
)

// MaxSuggestions caps the autocomplete list.
const MaxSuggestions = 6

// Filter returns the videos whose title or description contains query
// (case-insensitive) and, when genre is set, whose genre equals it exactly.
// An empty query and genre return videos unchanged.
func Filter(videos []models.Video, query, genre string) []models.Video {
	if query == "" && genre == "" {
		return videos
	}

	needle := strings.ToLower(query)
	out := make([]models.Video, 0, len(videos))
	for _, v := range videos {
		if needle != "" && !matches(v, needle) {
			continue
		}
		if genre != "" && v.Genre != genre {
			continue
		}
		out = append(out, v)
	}
	return out
}

func matches(v models.Video, needle string) bool {
	if strings.Contains(strings.ToLower(v.Title), needle) {
		return true
	}
	return v.Description != "" && strings.Contains(strings.ToLower(v.Description), needle)
}

// Suggest builds autocomplete candidates for query from the titles of videos
// followed by genres. Matching is a case-insensitive substring test, duplicates
// are collapsed and at most MaxSuggestions entries are returned.
func Suggest(videos []models.Video, genres []string, query string) []string {
	if query == "" {
		return nil
	}

	needle := strings.ToLower(query)
	seen := make(map[string]struct{}, MaxSuggestions)
	var out []string
	add := func(candidate string) bool {
		if _, dup := seen[candidate]; dup {
			return len(out) < MaxSuggestions
		}
		seen[candidate] = struct{}{}
		if strings.Contains(strings.ToLower(candidate), needle) {
			out = append(out, candidate)
		}
		return len(out) < MaxSuggestions
	}

	for _, v := range videos {
		if !add(v.Title) {
			return out
		}
	}
	for _, g := range genres {
		if !add(g) {
			return out
		}
	}
	return out
}
