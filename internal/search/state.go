package search

import (
	"errors"
	"strings"
	"sync"

	"github.com/silluthedon/delta/internal/catalog"
	"github.com/silluthedon/delta/internal/models"
)

// ErrUnknownKey is returned by ParseKey for unrecognised key names.
var ErrUnknownKey = errors.New("unknown key")

// Key is a navigation key applied to the suggestion list.
type Key int

const (
	KeyNext Key = iota + 1
	KeyPrev
	KeyConfirm
	KeyCancel
)

// ParseKey accepts both browser key names and their short aliases.
func ParseKey(name string) (Key, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "arrowdown", "down", "next":
		return KeyNext, nil
	case "arrowup", "up", "prev", "previous":
		return KeyPrev, nil
	case "enter", "confirm":
		return KeyConfirm, nil
	case "escape", "esc", "cancel":
		return KeyCancel, nil
	default:
		return 0, ErrUnknownKey
	}
}

// SnapshotSource provides the catalog snapshot searches run against.
type SnapshotSource interface {
	Snapshot() *catalog.Snapshot
}

// View is the derived search output. Results and Suggestions always come from
// the same snapshot and the same query.
type View struct {
	Query             string         `json:"query"`
	Genre             string         `json:"genre"`
	Results           []models.Video `json:"-"`
	Suggestions       []string       `json:"suggestions"`
	SuggestionsActive bool           `json:"suggestionsActive"`
	ActiveIndex       int            `json:"activeIndex"`
	SnapshotVersion   uint64         `json:"snapshotVersion"`
	FocusQuery        bool           `json:"focusQuery"`
}

// State is the per-workspace search input and suggestion navigation state.
type State struct {
	source SnapshotSource

	mu          sync.Mutex
	query       string
	genre       string
	suggestions []string
	index       int
	version     uint64
	computed    bool
	focusQuery  bool
}

// NewState returns an empty search state reading from source.
func NewState(source SnapshotSource) *State {
	return &State{source: source, index: -1}
}

// SetQuery replaces the free-text query.
func (s *State) SetQuery(query string) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.source.Snapshot()
	if query != s.query {
		s.query = query
		s.recompute(snap)
	} else {
		s.sync(snap)
	}
	s.focusQuery = false
	return s.view(snap)
}

// SetGenre replaces the genre filter. An empty genre removes the filter.
func (s *State) SetGenre(genre string) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.source.Snapshot()
	if genre != s.genre {
		s.genre = genre
		s.recompute(snap)
	} else {
		s.sync(snap)
	}
	s.focusQuery = false
	return s.view(snap)
}

// Press applies a navigation key. Keys are ignored while there are no suggestions.
func (s *State) Press(key Key) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.source.Snapshot()
	s.sync(snap)
	s.focusQuery = false

	n := len(s.suggestions)
	if n == 0 {
		return s.view(snap)
	}

	switch key {
	case KeyNext:
		if s.index < n-1 {
			s.index++
		} else {
			s.index = 0
		}
	case KeyPrev:
		if s.index > 0 {
			s.index--
		} else {
			s.index = n - 1
		}
	case KeyConfirm:
		if s.index >= 0 {
			s.query = s.suggestions[s.index]
			s.suggestions = nil
			s.index = -1
			s.focusQuery = true
		}
	case KeyCancel:
		s.suggestions = nil
		s.index = -1
	}
	return s.view(snap)
}

// Clear resets the query and genre filter.
func (s *State) Clear() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.source.Snapshot()
	s.query = ""
	s.genre = ""
	s.recompute(snap)
	s.focusQuery = true
	return s.view(snap)
}

// View returns the current derived output without changing the inputs.
func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.source.Snapshot()
	s.sync(snap)
	return s.view(snap)
}

// sync recomputes when the catalog snapshot has moved on since the last computation.
func (s *State) sync(snap *catalog.Snapshot) {
	if !s.computed || snap.Version != s.version {
		s.recompute(snap)
	}
}

func (s *State) recompute(snap *catalog.Snapshot) {
	s.suggestions = Suggest(snap.Videos, snap.Genres(), s.query)
	s.index = -1
	s.version = snap.Version
	s.computed = true
}

func (s *State) view(snap *catalog.Snapshot) View {
	suggestions := make([]string, len(s.suggestions))
	copy(suggestions, s.suggestions)
	return View{
		Query:             s.query,
		Genre:             s.genre,
		Results:           Filter(snap.Videos, s.query, s.genre),
		Suggestions:       suggestions,
		SuggestionsActive: len(suggestions) > 0,
		ActiveIndex:       s.index,
		SnapshotVersion:   snap.Version,
		FocusQuery:        s.focusQuery,
	}
}
