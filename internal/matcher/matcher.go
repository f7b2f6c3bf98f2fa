package matcher

import (
	"strings"

	"github.com/xxxsen/romscraper/internal/launchbox"
)

// DefaultThreshold is the exclusive lower bound a fuzzy score must exceed.
const DefaultThreshold = 0.70

// Scorer computes a similarity in [0,1] between two comparable names.
type Scorer func(a, b string) float64

// Match is the record selected for a candidate name.
type Match struct {
	Game  launchbox.Game
	Score float64
	Exact bool
	// Candidate is the normalized name the file was matched with.
	Candidate string
}

type entry struct {
	game launchbox.Game
	key  string
}

// Matcher selects the best metadata record for a file name among the
// records of one platform.
type Matcher struct {
	Threshold float64
	Scorer    Scorer

	entries []entry
}

// New prepares a matcher over games, keeping their order. Records without a
// title are ignored.
func New(games []launchbox.Game) *Matcher {
	m := &Matcher{
		Threshold: DefaultThreshold,
		Scorer:    Ratio,
		entries:   make([]entry, 0, len(games)),
	}
	for _, g := range games {
		if strings.TrimSpace(g.Name) == "" {
			continue
		}
		m.entries = append(m.entries, entry{game: g, key: comparable(g.Name)})
	}
	return m
}

// Len returns the number of records the matcher scans.
func (m *Matcher) Len() int { return len(m.entries) }

// Find returns the match for a file stem. The first record whose normalized
// title equals the normalized stem wins outright, in record order. Without
// an exact hit the best score strictly above the threshold wins; ties keep
// the earlier record.
func (m *Matcher) Find(stem string) (Match, bool) {
	candidate := comparable(stem)
	if candidate == "" {
		return Match{Candidate: candidate}, false
	}

	for _, e := range m.entries {
		if e.key == candidate {
			return Match{Game: e.game, Score: 1.0, Exact: true, Candidate: candidate}, true
		}
	}

	scorer := m.Scorer
	if scorer == nil {
		scorer = Ratio
	}
	best := Match{Candidate: candidate}
	found := false
	for _, e := range m.entries {
		score := scorer(candidate, e.key)
		if score > m.Threshold && score > best.Score {
			best.Game = e.game
			best.Score = score
			found = true
		}
	}
	return best, found
}
