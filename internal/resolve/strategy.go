package resolve

import (
	"strings"

	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// Query is a normalized search.
type Query struct {
	Text   string
	Tokens []string
	// Team is the roster the sender most likely means, if known.
	Team  string
	codes [][2]string
}

func newQuery(text, team string) Query {
	n := Normalize(text)
	tokens := strings.Fields(n)
	return Query{Text: n, Tokens: tokens, Team: team, codes: phonetic(tokens)}
}

// Candidate is a pool player with its normalized name precomputed.
type Candidate struct {
	Player store.Player
	Name   string
	Tokens []string
	codes  [][2]string
}

func newCandidate(p store.Player) Candidate {
	n := Normalize(p.Name)
	tokens := strings.Fields(n)
	return Candidate{Player: p, Name: n, Tokens: tokens, codes: phonetic(tokens)}
}

// Strategy is one step of the resolution cascade. Attempt returns its best
// candidate and a 0-100 confidence; the resolver accepts the candidate only
// when the score reaches Threshold.
type Strategy interface {
	Name() string
	Threshold() int
	Attempt(q Query, pool []Candidate) (store.Player, int, bool)
}

// Cascade is the default strategy order.
func Cascade() []Strategy {
	return []Strategy{
		exactStrategy{},
		teamStrategy{},
		phoneticStrategy{},
		firstLastStrategy{},
		leagueStrategy{},
	}
}

// best returns the highest scoring candidate for which score reports ok.
// A tie for the top score is ambiguous and reports false.
func best(pool []Candidate, score func(Candidate) (int, bool)) (store.Player, int, bool) {
	var (
		top   store.Player
		high  = -1
		tied  bool
		found bool
	)
	for _, c := range pool {
		s, ok := score(c)
		switch {
		case !ok || s < high:
		case s == high:
			tied = true
		default:
			top, high, found, tied = c.Player, s, true, false
		}
	}
	if tied {
		return store.Player{}, high, false
	}
	return top, high, found
}

// exactStrategy matches the alias-expanded query against normalized names.
type exactStrategy struct{}

func (exactStrategy) Name() string   { return "alias" }
func (exactStrategy) Threshold() int { return 100 }

func (exactStrategy) Attempt(q Query, pool []Candidate) (store.Player, int, bool) {
	for _, c := range pool {
		if c.Name == q.Text {
			return c.Player, 100, true
		}
	}
	return store.Player{}, 0, false
}

// teamStrategy fuzzy matches within the sender's own roster.
type teamStrategy struct{}

func (teamStrategy) Name() string   { return "team" }
func (teamStrategy) Threshold() int { return 60 }

func (teamStrategy) Attempt(q Query, pool []Candidate) (store.Player, int, bool) {
	if q.Team == "" {
		return store.Player{}, 0, false
	}
	return best(pool, func(c Candidate) (int, bool) {
		if !strings.EqualFold(c.Player.TeamName(), q.Team) {
			return 0, false
		}
		return Similarity(q.Text, c.Name), true
	})
}

// phoneticStrategy keeps candidates where every query token sounds like
// one of the candidate's tokens, then ranks them by spelling.
type phoneticStrategy struct{}

func (phoneticStrategy) Name() string   { return "phonetic" }
func (phoneticStrategy) Threshold() int { return 50 }

func (phoneticStrategy) Attempt(q Query, pool []Candidate) (store.Player, int, bool) {
	if len(q.codes) == 0 {
		return store.Player{}, 0, false
	}
	return best(pool, func(c Candidate) (int, bool) {
		for _, qc := range q.codes {
			matched := false
			for _, cc := range c.codes {
				if soundAlike(qc, cc) {
					matched = true
					break
				}
			}
			if !matched {
				return 0, false
			}
		}
		return Similarity(q.Text, c.Name), true
	})
}

// maxFirstNameShare bounds how common a first name may be before the
// first-last strategy gives up on it.
const maxFirstNameShare = 5

// firstLastStrategy narrows the pool by exact first name and fuzzy matches
// the rest of the name within that small set.
type firstLastStrategy struct{}

func (firstLastStrategy) Name() string   { return "first-last" }
func (firstLastStrategy) Threshold() int { return 60 }

func (firstLastStrategy) Attempt(q Query, pool []Candidate) (store.Player, int, bool) {
	if len(q.Tokens) < 2 {
		return store.Player{}, 0, false
	}

	var share []Candidate
	for _, c := range pool {
		if len(c.Tokens) >= 2 && c.Tokens[0] == q.Tokens[0] {
			share = append(share, c)
		}
	}
	if len(share) == 0 || len(share) > maxFirstNameShare {
		return store.Player{}, 0, false
	}

	last := strings.Join(q.Tokens[1:], " ")
	return best(share, func(c Candidate) (int, bool) {
		return Similarity(last, strings.Join(c.Tokens[1:], " ")), true
	})
}

// leagueStrategy fuzzy matches against the whole pool.
type leagueStrategy struct{}

func (leagueStrategy) Name() string   { return "league" }
func (leagueStrategy) Threshold() int { return 70 }

func (leagueStrategy) Attempt(q Query, pool []Candidate) (store.Player, int, bool) {
	return best(pool, func(c Candidate) (int, bool) {
		return Similarity(q.Text, c.Name), true
	})
}
