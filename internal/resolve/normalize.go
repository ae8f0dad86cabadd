package resolve

import (
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a player name for comparison: lower case, diacritics
// stripped, apostrophes dropped, hyphens split into words, other punctuation
// removed and whitespace collapsed. "Vít Krejčí" and "vit krejci" normalize
// to the same string.
func Normalize(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’' || r == '‘' || r == '`':
		case r == '-' || unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity scores two normalized names from 0 to 100. Identical names
// score 100, a name contained in the other scores at least 85, otherwise the
// score is the better of the plain and the token-sorted edit ratio.
func Similarity(a, b string) int {
	if a == b {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	score := max(ratio(a, b), ratio(sortTokens(a), sortTokens(b)))
	if contains(a, b) {
		score = max(score, 85)
	}
	return score
}

// minContained keeps very short queries like "ad" from matching every name
// that happens to contain them.
const minContained = 4

func contains(a, b string) bool {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	return len([]rune(short)) >= minContained && strings.Contains(long, short)
}

func ratio(a, b string) int {
	n := max(len([]rune(a)), len([]rune(b)))
	if n == 0 {
		return 100
	}
	d := matchr.Levenshtein(a, b)
	return int(float64(n-d)/float64(n)*100 + 0.5)
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	if len(tokens) < 2 {
		return s
	}
	slices.Sort(tokens)
	return strings.Join(tokens, " ")
}

// phonetic returns the Double Metaphone codes of every token.
func phonetic(tokens []string) [][2]string {
	codes := make([][2]string, len(tokens))
	for i, t := range tokens {
		p, s := matchr.DoubleMetaphone(strings.ToUpper(t))
		codes[i] = [2]string{p, s}
	}
	return codes
}

func soundAlike(a, b [2]string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
