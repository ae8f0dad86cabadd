// Package bidparse turns free-form free-agency chat lines such as
// "Cut Saddiq Bey sign Christian Koloko bid 5" into structured bid commands.
package bidparse

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultAmount is used when a command names no amount.
	DefaultAmount = 1
	// MaxAmount is the largest amount a command can carry. Larger amounts
	// set TooLarge instead of being recorded.
	MaxAmount = 1_000_000
)

// Command is a parsed bid intent. Names keep the casing the bidder typed.
type Command struct {
	SignName string
	DropName string
	Amount   int
	// TooLarge is set when the typed amount exceeds MaxAmount; Amount is
	// zero then.
	TooLarge bool
}

// HasDrop reports whether the command releases a rostered player.
func (c Command) HasDrop() bool { return c.DropName != "" }

var (
	acquireVerb = regexp.MustCompile(`(?i)\b(?:sign|add|pickup)\b`)
	valueMarker = regexp.MustCompile(`(?i)\b(?:bid|coins?)\b|\$`)

	// Keywords are anchored on word boundaries so names like Saddiq,
	// Addison, Signor or Bidwell are never split.
	dropClause = regexp.MustCompile(`(?i)\b(?:cut|drop|waive)\s+`)
	signClause = regexp.MustCompile(`(?i)\b(?:sign|add|pickup)\s+`)

	// "coin" only ends a name when an amount follows it, so a player
	// called Coin Jones survives.
	dropEnd = regexp.MustCompile(`(?i)\b(?:sign|add|pickup|bid)\b|\bcoins?\b[:\s]*\d|\$|\d|[,\n]`)
	signEnd = regexp.MustCompile(`(?i)\b(?:bid|cut|drop|waive)\b|\bcoins?\b[:\s]*\d|\$|\d|[,\n]`)

	bidAmount      = regexp.MustCompile(`(?i)\bbid\b[:\s]*(\d+)`)
	markedAmount   = regexp.MustCompile(`(?i)\$\s*(\d+)|(\d+)\s*coins?\b|\bcoins?\b[:\s]*(\d+)`)
	trailingAmount = regexp.MustCompile(`(\d+)\s*$`)

	// Name suffixes and initials whose trailing period belongs to the name.
	keepPeriod = regexp.MustCompile(`(?i)(?:^|\s)(?:jr|sr|[a-z]|[a-z]\.[a-z])\.$`)
)

// Parse extracts a bid command from text. It reports false when text is not
// a bid: no acquisition verb and no value marker, or no player to sign.
func Parse(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Command{}, false
	}
	if !acquireVerb.MatchString(text) && !valueMarker.MatchString(text) {
		return Command{}, false
	}

	sign := clause(text, signClause, signEnd)
	if sign == "" {
		return Command{}, false
	}

	n, ok := amount(text)
	return Command{
		SignName: sign,
		DropName: clause(text, dropClause, dropEnd),
		Amount:   n,
		TooLarge: !ok,
	}, true
}

// clause returns the text following the first match of start up to the
// first match of end, cleaned up for display.
func clause(text string, start, end *regexp.Regexp) string {
	loc := start.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	rest := text[loc[1]:]
	if stop := end.FindStringIndex(rest); stop != nil {
		rest = rest[:stop[0]]
	}
	return cleanName(rest)
}

func cleanName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ",;:!")
	for strings.HasSuffix(s, ".") && !keepPeriod.MatchString(s) {
		s = strings.TrimSpace(strings.TrimSuffix(s, "."))
	}
	return s
}

// amount returns the bid amount and false when it exceeds MaxAmount.
func amount(text string) (int, bool) {
	if m := bidAmount.FindStringSubmatch(text); m != nil {
		return atoi(m[1])
	}
	if m := markedAmount.FindStringSubmatch(text); m != nil {
		for _, g := range m[1:] {
			if g != "" {
				return atoi(g)
			}
		}
	}
	if m := trailingAmount.FindStringSubmatch(text); m != nil {
		return atoi(m[1])
	}
	return DefaultAmount, true
}

// atoi parses a run of digits. Overflowing int counts as too large.
func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n > MaxAmount {
		return 0, false
	}
	return n, true
}
