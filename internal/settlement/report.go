package settlement

import (
	"fmt"
	"strings"
)

// Kind distinguishes settlement reports from rollback reports.
type Kind string

const (
	KindSettlement Kind = "settlement"
	KindRollback   Kind = "rollback"
)

// Outcome is the result of one item of a batch.
type Outcome struct {
	PlayerName     string
	DropPlayerName string
	Team           string
	Amount         int
	TransactionID  string
	// Err is nil when the item was applied.
	Err error
}

// OK reports whether the item was applied.
func (o Outcome) OK() bool { return o.Err == nil }

// Report folds the outcomes of a batch.
type Report struct {
	Kind      Kind
	BatchID   string
	WindowID  string
	Trigger   string
	Actor     string
	Succeeded int
	Failed    int
	Outcomes  []Outcome
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.OK() {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// Teams returns the distinct teams with at least one applied item.
func (r *Report) Teams() []string {
	seen := make(map[string]bool)
	var teams []string
	for _, o := range r.Outcomes {
		if o.OK() && !seen[o.Team] {
			seen[o.Team] = true
			teams = append(teams, o.Team)
		}
	}
	return teams
}

// Summary renders the report for the free-agency channel.
func (r *Report) Summary() string {
	var b strings.Builder
	switch r.Kind {
	case KindRollback:
		fmt.Fprintf(&b, "↩️ **Rollback of %s**\n", r.BatchID)
	default:
		fmt.Fprintf(&b, "🏁 **FA Window %s settled**\n", r.WindowID)
		fmt.Fprintf(&b, "Batch: `%s`\n", r.BatchID)
	}
	fmt.Fprintf(&b, "✅ %d succeeded, ❌ %d failed\n", r.Succeeded, r.Failed)

	if len(r.Outcomes) == 0 {
		b.WriteString("\n_Nothing to process._")
		return b.String()
	}

	b.WriteString("\n")
	for _, o := range r.Outcomes {
		mark := "✅"
		if !o.OK() {
			mark = "❌"
		}
		fmt.Fprintf(&b, "%s %s: %s ($%d)", mark, o.Team, o.PlayerName, o.Amount)
		if o.DropPlayerName != "" {
			fmt.Fprintf(&b, ", cut %s", o.DropPlayerName)
		}
		if o.Err != nil {
			fmt.Fprintf(&b, " - %v", o.Err)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
