package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PreviewItem is one winning bid as it would settle.
type PreviewItem struct {
	PlayerName     string
	DropPlayerName string
	Amount         int
	Overall        int
	CoinsAfter     int
	RosterAfter    int
	Problems       []string
}

// TeamPreview groups a team's pending signings.
type TeamPreview struct {
	Team         string
	CoinsBefore  int
	RosterBefore int
	Items        []PreviewItem
}

// Preview is a dry run of a window's settlement.
type Preview struct {
	WindowID string
	Teams    []TeamPreview
	// Problems lists issues not tied to a single team.
	Problems []string
}

// Valid reports whether every item would settle.
func (p *Preview) Valid() bool {
	if len(p.Problems) > 0 {
		return false
	}
	for _, t := range p.Teams {
		for _, it := range t.Items {
			if len(it.Problems) > 0 {
				return false
			}
		}
	}
	return true
}

// Counts returns the number of items that would succeed and fail.
func (p *Preview) Counts() (ok, failed int) {
	for _, t := range p.Teams {
		for _, it := range t.Items {
			if len(it.Problems) == 0 {
				ok++
			} else {
				failed++
			}
		}
	}
	return ok, failed
}

// Summary renders the preview for operators.
func (p *Preview) Summary() string {
	var b strings.Builder
	ok, failed := p.Counts()
	fmt.Fprintf(&b, "🔍 **Settlement preview for %s**\n", p.WindowID)
	fmt.Fprintf(&b, "✅ %d would succeed, ❌ %d would fail\n", ok, failed)

	for _, t := range p.Teams {
		fmt.Fprintf(&b, "\n**%s** ($%d, %d players)\n", t.Team, t.CoinsBefore, t.RosterBefore)
		for _, it := range t.Items {
			mark := "✅"
			if len(it.Problems) > 0 {
				mark = "❌"
			}
			fmt.Fprintf(&b, "%s %s ($%d)", mark, it.PlayerName, it.Amount)
			if it.DropPlayerName != "" {
				fmt.Fprintf(&b, ", cut %s", it.DropPlayerName)
			}
			fmt.Fprintf(&b, " → $%d left, %d players\n", it.CoinsAfter, it.RosterAfter)
			for _, prob := range it.Problems {
				fmt.Fprintf(&b, "  • %s\n", prob)
			}
		}
	}
	for _, prob := range p.Problems {
		fmt.Fprintf(&b, "\n⚠️ %s", prob)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Preview validates the window's pending settlement without writing
// anything. Coin balances and roster sizes are simulated in bid order per
// team.
func (e *Engine) Preview(ctx context.Context, windowID string) (*Preview, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Preview",
		trace.WithAttributes(attribute.String("window_id", windowID)),
	)
	defer span.End()

	if _, err := e.schedule.Parse(windowID); err != nil {
		return nil, err
	}

	bids, err := e.standings.HighestBids(ctx, windowID)
	if err != nil {
		return nil, fmt.Errorf("loading winning bids: %w", err)
	}
	settled, err := e.transactions.SettledPlayers(ctx, windowID)
	if err != nil {
		return nil, fmt.Errorf("loading settled players: %w", err)
	}

	p := &Preview{WindowID: windowID}
	byTeam := make(map[string]*TeamPreview)
	coins := make(map[string]int)
	roster := make(map[string]int)
	overall := make(map[string]int)
	signed := make(map[string][]string)
	names := make(map[string]string)

	for _, bid := range bids {
		if settled[strings.ToLower(bid.PlayerName)] {
			continue
		}

		team, known := e.CanonicalTeam(bid.Team)
		if !known {
			team = bid.Team
		}
		group, ok := byTeam[team]
		if !ok {
			group = &TeamPreview{Team: team}
			if known {
				if group.CoinsBefore, err = e.balance(ctx, team); err != nil {
					return nil, err
				}
				players, err := e.players.ListByTeam(ctx, team)
				if err != nil {
					return nil, fmt.Errorf("loading roster for %s: %w", team, err)
				}
				group.RosterBefore = len(players)
				overall[team] = sumOverall(players)
			}
			byTeam[team] = group
			coins[team] = group.CoinsBefore
			roster[team] = group.RosterBefore
		}

		it := PreviewItem{
			PlayerName:     bid.PlayerName,
			DropPlayerName: bid.DropName(),
			Amount:         bid.Amount,
		}

		if !known {
			it.Problems = append(it.Problems, fmt.Sprintf("%v: %q", ErrUnknownTeam, bid.Team))
		} else {
			sign, drop, err := e.resolvePlayers(ctx, team, bid)
			if err != nil {
				it.Problems = append(it.Problems, err.Error())
			} else {
				it.PlayerName = sign.Name
				it.Overall = sign.Overall
				if drop != nil {
					it.DropPlayerName = drop.Name
				}
				signed[sign.ID] = append(signed[sign.ID], team)
				names[sign.ID] = sign.Name
				if err := e.checkZeroCoin(coins[team], *sign); err != nil {
					it.Problems = append(it.Problems, err.Error())
				}
				if err := e.checkOverCap(team, overall[team], *sign); err != nil {
					it.Problems = append(it.Problems, err.Error())
				}
				overall[team] += sign.Overall
				if drop != nil {
					overall[team] -= drop.Overall
				}
			}

			after := roster[team]
			if it.DropPlayerName == "" {
				after++
			}
			if after > e.rules.RosterLimit {
				it.Problems = append(it.Problems,
					fmt.Sprintf("roster would reach %d players, limit %d (no drop given)", after, e.rules.RosterLimit))
			}
			if coins[team] < bid.Amount {
				it.Problems = append(it.Problems,
					fmt.Sprintf("insufficient coins: $%d < $%d", coins[team], bid.Amount))
			}
			roster[team] = after
			coins[team] -= bid.Amount
		}

		it.CoinsAfter = coins[team]
		it.RosterAfter = roster[team]
		group.Items = append(group.Items, it)
	}

	for id, teams := range signed {
		if len(teams) > 1 {
			p.Problems = append(p.Problems, fmt.Sprintf("duplicate signing: player %s has %d winning bids (%s)",
				names[id], len(teams), strings.Join(teams, ", ")))
		}
	}
	sort.Strings(p.Problems)

	for _, group := range byTeam {
		p.Teams = append(p.Teams, *group)
	}
	sort.Slice(p.Teams, func(i, j int) bool { return p.Teams[i].Team < p.Teams[j].Team })

	ok, failed := p.Counts()
	e.logger.InfoContext(ctx, "settlement previewed",
		slog.String("window_id", windowID),
		slog.Int("ok", ok),
		slog.Int("failed", failed),
	)
	return p, nil
}
