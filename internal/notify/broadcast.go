package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// Standings is the read side of the bid ledger.
type Standings interface {
	HighestBids(ctx context.Context, windowID string) ([]store.Bid, error)
	Commitment(ctx context.Context, team, windowID string) (int, error)
	Balance(ctx context.Context, team string) (int, error)
}

// TeamCommitment is one line of the per-team summary.
type TeamCommitment struct {
	Team      string
	Committed int
	Remaining int
}

// Broadcaster posts bid status summaries and settlement reports to the
// free-agency channel.
type Broadcaster struct {
	sender    Sender
	standings Standings
	channelID string
	clock     clock.Clock
	loc       *time.Location
	logger    *slog.Logger
	tracer    trace.Tracer

	mu         sync.Mutex
	lastStatus string
}

// NewBroadcaster returns a Broadcaster posting to channelID. Times are shown
// in loc.
func NewBroadcaster(sender Sender, standings Standings, channelID string, clk clock.Clock, loc *time.Location, logger *slog.Logger, tp trace.TracerProvider) *Broadcaster {
	return &Broadcaster{
		sender:    sender,
		standings: standings,
		channelID: channelID,
		clock:     clk,
		loc:       loc,
		logger:    logger,
		tracer:    tp.Tracer("github.com/jensholdgaard/discord-fa-bot/internal/notify"),
	}
}

// Publish replaces the previous status message with the window's current
// standings.
func (b *Broadcaster) Publish(ctx context.Context, windowID string) error {
	ctx, span := b.tracer.Start(ctx, "Broadcaster.Publish",
		trace.WithAttributes(attribute.String("window_id", windowID)),
	)
	defer span.End()

	bids, err := b.standings.HighestBids(ctx, windowID)
	if err != nil {
		return fmt.Errorf("loading standings: %w", err)
	}

	seen := make(map[string]bool)
	var teams []TeamCommitment
	for _, bid := range bids {
		if seen[bid.Team] {
			continue
		}
		seen[bid.Team] = true
		committed, err := b.standings.Commitment(ctx, bid.Team, windowID)
		if err != nil {
			return fmt.Errorf("loading commitment for %s: %w", bid.Team, err)
		}
		remaining, err := b.standings.Balance(ctx, bid.Team)
		if err != nil {
			return fmt.Errorf("loading balance for %s: %w", bid.Team, err)
		}
		teams = append(teams, TeamCommitment{Team: bid.Team, Committed: committed, Remaining: remaining})
	}

	content := RenderStatus(windowID, b.clock.Now().In(b.loc), bids, teams)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastStatus != "" {
		if err := b.sender.Delete(ctx, b.channelID, b.lastStatus); err != nil {
			b.logger.WarnContext(ctx, "failed to delete previous status message",
				slog.String("message_id", b.lastStatus),
				slog.Any("error", err),
			)
		}
		b.lastStatus = ""
	}

	id, err := b.sender.Post(ctx, b.channelID, content)
	if err != nil {
		return fmt.Errorf("posting status: %w", err)
	}
	b.lastStatus = id

	b.logger.InfoContext(ctx, "status published",
		slog.String("window_id", windowID),
		slog.Int("players", len(bids)),
	)
	return nil
}

// PublishSettlement posts a settlement or rollback report.
func (b *Broadcaster) PublishSettlement(ctx context.Context, summary string) error {
	ctx, span := b.tracer.Start(ctx, "Broadcaster.PublishSettlement")
	defer span.End()

	if _, err := b.sender.Post(ctx, b.channelID, summary); err != nil {
		return fmt.Errorf("posting settlement report: %w", err)
	}
	return nil
}

// RenderStatus formats the status summary.
func RenderStatus(windowID string, now time.Time, bids []store.Bid, teams []TeamCommitment) string {
	var sb strings.Builder
	sb.WriteString("📊 **FA Bid Status Update**\n\n")
	fmt.Fprintf(&sb, "🏀 **Bidding Window:** %s\n", windowID)
	fmt.Fprintf(&sb, "⏰ **Last Updated:** %s\n\n", now.Format("3:04 PM MST"))

	if len(bids) == 0 {
		sb.WriteString("_No active bids at this time._")
		return sb.String()
	}

	fmt.Fprintf(&sb, "🏆 **Active Bids (%d players)**\n\n", len(bids))
	for _, bid := range bids {
		fmt.Fprintf(&sb, "**%s**\n", bid.PlayerName)
		fmt.Fprintf(&sb, "├ Bid: $%d\n", bid.Amount)
		fmt.Fprintf(&sb, "└ Leader: %s\n\n", displayName(bid))
	}

	if len(teams) > 0 {
		sorted := append([]TeamCommitment(nil), teams...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Team < sorted[j].Team })
		sb.WriteString("💰 **Team Commitments**\n")
		for _, t := range sorted {
			fmt.Fprintf(&sb, "%s: $%d of $%d\n", t.Team, t.Committed, t.Remaining)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n")
	sb.WriteString("💡 *To place a bid, use format: \"Cut [Player]. Sign [Player]. Bid [Amount]\"*")
	return sb.String()
}
