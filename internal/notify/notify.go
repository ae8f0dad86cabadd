// Package notify tells bidders and the free-agency channel what happened to
// their bids.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// Sender delivers messages on the chat platform.
type Sender interface {
	// SendDM sends a direct message to a user.
	SendDM(ctx context.Context, userID, content string) error
	// Post sends a message to a channel and returns its ID.
	Post(ctx context.Context, channelID, content string) (string, error)
	// Delete removes a message from a channel.
	Delete(ctx context.Context, channelID, messageID string) error
}

// OutbidNotice describes a bidder losing the lead on a player.
type OutbidNotice struct {
	// Previous is the overtaken bid.
	Previous store.Bid
	// Leader is the bid now in front.
	Leader store.Bid
	// CoinsRemaining is the overtaken team's balance.
	CoinsRemaining int
}

// Outbid sends one-shot direct messages about lost or cancelled bids.
// Delivery failures are logged and swallowed.
type Outbid struct {
	sender Sender
	logger *slog.Logger
	tracer trace.Tracer
}

// NewOutbid returns an Outbid notifier.
func NewOutbid(sender Sender, logger *slog.Logger, tp trace.TracerProvider) *Outbid {
	return &Outbid{
		sender: sender,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/discord-fa-bot/internal/notify"),
	}
}

// Notify tells the previous leader they were outbid.
func (o *Outbid) Notify(ctx context.Context, n OutbidNotice) {
	ctx, span := o.tracer.Start(ctx, "Outbid.Notify",
		trace.WithAttributes(
			attribute.String("player", n.Leader.PlayerName),
			attribute.String("bidder_id", n.Previous.BidderID),
		),
	)
	defer span.End()

	var b strings.Builder
	b.WriteString("🚨 **You've been outbid!**\n\n")
	fmt.Fprintf(&b, "**Player:** %s\n", n.Leader.PlayerName)
	fmt.Fprintf(&b, "**Your bid:** $%d\n", n.Previous.Amount)
	fmt.Fprintf(&b, "**New high bid:** $%d\n", n.Leader.Amount)
	fmt.Fprintf(&b, "**New leader:** %s\n\n", displayName(n.Leader))
	fmt.Fprintf(&b, "💰 **Your remaining coins:** $%d\n\n", n.CoinsRemaining)
	b.WriteString("💡 **To counter-bid, use this format:**\n")
	fmt.Fprintf(&b, "`Cut [Player]. Sign %s. Bid [Amount]`", n.Leader.PlayerName)

	o.send(ctx, n.Previous.BidderID, b.String())
}

// NotifyCancelled tells a bidder their bid was cancelled to keep the team
// within budget. next is the bid now leading for the player, if any.
func (o *Outbid) NotifyCancelled(ctx context.Context, cancelled store.Bid, next *store.Bid) {
	ctx, span := o.tracer.Start(ctx, "Outbid.NotifyCancelled",
		trace.WithAttributes(
			attribute.String("player", cancelled.PlayerName),
			attribute.String("bidder_id", cancelled.BidderID),
		),
	)
	defer span.End()

	var b strings.Builder
	b.WriteString("❌ **Bid auto-cancelled**\n\n")
	fmt.Fprintf(&b, "Your $%d bid on **%s** was cancelled because %s committed more coins than it has left. ",
		cancelled.Amount, cancelled.PlayerName, cancelled.Team)
	b.WriteString("Oldest bids are cancelled first.\n")
	if next != nil {
		fmt.Fprintf(&b, "\n**Current leader:** %s at $%d", displayName(*next), next.Amount)
	} else {
		b.WriteString("\nNo other bids remain on this player.")
	}

	o.send(ctx, cancelled.BidderID, b.String())
}

func (o *Outbid) send(ctx context.Context, userID, content string) {
	if err := o.sender.SendDM(ctx, userID, content); err != nil {
		o.logger.WarnContext(ctx, "failed to send direct message",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}

func displayName(b store.Bid) string {
	name := b.BidderName
	if name == "" {
		name = "Unknown"
	}
	if b.Team != "" {
		return fmt.Sprintf("%s (%s)", name, b.Team)
	}
	return name
}
