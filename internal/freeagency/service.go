// Package freeagency turns free-agency channel messages into recorded bids.
package freeagency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-fa-bot/internal/bidparse"
	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/ledger"
	"github.com/jensholdgaard/discord-fa-bot/internal/notify"
	"github.com/jensholdgaard/discord-fa-bot/internal/resolve"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
	"github.com/jensholdgaard/discord-fa-bot/internal/window"
)

// Reply texts.
const (
	ReplyAccepted    = "✅"
	ReplyNotAssigned = "❌ You are not assigned to a team. Please contact an admin."
	ReplyFailed      = "❌ Failed to process bid. Please try again or contact an admin."
	ReplyTooLarge    = "❌ Bid amount is too large."
)

// Ledger is the bid bookkeeping the service writes to.
type Ledger interface {
	RecordBid(ctx context.Context, in ledger.BidInput) (*ledger.RecordResult, error)
	Balance(ctx context.Context, team string) (int, error)
	AutoCancelOverBudget(ctx context.Context, team, windowID string) ([]store.Bid, error)
	NextHighestBidder(ctx context.Context, playerName, windowID, excludeBidder string) (*store.Bid, error)
}

// PlayerResolver looks up players by free-text name.
type PlayerResolver interface {
	Resolve(ctx context.Context, name string, opts resolve.Options) (*resolve.Match, error)
}

// Notifier tells bidders about lost and cancelled bids.
type Notifier interface {
	Notify(ctx context.Context, n notify.OutbidNotice)
	NotifyCancelled(ctx context.Context, cancelled store.Bid, next *store.Bid)
}

// Message is an inbound chat message.
type Message struct {
	ID         string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
}

// Reply tells the chat adapter how to answer a message.
type Reply struct {
	// Handled is set when the message was a bid command.
	Handled bool
	// Accepted is set when the bid was recorded.
	Accepted bool
	// Text is the answer to post. Accepted bids answer with ReplyAccepted.
	Text string
}

func rejected(format string, args ...any) Reply {
	return Reply{Handled: true, Text: fmt.Sprintf(format, args...)}
}

// Service handles bid messages.
type Service struct {
	channelID   string
	teams       map[string]string
	assignments store.TeamAssignmentRepository
	resolver    PlayerResolver
	ledger      Ledger
	notifier    Notifier
	schedule    *window.Schedule
	clock       clock.Clock
	logger      *slog.Logger
	tracer      trace.Tracer
	handled     metric.Int64Counter
}

// New returns a Service reading bids from channelID. An empty channelID
// accepts every channel.
func New(
	channelID string,
	teams []string,
	assignments store.TeamAssignmentRepository,
	resolver PlayerResolver,
	l Ledger,
	notifier Notifier,
	schedule *window.Schedule,
	clk clock.Clock,
	logger *slog.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*Service, error) {
	meter := mp.Meter("github.com/jensholdgaard/discord-fa-bot/internal/freeagency")
	handled, err := meter.Int64Counter("fa.messages.handled",
		metric.WithDescription("Bid messages handled, by result."))
	if err != nil {
		return nil, fmt.Errorf("creating handled counter: %w", err)
	}

	canonical := make(map[string]string, len(teams))
	for _, t := range teams {
		canonical[strings.ToLower(strings.TrimSpace(t))] = t
	}

	return &Service{
		channelID:   channelID,
		teams:       canonical,
		assignments: assignments,
		resolver:    resolver,
		ledger:      l,
		notifier:    notifier,
		schedule:    schedule,
		clock:       clk,
		logger:      logger,
		tracer:      tp.Tracer("github.com/jensholdgaard/discord-fa-bot/internal/freeagency"),
		handled:     handled,
	}, nil
}

// HandleMessage records the bid carried by m, if any. Messages that are not
// bids return a zero Reply. A non-nil error comes with ReplyFailed.
func (s *Service) HandleMessage(ctx context.Context, m Message) (Reply, error) {
	ctx, span := s.tracer.Start(ctx, "Service.HandleMessage",
		trace.WithAttributes(
			attribute.String("message_id", m.ID),
			attribute.String("author_id", m.AuthorID),
		),
	)
	defer span.End()

	if s.channelID != "" && m.ChannelID != s.channelID {
		return Reply{}, nil
	}
	cmd, ok := bidparse.Parse(m.Content)
	if !ok {
		return Reply{}, nil
	}

	reply, err := s.handleBid(ctx, m, cmd)
	result := "rejected"
	switch {
	case err != nil:
		result = "error"
		reply = Reply{Handled: true, Text: ReplyFailed}
	case reply.Accepted:
		result = "accepted"
	}
	s.handled.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return reply, err
}

func (s *Service) handleBid(ctx context.Context, m Message, cmd bidparse.Command) (Reply, error) {
	assignment, err := s.assignments.Get(ctx, m.AuthorID)
	if errors.Is(err, store.ErrNotFound) {
		return Reply{Handled: true, Text: ReplyNotAssigned}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("loading team assignment: %w", err)
	}
	team, ok := s.teams[strings.ToLower(strings.TrimSpace(assignment.Team))]
	if !ok {
		return rejected("❌ Invalid team assignment: %s", assignment.Team), nil
	}

	now := s.clock.Now()
	w := s.schedule.At(now)
	if w.Locked(now) {
		next := s.schedule.Next(w)
		return rejected("❌ Bidding window %s is locked for settlement. Bidding reopens at %s.",
			w.ID, next.Start.Format("3:04 PM MST")), nil
	}

	if cmd.TooLarge {
		return Reply{Handled: true, Text: ReplyTooLarge}, nil
	}

	sign, err := s.resolver.Resolve(ctx, cmd.SignName, resolve.Options{Team: team, FreeAgentsOnly: true})
	if err != nil {
		return Reply{}, fmt.Errorf("resolving %s: %w", cmd.SignName, err)
	}
	if sign == nil {
		return rejected("❌ Player \"%s\" not found. Please check the spelling.", cmd.SignName), nil
	}

	in := ledger.BidInput{
		WindowID:   w.ID,
		PlayerName: sign.Player.Name,
		PlayerID:   sign.Player.ID,
		BidderID:   m.AuthorID,
		BidderName: m.AuthorName,
		Team:       team,
		Amount:     cmd.Amount,
		MessageID:  m.ID,
	}

	if cmd.HasDrop() {
		drop, err := s.resolver.Resolve(ctx, cmd.DropName, resolve.Options{Team: team, RosterOnly: true})
		if err != nil {
			return Reply{}, fmt.Errorf("resolving %s: %w", cmd.DropName, err)
		}
		if drop == nil {
			return rejected("❌ Player \"%s\" is not on the %s roster.", cmd.DropName, team), nil
		}
		in.DropPlayerName = drop.Player.Name
	}

	res, err := s.ledger.RecordBid(ctx, in)
	if err != nil {
		return Reply{}, err
	}

	if res.Outbid != nil {
		s.notifyOutbid(ctx, *res.Outbid, res.Leader)
	}
	s.enforceBudget(ctx, team, w.ID)

	s.logger.InfoContext(ctx, "bid accepted",
		slog.String("window_id", w.ID),
		slog.String("player", sign.Player.Name),
		slog.String("strategy", sign.Strategy),
		slog.String("team", team),
		slog.Int("amount", cmd.Amount),
	)
	return Reply{Handled: true, Accepted: true, Text: ReplyAccepted}, nil
}

func (s *Service) notifyOutbid(ctx context.Context, previous, leader store.Bid) {
	coins, err := s.ledger.Balance(ctx, previous.Team)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load balance for outbid notice",
			slog.String("team", previous.Team),
			slog.Any("error", err),
		)
		return
	}
	s.notifier.Notify(ctx, notify.OutbidNotice{Previous: previous, Leader: leader, CoinsRemaining: coins})
}

// enforceBudget cancels the team's oldest bids past its balance and tells
// their bidders. Failures are logged; the triggering bid stands.
func (s *Service) enforceBudget(ctx context.Context, team, windowID string) {
	cancelled, err := s.ledger.AutoCancelOverBudget(ctx, team, windowID)
	if err != nil {
		s.logger.ErrorContext(ctx, "budget enforcement failed",
			slog.String("team", team),
			slog.Any("error", err),
		)
	}
	for _, b := range cancelled {
		next, err := s.ledger.NextHighestBidder(ctx, b.PlayerName, windowID, b.BidderID)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to load next bidder",
				slog.String("player", b.PlayerName),
				slog.Any("error", err),
			)
		}
		s.notifier.NotifyCancelled(ctx, b, next)
	}
}
