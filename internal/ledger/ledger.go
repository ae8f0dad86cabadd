// Package ledger records free-agency bids and keeps every team within its
// coin budget.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-fa-bot/internal/event"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// Cancellation reasons recorded on BidCancelled events.
const (
	ReasonSameDrop   = "same drop player"
	ReasonOverBudget = "over budget"
)

var validate = validator.New()

// BidInput is a validated bid ready to be written.
type BidInput struct {
	WindowID       string `validate:"required"`
	PlayerName     string `validate:"required"`
	PlayerID       string
	BidderID       string `validate:"required"`
	BidderName     string
	Team           string `validate:"required"`
	DropPlayerName string
	Amount         int `validate:"gte=0"`
	MessageID      string
}

// RecordResult describes the state of the player's auction after a bid.
type RecordResult struct {
	Bid    store.Bid
	Leader store.Bid
	// Outbid is the bid that led before this one, set only when it belonged
	// to a different bidder and has now been overtaken.
	Outbid *store.Bid
	// Superseded holds bids removed because they released the same player.
	Superseded []store.Bid
}

// Ledger handles bid bookkeeping.
type Ledger struct {
	bids          store.BidRepository
	budgets       store.BudgetRepository
	events        event.Store
	defaultBudget int
	logger        *slog.Logger
	tracer        trace.Tracer
	recorded      metric.Int64Counter
	cancelled     metric.Int64Counter
}

// New returns a Ledger. Teams without a budget row are assumed to hold
// defaultBudget coins.
func New(bids store.BidRepository, budgets store.BudgetRepository, events event.Store, defaultBudget int, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*Ledger, error) {
	meter := mp.Meter("github.com/jensholdgaard/discord-fa-bot/internal/ledger")
	recorded, err := meter.Int64Counter("fa.bids.recorded",
		metric.WithDescription("Bids written to the ledger."))
	if err != nil {
		return nil, fmt.Errorf("creating recorded counter: %w", err)
	}
	cancelled, err := meter.Int64Counter("fa.bids.cancelled",
		metric.WithDescription("Bids removed by supersession or budget enforcement."))
	if err != nil {
		return nil, fmt.Errorf("creating cancelled counter: %w", err)
	}

	return &Ledger{
		bids:          bids,
		budgets:       budgets,
		events:        events,
		defaultBudget: defaultBudget,
		logger:        logger,
		tracer:        tp.Tracer("github.com/jensholdgaard/discord-fa-bot/internal/ledger"),
		recorded:      recorded,
		cancelled:     cancelled,
	}, nil
}

// RecordBid writes the bid. An earlier bid by the same bidder on the same
// player in the window is updated in place, and the bidder's or team's other
// bids releasing the same drop player are removed first.
func (l *Ledger) RecordBid(ctx context.Context, in BidInput) (*RecordResult, error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.RecordBid",
		trace.WithAttributes(
			attribute.String("window_id", in.WindowID),
			attribute.String("player", in.PlayerName),
			attribute.String("team", in.Team),
			attribute.Int("amount", in.Amount),
		),
	)
	defer span.End()

	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid bid: %w", err)
	}

	res := &RecordResult{}

	if in.DropPlayerName != "" {
		superseded, err := l.bids.DeleteSameDrop(ctx, in.WindowID, in.BidderID, in.Team, in.DropPlayerName, in.PlayerName)
		if err != nil {
			return nil, fmt.Errorf("removing bids with the same drop: %w", err)
		}
		for _, b := range superseded {
			l.cancelledEvent(ctx, b, ReasonSameDrop)
		}
		res.Superseded = superseded
	}

	before, err := l.bids.ListByPlayer(ctx, in.WindowID, in.PlayerName)
	if err != nil {
		return nil, fmt.Errorf("loading bids for %s: %w", in.PlayerName, err)
	}

	b := &store.Bid{
		PlayerName: in.PlayerName,
		BidderID:   in.BidderID,
		BidderName: in.BidderName,
		Team:       in.Team,
		Amount:     in.Amount,
		WindowID:   in.WindowID,
		MessageID:  in.MessageID,
	}
	if in.PlayerID != "" {
		b.PlayerID = &in.PlayerID
	}
	if in.DropPlayerName != "" {
		b.DropPlayerName = &in.DropPlayerName
	}
	if err := l.bids.Upsert(ctx, b); err != nil {
		return nil, fmt.Errorf("recording bid: %w", err)
	}
	res.Bid = *b

	after, err := l.bids.ListByPlayer(ctx, in.WindowID, in.PlayerName)
	if err != nil {
		return nil, fmt.Errorf("loading bids for %s: %w", in.PlayerName, err)
	}
	if len(after) > 0 {
		res.Leader = after[0]
	}
	if len(before) > 0 {
		prev := before[0]
		if prev.BidderID != in.BidderID && res.Leader.BidderID == in.BidderID {
			res.Outbid = &prev
		}
	}

	l.recorded.Add(ctx, 1, metric.WithAttributes(attribute.String("team", in.Team)))

	evt, err := event.New(b.ID, event.BidPlaced, event.BidPlacedData{
		WindowID:   in.WindowID,
		PlayerName: in.PlayerName,
		BidderID:   in.BidderID,
		Team:       in.Team,
		DropPlayer: in.DropPlayerName,
		Amount:     in.Amount,
		MessageID:  in.MessageID,
	})
	if err == nil {
		err = l.events.Append(ctx, evt)
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to append bid placed event", slog.Any("error", err))
	}

	l.logger.InfoContext(ctx, "bid recorded",
		slog.String("window_id", in.WindowID),
		slog.String("player", in.PlayerName),
		slog.String("bidder", in.BidderName),
		slog.String("team", in.Team),
		slog.Int("amount", in.Amount),
	)
	return res, nil
}

// HighestBids returns the leading bid for every player in the window,
// largest first. Ties go to the earlier bid.
func (l *Ledger) HighestBids(ctx context.Context, windowID string) ([]store.Bid, error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.HighestBids",
		trace.WithAttributes(attribute.String("window_id", windowID)),
	)
	defer span.End()

	bids, err := l.bids.ListByWindow(ctx, windowID)
	if err != nil {
		return nil, fmt.Errorf("loading window bids: %w", err)
	}
	return highestPerPlayer(bids), nil
}

// highestPerPlayer keeps each player's top bid. bids must be ordered oldest
// first so an equal later bid never displaces the leader.
func highestPerPlayer(bids []store.Bid) []store.Bid {
	top := make(map[string]store.Bid)
	var order []string
	for _, b := range bids {
		key := strings.ToLower(b.PlayerName)
		cur, ok := top[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || b.Amount > cur.Amount {
			top[key] = b
		}
	}

	out := make([]store.Bid, 0, len(order))
	for _, k := range order {
		out = append(out, top[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Balance returns the team's remaining coins.
func (l *Ledger) Balance(ctx context.Context, team string) (int, error) {
	b, err := l.budgets.Get(ctx, team)
	if errors.Is(err, store.ErrNotFound) {
		return l.defaultBudget, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading budget for %s: %w", team, err)
	}
	return b.CoinsRemaining, nil
}

// Commitment returns the sum of the team's highest bid on each distinct
// player in the window.
func (l *Ledger) Commitment(ctx context.Context, team, windowID string) (int, error) {
	bids, err := l.bids.ListByTeam(ctx, windowID, team)
	if err != nil {
		return 0, fmt.Errorf("loading team bids: %w", err)
	}
	total := 0
	for _, b := range highestPerPlayer(bids) {
		total += b.Amount
	}
	return total, nil
}

// AutoCancelOverBudget brings the team's commitment back within its balance
// by cancelling its oldest bids first. The cancelled bids are returned so the
// bidders can be told.
func (l *Ledger) AutoCancelOverBudget(ctx context.Context, team, windowID string) ([]store.Bid, error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.AutoCancelOverBudget",
		trace.WithAttributes(
			attribute.String("team", team),
			attribute.String("window_id", windowID),
		),
	)
	defer span.End()

	balance, err := l.Balance(ctx, team)
	if err != nil {
		return nil, err
	}

	bids, err := l.bids.ListByTeam(ctx, windowID, team)
	if err != nil {
		return nil, fmt.Errorf("loading team bids: %w", err)
	}

	top := highestPerPlayer(bids)
	commitment := 0
	for _, b := range top {
		commitment += b.Amount
	}
	if commitment <= balance {
		return nil, nil
	}

	sort.SliceStable(top, func(i, j int) bool { return top[i].CreatedAt.Before(top[j].CreatedAt) })

	var cancelled []store.Bid
	for _, lead := range top {
		if commitment <= balance {
			break
		}
		// Drop every team bid on the player so a lower one cannot take over
		// the commitment.
		for _, b := range bids {
			if !strings.EqualFold(b.PlayerName, lead.PlayerName) {
				continue
			}
			if err := l.bids.Delete(ctx, b.ID); err != nil {
				return cancelled, fmt.Errorf("cancelling bid on %s: %w", b.PlayerName, err)
			}
			l.cancelledEvent(ctx, b, ReasonOverBudget)
			cancelled = append(cancelled, b)
		}
		commitment -= lead.Amount
	}

	l.logger.InfoContext(ctx, "bids auto-cancelled",
		slog.String("team", team),
		slog.String("window_id", windowID),
		slog.Int("cancelled", len(cancelled)),
		slog.Int("commitment", commitment),
		slog.Int("balance", balance),
	)
	return cancelled, nil
}

// NextHighestBidder returns the leading bid on the player from anyone but
// excludeBidder, or nil when there is none.
func (l *Ledger) NextHighestBidder(ctx context.Context, playerName, windowID, excludeBidder string) (*store.Bid, error) {
	bids, err := l.bids.ListByPlayer(ctx, windowID, playerName)
	if err != nil {
		return nil, fmt.Errorf("loading bids for %s: %w", playerName, err)
	}
	for _, b := range bids {
		if b.BidderID != excludeBidder {
			return &b, nil
		}
	}
	return nil, nil
}

func (l *Ledger) cancelledEvent(ctx context.Context, b store.Bid, reason string) {
	l.cancelled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("team", b.Team),
		attribute.String("reason", reason),
	))

	evt, err := event.New(b.ID, event.BidCancelled, event.BidCancelledData{
		WindowID:   b.WindowID,
		PlayerName: b.PlayerName,
		BidderID:   b.BidderID,
		Team:       b.Team,
		Amount:     b.Amount,
		Reason:     reason,
	})
	if err == nil {
		err = l.events.Append(ctx, evt)
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to append bid cancelled event", slog.Any("error", err))
	}
}
