package ledger_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/event"
	"github.com/jensholdgaard/discord-fa-bot/internal/ledger"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
	"github.com/jensholdgaard/discord-fa-bot/internal/store/storetest"
)

const testWindow = "2025-11-14-PM"

func newLedger(t *testing.T) (*ledger.Ledger, *store.Repositories, *clock.Mock) {
	t.Helper()
	clk := &clock.Mock{T: time.Date(2025, 11, 14, 18, 0, 0, 0, time.UTC)}
	repos := storetest.New(t, clk)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l, err := ledger.New(repos.Bids, repos.Budgets, repos.Events, 100, logger, noop.NewTracerProvider(), metricnoop.NewMeterProvider())
	if err != nil {
		t.Fatalf("ledger.New() error = %v", err)
	}
	return l, repos, clk
}

func bid(bidder, team, player string, amount int) ledger.BidInput {
	return ledger.BidInput{
		WindowID:   testWindow,
		PlayerName: player,
		BidderID:   bidder,
		BidderName: bidder,
		Team:       team,
		Amount:     amount,
	}
}

func record(t *testing.T, l *ledger.Ledger, clk *clock.Mock, in ledger.BidInput) *ledger.RecordResult {
	t.Helper()
	clk.Advance(time.Minute)
	res, err := l.RecordBid(context.Background(), in)
	if err != nil {
		t.Fatalf("RecordBid(%s on %s) error = %v", in.BidderID, in.PlayerName, err)
	}
	return res
}

func TestLedger_AutoCancelOldestFirst(t *testing.T) {
	l, repos, clk := newLedger(t)
	ctx := context.Background()

	if err := repos.Budgets.Set(ctx, "Nuggets", 100); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	record(t, l, clk, bid("kuroko4", "Nuggets", "Keldon Johnson", 101))
	record(t, l, clk, bid("kuroko4", "Nuggets", "Moses Moody", 1))
	record(t, l, clk, bid("kuroko4", "Nuggets", "Jaden Ivey", 60))

	got, err := l.Commitment(ctx, "Nuggets", testWindow)
	if err != nil {
		t.Fatalf("Commitment() error = %v", err)
	}
	if got != 162 {
		t.Fatalf("Commitment() = %d, want 162", got)
	}

	cancelled, err := l.AutoCancelOverBudget(ctx, "Nuggets", testWindow)
	if err != nil {
		t.Fatalf("AutoCancelOverBudget() error = %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].PlayerName != "Keldon Johnson" || cancelled[0].Amount != 101 {
		t.Fatalf("AutoCancelOverBudget() = %v, want only Keldon Johnson $101", cancelled)
	}

	got, err = l.Commitment(ctx, "Nuggets", testWindow)
	if err != nil {
		t.Fatalf("Commitment() error = %v", err)
	}
	if got != 61 {
		t.Errorf("Commitment() after cancel = %d, want 61", got)
	}

	again, err := l.AutoCancelOverBudget(ctx, "Nuggets", testWindow)
	if err != nil {
		t.Fatalf("AutoCancelOverBudget() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second AutoCancelOverBudget() = %v, want none", again)
	}

	events, err := repos.Events.LoadByType(ctx, event.BidCancelled)
	if err != nil {
		t.Fatalf("LoadByType() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d cancel events, want 1", len(events))
	}
}

func TestLedger_AutoCancelCountsOnlyHighestPerPlayer(t *testing.T) {
	l, repos, clk := newLedger(t)
	ctx := context.Background()

	if err := repos.Budgets.Set(ctx, "Heat", 50); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Two managers of the same team bid on the same player.
	record(t, l, clk, bid("gm1", "Heat", "Ausar Thompson", 30))
	record(t, l, clk, bid("gm2", "Heat", "Ausar Thompson", 40))
	record(t, l, clk, bid("gm1", "Heat", "Moses Moody", 10))

	got, err := l.Commitment(ctx, "Heat", testWindow)
	if err != nil {
		t.Fatalf("Commitment() error = %v", err)
	}
	if got != 50 {
		t.Fatalf("Commitment() = %d, want 50", got)
	}

	cancelled, err := l.AutoCancelOverBudget(ctx, "Heat", testWindow)
	if err != nil {
		t.Fatalf("AutoCancelOverBudget() error = %v", err)
	}
	if len(cancelled) != 0 {
		t.Fatalf("AutoCancelOverBudget() = %v, want none at exactly the budget", cancelled)
	}

	if err := repos.Budgets.Set(ctx, "Heat", 45); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	cancelled, err = l.AutoCancelOverBudget(ctx, "Heat", testWindow)
	if err != nil {
		t.Fatalf("AutoCancelOverBudget() error = %v", err)
	}
	if len(cancelled) != 2 {
		t.Fatalf("AutoCancelOverBudget() = %v, want both Thompson bids", cancelled)
	}
	for _, b := range cancelled {
		if b.PlayerName != "Ausar Thompson" {
			t.Errorf("cancelled %s, want only Ausar Thompson", b.PlayerName)
		}
	}

	got, err = l.Commitment(ctx, "Heat", testWindow)
	if err != nil {
		t.Fatalf("Commitment() error = %v", err)
	}
	if got != 10 {
		t.Errorf("Commitment() after cancel = %d, want 10", got)
	}
}

func TestLedger_AutoCancelDefaultBudget(t *testing.T) {
	l, _, clk := newLedger(t)
	ctx := context.Background()

	record(t, l, clk, bid("u1", "Suns", "A", 70))
	record(t, l, clk, bid("u1", "Suns", "B", 30))

	cancelled, err := l.AutoCancelOverBudget(ctx, "Suns", testWindow)
	if err != nil {
		t.Fatalf("AutoCancelOverBudget() error = %v", err)
	}
	if len(cancelled) != 0 {
		t.Errorf("AutoCancelOverBudget() = %v, want none within the default budget", cancelled)
	}

	record(t, l, clk, bid("u1", "Suns", "C", 1))
	cancelled, err = l.AutoCancelOverBudget(ctx, "Suns", testWindow)
	if err != nil {
		t.Fatalf("AutoCancelOverBudget() error = %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].PlayerName != "A" {
		t.Errorf("AutoCancelOverBudget() = %v, want A", cancelled)
	}
}

func TestLedger_RecordBidUpdatesInPlace(t *testing.T) {
	l, repos, clk := newLedger(t)
	ctx := context.Background()

	first := record(t, l, clk, bid("u1", "Jazz", "Keldon Johnson", 5))
	second := record(t, l, clk, bid("u1", "Jazz", "Keldon Johnson", 9))

	if second.Bid.ID != first.Bid.ID {
		t.Errorf("rebid created a new row: %s != %s", second.Bid.ID, first.Bid.ID)
	}
	if second.Outbid != nil {
		t.Errorf("raising your own bid reported Outbid = %+v", second.Outbid)
	}

	bids, err := repos.Bids.ListByWindow(ctx, testWindow)
	if err != nil {
		t.Fatalf("ListByWindow() error = %v", err)
	}
	if len(bids) != 1 || bids[0].Amount != 9 {
		t.Errorf("ledger = %v, want one bid of 9", bids)
	}
}

func TestLedger_RecordBidOutbid(t *testing.T) {
	tests := []struct {
		name       string
		first      int
		second     int
		wantOutbid bool
		wantLeader string
	}{
		{name: "higher bid overtakes", first: 10, second: 15, wantOutbid: true, wantLeader: "u2"},
		{name: "equal bid keeps earlier leader", first: 10, second: 10, wantOutbid: false, wantLeader: "u1"},
		{name: "lower bid changes nothing", first: 10, second: 3, wantOutbid: false, wantLeader: "u1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, clk := newLedger(t)

			record(t, l, clk, bid("u1", "Jazz", "Jaden Ivey", tt.first))
			res := record(t, l, clk, bid("u2", "Kings", "Jaden Ivey", tt.second))

			if (res.Outbid != nil) != tt.wantOutbid {
				t.Fatalf("Outbid = %+v, want outbid %v", res.Outbid, tt.wantOutbid)
			}
			if tt.wantOutbid && (res.Outbid.BidderID != "u1" || res.Outbid.Amount != tt.first) {
				t.Errorf("Outbid = %+v, want u1 at %d", res.Outbid, tt.first)
			}
			if res.Leader.BidderID != tt.wantLeader {
				t.Errorf("Leader = %s, want %s", res.Leader.BidderID, tt.wantLeader)
			}
		})
	}
}

func TestLedger_RecordBidSupersedesSameDrop(t *testing.T) {
	l, repos, clk := newLedger(t)
	ctx := context.Background()

	in := bid("u1", "Hawks", "Moses Moody", 4)
	in.DropPlayerName = "Garrison Mathews"
	record(t, l, clk, in)

	in = bid("u1", "Hawks", "Jaden Ivey", 6)
	in.DropPlayerName = "garrison mathews"
	res := record(t, l, clk, in)

	if len(res.Superseded) != 1 || res.Superseded[0].PlayerName != "Moses Moody" {
		t.Fatalf("Superseded = %v, want the Moody bid", res.Superseded)
	}

	bids, err := repos.Bids.ListByWindow(ctx, testWindow)
	if err != nil {
		t.Fatalf("ListByWindow() error = %v", err)
	}
	if len(bids) != 1 || bids[0].PlayerName != "Jaden Ivey" {
		t.Errorf("ledger = %v, want only the Ivey bid", bids)
	}
}

func TestLedger_RecordBidValidation(t *testing.T) {
	l, _, _ := newLedger(t)

	tests := []struct {
		name string
		in   ledger.BidInput
	}{
		{"missing team", ledger.BidInput{WindowID: testWindow, PlayerName: "A", BidderID: "u1", Amount: 1}},
		{"missing player", ledger.BidInput{WindowID: testWindow, BidderID: "u1", Team: "Jazz", Amount: 1}},
		{"negative amount", ledger.BidInput{WindowID: testWindow, PlayerName: "A", BidderID: "u1", Team: "Jazz", Amount: -1}},
		{"missing window", ledger.BidInput{PlayerName: "A", BidderID: "u1", Team: "Jazz", Amount: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.RecordBid(context.Background(), tt.in); err == nil {
				t.Error("RecordBid() expected error")
			}
		})
	}
}

func TestLedger_HighestBidsAndNextHighest(t *testing.T) {
	l, _, clk := newLedger(t)
	ctx := context.Background()

	record(t, l, clk, bid("u1", "Jazz", "Jaden Ivey", 12))
	record(t, l, clk, bid("u2", "Kings", "Jaden Ivey", 20))
	record(t, l, clk, bid("u3", "Heat", "Jaden Ivey", 20))
	record(t, l, clk, bid("u1", "Jazz", "Moses Moody", 3))

	top, err := l.HighestBids(ctx, testWindow)
	if err != nil {
		t.Fatalf("HighestBids() error = %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("HighestBids() returned %d bids, want 2", len(top))
	}
	if top[0].PlayerName != "Jaden Ivey" || top[0].BidderID != "u2" {
		t.Errorf("top[0] = %s by %s, want Jaden Ivey by u2", top[0].PlayerName, top[0].BidderID)
	}
	if top[1].PlayerName != "Moses Moody" {
		t.Errorf("top[1] = %s, want Moses Moody", top[1].PlayerName)
	}

	next, err := l.NextHighestBidder(ctx, "Jaden Ivey", testWindow, "u2")
	if err != nil {
		t.Fatalf("NextHighestBidder() error = %v", err)
	}
	if next == nil || next.BidderID != "u3" {
		t.Errorf("NextHighestBidder() = %+v, want u3", next)
	}

	none, err := l.NextHighestBidder(ctx, "Moses Moody", testWindow, "u1")
	if err != nil {
		t.Fatalf("NextHighestBidder() error = %v", err)
	}
	if none != nil {
		t.Errorf("NextHighestBidder() = %+v, want nil", none)
	}
}

func TestLedger_Balance(t *testing.T) {
	l, repos, _ := newLedger(t)
	ctx := context.Background()

	got, err := l.Balance(ctx, "Pistons")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if got != 100 {
		t.Errorf("Balance() without budget row = %d, want 100", got)
	}

	if err := repos.Budgets.Set(ctx, "Pistons", 42); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err = l.Balance(ctx, "Pistons")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if got != 42 {
		t.Errorf("Balance() = %d, want 42", got)
	}
}
