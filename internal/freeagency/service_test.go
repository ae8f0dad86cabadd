package freeagency_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/freeagency"
	"github.com/jensholdgaard/discord-fa-bot/internal/ledger"
	"github.com/jensholdgaard/discord-fa-bot/internal/notify"
	"github.com/jensholdgaard/discord-fa-bot/internal/resolve"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
	"github.com/jensholdgaard/discord-fa-bot/internal/store/storetest"
	"github.com/jensholdgaard/discord-fa-bot/internal/window"
)

const (
	faChannel  = "fa-channel"
	testWindow = "2025-11-14-PM"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type cancelNotice struct {
	bid  store.Bid
	next *store.Bid
}

// mockNotifier implements freeagency.Notifier for testing.
type mockNotifier struct {
	outbid    []notify.OutbidNotice
	cancelled []cancelNotice
}

func (m *mockNotifier) Notify(_ context.Context, n notify.OutbidNotice) {
	m.outbid = append(m.outbid, n)
}

func (m *mockNotifier) NotifyCancelled(_ context.Context, b store.Bid, next *store.Bid) {
	m.cancelled = append(m.cancelled, cancelNotice{bid: b, next: next})
}

// failingAssignments implements store.TeamAssignmentRepository for testing.
type failingAssignments struct{}

func (failingAssignments) Get(context.Context, string) (*store.TeamAssignment, error) {
	return nil, errors.New("connection refused")
}

func (failingAssignments) Set(context.Context, string, string) error { return nil }

type fixture struct {
	svc      *freeagency.Service
	repos    *store.Repositories
	ledger   *ledger.Ledger
	notifier *mockNotifier
	clock    *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := &clock.Mock{T: time.Date(2025, 11, 14, 18, 0, 0, 0, time.UTC)}
	repos := storetest.New(t, clk)

	storetest.SeedPlayer(t, repos, "Jamal Murray", "Nuggets", 86)
	storetest.SeedPlayer(t, repos, "Zeke Nnaji", "Nuggets", 71)
	storetest.SeedPlayer(t, repos, "Keldon Johnson", "", 78)
	storetest.SeedPlayer(t, repos, "Moses Moody", "", 74)
	storetest.SeedPlayer(t, repos, "Jaden Ivey", store.FreeAgentTeam, 76)

	for user, team := range map[string]string{"kuroko4": "nuggets", "dray": "Kings", "rogue": "Sonics"} {
		if err := repos.Assignments.Set(ctx, user, team); err != nil {
			t.Fatalf("Assignments.Set() error = %v", err)
		}
	}

	tp := noop.NewTracerProvider()
	mp := metricnoop.NewMeterProvider()
	l, err := ledger.New(repos.Bids, repos.Budgets, repos.Events, 100, testLogger, tp, mp)
	if err != nil {
		t.Fatalf("ledger.New() error = %v", err)
	}
	resolver := resolve.New(repos.Players, repos.Aliases, testLogger, tp)
	notifier := &mockNotifier{}

	svc, err := freeagency.New(faChannel, []string{"Nuggets", "Kings"}, repos.Assignments, resolver, l, notifier,
		window.NewSchedule(time.UTC, 10*time.Minute), clk, testLogger, tp, mp)
	if err != nil {
		t.Fatalf("freeagency.New() error = %v", err)
	}
	return &fixture{svc: svc, repos: repos, ledger: l, notifier: notifier, clock: clk}
}

func (f *fixture) send(t *testing.T, author, content string) freeagency.Reply {
	t.Helper()
	f.clock.Advance(time.Minute)
	reply, err := f.svc.HandleMessage(context.Background(), freeagency.Message{
		ID:         "m-" + content,
		ChannelID:  faChannel,
		AuthorID:   author,
		AuthorName: author,
		Content:    content,
	})
	if err != nil {
		t.Fatalf("HandleMessage(%q) error = %v", content, err)
	}
	return reply
}

func TestService_HandleMessage(t *testing.T) {
	tests := []struct {
		name     string
		author   string
		content  string
		handled  bool
		accepted bool
		text     string
	}{
		{
			name:    "chatter is ignored",
			author:  "kuroko4",
			content: "anyone watching the game tonight?",
		},
		{
			name:     "bid accepted",
			author:   "kuroko4",
			content:  "Cut Zeke Nnaji. Sign keldon jonson. Bid 12",
			handled:  true,
			accepted: true,
			text:     freeagency.ReplyAccepted,
		},
		{
			name:    "unassigned bidder",
			author:  "stranger",
			content: "Sign Moses Moody bid 3",
			handled: true,
			text:    freeagency.ReplyNotAssigned,
		},
		{
			name:    "team outside the league",
			author:  "rogue",
			content: "Sign Moses Moody bid 3",
			handled: true,
			text:    "Invalid team assignment: Sonics",
		},
		{
			name:    "unknown player",
			author:  "dray",
			content: "Sign Zzyzx Qwerty bid 3",
			handled: true,
			text:    `Player "Zzyzx Qwerty" not found`,
		},
		{
			name:    "signed player is not a free agent",
			author:  "dray",
			content: "Sign Jamal Murray bid 3",
			handled: true,
			text:    `Player "Jamal Murray" not found`,
		},
		{
			name:    "amount too large",
			author:  "kuroko4",
			content: "Sign Moses Moody bid 99999999999999999999",
			handled: true,
			text:    freeagency.ReplyTooLarge,
		},
		{
			name:    "drop player not on roster",
			author:  "dray",
			content: "Cut Jamal Murray sign Moses Moody bid 3",
			handled: true,
			text:    "is not on the Kings roster",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			reply := f.send(t, tt.author, tt.content)

			if reply.Handled != tt.handled || reply.Accepted != tt.accepted {
				t.Errorf("reply = %+v, want handled=%v accepted=%v", reply, tt.handled, tt.accepted)
			}
			if !strings.Contains(reply.Text, tt.text) {
				t.Errorf("reply text = %q, want it to contain %q", reply.Text, tt.text)
			}

			bids, err := f.repos.Bids.ListByWindow(context.Background(), testWindow)
			if err != nil {
				t.Fatalf("ListByWindow() error = %v", err)
			}
			if tt.accepted != (len(bids) == 1) {
				t.Errorf("bids recorded = %d, accepted = %v", len(bids), tt.accepted)
			}
		})
	}
}

func TestService_RecordsCanonicalNames(t *testing.T) {
	f := newFixture(t)
	f.send(t, "kuroko4", "Cut zeke nnaji. Sign keldon jonson. Bid 12")

	bids, err := f.repos.Bids.ListByWindow(context.Background(), testWindow)
	if err != nil {
		t.Fatalf("ListByWindow() error = %v", err)
	}
	if len(bids) != 1 {
		t.Fatalf("bids = %d, want 1", len(bids))
	}
	b := bids[0]
	if b.PlayerName != "Keldon Johnson" || b.DropName() != "Zeke Nnaji" || b.Team != "Nuggets" || b.Amount != 12 {
		t.Errorf("bid = %+v", b)
	}
	if b.MessageID == "" {
		t.Error("bid has no message id")
	}
}

func TestService_IgnoresOtherChannels(t *testing.T) {
	f := newFixture(t)

	reply, err := f.svc.HandleMessage(context.Background(), freeagency.Message{
		ID: "m1", ChannelID: "general", AuthorID: "kuroko4", Content: "Sign Moses Moody bid 3",
	})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply.Handled {
		t.Errorf("reply = %+v, want unhandled", reply)
	}
}

func TestService_LockedWindow(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2025, 11, 14, 23, 52, 0, 0, time.UTC))

	reply := f.send(t, "kuroko4", "Sign Moses Moody bid 3")
	if reply.Accepted || !strings.Contains(reply.Text, "locked") {
		t.Errorf("reply = %+v, want locked rejection", reply)
	}
}

func TestService_OutbidNotice(t *testing.T) {
	f := newFixture(t)

	f.send(t, "kuroko4", "Sign Moses Moody bid 5")
	if len(f.notifier.outbid) != 0 {
		t.Fatalf("outbid notices after first bid = %d, want 0", len(f.notifier.outbid))
	}

	f.send(t, "dray", "Sign Moses Moody bid 8")
	if len(f.notifier.outbid) != 1 {
		t.Fatalf("outbid notices = %d, want 1", len(f.notifier.outbid))
	}
	n := f.notifier.outbid[0]
	if n.Previous.BidderID != "kuroko4" || n.Leader.BidderID != "dray" || n.Leader.Amount != 8 || n.CoinsRemaining != 100 {
		t.Errorf("notice = %+v", n)
	}

	// Raising your own lead notifies nobody.
	f.send(t, "dray", "Sign Moses Moody bid 9")
	if len(f.notifier.outbid) != 1 {
		t.Errorf("outbid notices = %d, want 1", len(f.notifier.outbid))
	}
}

func TestService_AutoCancelOverBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, msg := range []string{
		"Sign Keldon Johnson bid 101",
		"Sign Moses Moody bid 1",
		"Sign Jaden Ivey bid 60",
	} {
		if r := f.send(t, "kuroko4", msg); !r.Accepted {
			t.Fatalf("%q reply = %+v, want accepted", msg, r)
		}
	}

	if len(f.notifier.cancelled) != 1 {
		t.Fatalf("cancel notices = %d, want 1", len(f.notifier.cancelled))
	}
	c := f.notifier.cancelled[0]
	if c.bid.PlayerName != "Keldon Johnson" || c.bid.Amount != 101 || c.next != nil {
		t.Errorf("cancel notice = %+v", c)
	}

	got, err := f.ledger.Commitment(ctx, "Nuggets", testWindow)
	if err != nil {
		t.Fatalf("Commitment() error = %v", err)
	}
	if got != 61 {
		t.Errorf("Commitment() = %d, want 61", got)
	}
}

func TestService_StoreFailure(t *testing.T) {
	clk := &clock.Mock{T: time.Date(2025, 11, 14, 18, 0, 0, 0, time.UTC)}
	tp := noop.NewTracerProvider()
	svc, err := freeagency.New("", []string{"Nuggets"}, failingAssignments{}, nil, nil, &mockNotifier{},
		window.NewSchedule(time.UTC, 0), clk, testLogger, tp, metricnoop.NewMeterProvider())
	if err != nil {
		t.Fatalf("freeagency.New() error = %v", err)
	}

	reply, err := svc.HandleMessage(context.Background(), freeagency.Message{
		ID: "m1", AuthorID: "kuroko4", Content: "Sign Moses Moody bid 3",
	})
	if err == nil {
		t.Fatal("HandleMessage() expected error")
	}
	if reply.Text != freeagency.ReplyFailed {
		t.Errorf("reply text = %q, want %q", reply.Text, freeagency.ReplyFailed)
	}
}
