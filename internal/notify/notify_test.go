package notify_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/notify"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

var (
	testTP     = noop.NewTracerProvider()
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type sent struct {
	to      string
	content string
}

// mockSender implements notify.Sender for testing.
type mockSender struct {
	dms     []sent
	posts   []sent
	deleted []string
	next    int
	dmErr   error
	postErr error
	delErr  error
}

func (m *mockSender) SendDM(_ context.Context, userID, content string) error {
	if m.dmErr != nil {
		return m.dmErr
	}
	m.dms = append(m.dms, sent{userID, content})
	return nil
}

func (m *mockSender) Post(_ context.Context, channelID, content string) (string, error) {
	if m.postErr != nil {
		return "", m.postErr
	}
	m.posts = append(m.posts, sent{channelID, content})
	m.next++
	return fmt.Sprintf("msg-%d", m.next), nil
}

func (m *mockSender) Delete(_ context.Context, _ string, messageID string) error {
	if m.delErr != nil {
		return m.delErr
	}
	m.deleted = append(m.deleted, messageID)
	return nil
}

// mockStandings implements notify.Standings for testing.
type mockStandings struct {
	bids       []store.Bid
	commitment map[string]int
	balance    map[string]int
}

func (m *mockStandings) HighestBids(context.Context, string) ([]store.Bid, error) {
	return m.bids, nil
}

func (m *mockStandings) Commitment(_ context.Context, team, _ string) (int, error) {
	return m.commitment[team], nil
}

func (m *mockStandings) Balance(_ context.Context, team string) (int, error) {
	return m.balance[team], nil
}

func TestOutbid_Notify(t *testing.T) {
	sender := &mockSender{}
	o := notify.NewOutbid(sender, testLogger, testTP)

	o.Notify(context.Background(), notify.OutbidNotice{
		Previous:       store.Bid{PlayerName: "Jaden Ivey", BidderID: "u1", BidderName: "kuroko4", Team: "Nuggets", Amount: 10},
		Leader:         store.Bid{PlayerName: "Jaden Ivey", BidderID: "u2", BidderName: "dray", Team: "Kings", Amount: 15},
		CoinsRemaining: 61,
	})

	if len(sender.dms) != 1 {
		t.Fatalf("sent %d DMs, want 1", len(sender.dms))
	}
	dm := sender.dms[0]
	if dm.to != "u1" {
		t.Errorf("DM sent to %s, want u1", dm.to)
	}
	for _, want := range []string{"Jaden Ivey", "$10", "$15", "dray (Kings)", "$61", "Sign Jaden Ivey"} {
		if !strings.Contains(dm.content, want) {
			t.Errorf("DM missing %q:\n%s", want, dm.content)
		}
	}
}

func TestOutbid_NotifyCancelled(t *testing.T) {
	tests := []struct {
		name string
		next *store.Bid
		want string
	}{
		{
			name: "with next leader",
			next: &store.Bid{BidderName: "dray", Team: "Kings", Amount: 40},
			want: "dray (Kings) at $40",
		},
		{
			name: "no bids left",
			want: "No other bids remain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockSender{}
			o := notify.NewOutbid(sender, testLogger, testTP)

			o.NotifyCancelled(context.Background(),
				store.Bid{PlayerName: "Keldon Johnson", BidderID: "u1", Team: "Nuggets", Amount: 101},
				tt.next,
			)

			if len(sender.dms) != 1 {
				t.Fatalf("sent %d DMs, want 1", len(sender.dms))
			}
			if !strings.Contains(sender.dms[0].content, tt.want) {
				t.Errorf("DM missing %q:\n%s", tt.want, sender.dms[0].content)
			}
			if !strings.Contains(sender.dms[0].content, "$101 bid on **Keldon Johnson**") {
				t.Errorf("DM does not name the cancelled bid:\n%s", sender.dms[0].content)
			}
		})
	}
}

func TestOutbid_SendFailureIsSwallowed(t *testing.T) {
	sender := &mockSender{dmErr: errors.New("cannot send messages to this user")}
	o := notify.NewOutbid(sender, testLogger, testTP)

	// Must not panic or block.
	o.NotifyCancelled(context.Background(), store.Bid{PlayerName: "A", BidderID: "u1"}, nil)
}

func TestBroadcaster_PublishReplacesPreviousStatus(t *testing.T) {
	sender := &mockSender{}
	standings := &mockStandings{
		bids: []store.Bid{
			{PlayerName: "Jaden Ivey", BidderName: "dray", Team: "Kings", Amount: 20},
			{PlayerName: "Moses Moody", BidderName: "kuroko4", Team: "Nuggets", Amount: 3},
		},
		commitment: map[string]int{"Kings": 20, "Nuggets": 64},
		balance:    map[string]int{"Kings": 80, "Nuggets": 100},
	}
	clk := &clock.Mock{T: time.Date(2025, 11, 14, 18, 0, 0, 0, time.UTC)}
	b := notify.NewBroadcaster(sender, standings, "fa-channel", clk, time.UTC, testLogger, testTP)
	ctx := context.Background()

	if err := b.Publish(ctx, "2025-11-14-PM"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := b.Publish(ctx, "2025-11-14-PM"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(sender.posts) != 2 {
		t.Fatalf("posted %d messages, want 2", len(sender.posts))
	}
	if len(sender.deleted) != 1 || sender.deleted[0] != "msg-1" {
		t.Errorf("deleted = %v, want [msg-1]", sender.deleted)
	}

	status := sender.posts[1].content
	for _, want := range []string{"2025-11-14-PM", "Jaden Ivey", "dray (Kings)", "Nuggets: $64 of $100", "6:00 PM UTC"} {
		if !strings.Contains(status, want) {
			t.Errorf("status missing %q:\n%s", want, status)
		}
	}
}

func TestBroadcaster_DeleteFailureStillPosts(t *testing.T) {
	sender := &mockSender{}
	clk := &clock.Mock{T: time.Date(2025, 11, 14, 18, 0, 0, 0, time.UTC)}
	b := notify.NewBroadcaster(sender, &mockStandings{}, "fa-channel", clk, time.UTC, testLogger, testTP)
	ctx := context.Background()

	if err := b.Publish(ctx, "w"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	sender.delErr = errors.New("unknown message")
	if err := b.Publish(ctx, "w"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(sender.posts) != 2 {
		t.Errorf("posted %d messages, want 2", len(sender.posts))
	}
	if !strings.Contains(sender.posts[1].content, "No active bids") {
		t.Errorf("empty window status = %q", sender.posts[1].content)
	}
}

func TestBroadcaster_PublishSettlement(t *testing.T) {
	sender := &mockSender{}
	clk := &clock.Mock{T: time.Now()}
	b := notify.NewBroadcaster(sender, &mockStandings{}, "fa-channel", clk, time.UTC, testLogger, testTP)

	if err := b.PublishSettlement(context.Background(), "batch-1: 3 succeeded, 0 failed"); err != nil {
		t.Fatalf("PublishSettlement() error = %v", err)
	}
	if len(sender.posts) != 1 || sender.posts[0].to != "fa-channel" {
		t.Errorf("posts = %v", sender.posts)
	}

	sender.postErr = errors.New("missing access")
	if err := b.PublishSettlement(context.Background(), "x"); err == nil {
		t.Error("PublishSettlement() expected error")
	}
}
