// Package event defines the append-only audit trail written by the ledger and
// the settlement engine.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	BidPlaced    Type = "bid.placed"
	BidCancelled Type = "bid.cancelled"

	SigningApplied Type = "settlement.signing_applied"
	SigningFailed  Type = "settlement.signing_failed"
	BatchSettled   Type = "settlement.batch_settled"

	TransactionRolledBack Type = "rollback.transaction_reverted"
)

// Event represents a single audit event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// New marshals data into an event for the aggregate.
func New(aggregateID string, t Type, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshalling %s payload: %w", t, err)
	}
	return Event{AggregateID: aggregateID, Type: t, Data: raw}, nil
}

// Store is the audit log. Events are never updated or deleted.
type Store interface {
	// Append writes events in one transaction.
	Append(ctx context.Context, events ...Event) error
	// Load returns the events of one bid, window or batch, oldest first.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// LoadByType returns every event of type t, oldest first.
	LoadByType(ctx context.Context, t Type) ([]Event, error)
}

// BidPlacedData is the payload for BidPlaced events.
type BidPlacedData struct {
	WindowID   string `json:"window_id"`
	PlayerName string `json:"player_name"`
	BidderID   string `json:"bidder_id"`
	Team       string `json:"team"`
	DropPlayer string `json:"drop_player,omitempty"`
	Amount     int    `json:"amount"`
	MessageID  string `json:"message_id,omitempty"`
}

// BidCancelledData is the payload for BidCancelled events.
type BidCancelledData struct {
	WindowID   string `json:"window_id"`
	PlayerName string `json:"player_name"`
	BidderID   string `json:"bidder_id"`
	Team       string `json:"team"`
	Amount     int    `json:"amount"`
	Reason     string `json:"reason"`
}

// SigningData is the payload for SigningApplied and SigningFailed events.
type SigningData struct {
	BatchID       string `json:"batch_id"`
	WindowID      string `json:"window_id"`
	Team          string `json:"team"`
	SignPlayer    string `json:"sign_player"`
	DropPlayer    string `json:"drop_player,omitempty"`
	Amount        int    `json:"amount"`
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// BatchSettledData is the payload for BatchSettled events.
type BatchSettledData struct {
	WindowID  string `json:"window_id"`
	Trigger   string `json:"trigger"`
	Actor     string `json:"actor"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// RolledBackData is the payload for TransactionRolledBack events.
type RolledBackData struct {
	TransactionID string `json:"transaction_id"`
	Team          string `json:"team"`
	SignPlayer    string `json:"sign_player"`
	PreviousTeam  string `json:"previous_team,omitempty"`
	Refund        int    `json:"refund"`
	Actor         string `json:"actor"`
}
