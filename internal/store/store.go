package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

// FreeAgentTeam is the team a released player is moved to.
const FreeAgentTeam = "Free Agents"

// FreeAgentTeams lists the lower-cased team values that denote the
// free-agent pool. The roster sheet uses both spellings.
var FreeAgentTeams = []string{"", "free agent", "free agents"}

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientCoins is returned when a team cannot afford a signing.
	ErrInsufficientCoins = errors.New("insufficient coins")
	// ErrNotFreeAgent is returned when the signed player already has a team.
	ErrNotFreeAgent = errors.New("player is not a free agent")
	// ErrNotOnRoster is returned when the dropped player is not on the team.
	ErrNotOnRoster = errors.New("player is not on the team roster")
	// ErrAlreadyRolledBack is returned when a transaction was already reverted.
	ErrAlreadyRolledBack = errors.New("transaction already rolled back")
)

// Player is a league roster entry.
type Player struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Team      *string   `db:"team"`
	Overall   int       `db:"overall"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// TeamName returns the player's team or "" for unassigned players.
func (p Player) TeamName() string {
	if p.Team == nil {
		return ""
	}
	return *p.Team
}

// IsFreeAgent reports whether the player can be signed.
func (p Player) IsFreeAgent() bool {
	return IsFreeAgentTeam(p.TeamName())
}

// IsFreeAgentTeam reports whether team denotes the free-agent pool.
func IsFreeAgentTeam(team string) bool {
	return slices.Contains(FreeAgentTeams, strings.ToLower(strings.TrimSpace(team)))
}

// Bid is one bidder's offer for a player within a window. A bidder holds at
// most one bid per player per window.
type Bid struct {
	ID             string    `db:"id"`
	PlayerName     string    `db:"player_name"`
	PlayerID       *string   `db:"player_id"`
	BidderID       string    `db:"bidder_id"`
	BidderName     string    `db:"bidder_name"`
	Team           string    `db:"team"`
	DropPlayerName *string   `db:"drop_player_name"`
	Amount         int       `db:"amount"`
	WindowID       string    `db:"window_id"`
	MessageID      string    `db:"message_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// DropName returns the dropped player name or "".
func (b Bid) DropName() string {
	if b.DropPlayerName == nil {
		return ""
	}
	return *b.DropPlayerName
}

// BidWindow records the lifecycle of an auction window.
type BidWindow struct {
	WindowID  string    `db:"window_id"`
	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`
	Status    string    `db:"status"` // "active", "locked", "closed"
	UpdatedAt time.Time `db:"updated_at"`
}

// TeamBudget is a team's spendable coin balance.
type TeamBudget struct {
	Team           string    `db:"team"`
	CoinsRemaining int       `db:"coins_remaining"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// TeamAssignment maps a chat identity to the team it manages.
type TeamAssignment struct {
	DiscordUserID string    `db:"discord_user_id"`
	Team          string    `db:"team"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Transaction is the durable record of a settled bid.
type Transaction struct {
	ID                  string     `db:"id"`
	Team                string     `db:"team"`
	DropPlayerName      *string    `db:"drop_player_name"`
	DropPlayerID        *string    `db:"drop_player_id"`
	SignPlayerName      string     `db:"sign_player_name"`
	SignPlayerID        *string    `db:"sign_player_id"`
	SignPlayerOverall   int        `db:"sign_player_overall"`
	BidAmount           int        `db:"bid_amount"`
	CoinsRemainingAfter int        `db:"coins_remaining_after"`
	BatchID             string     `db:"batch_id"`
	PreviousTeam        *string    `db:"previous_team"`
	WindowID            string     `db:"window_id"`
	ProcessedBy         string     `db:"processed_by"`
	RolledBack          bool       `db:"rolled_back"`
	RolledBackAt        *time.Time `db:"rolled_back_at"`
	RolledBackBy        *string    `db:"rolled_back_by"`
	CreatedAt           time.Time  `db:"created_at"`
}

// PlayerAlias maps a lower-cased alternate spelling to a canonical name.
type PlayerAlias struct {
	Alias         string `db:"alias" yaml:"alias"`
	CanonicalName string `db:"canonical_name" yaml:"canonical_name"`
}

// Signing describes one roster move applied at settlement.
type Signing struct {
	BatchID      string
	WindowID     string
	Team         string
	SignPlayerID string
	// DropPlayerID is empty when no player is released.
	DropPlayerID string
	Amount       int
	// OpeningBudget seeds the team's balance when it has no budget row yet.
	OpeningBudget int
	ProcessedBy   string
}

// PlayerRepository defines roster persistence operations.
type PlayerRepository interface {
	Create(ctx context.Context, p *Player) error
	GetByName(ctx context.Context, name string) (*Player, error)
	List(ctx context.Context) ([]Player, error)
	ListByTeam(ctx context.Context, team string) ([]Player, error)
}

// BidRepository defines bid ledger persistence operations.
type BidRepository interface {
	// Upsert inserts the bid or updates the existing row for the same
	// player, bidder and window.
	Upsert(ctx context.Context, b *Bid) error
	// DeleteSameDrop removes the other bids of the bidder or its team in the
	// window that release the same player, returning the removed rows. The
	// bidder's own bid on keepPlayer is left alone.
	DeleteSameDrop(ctx context.Context, windowID, bidderID, team, dropName, keepPlayer string) ([]Bid, error)
	// ListByPlayer returns the player's bids ordered by amount descending,
	// earliest first among equal amounts.
	ListByPlayer(ctx context.Context, windowID, playerName string) ([]Bid, error)
	// ListByTeam returns the team's bids ordered oldest first.
	ListByTeam(ctx context.Context, windowID, team string) ([]Bid, error)
	// ListByWindow returns every bid in the window ordered oldest first.
	ListByWindow(ctx context.Context, windowID string) ([]Bid, error)
	Delete(ctx context.Context, id string) error
}

// WindowRepository defines auction window persistence operations.
type WindowRepository interface {
	// Ensure inserts the window as active unless it already exists.
	Ensure(ctx context.Context, w *BidWindow) error
	Get(ctx context.Context, windowID string) (*BidWindow, error)
	// Advance moves the window to status if that is a forward transition.
	Advance(ctx context.Context, windowID, status string) error
	// ListUnsettled returns windows that are not yet closed, oldest first.
	ListUnsettled(ctx context.Context) ([]BidWindow, error)
}

// BudgetRepository defines team coin balance operations.
type BudgetRepository interface {
	Get(ctx context.Context, team string) (*TeamBudget, error)
	Set(ctx context.Context, team string, coins int) error
	List(ctx context.Context) ([]TeamBudget, error)
}

// TeamAssignmentRepository maps chat identities to teams.
type TeamAssignmentRepository interface {
	Get(ctx context.Context, discordUserID string) (*TeamAssignment, error)
	Set(ctx context.Context, discordUserID, team string) error
}

// TransactionRepository reads the settlement ledger.
type TransactionRepository interface {
	// ListByBatch returns the batch's transactions that are not rolled back.
	ListByBatch(ctx context.Context, batchID string) ([]Transaction, error)
	ListByWindow(ctx context.Context, windowID string) ([]Transaction, error)
	// SettledPlayers returns the lower-cased names of players with a live
	// transaction in the window.
	SettledPlayers(ctx context.Context, windowID string) (map[string]bool, error)
}

// SettlementStore applies and reverts roster moves atomically.
type SettlementStore interface {
	// ApplySigning moves the players, debits the team and appends the
	// transaction in one database transaction.
	ApplySigning(ctx context.Context, s Signing) (*Transaction, error)
	// RevertTransaction restores the previous team, refunds the coins and
	// flags the transaction as rolled back in one database transaction.
	RevertTransaction(ctx context.Context, id, actor string) (*Transaction, error)
}

// AliasRepository stores the player alias table.
type AliasRepository interface {
	List(ctx context.Context) ([]PlayerAlias, error)
	Upsert(ctx context.Context, aliases ...PlayerAlias) error
}
