// Package settlement turns the winning bids of a locked window into roster
// transactions and can undo a batch of them.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-fa-bot/internal/event"
	"github.com/jensholdgaard/discord-fa-bot/internal/resolve"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
	"github.com/jensholdgaard/discord-fa-bot/internal/window"
)

var (
	// ErrUnknownTeam is returned for bids naming a team outside the league.
	ErrUnknownTeam = errors.New("unknown team")
	// ErrPlayerNotFound is returned when the signed player is not a free agent
	// the resolver can find.
	ErrPlayerNotFound = errors.New("player not found among free agents")
	// ErrDropNotFound is returned when the released player is not on the
	// team's roster.
	ErrDropNotFound = errors.New("drop player not found on roster")
	// ErrZeroCoinCap is returned when a team without coins bids on a player
	// rated above the zero-coin limit.
	ErrZeroCoinCap = errors.New("teams with 0 coins cannot sign this player")
	// ErrOverCap is returned when a team over the cap bids on a player rated
	// above the over-cap limit.
	ErrOverCap = errors.New("teams over the cap cannot sign this player")
)

// Standings is the part of the bid ledger settlement reads.
type Standings interface {
	HighestBids(ctx context.Context, windowID string) ([]store.Bid, error)
}

// PlayerResolver looks up players by free-text name.
type PlayerResolver interface {
	Resolve(ctx context.Context, name string, opts resolve.Options) (*resolve.Match, error)
}

// CapRefresher is told after a batch changed at least one roster.
type CapRefresher interface {
	RefreshCaps(ctx context.Context, report *Report) error
}

// CapRefresherFunc adapts a function to CapRefresher.
type CapRefresherFunc func(ctx context.Context, report *Report) error

// RefreshCaps calls f.
func (f CapRefresherFunc) RefreshCaps(ctx context.Context, report *Report) error {
	return f(ctx, report)
}

// Rules are the league settings settlement enforces.
type Rules struct {
	Teams         []string
	DefaultBudget int
	RosterLimit   int
	// ZeroCoinMaxOverall is the highest rating a team without coins may sign.
	ZeroCoinMaxOverall int
	// OverCapTotalOverall is the roster overall sum above which a team may
	// only sign players rated OverCapMaxOverall or lower. Zero disables it.
	OverCapTotalOverall int
	OverCapMaxOverall   int
	// Retries bounds store retries per item.
	Retries uint64
	// RetryInterval is the first backoff interval. Zero means the backoff
	// package default.
	RetryInterval time.Duration
}

// Request starts a settlement run.
type Request struct {
	WindowID string
	// Trigger identifies what started the run and keys the duplicate guard.
	Trigger string
	Actor   string
}

// Engine settles windows and rolls batches back.
type Engine struct {
	standings    Standings
	resolver     PlayerResolver
	players      store.PlayerRepository
	budgets      store.BudgetRepository
	windows      store.WindowRepository
	transactions store.TransactionRepository
	settlement   store.SettlementStore
	events       event.Store
	schedule     *window.Schedule
	guard        *Guard
	refresher    CapRefresher
	rules        Rules
	teams        map[string]string
	logger       *slog.Logger
	tracer       trace.Tracer
	items        metric.Int64Counter
	reverted     metric.Int64Counter
}

// New returns an Engine. refresher may be nil.
func New(
	repos *store.Repositories,
	standings Standings,
	resolver PlayerResolver,
	schedule *window.Schedule,
	guard *Guard,
	refresher CapRefresher,
	rules Rules,
	logger *slog.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*Engine, error) {
	meter := mp.Meter("github.com/jensholdgaard/discord-fa-bot/internal/settlement")
	items, err := meter.Int64Counter("fa.settlement.items",
		metric.WithDescription("Settlement items processed, by result."))
	if err != nil {
		return nil, fmt.Errorf("creating settlement counter: %w", err)
	}
	reverted, err := meter.Int64Counter("fa.rollback.items",
		metric.WithDescription("Transactions processed by rollback, by result."))
	if err != nil {
		return nil, fmt.Errorf("creating rollback counter: %w", err)
	}

	teams := make(map[string]string, len(rules.Teams))
	for _, t := range rules.Teams {
		teams[strings.ToLower(strings.TrimSpace(t))] = t
	}

	return &Engine{
		standings:    standings,
		resolver:     resolver,
		players:      repos.Players,
		budgets:      repos.Budgets,
		windows:      repos.Windows,
		transactions: repos.Transactions,
		settlement:   repos.Settlement,
		events:       repos.Events,
		schedule:     schedule,
		guard:        guard,
		refresher:    refresher,
		rules:        rules,
		teams:        teams,
		logger:       logger,
		tracer:       tp.Tracer("github.com/jensholdgaard/discord-fa-bot/internal/settlement"),
		items:        items,
		reverted:     reverted,
	}, nil
}

// NewBatchID returns a fresh batch identifier.
func NewBatchID() string {
	return "batch-" + uuid.NewString()
}

// ManualTrigger is the guard key shared by operator-initiated settlements of
// a window, so concurrent requests from different surfaces collapse into one.
func ManualTrigger(windowID string) string {
	return "manual:" + windowID
}

// CanonicalTeam returns the league's spelling of team.
func (e *Engine) CanonicalTeam(team string) (string, bool) {
	t, ok := e.teams[strings.ToLower(strings.TrimSpace(team))]
	return t, ok
}

// Settle applies the window's winning bids. Players already settled in the
// window are skipped, so a re-run only picks up what is left. Item failures
// are recorded in the report and never abort the batch.
func (e *Engine) Settle(ctx context.Context, req Request) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Settle",
		trace.WithAttributes(
			attribute.String("window_id", req.WindowID),
			attribute.String("trigger", req.Trigger),
		),
	)
	defer span.End()

	w, err := e.schedule.Parse(req.WindowID)
	if err != nil {
		return nil, err
	}
	if req.Trigger == "" {
		req.Trigger = ManualTrigger(req.WindowID)
	}

	if err := e.guard.Acquire(req.Trigger); err != nil {
		return nil, err
	}
	completed := false
	defer func() { e.guard.Release(req.Trigger, completed) }()

	bids, err := e.standings.HighestBids(ctx, req.WindowID)
	if err != nil {
		return nil, fmt.Errorf("loading winning bids: %w", err)
	}
	settled, err := e.transactions.SettledPlayers(ctx, req.WindowID)
	if err != nil {
		return nil, fmt.Errorf("loading settled players: %w", err)
	}

	report := &Report{
		Kind:     KindSettlement,
		BatchID:  NewBatchID(),
		WindowID: req.WindowID,
		Trigger:  req.Trigger,
		Actor:    req.Actor,
	}
	span.SetAttributes(attribute.String("batch_id", report.BatchID))

	e.logger.InfoContext(ctx, "settlement started",
		slog.String("window_id", req.WindowID),
		slog.String("batch_id", report.BatchID),
		slog.String("trigger", req.Trigger),
		slog.Int("bids", len(bids)),
		slog.Int("already_settled", len(settled)),
	)

	for _, bid := range bids {
		if settled[strings.ToLower(bid.PlayerName)] {
			continue
		}
		out := e.settleOne(ctx, report.BatchID, req.Actor, bid)
		report.add(out)
		e.recordOutcome(ctx, report, out)
	}

	if err := e.close(ctx, w); err != nil {
		e.logger.WarnContext(ctx, "failed to close window",
			slog.String("window_id", req.WindowID),
			slog.Any("error", err),
		)
	}

	if report.Succeeded > 0 && e.refresher != nil {
		if err := e.refresher.RefreshCaps(ctx, report); err != nil {
			e.logger.WarnContext(ctx, "cap refresh failed",
				slog.String("batch_id", report.BatchID),
				slog.Any("error", err),
			)
		}
	}

	e.appendEvent(ctx, report.BatchID, event.BatchSettled, event.BatchSettledData{
		WindowID:  req.WindowID,
		Trigger:   req.Trigger,
		Actor:     req.Actor,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
	})

	e.logger.InfoContext(ctx, "settlement finished",
		slog.String("window_id", req.WindowID),
		slog.String("batch_id", report.BatchID),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
	)
	completed = true
	return report, nil
}

// settleOne validates and applies a single winning bid.
func (e *Engine) settleOne(ctx context.Context, batchID, actor string, bid store.Bid) Outcome {
	out := Outcome{
		PlayerName:     bid.PlayerName,
		DropPlayerName: bid.DropName(),
		Team:           bid.Team,
		Amount:         bid.Amount,
	}

	team, ok := e.CanonicalTeam(bid.Team)
	if !ok {
		out.Err = fmt.Errorf("%w: %q", ErrUnknownTeam, bid.Team)
		return out
	}
	out.Team = team

	sign, drop, err := e.resolvePlayers(ctx, team, bid)
	if err != nil {
		out.Err = err
		return out
	}
	out.PlayerName = sign.Name
	if drop != nil {
		out.DropPlayerName = drop.Name
	}

	balance, err := e.balance(ctx, team)
	if err != nil {
		out.Err = err
		return out
	}
	if err := e.checkZeroCoin(balance, *sign); err != nil {
		out.Err = err
		return out
	}
	if e.rules.OverCapTotalOverall > 0 {
		total, err := e.rosterOverall(ctx, team)
		if err != nil {
			out.Err = err
			return out
		}
		if err := e.checkOverCap(team, total, *sign); err != nil {
			out.Err = err
			return out
		}
	}

	signing := store.Signing{
		BatchID:       batchID,
		WindowID:      bid.WindowID,
		Team:          team,
		SignPlayerID:  sign.ID,
		Amount:        bid.Amount,
		OpeningBudget: e.rules.DefaultBudget,
		ProcessedBy:   actor,
	}
	if drop != nil {
		signing.DropPlayerID = drop.ID
	}

	tx, err := e.apply(ctx, signing)
	if err != nil {
		out.Err = err
		return out
	}
	out.TransactionID = tx.ID
	return out
}

// resolvePlayers finds the signed free agent and, when named, the released
// roster player.
func (e *Engine) resolvePlayers(ctx context.Context, team string, bid store.Bid) (*store.Player, *store.Player, error) {
	m, err := e.resolver.Resolve(ctx, bid.PlayerName, resolve.Options{FreeAgentsOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("resolving %s: %w", bid.PlayerName, err)
	}
	if m == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, bid.PlayerName)
	}
	sign := m.Player

	dropName := bid.DropName()
	if dropName == "" {
		return &sign, nil, nil
	}
	d, err := e.resolver.Resolve(ctx, dropName, resolve.Options{Team: team, RosterOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("resolving %s: %w", dropName, err)
	}
	if d == nil {
		return nil, nil, fmt.Errorf("%w: %s on %s", ErrDropNotFound, dropName, team)
	}
	drop := d.Player
	return &sign, &drop, nil
}

func (e *Engine) checkZeroCoin(balance int, p store.Player) error {
	if balance == 0 && p.Overall > e.rules.ZeroCoinMaxOverall {
		return fmt.Errorf("%w: %s is %d OVR, limit %d", ErrZeroCoinCap, p.Name, p.Overall, e.rules.ZeroCoinMaxOverall)
	}
	return nil
}

// checkOverCap applies the over-cap rule to a team whose roster overall sum
// is total.
func (e *Engine) checkOverCap(team string, total int, p store.Player) error {
	if e.rules.OverCapTotalOverall > 0 && total > e.rules.OverCapTotalOverall && p.Overall > e.rules.OverCapMaxOverall {
		return fmt.Errorf("%w: %s is at %d total OVR, %s is %d OVR, limit %d",
			ErrOverCap, team, total, p.Name, p.Overall, e.rules.OverCapMaxOverall)
	}
	return nil
}

func (e *Engine) rosterOverall(ctx context.Context, team string) (int, error) {
	players, err := e.players.ListByTeam(ctx, team)
	if err != nil {
		return 0, fmt.Errorf("loading roster for %s: %w", team, err)
	}
	return sumOverall(players), nil
}

func sumOverall(players []store.Player) int {
	total := 0
	for _, p := range players {
		total += p.Overall
	}
	return total
}

func (e *Engine) balance(ctx context.Context, team string) (int, error) {
	b, err := e.budgets.Get(ctx, team)
	if errors.Is(err, store.ErrNotFound) {
		return e.rules.DefaultBudget, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading budget for %s: %w", team, err)
	}
	return b.CoinsRemaining, nil
}

// apply writes the signing, retrying store errors that are not domain
// rejections.
func (e *Engine) apply(ctx context.Context, s store.Signing) (*store.Transaction, error) {
	var tx *store.Transaction
	op := func() error {
		t, err := e.settlement.ApplySigning(ctx, s)
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			e.logger.WarnContext(ctx, "signing failed, retrying",
				slog.String("team", s.Team),
				slog.String("player_id", s.SignPlayerID),
				slog.Any("error", err),
			)
			return err
		}
		tx = t
		return nil
	}
	if err := backoff.Retry(op, e.newBackOff(ctx)); err != nil {
		return nil, err
	}
	return tx, nil
}

func (e *Engine) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if e.rules.RetryInterval > 0 {
		exp.InitialInterval = e.rules.RetryInterval
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, e.rules.Retries), ctx)
}

// permanent reports whether retrying err cannot help.
func permanent(err error) bool {
	for _, target := range []error{
		store.ErrNotFound,
		store.ErrNotFreeAgent,
		store.ErrNotOnRoster,
		store.ErrInsufficientCoins,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// close records the window as closed, creating its row if the scheduler
// never saw it open.
func (e *Engine) close(ctx context.Context, w window.Window) error {
	err := e.windows.Ensure(ctx, &store.BidWindow{
		WindowID:  w.ID,
		StartTime: w.Start,
		EndTime:   w.End,
		Status:    string(window.Locked),
	})
	if err != nil {
		return err
	}
	return e.windows.Advance(ctx, w.ID, string(window.Closed))
}

func (e *Engine) recordOutcome(ctx context.Context, report *Report, out Outcome) {
	result := "succeeded"
	typ := event.SigningApplied
	data := event.SigningData{
		BatchID:       report.BatchID,
		WindowID:      report.WindowID,
		Team:          out.Team,
		SignPlayer:    out.PlayerName,
		DropPlayer:    out.DropPlayerName,
		Amount:        out.Amount,
		TransactionID: out.TransactionID,
	}
	if !out.OK() {
		result = "failed"
		typ = event.SigningFailed
		data.Error = out.Err.Error()
		e.logger.WarnContext(ctx, "settlement item failed",
			slog.String("batch_id", report.BatchID),
			slog.String("player", out.PlayerName),
			slog.String("team", out.Team),
			slog.Any("error", out.Err),
		)
	} else {
		e.logger.InfoContext(ctx, "signing applied",
			slog.String("batch_id", report.BatchID),
			slog.String("player", out.PlayerName),
			slog.String("team", out.Team),
			slog.Int("amount", out.Amount),
		)
	}

	e.items.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	e.appendEvent(ctx, report.BatchID, typ, data)
}

func (e *Engine) appendEvent(ctx context.Context, aggregateID string, t event.Type, data any) {
	evt, err := event.New(aggregateID, t, data)
	if err == nil {
		err = e.events.Append(ctx, evt)
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to append event",
			slog.String("type", string(t)),
			slog.Any("error", err),
		)
	}
}
