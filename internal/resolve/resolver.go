// Package resolve maps free-text player names onto roster entries through an
// ordered cascade of matching strategies.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// ErrNoTeam is returned for roster-only lookups without a team.
var ErrNoTeam = errors.New("roster lookup requires a team")

// Options narrows a lookup.
type Options struct {
	// Team biases matching towards this roster.
	Team string
	// FreeAgentsOnly restricts the pool to unsigned players.
	FreeAgentsOnly bool
	// RosterOnly restricts the pool to Team's roster.
	RosterOnly bool
}

// Match is a resolved player.
type Match struct {
	Player   store.Player
	Strategy string
	Score    int
}

// Resolver resolves player names against the current roster.
type Resolver struct {
	players store.PlayerRepository
	aliases store.AliasRepository
	cascade []Strategy
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New returns a Resolver using the default cascade.
func New(players store.PlayerRepository, aliases store.AliasRepository, logger *slog.Logger, tp trace.TracerProvider) *Resolver {
	return &Resolver{
		players: players,
		aliases: aliases,
		cascade: Cascade(),
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/discord-fa-bot/internal/resolve"),
	}
}

// Resolve returns the player best matching name, or nil when no strategy is
// confident enough. A nil match is not an error.
func (r *Resolver) Resolve(ctx context.Context, name string, opts Options) (*Match, error) {
	ctx, span := r.tracer.Start(ctx, "Resolver.Resolve",
		trace.WithAttributes(
			attribute.String("query", name),
			attribute.String("team", opts.Team),
			attribute.Bool("free_agents_only", opts.FreeAgentsOnly),
		),
	)
	defer span.End()

	if opts.RosterOnly && opts.Team == "" {
		return nil, ErrNoTeam
	}

	pool, err := r.pool(ctx, opts)
	if err != nil {
		return nil, err
	}

	q := newQuery(name, opts.Team)
	if q.Text == "" {
		return nil, nil
	}

	aliases, err := r.aliases.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aliases: %w", err)
	}
	for _, a := range aliases {
		if Normalize(a.Alias) == q.Text {
			r.logger.DebugContext(ctx, "alias expanded",
				slog.String("query", name),
				slog.String("canonical", a.CanonicalName),
			)
			q = newQuery(a.CanonicalName, opts.Team)
			break
		}
	}

	for _, s := range r.cascade {
		p, score, ok := s.Attempt(q, pool)
		if !ok || score < s.Threshold() {
			continue
		}
		span.SetAttributes(
			attribute.String("strategy", s.Name()),
			attribute.Int("score", score),
		)
		r.logger.DebugContext(ctx, "player resolved",
			slog.String("query", name),
			slog.String("player", p.Name),
			slog.String("strategy", s.Name()),
			slog.Int("score", score),
		)
		return &Match{Player: p, Strategy: s.Name(), Score: score}, nil
	}

	r.logger.InfoContext(ctx, "no player match",
		slog.String("query", name),
		slog.Int("pool", len(pool)),
	)
	return nil, nil
}

func (r *Resolver) pool(ctx context.Context, opts Options) ([]Candidate, error) {
	players, err := r.players.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading players: %w", err)
	}

	pool := make([]Candidate, 0, len(players))
	for _, p := range players {
		if opts.FreeAgentsOnly && !p.IsFreeAgent() {
			continue
		}
		if opts.RosterOnly && !strings.EqualFold(p.TeamName(), opts.Team) {
			continue
		}
		pool = append(pool, newCandidate(p))
	}
	return pool, nil
}
