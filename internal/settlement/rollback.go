package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-fa-bot/internal/event"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// Rollback reverts every live transaction of the batch. Each item is
// reverted on its own; a failing item does not stop the rest. Running it
// again after success returns an empty report.
func (e *Engine) Rollback(ctx context.Context, batchID, actor string) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Rollback",
		trace.WithAttributes(attribute.String("batch_id", batchID)),
	)
	defer span.End()

	key := "rollback:" + batchID
	if err := e.guard.Acquire(key); err != nil {
		return nil, err
	}
	defer e.guard.Release(key, false)

	txs, err := e.transactions.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("loading batch %s: %w", batchID, err)
	}

	report := &Report{Kind: KindRollback, BatchID: batchID, Actor: actor}
	for _, t := range txs {
		if report.WindowID == "" {
			report.WindowID = t.WindowID
		}
		out := Outcome{
			PlayerName:    t.SignPlayerName,
			Team:          t.Team,
			Amount:        t.BidAmount,
			TransactionID: t.ID,
		}
		if t.DropPlayerName != nil {
			out.DropPlayerName = *t.DropPlayerName
		}

		reverted, err := e.settlement.RevertTransaction(ctx, t.ID, actor)
		switch {
		case errors.Is(err, store.ErrAlreadyRolledBack):
			// Reverted concurrently since the batch was listed.
			continue
		case err != nil:
			out.Err = err
			e.logger.WarnContext(ctx, "rollback item failed",
				slog.String("batch_id", batchID),
				slog.String("transaction_id", t.ID),
				slog.Any("error", err),
			)
		default:
			previous := ""
			if reverted.PreviousTeam != nil {
				previous = *reverted.PreviousTeam
			}
			e.appendEvent(ctx, batchID, event.TransactionRolledBack, event.RolledBackData{
				TransactionID: t.ID,
				Team:          t.Team,
				SignPlayer:    t.SignPlayerName,
				PreviousTeam:  previous,
				Refund:        t.BidAmount,
				Actor:         actor,
			})
		}

		result := "succeeded"
		if !out.OK() {
			result = "failed"
		}
		e.reverted.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
		report.add(out)
	}

	e.logger.InfoContext(ctx, "batch rolled back",
		slog.String("batch_id", batchID),
		slog.String("actor", actor),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}
