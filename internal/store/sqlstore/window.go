package sqlstore

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// statusRank orders window statuses so they only ever move forward.
const statusRank = `CASE status WHEN 'active' THEN 0 WHEN 'locked' THEN 1 ELSE 2 END`

func rankOf(status string) (int, error) {
	switch status {
	case "active":
		return 0, nil
	case "locked":
		return 1, nil
	case "closed":
		return 2, nil
	}
	return 0, fmt.Errorf("unknown window status %q", status)
}

// WindowRepo implements store.WindowRepository.
type WindowRepo struct {
	*conn
}

func (r *WindowRepo) Ensure(ctx context.Context, w *store.BidWindow) error {
	if w.Status == "" {
		w.Status = "active"
	}
	if _, err := rankOf(w.Status); err != nil {
		return err
	}
	w.UpdatedAt = r.now()
	_, err := r.db.ExecContext(ctx, r.q(
		`INSERT INTO bid_windows (window_id, start_time, end_time, status, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (window_id) DO NOTHING`),
		w.WindowID, w.StartTime.UTC(), w.EndTime.UTC(), w.Status, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ensuring window %s: %w", w.WindowID, err)
	}
	return nil
}

func (r *WindowRepo) Get(ctx context.Context, windowID string) (*store.BidWindow, error) {
	var w store.BidWindow
	if err := r.db.GetContext(ctx, &w, r.q(`SELECT * FROM bid_windows WHERE window_id = ?`), windowID); err != nil {
		return nil, notFound(err, "getting window "+windowID)
	}
	return &w, nil
}

func (r *WindowRepo) Advance(ctx context.Context, windowID, status string) error {
	rank, err := rankOf(status)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, r.q(
		`UPDATE bid_windows SET status = ?, updated_at = ?
		 WHERE window_id = ? AND `+statusRank+` < ?`),
		status, r.now(), windowID, rank,
	)
	if err != nil {
		return fmt.Errorf("advancing window %s to %s: %w", windowID, status, err)
	}
	if affected(res) == 0 {
		// Either unknown or already at or past status.
		if _, err := r.Get(ctx, windowID); err != nil {
			return err
		}
	}
	return nil
}

func (r *WindowRepo) ListUnsettled(ctx context.Context) ([]store.BidWindow, error) {
	var windows []store.BidWindow
	err := r.db.SelectContext(ctx, &windows,
		`SELECT * FROM bid_windows WHERE status <> 'closed' ORDER BY start_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing unsettled windows: %w", err)
	}
	return windows, nil
}
