// Package api serves the operator HTTP API: manual settlement, rollback,
// preview and window status, plus the health probes.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/health"
	"github.com/jensholdgaard/discord-fa-bot/internal/settlement"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
	"github.com/jensholdgaard/discord-fa-bot/internal/window"
)

// IdempotencyHeader lets clients retry a settle request without running it
// twice.
const IdempotencyHeader = "Idempotency-Key"

// Operator runs settlement actions.
type Operator interface {
	Settle(ctx context.Context, req settlement.Request) (*settlement.Report, error)
	Rollback(ctx context.Context, batchID, actor string) (*settlement.Report, error)
	Preview(ctx context.Context, windowID string) (*settlement.Preview, error)
}

// Server is the operator API.
type Server struct {
	ops      Operator
	schedule *window.Schedule
	windows  store.WindowRepository
	clock    clock.Clock
	token    string
	health   *health.Handler
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New returns a Server. The admin routes are only mounted when token is set.
func New(ops Operator, schedule *window.Schedule, windows store.WindowRepository, clk clock.Clock, token string, h *health.Handler, logger *slog.Logger, tp trace.TracerProvider) *Server {
	return &Server{
		ops:      ops,
		schedule: schedule,
		windows:  windows,
		clock:    clk,
		token:    token,
		health:   h,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/discord-fa-bot/internal/api"),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	s.health.Mount(r)

	if s.token == "" {
		return r
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authorize)
		r.Get("/windows/current", s.currentWindow)
		r.Post("/windows/{windowID}/settle", s.settle)
		r.Get("/windows/{windowID}/preview", s.preview)
		r.Post("/batches/{batchID}/rollback", s.rollback)
	})
	return r
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actor names the operator behind a request.
func actor(r *http.Request) string {
	return "api:" + middleware.GetReqID(r.Context())
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request) {
	windowID := chi.URLParam(r, "windowID")
	ctx, span := s.tracer.Start(r.Context(), "Server.settle",
		trace.WithAttributes(attribute.String("window_id", windowID)),
	)
	defer span.End()

	trigger := settlement.ManualTrigger(windowID)
	if key := r.Header.Get(IdempotencyHeader); key != "" {
		trigger = "http:" + key
	}

	report, err := s.ops.Settle(ctx, settlement.Request{WindowID: windowID, Trigger: trigger, Actor: actor(r)})
	if err != nil {
		s.fail(w, r, "settlement failed", err)
		return
	}
	render.JSON(w, r, newReportResponse(report))
}

func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	ctx, span := s.tracer.Start(r.Context(), "Server.rollback",
		trace.WithAttributes(attribute.String("batch_id", batchID)),
	)
	defer span.End()

	report, err := s.ops.Rollback(ctx, batchID, actor(r))
	if err != nil {
		s.fail(w, r, "rollback failed", err)
		return
	}
	render.JSON(w, r, newReportResponse(report))
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	windowID := chi.URLParam(r, "windowID")
	ctx, span := s.tracer.Start(r.Context(), "Server.preview",
		trace.WithAttributes(attribute.String("window_id", windowID)),
	)
	defer span.End()

	p, err := s.ops.Preview(ctx, windowID)
	if err != nil {
		s.fail(w, r, "preview failed", err)
		return
	}
	render.JSON(w, r, newPreviewResponse(p))
}

func (s *Server) currentWindow(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	cur := s.schedule.At(now)

	resp := windowResponse{
		WindowID: cur.ID,
		Start:    cur.Start,
		End:      cur.End,
		LockAt:   cur.LockAt,
		Status:   string(cur.StatusAt(now)),
	}
	row, err := s.windows.Get(r.Context(), cur.ID)
	switch {
	case err == nil:
		resp.Recorded = row.Status
	case !errors.Is(err, store.ErrNotFound):
		s.fail(w, r, "loading window failed", err)
		return
	}
	render.JSON(w, r, resp)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, window.ErrInvalidID):
		code = http.StatusBadRequest
	case errors.Is(err, settlement.ErrInProgress), errors.Is(err, settlement.ErrRecentlyRun):
		code = http.StatusConflict
	default:
		s.logger.ErrorContext(r.Context(), msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	render.Status(r, code)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

type errorResponse struct {
	Error string `json:"error"`
}

type windowResponse struct {
	WindowID string    `json:"window_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	LockAt   time.Time `json:"lock_at"`
	Status   string    `json:"status"`
	// Recorded is the persisted status, empty before the window opened.
	Recorded string `json:"recorded_status,omitempty"`
}

type outcomeResponse struct {
	Player        string `json:"player"`
	Drop          string `json:"drop,omitempty"`
	Team          string `json:"team"`
	Amount        int    `json:"amount"`
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

type reportResponse struct {
	Kind      string            `json:"kind"`
	BatchID   string            `json:"batch_id"`
	WindowID  string            `json:"window_id,omitempty"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Items     []outcomeResponse `json:"items"`
	Summary   string            `json:"summary"`
}

func newReportResponse(rep *settlement.Report) reportResponse {
	resp := reportResponse{
		Kind:      string(rep.Kind),
		BatchID:   rep.BatchID,
		WindowID:  rep.WindowID,
		Succeeded: rep.Succeeded,
		Failed:    rep.Failed,
		Items:     make([]outcomeResponse, 0, len(rep.Outcomes)),
		Summary:   rep.Summary(),
	}
	for _, o := range rep.Outcomes {
		item := outcomeResponse{
			Player:        o.PlayerName,
			Drop:          o.DropPlayerName,
			Team:          o.Team,
			Amount:        o.Amount,
			TransactionID: o.TransactionID,
		}
		if o.Err != nil {
			item.Error = o.Err.Error()
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}

type previewResponse struct {
	WindowID  string                   `json:"window_id"`
	Valid     bool                     `json:"valid"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Teams     []settlement.TeamPreview `json:"teams"`
	Problems  []string                 `json:"problems,omitempty"`
}

func newPreviewResponse(p *settlement.Preview) previewResponse {
	ok, failed := p.Counts()
	teams := p.Teams
	if teams == nil {
		teams = []settlement.TeamPreview{}
	}
	return previewResponse{
		WindowID:  p.WindowID,
		Valid:     p.Valid(),
		Succeeded: ok,
		Failed:    failed,
		Teams:     teams,
		Problems:  p.Problems,
	}
}
