package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/settlement"
	"github.com/jensholdgaard/discord-fa-bot/internal/window"
)

// Command names.
const (
	CmdSettle   = "fa-settle"
	CmdRollback = "fa-rollback"
	CmdPreview  = "fa-preview"
	CmdStatus   = "fa-status"
)

// maxMessage is Discord's message length limit.
const maxMessage = 2000

// Operator runs settlement actions.
type Operator interface {
	Settle(ctx context.Context, req settlement.Request) (*settlement.Report, error)
	Rollback(ctx context.Context, batchID, actor string) (*settlement.Report, error)
	Preview(ctx context.Context, windowID string) (*settlement.Preview, error)
}

// StatusPublisher reposts the bid standings.
type StatusPublisher interface {
	Publish(ctx context.Context, windowID string) error
}

// Invocation is a slash command stripped of its Discord envelope.
type Invocation struct {
	Name    string
	Options map[string]string
	UserID  string
	Admin   bool
}

// Handlers process Discord interactions.
type Handlers struct {
	ops         Operator
	publisher   StatusPublisher
	schedule    *window.Schedule
	clock       clock.Clock
	adminRoleID string
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(ops Operator, publisher StatusPublisher, schedule *window.Schedule, clk clock.Clock, adminRoleID string, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		ops:         ops,
		publisher:   publisher,
		schedule:    schedule,
		clock:       clk,
		adminRoleID: adminRoleID,
		logger:      logger,
		tracer:      tp.Tracer("github.com/jensholdgaard/discord-fa-bot/internal/bot/commands"),
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	windowOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "window",
		Description: "Window ID such as 2025-11-14-PM (default: current window)",
		Required:    false,
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        CmdSettle,
			Description: "Settle a bidding window (admin only)",
			Options:     []*discordgo.ApplicationCommandOption{windowOpt},
		},
		{
			Name:        CmdRollback,
			Description: "Roll back a settlement batch (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "batch",
					Description: "Batch ID from the settlement report",
					Required:    true,
				},
			},
		},
		{
			Name:        CmdPreview,
			Description: "Dry-run a window's settlement (admin only)",
			Options:     []*discordgo.ApplicationCommandOption{windowOpt},
		},
		{
			Name:        CmdStatus,
			Description: "Repost the current bid standings",
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	inv := Invocation{Name: data.Name, Options: make(map[string]string)}
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			inv.Options[opt.Name] = opt.StringValue()
		}
	}
	if i.Member != nil {
		inv.Admin = IsAdmin(i.Member, h.adminRoleID)
		if i.Member.User != nil {
			inv.UserID = i.Member.User.ID
		}
	}

	// Settlement can outlast the three second interaction deadline.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		h.logger.Error("failed to defer interaction", slog.String("command", inv.Name), slog.Any("error", err))
		return
	}

	msg := h.Run(context.Background(), inv)
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &msg}); err != nil {
		h.logger.Error("failed to answer interaction", slog.String("command", inv.Name), slog.Any("error", err))
	}
}

// Run executes a command and returns the reply.
func (h *Handlers) Run(ctx context.Context, inv Invocation) string {
	ctx, span := h.tracer.Start(ctx, "Handlers.Run",
		trace.WithAttributes(
			attribute.String("command", inv.Name),
			attribute.String("user_id", inv.UserID),
		),
	)
	defer span.End()

	var msg string
	switch inv.Name {
	case CmdStatus:
		msg = h.handleStatus(ctx)
	case CmdSettle, CmdRollback, CmdPreview:
		if !inv.Admin {
			return "❌ This command is restricted to admins."
		}
		switch inv.Name {
		case CmdSettle:
			msg = h.handleSettle(ctx, inv)
		case CmdRollback:
			msg = h.handleRollback(ctx, inv)
		default:
			msg = h.handlePreview(ctx, inv)
		}
	default:
		return "Unknown command"
	}
	return truncate(msg)
}

func (h *Handlers) windowID(inv Invocation) string {
	if id := inv.Options["window"]; id != "" {
		return id
	}
	return h.schedule.At(h.clock.Now()).ID
}

func (h *Handlers) handleSettle(ctx context.Context, inv Invocation) string {
	windowID := h.windowID(inv)
	report, err := h.ops.Settle(ctx, settlement.Request{
		WindowID: windowID,
		Trigger:  settlement.ManualTrigger(windowID),
		Actor:    inv.UserID,
	})
	switch {
	case errors.Is(err, settlement.ErrInProgress):
		return fmt.Sprintf("⏳ Settlement of %s is already running.", windowID)
	case errors.Is(err, settlement.ErrRecentlyRun):
		return fmt.Sprintf("⏳ Settlement of %s just ran. Try again in a few minutes.", windowID)
	case errors.Is(err, window.ErrInvalidID):
		return fmt.Sprintf("❌ %q is not a window ID. Use the form 2025-11-14-PM.", windowID)
	case err != nil:
		h.logger.ErrorContext(ctx, "manual settlement failed", slog.String("window_id", windowID), slog.Any("error", err))
		return fmt.Sprintf("❌ Failed to settle %s: %s", windowID, err)
	}
	return report.Summary()
}

func (h *Handlers) handleRollback(ctx context.Context, inv Invocation) string {
	batchID := inv.Options["batch"]
	if batchID == "" {
		return "❌ A batch ID is required."
	}
	report, err := h.ops.Rollback(ctx, batchID, inv.UserID)
	if err != nil {
		h.logger.ErrorContext(ctx, "rollback failed", slog.String("batch_id", batchID), slog.Any("error", err))
		return fmt.Sprintf("❌ Failed to roll back %s: %s", batchID, err)
	}
	return report.Summary()
}

func (h *Handlers) handlePreview(ctx context.Context, inv Invocation) string {
	windowID := h.windowID(inv)
	p, err := h.ops.Preview(ctx, windowID)
	if errors.Is(err, window.ErrInvalidID) {
		return fmt.Sprintf("❌ %q is not a window ID. Use the form 2025-11-14-PM.", windowID)
	}
	if err != nil {
		return fmt.Sprintf("❌ Failed to preview %s: %s", windowID, err)
	}
	return p.Summary()
}

func (h *Handlers) handleStatus(ctx context.Context) string {
	windowID := h.schedule.At(h.clock.Now()).ID
	if err := h.publisher.Publish(ctx, windowID); err != nil {
		return fmt.Sprintf("❌ Failed to post status: %s", err)
	}
	return fmt.Sprintf("📊 Status for %s posted.", windowID)
}

// IsAdmin reports whether member holds roleID or the Administrator
// permission.
func IsAdmin(member *discordgo.Member, roleID string) bool {
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	if roleID == "" {
		return false
	}
	for _, r := range member.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

func truncate(msg string) string {
	r := []rune(msg)
	if len(r) <= maxMessage {
		return msg
	}
	return string(r[:maxMessage-1]) + "…"
}
