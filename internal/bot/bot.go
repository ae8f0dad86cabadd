package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-fa-bot/internal/bot/commands"
	"github.com/jensholdgaard/discord-fa-bot/internal/config"
	"github.com/jensholdgaard/discord-fa-bot/internal/freeagency"
)

// MessageHandler processes bid messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, m freeagency.Message) (freeagency.Reply, error)
}

// Bot wraps the Discord session and command handlers. It also delivers the
// engine's outbound messages.
type Bot struct {
	session  *discordgo.Session
	cfg      config.DiscordConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	messages MessageHandler
	handlers *commands.Handlers
	cmds     []*discordgo.ApplicationCommand
}

// New creates a new Bot instance. The session is not opened until Start.
func New(cfg config.DiscordConfig, logger *slog.Logger, tp trace.TracerProvider) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	return &Bot{
		session: session,
		cfg:     cfg,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/discord-fa-bot/internal/bot"),
	}, nil
}

// Start opens the Discord connection, routes channel messages to messages
// and registers slash commands.
func (b *Bot) Start(ctx context.Context, messages MessageHandler, handlers *commands.Handlers) error {
	b.messages = messages
	b.handlers = handlers

	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.InfoContext(ctx, "bot is ready", slog.String("user", s.State.User.Username))
	})
	b.session.AddHandler(b.handlers.InteractionCreate)
	b.session.AddHandler(b.messageCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	// Register slash commands.
	appCmds := commands.SlashCommands()
	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.cfg.GuildID, appCmds)
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	b.cmds = registered

	b.logger.InfoContext(ctx, "slash commands registered", slog.Int("count", len(registered)))
	return nil
}

// Stop gracefully closes the Discord connection.
func (b *Bot) Stop() error {
	return b.session.Close()
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	ctx, span := b.tracer.Start(context.Background(), "Bot.messageCreate",
		trace.WithAttributes(
			attribute.String("channel_id", m.ChannelID),
			attribute.String("message_id", m.ID),
		),
	)
	defer span.End()

	name := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}

	reply, err := b.messages.HandleMessage(ctx, freeagency.Message{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: name,
		Content:    m.Content,
	})
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to handle bid message",
			slog.String("message_id", m.ID),
			slog.Any("error", err),
		)
	}
	if !reply.Handled {
		return
	}

	if reply.Accepted {
		if err := s.MessageReactionAdd(m.ChannelID, m.ID, reply.Text, discordgo.WithContext(ctx)); err != nil {
			b.logger.WarnContext(ctx, "failed to react to bid", slog.String("message_id", m.ID), slog.Any("error", err))
		}
		return
	}
	if _, err := s.ChannelMessageSendReply(m.ChannelID, reply.Text, m.Reference(), discordgo.WithContext(ctx)); err != nil {
		b.logger.WarnContext(ctx, "failed to reply to bid", slog.String("message_id", m.ID), slog.Any("error", err))
	}
}

// SendDM sends a direct message to a user.
func (b *Bot) SendDM(ctx context.Context, userID, content string) error {
	ch, err := b.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("opening dm channel: %w", err)
	}
	if _, err := b.session.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending dm: %w", err)
	}
	return nil
}

// Post sends a message to a channel and returns its ID.
func (b *Bot) Post(ctx context.Context, channelID, content string) (string, error) {
	msg, err := b.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("posting message: %w", err)
	}
	return msg.ID, nil
}

// Delete removes a message from a channel.
func (b *Bot) Delete(ctx context.Context, channelID, messageID string) error {
	if err := b.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}
