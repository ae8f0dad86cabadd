package bot_test

import (
	"io"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/discord-fa-bot/internal/bot"
	"github.com/jensholdgaard/discord-fa-bot/internal/config"
	"github.com/jensholdgaard/discord-fa-bot/internal/freeagency"
	"github.com/jensholdgaard/discord-fa-bot/internal/notify"
)

var (
	_ notify.Sender      = (*bot.Bot)(nil)
	_ bot.MessageHandler = (*freeagency.Service)(nil)
)

func TestNew(t *testing.T) {
	b, err := bot.New(config.DiscordConfig{Token: "test-token"}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		noop.NewTracerProvider())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b == nil {
		t.Fatal("New() returned nil bot")
	}
}
