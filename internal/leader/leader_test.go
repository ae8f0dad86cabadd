package leader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/jensholdgaard/discord-fa-bot/internal/config"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewElector_Identity(t *testing.T) {
	host, err := os.Hostname()
	if err != nil {
		t.Skip("cannot get hostname")
	}

	tests := []struct {
		name    string
		podName string
		opts    []Option
		want    string
	}{
		{name: "pod name", podName: "fabot-abc123", want: "fabot-abc123"},
		{name: "hostname fallback", podName: "", want: host},
		{name: "explicit identity wins", podName: "fabot-abc123", opts: []Option{WithIdentity("replica-2")}, want: "replica-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("POD_NAME", tt.podName)
			e := NewElector(config.LeaderElectionConfig{}, discard(), tt.opts...)
			if got := e.Identity(); got != tt.want {
				t.Errorf("Identity() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCampaign_ClientError(t *testing.T) {
	orig := ClientFactory
	ClientFactory = func() (kubernetes.Interface, error) {
		return nil, errors.New("not in cluster")
	}
	t.Cleanup(func() { ClientFactory = orig })

	e := NewElector(config.LeaderElectionConfig{Enabled: true}, discard())
	err := e.RunExclusive(context.Background(), func(context.Context) error {
		t.Error("fn called without a client")
		return nil
	})
	if err == nil {
		t.Fatal("RunExclusive() expected error")
	}
}

func TestCampaign_InvalidTimings(t *testing.T) {
	cfg := config.LeaderElectionConfig{
		Enabled:        true,
		LeaseName:      "fabot-leader",
		LeaseNamespace: "default",
		LeaseDuration:  time.Second,
		RenewDeadline:  2 * time.Second,
		RetryPeriod:    time.Second,
	}
	// The client is never dialed; validation fails first.
	client, err := kubernetes.NewForConfig(&rest.Config{Host: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	e := NewElector(cfg, discard(), WithClient(client))
	if err := e.Campaign(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Fatal("Campaign() with renew deadline above lease duration expected error")
	}
}

func TestRunExclusive_Disabled(t *testing.T) {
	want := errors.New("scheduler stopped")
	calls := 0
	e := NewElector(config.LeaderElectionConfig{}, discard())
	err := e.RunExclusive(context.Background(), func(context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("RunExclusive() error = %v, want %v", err, want)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if e.IsLeader() {
		t.Error("IsLeader() = true with election disabled")
	}
}
