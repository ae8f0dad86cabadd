package leader_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/k3s"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/jensholdgaard/discord-fa-bot/internal/config"
	"github.com/jensholdgaard/discord-fa-bot/internal/leader"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(30 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-tick.C:
		}
	}
}

// TestFailover_K3s runs two replicas against a real Lease. Only one runs the
// exclusive task at a time, and the second takes over once the first stops.
func TestFailover_K3s(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping k3s integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	ctr, err := k3s.Run(ctx, "rancher/k3s:v1.31.6-k3s1")
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting k3s container: %v", err)
	}
	kubeConfig, err := ctr.GetKubeConfig(ctx)
	if err != nil {
		t.Fatalf("getting kubeconfig: %v", err)
	}
	restCfg, err := clientcmd.RESTConfigFromKubeConfig(kubeConfig)
	if err != nil {
		t.Fatalf("building rest config: %v", err)
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		t.Fatalf("creating kubernetes client: %v", err)
	}

	cfg := config.LeaderElectionConfig{
		Enabled:        true,
		LeaseName:      "fabot-failover",
		LeaseNamespace: "default",
		LeaseDuration:  5 * time.Second,
		RenewDeadline:  3 * time.Second,
		RetryPeriod:    time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var running, overlap atomic.Int32
	task := func(ctx context.Context) error {
		if running.Add(1) > 1 {
			overlap.Add(1)
		}
		defer running.Add(-1)
		<-ctx.Done()
		return nil
	}

	first := leader.NewElector(cfg, logger, leader.WithClient(client), leader.WithIdentity("replica-a"))
	second := leader.NewElector(cfg, logger, leader.WithClient(client), leader.WithIdentity("replica-b"))

	firstCtx, stopFirst := context.WithCancel(ctx)
	defer stopFirst()
	firstDone := make(chan error, 1)
	go func() { firstDone <- first.RunExclusive(firstCtx, task) }()
	waitFor(t, "replica-a to lead", first.IsLeader)

	secondCtx, stopSecond := context.WithCancel(ctx)
	defer stopSecond()
	secondDone := make(chan error, 1)
	go func() { secondDone <- second.RunExclusive(secondCtx, task) }()

	// Give replica-b a few retry periods to (wrongly) acquire the Lease.
	time.Sleep(3 * cfg.RetryPeriod)
	if second.IsLeader() {
		t.Fatal("replica-b acquired the Lease while replica-a held it")
	}

	stopFirst()
	select {
	case err := <-firstDone:
		if err != nil {
			t.Fatalf("replica-a RunExclusive() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for replica-a to stop")
	}
	waitFor(t, "replica-b to take over", second.IsLeader)

	stopSecond()
	select {
	case err := <-secondDone:
		if err != nil {
			t.Fatalf("replica-b RunExclusive() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for replica-b to stop")
	}

	if n := overlap.Load(); n != 0 {
		t.Errorf("exclusive task overlapped %d times", n)
	}
	if got := first.Terms() + second.Terms(); got != 2 {
		t.Errorf("total terms = %d, want 2", got)
	}
}
