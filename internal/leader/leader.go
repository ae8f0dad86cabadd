// Package leader provides Kubernetes Lease-based leader election so that only
// one replica runs the window scheduler. Bids and slash commands are served
// by every replica.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/jensholdgaard/discord-fa-bot/internal/config"
)

// ClientFactory creates a Kubernetes clientset when no client is supplied
// with WithClient.
var ClientFactory = func() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

// Elector campaigns for a single Lease on behalf of this replica.
type Elector struct {
	cfg      config.LeaderElectionConfig
	logger   *slog.Logger
	identity string
	client   kubernetes.Interface
	leading  atomic.Bool
	terms    atomic.Int64
}

// Option configures an Elector.
type Option func(*Elector)

// WithIdentity overrides the holder identity written to the Lease.
func WithIdentity(id string) Option {
	return func(e *Elector) { e.identity = id }
}

// WithClient sets the clientset used for the Lease instead of ClientFactory.
func WithClient(c kubernetes.Interface) Option {
	return func(e *Elector) { e.client = c }
}

// NewElector returns an Elector. Its identity defaults to POD_NAME, then the
// hostname.
func NewElector(cfg config.LeaderElectionConfig, logger *slog.Logger, opts ...Option) *Elector {
	e := &Elector{cfg: cfg, logger: logger, identity: podIdentity()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func podIdentity() string {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// Identity returns the holder identity this Elector campaigns with.
func (e *Elector) Identity() string { return e.identity }

// IsLeader reports whether this replica currently holds the Lease.
func (e *Elector) IsLeader() bool { return e.leading.Load() }

// Terms returns how many times this replica has acquired the Lease.
func (e *Elector) Terms() int64 { return e.terms.Load() }

// Campaign waits for the Lease and runs fn for one term. It returns when ctx
// is done or the Lease is lost; fn's context is canceled in both cases.
func (e *Elector) Campaign(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.client == nil {
		client, err := ClientFactory()
		if err != nil {
			return fmt.Errorf("leader election client: %w", err)
		}
		e.client = client
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      e.cfg.LeaseName,
			Namespace: e.cfg.LeaseNamespace,
		},
		Client:     e.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: e.identity},
	}

	le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		Name:            e.cfg.LeaseName,
		LeaseDuration:   e.cfg.LeaseDuration,
		RenewDeadline:   e.cfg.RenewDeadline,
		RetryPeriod:     e.cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				e.leading.Store(true)
				e.terms.Add(1)
				e.logger.InfoContext(ctx, "acquired leadership", slog.String("identity", e.identity))
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					e.logger.ErrorContext(ctx, "leader task failed", slog.Any("error", err))
				}
			},
			OnStoppedLeading: func() {
				e.leading.Store(false)
				e.logger.Info("lost leadership", slog.String("identity", e.identity))
			},
			OnNewLeader: func(id string) {
				if id == e.identity {
					return
				}
				e.logger.Info("new leader elected", slog.String("leader", id))
			},
		},
	})
	if err != nil {
		return fmt.Errorf("configuring leader election: %w", err)
	}

	e.logger.InfoContext(ctx, "starting leader election",
		slog.String("identity", e.identity),
		slog.String("lease", e.cfg.LeaseName),
		slog.String("namespace", e.cfg.LeaseNamespace),
	)
	le.Run(ctx)
	return nil
}

// RunExclusive campaigns again after every lost term so fn runs on at most
// one replica at a time, until ctx is done. With election disabled fn simply
// runs once under ctx.
func (e *Elector) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if !e.cfg.Enabled {
		return fn(ctx)
	}
	for ctx.Err() == nil {
		if err := e.Campaign(ctx, fn); err != nil {
			return err
		}
	}
	return nil
}
